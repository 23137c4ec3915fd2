package reservations

import (
	"time"

	"github.com/google/uuid"
)

// Status of a reservation. Only active reservations can change.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// Reservation records that a reader wants some copy of a book. It never holds an instance.
type Reservation struct {
	ID              uuid.UUID `json:"id" db:"id"`
	BookID          uuid.UUID `json:"book_id" db:"book_id"`
	ReaderID        uuid.UUID `json:"reader_id" db:"reader_id"`
	ReservationDate time.Time `json:"reservation_date" db:"reservation_date"`
	Status          Status    `json:"status" db:"status"`
}

const (
	AggregateReservation = "reservation"

	EventReservationPlaced    = "ReservationPlaced"
	EventReservationCompleted = "ReservationCompleted"
	EventReservationCanceled  = "ReservationCanceled"
)

// ReservationEvent is the journal payload of every reservation transition.
type ReservationEvent struct {
	BookID   uuid.UUID `json:"book_id"`
	ReaderID uuid.UUID `json:"reader_id"`
	Status   Status    `json:"status"`
}
