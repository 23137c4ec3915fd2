package reservations

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the reservation ledger.
type Service interface {
	Place(ctx context.Context, bookID, readerID uuid.UUID) (*Reservation, error)
	Complete(ctx context.Context, id uuid.UUID) (*Reservation, error)
	Cancel(ctx context.Context, id uuid.UUID) (*Reservation, error)
	Get(ctx context.Context, id uuid.UUID) (*Reservation, error)
	ListForBook(ctx context.Context, bookID uuid.UUID) ([]Reservation, error)
}
