package membership

import (
	"time"

	"github.com/google/uuid"
)

// Reader is a registered borrower.
type Reader struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        *string   `json:"phone,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Operator is a desk staff account allowed to use the circulation API.
type Operator struct {
	ID        uuid.UUID `json:"id"`
	Login     string    `json:"login"`
	CreatedAt time.Time `json:"created_at"`
}

// credential holds an operator's stored password material.
type credential struct {
	operatorID   uuid.UUID
	passwordHash string
	salt         string
}

const (
	AggregateReader = "reader"

	EventReaderRegistered = "ReaderRegistered"
)

// ReaderRegisteredEvent is published when a new reader registers.
type ReaderRegisteredEvent struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
