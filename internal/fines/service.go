package fines

import (
	"context"

	"github.com/google/uuid"
)

// Service exposes read access to recorded fines.
type Service interface {
	ListByReader(ctx context.Context, readerID uuid.UUID) ([]ReaderFine, error)
}
