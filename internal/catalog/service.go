package catalog

import (
	"context"

	"github.com/google/uuid"

	"libracirc/internal/inventory"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, book NewBook) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	AddInstance(ctx context.Context, bookID uuid.UUID, inventoryCode string) (*inventory.Instance, error)
	GetInstance(ctx context.Context, id uuid.UUID) (*inventory.Instance, error)
	SearchCatalog(ctx context.Context, text string) ([]SearchResult, error)
}
