package membership

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterReader(ctx context.Context, name, email string, phone *string) (*Reader, error)
	GetReader(ctx context.Context, id uuid.UUID) (*Reader, error)
	RegisterOperator(ctx context.Context, login, password string) (*Operator, error)
	Authenticate(ctx context.Context, login, password string) (*Operator, error)
	// EnsureOperator creates the operator unless the login already exists.
	EnsureOperator(ctx context.Context, login, password string) error
}
