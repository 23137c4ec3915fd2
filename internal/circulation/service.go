package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"libracirc/internal/eventstore"
	"libracirc/internal/inventory"
)

// Service defines the interface for the circulation service.
type Service interface {
	IssueBook(ctx context.Context, instanceID, readerID uuid.UUID, durationDays int) (*Loan, error)
	ReturnBook(ctx context.Context, loanID uuid.UUID, returnDate time.Time) (*ReturnResult, error)
	ChangeInstanceStatus(ctx context.Context, instanceID uuid.UUID, event inventory.Event) (inventory.Status, error)
	InstanceHistory(ctx context.Context, instanceID uuid.UUID) ([]eventstore.Event, error)
}
