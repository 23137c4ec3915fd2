package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"libracirc/internal/eventstore"
	"libracirc/internal/fines"
	"libracirc/internal/inventory"
)

// Store runs circulation units of work against durable storage.
type Store interface {
	// InTx runs fn in one transaction. fn's error rolls everything back. Contention errors
	// come back wrapping domainerr.ErrTransient.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// InstanceHistory returns the journal of one instance ordered by version.
	InstanceHistory(ctx context.Context, instanceID uuid.UUID) ([]eventstore.Event, error)
}

// Tx is the set of writes a circulation transaction may perform.
type Tx interface {
	ReaderExists(ctx context.Context, readerID uuid.UUID) (bool, error)
	// TransitionInstance moves the instance to `to` only if its status is one of `from`.
	// It reports false when no row matched.
	TransitionInstance(ctx context.Context, instanceID uuid.UUID, from []inventory.Status, to inventory.Status) (bool, error)
	// InstanceStatus reads the current status; found is false for unknown instances.
	InstanceStatus(ctx context.Context, instanceID uuid.UUID) (status inventory.Status, found bool, err error)
	InsertLoan(ctx context.Context, loan Loan) error
	// LockLoan reads the loan and holds a row lock on it until the transaction ends.
	LockLoan(ctx context.Context, loanID uuid.UUID) (Loan, error)
	CloseLoan(ctx context.Context, loanID uuid.UUID, returnDate time.Time) error
	InsertFine(ctx context.Context, fine fines.Fine) error
	AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, events []eventstore.Event) error
}
