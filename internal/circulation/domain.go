package circulation

import (
	"time"

	"github.com/google/uuid"

	"libracirc/internal/inventory"
)

// DefaultLoanDays is the loan period used when neither the caller nor configuration sets one.
const DefaultLoanDays = 14

// Loan represents one instance lent to one reader.
type Loan struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	InstanceID uuid.UUID  `json:"instance_id" db:"instance_id"`
	ReaderID   uuid.UUID  `json:"reader_id" db:"reader_id"`
	LoanDate   time.Time  `json:"loan_date" db:"loan_date"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty" db:"return_date"`
}

// Open reports whether the loan has not been returned yet.
func (l Loan) Open() bool {
	return l.ReturnDate == nil
}

// ReturnResult is the outcome of a successful return.
type ReturnResult struct {
	Loan        Loan
	FineCreated bool
	FineAmount  int64
	DaysOverdue int
}

// Journal aggregate and event names.
const (
	AggregateInstance = "book_instance"

	EventInstanceIssued        = "InstanceIssued"
	EventInstanceReturned      = "InstanceReturned"
	EventFineAssessed          = "FineAssessed"
	EventInstanceStatusChanged = "InstanceStatusChanged"
)

// InstanceIssuedEvent is journaled when an instance goes on loan.
type InstanceIssuedEvent struct {
	LoanID   uuid.UUID `json:"loan_id"`
	ReaderID uuid.UUID `json:"reader_id"`
	LoanDate string    `json:"loan_date"`
	DueDate  string    `json:"due_date"`
}

// InstanceReturnedEvent is journaled when an instance comes back.
type InstanceReturnedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	ReaderID   uuid.UUID `json:"reader_id"`
	ReturnDate string    `json:"return_date"`
}

// FineAssessedEvent is journaled next to InstanceReturnedEvent for overdue returns.
type FineAssessedEvent struct {
	FineID      uuid.UUID `json:"fine_id"`
	LoanID      uuid.UUID `json:"loan_id"`
	AmountCents int64     `json:"amount_cents"`
	DaysOverdue int       `json:"days_overdue"`
}

// InstanceStatusChangedEvent is journaled for administrative transitions.
type InstanceStatusChangedEvent struct {
	Event inventory.Event  `json:"event"`
	To    inventory.Status `json:"to"`
}
