package fines

import (
	"time"

	"github.com/google/uuid"
)

// Fine is the penalty attached to exactly one overdue loan.
type Fine struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	LoanID      uuid.UUID  `json:"loan_id" db:"loan_id"`
	Amount      int64      `json:"-" db:"amount_cents"`
	DaysOverdue int        `json:"days_overdue" db:"days_overdue"`
	FineDate    time.Time  `json:"fine_date" db:"fine_date"`
	PaymentDate *time.Time `json:"payment_date,omitempty" db:"payment_date"`
}

// ReaderFine is a fine listed together with the title it was charged for.
type ReaderFine struct {
	Fine
	Title         string `json:"title" db:"title"`
	InventoryCode string `json:"inventory_code" db:"inventory_code"`
}
