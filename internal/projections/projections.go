// Package projections answers the desk's read-only views over loans and instances.
package projections

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"libracirc/internal/calendar"
)

// ActiveLoan is an open loan with the names a desk operator needs.
type ActiveLoan struct {
	LoanID        uuid.UUID `json:"loan_id" db:"loan_id"`
	InstanceID    uuid.UUID `json:"instance_id" db:"instance_id"`
	InventoryCode string    `json:"inventory_code" db:"inventory_code"`
	ReaderID      uuid.UUID `json:"reader_id" db:"reader_id"`
	Reader        string    `json:"reader" db:"reader"`
	Title         string    `json:"title" db:"title"`
	LoanDate      time.Time `json:"loan_date" db:"loan_date"`
	DueDate       time.Time `json:"due_date" db:"due_date"`
	DaysOverdue   int       `json:"days_overdue" db:"-"`
}

// AvailableTitle is a book with at least one instance on the shelf.
type AvailableTitle struct {
	BookID         uuid.UUID      `json:"book_id" db:"book_id"`
	Title          string         `json:"title" db:"title"`
	Authors        pq.StringArray `json:"authors" db:"authors"`
	AvailableCount int            `json:"available_count" db:"available_count"`
}

// Service defines the read projections.
type Service interface {
	ListActiveLoans(ctx context.Context) ([]ActiveLoan, error)
	ListAvailableTitles(ctx context.Context) ([]AvailableTitle, error)
}

type service struct {
	db    *sqlx.DB
	clock calendar.Clock
}

// NewService creates the projections over the shared pool. Overdue days are counted
// against clock.
func NewService(db *sqlx.DB, clock calendar.Clock) Service {
	return &service{db: db, clock: clock}
}

// ListActiveLoans returns every loan without a return date, most overdue first.
func (s *service) ListActiveLoans(ctx context.Context) ([]ActiveLoan, error) {
	query := `
		SELECT l.id AS loan_id, l.instance_id, i.inventory_code, l.reader_id,
		       r.name AS reader, b.title, l.loan_date, l.due_date
		FROM loans l
		JOIN readers r ON r.id = l.reader_id
		JOIN book_instances i ON i.id = l.instance_id
		JOIN books b ON b.id = i.book_id
		WHERE l.return_date IS NULL
		ORDER BY l.due_date, l.id
	`
	res := []ActiveLoan{}
	if err := s.db.SelectContext(ctx, &res, query); err != nil {
		return nil, fmt.Errorf("select active loans: %w", err)
	}

	today := s.clock.Today()
	for i := range res {
		res[i].LoanDate = calendar.Date(res[i].LoanDate)
		res[i].DueDate = calendar.Date(res[i].DueDate)
		res[i].DaysOverdue = max(0, calendar.DaysBetween(res[i].DueDate, today))
	}
	return res, nil
}

// ListAvailableTitles counts available instances per book and drops books with none.
func (s *service) ListAvailableTitles(ctx context.Context) ([]AvailableTitle, error) {
	query := `
		SELECT b.id AS book_id, b.title,
		       COALESCE(
		           (SELECT array_agg(a.name ORDER BY ba.position, a.name)
		            FROM book_authors ba JOIN authors a ON a.id = ba.author_id
		            WHERE ba.book_id = b.id),
		           '{}'
		       ) AS authors,
		       COUNT(i.id) AS available_count
		FROM books b
		JOIN book_instances i ON i.book_id = b.id AND i.status = 'available'
		GROUP BY b.id, b.title
		HAVING COUNT(i.id) > 0
		ORDER BY b.title, b.id
	`
	res := []AvailableTitle{}
	if err := s.db.SelectContext(ctx, &res, query); err != nil {
		return nil, fmt.Errorf("select available titles: %w", err)
	}
	return res, nil
}
