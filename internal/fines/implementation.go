package fines

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type service struct {
	db *sqlx.DB
}

// NewService creates a fines reader over the shared pool.
func NewService(db *sqlx.DB) Service {
	return &service{db: db}
}

// ListByReader returns the reader's fines, newest first.
func (s *service) ListByReader(ctx context.Context, readerID uuid.UUID) ([]ReaderFine, error) {
	query := `
		SELECT f.id, f.loan_id, f.amount_cents, f.days_overdue, f.fine_date, f.payment_date,
		       b.title, i.inventory_code
		FROM fines f
		JOIN loans l ON l.id = f.loan_id
		JOIN book_instances i ON i.id = l.instance_id
		JOIN books b ON b.id = i.book_id
		WHERE l.reader_id = $1
		ORDER BY f.fine_date DESC, f.id
	`
	var res []ReaderFine
	if err := s.db.SelectContext(ctx, &res, query, readerID); err != nil {
		return nil, fmt.Errorf("select fines: %w", err)
	}
	return res, nil
}
