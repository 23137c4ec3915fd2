package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"libracirc/internal/calendar"
	"libracirc/internal/domainerr"
	"libracirc/internal/eventstore"
	"libracirc/internal/fines"
	"libracirc/internal/inventory"
	"libracirc/internal/storage"
)

// PostgresStore is the Store backed by the shared PostgreSQL database.
type PostgresStore struct {
	db          *sql.DB
	journal     *eventstore.EventStore
	lockTimeout time.Duration
}

// NewPostgresStore creates a store. lockTimeout bounds every row-lock wait inside a transaction.
func NewPostgresStore(db *sql.DB, journal *eventstore.EventStore, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, journal: journal, lockTimeout: lockTimeout}
}

// InTx runs fn in a read committed transaction. Row locks taken by the conditional updates
// serialize writers of the same instance or loan.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if s.lockTimeout > 0 {
		// SET does not take bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return classify(fmt.Errorf("set lock timeout: %w", err))
		}
	}

	if err := fn(ctx, &pgTx{tx: sqlTx, journal: s.journal}); err != nil {
		return classify(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// InstanceHistory returns the journal for an existing instance.
func (s *PostgresStore) InstanceHistory(ctx context.Context, instanceID uuid.UUID) ([]eventstore.Event, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM book_instances WHERE id = $1)`, instanceID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check instance: %w", err)
	}
	if !exists {
		return nil, domainerr.NotFound("instance", instanceID.String())
	}
	return s.journal.LoadEvents(ctx, instanceID, 0, 0)
}

// classify marks contention errors as transient so the service retries them.
func classify(err error) error {
	switch {
	case storage.IsTransient(err),
		errors.Is(err, eventstore.ErrConcurrencyConflict),
		storage.IsUniqueViolation(err, "loans_one_open_per_instance"):
		return fmt.Errorf("%w: %w", domainerr.ErrTransient, err)
	}
	return err
}

type pgTx struct {
	tx      *sql.Tx
	journal *eventstore.EventStore
}

func (t *pgTx) ReaderExists(ctx context.Context, readerID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM readers WHERE id = $1)`, readerID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check reader: %w", err)
	}
	return exists, nil
}

func (t *pgTx) TransitionInstance(ctx context.Context, instanceID uuid.UUID, from []inventory.Status, to inventory.Status) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE book_instances
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, instanceID, string(to), pq.Array(allowed))
	if err != nil {
		return false, fmt.Errorf("update instance status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *pgTx) InstanceStatus(ctx context.Context, instanceID uuid.UUID) (inventory.Status, bool, error) {
	var status string
	err := t.tx.QueryRowContext(ctx,
		`SELECT status FROM book_instances WHERE id = $1`, instanceID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read instance status: %w", err)
	}
	return inventory.Status(status), true, nil
}

func (t *pgTx) InsertLoan(ctx context.Context, loan Loan) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO loans (id, instance_id, reader_id, loan_date, due_date)
		VALUES ($1, $2, $3, $4, $5)
	`, loan.ID, loan.InstanceID, loan.ReaderID, sqlDate(loan.LoanDate), sqlDate(loan.DueDate))
	if err != nil {
		if storage.IsCheckViolation(err) {
			return domainerr.Constraint("loan %s: due date must be after loan date", loan.ID)
		}
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

func (t *pgTx) LockLoan(ctx context.Context, loanID uuid.UUID) (Loan, error) {
	var (
		loan       Loan
		returnDate sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, instance_id, reader_id, loan_date, due_date, return_date
		FROM loans
		WHERE id = $1
		FOR UPDATE
	`, loanID).Scan(&loan.ID, &loan.InstanceID, &loan.ReaderID, &loan.LoanDate, &loan.DueDate, &returnDate)
	if errors.Is(err, sql.ErrNoRows) {
		return Loan{}, domainerr.NotFound("loan", loanID.String())
	}
	if err != nil {
		return Loan{}, fmt.Errorf("lock loan: %w", err)
	}

	loan.LoanDate = calendar.Date(loan.LoanDate)
	loan.DueDate = calendar.Date(loan.DueDate)
	if returnDate.Valid {
		d := calendar.Date(returnDate.Time)
		loan.ReturnDate = &d
	}
	return loan, nil
}

func (t *pgTx) CloseLoan(ctx context.Context, loanID uuid.UUID, returnDate time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE loans SET return_date = $2
		WHERE id = $1 AND return_date IS NULL
	`, loanID, sqlDate(returnDate))
	if err != nil {
		if storage.IsCheckViolation(err) {
			return domainerr.Constraint("loan %s: return date before loan date", loanID)
		}
		return fmt.Errorf("close loan: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("loan %s: %w", loanID, domainerr.ErrAlreadyReturned)
	}
	return nil
}

func (t *pgTx) InsertFine(ctx context.Context, fine fines.Fine) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO fines (id, loan_id, amount_cents, days_overdue, fine_date)
		VALUES ($1, $2, $3, $4, $5)
	`, fine.ID, fine.LoanID, fine.Amount, fine.DaysOverdue, sqlDate(fine.FineDate))
	if err != nil {
		if storage.IsUniqueViolation(err, "fines_loan_id_key") {
			return fmt.Errorf("fine for loan %s: %w", fine.LoanID, domainerr.ErrAlreadyReturned)
		}
		return fmt.Errorf("insert fine: %w", err)
	}
	return nil
}

// AppendEvents skips the optimistic version check: the instance row lock taken by
// TransitionInstance already serializes writers of this aggregate.
func (t *pgTx) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, events []eventstore.Event) error {
	return t.journal.AppendTx(ctx, t.tx, aggregateID, aggregateType, eventstore.AnyVersion, events)
}

// sqlDate renders a calendar date so the server never shifts it through a session time zone.
func sqlDate(t time.Time) string {
	return t.Format(time.DateOnly)
}
