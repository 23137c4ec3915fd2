package reservations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"libracirc/internal/domainerr"
	"libracirc/internal/eventstore"
	"libracirc/internal/storage"
)

// service implements the Service interface.
type service struct {
	db      *sql.DB
	journal *eventstore.EventStore
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a new reservation ledger.
func NewService(db *sql.DB, journal *eventstore.EventStore, logger *zap.Logger) Service {
	return &service{db: db, journal: journal, logger: logger, now: time.Now}
}

// Place records an active reservation. It does not look at instance availability.
func (s *service) Place(ctx context.Context, bookID, readerID uuid.UUID) (*Reservation, error) {
	r := &Reservation{
		ID:              uuid.New(),
		BookID:          bookID,
		ReaderID:        readerID,
		ReservationDate: s.now().UTC(),
		Status:          StatusActive,
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reservations (id, book_id, reader_id, reservation_date, status)
			VALUES ($1, $2, $3, $4, $5)
		`, r.ID, r.BookID, r.ReaderID, r.ReservationDate, string(r.Status))
		switch {
		case storage.IsForeignKeyViolation(err, "reservations_book_id_fkey"):
			return domainerr.NotFound("book", bookID.String())
		case storage.IsForeignKeyViolation(err, "reservations_reader_id_fkey"):
			return domainerr.NotFound("reader", readerID.String())
		case err != nil:
			return fmt.Errorf("insert reservation: %w", err)
		}
		return s.journalTx(ctx, tx, r, EventReservationPlaced)
	})
	if err != nil {
		return nil, fmt.Errorf("place reservation: %w", err)
	}

	s.logger.Info("reservation placed",
		zap.String("reservation_id", r.ID.String()),
		zap.String("book_id", bookID.String()),
		zap.String("reader_id", readerID.String()),
	)
	return r, nil
}

// Complete marks an active reservation as fulfilled.
func (s *service) Complete(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return s.close(ctx, id, StatusCompleted, EventReservationCompleted)
}

// Cancel withdraws an active reservation.
func (s *service) Cancel(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return s.close(ctx, id, StatusCanceled, EventReservationCanceled)
}

func (s *service) close(ctx context.Context, id uuid.UUID, to Status, eventType string) (*Reservation, error) {
	r := &Reservation{ID: id}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE reservations SET status = $2
			WHERE id = $1 AND status = 'active'
			RETURNING book_id, reader_id, reservation_date, status
		`, id, string(to)).Scan(&r.BookID, &r.ReaderID, &r.ReservationDate, &r.Status)
		if errors.Is(err, sql.ErrNoRows) {
			var current string
			err := tx.QueryRowContext(ctx, `SELECT status FROM reservations WHERE id = $1`, id).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return domainerr.NotFound("reservation", id.String())
			}
			if err != nil {
				return fmt.Errorf("read reservation status: %w", err)
			}
			return domainerr.Precondition("reservation", id.String(), current)
		}
		if err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		return s.journalTx(ctx, tx, r, eventType)
	})
	if err != nil {
		return nil, fmt.Errorf("%s reservation: %w", to, err)
	}

	s.logger.Info("reservation closed", zap.String("reservation_id", id.String()), zap.String("status", string(to)))
	return r, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r := &Reservation{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, reader_id, reservation_date, status
		FROM reservations
		WHERE id = $1
	`, id).Scan(&r.ID, &r.BookID, &r.ReaderID, &r.ReservationDate, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerr.NotFound("reservation", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

// ListForBook returns the active queue for a book, oldest first.
func (s *service) ListForBook(ctx context.Context, bookID uuid.UUID) ([]Reservation, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, bookID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check book: %w", err)
	}
	if !exists {
		return nil, domainerr.NotFound("book", bookID.String())
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, book_id, reader_id, reservation_date, status
		FROM reservations
		WHERE book_id = $1 AND status = 'active'
		ORDER BY reservation_date, id
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	res := []Reservation{}
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.BookID, &r.ReaderID, &r.ReservationDate, &r.Status); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *service) journalTx(ctx context.Context, tx *sql.Tx, r *Reservation, eventType string) error {
	event, err := eventstore.NewEvent(eventType, ReservationEvent{
		BookID:   r.BookID,
		ReaderID: r.ReaderID,
		Status:   r.Status,
	})
	if err != nil {
		return err
	}
	// The reservation row is locked by this transaction.
	return s.journal.AppendTx(ctx, tx, r.ID, AggregateReservation, eventstore.AnyVersion, []eventstore.Event{event})
}

func (s *service) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
