package chaos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"libracirc/internal/catalog"
	"libracirc/internal/clients"
	"libracirc/internal/fines"
)

// Suite builds experiments that drive the desk API and inspect the database directly.
type Suite struct {
	db       *sqlx.DB
	desk     *clients.DeskClient
	fineRate int64
	logger   *zap.Logger
}

// NewSuite needs a logged-in desk client. fineRate must match the server's daily rate.
func NewSuite(db *sqlx.DB, desk *clients.DeskClient, fineRate int64, logger *zap.Logger) *Suite {
	return &Suite{db: db, desk: desk, fineRate: fineRate, logger: logger}
}

// Register adds the standard experiments to e.
func (s *Suite) Register(e *Engine) {
	e.Register(s.ConcurrentIssueRace(50))
	e.Register(s.DoubleReturn(10))
	e.Register(s.LockContention())
	e.Register(s.ConnectionPressure(30, 200, 50))
}

// ConsistencyProbes hold at every quiet moment: an instance is on loan exactly when it has
// an open loan, every fine matches its loan's lateness, and journal streams have no gaps.
func (s *Suite) ConsistencyProbes() []Probe {
	return []Probe{
		{
			Name: "loan_status_mismatch",
			Query: s.count(`
				SELECT COUNT(*) FROM book_instances i
				WHERE (i.status = 'on_loan') <> EXISTS (
					SELECT 1 FROM loans l WHERE l.instance_id = i.id AND l.return_date IS NULL
				)`),
			Threshold: Threshold{Operator: "==", Value: 0},
		},
		{
			Name: "fine_mismatch",
			Query: s.count(`
				SELECT COUNT(*) FROM fines f
				JOIN loans l ON l.id = f.loan_id
				WHERE l.return_date IS NULL
				   OR f.days_overdue <> l.return_date - l.due_date
				   OR f.amount_cents <> f.days_overdue * $1`, s.fineRate),
			Threshold: Threshold{Operator: "==", Value: 0},
		},
		{
			Name: "journal_version_gaps",
			Query: s.count(`
				SELECT COUNT(*) FROM (
					SELECT aggregate_id FROM events
					GROUP BY aggregate_id
					HAVING MAX(version) <> COUNT(*)
				) gaps`),
			Threshold: Threshold{Operator: "==", Value: 0},
		},
	}
}

func (s *Suite) count(query string, args ...any) func(context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		var n int64
		err := s.db.GetContext(ctx, &n, query, args...)
		return float64(n), err
	}
}

type fixture struct {
	instanceID uuid.UUID
	readerID   uuid.UUID
}

func (s *Suite) newFixture(ctx context.Context) (*fixture, error) {
	tag := uuid.NewString()[:8]

	book, err := s.desk.AddBook(ctx, catalog.NewBook{
		Title:   "Chaos volume " + tag,
		Authors: []string{"Chaos Monkey"},
	})
	if err != nil {
		return nil, fmt.Errorf("add book: %w", err)
	}

	instance, err := s.desk.AddInstance(ctx, book.ID, "CHAOS-"+tag)
	if err != nil {
		return nil, fmt.Errorf("add instance: %w", err)
	}

	reader, err := s.desk.RegisterReader(ctx, "Chaos reader "+tag, "chaos-"+tag+"@example.org")
	if err != nil {
		return nil, fmt.Errorf("register reader: %w", err)
	}

	return &fixture{instanceID: instance.ID, readerID: reader.ID}, nil
}

// refused reports whether err is the service declining a request cleanly.
func refused(err error) bool {
	switch clients.StatusCode(err) {
	case http.StatusConflict, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// ConcurrentIssueRace issues one instance from many desks at once.
func (s *Suite) ConcurrentIssueRace(concurrency int) Experiment {
	var (
		mu    sync.Mutex
		loans []uuid.UUID
	)

	return Experiment{
		Name:        "concurrent-issue-race",
		Hypothesis:  "Exactly one of many simultaneous issues of the same instance succeeds",
		SteadyState: s.ConsistencyProbes(),
		Method: []Action{{
			Name: "issue-same-instance",
			Execute: func(ctx context.Context) error {
				fx, err := s.newFixture(ctx)
				if err != nil {
					return err
				}

				g, gctx := errgroup.WithContext(ctx)
				for n := 0; n < concurrency; n++ {
					g.Go(func() error {
						loan, err := s.desk.IssueBook(gctx, fx.instanceID, fx.readerID, 0)
						switch {
						case err == nil:
							mu.Lock()
							loans = append(loans, loan.ID)
							mu.Unlock()
							return nil
						case refused(err):
							return nil
						default:
							return err
						}
					})
				}
				if err := g.Wait(); err != nil {
					return err
				}

				if len(loans) != 1 {
					return fmt.Errorf("%d of %d concurrent issues succeeded, want exactly 1", len(loans), concurrency)
				}
				return nil
			},
		}},
		Rollback: []Action{{
			Name: "return-loans",
			Execute: func(ctx context.Context) error {
				var errs []error
				for _, id := range loans {
					if _, err := s.desk.ReturnBook(ctx, id, time.Time{}); err != nil {
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			},
		}},
	}
}

// DoubleReturn returns one late loan from many desks at once.
func (s *Suite) DoubleReturn(concurrency int) Experiment {
	const daysLate = 3

	return Experiment{
		Name:        "concurrent-double-return",
		Hypothesis:  "A loan closes once and carries exactly one fine however many desks return it",
		SteadyState: s.ConsistencyProbes(),
		Method: []Action{{
			Name: "return-same-loan",
			Execute: func(ctx context.Context) error {
				fx, err := s.newFixture(ctx)
				if err != nil {
					return err
				}

				loan, err := s.desk.IssueBook(ctx, fx.instanceID, fx.readerID, 1)
				if err != nil {
					return fmt.Errorf("issue: %w", err)
				}
				due, err := time.Parse(time.DateOnly, loan.DueDate)
				if err != nil {
					return fmt.Errorf("parse due date: %w", err)
				}
				returnDate := due.AddDate(0, 0, daysLate)

				var closed atomic.Int32
				var receipt *clients.ReturnReceipt

				g, gctx := errgroup.WithContext(ctx)
				for n := 0; n < concurrency; n++ {
					g.Go(func() error {
						r, err := s.desk.ReturnBook(gctx, loan.ID, returnDate)
						switch {
						case err == nil:
							if closed.Add(1) == 1 {
								receipt = r
							}
							return nil
						case refused(err):
							return nil
						default:
							return err
						}
					})
				}
				if err := g.Wait(); err != nil {
					return err
				}

				if n := closed.Load(); n != 1 {
					return fmt.Errorf("%d of %d concurrent returns succeeded, want exactly 1", n, concurrency)
				}
				want := fines.ToUnits(daysLate * s.fineRate)
				if !receipt.FineCreated || receipt.FineAmount == nil || *receipt.FineAmount != want {
					return fmt.Errorf("return receipt %+v, want a fine of %.2f", *receipt, want)
				}

				var n int
				if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM fines WHERE loan_id = $1`, loan.ID); err != nil {
					return err
				}
				if n != 1 {
					return fmt.Errorf("loan %s has %d fines, want 1", loan.ID, n)
				}
				return nil
			},
		}},
	}
}

// LockContention holds the instance row lock while a desk tries to issue it.
func (s *Suite) LockContention() Experiment {
	return Experiment{
		Name:        "instance-lock-contention",
		Hypothesis:  "An issue blocked on a held row lock answers 503 and succeeds once the lock is gone",
		SteadyState: s.ConsistencyProbes(),
		Method: []Action{{
			Name: "issue-locked-instance",
			Execute: func(ctx context.Context) error {
				fx, err := s.newFixture(ctx)
				if err != nil {
					return err
				}

				tx, err := s.db.BeginTxx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()

				if _, err := tx.ExecContext(ctx, `SELECT id FROM book_instances WHERE id = $1 FOR UPDATE`, fx.instanceID); err != nil {
					return fmt.Errorf("lock instance: %w", err)
				}

				_, err = s.desk.IssueBook(ctx, fx.instanceID, fx.readerID, 0)
				if code := clients.StatusCode(err); code != http.StatusServiceUnavailable {
					return fmt.Errorf("issue of locked instance: got status %d (%v), want 503", code, err)
				}

				if err := tx.Rollback(); err != nil {
					return err
				}

				loan, err := s.desk.IssueBook(ctx, fx.instanceID, fx.readerID, 0)
				if err != nil {
					return fmt.Errorf("issue after unlock: %w", err)
				}
				_, err = s.desk.ReturnBook(ctx, loan.ID, time.Time{})
				return err
			},
		}},
	}
}

// ConnectionPressure holds database connections while paced issue/return cycles run.
func (s *Suite) ConnectionPressure(heldConns, cycles int, perSecond float64) Experiment {
	return Experiment{
		Name:        "connection-pool-pressure",
		Hypothesis:  "Under connection pressure the service refuses or serves requests but never corrupts state",
		SteadyState: s.ConsistencyProbes(),
		Method: []Action{{
			Name: "cycle-under-pressure",
			Execute: func(ctx context.Context) error {
				fx, err := s.newFixture(ctx)
				if err != nil {
					return err
				}

				conns := make([]*sql.Conn, 0, heldConns)
				defer func() {
					for _, c := range conns {
						c.Close()
					}
				}()
				for n := 0; n < heldConns; n++ {
					c, err := s.db.Conn(ctx)
					if err != nil {
						s.logger.Warn("stopped acquiring connections", zap.Int("held", len(conns)), zap.Error(err))
						break
					}
					conns = append(conns, c)
				}

				limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
				for i := 0; i < cycles; i++ {
					if err := limiter.Wait(ctx); err != nil {
						return err
					}

					loan, err := s.desk.IssueBook(ctx, fx.instanceID, fx.readerID, 0)
					if refused(err) {
						continue
					}
					if err != nil {
						return fmt.Errorf("cycle %d issue: %w", i, err)
					}

					if _, err := s.desk.ReturnBook(ctx, loan.ID, time.Time{}); err != nil && !refused(err) {
						return fmt.Errorf("cycle %d return: %w", i, err)
					}
				}
				return nil
			},
		}},
		Duration: 5 * time.Second,
	}
}
