package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libracirc/internal/calendar"
	"libracirc/internal/domainerr"
	"libracirc/internal/eventstore"
	"libracirc/internal/fines"
	"libracirc/internal/inventory"
	"libracirc/internal/retry"
)

// Config tunes the transaction manager.
type Config struct {
	DefaultLoanDays int
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	Clock           calendar.Clock
}

// service implements the Service interface.
type service struct {
	store      Store
	calculator *fines.Calculator
	cfg        Config
	logger     *zap.Logger
	tracer     trace.Tracer

	issued   metric.Int64Counter
	returned metric.Int64Counter
	rejected metric.Int64Counter
	retried  metric.Int64Counter
}

// NewService creates a new circulation service instance.
func NewService(store Store, calculator *fines.Calculator, cfg Config, logger *zap.Logger) Service {
	if cfg.DefaultLoanDays <= 0 {
		cfg.DefaultLoanDays = DefaultLoanDays
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 20 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := otel.Meter("libracirc/circulation")
	// Instrument creation only fails on invalid names.
	issued, _ := meter.Int64Counter("circulation.issues", metric.WithDescription("Successful issue transactions"))
	returned, _ := meter.Int64Counter("circulation.returns", metric.WithDescription("Successful return transactions"))
	rejected, _ := meter.Int64Counter("circulation.rejections", metric.WithDescription("Transitions refused by instance status"))
	retried, _ := meter.Int64Counter("circulation.retries", metric.WithDescription("Transactions retried after contention"))

	return &service{
		store:      store,
		calculator: calculator,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("libracirc/circulation"),
		issued:     issued,
		returned:   returned,
		rejected:   rejected,
		retried:    retried,
	}
}

// IssueBook lends an available instance to a reader. The status check and the switch to
// on_loan are a single conditional update, so of two concurrent issues only one can win.
func (s *service) IssueBook(ctx context.Context, instanceID, readerID uuid.UUID, durationDays int) (*Loan, error) {
	if durationDays < 0 {
		return nil, domainerr.Constraint("loan duration must be positive, got %d days", durationDays)
	}
	if durationDays == 0 {
		durationDays = s.cfg.DefaultLoanDays
	}

	ctx, span := s.tracer.Start(ctx, "circulation.issue", trace.WithAttributes(
		attribute.String("instance.id", instanceID.String()),
		attribute.String("reader.id", readerID.String()),
		attribute.Int("loan.days", durationDays),
	))
	defer span.End()

	var loan Loan
	err := s.run(ctx, "issue", func(ctx context.Context, tx Tx) error {
		ok, err := tx.ReaderExists(ctx, readerID)
		if err != nil {
			return err
		}
		if !ok {
			return domainerr.NotFound("reader", readerID.String())
		}

		ok, err = tx.TransitionInstance(ctx, instanceID, inventory.EventIssue.From(), inventory.EventIssue.To())
		if err != nil {
			return err
		}
		if !ok {
			return s.refuse(ctx, tx, instanceID)
		}

		today := s.cfg.Clock.Today()
		loan = Loan{
			ID:         uuid.New(),
			InstanceID: instanceID,
			ReaderID:   readerID,
			LoanDate:   today,
			DueDate:    calendar.AddDays(today, durationDays),
		}
		if err := tx.InsertLoan(ctx, loan); err != nil {
			return err
		}

		event, err := eventstore.NewEvent(EventInstanceIssued, InstanceIssuedEvent{
			LoanID:   loan.ID,
			ReaderID: readerID,
			LoanDate: loan.LoanDate.Format(time.DateOnly),
			DueDate:  loan.DueDate.Format(time.DateOnly),
		})
		if err != nil {
			return err
		}
		return tx.AppendEvents(ctx, instanceID, AggregateInstance, []eventstore.Event{event})
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("issue instance %s: %w", instanceID, err)
	}

	s.issued.Add(ctx, 1)
	s.logger.Info("instance issued",
		zap.String("loan_id", loan.ID.String()),
		zap.String("instance_id", instanceID.String()),
		zap.String("reader_id", readerID.String()),
		zap.Time("due_date", loan.DueDate),
	)
	return &loan, nil
}

// ReturnBook closes a loan, frees the instance and assesses the fine in one transaction.
// A zero returnDate means today.
func (s *service) ReturnBook(ctx context.Context, loanID uuid.UUID, returnDate time.Time) (*ReturnResult, error) {
	if returnDate.IsZero() {
		returnDate = s.cfg.Clock.Today()
	} else {
		returnDate = calendar.Date(returnDate)
	}

	ctx, span := s.tracer.Start(ctx, "circulation.return", trace.WithAttributes(
		attribute.String("loan.id", loanID.String()),
		attribute.String("return.date", returnDate.Format(time.DateOnly)),
	))
	defer span.End()

	var result ReturnResult
	err := s.run(ctx, "return", func(ctx context.Context, tx Tx) error {
		result = ReturnResult{}

		loan, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !loan.Open() {
			return fmt.Errorf("loan %s returned on %s: %w",
				loanID, loan.ReturnDate.Format(time.DateOnly), domainerr.ErrAlreadyReturned)
		}
		if returnDate.Before(loan.LoanDate) {
			return domainerr.Constraint("return date %s is before loan date %s",
				returnDate.Format(time.DateOnly), loan.LoanDate.Format(time.DateOnly))
		}

		if err := tx.CloseLoan(ctx, loanID, returnDate); err != nil {
			return err
		}

		ok, err := tx.TransitionInstance(ctx, loan.InstanceID, inventory.EventReturn.From(), inventory.EventReturn.To())
		if err != nil {
			return err
		}
		if !ok {
			return s.refuse(ctx, tx, loan.InstanceID)
		}

		returned, err := eventstore.NewEvent(EventInstanceReturned, InstanceReturnedEvent{
			LoanID:     loanID,
			ReaderID:   loan.ReaderID,
			ReturnDate: returnDate.Format(time.DateOnly),
		})
		if err != nil {
			return err
		}
		events := []eventstore.Event{returned}

		if assessment, overdue := s.calculator.Assess(loan.DueDate, returnDate); overdue {
			fine := fines.Fine{
				ID:          uuid.New(),
				LoanID:      loanID,
				Amount:      assessment.Amount,
				DaysOverdue: assessment.DaysOverdue,
				FineDate:    returnDate,
			}
			if err := tx.InsertFine(ctx, fine); err != nil {
				return err
			}

			assessed, err := eventstore.NewEvent(EventFineAssessed, FineAssessedEvent{
				FineID:      fine.ID,
				LoanID:      loanID,
				AmountCents: fine.Amount,
				DaysOverdue: fine.DaysOverdue,
			})
			if err != nil {
				return err
			}
			events = append(events, assessed)

			result.FineCreated = true
			result.FineAmount = fine.Amount
			result.DaysOverdue = fine.DaysOverdue
		}

		if err := tx.AppendEvents(ctx, loan.InstanceID, AggregateInstance, events); err != nil {
			return err
		}

		loan.ReturnDate = &returnDate
		result.Loan = loan
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("return loan %s: %w", loanID, err)
	}

	s.returned.Add(ctx, 1, metric.WithAttributes(attribute.Bool("fine.created", result.FineCreated)))
	s.logger.Info("loan returned",
		zap.String("loan_id", loanID.String()),
		zap.String("instance_id", result.Loan.InstanceID.String()),
		zap.Bool("fine_created", result.FineCreated),
		zap.String("fine_amount", fines.FormatAmount(result.FineAmount)),
	)
	return &result, nil
}

// ChangeInstanceStatus applies an administrative transition such as send_to_repair or write_off.
func (s *service) ChangeInstanceStatus(ctx context.Context, instanceID uuid.UUID, event inventory.Event) (inventory.Status, error) {
	if !event.Administrative() {
		return "", domainerr.Constraint("%s can only happen through a loan transaction", event)
	}

	err := s.run(ctx, string(event), func(ctx context.Context, tx Tx) error {
		ok, err := tx.TransitionInstance(ctx, instanceID, event.From(), event.To())
		if err != nil {
			return err
		}
		if !ok {
			return s.refuse(ctx, tx, instanceID)
		}

		changed, err := eventstore.NewEvent(EventInstanceStatusChanged, InstanceStatusChangedEvent{
			Event: event,
			To:    event.To(),
		})
		if err != nil {
			return err
		}
		return tx.AppendEvents(ctx, instanceID, AggregateInstance, []eventstore.Event{changed})
	})
	if err != nil {
		return "", fmt.Errorf("%s instance %s: %w", event, instanceID, err)
	}

	s.logger.Info("instance status changed",
		zap.String("instance_id", instanceID.String()),
		zap.String("event", string(event)),
		zap.String("status", string(event.To())),
	)
	return event.To(), nil
}

func (s *service) InstanceHistory(ctx context.Context, instanceID uuid.UUID) ([]eventstore.Event, error) {
	events, err := s.store.InstanceHistory(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("instance %s history: %w", instanceID, err)
	}
	return events, nil
}

// refuse explains why a conditional transition matched no row.
func (s *service) refuse(ctx context.Context, tx Tx, instanceID uuid.UUID) error {
	status, found, err := tx.InstanceStatus(ctx, instanceID)
	if err != nil {
		return err
	}
	if !found {
		return domainerr.NotFound("instance", instanceID.String())
	}
	s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	return domainerr.Precondition("instance", instanceID.String(), string(status))
}

// run executes fn in a transaction, retrying transient contention with backoff. When the
// attempts run out the failure surfaces as ErrUnavailable.
func (s *service) run(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	err := retry.Do(ctx,
		func(ctx context.Context) error {
			return s.store.InTx(ctx, fn)
		},
		retry.WithMaxAttempts(s.cfg.MaxAttempts),
		retry.WithBaseDelay(s.cfg.RetryBaseDelay),
		retry.If(func(err error) bool { return errors.Is(err, domainerr.ErrTransient) }),
		retry.OnRetry(func(attempt int, err error) {
			s.retried.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
			s.logger.Warn("retrying circulation transaction",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}),
	)

	if errors.Is(err, domainerr.ErrTransient) {
		s.logger.Error("circulation transaction gave up", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%w: %w", domainerr.ErrUnavailable, err)
	}
	return err
}
