package circulation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"libracirc/internal/calendar"
	"libracirc/internal/domainerr"
	"libracirc/internal/fines"
	"libracirc/internal/inventory"
)

var day0 = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store Store) Service {
	t.Helper()
	return buildService(store, zaptest.NewLogger(t))
}

func buildService(store Store, logger *zap.Logger) Service {
	return NewService(store, &fines.Calculator{DailyRate: fines.DefaultDailyRate}, Config{
		DefaultLoanDays: DefaultLoanDays,
		MaxAttempts:     4,
		RetryBaseDelay:  time.Millisecond,
		Clock:           calendar.Fixed(day0.Add(15 * time.Hour)),
	}, logger)
}

func TestIssueAndOverdueReturn(t *testing.T) {
	store := newMemStore()
	reader := store.addReader()
	inv001 := store.addInstance(inventory.StatusAvailable)
	svc := newTestService(t, store)
	ctx := context.Background()

	loan, err := svc.IssueBook(ctx, inv001, reader, 14)
	require.NoError(t, err)
	assert.Equal(t, day0, loan.LoanDate)
	assert.Equal(t, calendar.AddDays(day0, 14), loan.DueDate)
	assert.Equal(t, inventory.StatusOnLoan, store.instances[inv001])
	assert.Equal(t, 1, store.openLoans(inv001))

	result, err := svc.ReturnBook(ctx, loan.ID, calendar.AddDays(day0, 20))
	require.NoError(t, err)
	assert.True(t, result.FineCreated)
	assert.Equal(t, int64(3000), result.FineAmount)
	assert.Equal(t, 6, result.DaysOverdue)
	assert.Equal(t, "30.00", fines.FormatAmount(result.FineAmount))
	assert.Equal(t, inventory.StatusAvailable, store.instances[inv001])
	assert.Equal(t, 0, store.openLoans(inv001))

	fine := store.fines[loan.ID]
	assert.Equal(t, int64(3000), fine.Amount)
	assert.Equal(t, calendar.AddDays(day0, 20), fine.FineDate)

	history, err := svc.InstanceHistory(ctx, inv001)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, EventInstanceIssued, history[0].EventType)
	assert.Equal(t, EventInstanceReturned, history[1].EventType)
	assert.Equal(t, EventFineAssessed, history[2].EventType)

	var assessed FineAssessedEvent
	require.NoError(t, history[2].Decode(&assessed))
	assert.Equal(t, int64(3000), assessed.AmountCents)
}

func TestIssueDuration(t *testing.T) {
	store := newMemStore()
	reader := store.addReader()
	svc := newTestService(t, store)
	ctx := context.Background()

	loan, err := svc.IssueBook(ctx, store.addInstance(inventory.StatusAvailable), reader, 0)
	require.NoError(t, err)
	assert.Equal(t, calendar.AddDays(day0, DefaultLoanDays), loan.DueDate)

	loan, err = svc.IssueBook(ctx, store.addInstance(inventory.StatusAvailable), reader, 1)
	require.NoError(t, err)
	assert.Equal(t, calendar.AddDays(day0, 1), loan.DueDate)

	instance := store.addInstance(inventory.StatusAvailable)
	_, err = svc.IssueBook(ctx, instance, reader, -3)
	assert.ErrorIs(t, err, domainerr.ErrConstraintViolation)
	assert.Equal(t, inventory.StatusAvailable, store.instances[instance])
}

func TestIssueRejections(t *testing.T) {
	store := newMemStore()
	reader := store.addReader()
	svc := newTestService(t, store)
	ctx := context.Background()

	for _, status := range []inventory.Status{
		inventory.StatusOnLoan,
		inventory.StatusReserved,
		inventory.StatusInRepair,
		inventory.StatusLost,
		inventory.StatusWrittenOff,
	} {
		t.Run(string(status), func(t *testing.T) {
			instance := store.addInstance(status)

			_, err := svc.IssueBook(ctx, instance, reader, 14)
			require.ErrorIs(t, err, domainerr.ErrPreconditionViolation)

			var pe *domainerr.PreconditionError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, string(status), pe.Status)
			assert.Equal(t, status, store.instances[instance])
		})
	}

	t.Run("unknown instance", func(t *testing.T) {
		_, err := svc.IssueBook(ctx, uuid.New(), reader, 14)
		assert.ErrorIs(t, err, domainerr.ErrNotFound)
	})

	t.Run("unknown reader", func(t *testing.T) {
		instance := store.addInstance(inventory.StatusAvailable)
		_, err := svc.IssueBook(ctx, instance, uuid.New(), 14)
		assert.ErrorIs(t, err, domainerr.ErrNotFound)
		assert.Equal(t, inventory.StatusAvailable, store.instances[instance])
	})

	assert.Empty(t, store.loans)
}

func TestConcurrentIssueOfSameInstance(t *testing.T) {
	store := newMemStore()
	instance := store.addInstance(inventory.StatusAvailable)
	readers := make([]uuid.UUID, 8)
	for i := range readers {
		readers[i] = store.addReader()
	}
	svc := newTestService(t, store)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		refused   int
	)
	for _, reader := range readers {
		wg.Add(1)
		go func(reader uuid.UUID) {
			defer wg.Done()
			_, err := svc.IssueBook(context.Background(), instance, reader, 14)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domainerr.ErrPreconditionViolation):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(reader)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, len(readers)-1, refused)
	assert.Equal(t, inventory.StatusOnLoan, store.instances[instance])
	assert.Equal(t, 1, store.openLoans(instance))
}

func TestReturnTwice(t *testing.T) {
	store := newMemStore()
	instance := store.addInstance(inventory.StatusAvailable)
	svc := newTestService(t, store)
	ctx := context.Background()

	loan, err := svc.IssueBook(ctx, instance, store.addReader(), 14)
	require.NoError(t, err)

	_, err = svc.ReturnBook(ctx, loan.ID, calendar.AddDays(day0, 30))
	require.NoError(t, err)

	events := len(store.events[instance])
	fine := store.fines[loan.ID]

	_, err = svc.ReturnBook(ctx, loan.ID, calendar.AddDays(day0, 40))
	assert.ErrorIs(t, err, domainerr.ErrAlreadyReturned)
	assert.Equal(t, http.StatusConflict, domainerr.HTTPStatus(err))

	assert.Len(t, store.events[instance], events)
	assert.Equal(t, fine, store.fines[loan.ID])
	assert.Equal(t, calendar.AddDays(day0, 30), *store.loans[loan.ID].ReturnDate)
	assert.Equal(t, inventory.StatusAvailable, store.instances[instance])
}

func TestReturnWithoutFine(t *testing.T) {
	tests := []struct {
		name       string
		returnDate time.Time
	}{
		{name: "same day", returnDate: day0},
		{name: "before due date", returnDate: calendar.AddDays(day0, 7)},
		{name: "on due date", returnDate: calendar.AddDays(day0, 14)},
		{name: "default today", returnDate: time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			instance := store.addInstance(inventory.StatusAvailable)
			svc := newTestService(t, store)
			ctx := context.Background()

			loan, err := svc.IssueBook(ctx, instance, store.addReader(), 14)
			require.NoError(t, err)

			result, err := svc.ReturnBook(ctx, loan.ID, tt.returnDate)
			require.NoError(t, err)
			assert.False(t, result.FineCreated)
			assert.Zero(t, result.FineAmount)
			assert.Empty(t, store.fines)
			assert.Equal(t, inventory.StatusAvailable, store.instances[instance])
		})
	}
}

func TestReturnOneDayLate(t *testing.T) {
	store := newMemStore()
	instance := store.addInstance(inventory.StatusAvailable)
	svc := newTestService(t, store)
	ctx := context.Background()

	loan, err := svc.IssueBook(ctx, instance, store.addReader(), 14)
	require.NoError(t, err)

	result, err := svc.ReturnBook(ctx, loan.ID, calendar.AddDays(day0, 15).Add(23*time.Hour))
	require.NoError(t, err)
	assert.True(t, result.FineCreated)
	assert.Equal(t, fines.DefaultDailyRate, result.FineAmount)
}

func TestReturnRejections(t *testing.T) {
	store := newMemStore()
	instance := store.addInstance(inventory.StatusAvailable)
	svc := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.ReturnBook(ctx, uuid.New(), day0)
	assert.ErrorIs(t, err, domainerr.ErrNotFound)

	loan, err := svc.IssueBook(ctx, instance, store.addReader(), 14)
	require.NoError(t, err)

	_, err = svc.ReturnBook(ctx, loan.ID, calendar.AddDays(day0, -1))
	assert.ErrorIs(t, err, domainerr.ErrConstraintViolation)
	assert.True(t, store.loans[loan.ID].Open())
	assert.Equal(t, inventory.StatusOnLoan, store.instances[instance])
}

func TestTransientFailuresAreRetried(t *testing.T) {
	store := newMemStore()
	instance := store.addInstance(inventory.StatusAvailable)
	reader := store.addReader()
	svc := newTestService(t, store)

	store.transientFailures = 3
	_, err := svc.IssueBook(context.Background(), instance, reader, 14)
	require.NoError(t, err)
	assert.Equal(t, 4, store.attempts)
}

func TestRetryExhaustionSurfacesUnavailable(t *testing.T) {
	store := newMemStore()
	instance := store.addInstance(inventory.StatusAvailable)
	reader := store.addReader()
	svc := newTestService(t, store)

	store.transientFailures = 100
	_, err := svc.IssueBook(context.Background(), instance, reader, 14)
	assert.ErrorIs(t, err, domainerr.ErrUnavailable)
	assert.Equal(t, 4, store.attempts)
	assert.Equal(t, inventory.StatusAvailable, store.instances[instance])
	assert.Empty(t, store.loans)
}

func TestPreconditionIsNotRetried(t *testing.T) {
	store := newMemStore()
	instance := store.addInstance(inventory.StatusLost)
	svc := newTestService(t, store)

	_, err := svc.IssueBook(context.Background(), instance, store.addReader(), 14)
	assert.ErrorIs(t, err, domainerr.ErrPreconditionViolation)
	assert.Equal(t, 1, store.attempts)
}

func TestChangeInstanceStatus(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	instance := store.addInstance(inventory.StatusAvailable)

	status, err := svc.ChangeInstanceStatus(ctx, instance, inventory.EventSendToRepair)
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusInRepair, status)

	_, err = svc.ChangeInstanceStatus(ctx, instance, inventory.EventRelease)
	assert.ErrorIs(t, err, domainerr.ErrPreconditionViolation)

	status, err = svc.ChangeInstanceStatus(ctx, instance, inventory.EventWriteOff)
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusWrittenOff, status)

	_, err = svc.ChangeInstanceStatus(ctx, instance, inventory.EventIssue)
	assert.ErrorIs(t, err, domainerr.ErrConstraintViolation)

	_, err = svc.ChangeInstanceStatus(ctx, uuid.New(), inventory.EventMarkLost)
	assert.ErrorIs(t, err, domainerr.ErrNotFound)

	history, err := svc.InstanceHistory(ctx, instance)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, EventInstanceStatusChanged, history[1].EventType)
}

func TestLostInstanceCannotLeaveALoanOpen(t *testing.T) {
	store := newMemStore()
	instance := store.addInstance(inventory.StatusAvailable)
	svc := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.IssueBook(ctx, instance, store.addReader(), 14)
	require.NoError(t, err)

	_, err = svc.ChangeInstanceStatus(ctx, instance, inventory.EventMarkLost)
	assert.ErrorIs(t, err, domainerr.ErrPreconditionViolation)
	assert.Equal(t, inventory.StatusOnLoan, store.instances[instance])
}

// Any interleaving of circulation and administrative operations keeps "on_loan" and
// "exactly one open loan" in lockstep.
func TestStateConsistencyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := newMemStore()
		readers := []uuid.UUID{store.addReader(), store.addReader()}
		instances := []uuid.UUID{
			store.addInstance(inventory.StatusAvailable),
			store.addInstance(inventory.StatusAvailable),
			store.addInstance(inventory.StatusInRepair),
		}
		svc := buildService(store, zap.NewNop())
		ctx := context.Background()

		var loans []uuid.UUID
		adminEvents := []inventory.Event{
			inventory.EventReserve, inventory.EventRelease, inventory.EventSendToRepair,
			inventory.EventCompleteRepair, inventory.EventMarkLost, inventory.EventMarkFound,
			inventory.EventWriteOff,
		}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				instance := rapid.SampledFrom(instances).Draw(t, "instance")
				reader := rapid.SampledFrom(readers).Draw(t, "reader")
				days := rapid.IntRange(0, 30).Draw(t, "days")
				loan, err := svc.IssueBook(ctx, instance, reader, days)
				if err == nil {
					loans = append(loans, loan.ID)
				} else if !errors.Is(err, domainerr.ErrPreconditionViolation) {
					t.Fatalf("issue: %v", err)
				}
			case 1:
				if len(loans) == 0 {
					continue
				}
				loanID := rapid.SampledFrom(loans).Draw(t, "loan")
				late := rapid.IntRange(0, 60).Draw(t, "returnDay")
				_, err := svc.ReturnBook(ctx, loanID, calendar.AddDays(day0, late))
				if err != nil && !errors.Is(err, domainerr.ErrAlreadyReturned) {
					t.Fatalf("return: %v", err)
				}
			case 2:
				instance := rapid.SampledFrom(instances).Draw(t, "instance")
				event := rapid.SampledFrom(adminEvents).Draw(t, "event")
				_, err := svc.ChangeInstanceStatus(ctx, instance, event)
				if err != nil && !errors.Is(err, domainerr.ErrPreconditionViolation) {
					t.Fatalf("change status: %v", err)
				}
			}

			for _, instance := range instances {
				onLoan := store.instances[instance] == inventory.StatusOnLoan
				open := store.openLoans(instance)
				if onLoan && open != 1 || !onLoan && open != 0 {
					t.Fatalf("instance %s: status %s with %d open loans", instance, store.instances[instance], open)
				}
			}
		}

		for loanID, fine := range store.fines {
			loan := store.loans[loanID]
			days := calendar.DaysBetween(loan.DueDate, *loan.ReturnDate)
			if fine.Amount != int64(days)*fines.DefaultDailyRate {
				t.Fatalf("loan %s: fine %d for %d days late", loanID, fine.Amount, days)
			}
		}
	})
}
