package circulation

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"libracirc/internal/domainerr"
	"libracirc/internal/eventstore"
	"libracirc/internal/fines"
	"libracirc/internal/inventory"
)

// memStore serializes transactions behind one mutex and restores a snapshot on failure.
type memStore struct {
	mu sync.Mutex

	readers   map[uuid.UUID]bool
	instances map[uuid.UUID]inventory.Status
	loans     map[uuid.UUID]Loan
	fines     map[uuid.UUID]fines.Fine
	events    map[uuid.UUID][]eventstore.Event

	transientFailures int
	attempts          int
}

func newMemStore() *memStore {
	return &memStore{
		readers:   map[uuid.UUID]bool{},
		instances: map[uuid.UUID]inventory.Status{},
		loans:     map[uuid.UUID]Loan{},
		fines:     map[uuid.UUID]fines.Fine{},
		events:    map[uuid.UUID][]eventstore.Event{},
	}
}

func (s *memStore) addReader() uuid.UUID {
	id := uuid.New()
	s.readers[id] = true
	return id
}

func (s *memStore) addInstance(status inventory.Status) uuid.UUID {
	id := uuid.New()
	s.instances[id] = status
	return id
}

type memSnapshot struct {
	instances map[uuid.UUID]inventory.Status
	loans     map[uuid.UUID]Loan
	fines     map[uuid.UUID]fines.Fine
	events    map[uuid.UUID][]eventstore.Event
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.transientFailures > 0 {
		s.transientFailures--
		return fmt.Errorf("%w: injected serialization failure", domainerr.ErrTransient)
	}

	snap := memSnapshot{
		instances: maps.Clone(s.instances),
		loans:     maps.Clone(s.loans),
		fines:     maps.Clone(s.fines),
		events:    map[uuid.UUID][]eventstore.Event{},
	}
	for id, evs := range s.events {
		snap.events[id] = slices.Clone(evs)
	}

	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.instances = snap.instances
		s.loans = snap.loans
		s.fines = snap.fines
		s.events = snap.events
		return err
	}
	return nil
}

func (s *memStore) InstanceHistory(_ context.Context, instanceID uuid.UUID) ([]eventstore.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[instanceID]; !ok {
		return nil, domainerr.NotFound("instance", instanceID.String())
	}
	return slices.Clone(s.events[instanceID]), nil
}

func (s *memStore) openLoans(instanceID uuid.UUID) int {
	n := 0
	for _, l := range s.loans {
		if l.InstanceID == instanceID && l.Open() {
			n++
		}
	}
	return n
}

type memTx struct {
	s *memStore
}

func (t *memTx) ReaderExists(_ context.Context, readerID uuid.UUID) (bool, error) {
	return t.s.readers[readerID], nil
}

func (t *memTx) TransitionInstance(_ context.Context, instanceID uuid.UUID, from []inventory.Status, to inventory.Status) (bool, error) {
	status, ok := t.s.instances[instanceID]
	if !ok || !slices.Contains(from, status) {
		return false, nil
	}
	t.s.instances[instanceID] = to
	return true, nil
}

func (t *memTx) InstanceStatus(_ context.Context, instanceID uuid.UUID) (inventory.Status, bool, error) {
	status, ok := t.s.instances[instanceID]
	return status, ok, nil
}

func (t *memTx) InsertLoan(_ context.Context, loan Loan) error {
	if !loan.DueDate.After(loan.LoanDate) {
		return domainerr.Constraint("due date must be after loan date")
	}
	if t.s.openLoans(loan.InstanceID) > 0 {
		return fmt.Errorf("%w: open loan exists", domainerr.ErrTransient)
	}
	t.s.loans[loan.ID] = loan
	return nil
}

func (t *memTx) LockLoan(_ context.Context, loanID uuid.UUID) (Loan, error) {
	loan, ok := t.s.loans[loanID]
	if !ok {
		return Loan{}, domainerr.NotFound("loan", loanID.String())
	}
	return loan, nil
}

func (t *memTx) CloseLoan(_ context.Context, loanID uuid.UUID, returnDate time.Time) error {
	loan := t.s.loans[loanID]
	if !loan.Open() {
		return domainerr.ErrAlreadyReturned
	}
	d := returnDate
	loan.ReturnDate = &d
	t.s.loans[loanID] = loan
	return nil
}

func (t *memTx) InsertFine(_ context.Context, fine fines.Fine) error {
	if _, ok := t.s.fines[fine.LoanID]; ok {
		return domainerr.ErrAlreadyReturned
	}
	t.s.fines[fine.LoanID] = fine
	return nil
}

func (t *memTx) AppendEvents(_ context.Context, aggregateID uuid.UUID, aggregateType string, events []eventstore.Event) error {
	version := len(t.s.events[aggregateID])
	for _, e := range events {
		version++
		e.AggregateID = aggregateID
		e.AggregateType = aggregateType
		e.Version = version
		t.s.events[aggregateID] = append(t.s.events[aggregateID], e)
	}
	return nil
}
