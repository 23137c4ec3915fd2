package reservations

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"libracirc/internal/domainerr"
	"libracirc/internal/eventstore"
	"libracirc/internal/storage/storagetest"
)

func seed(t *testing.T, db *sqlx.DB) (bookID, readerID uuid.UUID) {
	t.Helper()

	bookID, readerID = uuid.New(), uuid.New()
	_, err := db.Exec(`INSERT INTO books (id, title) VALUES ($1, 'Лісова пісня')`, bookID)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO readers (id, name, email) VALUES ($1, 'Леся', $2)`, readerID, readerID.String()+"@example.org")
	require.NoError(t, err)
	return bookID, readerID
}

func TestReservationLifecycle(t *testing.T) {
	db := storagetest.Open(t)
	journal := eventstore.NewEventStore(db.DB)
	svc := NewService(db.DB, journal, zaptest.NewLogger(t))
	ctx := context.Background()

	bookID, readerID := seed(t, db)

	first, err := svc.Place(ctx, bookID, readerID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, first.Status)

	time.Sleep(5 * time.Millisecond)
	second, err := svc.Place(ctx, bookID, readerID)
	require.NoError(t, err)

	queue, err := svc.ListForBook(ctx, bookID)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, first.ID, queue[0].ID)

	done, err := svc.Complete(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, bookID, done.BookID)

	_, err = svc.Cancel(ctx, first.ID)
	assert.ErrorIs(t, err, domainerr.ErrPreconditionViolation)

	canceled, err := svc.Cancel(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, canceled.Status)

	queue, err = svc.ListForBook(ctx, bookID)
	require.NoError(t, err)
	assert.Empty(t, queue)

	got, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	events, err := journal.LoadEvents(ctx, first.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventReservationPlaced, events[0].EventType)
	assert.Equal(t, EventReservationCompleted, events[1].EventType)
}

func TestReservationUnknownReferences(t *testing.T) {
	db := storagetest.Open(t)
	svc := NewService(db.DB, eventstore.NewEventStore(db.DB), zaptest.NewLogger(t))
	ctx := context.Background()

	bookID, readerID := seed(t, db)

	_, err := svc.Place(ctx, uuid.New(), readerID)
	assert.ErrorIs(t, err, domainerr.ErrNotFound)

	_, err = svc.Place(ctx, bookID, uuid.New())
	assert.ErrorIs(t, err, domainerr.ErrNotFound)

	_, err = svc.Complete(ctx, uuid.New())
	assert.ErrorIs(t, err, domainerr.ErrNotFound)

	_, err = svc.ListForBook(ctx, uuid.New())
	assert.ErrorIs(t, err, domainerr.ErrNotFound)
}
