// Package eventstore keeps the append-only circulation journal. Every state transition of an
// instance or reservation is recorded here inside the same transaction that performs it.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// AnyVersion skips the optimistic version check. Use it when the caller already holds
// a row lock that serializes writers of the aggregate.
const AnyVersion = -1

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is one journal entry.
type Event struct {
	ID            int64           `json:"id" db:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	EventType     string          `json:"event_type" db:"event_type"`
	EventData     json.RawMessage `json:"event_data" db:"event_data"`
	Metadata      map[string]any  `json:"metadata,omitempty" db:"metadata"`
	Version       int             `json:"version" db:"version"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// NewEvent encodes payload into an event of the given type.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := codec.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: data}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return codec.Unmarshal(e.EventData, v)
}

type actorKey struct{}

// ContextWithActor records who is acting; appended events carry it as metadata.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor set by ContextWithActor.
func ActorFromContext(ctx context.Context) (string, bool) {
	a, ok := ctx.Value(actorKey{}).(string)
	return a, ok && a != ""
}

// EventStore reads and writes the events table.
type EventStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// NewEventStore creates a journal over db.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{
		db:     sqlx.NewDb(db, "postgres"),
		tracer: otel.Tracer("libracirc/eventstore"),
	}
}

var journal = goqu.Dialect("postgres")

var eventColumns = []any{
	"id", "aggregate_id", "aggregate_type", "event_type", "event_data", "metadata", "version", "created_at",
}

// row is an events table row; JSONB columns arrive as raw bytes.
type row struct {
	ID            int64     `db:"id"`
	AggregateID   uuid.UUID `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	EventData     []byte    `db:"event_data"`
	Metadata      []byte    `db:"metadata"`
	Version       int       `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r row) event() (Event, error) {
	e := Event{
		ID:            r.ID,
		AggregateID:   r.AggregateID,
		AggregateType: r.AggregateType,
		EventType:     r.EventType,
		EventData:     r.EventData,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := codec.Unmarshal(r.Metadata, &e.Metadata); err != nil {
			return Event{}, fmt.Errorf("decode metadata of event %d: %w", r.ID, err)
		}
	}
	return e, nil
}

// AppendEvents appends events in a serializable transaction of its own.
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	tx, err := es.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin journal transaction: %w", err)
	}
	defer tx.Rollback()

	if err := es.AppendTx(ctx, tx, aggregateID, aggregateType, expectedVersion, events); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendTx appends events inside the caller's transaction, so the journal entry commits or
// rolls back together with the state change it describes. Versions continue from the
// aggregate's highest recorded version.
func (es *EventStore) AppendTx(ctx context.Context, tx *sql.Tx, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "journal.append", trace.WithAttributes(
		attribute.String("journal.aggregate_id", aggregateID.String()),
		attribute.String("journal.aggregate_type", aggregateType),
		attribute.Int("journal.expected_version", expectedVersion),
	))
	defer span.End()

	if expectedVersion < AnyVersion {
		return ErrInvalidVersion
	}
	if len(events) == 0 {
		return nil
	}

	var head int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`, aggregateID,
	).Scan(&head); err != nil {
		return fmt.Errorf("read journal head: %w", err)
	}
	if expectedVersion != AnyVersion && head != expectedVersion {
		span.SetAttributes(attribute.Int("journal.head", head))
		return ErrConcurrencyConflict
	}

	metadata, err := es.metadataFor(ctx, events)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	records := make([]any, len(events))
	for i, e := range events {
		records[i] = goqu.Record{
			"aggregate_id":   aggregateID,
			"aggregate_type": aggregateType,
			"event_type":     e.EventType,
			"event_data":     string(e.EventData),
			"metadata":       metadata[i],
			"version":        head + i + 1,
			"created_at":     now,
		}
	}

	query, args, err := journal.Insert("events").Prepared(true).Rows(records...).ToSQL()
	if err != nil {
		return fmt.Errorf("build journal insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("insert journal entries: %w", err)
	}

	span.SetAttributes(attribute.Int("journal.new_head", head+len(events)))
	return nil
}

// metadataFor encodes each event's metadata, stamping the actor from ctx.
func (es *EventStore) metadataFor(ctx context.Context, events []Event) ([]string, error) {
	actor, hasActor := ActorFromContext(ctx)

	out := make([]string, len(events))
	for i, e := range events {
		m := e.Metadata
		if hasActor {
			m = make(map[string]any, len(e.Metadata)+1)
			for k, v := range e.Metadata {
				m[k] = v
			}
			m["actor"] = actor
		}

		b, err := codec.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode metadata of %s: %w", e.EventType, err)
		}
		out[i] = string(b)
	}
	return out, nil
}

// LoadEvents returns the events of one aggregate ordered by version. toVersion 0 means no upper bound.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "journal.load", trace.WithAttributes(
		attribute.String("journal.aggregate_id", aggregateID.String()),
	))
	defer span.End()

	where := goqu.Ex{
		"aggregate_id": aggregateID,
		"version":      goqu.Op{"gte": fromVersion},
	}
	if toVersion > 0 {
		where["version"] = goqu.Op{"between": goqu.Range(fromVersion, toVersion)}
	}

	ds := journal.From("events").Prepared(true).Select(eventColumns...).Where(where).Order(goqu.C("version").Asc())
	return es.selectEvents(ctx, ds)
}

// StreamEvents pages through the whole journal by event id.
func (es *EventStore) StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "journal.stream", trace.WithAttributes(
		attribute.Int64("journal.after_id", fromID),
	))
	defer span.End()

	ds := journal.From("events").Prepared(true).Select(eventColumns...).
		Where(goqu.C("id").Gt(fromID)).
		Order(goqu.C("id").Asc()).
		Limit(uint(batchSize))
	return es.selectEvents(ctx, ds)
}

func (es *EventStore) selectEvents(ctx context.Context, ds *goqu.SelectDataset) ([]Event, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build journal query: %w", err)
	}

	var rows []row
	if err := es.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		e, err := r.event()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("journal.events", len(events)))
	return events, nil
}
