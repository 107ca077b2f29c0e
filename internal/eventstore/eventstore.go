// internal/eventstore/eventstore.go
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// AnyVersion skips the optimistic version check on Append.
const AnyVersion = -1

const table = "events"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is one journal entry. Versions start at 1 per aggregate.
type Event struct {
	ID            int64             `json:"id" db:"id"`
	AggregateID   uuid.UUID         `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string            `json:"aggregate_type" db:"aggregate_type"`
	EventType     string            `json:"event_type" db:"event_type"`
	EventData     []byte            `json:"event_data" db:"-"`
	Metadata      map[string]string `json:"metadata,omitempty" db:"-"`
	Version       int               `json:"version" db:"version"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// NewEvent encodes payload as the event body.
func NewEvent(eventType string, payload any, metadata map[string]string) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: data, Metadata: metadata}, nil
}

// Decode unmarshals the event body into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.EventData, v); err != nil {
		return fmt.Errorf("decode %s event %d: %w", e.EventType, e.Version, err)
	}
	return nil
}

// eventRow carries the JSON columns as text, which both drivers can scan.
type eventRow struct {
	Event
	Data     string         `db:"event_data"`
	Metadata sql.NullString `db:"metadata"`
}

// Journal appends and reads events through whatever sqlx handle the caller
// owns, so appends share the caller's transaction.
type Journal struct {
	dialect goqu.DialectWrapper
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates a journal speaking the given goqu dialect ("postgres" or "sqlite3").
func New(dialect string) *Journal {
	return &Journal{
		dialect: goqu.Dialect(dialect),
		tracer:  otel.Tracer("libralend/eventstore"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Append adds events after expectedVersion. Pass AnyVersion to append after
// whatever is current. A concurrent writer that claimed the same version
// yields ErrConcurrencyConflict.
func (j *Journal) Append(ctx context.Context, q sqlx.ExtContext, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events ...Event) (err error) {
	ctx, span := j.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < AnyVersion {
		return ErrInvalidVersion
	}

	current, err := j.CurrentVersion(ctx, q, aggregateID)
	if err != nil {
		return err
	}
	if expectedVersion != AnyVersion && current != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", current),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	for i, event := range events {
		version := current + i + 1
		metadata, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata of event %d: %w", i, err)
		}

		query, args, err := j.dialect.Insert(table).Rows(goqu.Record{
			"aggregate_id":   aggregateID.String(),
			"aggregate_type": aggregateType,
			"event_type":     event.EventType,
			"event_data":     string(event.EventData),
			"metadata":       string(metadata),
			"version":        version,
			"created_at":     j.now(),
		}).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}

		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			if IsUniqueViolation(err) {
				span.SetAttributes(attribute.Bool("conflict.detected", true))
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}
	return nil
}

// Load returns the events of one aggregate from fromVersion on, oldest first.
func (j *Journal) Load(ctx context.Context, q sqlx.QueryerContext, aggregateID uuid.UUID, fromVersion int) ([]Event, error) {
	ctx, span := j.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
		),
	)
	defer span.End()

	ds := j.selectEvents().
		Where(
			goqu.C("aggregate_id").Eq(aggregateID.String()),
			goqu.C("version").Gte(fromVersion),
		).
		Order(goqu.C("version").Asc())

	events, err := j.query(ctx, q, ds)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// Stream returns up to batchSize events with an id above fromID, across all
// aggregates, for projections that follow the journal.
func (j *Journal) Stream(ctx context.Context, q sqlx.QueryerContext, fromID int64, batchSize uint) ([]Event, error) {
	ctx, span := j.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", int(batchSize)),
		),
	)
	defer span.End()

	ds := j.selectEvents().
		Where(goqu.C("id").Gt(fromID)).
		Order(goqu.C("id").Asc()).
		Limit(batchSize)

	events, err := j.query(ctx, q, ds)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

// CurrentVersion returns the latest version of an aggregate, 0 when it has none.
func (j *Journal) CurrentVersion(ctx context.Context, q sqlx.QueryerContext, aggregateID uuid.UUID) (int, error) {
	query, args, err := j.dialect.From(table).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Where(goqu.C("aggregate_id").Eq(aggregateID.String())).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build version query: %w", err)
	}

	var version int
	if err := sqlx.GetContext(ctx, q, &version, query, args...); err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

func (j *Journal) selectEvents() *goqu.SelectDataset {
	return j.dialect.From(table).Select(
		"id", "aggregate_id", "aggregate_type", "event_type",
		"event_data", "metadata", "version", "created_at",
	)
}

func (j *Journal) query(ctx context.Context, q sqlx.QueryerContext, ds *goqu.SelectDataset) ([]Event, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build event query: %w", err)
	}

	var rows []eventRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		event := row.Event
		event.EventData = []byte(row.Data)
		if row.Metadata.Valid && row.Metadata.String != "" {
			if err := json.UnmarshalFromString(row.Metadata.String, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", event.ID, err)
			}
		}
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	return events, nil
}

// IsUniqueViolation reports whether err is a unique-constraint failure from
// either supported driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
