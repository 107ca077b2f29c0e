// internal/sqlstore/store.go
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libralend/internal/auth"
	"libralend/internal/catalog"
	"libralend/internal/eventstore"
	"libralend/internal/ledger"
	"libralend/internal/lending"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const (
	booksTable   = "books"
	recordsTable = "lending_records"

	aggregateBook = "book"

	// maxSwapAttempts bounds the compare-and-set loops on quantity and
	// record status.
	maxSwapAttempts = 8
)

// Store persists the catalog, the lending ledger and the lending journal in
// one SQL database.
type Store struct {
	db      *sqlx.DB
	driver  string
	dialect goqu.DialectWrapper
	journal *eventstore.Journal
	tracer  trace.Tracer
	now     func() time.Time
}

var _ lending.Transactor = (*Store)(nil)

// Open connects to the database, tunes the pool for the driver and applies
// the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// one writer at a time; _txlock=immediate in the DSN makes BEGIN take it
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping %s: %w", driver, err), db.Close())
	}

	s := New(db, driver)
	if err := s.Migrate(ctx); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return s, nil
}

// New wraps an open handle. The schema is not touched.
func New(db *sqlx.DB, driver string) *Store {
	return &Store{
		db:      db,
		driver:  driver,
		dialect: goqu.Dialect(driver),
		journal: eventstore.New(driver),
		tracer:  otel.Tracer("libralend/sqlstore"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SQLiteDSN builds a file DSN suited to concurrent use by this store.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
}

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schemaFor(s.driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Catalog returns the catalog view outside any transaction.
func (s *Store) Catalog() catalog.Store {
	return &catalogStore{s: s, q: s.db}
}

// Ledger returns the ledger view outside any transaction.
func (s *Store) Ledger() ledger.Store {
	return &ledgerStore{s: s, q: s.db}
}

// InTx runs fn with catalog and ledger views bound to one transaction. It
// commits when fn returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, books catalog.Store, records ledger.Store) error) error {
	return s.inTx(ctx, s.db, func(tx sqlx.ExtContext) error {
		return fn(ctx, &catalogStore{s: s, q: tx}, &ledgerStore{s: s, q: tx})
	})
}

// inTx reuses q when it already is a transaction.
func (s *Store) inTx(ctx context.Context, q sqlx.ExtContext, fn func(tx sqlx.ExtContext) error) (err error) {
	if tx, ok := q.(*sqlx.Tx); ok {
		return fn(tx)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// BookEvents replays the journal of one title, oldest first.
func (s *Store) BookEvents(ctx context.Context, title string) ([]eventstore.Event, error) {
	book, err := s.Catalog().FindBook(ctx, title)
	if err != nil {
		return nil, err
	}
	return s.journal.Load(ctx, s.db, book.ID, 1)
}

func (s *Store) appendEvent(ctx context.Context, q sqlx.ExtContext, book *catalog.Book, eventType string, payload any) error {
	var metadata map[string]string
	if caller, ok := auth.CallerFrom(ctx); ok {
		metadata = map[string]string{"caller": caller}
	}
	ev, err := eventstore.NewEvent(eventType, payload, metadata)
	if err != nil {
		return err
	}
	if err := s.journal.Append(ctx, q, book.ID, aggregateBook, eventstore.AnyVersion, ev); err != nil {
		return fmt.Errorf("journal %s for %q: %w", eventType, book.Title, err)
	}
	return nil
}

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "sqlstore."+name, trace.WithAttributes(
		append(attrs, attribute.String("db.system", s.driver))...,
	))
}
