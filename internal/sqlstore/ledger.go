// internal/sqlstore/ledger.go
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"

	"libralend/internal/catalog"
	"libralend/internal/ledger"
)

var recordColumns = []any{
	"id", "seq", "borrower_name", "borrower_contact", "book_title", "year_level",
	"program_course", "date_borrowed", "date_returned", "status",
}

// ledgerStore implements ledger.Store over a database handle or a transaction.
type ledgerStore struct {
	s *Store
	q sqlx.ExtContext
}

func (l *ledgerStore) OpenRecord(ctx context.Context, nr ledger.NewRecord) (*ledger.Record, error) {
	ctx, span := l.s.startSpan(ctx, "open_record", attribute.String("book.title", nr.BookTitle))
	defer span.End()

	var rec *ledger.Record
	err := l.s.inTx(ctx, l.q, func(tx sqlx.ExtContext) error {
		book, err := (&catalogStore{s: l.s, q: tx}).find(ctx, nr.BookTitle)
		if err != nil {
			return err
		}

		draft := nr.Build(uuid.New(), 0)
		query, args, err := l.s.dialect.Insert(recordsTable).Rows(goqu.Record{
			"id":               draft.ID.String(),
			"borrower_name":    draft.BorrowerName,
			"borrower_contact": draft.BorrowerContact,
			"book_title":       draft.BookTitle,
			"year_level":       draft.YearLevel,
			"program_course":   draft.ProgramCourse,
			"date_borrowed":    draft.DateBorrowed,
			"status":           string(draft.Status),
		}).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert lending record: %w", err)
		}

		if rec, err = l.byID(ctx, tx, draft.ID); err != nil {
			return err
		}
		return l.s.appendEvent(ctx, tx, book, "BookBorrowed", ledger.BookBorrowedEvent{
			RecordID:     rec.ID,
			BookTitle:    rec.BookTitle,
			BorrowerName: rec.BorrowerName,
			DateBorrowed: rec.DateBorrowed,
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return rec, nil
}

// CloseRecord closes the Outstanding record with the lowest seq. The status
// guard on the update keeps two closers from taking the same record.
func (l *ledgerStore) CloseRecord(ctx context.Context, title string, dateReturned time.Time) (*ledger.Record, error) {
	ctx, span := l.s.startSpan(ctx, "close_record", attribute.String("book.title", title))
	defer span.End()

	var rec *ledger.Record
	err := l.s.inTx(ctx, l.q, func(tx sqlx.ExtContext) error {
		for attempt := 1; attempt <= maxSwapAttempts; attempt++ {
			oldest, err := l.oldestOutstanding(ctx, tx, title)
			if err != nil {
				return err
			}

			returned := dateReturned.UTC()
			query, args, err := l.s.dialect.Update(recordsTable).
				Set(goqu.Record{
					"date_returned": returned,
					"status":        string(ledger.StatusClosed),
				}).
				Where(
					goqu.C("id").Eq(oldest.ID.String()),
					goqu.C("status").Eq(string(ledger.StatusOutstanding)),
				).
				Prepared(true).ToSQL()
			if err != nil {
				return fmt.Errorf("build update: %w", err)
			}

			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("close lending record: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return fmt.Errorf("close lending record: %w", err)
			} else if n == 0 {
				continue
			}

			oldest.DateReturned = &returned
			oldest.Status = ledger.StatusClosed
			rec = oldest
			break
		}
		if rec == nil {
			return fmt.Errorf("outstanding records of %q closed concurrently %d times", title, maxSwapAttempts)
		}

		book, err := (&catalogStore{s: l.s, q: tx}).find(ctx, title)
		if err != nil {
			return err
		}
		return l.s.appendEvent(ctx, tx, book, "BookReturned", ledger.BookReturnedEvent{
			RecordID:     rec.ID,
			BookTitle:    rec.BookTitle,
			DateReturned: *rec.DateReturned,
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return rec, nil
}

func (l *ledgerStore) oldestOutstanding(ctx context.Context, q sqlx.QueryerContext, title string) (*ledger.Record, error) {
	query, args, err := l.s.dialect.From(recordsTable).
		Select(recordColumns...).
		Where(
			goqu.C("book_title").Eq(title),
			goqu.C("status").Eq(string(ledger.StatusOutstanding)),
		).
		Order(goqu.C("seq").Asc()).
		Limit(1).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build outstanding query: %w", err)
	}
	return l.get(ctx, q, query, args, ledger.ErrNoOutstandingRecord)
}

func (l *ledgerStore) byID(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*ledger.Record, error) {
	query, args, err := l.s.dialect.From(recordsTable).
		Select(recordColumns...).
		Where(goqu.C("id").Eq(id.String())).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build record query: %w", err)
	}
	return l.get(ctx, q, query, args, fmt.Errorf("lending record %s vanished", id))
}

func (l *ledgerStore) get(ctx context.Context, q sqlx.QueryerContext, query string, args []any, notFound error) (*ledger.Record, error) {
	var rec ledger.Record
	if err := sqlx.GetContext(ctx, q, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}
		return nil, fmt.Errorf("query lending record: %w", err)
	}
	normalizeRecord(&rec)
	return &rec, nil
}

func (l *ledgerStore) ListHistory(ctx context.Context) ([]ledger.HistoryEntry, error) {
	ctx, span := l.s.startSpan(ctx, "list_history")
	defer span.End()

	query, args, err := l.s.dialect.From(recordsTable).
		Select(recordColumns...).
		Order(goqu.C("seq").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	var records []ledger.Record
	if err := sqlx.SelectContext(ctx, l.q, &records, query, args...); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	history := make([]ledger.HistoryEntry, 0, len(records))
	for i := range records {
		normalizeRecord(&records[i])
		history = append(history, records[i].Project())
	}
	span.SetAttributes(attribute.Int("history.size", len(history)))
	return history, nil
}

func (l *ledgerStore) CountOutstanding(ctx context.Context, title string) (int, error) {
	ctx, span := l.s.startSpan(ctx, "count_outstanding", attribute.String("book.title", title))
	defer span.End()

	query, args, err := l.s.dialect.From(recordsTable).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.C("book_title").Eq(title),
			goqu.C("status").Eq(string(ledger.StatusOutstanding)),
		).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var n int
	if err := sqlx.GetContext(ctx, l.q, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count outstanding: %w", err)
	}
	return n, nil
}

func normalizeRecord(r *ledger.Record) {
	r.DateBorrowed = r.DateBorrowed.UTC()
	if r.DateReturned != nil {
		returned := r.DateReturned.UTC()
		r.DateReturned = &returned
	}
}

var _ catalog.Store = (*catalogStore)(nil)
var _ ledger.Store = (*ledgerStore)(nil)
