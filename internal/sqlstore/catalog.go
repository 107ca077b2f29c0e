// internal/sqlstore/catalog.go
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"

	"libralend/internal/catalog"
	"libralend/internal/eventstore"
)

var bookColumns = []any{
	"id", "title", "author", "isbn", "published_date", "genre", "language",
	"shelf_location", "quantity", "status", "created_at", "updated_at",
}

// catalogStore implements catalog.Store over a database handle or a transaction.
type catalogStore struct {
	s *Store
	q sqlx.ExtContext
}

func (c *catalogStore) AddBook(ctx context.Context, nb catalog.NewBook) (*catalog.Book, error) {
	ctx, span := c.s.startSpan(ctx, "add_book", attribute.String("book.title", nb.Title))
	defer span.End()

	if err := nb.Validate(); err != nil {
		return nil, err
	}
	book := nb.Build(uuid.New(), c.s.now())

	err := c.s.inTx(ctx, c.q, func(tx sqlx.ExtContext) error {
		if err := c.checkUnique(ctx, tx, book); err != nil {
			return err
		}

		query, args, err := c.s.dialect.Insert(booksTable).Rows(goqu.Record{
			"id":             book.ID.String(),
			"title":          book.Title,
			"author":         book.Author,
			"isbn":           book.ISBN,
			"published_date": book.PublishedDate,
			"genre":          book.Genre,
			"language":       book.Language,
			"shelf_location": book.ShelfLocation,
			"quantity":       book.Quantity,
			"status":         string(book.Status),
			"created_at":     book.CreatedAt,
			"updated_at":     book.UpdatedAt,
		}).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if eventstore.IsUniqueViolation(err) {
				return catalog.ErrDuplicateTitle
			}
			return fmt.Errorf("insert book: %w", err)
		}

		return c.s.appendEvent(ctx, tx, book, "BookAdded", catalog.BookAddedEvent{
			ID:       book.ID,
			Title:    book.Title,
			ISBN:     book.ISBN,
			Quantity: book.Quantity,
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return book, nil
}

// checkUnique tells a duplicate title apart from an ISBN held by another title.
func (c *catalogStore) checkUnique(ctx context.Context, q sqlx.QueryerContext, book *catalog.Book) error {
	query, args, err := c.s.dialect.From(booksTable).
		Select("title", "isbn").
		Where(goqu.Or(
			goqu.C("title").Eq(book.Title),
			goqu.C("isbn").Eq(book.ISBN),
		)).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build uniqueness query: %w", err)
	}

	var clashes []struct {
		Title string `db:"title"`
		ISBN  string `db:"isbn"`
	}
	if err := sqlx.SelectContext(ctx, q, &clashes, query, args...); err != nil {
		return fmt.Errorf("query uniqueness: %w", err)
	}
	for _, clash := range clashes {
		if clash.Title == book.Title {
			return catalog.ErrDuplicateTitle
		}
	}
	if len(clashes) > 0 {
		return catalog.ErrDuplicateISBN
	}
	return nil
}

func (c *catalogStore) FindBook(ctx context.Context, title string) (*catalog.Book, error) {
	ctx, span := c.s.startSpan(ctx, "find_book", attribute.String("book.title", title))
	defer span.End()

	return c.find(ctx, title)
}

func (c *catalogStore) find(ctx context.Context, title string) (*catalog.Book, error) {
	query, args, err := c.s.dialect.From(booksTable).
		Select(bookColumns...).
		Where(goqu.C("title").Eq(title)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build find query: %w", err)
	}

	var book catalog.Book
	if err := sqlx.GetContext(ctx, c.q, &book, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("query book: %w", err)
	}
	normalizeBook(&book)
	return &book, nil
}

// AdjustQuantity swaps the quantity only if nobody changed it since it was
// read, and retries otherwise.
func (c *catalogStore) AdjustQuantity(ctx context.Context, title string, delta int) (*catalog.Book, error) {
	ctx, span := c.s.startSpan(ctx, "adjust_quantity",
		attribute.String("book.title", title),
		attribute.Int("delta", delta),
	)
	defer span.End()

	for attempt := 1; attempt <= maxSwapAttempts; attempt++ {
		book, err := c.find(ctx, title)
		if err != nil {
			return nil, err
		}
		if delta > catalog.MaxQuantity-book.Quantity {
			return nil, catalog.ErrQuantityLimit
		}
		next := book.Quantity + delta
		if next < 0 {
			return nil, catalog.ErrNegativeResult
		}

		now := c.s.now()
		status := catalog.StatusFor(next)
		query, args, err := c.s.dialect.Update(booksTable).
			Set(goqu.Record{
				"quantity":   next,
				"status":     string(status),
				"updated_at": now,
			}).
			Where(
				goqu.C("title").Eq(title),
				goqu.C("quantity").Eq(book.Quantity),
			).
			Prepared(true).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build update: %w", err)
		}

		res, err := c.q.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("update quantity: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("update quantity: %w", err)
		}
		if n == 1 {
			span.SetAttributes(attribute.Int("swap.attempts", attempt))
			book.Quantity = next
			book.Status = status
			book.UpdatedAt = now
			return book, nil
		}
	}
	return nil, fmt.Errorf("quantity of %q changed concurrently %d times", title, maxSwapAttempts)
}

func (c *catalogStore) ListBooks(ctx context.Context, filter catalog.Filter) ([]catalog.Book, error) {
	ctx, span := c.s.startSpan(ctx, "list_books", attribute.String("book.title", filter.Title))
	defer span.End()

	ds := c.s.dialect.From(booksTable).Select(bookColumns...).Order(goqu.C("seq").Asc())
	if filter.Title != "" {
		ds = ds.Where(goqu.C("title").Eq(filter.Title))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	books := make([]catalog.Book, 0)
	if err := sqlx.SelectContext(ctx, c.q, &books, query, args...); err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	for i := range books {
		normalizeBook(&books[i])
	}
	return books, nil
}

func normalizeBook(b *catalog.Book) {
	b.PublishedDate = b.PublishedDate.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
}
