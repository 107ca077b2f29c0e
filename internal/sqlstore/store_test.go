package sqlstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libralend/internal/auth"
	"libralend/internal/catalog"
	"libralend/internal/ledger"
	"libralend/internal/lending"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, SQLiteDSN(filepath.Join(t.TempDir(), "libralend.db")))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dune(quantity int) catalog.NewBook {
	return catalog.NewBook{
		Title:         "Dune",
		Author:        "Frank Herbert",
		ISBN:          "9780441013593",
		PublishedDate: time.Date(1965, time.August, 1, 0, 0, 0, 0, time.UTC),
		Genre:         "Science Fiction",
		Language:      "English",
		ShelfLocation: "SF-01",
		Status:        catalog.StatusAvailable,
		Quantity:      quantity,
	}
}

func day(d int) time.Time {
	return time.Date(2024, time.May, d, 0, 0, 0, 0, time.UTC)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.Error(t, err)
}

func TestCatalogStore(t *testing.T) {
	ctx := context.Background()
	books := openTestStore(t).Catalog()

	added, err := books.AddBook(ctx, dune(1))
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusAvailable, added.Status)

	found, err := books.FindBook(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, added.ID, found.ID)
	assert.Equal(t, added.PublishedDate, found.PublishedDate)
	assert.Equal(t, 1, found.Quantity)

	_, err = books.AddBook(ctx, dune(1))
	assert.ErrorIs(t, err, catalog.ErrDuplicateTitle)

	clash := dune(1)
	clash.Title = "Dune Messiah"
	_, err = books.AddBook(ctx, clash)
	assert.ErrorIs(t, err, catalog.ErrDuplicateISBN)

	_, err = books.AddBook(ctx, catalog.NewBook{Title: "Emma"})
	var missing *catalog.MissingFieldsError
	assert.ErrorAs(t, err, &missing)

	_, err = books.FindBook(ctx, "Emma")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	adjusted, err := books.AdjustQuantity(ctx, "Dune", -1)
	require.NoError(t, err)
	assert.Equal(t, 0, adjusted.Quantity)
	assert.Equal(t, catalog.StatusUnavailable, adjusted.Status)

	_, err = books.AdjustQuantity(ctx, "Dune", -1)
	assert.ErrorIs(t, err, catalog.ErrNegativeResult)
	_, err = books.AdjustQuantity(ctx, "Emma", 1)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	emma := dune(3)
	emma.Title, emma.ISBN, emma.Author = "Emma", "9780141439587", "Jane Austen"
	_, err = books.AddBook(ctx, emma)
	require.NoError(t, err)

	all, err := books.ListBooks(ctx, catalog.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Dune", all[0].Title)
	assert.Equal(t, catalog.StatusUnavailable, all[0].Status)
	assert.Equal(t, "Emma", all[1].Title)

	only, err := books.ListBooks(ctx, catalog.Filter{Title: "Emma"})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, 3, only[0].Quantity)

	none, err := books.ListBooks(ctx, catalog.Filter{Title: "Ulysses"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestCatalogStoreQuantityLimit(t *testing.T) {
	ctx := context.Background()
	books := openTestStore(t).Catalog()

	_, err := books.AddBook(ctx, dune(catalog.MaxQuantity+1))
	assert.ErrorIs(t, err, catalog.ErrInvalidInput)

	_, err = books.AddBook(ctx, dune(catalog.MaxQuantity))
	require.NoError(t, err)
	_, err = books.AdjustQuantity(ctx, "Dune", 1)
	assert.ErrorIs(t, err, catalog.ErrQuantityLimit)

	found, err := books.FindBook(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, catalog.MaxQuantity, found.Quantity)
}

func TestLedgerStore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Catalog().AddBook(ctx, dune(2))
	require.NoError(t, err)
	records := s.Ledger()

	first, err := records.OpenRecord(ctx, ledger.NewRecord{
		BorrowerName:    "Alice",
		BorrowerContact: "alice@example.org",
		BookTitle:       "Dune",
		YearLevel:       "2",
		DateBorrowed:    day(1),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOutstanding, first.Status)
	assert.Nil(t, first.DateReturned)
	assert.Equal(t, day(1), first.DateBorrowed)
	assert.Equal(t, "alice@example.org", first.BorrowerContact)

	second, err := records.OpenRecord(ctx, ledger.NewRecord{BorrowerName: "Bob", BookTitle: "Dune", DateBorrowed: day(1)})
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)

	n, err := records.CountOutstanding(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	closed, err := records.CloseRecord(ctx, "Dune", day(3))
	require.NoError(t, err)
	assert.Equal(t, first.ID, closed.ID)
	require.NotNil(t, closed.DateReturned)
	assert.Equal(t, day(3), *closed.DateReturned)

	closed, err = records.CloseRecord(ctx, "Dune", day(4))
	require.NoError(t, err)
	assert.Equal(t, second.ID, closed.ID)

	_, err = records.CloseRecord(ctx, "Dune", day(5))
	assert.ErrorIs(t, err, ledger.ErrNoOutstandingRecord)

	history, err := records.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Alice", history[0].BorrowerName)
	assert.Equal(t, ledger.StatusClosed, history[0].Status)
	require.NotNil(t, history[1].DateReturned)
	assert.Equal(t, day(4), *history[1].DateReturned)
}

func TestEngineOverSQLiteTransactions(t *testing.T) {
	ctx := auth.WithCaller(context.Background(), "desk")
	s := openTestStore(t)
	engine := lending.NewEngine(s.Catalog(), s.Ledger(), lending.WithTransactor(s))

	_, err := engine.AddBook(ctx, dune(2))
	require.NoError(t, err)

	alice, err := engine.BorrowBook(ctx, lending.BorrowRequest{BorrowerName: "Alice", BookTitle: "Dune", DateBorrowed: day(1)})
	require.NoError(t, err)
	_, err = engine.BorrowBook(ctx, lending.BorrowRequest{BorrowerName: "Bob", BookTitle: "Dune", DateBorrowed: day(2)})
	require.NoError(t, err)

	_, err = engine.BorrowBook(ctx, lending.BorrowRequest{BorrowerName: "Carl", BookTitle: "Dune", DateBorrowed: day(3)})
	require.ErrorIs(t, err, lending.ErrUnavailable)

	closed, err := engine.ReturnBook(ctx, lending.ReturnRequest{BookTitle: "Dune", DateReturned: day(4)})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, closed.ID)

	books, err := engine.ListBooks(ctx, catalog.Filter{Title: "Dune"})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, 1, books[0].Quantity)
	assert.Equal(t, catalog.StatusAvailable, books[0].Status)

	events, err := s.BookEvents(ctx, "Dune")
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		types = append(types, ev.EventType)
		assert.Equal(t, "desk", ev.Metadata["caller"])
	}
	assert.Equal(t, []string{"BookAdded", "BookBorrowed", "BookBorrowed", "BookReturned"}, types)

	var returned ledger.BookReturnedEvent
	require.NoError(t, events[3].Decode(&returned))
	assert.Equal(t, alice.ID, returned.RecordID)
}

func TestStrictReturnRollsBackInTransaction(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	engine := lending.NewEngine(s.Catalog(), s.Ledger(),
		lending.WithTransactor(s), lending.WithReturnPolicy(lending.ReturnStrict))
	_, err := engine.AddBook(ctx, dune(1))
	require.NoError(t, err)

	_, err = engine.ReturnBook(ctx, lending.ReturnRequest{BookTitle: "Dune", DateReturned: day(1)})
	require.ErrorIs(t, err, lending.ErrNoOutstandingRecord)

	book, err := s.Catalog().FindBook(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, 1, book.Quantity)

	events, err := s.BookEvents(ctx, "Dune")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestDefaultReturnCommitsIncrement(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	engine := lending.NewEngine(s.Catalog(), s.Ledger(), lending.WithTransactor(s))
	_, err := engine.AddBook(ctx, dune(1))
	require.NoError(t, err)

	_, err = engine.ReturnBook(ctx, lending.ReturnRequest{BookTitle: "Dune", DateReturned: day(1)})
	require.ErrorIs(t, err, lending.ErrNoOutstandingRecord)

	book, err := s.Catalog().FindBook(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, 2, book.Quantity)
	assert.Equal(t, catalog.StatusAvailable, book.Status)
}

func TestConcurrentBorrowsOverSQLite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	engine := lending.NewEngine(s.Catalog(), s.Ledger(), lending.WithTransactor(s))
	_, err := engine.AddBook(ctx, dune(3))
	require.NoError(t, err)

	const callers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.BorrowBook(ctx, lending.BorrowRequest{BorrowerName: "Reader", BookTitle: "Dune", DateBorrowed: day(1)})
			if err != nil {
				assert.ErrorIs(t, err, lending.ErrUnavailable)
				return
			}
			mu.Lock()
			successes++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, successes)
	n, err := s.Ledger().CountOutstanding(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	book, err := s.Catalog().FindBook(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, 0, book.Quantity)
}
