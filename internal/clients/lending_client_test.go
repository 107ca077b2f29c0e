package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libralend/internal/auth"
	"libralend/internal/catalog"
	"libralend/internal/ledger"
	"libralend/internal/lending"
)

func newAPI(t *testing.T) string {
	t.Helper()
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	authn := auth.NewAuthenticator(map[string]string{"desk": hash}, 10, nil)

	engine := lending.NewEngine(catalog.NewMemoryStore(), ledger.NewMemoryStore())
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.With(authn.Middleware).Mount("/", lending.NewHandler(engine, nil).Routes())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
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

func TestLendingClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewLendingClient(newAPI(t)+"/", WithBasicAuth("desk", "s3cret"))

	require.NoError(t, c.Healthy(ctx))

	book, err := c.AddBook(ctx, dune(1))
	require.NoError(t, err)
	assert.Equal(t, 1, book.Quantity)
	assert.Equal(t, dune(1).PublishedDate, book.PublishedDate)

	rec, err := c.BorrowBook(ctx, lending.BorrowRequest{
		BorrowerName: "Alice",
		BookTitle:    "Dune",
		DateBorrowed: time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOutstanding, rec.Status)

	_, err = c.BorrowBook(ctx, lending.BorrowRequest{BorrowerName: "Bob", BookTitle: "Dune"})
	require.ErrorIs(t, err, lending.ErrUnavailable)
	var le *lending.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "borrow", le.Op)
	assert.Equal(t, "Dune", le.Title)

	closed, err := c.ReturnBook(ctx, lending.ReturnRequest{BookTitle: "Dune", DateReturned: time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, closed.ID)

	books, err := c.ListBooks(ctx, catalog.Filter{Title: "Dune"})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, 1, books[0].Quantity)

	history, err := c.ListLendingHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.StatusClosed, history[0].Status)
}

func TestLendingClientErrors(t *testing.T) {
	ctx := context.Background()
	url := newAPI(t)

	_, err := NewLendingClient(url, WithBasicAuth("desk", "wrong")).ListBooks(ctx, catalog.Filter{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)

	c := NewLendingClient(url, WithBasicAuth("desk", "s3cret"))
	_, err = c.ReturnBook(ctx, lending.ReturnRequest{BookTitle: "Dune"})
	assert.ErrorIs(t, err, lending.ErrMissingFields)

	_, err = c.AddBook(ctx, catalog.NewBook{Title: "Emma"})
	assert.ErrorIs(t, err, lending.ErrMissingFields)

	_, err = c.BorrowBook(ctx, lending.BorrowRequest{BorrowerName: "Alice", BookTitle: "Emma"})
	assert.ErrorIs(t, err, lending.ErrBookNotFound)
	assert.Equal(t, lending.KindBookNotFound, lending.KindOf(err))
}
