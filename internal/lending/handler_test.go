package lending

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libralend/internal/catalog"
	"libralend/internal/ledger"
)

const duneJSON = `{
	"title": "Dune",
	"author": "Frank Herbert",
	"isbn": "9780441013593",
	"published_date": "1/8/1965",
	"genre": "Science Fiction",
	"language": "English",
	"shelf_location": "SF-01",
	"status": "Available",
	"quantity": "2"
}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := NewHandler(NewEngine(catalog.NewMemoryStore(), ledger.NewMemoryStore()), nil)
	h.now = func() time.Time { return time.Date(2024, time.May, 7, 15, 30, 0, 0, time.UTC) }
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	var out ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandlerLendingRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv, "/add-book", duneJSON)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var book catalog.Book
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&book))
	assert.Equal(t, 2, book.Quantity)
	assert.Equal(t, time.Date(1965, time.August, 1, 0, 0, 0, 0, time.UTC), book.PublishedDate)

	resp = post(t, srv, "/borrow-book", `{"borrower_name":"Alice","book_title":"Dune"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rec ledger.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, time.Date(2024, time.May, 7, 0, 0, 0, 0, time.UTC), rec.DateBorrowed)
	assert.Equal(t, ledger.StatusOutstanding, rec.Status)

	resp = post(t, srv, "/return-book", `{"book_title":"Dune","date_returned":"2024-05-09"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, ledger.StatusClosed, rec.Status)
	require.NotNil(t, rec.DateReturned)

	resp = get(t, srv, "/books?title=Dune")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var books []catalog.Book
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&books))
	require.Len(t, books, 1)
	assert.Equal(t, 2, books[0].Quantity)

	resp = get(t, srv, "/lending-history")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []ledger.HistoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, "Alice", history[0].BorrowerName)
}

func TestHandlerErrors(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusCreated, post(t, srv, "/add-book", duneJSON).StatusCode)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		kind   Kind
	}{
		{"duplicate book", "/add-book", duneJSON, http.StatusConflict, KindDuplicateBook},
		{"missing book fields", "/add-book", `{"title":"Emma"}`, http.StatusBadRequest, KindMissingFields},
		{"bad status", "/add-book", strings.Replace(duneJSON, `"Available"`, `"Lost"`, 1), http.StatusBadRequest, KindInvalidInput},
		{"negative quantity", "/add-book", strings.Replace(duneJSON, `"2"`, `-1`, 1), http.StatusBadRequest, KindInvalidInput},
		{"quantity over limit", "/add-book", strings.Replace(duneJSON, `"2"`, `1000001`, 1), http.StatusBadRequest, KindInvalidInput},
		{"bad published date", "/add-book", strings.Replace(duneJSON, `1/8/1965`, `1965-08-01`, 1), http.StatusBadRequest, KindInvalidInput},
		{"unknown field", "/borrow-book", `{"borrower_name":"A","book_title":"Dune","fine":3}`, http.StatusBadRequest, KindInvalidInput},
		{"malformed json", "/borrow-book", `{"borrower_name":`, http.StatusBadRequest, KindInvalidInput},
		{"borrow missing name", "/borrow-book", `{"book_title":"Dune"}`, http.StatusBadRequest, KindMissingFields},
		{"borrow unknown title", "/borrow-book", `{"borrower_name":"A","book_title":"Emma"}`, http.StatusNotFound, KindBookNotFound},
		{"return missing date", "/return-book", `{"book_title":"Dune"}`, http.StatusBadRequest, KindMissingFields},
		{"return nothing lent", "/return-book", `{"book_title":"Dune","date_returned":"2024-05-09"}`, http.StatusNotFound, KindNoOutstandingRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, tt.kind, body.Kind)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestHandlerBorrowLastCopyThenUnavailable(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusCreated,
		post(t, srv, "/add-book", strings.Replace(duneJSON, `"2"`, `1`, 1)).StatusCode)

	require.Equal(t, http.StatusCreated,
		post(t, srv, "/borrow-book", `{"borrower_name":"Alice","book_title":"Dune"}`).StatusCode)

	resp := post(t, srv, "/borrow-book", `{"borrower_name":"Bob","book_title":"Dune"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, KindUnavailable, decodeError(t, resp).Kind)
}

func TestHandlerEmptyListsAreArrays(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/books", "/lending-history"} {
		resp := get(t, srv, path)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		assert.JSONEq(t, `[]`, string(raw), path)
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(KindUnavailable))
	assert.Equal(t, http.StatusNotFound, StatusCode(KindBookNotFound))
	assert.Equal(t, http.StatusConflict, StatusCode(KindDuplicateBook))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(KindStoreUnavailable))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(""))
}
