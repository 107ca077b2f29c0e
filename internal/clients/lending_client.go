// internal/clients/lending_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"libralend/internal/catalog"
	"libralend/internal/ledger"
	"libralend/internal/lending"
)

// LendingClient talks to the lending API and reports failures as
// *lending.Error, so callers can match kinds exactly as in process.
type LendingClient struct {
	baseURL  string
	http     *http.Client
	user     string
	password string
}

var _ lending.Service = (*LendingClient)(nil)

type Option func(*LendingClient)

// WithBasicAuth sends HTTP Basic credentials on every request.
func WithBasicAuth(user, password string) Option {
	return func(c *LendingClient) {
		c.user = user
		c.password = password
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *LendingClient) { c.http = hc }
}

func NewLendingClient(baseURL string, opts ...Option) *LendingClient {
	c := &LendingClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LendingClient) AddBook(ctx context.Context, nb catalog.NewBook) (*catalog.Book, error) {
	body := map[string]any{
		"title":          nb.Title,
		"author":         nb.Author,
		"isbn":           nb.ISBN,
		"published_date": nb.PublishedDate.Format("2/1/2006"),
		"genre":          nb.Genre,
		"language":       nb.Language,
		"shelf_location": nb.ShelfLocation,
		"status":         nb.Status,
		"quantity":       nb.Quantity,
	}
	if nb.PublishedDate.IsZero() {
		body["published_date"] = ""
	}

	var book catalog.Book
	if err := c.do(ctx, http.MethodPost, "/add-book", body, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *LendingClient) BorrowBook(ctx context.Context, req lending.BorrowRequest) (*ledger.Record, error) {
	body := map[string]string{
		"borrower_name":    req.BorrowerName,
		"borrower_contact": req.BorrowerContact,
		"book_title":       req.BookTitle,
		"year_level":       req.YearLevel,
		"program_course":   req.ProgramCourse,
	}
	if !req.DateBorrowed.IsZero() {
		body["date_borrowed"] = req.DateBorrowed.Format("2006-01-02")
	}

	var rec ledger.Record
	if err := c.do(ctx, http.MethodPost, "/borrow-book", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *LendingClient) ReturnBook(ctx context.Context, req lending.ReturnRequest) (*ledger.Record, error) {
	body := map[string]string{"book_title": req.BookTitle}
	if !req.DateReturned.IsZero() {
		body["date_returned"] = req.DateReturned.Format("2006-01-02")
	}

	var rec ledger.Record
	if err := c.do(ctx, http.MethodPost, "/return-book", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *LendingClient) ListBooks(ctx context.Context, filter catalog.Filter) ([]catalog.Book, error) {
	path := "/books"
	if filter.Title != "" {
		path += "?" + url.Values{"title": {filter.Title}}.Encode()
	}

	var books []catalog.Book
	if err := c.do(ctx, http.MethodGet, path, nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *LendingClient) ListLendingHistory(ctx context.Context) ([]ledger.HistoryEntry, error) {
	var history []ledger.HistoryEntry
	if err := c.do(ctx, http.MethodGet, "/lending-history", nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// Healthy reports whether the API answers its health check.
func (c *LendingClient) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *LendingClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// StatusError is returned for failures that carry no lending error body,
// such as a refused login.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Message)
}

func decodeError(resp *http.Response) error {
	var body lending.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Kind == "" {
		msg := http.StatusText(resp.StatusCode)
		if err == nil && body.Error != "" {
			msg = body.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	le := &lending.Error{Op: body.Op, Title: body.Title, Kind: body.Kind}
	if body.Detail != "" {
		le.Err = errors.New(body.Detail)
	}
	return le
}
