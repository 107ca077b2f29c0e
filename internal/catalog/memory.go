// internal/catalog/memory.go
package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps the catalog in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	books   []*Book
	byTitle map[string]*Book
	byISBN  map[string]string
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byTitle: make(map[string]*Book),
		byISBN:  make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AddBook validates nb and inserts it.
func (s *MemoryStore) AddBook(ctx context.Context, nb NewBook) (*Book, error) {
	if err := nb.Validate(); err != nil {
		return nil, err
	}
	book := nb.Build(uuid.New(), s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTitle[book.Title]; exists {
		return nil, ErrDuplicateTitle
	}
	if owner, exists := s.byISBN[book.ISBN]; exists && owner != book.Title {
		return nil, ErrDuplicateISBN
	}

	s.books = append(s.books, book)
	s.byTitle[book.Title] = book
	s.byISBN[book.ISBN] = book.Title

	out := *book
	return &out, nil
}

// FindBook returns a copy of the book with the given title.
func (s *MemoryStore) FindBook(ctx context.Context, title string) (*Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.byTitle[title]
	if !ok {
		return nil, ErrNotFound
	}
	out := *book
	return &out, nil
}

// AdjustQuantity applies delta and recomputes status in one critical section.
func (s *MemoryStore) AdjustQuantity(ctx context.Context, title string, delta int) (*Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.byTitle[title]
	if !ok {
		return nil, ErrNotFound
	}
	if delta > MaxQuantity-book.Quantity {
		return nil, ErrQuantityLimit
	}
	next := book.Quantity + delta
	if next < 0 {
		return nil, ErrNegativeResult
	}

	book.Quantity = next
	book.Status = StatusFor(next)
	book.UpdatedAt = s.now()

	out := *book
	return &out, nil
}

// ListBooks returns matching books in insertion order.
func (s *MemoryStore) ListBooks(ctx context.Context, filter Filter) ([]Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	books := make([]Book, 0, len(s.books))
	for _, b := range s.books {
		if filter.Matches(b) {
			books = append(books, *b)
		}
	}
	return books, nil
}
