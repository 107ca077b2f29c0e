// internal/catalog/store.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound       = errors.New("book not found")
	ErrNegativeResult = errors.New("quantity would become negative")
	ErrQuantityLimit  = fmt.Errorf("quantity would exceed %d copies", MaxQuantity)
	ErrInvalidInput   = errors.New("invalid book input")
	ErrDuplicateISBN  = errors.New("isbn already registered to another title")
	ErrDuplicateTitle = errors.New("title already in catalog")
)

// MissingFieldsError lists the required fields absent from a NewBook.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// Is lets errors.Is(err, ErrInvalidInput) match missing fields too.
func (e *MissingFieldsError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Store is the durable record of titles and their copy counts.
type Store interface {
	AddBook(ctx context.Context, nb NewBook) (*Book, error)
	FindBook(ctx context.Context, title string) (*Book, error)
	AdjustQuantity(ctx context.Context, title string, delta int) (*Book, error)
	ListBooks(ctx context.Context, filter Filter) ([]Book, error)
}
