// internal/catalog/domain.go
package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the derived availability of a title.
type Status string

const (
	StatusAvailable   Status = "Available"
	StatusUnavailable Status = "Unavailable"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusAvailable || s == StatusUnavailable
}

// MaxQuantity is the most copies a single title may hold.
const MaxQuantity = 1_000_000

// StatusFor returns the status a book with the given quantity must carry.
func StatusFor(quantity int) Status {
	if quantity > 0 {
		return StatusAvailable
	}
	return StatusUnavailable
}

// Book is a title in the catalog together with its pool of copies.
type Book struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Title         string    `json:"title" db:"title"`
	Author        string    `json:"author" db:"author"`
	ISBN          string    `json:"isbn" db:"isbn"`
	PublishedDate time.Time `json:"published_date" db:"published_date"`
	Genre         string    `json:"genre" db:"genre"`
	Language      string    `json:"language" db:"language"`
	ShelfLocation string    `json:"shelf_location" db:"shelf_location"`
	Quantity      int       `json:"quantity" db:"quantity"`
	Status        Status    `json:"status" db:"status"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Consistent reports whether the cached status agrees with the quantity.
func (b *Book) Consistent() bool {
	return b.Quantity >= 0 && b.Status == StatusFor(b.Quantity)
}

// NewBook carries the fields required to add a title.
type NewBook struct {
	Title         string
	Author        string
	ISBN          string
	PublishedDate time.Time
	Genre         string
	Language      string
	ShelfLocation string
	Status        Status
	Quantity      int
}

// Validate checks that every required field is present and well formed.
func (nb NewBook) Validate() error {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"title", nb.Title},
		{"author", nb.Author},
		{"isbn", nb.ISBN},
		{"genre", nb.Genre},
		{"language", nb.Language},
		{"shelf_location", nb.ShelfLocation},
		{"status", string(nb.Status)},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if nb.PublishedDate.IsZero() {
		missing = append(missing, "published_date")
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}

	if !nb.Status.Valid() {
		return invalidf("status %q is not one of %s, %s", nb.Status, StatusAvailable, StatusUnavailable)
	}
	if nb.Quantity < 0 {
		return invalidf("quantity %d must not be negative", nb.Quantity)
	}
	if nb.Quantity > MaxQuantity {
		return invalidf("quantity %d exceeds the limit of %d", nb.Quantity, MaxQuantity)
	}
	return nil
}

// Build turns validated input into a Book. The stored status always follows the
// quantity, whatever the caller supplied.
func (nb NewBook) Build(id uuid.UUID, now time.Time) *Book {
	return &Book{
		ID:            id,
		Title:         strings.TrimSpace(nb.Title),
		Author:        strings.TrimSpace(nb.Author),
		ISBN:          strings.TrimSpace(nb.ISBN),
		PublishedDate: nb.PublishedDate.UTC(),
		Genre:         nb.Genre,
		Language:      nb.Language,
		ShelfLocation: nb.ShelfLocation,
		Quantity:      nb.Quantity,
		Status:        StatusFor(nb.Quantity),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Filter narrows ListBooks. The zero value matches every book.
type Filter struct {
	Title string
}

// Matches reports whether b passes the filter.
func (f Filter) Matches(b *Book) bool {
	return f.Title == "" || b.Title == f.Title
}

// BookAddedEvent is journaled when a title enters the catalog.
type BookAddedEvent struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	ISBN     string    `json:"isbn"`
	Quantity int       `json:"quantity"`
}
