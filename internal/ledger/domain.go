// internal/ledger/domain.go
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks whether a borrowed copy has come back.
type Status string

const (
	StatusOutstanding Status = "Outstanding"
	StatusClosed      Status = "Closed"
)

// Record is one borrow of one copy, closed by the matching return.
type Record struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	Seq             int64      `json:"-" db:"seq"`
	BorrowerName    string     `json:"borrower_name" db:"borrower_name"`
	BorrowerContact string     `json:"borrower_contact,omitempty" db:"borrower_contact"`
	BookTitle       string     `json:"book_title" db:"book_title"`
	YearLevel       string     `json:"year_level,omitempty" db:"year_level"`
	ProgramCourse   string     `json:"program_course,omitempty" db:"program_course"`
	DateBorrowed    time.Time  `json:"date_borrowed" db:"date_borrowed"`
	DateReturned    *time.Time `json:"date_returned" db:"date_returned"`
	Status          Status     `json:"status" db:"status"`
}

// NewRecord carries the fields of a borrow about to be recorded.
type NewRecord struct {
	BorrowerName    string
	BorrowerContact string
	BookTitle       string
	YearLevel       string
	ProgramCourse   string
	DateBorrowed    time.Time
}

// Build creates an Outstanding record.
func (nr NewRecord) Build(id uuid.UUID, seq int64) *Record {
	return &Record{
		ID:              id,
		Seq:             seq,
		BorrowerName:    nr.BorrowerName,
		BorrowerContact: nr.BorrowerContact,
		BookTitle:       nr.BookTitle,
		YearLevel:       nr.YearLevel,
		ProgramCourse:   nr.ProgramCourse,
		DateBorrowed:    nr.DateBorrowed.UTC(),
		Status:          StatusOutstanding,
	}
}

// HistoryEntry is the projection of a Record exposed by the lending history.
type HistoryEntry struct {
	BorrowerName string     `json:"borrower_name" db:"borrower_name"`
	BookTitle    string     `json:"book_title" db:"book_title"`
	DateBorrowed time.Time  `json:"date_borrowed" db:"date_borrowed"`
	DateReturned *time.Time `json:"date_returned" db:"date_returned"`
	Status       Status     `json:"status" db:"status"`
}

// Project narrows r to its history fields.
func (r *Record) Project() HistoryEntry {
	return HistoryEntry{
		BorrowerName: r.BorrowerName,
		BookTitle:    r.BookTitle,
		DateBorrowed: r.DateBorrowed,
		DateReturned: r.DateReturned,
		Status:       r.Status,
	}
}

// BookBorrowedEvent is journaled when a copy leaves the shelf.
type BookBorrowedEvent struct {
	RecordID     uuid.UUID `json:"record_id"`
	BookTitle    string    `json:"book_title"`
	BorrowerName string    `json:"borrower_name"`
	DateBorrowed time.Time `json:"date_borrowed"`
}

// BookReturnedEvent is journaled when a copy comes back.
type BookReturnedEvent struct {
	RecordID     uuid.UUID `json:"record_id"`
	BookTitle    string    `json:"book_title"`
	DateReturned time.Time `json:"date_returned"`
}
