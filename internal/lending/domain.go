// internal/lending/domain.go
package lending

import (
	"fmt"
	"strings"
	"time"
)

// BorrowRequest asks for one copy of a title.
type BorrowRequest struct {
	BorrowerName    string
	BorrowerContact string
	BookTitle       string
	YearLevel       string
	ProgramCourse   string
	DateBorrowed    time.Time
}

func (r BorrowRequest) missing() []string {
	var fields []string
	if strings.TrimSpace(r.BorrowerName) == "" {
		fields = append(fields, "borrower_name")
	}
	if strings.TrimSpace(r.BookTitle) == "" {
		fields = append(fields, "book_title")
	}
	if r.DateBorrowed.IsZero() {
		fields = append(fields, "date_borrowed")
	}
	return fields
}

// ReturnRequest gives one copy of a title back.
type ReturnRequest struct {
	BookTitle    string
	DateReturned time.Time
}

func (r ReturnRequest) missing() []string {
	var fields []string
	if strings.TrimSpace(r.BookTitle) == "" {
		fields = append(fields, "book_title")
	}
	if r.DateReturned.IsZero() {
		fields = append(fields, "date_returned")
	}
	return fields
}

func missingFieldsError(op, title string, fields []string) *Error {
	return newError(op, title, KindMissingFields,
		fmt.Errorf("missing required fields: %s", strings.Join(fields, ", ")))
}

// ReturnPolicy decides what happens to the quantity increment when a return
// finds no outstanding record.
type ReturnPolicy int

const (
	// ReturnLenient keeps the increment and still reports the failure.
	ReturnLenient ReturnPolicy = iota
	// ReturnStrict undoes the increment so over-returns cannot inflate stock.
	ReturnStrict
)

func (p ReturnPolicy) String() string {
	if p == ReturnStrict {
		return "strict"
	}
	return "lenient"
}

// ParseReturnPolicy accepts "lenient" or "strict". Empty means lenient.
func ParseReturnPolicy(s string) (ReturnPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lenient":
		return ReturnLenient, nil
	case "strict":
		return ReturnStrict, nil
	default:
		return ReturnLenient, fmt.Errorf("unknown return policy %q", s)
	}
}
