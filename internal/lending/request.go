// internal/lending/request.go
package lending

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"libralend/internal/catalog"
)

const (
	publishedDateLayout = "2/1/2006"
	calendarDateLayout  = "2006-01-02"
)

// flexInt accepts a JSON number or a numeric string, as HTML forms send them.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("quantity %q is not an integer", s)
		}
		*n = flexInt(v)
		return nil
	}
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = flexInt(v)
	return nil
}

type addBookPayload struct {
	Title         string   `json:"title" validate:"required"`
	Author        string   `json:"author" validate:"required"`
	ISBN          string   `json:"isbn" validate:"required"`
	PublishedDate string   `json:"published_date" validate:"required"`
	Genre         string   `json:"genre" validate:"required"`
	Language      string   `json:"language" validate:"required"`
	ShelfLocation string   `json:"shelf_location" validate:"required"`
	Status        string   `json:"status" validate:"required,oneof=Available Unavailable"`
	Quantity      *flexInt `json:"quantity" validate:"required,gte=0,lte=1000000"`
}

func (p addBookPayload) toNewBook() (catalog.NewBook, error) {
	published, err := parsePublishedDate(p.PublishedDate)
	if err != nil {
		return catalog.NewBook{}, err
	}
	return catalog.NewBook{
		Title:         p.Title,
		Author:        p.Author,
		ISBN:          p.ISBN,
		PublishedDate: published,
		Genre:         p.Genre,
		Language:      p.Language,
		ShelfLocation: p.ShelfLocation,
		Status:        catalog.Status(p.Status),
		Quantity:      int(*p.Quantity),
	}, nil
}

type borrowPayload struct {
	BorrowerName    string `json:"borrower_name" validate:"required"`
	BorrowerContact string `json:"borrower_contact"`
	BookTitle       string `json:"book_title" validate:"required"`
	YearLevel       string `json:"year_level"`
	ProgramCourse   string `json:"program_course"`
	DateBorrowed    string `json:"date_borrowed"`
}

// toRequest fills an absent date_borrowed with today.
func (p borrowPayload) toRequest(now time.Time) (BorrowRequest, error) {
	borrowed := now.UTC().Truncate(24 * time.Hour)
	if strings.TrimSpace(p.DateBorrowed) != "" {
		var err error
		if borrowed, err = parseCalendarDate(p.DateBorrowed); err != nil {
			return BorrowRequest{}, err
		}
	}
	return BorrowRequest{
		BorrowerName:    p.BorrowerName,
		BorrowerContact: p.BorrowerContact,
		BookTitle:       p.BookTitle,
		YearLevel:       p.YearLevel,
		ProgramCourse:   p.ProgramCourse,
		DateBorrowed:    borrowed,
	}, nil
}

type returnPayload struct {
	BookTitle    string `json:"book_title" validate:"required"`
	DateReturned string `json:"date_returned" validate:"required"`
}

func (p returnPayload) toRequest() (ReturnRequest, error) {
	returned, err := parseCalendarDate(p.DateReturned)
	if err != nil {
		return ReturnRequest{}, err
	}
	return ReturnRequest{BookTitle: p.BookTitle, DateReturned: returned}, nil
}

// parsePublishedDate reads day/month/year with one- or two-digit day and month.
func parsePublishedDate(s string) (time.Time, error) {
	t, err := time.Parse(publishedDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("published_date %q is not a day/month/year date", s)
	}
	return t.UTC(), nil
}

// parseCalendarDate reads an ISO calendar date, or a full RFC 3339 timestamp.
func parseCalendarDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(calendarDateLayout, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("date %q is not an ISO calendar date", s)
}
