package lending

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"libralend/internal/catalog"
	"libralend/internal/ledger"
)

// lendingModel tracks copies per title: on the shelf plus lent out must stay
// equal to the stock. Under the lenient policy a return with nothing lent
// still adds a copy to the stock.
type lendingModel struct {
	engine *Engine
	policy ReturnPolicy
	books  *catalog.MemoryStore
	ledger *ledger.MemoryStore
	stock  map[string]int
	titles []string
}

func (m *lendingModel) addBook(t *rapid.T) {
	title := fmt.Sprintf("Title %d", len(m.titles))
	quantity := rapid.IntRange(0, 3).Draw(t, "quantity")
	nb := dune(quantity)
	nb.Title = title
	nb.ISBN = fmt.Sprintf("isbn-%d", len(m.titles))

	if _, err := m.engine.AddBook(context.Background(), nb); err != nil {
		t.Fatalf("add %s: %v", title, err)
	}
	m.stock[title] = quantity
	m.titles = append(m.titles, title)
}

func (m *lendingModel) borrow(t *rapid.T) {
	if len(m.titles) == 0 {
		t.Skip("no titles")
	}
	title := rapid.SampledFrom(m.titles).Draw(t, "title")
	before := m.shelf(t, title)

	_, err := m.engine.BorrowBook(context.Background(), BorrowRequest{
		BorrowerName: "Reader",
		BookTitle:    title,
		DateBorrowed: day(1),
	})
	switch {
	case err == nil:
		if before == 0 {
			t.Fatalf("borrowed %s with no copies on the shelf", title)
		}
	case errors.Is(err, ErrUnavailable):
		if before != 0 {
			t.Fatalf("borrow of %s refused with %d copies: %v", title, before, err)
		}
	default:
		t.Fatalf("borrow %s: %v", title, err)
	}
}

func (m *lendingModel) giveBack(t *rapid.T) {
	if len(m.titles) == 0 {
		t.Skip("no titles")
	}
	title := rapid.SampledFrom(m.titles).Draw(t, "title")
	lent := m.outstanding(t, title)

	_, err := m.engine.ReturnBook(context.Background(), ReturnRequest{BookTitle: title, DateReturned: day(2)})
	switch {
	case err == nil:
		if lent == 0 {
			t.Fatalf("returned %s with nothing lent", title)
		}
	case errors.Is(err, ErrNoOutstandingRecord):
		if lent != 0 {
			t.Fatalf("return of %s refused with %d lent: %v", title, lent, err)
		}
		if m.policy == ReturnLenient {
			m.stock[title]++
		}
	default:
		t.Fatalf("return %s: %v", title, err)
	}
}

func (m *lendingModel) check(t *rapid.T) {
	for _, title := range m.titles {
		shelf := m.shelf(t, title)
		lent := m.outstanding(t, title)
		if shelf < 0 {
			t.Fatalf("%s has negative quantity %d", title, shelf)
		}
		if shelf+lent != m.stock[title] {
			t.Fatalf("%s: %d on shelf + %d lent != %d stocked", title, shelf, lent, m.stock[title])
		}
		book, _ := m.books.FindBook(context.Background(), title)
		if !book.Consistent() {
			t.Fatalf("%s: status %s with quantity %d", title, book.Status, book.Quantity)
		}
	}
}

func (m *lendingModel) shelf(t *rapid.T, title string) int {
	book, err := m.books.FindBook(context.Background(), title)
	if err != nil {
		t.Fatalf("find %s: %v", title, err)
	}
	return book.Quantity
}

func (m *lendingModel) outstanding(t *rapid.T, title string) int {
	n, err := m.ledger.CountOutstanding(context.Background(), title)
	if err != nil {
		t.Fatalf("count %s: %v", title, err)
	}
	return n
}

func TestEngineConservesCopies(t *testing.T) {
	for _, policy := range []ReturnPolicy{ReturnLenient, ReturnStrict} {
		t.Run(policy.String(), func(t *testing.T) {
			rapid.Check(t, conservesCopies(policy))
		})
	}
}

func conservesCopies(policy ReturnPolicy) func(*rapid.T) {
	return func(t *rapid.T) {
		books := catalog.NewMemoryStore()
		records := ledger.NewMemoryStore()
		m := &lendingModel{
			engine: NewEngine(books, records, WithReturnPolicy(policy)),
			policy: policy,
			books:  books,
			ledger: records,
			stock:  make(map[string]int),
		}
		t.Repeat(map[string]func(*rapid.T){
			"add":    m.addBook,
			"borrow": m.borrow,
			"return": m.giveBack,
			"":       m.check,
		})
	}
}
