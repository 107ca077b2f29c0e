// internal/lending/service.go
package lending

import (
	"context"

	"libralend/internal/catalog"
	"libralend/internal/ledger"
)

// Service defines the operations exposed to the transport boundary.
type Service interface {
	AddBook(ctx context.Context, nb catalog.NewBook) (*catalog.Book, error)
	BorrowBook(ctx context.Context, req BorrowRequest) (*ledger.Record, error)
	ReturnBook(ctx context.Context, req ReturnRequest) (*ledger.Record, error)
	ListBooks(ctx context.Context, filter catalog.Filter) ([]catalog.Book, error)
	ListLendingHistory(ctx context.Context) ([]ledger.HistoryEntry, error)
}

// Transactor is implemented by stores that can run catalog and ledger changes in
// one transaction. fn's error is returned unchanged after rollback.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, books catalog.Store, records ledger.Store) error) error
}
