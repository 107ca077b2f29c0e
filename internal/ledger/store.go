// internal/ledger/store.go
package ledger

import (
	"context"
	"errors"
	"time"
)

var ErrNoOutstandingRecord = errors.New("no outstanding lending record")

// Store is the append-mostly log of borrows.
type Store interface {
	OpenRecord(ctx context.Context, nr NewRecord) (*Record, error)
	// CloseRecord closes the oldest Outstanding record for title.
	CloseRecord(ctx context.Context, title string, dateReturned time.Time) (*Record, error)
	ListHistory(ctx context.Context) ([]HistoryEntry, error)
	CountOutstanding(ctx context.Context, title string) (int, error)
}
