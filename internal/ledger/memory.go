// internal/ledger/memory.go
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps the ledger in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	nextSeq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) OpenRecord(ctx context.Context, nr NewRecord) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	rec := nr.Build(uuid.New(), s.nextSeq)
	s.records = append(s.records, rec)

	out := *rec
	return &out, nil
}

// CloseRecord walks records in creation order, so the first match is the oldest.
func (s *MemoryStore) CloseRecord(ctx context.Context, title string, dateReturned time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.BookTitle != title || rec.Status != StatusOutstanding {
			continue
		}
		returned := dateReturned.UTC()
		rec.DateReturned = &returned
		rec.Status = StatusClosed

		out := *rec
		return &out, nil
	}
	return nil, ErrNoOutstandingRecord
}

func (s *MemoryStore) ListHistory(ctx context.Context) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]HistoryEntry, 0, len(s.records))
	for _, rec := range s.records {
		history = append(history, rec.Project())
	}
	return history, nil
}

func (s *MemoryStore) CountOutstanding(ctx context.Context, title string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.records {
		if rec.BookTitle == title && rec.Status == StatusOutstanding {
			n++
		}
	}
	return n, nil
}
