package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC)
}

func TestMemoryStoreOpenRecord(t *testing.T) {
	store := NewMemoryStore()

	rec, err := store.OpenRecord(context.Background(), NewRecord{
		BorrowerName: "Alice",
		BookTitle:    "Dune",
		DateBorrowed: day(1),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusOutstanding, rec.Status)
	assert.Nil(t, rec.DateReturned)
	assert.Equal(t, int64(1), rec.Seq)
}

func TestMemoryStoreCloseRecordIsFIFO(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	alice, err := store.OpenRecord(ctx, NewRecord{BorrowerName: "Alice", BookTitle: "Dune", DateBorrowed: day(1)})
	require.NoError(t, err)
	_, err = store.OpenRecord(ctx, NewRecord{BorrowerName: "Zed", BookTitle: "Emma", DateBorrowed: day(1)})
	require.NoError(t, err)
	bob, err := store.OpenRecord(ctx, NewRecord{BorrowerName: "Bob", BookTitle: "Dune", DateBorrowed: day(2)})
	require.NoError(t, err)

	closed, err := store.CloseRecord(ctx, "Dune", day(5))
	require.NoError(t, err)
	assert.Equal(t, alice.ID, closed.ID)
	assert.Equal(t, StatusClosed, closed.Status)
	require.NotNil(t, closed.DateReturned)
	assert.True(t, closed.DateReturned.Equal(day(5)))

	closed, err = store.CloseRecord(ctx, "Dune", day(6))
	require.NoError(t, err)
	assert.Equal(t, bob.ID, closed.ID)

	_, err = store.CloseRecord(ctx, "Dune", day(7))
	assert.ErrorIs(t, err, ErrNoOutstandingRecord)
}

func TestMemoryStoreHistoryAndCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.OpenRecord(ctx, NewRecord{BorrowerName: "Alice", BookTitle: "Dune", DateBorrowed: day(1)})
	require.NoError(t, err)
	_, err = store.OpenRecord(ctx, NewRecord{BorrowerName: "Bob", BookTitle: "Dune", DateBorrowed: day(2)})
	require.NoError(t, err)
	_, err = store.CloseRecord(ctx, "Dune", day(3))
	require.NoError(t, err)

	n, err := store.CountOutstanding(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	history, err := store.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Alice", history[0].BorrowerName)
	assert.Equal(t, StatusClosed, history[0].Status)
	assert.NotNil(t, history[0].DateReturned)
	assert.Equal(t, "Bob", history[1].BorrowerName)
	assert.Equal(t, StatusOutstanding, history[1].Status)
	assert.Nil(t, history[1].DateReturned)
}
