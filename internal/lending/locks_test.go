package lending

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitleLocksSerializeSameTitle(t *testing.T) {
	locks := newTitleLocks()
	release, err := locks.acquire(context.Background(), "Dune")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := locks.acquire(context.Background(), "Dune")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held title")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released title")
	}
}

func TestTitleLocksIndependentTitles(t *testing.T) {
	locks := newTitleLocks()
	r1, err := locks.acquire(context.Background(), "Dune")
	require.NoError(t, err)
	r2, err := locks.acquire(context.Background(), "Emma")
	require.NoError(t, err)
	assert.Equal(t, 2, locks.len())

	r1()
	r2()
	r2()
	assert.Equal(t, 0, locks.len())
}

func TestTitleLocksCancelledWait(t *testing.T) {
	locks := newTitleLocks()
	release, err := locks.acquire(context.Background(), "Dune")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locks.acquire(ctx, "Dune")
	assert.ErrorIs(t, err, context.Canceled)

	release()
	assert.Equal(t, 0, locks.len())
}
