// internal/lending/locks.go
package lending

import (
	"context"
	"sync"
)

// titleLocks hands out one exclusive lock per title. Entries are dropped once
// nobody holds or waits for them.
type titleLocks struct {
	mu    sync.Mutex
	locks map[string]*titleLock
}

type titleLock struct {
	sem  chan struct{}
	refs int
}

func newTitleLocks() *titleLocks {
	return &titleLocks{locks: make(map[string]*titleLock)}
}

// acquire blocks until the title is free or ctx is done.
func (l *titleLocks) acquire(ctx context.Context, title string) (release func(), err error) {
	l.mu.Lock()
	tl, ok := l.locks[title]
	if !ok {
		tl = &titleLock{sem: make(chan struct{}, 1)}
		l.locks[title] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-tl.sem
				l.unref(title, tl)
			})
		}, nil
	case <-ctx.Done():
		l.unref(title, tl)
		return nil, ctx.Err()
	}
}

func (l *titleLocks) unref(title string, tl *titleLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, title)
	}
}

func (l *titleLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
