package core

import (
	"context"
	"strings"
	"sync"
)

// tableLocks serializes loads per table identity within the process, so
// reconciliation and the writes that follow it see the same table.
// Entries are reference counted and removed when the last holder leaves.
type tableLocks struct {
	mu    sync.Mutex
	locks map[string]*tableLock
}

type tableLock struct {
	ch   chan struct{}
	refs int
}

func newTableLocks() *tableLocks {
	return &tableLocks{locks: make(map[string]*tableLock)}
}

// lock blocks until the table is free or ctx is done. The returned
// function releases the lock.
func (l *tableLocks) lock(ctx context.Context, key string) (func(), error) {
	key = strings.ToLower(key)

	l.mu.Lock()
	tl, ok := l.locks[key]
	if !ok {
		tl = &tableLock{ch: make(chan struct{}, 1)}
		l.locks[key] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.ch <- struct{}{}:
		return func() {
			<-tl.ch
			l.unref(key, tl)
		}, nil
	case <-ctx.Done():
		l.unref(key, tl)
		return nil, ctx.Err()
	}
}

func (l *tableLocks) unref(key string, tl *tableLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, key)
	}
}

// held returns the number of tables with a holder or waiter.
func (l *tableLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
