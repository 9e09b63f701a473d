package mailbox

import (
	"context"
	"strings"
	gosync "sync"
)

// lockTable hands out one exclusive claim per folder path. Entries are
// reference counted and removed once nobody holds or waits on them.
type lockTable struct {
	mu    gosync.Mutex
	locks map[string]*folderLock
}

type folderLock struct {
	sem  chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*folderLock)}
}

// acquire blocks until folder is free or ctx is done. The returned release
// func is safe to call more than once.
func (t *lockTable) acquire(ctx context.Context, folder string) (func(), error) {
	// The key outlives the caller, whose string may alias a reused buffer.
	folder = strings.Clone(folder)

	t.mu.Lock()
	l, ok := t.locks[folder]
	if !ok {
		l = &folderLock{sem: make(chan struct{}, 1)}
		t.locks[folder] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		t.unref(folder, l)
		return nil, ctx.Err()
	}

	var once gosync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			t.unref(folder, l)
		})
	}, nil
}

func (t *lockTable) unref(folder string, l *folderLock) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(t.locks, folder)
	}
}

// held returns the number of folders currently tracked.
func (t *lockTable) held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
