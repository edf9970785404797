package indexer

import (
	"context"
	"sync"
)

// DocLocker serialises work on a single document key. Lock blocks until the
// key is free or ctx is done and returns the function releasing it.
type DocLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MemoryLocker is a process-local DocLocker. Entries are dropped once no
// caller holds or waits for them.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*docLock)}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	dl, ok := l.locks[key]
	if !ok {
		dl = &docLock{ch: make(chan struct{}, 1)}
		l.locks[key] = dl
	}
	dl.refs++
	l.mu.Unlock()

	select {
	case dl.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-dl.ch
				l.release(key, dl)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, dl)
		return nil, ctx.Err()
	}
}

func (l *MemoryLocker) release(key string, dl *docLock) {
	l.mu.Lock()
	dl.refs--
	if dl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
