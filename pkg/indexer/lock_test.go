package indexer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "novel/ch1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	other, err := l.Lock(ctx, "novel/ch2")
	if err != nil {
		t.Fatalf("other keys must not block: %v", err)
	}
	other()

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(tctx, "novel/ch1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded while held, got %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "novel/ch1")
		if err == nil {
			u()
		}
		close(acquired)
	}()

	unlock()
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("waiter was not released")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.locks) != 0 {
		t.Fatalf("expected no lock entries, got %d", len(l.locks))
	}
}
