package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTableLocks_SameKeyBlocks(t *testing.T) {
	l := newTableLocks()

	unlock, err := l.lock(context.Background(), "stage.orders")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.lock(ctx, "STAGE.Orders"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second lock err = %v, want deadline exceeded", err)
	}

	unlock()
	unlock2, err := l.lock(context.Background(), "stage.orders")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	unlock2()

	if n := l.held(); n != 0 {
		t.Errorf("held() = %d after release, want 0", n)
	}
}

func TestTableLocks_DifferentKeysIndependent(t *testing.T) {
	l := newTableLocks()

	a, err := l.lock(context.Background(), "stage.a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := l.lock(context.Background(), "stage.b")
	if err != nil {
		t.Fatal(err)
	}
	if n := l.held(); n != 2 {
		t.Errorf("held() = %d, want 2", n)
	}
	a()
	b()
	if n := l.held(); n != 0 {
		t.Errorf("held() = %d, want 0", n)
	}
}

func TestTableLocks_WaiterAcquiresAfterRelease(t *testing.T) {
	l := newTableLocks()
	unlock, _ := l.lock(context.Background(), "t")

	acquired := make(chan struct{})
	go func() {
		u, err := l.lock(context.Background(), "t")
		if err == nil {
			u()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}
