package chanz

import (
	"context"
	"errors"
	"testing"
	"time"
)

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (q *queue[T]) parked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.offers)
}

func TestQueuePromotesParkedOffersInOrder(t *testing.T) {
	q := newQueue[int](1)
	ctx := context.Background()

	if err := q.push(ctx, 1, true); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	errs := make(chan error, 2)
	go func() { errs <- q.push(ctx, 2, true) }()
	waitFor(t, "first offer", func() bool { return q.parked() == 1 })
	go func() { errs <- q.push(ctx, 3, true) }()
	waitFor(t, "second offer", func() bool { return q.parked() == 2 })

	for want := 1; want <= 3; want++ {
		got, err := q.pop(ctx, true)
		if err != nil {
			t.Fatalf("pop failed: %v", err)
		}
		if got != want {
			t.Errorf("Expected %d, got %d", want, got)
		}
	}

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Expected parked push to succeed, got %v", err)
		}
	}
}

func TestQueueWithdrawnOfferIsNotDelivered(t *testing.T) {
	q := newQueue[int](1)

	if err := q.push(context.Background(), 1, true); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- q.push(ctx, 2, true) }()
	waitFor(t, "offer", func() bool { return q.parked() == 1 })

	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if q.parked() != 0 {
		t.Errorf("Expected withdrawn offer to be removed, %d parked", q.parked())
	}

	if got, _ := q.pop(context.Background(), false); got != 1 {
		t.Errorf("Expected 1, got %d", got)
	}
	if _, err := q.pop(context.Background(), false); !errors.Is(err, ErrChannelEmpty) {
		t.Errorf("Expected ErrChannelEmpty, got %v", err)
	}
}

func TestQueueCancelledBeforeStart(t *testing.T) {
	q := newQueue[int](-1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := q.push(ctx, 1, true); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from push, got %v", err)
	}
	if _, err := q.pop(ctx, true); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from pop, got %v", err)
	}
	if q.len() != 0 {
		t.Errorf("Expected empty queue, got %d", q.len())
	}
}

func TestQueueHandleCounting(t *testing.T) {
	q := newQueue[int](-1)

	q.acquire(true)
	q.release(true)
	if err := q.push(context.Background(), 1, true); err != nil {
		t.Fatalf("Expected push with one sender left, got %v", err)
	}
	q.release(true)

	if got, err := q.pop(context.Background(), true); err != nil || got != 1 {
		t.Fatalf("Expected to drain 1, got %d (%v)", got, err)
	}
	if _, err := q.pop(context.Background(), true); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Expected ErrChannelClosed, got %v", err)
	}

	q.release(false)
	if err := q.push(context.Background(), 2, true); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Expected ErrChannelClosed, got %v", err)
	}
}

func TestQueueAcquireAfterShutdown(t *testing.T) {
	q := newQueue[int](-1)

	if !q.acquire(false) {
		t.Fatal("Expected acquire on a live side to succeed")
	}
	q.release(false)
	q.release(false)
	if q.acquire(false) {
		t.Error("Expected acquire to fail once receivers reached zero")
	}

	q.release(true)
	if q.acquire(true) {
		t.Error("Expected acquire to fail once senders reached zero")
	}

	// A refused acquire leaves the count at zero, so nothing is released twice.
	if _, err := q.pop(context.Background(), true); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Expected ErrChannelClosed, got %v", err)
	}
}
