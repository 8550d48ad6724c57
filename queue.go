package chanz

import (
	"context"
	"sync"
)

// offer is a send parked on a full (or zero-capacity) queue. taken is closed
// once the item has been moved into the buffer or handed to a receiver.
type offer[T any] struct {
	item  T
	taken chan struct{}
}

// queue is the FIFO shared by all handles of one channel.
//
// Buffered items always precede parked offers: every pop from a full buffer
// promotes the oldest offer, so a non-empty offer list implies a full buffer
// (or zero capacity). All state is guarded by mu; waiters park on channels
// outside the lock.
//
//nolint:govet // Field order grouped by role
type queue[T any] struct {
	mu        sync.Mutex
	buf       []T
	offers    []*offer[T]
	capacity  int // negative means unbounded
	senders   int
	receivers int
	// changed is closed and replaced whenever a receiver could make progress.
	changed chan struct{}
	// rxGone is closed once the last receiver handle closes.
	rxGone chan struct{}
}

func newQueue[T any](capacity int) *queue[T] {
	return &queue[T]{
		capacity:  capacity,
		senders:   1,
		receivers: 1,
		changed:   make(chan struct{}),
		rxGone:    make(chan struct{}),
	}
}

// notifyLocked wakes every receiver parked on the current generation.
func (q *queue[T]) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// push enqueues item. When block is false a full queue yields ErrChannelFull.
// A push that returns an error never leaves item in the queue.
func (q *queue[T]) push(ctx context.Context, item T, block bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.receivers == 0 {
		q.mu.Unlock()
		return ErrChannelClosed
	}
	if q.capacity < 0 || len(q.buf) < q.capacity {
		q.buf = append(q.buf, item)
		q.notifyLocked()
		q.mu.Unlock()
		return nil
	}
	if !block {
		q.mu.Unlock()
		return ErrChannelFull
	}
	o := &offer[T]{item: item, taken: make(chan struct{})}
	q.offers = append(q.offers, o)
	q.notifyLocked()
	rxGone := q.rxGone
	q.mu.Unlock()

	select {
	case <-o.taken:
		return nil
	case <-ctx.Done():
		if q.withdraw(o) {
			return ctx.Err()
		}
		return nil
	case <-rxGone:
		if q.withdraw(o) {
			return ErrChannelClosed
		}
		return nil
	}
}

// withdraw removes a parked offer. It reports false when a receiver already
// took it, in which case the send has completed.
func (q *queue[T]) withdraw(o *offer[T]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, pending := range q.offers {
		if pending == o {
			copy(q.offers[i:], q.offers[i+1:])
			q.offers[len(q.offers)-1] = nil
			q.offers = q.offers[:len(q.offers)-1]
			return true
		}
	}
	return false
}

// pop dequeues the oldest item. When block is false an empty queue yields
// ErrChannelEmpty. A pop that returns an error removes nothing.
func (q *queue[T]) pop(ctx context.Context, block bool) (T, error) {
	var zero T
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		q.mu.Lock()
		if item, ok := q.takeLocked(); ok {
			q.mu.Unlock()
			return item, nil
		}
		if q.senders == 0 {
			q.mu.Unlock()
			return zero, ErrChannelClosed
		}
		if !block {
			q.mu.Unlock()
			return zero, ErrChannelEmpty
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// takeLocked removes the head of the queue, promoting the oldest parked offer
// into the freed buffer slot.
func (q *queue[T]) takeLocked() (T, bool) {
	var zero T
	if len(q.buf) > 0 {
		item := q.buf[0]
		q.buf[0] = zero
		q.buf = q.buf[1:]
		if len(q.offers) > 0 {
			q.buf = append(q.buf, q.shiftOfferLocked())
		}
		return item, true
	}
	if len(q.offers) > 0 {
		return q.shiftOfferLocked(), true
	}
	return zero, false
}

func (q *queue[T]) shiftOfferLocked() T {
	o := q.offers[0]
	q.offers[0] = nil
	q.offers = q.offers[1:]
	close(o.taken)
	return o.item
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// acquire registers one more handle on a side. A side whose count already
// reached zero stays shut and acquire reports false.
func (q *queue[T]) acquire(sender bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := &q.receivers
	if sender {
		count = &q.senders
	}
	if *count == 0 {
		return false
	}
	*count++
	return true
}

// release drops one handle on a side, closing that side at zero.
func (q *queue[T]) release(sender bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if sender {
		q.senders--
		if q.senders == 0 {
			q.notifyLocked()
		}
		return
	}
	q.receivers--
	if q.receivers == 0 {
		close(q.rxGone)
	}
}
