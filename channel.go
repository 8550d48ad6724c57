package chanz

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"
)

// Envelope is what travels through the queue: the payload and the trace
// context captured when it was sent. It is built by Send and discarded by
// Recv once the context has been extracted.
type Envelope[T any] struct {
	Metadata Carrier
	Payload  T
}

// channel is the state shared by every handle of one traced channel.
type channel[T any] struct {
	q      *queue[Envelope[T]]
	tracer *Tracer
	cfg    config
}

func newChannel[T any](tracer *Tracer, capacity int, opts []Option) (*Sender[T], *Receiver[T]) {
	if tracer == nil {
		tracer = Default()
	}
	ch := &channel[T]{
		q:      newQueue[Envelope[T]](capacity),
		tracer: tracer,
		cfg:    newConfig(opts),
	}
	return &Sender[T]{ch: ch}, &Receiver[T]{ch: ch}
}

// NewBounded creates a channel holding at most capacity queued items. A
// capacity of zero makes every Send wait until a receiver takes the value.
func NewBounded[T any](tracer *Tracer, capacity int, opts ...Option) (*Sender[T], *Receiver[T], error) {
	if capacity < 0 {
		return nil, nil, ErrInvalidCapacity
	}
	tx, rx := newChannel[T](tracer, capacity, opts)
	return tx, rx, nil
}

// NewUnbounded creates a channel on which Send never waits for room.
func NewUnbounded[T any](tracer *Tracer, opts ...Option) (*Sender[T], *Receiver[T]) {
	return newChannel[T](tracer, -1, opts)
}

func (ch *channel[T]) propagator() Propagator {
	if ch.cfg.propagator != nil {
		return ch.cfg.propagator
	}
	return ch.tracer.Propagator()
}

// envelope captures the trace context of ctx at the moment of the call.
func (ch *channel[T]) envelope(ctx context.Context, payload T) Envelope[T] {
	metadata := make(Carrier, 2)
	if err := ch.propagator().Inject(ctx, metadata); err != nil {
		ch.cfg.logger.Warn("chanz: trace context not injected", "error", err)
	}
	return Envelope[T]{Metadata: metadata, Payload: payload}
}

// Sender is the producing handle of a traced channel.
type Sender[T any] struct {
	ch     *channel[T]
	closed atomic.Bool
}

// Send enqueues payload together with the trace context active in ctx,
// waiting for room on a full bounded channel. It returns ErrChannelClosed once
// every Receiver is closed, and ctx.Err() if ctx ends first; in both cases
// the payload was not enqueued.
func (s *Sender[T]) Send(ctx context.Context, payload T) error {
	return s.send(ctx, payload, true)
}

// TrySend is Send without waiting: a full channel yields ErrChannelFull.
func (s *Sender[T]) TrySend(ctx context.Context, payload T) error {
	return s.send(ctx, payload, false)
}

func (s *Sender[T]) send(ctx context.Context, payload T, block bool) error {
	if s.closed.Load() {
		return ErrChannelClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	env := s.ch.envelope(ctx, payload)
	if err := s.ch.q.push(ctx, env, block); err != nil {
		return err
	}
	if logger := s.ch.cfg.logger; logger.Enabled(ctx, slog.LevelDebug) {
		logger.DebugContext(ctx, "chanz: sent",
			"traceparent", env.Metadata.Get("traceparent"),
			"queued", s.ch.q.len())
	}
	return nil
}

// Clone returns a new handle on the same channel. Each clone must be closed.
// Cloning a closed handle, or one whose side has already shut down, returns
// a closed handle.
func (s *Sender[T]) Clone() *Sender[T] {
	clone := &Sender[T]{ch: s.ch}
	if s.closed.Load() || !s.ch.q.acquire(true) {
		clone.closed.Store(true)
	}
	return clone
}

// Close releases this handle. After the last Sender closes, receivers drain
// the queue and then get ErrChannelClosed. Closing twice is a no-op.
func (s *Sender[T]) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.ch.q.release(true)
	}
}

// Len returns the number of queued items.
func (s *Sender[T]) Len() int { return s.ch.q.len() }

// Cap returns the channel capacity, or -1 when unbounded.
func (s *Sender[T]) Cap() int { return capOf(s.ch.q.capacity) }

// Receiver is the consuming handle of a traced channel.
type Receiver[T any] struct {
	ch     *channel[T]
	closed atomic.Bool
}

// Recv waits for the next payload and returns it with an unfinished consumer
// span. The span hierarchy is sender -> recv -> consumer, where the recv span
// covers the wait and is finished before Recv returns.
//
// The consumer span is not entered: work that should be correlated with
// this hand-off must run under consumer.Context(ctx), and the caller must
// Finish it. Ignoring it loses the trace link without any functional error.
//
// Recv returns ErrChannelClosed once the queue is drained and every Sender is
// closed, and ctx.Err() if ctx ends first; in both cases nothing is removed.
func (r *Receiver[T]) Recv(ctx context.Context) (T, *ActiveSpan, error) {
	return r.recv(ctx, true)
}

// TryRecv is Recv without waiting: an empty channel yields ErrChannelEmpty.
func (r *Receiver[T]) TryRecv(ctx context.Context) (T, *ActiveSpan, error) {
	return r.recv(ctx, false)
}

func (r *Receiver[T]) recv(ctx context.Context, block bool) (T, *ActiveSpan, error) {
	var zero T
	if r.closed.Load() {
		return zero, nil, ErrChannelClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ch := r.ch

	// The recv span starts detached from ctx; its parent is whatever the
	// envelope carries. Polls do not open a span until something arrives.
	var recvSpan *ActiveSpan
	if block {
		recvSpan = ch.startRecvSpan()
	}

	env, err := ch.q.pop(ctx, block)
	if err != nil {
		switch {
		case recvSpan == nil:
		case errors.Is(err, ErrChannelClosed):
			// End of stream is not a hand-off; it would only add a root trace.
			recvSpan.discard()
		default:
			recvSpan.SetTag(TagRecvError, err.Error())
			recvSpan.Finish()
		}
		return zero, nil, err
	}
	if recvSpan == nil {
		recvSpan = ch.startRecvSpan()
	}

	parent, err := ch.propagator().Extract(env.Metadata)
	if err != nil {
		recvSpan.SetTag(TagPropagationError, err.Error())
		ch.cfg.logger.Warn("chanz: trace context dropped, recv span orphaned",
			"error", err,
			"span", ch.cfg.recvName)
	} else {
		recvSpan.SetParent(parent)
	}

	_, consumer := ch.tracer.StartSpan(recvSpan.Context(context.Background()), ch.cfg.consumerName)
	recvSpan.Finish()

	if logger := ch.cfg.logger; logger.Enabled(ctx, slog.LevelDebug) {
		logger.DebugContext(ctx, "chanz: received",
			"trace_id", consumer.TraceID(),
			"span_id", consumer.SpanID(),
			"parent_id", consumer.ParentID())
	}

	return env.Payload, consumer, nil
}

func (ch *channel[T]) startRecvSpan() *ActiveSpan {
	_, span := ch.tracer.StartSpan(context.Background(), ch.cfg.recvName)
	span.SetTag(TagQueueCapacity, strconv.Itoa(capOf(ch.q.capacity)))
	return span
}

// Clone returns a new handle on the same channel. Each clone must be closed.
// Cloning a closed handle, or one whose side has already shut down, returns
// a closed handle.
func (r *Receiver[T]) Clone() *Receiver[T] {
	clone := &Receiver[T]{ch: r.ch}
	if r.closed.Load() || !r.ch.q.acquire(false) {
		clone.closed.Store(true)
	}
	return clone
}

// Close releases this handle. After the last Receiver closes, every pending
// and future Send returns ErrChannelClosed. Closing twice is a no-op.
func (r *Receiver[T]) Close() {
	if r.closed.CompareAndSwap(false, true) {
		r.ch.q.release(false)
	}
}

// Len returns the number of queued items.
func (r *Receiver[T]) Len() int { return r.ch.q.len() }

// Cap returns the channel capacity, or -1 when unbounded.
func (r *Receiver[T]) Cap() int { return capOf(r.ch.q.capacity) }

func capOf(capacity int) int {
	if capacity < 0 {
		return -1
	}
	return capacity
}
