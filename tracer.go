package chanz

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
)

// contextBundle holds the tracer and either a local span or a remote parent,
// so a single context value resolves the parent of the next span.
type contextBundle struct {
	tracer *Tracer
	span   *Span
	active *ActiveSpan
	remote SpanContext
}

// SpanHandler is called when a span completes.
type SpanHandler func(span Span)

type handlerEntry struct {
	handler SpanHandler
	id      uint64
	async   bool
}

// Tracer manages span lifecycle and collection.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	handlers       []handlerEntry
	collectors     map[string]*Collector
	propagator     Propagator
	panicHook      func(handlerID uint64, r interface{})
	workers        *workerPool
	traceIDPool    *IDPool
	spanIDPool     *IDPool
	clock          clockz.Clock
	handlersLock   sync.RWMutex
	collectorsLock sync.RWMutex
	propagatorLock sync.RWMutex
	idPoolOnce     sync.Once
	closed         atomic.Bool
	nextID         atomic.Uint64
	droppedSpans   atomic.Uint64
}

var (
	defaultTracer     *Tracer
	defaultTracerOnce sync.Once
)

// Default returns the process-wide tracer used by channels constructed
// without one.
func Default() *Tracer {
	defaultTracerOnce.Do(func() {
		defaultTracer = New()
	})
	return defaultTracer
}

// New creates a new tracer.
// Uses the real clock and the W3C propagator.
func New() *Tracer {
	return &Tracer{
		handlers:   make([]handlerEntry, 0),
		collectors: make(map[string]*Collector),
		clock:      clockz.RealClock,
	}
}

// WithClock returns a new tracer with the specified clock.
// Enables clock injection for deterministic testing.
func (*Tracer) WithClock(clock clockz.Clock) *Tracer {
	t := New()
	t.clock = clock
	return t
}

// SetPropagator replaces the propagator used by channels bound to this tracer.
// A nil propagator restores the W3C default.
func (t *Tracer) SetPropagator(p Propagator) {
	t.propagatorLock.Lock()
	defer t.propagatorLock.Unlock()
	t.propagator = p
}

// Propagator returns the active propagator.
func (t *Tracer) Propagator() Propagator {
	t.propagatorLock.RLock()
	defer t.propagatorLock.RUnlock()
	if t.propagator == nil {
		return W3C()
	}
	return t.propagator
}

// ensureIDPools initializes ID pools if not already created. A closed
// tracer never starts pools; IDs are then generated on demand.
func (t *Tracer) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		if t.closed.Load() {
			return
		}
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize := runtime.NumCPU() * 100

		t.traceIDPool = NewIDPool(poolSize, t.randomID(16))
		t.spanIDPool = NewIDPool(poolSize, t.randomID(8))
	})
}

// randomID returns a factory of hex IDs of n random bytes, the sizes used by
// W3C trace context. The fallback only runs when crypto/rand fails.
func (t *Tracer) randomID(n int) func() string {
	return func() string {
		bytes := make([]byte, n)
		if _, err := rand.Read(bytes); err != nil {
			nanos := uint64(t.clock.Now().UnixNano())
			for i := range bytes {
				bytes[i] = byte(nanos >> (8 * (i % 8)))
			}
			bytes[0] |= 0x01
		}
		return hex.EncodeToString(bytes)
	}
}

// AddCollector registers a collector under name, replacing any previous one.
func (t *Tracer) AddCollector(name string, collector *Collector) {
	if collector == nil {
		return
	}
	t.collectorsLock.Lock()
	defer t.collectorsLock.Unlock()
	t.collectors[name] = collector
}

// RemoveCollector unregisters a collector. The collector keeps running.
func (t *Tracer) RemoveCollector(name string) {
	t.collectorsLock.Lock()
	defer t.collectorsLock.Unlock()
	delete(t.collectors, name)
}

// OnSpanComplete registers a synchronous handler called when spans complete.
func (t *Tracer) OnSpanComplete(handler SpanHandler) uint64 {
	return t.registerHandler(handler, false)
}

// OnSpanCompleteAsync registers an asynchronous handler called when spans complete.
func (t *Tracer) OnSpanCompleteAsync(handler SpanHandler) uint64 {
	return t.registerHandler(handler, true)
}

func (t *Tracer) registerHandler(handler SpanHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := t.nextID.Add(1)

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = append(t.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (t *Tracer) RemoveHandler(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	// Preserve order
	for i, h := range t.handlers {
		if h.id == id {
			copy(t.handlers[i:], t.handlers[i+1:])
			t.handlers = t.handlers[:len(t.handlers)-1]
			return
		}
	}
}

// SetPanicHook sets a function to be called when a handler panics.
func (t *Tracer) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.panicHook = hook
}

// StartSpan creates a new span and returns it wrapped in an ActiveSpan.
// If the context carries a span, local or remote, the new span is its child.
func (t *Tracer) StartSpan(ctx context.Context, operation Key) (context.Context, *ActiveSpan) {
	if ctx == nil {
		ctx = context.Background()
	}

	span := &Span{
		SpanID:    t.generateSpanID(),
		Name:      string(operation),
		StartTime: t.clock.Now(),
	}

	if parent := SpanContextFromContext(ctx); parent.IsValid() {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
		span.TraceState = parent.TraceState
		span.Sampled = parent.Sampled
		span.RemoteParent = parent.Remote
	} else {
		span.TraceID = t.generateTraceID()
		span.Sampled = true
	}

	activeSpan := &ActiveSpan{
		span:   span,
		tracer: t,
	}

	return activeSpan.Context(ctx), activeSpan
}

// collectSpan fans a finished span out to collectors and handlers.
func (t *Tracer) collectSpan(span *Span) {
	t.collectorsLock.RLock()
	for _, c := range t.collectors {
		c.Collect(span)
	}
	t.collectorsLock.RUnlock()

	t.executeHandlers(*span)
}

// executeHandlers calls all registered handlers with the completed span.
func (t *Tracer) executeHandlers(span Span) {
	t.handlersLock.RLock()
	if len(t.handlers) == 0 {
		t.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	hook := t.panicHook
	workers := t.workers
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		entry := h
		if !entry.async {
			safeCall(hook, entry, span)
			continue
		}
		if workers != nil {
			workers.submit(func() {
				safeCall(hook, entry, span)
			})
		} else {
			go safeCall(hook, entry, span)
		}
	}
}

func safeCall(hook func(uint64, interface{}), entry handlerEntry, span Span) {
	defer func() {
		if r := recover(); r != nil && hook != nil {
			hook(entry.id, r)
		}
	}()
	entry.handler(span)
}

// EnableWorkerPool creates a bounded worker pool for async handlers.
func (t *Tracer) EnableWorkerPool(workers, queueSize int) error {
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	if t.workers != nil {
		return errors.New("worker pool already enabled")
	}

	t.workers = &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &t.droppedSpans,
	}

	t.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go t.workers.run()
	}

	return nil
}

// DroppedSpans returns the number of spans dropped due to full worker queue.
func (t *Tracer) DroppedSpans() uint64 {
	return t.droppedSpans.Load()
}

// Reset clears the buffers of all registered collectors.
func (t *Tracer) Reset() {
	t.collectorsLock.RLock()
	defer t.collectorsLock.RUnlock()
	for _, c := range t.collectors {
		c.Reset()
	}
}

// Close shuts down the tracer gracefully and cleans up resources.
// Registered collectors are stopped and their buffers cleared.
func (t *Tracer) Close() {
	t.handlersLock.Lock()
	t.handlers = nil
	workers := t.workers
	t.workers = nil
	t.handlersLock.Unlock()

	// Wait for in-flight async tasks
	if workers != nil {
		workers.shutdown()
	}

	t.collectorsLock.Lock()
	for name, c := range t.collectors {
		c.close()
		c.Reset()
		delete(t.collectors, name)
	}
	t.collectorsLock.Unlock()

	// Settle the pools: after this Do returns they are either running or
	// will never be created.
	t.closed.Store(true)
	t.idPoolOnce.Do(func() {})
	if t.traceIDPool != nil {
		t.traceIDPool.Close()
	}
	if t.spanIDPool != nil {
		t.spanIDPool.Close()
	}
}

// generateTraceID creates a new trace ID from the pool.
func (t *Tracer) generateTraceID() string {
	t.ensureIDPools()
	if t.traceIDPool == nil {
		return t.randomID(16)()
	}
	return t.traceIDPool.Get()
}

// generateSpanID creates a new span ID from the pool.
func (t *Tracer) generateSpanID() string {
	t.ensureIDPools()
	if t.spanIDPool == nil {
		return t.randomID(8)()
	}
	return t.spanIDPool.Get()
}

// workerPool manages a fixed number of workers for processing async handlers.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			return
		}
	}
}

func (w *workerPool) submit(task func()) {
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}
