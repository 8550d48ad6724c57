package chanz

import (
	"sync"
	"sync/atomic"
	"time"
)

// closeTimeout bounds how long close waits for the collector goroutine to drain.
const closeTimeout = 100 * time.Millisecond

// Collector buffers completed spans for batch export. Drops are counted per
// span name, so a saturated collector shows whether it was losing recv
// spans, consumer spans or the caller's own.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	spans        []Span
	spansCh      chan Span
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	droppedBy    map[string]int64
	dropMu       sync.Mutex
	name         string
	mu           sync.Mutex
	closeOnce    sync.Once
	closed       atomic.Bool
	syncMode     atomic.Bool // Bypass channel for synchronous collection.
}

// NewCollector creates a new collector with the specified name and buffer size.
func NewCollector(name string, bufferSize int) *Collector {
	c := &Collector{
		name:      name,
		droppedBy: make(map[string]int64),
		spans:     make([]Span, 0, 8),
		spansCh:   make(chan Span, bufferSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.start()
	return c
}

// Name returns the name the collector was created with.
func (c *Collector) Name() string {
	return c.name
}

// start runs the collector's main loop, receiving spans from the channel.
func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining spans before shutdown.
			for {
				select {
				case span := <-c.spansCh:
					c.buffer(&span)
				default:
					return
				}
			}
		case span := <-c.spansCh:
			c.buffer(&span)
		}
	}
}

// close shuts down the collector gracefully.
func (c *Collector) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		select {
		case <-c.done:
		case <-time.After(closeTimeout):
		}
	})
}

// Collect buffers a copy of span. When the internal channel is full, or the
// collector is closed, the span is dropped and counted under its name.
// In sync mode, spans are buffered directly for deterministic testing.
func (c *Collector) Collect(span *Span) {
	if span == nil {
		c.droppedCount.Add(1)
		return
	}
	if c.closed.Load() {
		c.drop(span.Name)
		return
	}

	spanCopy := cloneSpan(span)
	if c.syncMode.Load() {
		c.buffer(&spanCopy)
		return
	}

	select {
	case c.spansCh <- spanCopy:
	default:
		c.drop(span.Name)
	}
}

func (c *Collector) drop(name string) {
	c.droppedCount.Add(1)
	c.dropMu.Lock()
	c.droppedBy[name]++
	c.dropMu.Unlock()
}

// cloneSpan copies span deeply enough that later tag writes do not leak.
func cloneSpan(span *Span) Span {
	out := *span
	if span.Tags != nil {
		out.Tags = make(map[Tag]string, len(span.Tags))
		for k, v := range span.Tags {
			out.Tags[k] = v
		}
	}
	return out
}

// buffer appends a span to the internal buffer, growing it geometrically.
func (c *Collector) buffer(span *Span) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) >= cap(c.spans) {
		currentCap := cap(c.spans)
		var newCap int
		if currentCap < 1024 {
			newCap = currentCap * 2
		} else {
			// Grow by 50% for large buffers to avoid excessive memory usage.
			newCap = currentCap + currentCap/2
		}
		if newCap < 32 {
			newCap = 32
		}
		grown := make([]Span, len(c.spans), newCap)
		copy(grown, c.spans)
		c.spans = grown
	}
	c.spans = append(c.spans, *span)
}

// Export returns a copy of all buffered spans and clears the internal buffer.
// The returned slice is safe to modify without affecting the collector.
func (c *Collector) Export() []Span {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) == 0 {
		return nil
	}

	result := make([]Span, len(c.spans))
	for i := range c.spans {
		result[i] = cloneSpan(&c.spans[i])
	}
	c.shrinkLocked(0)
	return result
}

// ExportTrace removes and returns the buffered spans of one trace, in
// completion order. Spans of other traces stay buffered.
func (c *Collector) ExportTrace(traceID string) []Span {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result []Span
	kept := c.spans[:0]
	for i := range c.spans {
		if c.spans[i].TraceID == traceID {
			result = append(result, cloneSpan(&c.spans[i]))
			continue
		}
		kept = append(kept, c.spans[i])
	}
	for i := len(kept); i < len(c.spans); i++ {
		c.spans[i] = Span{}
	}
	c.spans = kept
	c.shrinkLocked(len(kept))
	return result
}

// shrinkLocked truncates the buffer to n spans, reallocating only when it is
// very oversized.
func (c *Collector) shrinkLocked(n int) {
	if cap(c.spans) > 256 && n < cap(c.spans)/8 {
		newCap := cap(c.spans) / 4
		if newCap < 32 {
			newCap = 32
		}
		grown := make([]Span, n, newCap)
		copy(grown, c.spans[:n])
		c.spans = grown
		return
	}
	c.spans = c.spans[:n]
}

// Count returns the current number of buffered spans.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}

// DroppedCount returns the total number of spans dropped due to backpressure.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// DroppedByName returns a snapshot of drop counts keyed by span name.
func (c *Collector) DroppedByName() map[string]int64 {
	c.dropMu.Lock()
	defer c.dropMu.Unlock()

	out := make(map[string]int64, len(c.droppedBy))
	for name, n := range c.droppedBy {
		out[name] = n
	}
	return out
}

// SetSyncMode enables synchronous collection for testing.
// When enabled, spans are collected directly without using the channel.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears all buffered spans and resets the drop counter.
// Does not affect the running goroutine - use close() for that.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.spans = c.spans[:0]
	c.droppedCount.Store(0)

	c.dropMu.Lock()
	clear(c.droppedBy)
	c.dropMu.Unlock()
}
