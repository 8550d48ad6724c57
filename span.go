package chanz

import (
	"context"
	"sync"
	"time"
)

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType string

const (
	bundleKey bundleKeyType = "chanz"
)

// Span represents a single unit of work in a distributed trace.
// Spans are NOT thread-safe - do not modify from multiple goroutines.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Span struct {
	Tags       map[Tag]string `json:"tags,omitempty"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time,omitempty"`
	Duration   time.Duration  `json:"duration"`
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Name       string         `json:"name"`
	TraceState string         `json:"trace_state,omitempty"`
	Sampled    bool           `json:"sampled"`
	// RemoteParent is set when ParentID was received over a propagation
	// boundary rather than taken from a span in the same process.
	RemoteParent bool `json:"remote_parent,omitempty"`
}

// SpanContext is the portion of a span that crosses a propagation boundary.
type SpanContext struct {
	TraceID    string
	SpanID     string
	TraceState string
	Sampled    bool
	Remote     bool
}

// IsValid reports whether both identifiers are present.
func (sc SpanContext) IsValid() bool {
	return sc.TraceID != "" && sc.SpanID != ""
}

// spanContext returns the propagation view of s.
func (s *Span) spanContext() SpanContext {
	return SpanContext{
		TraceID:    s.TraceID,
		SpanID:     s.SpanID,
		TraceState: s.TraceState,
		Sampled:    s.Sampled,
	}
}

// ActiveSpan wraps a Span with thread-safe tag operations and lifecycle management.
// Safe for concurrent use by multiple goroutines.
type ActiveSpan struct {
	span   *Span
	tracer *Tracer
	mu     sync.Mutex // Protects span fields from concurrent writes.
}

// SetTag adds a key-value pair to the span.
// No-op if span is already finished.
func (a *ActiveSpan) SetTag(key Tag, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Don't modify finished spans.
	if !a.span.EndTime.IsZero() {
		return
	}

	if a.span.Tags == nil {
		a.span.Tags = make(map[Tag]string)
	}
	a.span.Tags[key] = value
}

// GetTag retrieves a tag value by key.
func (a *ActiveSpan) GetTag(key Tag) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.span.Tags == nil {
		return "", false
	}
	value, ok := a.span.Tags[key]
	return value, ok
}

// SetParent re-parents an unfinished span under sc, adopting its trace.
// Invalid contexts and finished spans are ignored. Only spans that have not
// yet been used to start children should be re-parented, since existing
// children keep the trace they were started with.
func (a *ActiveSpan) SetParent(sc SpanContext) {
	if !sc.IsValid() {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.span.EndTime.IsZero() {
		return
	}

	a.span.TraceID = sc.TraceID
	a.span.ParentID = sc.SpanID
	a.span.TraceState = sc.TraceState
	a.span.Sampled = sc.Sampled
	a.span.RemoteParent = sc.Remote
}

// Finish completes the span and sends it to the tracer for collection.
// Safe to call multiple times - subsequent calls are no-ops.
func (a *ActiveSpan) Finish() {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Prevent double-finishing.
	if !a.span.EndTime.IsZero() {
		return
	}

	a.span.EndTime = a.tracer.clock.Now()
	a.span.Duration = a.span.EndTime.Sub(a.span.StartTime)

	a.tracer.collectSpan(a.span)
}

// discard ends the span without handing it to collectors or handlers.
func (a *ActiveSpan) discard() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.span.EndTime.IsZero() {
		a.span.EndTime = a.tracer.clock.Now()
		a.span.Duration = a.span.EndTime.Sub(a.span.StartTime)
	}
}

// TraceID returns the trace ID of this span.
func (a *ActiveSpan) TraceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.TraceID
}

// SpanID returns the span ID of this span.
func (a *ActiveSpan) SpanID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.SpanID
}

// ParentID returns the parent span ID, empty for root spans.
func (a *ActiveSpan) ParentID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.ParentID
}

// Name returns the operation name.
func (a *ActiveSpan) Name() string {
	return a.span.Name
}

// SpanContext returns the propagation view of this span.
func (a *ActiveSpan) SpanContext() SpanContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.spanContext()
}

// Context creates a new context with this span embedded.
// The returned context can be used to start child spans and to Send.
func (a *ActiveSpan) Context(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	bundle := &contextBundle{tracer: a.tracer, span: a.span, active: a}
	return context.WithValue(parent, bundleKey, bundle)
}

// GetSpan extracts the current span from a context.
// Returns nil if no local span is present. The returned Span is shared with
// its ActiveSpan; read it only after Finish.
func GetSpan(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}

	if bundle, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		return bundle.span
	}

	return nil
}

// ContextWithRemoteSpanContext returns a context whose parent for new spans
// is sc, typically one extracted from an inbound request. It shadows any
// span already present in ctx.
func ContextWithRemoteSpanContext(ctx context.Context, sc SpanContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	sc.Remote = true
	bundle := &contextBundle{remote: sc}
	if prev, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		bundle.tracer = prev.tracer
	}
	return context.WithValue(ctx, bundleKey, bundle)
}

// SpanContextFromContext returns the span context that new spans started from
// ctx would be parented to: the local span if one is present, otherwise a
// remote span context. The zero value is returned when ctx carries neither.
func SpanContextFromContext(ctx context.Context) SpanContext {
	if ctx == nil {
		return SpanContext{}
	}
	bundle, ok := ctx.Value(bundleKey).(*contextBundle)
	if !ok {
		return SpanContext{}
	}
	if bundle.active != nil {
		return bundle.active.SpanContext()
	}
	return bundle.remote
}
