package chanz

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Propagator serializes span context into a carrier and reads it back.
// Implementations must be safe for concurrent use.
type Propagator interface {
	// Inject writes the span context active in ctx into carrier. A context
	// without a span leaves the carrier untouched.
	Inject(ctx context.Context, carrier TextMapCarrier) error

	// Extract reads a span context from carrier. A carrier without any
	// propagation fields yields the zero SpanContext and no error; fields
	// that are present but malformed yield ErrPropagationDecode.
	Extract(carrier TextMapCarrier) (SpanContext, error)

	// Fields returns the carrier keys the propagator uses.
	Fields() []string
}

// w3c is shared; the OpenTelemetry TraceContext propagator is stateless.
var w3c = NewOTelPropagator(propagation.TraceContext{})

// W3C returns the W3C Trace Context propagator (traceparent/tracestate).
func W3C() Propagator {
	return w3c
}

// OTelPropagator adapts an OpenTelemetry TextMapPropagator.
type OTelPropagator struct {
	inner propagation.TextMapPropagator
	// spanFields are the fields whose presence implies a span context,
	// excluding baggage carried by composite propagators.
	spanFields []string
}

// NewOTelPropagator wraps p, which may be a composite such as
// propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}).
func NewOTelPropagator(p propagation.TextMapPropagator) *OTelPropagator {
	baggage := make(map[string]bool)
	for _, f := range (propagation.Baggage{}).Fields() {
		baggage[f] = true
	}
	var fields []string
	for _, f := range p.Fields() {
		if !baggage[f] {
			fields = append(fields, f)
		}
	}
	return &OTelPropagator{inner: p, spanFields: fields}
}

// Fields implements Propagator.
func (o *OTelPropagator) Fields() []string {
	return o.inner.Fields()
}

// Inject implements Propagator. Any OpenTelemetry state already in ctx, such
// as baggage, is injected alongside the span context.
func (o *OTelPropagator) Inject(ctx context.Context, carrier TextMapCarrier) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sc := SpanContextFromContext(ctx)
	if sc.IsValid() {
		osc, err := toOTel(sc)
		if err != nil {
			return err
		}
		ctx = trace.ContextWithSpanContext(ctx, osc)
	}
	o.inner.Inject(ctx, carrier)
	return nil
}

// Extract implements Propagator.
func (o *OTelPropagator) Extract(carrier TextMapCarrier) (SpanContext, error) {
	osc := trace.SpanContextFromContext(o.inner.Extract(context.Background(), carrier))
	if osc.IsValid() {
		return fromOTel(osc), nil
	}
	for _, f := range o.spanFields {
		if v := carrier.Get(f); v != "" {
			return SpanContext{}, fmt.Errorf("%w: %s=%q", ErrPropagationDecode, f, v)
		}
	}
	return SpanContext{}, nil
}

func toOTel(sc SpanContext) (trace.SpanContext, error) {
	traceID, err := trace.TraceIDFromHex(sc.TraceID)
	if err != nil {
		return trace.SpanContext{}, fmt.Errorf("trace id %q: %w", sc.TraceID, err)
	}
	spanID, err := trace.SpanIDFromHex(sc.SpanID)
	if err != nil {
		return trace.SpanContext{}, fmt.Errorf("span id %q: %w", sc.SpanID, err)
	}
	state, err := trace.ParseTraceState(sc.TraceState)
	if err != nil {
		// An unparsable tracestate does not invalidate the parent link.
		state = trace.TraceState{}
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.TraceFlags(0).WithSampled(sc.Sampled),
		TraceState: state,
		Remote:     sc.Remote,
	}), nil
}

func fromOTel(osc trace.SpanContext) SpanContext {
	return SpanContext{
		TraceID:    osc.TraceID().String(),
		SpanID:     osc.SpanID().String(),
		TraceState: osc.TraceState().String(),
		Sampled:    osc.IsSampled(),
		Remote:     true,
	}
}
