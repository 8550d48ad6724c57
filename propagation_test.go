package chanz

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/propagation"
)

func TestW3CRoundTrip(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	ctx, span := tracer.StartSpan(context.Background(), "producer")
	defer span.Finish()

	carrier := make(Carrier)
	if err := W3C().Inject(ctx, carrier); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}

	traceparent := carrier.Get("traceparent")
	want := "00-" + span.TraceID() + "-" + span.SpanID() + "-01"
	if traceparent != want {
		t.Errorf("Expected traceparent %s, got %s", want, traceparent)
	}

	sc, err := W3C().Extract(carrier)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if sc.TraceID != span.TraceID() {
		t.Errorf("Expected TraceID %s, got %s", span.TraceID(), sc.TraceID)
	}
	if sc.SpanID != span.SpanID() {
		t.Errorf("Expected SpanID %s, got %s", span.SpanID(), sc.SpanID)
	}
	if !sc.Sampled || !sc.Remote {
		t.Errorf("Expected sampled remote context, got %+v", sc)
	}

	// The extracted context is a usable parent.
	_, child := tracer.StartSpan(ContextWithRemoteSpanContext(context.Background(), sc), "child")
	if child.TraceID() != span.TraceID() || child.ParentID() != span.SpanID() {
		t.Errorf("Expected child of %s/%s, got %s/%s",
			span.TraceID(), span.SpanID(), child.TraceID(), child.ParentID())
	}
}

func TestW3CTraceStateAndSampling(t *testing.T) {
	remote := SpanContext{
		TraceID:    "4bf92f3577b34da6a3ce929d0e0e4736",
		SpanID:     "00f067aa0ba902b7",
		TraceState: "vendor=value",
	}
	ctx := ContextWithRemoteSpanContext(context.Background(), remote)

	carrier := make(Carrier)
	if err := W3C().Inject(ctx, carrier); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}

	if got := carrier.Get("traceparent"); got != "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-00" {
		t.Errorf("Unexpected traceparent %s", got)
	}
	if got := carrier.Get("tracestate"); got != "vendor=value" {
		t.Errorf("Expected tracestate to be injected, got %q", got)
	}

	sc, err := W3C().Extract(carrier)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if sc.Sampled {
		t.Error("Expected unsampled flag to survive the round trip")
	}
	if sc.TraceState != "vendor=value" {
		t.Errorf("Expected tracestate to survive the round trip, got %q", sc.TraceState)
	}
}

func TestW3CInjectWithoutSpan(t *testing.T) {
	carrier := make(Carrier)
	if err := W3C().Inject(context.Background(), carrier); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}
	if len(carrier) != 0 {
		t.Errorf("Expected no fields without a span, got %v", carrier.Keys())
	}

	sc, err := W3C().Extract(carrier)
	if err != nil {
		t.Errorf("Expected no error for an empty carrier, got %v", err)
	}
	if sc.IsValid() {
		t.Errorf("Expected zero span context, got %+v", sc)
	}
}

func TestW3CInjectInvalidIDs(t *testing.T) {
	ctx := ContextWithRemoteSpanContext(context.Background(), SpanContext{TraceID: "not-hex", SpanID: "nope"})

	carrier := make(Carrier)
	if err := W3C().Inject(ctx, carrier); err == nil {
		t.Error("Expected error for non-hex identifiers")
	}
	if len(carrier) != 0 {
		t.Errorf("Expected nothing injected, got %v", carrier.Keys())
	}
}

func TestW3CExtractMalformed(t *testing.T) {
	cases := map[string]string{
		"garbage":     "garbage",
		"zero trace":  "00-00000000000000000000000000000000-00f067aa0ba902b7-01",
		"short span":  "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067-01",
		"bad version": "ff-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}

	for name, traceparent := range cases {
		t.Run(name, func(t *testing.T) {
			sc, err := W3C().Extract(Carrier{"traceparent": traceparent})
			if !errors.Is(err, ErrPropagationDecode) {
				t.Errorf("Expected ErrPropagationDecode, got %v", err)
			}
			if sc.IsValid() {
				t.Errorf("Expected zero span context, got %+v", sc)
			}
		})
	}
}

func TestW3CFields(t *testing.T) {
	fields := strings.Join(W3C().Fields(), ",")
	if fields != "traceparent,tracestate" {
		t.Errorf("Expected traceparent,tracestate, got %s", fields)
	}
}

func TestCompositePropagatorIgnoresBaggageOnly(t *testing.T) {
	p := NewOTelPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	sc, err := p.Extract(Carrier{"baggage": "user=alice"})
	if err != nil {
		t.Errorf("Expected baggage-only carrier to extract cleanly, got %v", err)
	}
	if sc.IsValid() {
		t.Errorf("Expected zero span context, got %+v", sc)
	}
}

func TestW3CHeaderCarrier(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	ctx, span := tracer.StartSpan(context.Background(), "client")
	defer span.Finish()

	header := http.Header{}
	if err := W3C().Inject(ctx, propagation.HeaderCarrier(header)); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}
	if header.Get("Traceparent") == "" {
		t.Fatal("Expected traceparent header")
	}

	sc, err := W3C().Extract(propagation.HeaderCarrier(header))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if sc.SpanID != span.SpanID() {
		t.Errorf("Expected SpanID %s, got %s", span.SpanID(), sc.SpanID)
	}
}
