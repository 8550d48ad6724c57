// Package chanz provides channels that carry distributed trace context
// alongside every payload.
//
// A traced channel is a FIFO queue between producer and consumer goroutines.
// Each Send captures the trace context active in the caller's context.Context
// and serializes it into the message metadata. Each Recv extracts that context
// and links a new span to it, so the trace survives the asynchronous hand-off.
//
// Core Components:
//   - Tracer: Manages span lifecycle, collection and the active propagator.
//   - Span: Represents a single unit of work.
//   - ActiveSpan: Thread-safe wrapper for ongoing spans.
//   - Collector: Buffers completed spans for export.
//   - Propagator: Serializes span context into a text-map Carrier.
//   - Sender / Receiver: The two handles of a traced channel.
//
// Basic Usage:
//
//	tracer := chanz.New()
//	defer tracer.Close()
//
//	tx, rx := chanz.NewUnbounded[Job](tracer)
//	defer tx.Close()
//	defer rx.Close()
//
//	// Producer goroutine.
//	ctx, span := tracer.StartSpan(ctx, "produce")
//	err := tx.Send(ctx, job)
//	span.Finish()
//
//	// Consumer goroutine.
//	job, consumer, err := rx.Recv(ctx)
//	if err != nil {
//		return err
//	}
//	work(consumer.Context(ctx), job)
//	consumer.Finish()
//
// The resulting hierarchy is produce -> recv -> consumer. The consumer span
// returned by Recv is not entered for you: work that should be correlated with
// the hand-off must run under consumer.Context, and the caller must Finish it.
//
// Closing:
//
// Handles are reference counted. Clone a handle to share a side between
// goroutines and Close every handle when done. Once every Sender is closed,
// receivers drain what is queued and then get ErrChannelClosed. Once every
// Receiver is closed, Send fails with ErrChannelClosed instead of blocking.
//
// Propagation:
//
// The default wire format is W3C Trace Context (traceparent/tracestate),
// provided by the OpenTelemetry propagation package. Any OpenTelemetry
// TextMapPropagator can be plugged in with NewOTelPropagator.
package chanz

// Key represents a span operation name.
type Key = string

// Tag represents a span tag key.
type Tag = string

// Tags set by the channel on the spans it creates.
const (
	TagRecvError        Tag = "recv.error"
	TagPropagationError Tag = "propagation.error"
	TagQueueCapacity    Tag = "queue.capacity"
)
