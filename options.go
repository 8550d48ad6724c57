package chanz

import "log/slog"

// Default span names used by Recv.
const (
	DefaultRecvSpanName     Key = "recv"
	DefaultConsumerSpanName Key = "consumer"
)

// config holds per-channel settings.
type config struct {
	logger       *slog.Logger
	propagator   Propagator
	recvName     Key
	consumerName Key
}

func newConfig(opts []Option) config {
	cfg := config{
		recvName:     DefaultRecvSpanName,
		consumerName: DefaultConsumerSpanName,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}

// Option configures a channel at construction.
type Option func(*config)

// WithLogger routes channel diagnostics, such as undecodable trace context,
// to logger instead of slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithPropagator pins the propagator for this channel. Without it the
// channel uses its tracer's propagator at the time of each Send and Recv.
func WithPropagator(p Propagator) Option {
	return func(c *config) {
		c.propagator = p
	}
}

// WithRecvSpanName overrides the name of the span covering the wait in Recv.
func WithRecvSpanName(name Key) Option {
	return func(c *config) {
		if name != "" {
			c.recvName = name
		}
	}
}

// WithConsumerSpanName overrides the name of the span returned by Recv.
func WithConsumerSpanName(name Key) Option {
	return func(c *config) {
		if name != "" {
			c.consumerName = name
		}
	}
}
