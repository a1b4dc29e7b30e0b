package kinsumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option customizes the dependencies used by a Consumer.
type Option func(*overrides)

type overrides struct {
	client        StreamClient
	checkpointer  Checkpointer
	observability Observability
	logger        *zap.Logger
	retry         RetryPolicy
	registerer    prometheus.Registerer
	serveMetrics  *bool
}

// WithStreamClient replaces the AWS Kinesis client, e.g. with an in-memory
// stream in tests.
func WithStreamClient(c StreamClient) Option {
	return func(o *overrides) {
		o.client = c
	}
}

// WithCheckpointer bypasses the checkpoint backend selected in the config.
func WithCheckpointer(cp Checkpointer) Option {
	return func(o *overrides) {
		o.checkpointer = cp
	}
}

// WithObservability replaces the default zap + Prometheus backend.
func WithObservability(obs Observability) Option {
	return func(o *overrides) {
		o.observability = obs
	}
}

// WithLogger sets the zap logger used by the default observability backend.
func WithLogger(l *zap.Logger) Option {
	return func(o *overrides) {
		o.logger = l
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *overrides) {
		o.retry = p
	}
}

// WithRegisterer registers the consumer's metrics on reg instead of the
// global registry. When reg is also a Gatherer the metrics server serves it.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *overrides) {
		o.registerer = reg
	}
}

// WithMetricsServer toggles the /metrics and /healthz listener. It is on by
// default.
func WithMetricsServer(enabled bool) Option {
	return func(o *overrides) {
		o.serveMetrics = &enabled
	}
}
