package kinsumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	base "github.com/ghalamif/kinsumer/pkg/kinsumer"
)

// Re-exported errors for convenience.
var (
	ErrIteratorExpired    = base.ErrIteratorExpired
	ErrThroughputExceeded = base.ErrThroughputExceeded
	ErrStreamNotActive    = base.ErrStreamNotActive
	ErrRetriesExhausted   = base.ErrRetriesExhausted
	ErrAlreadyRunning     = base.ErrAlreadyRunning
	ErrChannelSinkClosed  = base.ErrChannelSinkClosed
)

// Type aliases so callers can import github.com/ghalamif/kinsumer directly.
type (
	Config             = base.Config
	Consumer           = base.Consumer
	Option             = base.Option
	ShardStatus        = base.ShardStatus
	Record             = base.Record
	Stream             = base.Stream
	Shard              = base.Shard
	ShardState         = base.ShardState
	Batch              = base.Batch
	ShardContext       = base.ShardContext
	TransformFunc      = base.TransformFunc
	AfterConsumeFunc   = base.AfterConsumeFunc
	TeardownFunc       = base.TeardownFunc
	StreamClient       = base.StreamClient
	Checkpointer       = base.Checkpointer
	Observability      = base.Observability
	Field              = base.Field
	RetryPolicy        = base.RetryPolicy
	IteratorType       = base.IteratorType
	FixedInterval      = base.FixedInterval
	ExponentialBackoff = base.ExponentialBackoff
	RecordHandler      = base.RecordHandler
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Consumer constructors.
func Conf(path string, opts ...Option) (*Consumer, error) {
	return base.Conf(path, opts...)
}

func New(cfg *Config, opts ...Option) (*Consumer, error) {
	return base.New(cfg, opts...)
}

// Option helpers.
func WithStreamClient(c StreamClient) Option          { return base.WithStreamClient(c) }
func WithCheckpointer(cp Checkpointer) Option         { return base.WithCheckpointer(cp) }
func WithObservability(obs Observability) Option      { return base.WithObservability(obs) }
func WithLogger(l *zap.Logger) Option                 { return base.WithLogger(l) }
func WithRetryPolicy(p RetryPolicy) Option            { return base.WithRetryPolicy(p) }
func WithRegisterer(reg prometheus.Registerer) Option { return base.WithRegisterer(reg) }
func WithMetricsServer(enabled bool) Option           { return base.WithMetricsServer(enabled) }

// After-consume helpers.
func PerRecord(fn RecordHandler) AfterConsumeFunc { return base.PerRecord(fn) }

func NewChannelSink(buffer int) (AfterConsumeFunc, <-chan Batch, func()) {
	return base.NewChannelSink(buffer)
}
