package kinsumer

import (
	"github.com/ghalamif/kinsumer/internal/app/config"
	"github.com/ghalamif/kinsumer/internal/app/pipeline"
	"github.com/ghalamif/kinsumer/internal/domain"
	"github.com/ghalamif/kinsumer/internal/ports"
)

// Config re-exports the root configuration struct so callers can build or
// tweak it programmatically. Call Normalize before passing a hand-built
// Config to New.
type Config = config.Config

type (
	Record       = domain.Record
	Stream       = domain.Stream
	Shard        = domain.Shard
	ShardState   = domain.ShardState
	Batch        = pipeline.Batch
	ShardContext = pipeline.ShardContext

	TransformFunc    = pipeline.TransformFunc
	AfterConsumeFunc = pipeline.AfterConsumeFunc
	TeardownFunc     = pipeline.TeardownFunc

	// StreamClient is the wire boundary to the stream service.
	StreamClient = ports.StreamClient
	// Checkpointer persists the last processed sequence number per shard.
	Checkpointer = ports.Checkpointer
	// Observability receives every log line and metric the consumer emits.
	Observability = ports.Observability
	Field         = ports.Field
	RetryPolicy   = ports.RetryPolicy
	IteratorType  = ports.IteratorType

	FixedInterval      = pipeline.FixedInterval
	ExponentialBackoff = pipeline.ExponentialBackoff
)

var (
	ErrIteratorExpired    = ports.ErrIteratorExpired
	ErrThroughputExceeded = ports.ErrThroughputExceeded
	ErrStreamNotActive    = ports.ErrStreamNotActive
	ErrRetriesExhausted   = ports.ErrRetriesExhausted
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
