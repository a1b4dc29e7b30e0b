package domain

import "time"

// Record is a single stream event as delivered by a shard. Payload is opaque.
type Record struct {
	ShardID          string    `json:"shard_id"`
	SequenceNumber   string    `json:"sequence_number"`
	ArrivalTimestamp time.Time `json:"arrival_timestamp"`
	Data             []byte    `json:"data"`
	PartitionKey     string    `json:"partition_key"`
}

// StreamStatus mirrors the lifecycle status reported by the stream service.
type StreamStatus string

const (
	StreamCreating StreamStatus = "CREATING"
	StreamActive   StreamStatus = "ACTIVE"
	StreamUpdating StreamStatus = "UPDATING"
	StreamDeleting StreamStatus = "DELETING"
)

// Stream is a read-only snapshot returned by one discovery call.
type Stream struct {
	Name   string
	Status StreamStatus
	Shards []Shard
}

// Active reports whether the stream can be consumed.
func (s Stream) Active() bool { return s.Status == StreamActive }

// ShardIDs returns the shard ids in discovery order.
func (s Stream) ShardIDs() []string {
	ids := make([]string, 0, len(s.Shards))
	for _, sh := range s.Shards {
		ids = append(ids, sh.ID)
	}
	return ids
}

// Shard describes one partition of a stream.
type Shard struct {
	ID            string
	ParentShardID string
}

// ShardState is the lifecycle state of a shard worker.
type ShardState int

const (
	ShardAcquiringIterator ShardState = iota
	ShardPolling
	ShardBatchReady
	ShardBatchEmpty
	ShardProcessing
	ShardCheckpointing
	ShardClosing
	ShardClosed
	ShardFailed
)

func (s ShardState) String() string {
	switch s {
	case ShardAcquiringIterator:
		return "ACQUIRING_ITERATOR"
	case ShardPolling:
		return "POLLING"
	case ShardBatchReady:
		return "BATCH_READY"
	case ShardBatchEmpty:
		return "BATCH_EMPTY"
	case ShardProcessing:
		return "PROCESSING"
	case ShardCheckpointing:
		return "CHECKPOINTING"
	case ShardClosing:
		return "CLOSING"
	case ShardClosed:
		return "CLOSED"
	case ShardFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
