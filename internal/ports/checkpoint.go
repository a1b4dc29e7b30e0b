package ports

import "context"

// Checkpointer persists the last processed sequence number per shard.
//
// Implementations must be safe for concurrent use by every shard worker.
type Checkpointer interface {
	// GetCheckpoints returns a snapshot copy of every known checkpoint.
	GetCheckpoints(ctx context.Context) (map[string]string, error)
	// GetCheckpoint returns the stored sequence number and whether one exists.
	GetCheckpoint(ctx context.Context, shardID string) (string, bool, error)
	// Checkpoint overwrites the sequence number stored for shardID.
	Checkpoint(ctx context.Context, shardID, sequence string) error
}
