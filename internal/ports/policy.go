package ports

import "time"

// Policy holds the per-shard consumption thresholds shared by every worker.
type Policy struct {
	StartIteratorType IteratorType
	ReadLimit         int
	PollInterval      time.Duration
	MonitorInterval   time.Duration

	OverhangEnabled   bool
	OverhangThreshold time.Duration

	BucketSizeLimit  int
	BucketCountLimit int
}
