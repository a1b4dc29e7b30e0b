package ports

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogWarn(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name, shardID string, v float64)
	ObserveLatency(name, shardID string, seconds float64)

	SetGauge(name string, v float64)
}

type Field struct {
	Key   string
	Value any
}

// Metric names emitted by the consumer.
const (
	MetricRecordsFetched   = "kinsumer_records_fetched_total"
	MetricBatchesProcessed = "kinsumer_batches_processed_total"
	MetricCheckpoints      = "kinsumer_checkpoints_total"
	MetricHookErrors       = "kinsumer_hook_errors_total"
	MetricFetchErrors      = "kinsumer_fetch_errors_total"
	MetricOverhangJumps    = "kinsumer_overhang_jumps_total"
	MetricActiveShards     = "kinsumer_active_shards"
	MetricBatchLatency     = "kinsumer_batch_latency_seconds"
	MetricRecordLag        = "kinsumer_record_lag_seconds"
)
