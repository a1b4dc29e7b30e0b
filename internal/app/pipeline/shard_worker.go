package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/kinsumer/internal/domain"
	"github.com/ghalamif/kinsumer/internal/ports"
)

// ShardWorker polls one shard, buffers what it reads and hands drained
// batches to the hook chains. A worker is driven by a single goroutine
// (Run); State and Sequence may be read from others.
type ShardWorker struct {
	sc     ShardContext
	deps   Deps
	bucket ports.Bucket

	iterator string
	attempts int

	mu       sync.Mutex
	state    domain.ShardState
	sequence string
	err      error
}

func NewShardWorker(stream, shardID string, deps Deps) *ShardWorker {
	deps = deps.withDefaults()
	return &ShardWorker{
		sc:     NewShardContext(stream, shardID, deps.Obs),
		deps:   deps,
		bucket: deps.NewBucket(deps.Policy.BucketSizeLimit, deps.Policy.BucketCountLimit),
		state:  domain.ShardAcquiringIterator,
	}
}

func (w *ShardWorker) ShardID() string { return w.sc.ShardID }

func (w *ShardWorker) State() domain.ShardState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Sequence is the last sequence number successfully checkpointed, or the
// one loaded at start.
func (w *ShardWorker) Sequence() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sequence
}

// Err is the error that stopped the worker, nil while running or after a
// clean close.
func (w *ShardWorker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *ShardWorker) setState(s domain.ShardState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run consumes the shard until it closes, ctx is cancelled or a fatal error
// occurs. It returns nil once the shard is CLOSED and ctx.Err() on
// cancellation. The teardown chain runs once on the way out and only sees
// the error when the worker failed.
func (w *ShardWorker) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("shard %s: worker panic: %v", w.sc.ShardID, r)
		}
		w.finish(ctx, err)
	}()

	if err := w.start(ctx); err != nil {
		return err
	}
	w.sc.LogInfo("shard_worker_started", ports.Field{Key: "sequence", Value: w.Sequence()})

	for {
		delay, closed, err := w.cycle(ctx)
		if err != nil {
			return err
		}
		if closed {
			return nil
		}
		if err := w.deps.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (w *ShardWorker) finish(ctx context.Context, err error) {
	w.mu.Lock()
	switch {
	case err == nil:
		w.state = domain.ShardClosed
	case ports.Classify(err) == ports.ErrorCanceled:
	default:
		w.state = domain.ShardFailed
		w.err = err
	}
	w.mu.Unlock()

	switch {
	case err == nil:
		w.sc.LogWarn("shard_closed")
	case ports.Classify(err) == ports.ErrorCanceled:
		w.sc.LogInfo("shard_worker_stopped")
	default:
		w.sc.LogError("shard_worker_failed", err)
	}

	cause := err
	if ports.Classify(err) == ports.ErrorCanceled {
		cause = nil
	}
	if terr := w.deps.Hooks.RunTeardown(context.WithoutCancel(ctx), w.sc, cause); terr != nil {
		w.deps.Obs.IncCounter(ports.MetricHookErrors, w.sc.ShardID, 1)
		w.sc.LogError("teardown_hook_failed", terr)
	}
}

// start loads the checkpoint and acquires the first iterator.
func (w *ShardWorker) start(ctx context.Context) error {
	w.setState(domain.ShardAcquiringIterator)

	seq, ok, err := w.deps.Checkpointer.GetCheckpoint(ctx, w.sc.ShardID)
	if err != nil {
		return fmt.Errorf("shard %s: load checkpoint: %w", w.sc.ShardID, err)
	}
	if ok {
		w.mu.Lock()
		w.sequence = seq
		w.mu.Unlock()
	}

	for {
		it, err := w.acquireIterator(ctx, "", time.Time{})
		if err == nil {
			w.iterator = it
			w.attempts = 0
			return nil
		}
		delay, rerr := w.retryDelay(err)
		if rerr != nil {
			return rerr
		}
		w.sc.LogWarn("iterator_acquire_retry", ports.Field{Key: "error", Value: err.Error()}, ports.Field{Key: "delay", Value: delay.String()})
		if err := w.deps.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// acquireIterator picks where the next read starts, in priority order:
// a LATEST jump when the last fetched record is older than the overhang
// threshold, the continuation cursor, the checkpoint, the configured
// start type.
func (w *ShardWorker) acquireIterator(ctx context.Context, continuation string, lastArrival time.Time) (string, error) {
	pol := w.deps.Policy
	if pol.OverhangEnabled && !lastArrival.IsZero() {
		behind := w.deps.now().Sub(lastArrival)
		if behind > pol.OverhangThreshold {
			it, err := w.getIterator(ctx, ports.IteratorLatest, "")
			if err == nil {
				w.deps.Obs.IncCounter(ports.MetricOverhangJumps, w.sc.ShardID, 1)
				w.sc.LogWarn("overhang_jump_to_latest", ports.Field{Key: "behind", Value: behind.String()})
				return it, nil
			}
			if continuation == "" {
				return "", err
			}
			w.sc.LogError("overhang_jump_failed", err)
		}
	}

	if continuation != "" {
		return continuation, nil
	}
	if seq := w.Sequence(); seq != "" {
		return w.getIterator(ctx, ports.IteratorAfterSequenceNumber, seq)
	}
	return w.getIterator(ctx, pol.StartIteratorType, "")
}

func (w *ShardWorker) getIterator(ctx context.Context, typ ports.IteratorType, seq string) (string, error) {
	it, err := w.deps.Client.GetShardIterator(ctx, ports.IteratorRequest{
		StreamName:             w.sc.StreamName,
		ShardID:                w.sc.ShardID,
		Type:                   typ,
		StartingSequenceNumber: seq,
	})
	if err != nil {
		return "", fmt.Errorf("get %s iterator: %w", typ, err)
	}
	return it, nil
}

// retryDelay classifies a failed call. Fatal and cancelled errors come
// back as the error to stop with; anything else yields the delay before
// the next attempt.
func (w *ShardWorker) retryDelay(err error) (time.Duration, error) {
	switch ports.Classify(err) {
	case ports.ErrorCanceled:
		return 0, err
	case ports.ErrorFatal:
		return 0, fmt.Errorf("shard %s: %w", w.sc.ShardID, err)
	}
	w.attempts++
	delay, ok := w.deps.Retry.Backoff(w.attempts)
	if !ok {
		return 0, fmt.Errorf("shard %s: %w after %d attempts: %w", w.sc.ShardID, ports.ErrRetriesExhausted, w.attempts-1, err)
	}
	return delay, nil
}

// cycle is one poll: fetch, buffer, maybe process. It returns the delay
// before the next poll, or closed once the shard has been fully drained.
func (w *ShardWorker) cycle(ctx context.Context) (time.Duration, bool, error) {
	w.setState(domain.ShardPolling)

	out, err := w.deps.Client.GetRecords(ctx, w.iterator, w.deps.Policy.ReadLimit)
	if err != nil {
		delay, ferr := w.retryDelay(err)
		if ferr != nil {
			return 0, false, ferr
		}
		w.deps.Obs.IncCounter(ports.MetricFetchErrors, w.sc.ShardID, 1)
		if errors.Is(err, ports.ErrThroughputExceeded) {
			w.sc.LogWarn("fetch_throttled", ports.Field{Key: "attempt", Value: w.attempts}, ports.Field{Key: "delay", Value: delay.String()})
		} else {
			w.sc.LogError("fetch_failed", err, ports.Field{Key: "attempt", Value: w.attempts}, ports.Field{Key: "delay", Value: delay.String()})
		}
		return delay, false, nil
	}
	w.attempts = 0

	var lastArrival time.Time
	for _, r := range out.Records {
		if r.ShardID == "" {
			r.ShardID = w.sc.ShardID
		}
		w.bucket.Add(r)
		lastArrival = r.ArrivalTimestamp
	}
	if n := len(out.Records); n > 0 {
		w.deps.Obs.IncCounter(ports.MetricRecordsFetched, w.sc.ShardID, float64(n))
		w.deps.Obs.ObserveLatency(ports.MetricRecordLag, w.sc.ShardID, w.deps.now().Sub(lastArrival).Seconds())
	}

	closing := out.NextIterator == ""
	var drained ports.Drained
	if closing {
		w.setState(domain.ShardClosing)
		drained = w.bucket.Get(true)
	} else {
		it, err := w.acquireIterator(ctx, out.NextIterator, lastArrival)
		if err != nil {
			return 0, false, err
		}
		w.iterator = it
		drained = w.bucket.Get(false)
	}

	if drained.Empty() {
		w.setState(domain.ShardBatchEmpty)
	} else {
		w.setState(domain.ShardBatchReady)
		w.process(ctx, drained)
	}

	if closing {
		return 0, true, nil
	}
	return w.deps.Policy.PollInterval, false, nil
}

// process runs the hook chains over a drained batch. The bucket is flushed
// and the checkpoint written whatever the hooks do.
func (w *ShardWorker) process(ctx context.Context, d ports.Drained) {
	start := time.Now()
	w.setState(domain.ShardProcessing)

	defer func() {
		w.bucket.Flush()
		w.setState(domain.ShardCheckpointing)
		w.commit(context.WithoutCancel(ctx), d.LastSequenceNumber)
		w.deps.Obs.ObserveLatency(ports.MetricBatchLatency, w.sc.ShardID, time.Since(start).Seconds())
	}()

	batch := Batch{
		Shard:                w.sc,
		Records:              d.Records,
		LastSequenceNumber:   d.LastSequenceNumber,
		LastArrivalTimestamp: d.LastArrivalTimestamp,
	}

	records, err := w.deps.Hooks.RunTransform(ctx, batch)
	if err != nil {
		w.hookFailed(err, batch)
		return
	}
	batch.Records = records

	if err := w.deps.Hooks.RunAfterConsume(ctx, batch); err != nil {
		w.hookFailed(err, batch)
		return
	}
	w.deps.Obs.IncCounter(ports.MetricBatchesProcessed, w.sc.ShardID, 1)
}

func (w *ShardWorker) hookFailed(err error, b Batch) {
	w.deps.Obs.IncCounter(ports.MetricHookErrors, w.sc.ShardID, 1)
	w.sc.LogError("hook_failed", err,
		ports.Field{Key: "records", Value: len(b.Records)},
		ports.Field{Key: "last_sequence", Value: b.LastSequenceNumber},
	)
}

func (w *ShardWorker) commit(ctx context.Context, seq string) {
	if seq == "" {
		return
	}
	if err := w.deps.Checkpointer.Checkpoint(ctx, w.sc.ShardID, seq); err != nil {
		w.sc.LogError("checkpoint_failed", err, ports.Field{Key: "sequence", Value: seq})
		return
	}
	w.mu.Lock()
	w.sequence = seq
	w.mu.Unlock()
	w.deps.Obs.IncCounter(ports.MetricCheckpoints, w.sc.ShardID, 1)
}
