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

// ShardContext identifies the shard a hook or log call belongs to. It is
// passed explicitly to every hook; ShardID is empty for consumer-level calls.
type ShardContext struct {
	StreamName string
	ShardID    string

	obs ports.Observability
}

func NewShardContext(stream, shardID string, obs ports.Observability) ShardContext {
	return ShardContext{StreamName: stream, ShardID: shardID, obs: obs}
}

// Fields returns the stream/shard log fields followed by extra.
func (sc ShardContext) Fields(extra ...ports.Field) []ports.Field {
	out := make([]ports.Field, 0, len(extra)+2)
	out = append(out, ports.Field{Key: "stream", Value: sc.StreamName})
	if sc.ShardID != "" {
		out = append(out, ports.Field{Key: "shard", Value: sc.ShardID})
	}
	return append(out, extra...)
}

func (sc ShardContext) LogInfo(msg string, fields ...ports.Field) {
	if sc.obs != nil {
		sc.obs.LogInfo(msg, sc.Fields(fields...)...)
	}
}

func (sc ShardContext) LogWarn(msg string, fields ...ports.Field) {
	if sc.obs != nil {
		sc.obs.LogWarn(msg, sc.Fields(fields...)...)
	}
}

func (sc ShardContext) LogError(msg string, err error, fields ...ports.Field) {
	if sc.obs != nil {
		sc.obs.LogError(msg, err, sc.Fields(fields...)...)
	}
}

// Batch is what the hook chains receive after a bucket drain.
type Batch struct {
	Shard                ShardContext
	Records              []domain.Record
	LastSequenceNumber   string
	LastArrivalTimestamp time.Time
}

// TransformFunc may filter or replace the records of a batch.
type TransformFunc func(ctx context.Context, b Batch) ([]domain.Record, error)

// AfterConsumeFunc receives the final batch once every transform ran.
type AfterConsumeFunc func(ctx context.Context, b Batch) error

// TeardownFunc runs when a shard worker or the whole consumer exits. err is
// the terminal error, nil on a clean close or cancellation.
type TeardownFunc func(ctx context.Context, sc ShardContext, err error)

// Hooks holds the three append-only hook chains. Each chain runs the most
// recently registered hook first.
//
// The batch is checkpointed even when a hook fails: a hook error is logged
// and the records are not redelivered. Hooks that need redelivery must
// handle their own retries before returning.
type Hooks struct {
	mu           sync.RWMutex
	transforms   []TransformFunc
	afterConsume []AfterConsumeFunc
	teardown     []TeardownFunc
}

func (h *Hooks) OnTransform(fn TransformFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transforms = append(h.transforms, fn)
}

func (h *Hooks) OnAfterConsume(fn AfterConsumeFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.afterConsume = append(h.afterConsume, fn)
}

func (h *Hooks) OnTeardown(fn TeardownFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teardown = append(h.teardown, fn)
}

// RunTransform threads the batch through the transform chain; each stage
// sees the previous stage's output.
func (h *Hooks) RunTransform(ctx context.Context, b Batch) ([]domain.Record, error) {
	h.mu.RLock()
	chain := h.transforms
	h.mu.RUnlock()

	for i := len(chain) - 1; i >= 0; i-- {
		var out []domain.Record
		err := guard(func() error {
			var err error
			out, err = chain[i](ctx, b)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("transform hook %d: %w", i, err)
		}
		b.Records = out
	}
	return b.Records, nil
}

// RunAfterConsume stops at the first failing hook.
func (h *Hooks) RunAfterConsume(ctx context.Context, b Batch) error {
	h.mu.RLock()
	chain := h.afterConsume
	h.mu.RUnlock()

	for i := len(chain) - 1; i >= 0; i-- {
		fn := chain[i]
		if err := guard(func() error { return fn(ctx, b) }); err != nil {
			return fmt.Errorf("after-consume hook %d: %w", i, err)
		}
	}
	return nil
}

// RunTeardown runs every teardown hook and returns the panics it recovered.
func (h *Hooks) RunTeardown(ctx context.Context, sc ShardContext, cause error) error {
	h.mu.RLock()
	chain := h.teardown
	h.mu.RUnlock()

	var errs []error
	for i := len(chain) - 1; i >= 0; i-- {
		fn := chain[i]
		if err := guard(func() error { fn(ctx, sc, cause); return nil }); err != nil {
			errs = append(errs, fmt.Errorf("teardown hook %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// ErrHookPanic wraps a value recovered from a panicking hook.
var ErrHookPanic = errors.New("hook panicked")

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHookPanic, r)
		}
	}()
	return fn()
}
