package pipeline

import (
	"context"
	"time"

	"github.com/ghalamif/kinsumer/internal/adapters/bucket"
	"github.com/ghalamif/kinsumer/internal/ports"
)

// Deps is everything a shard worker needs. The supervisor hands the same Deps
// to every worker it spawns; only the bucket is per shard.
type Deps struct {
	Client       ports.StreamClient
	Checkpointer ports.Checkpointer
	Hooks        *Hooks
	Policy       ports.Policy
	Retry        ports.RetryPolicy
	Obs          ports.Observability

	// NewBucket defaults to an in-memory bucket.
	NewBucket func(sizeLimit, countLimit int) ports.Bucket

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func (d Deps) withDefaults() Deps {
	if d.Hooks == nil {
		d.Hooks = &Hooks{}
	}
	if d.Retry == nil {
		d.Retry = FixedInterval{Interval: d.Policy.PollInterval}
	}
	if d.Obs == nil {
		d.Obs = nopObs{}
	}
	if d.NewBucket == nil {
		d.NewBucket = func(size, count int) ports.Bucket { return bucket.NewMemBucket(size, count) }
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.sleep == nil {
		d.sleep = sleepContext
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)            {}
func (nopObs) LogWarn(string, ...ports.Field)            {}
func (nopObs) LogError(string, error, ...ports.Field)    {}
func (nopObs) LogCritical(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, string, float64)        {}
func (nopObs) ObserveLatency(string, string, float64)    {}
func (nopObs) SetGauge(string, float64)                  {}

var _ ports.Observability = nopObs{}
