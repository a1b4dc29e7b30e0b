package pipeline

import (
	"fmt"
	"time"

	"github.com/ghalamif/kinsumer/internal/ports"
)

const (
	RetryFixed       = "fixed"
	RetryExponential = "exponential"
)

// FixedInterval retries forever at the same interval.
type FixedInterval struct {
	Interval time.Duration
}

func (f FixedInterval) Backoff(int) (time.Duration, bool) {
	return f.Interval, true
}

// ExponentialBackoff doubles Base per attempt up to Max and gives up after
// MaxAttempts retries. MaxAttempts <= 0 retries forever.
type ExponentialBackoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

func (e ExponentialBackoff) Backoff(attempt int) (time.Duration, bool) {
	if e.MaxAttempts > 0 && attempt > e.MaxAttempts {
		return 0, false
	}
	if attempt < 1 {
		attempt = 1
	}
	d := e.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.Max > 0 && d >= e.Max {
			return e.Max, true
		}
		if d <= 0 {
			return e.Max, true
		}
	}
	if e.Max > 0 && d > e.Max {
		d = e.Max
	}
	return d, true
}

// NewRetryPolicy builds the named strategy. The poll interval is the fixed
// delay and the exponential base.
func NewRetryPolicy(strategy string, pollInterval, maxInterval time.Duration, maxAttempts int) (ports.RetryPolicy, error) {
	switch strategy {
	case "", RetryFixed:
		return FixedInterval{Interval: pollInterval}, nil
	case RetryExponential:
		return ExponentialBackoff{Base: pollInterval, Max: maxInterval, MaxAttempts: maxAttempts}, nil
	default:
		return nil, fmt.Errorf("unknown retry strategy %q", strategy)
	}
}

var (
	_ ports.RetryPolicy = FixedInterval{}
	_ ports.RetryPolicy = ExponentialBackoff{}
)
