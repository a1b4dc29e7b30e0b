package ports

import (
	"context"
	"errors"
)

var (
	// ErrIteratorExpired is returned by a StreamClient when the cursor token
	// is no longer accepted by the service.
	ErrIteratorExpired = errors.New("shard iterator expired")
	// ErrThroughputExceeded is returned when the read quota of a shard is exhausted.
	ErrThroughputExceeded = errors.New("provisioned throughput exceeded")
	// ErrStreamNotActive is returned by discovery when the stream cannot be consumed.
	ErrStreamNotActive = errors.New("stream is not active")
	// ErrRetriesExhausted is returned when a bounded RetryPolicy gives up.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ErrorClass is how the shard worker reacts to a failed wire call.
type ErrorClass int

const (
	ErrorTransient ErrorClass = iota
	ErrorThrottled
	ErrorFatal
	ErrorCanceled
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorThrottled:
		return "throttled"
	case ErrorFatal:
		return "fatal"
	case ErrorCanceled:
		return "canceled"
	default:
		return "transient"
	}
}

// Classify maps a StreamClient error onto the worker's error taxonomy.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCanceled
	case errors.Is(err, ErrIteratorExpired):
		return ErrorFatal
	case errors.Is(err, ErrThroughputExceeded):
		return ErrorThrottled
	default:
		return ErrorTransient
	}
}
