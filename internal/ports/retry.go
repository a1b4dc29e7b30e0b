package ports

import "time"

// RetryPolicy decides how long to wait before retrying a transient wire
// failure. attempt starts at 1 for the first retry; ok=false gives up.
type RetryPolicy interface {
	Backoff(attempt int) (delay time.Duration, ok bool)
}
