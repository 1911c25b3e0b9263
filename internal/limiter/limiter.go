// Package limiter budgets how many records each session may push into the
// collector.
package limiter

import (
	"context"
	"time"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// Decision captures the result of a rate limit check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"` // tokens left after this check
	Limit     int       `json:"limit"`     // bucket capacity
	ResetAt   time.Time `json:"reset_at"`  // when the bucket is full again
	RetryAt   time.Time `json:"retry_at"`  // earliest useful retry, if denied
}

// RetryAfter returns how long a denied caller should wait from now,
// rounded up to whole seconds for the Retry-After header.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || d.RetryAt.IsZero() {
		return 0
	}
	wait := d.RetryAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return (wait + time.Second - 1) / time.Second * time.Second
}

// Config holds the parameters for creating a limiter.
type Config struct {
	Rate   int           `json:"rate"`   // records allowed per window
	Window time.Duration `json:"window"` // window duration
	Burst  int           `json:"burst"`  // max burst, 0 means Rate
}
