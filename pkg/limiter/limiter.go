package limiter

import (
	"time"

	internallimiter "github.com/SmitUplenchwar2687/Beacon/internal/limiter"
	"github.com/SmitUplenchwar2687/Beacon/pkg/clock"
)

// Limiter budgets collector writes per session.
type Limiter = internallimiter.Limiter

// Decision is the result of a single Allow call.
type Decision = internallimiter.Decision

// Config holds the parameters for creating a limiter.
type Config = internallimiter.Config

// TokenBucket is the collector's per-session limiter.
type TokenBucket = internallimiter.TokenBucket

// NewTokenBucket allows rate records per window with bursts up to burst.
func NewTokenBucket(rate int, window time.Duration, burst int, c clock.Clock) *TokenBucket {
	return internallimiter.NewTokenBucket(rate, window, burst, c)
}
