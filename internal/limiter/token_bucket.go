package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
)

// TokenBucket implements the token bucket algorithm per key.
//
// Tokens are added at a constant rate (rate tokens per window). Each
// request consumes one token. Burst lets a session that reconnects flush
// its buffer in one go.
type TokenBucket struct {
	clock    clock.Clock
	rate     float64 // tokens per second
	capacity int
	mu       sync.Mutex
	buckets  map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewTokenBucket creates a token bucket limiter.
//   - rate: number of requests allowed per window
//   - window: duration of the rate window
//   - burst: maximum tokens that can accumulate (0 means burst = rate)
//   - c: clock to use for time
func NewTokenBucket(rate int, window time.Duration, burst int, c clock.Clock) *TokenBucket {
	if burst <= 0 {
		burst = rate
	}
	if c == nil {
		c = clock.NewRealClock()
	}
	return &TokenBucket{
		clock:    c,
		rate:     float64(rate) / window.Seconds(),
		capacity: burst,
		buckets:  make(map[string]*bucket),
	}
}

// New builds a TokenBucket from cfg.
func New(cfg Config, c clock.Clock) *TokenBucket {
	return NewTokenBucket(cfg.Rate, cfg.Window, cfg.Burst, c)
}

func (tb *TokenBucket) Allow(_ context.Context, key string) Decision {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock.Now()

	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(tb.capacity), lastFill: now}
		tb.buckets[key] = b
	}
	tb.refill(b, now)

	deficit := float64(tb.capacity) - b.tokens
	resetAt := now
	if deficit > 0 {
		resetAt = now.Add(tb.timeFor(deficit))
	}

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return Decision{
			Allowed:   true,
			Remaining: int(b.tokens),
			Limit:     tb.capacity,
			ResetAt:   resetAt,
		}
	}

	return Decision{
		Allowed: false,
		Limit:   tb.capacity,
		ResetAt: resetAt,
		RetryAt: now.Add(tb.timeFor(1.0 - b.tokens)),
	}
}

func (tb *TokenBucket) refill(b *bucket, now time.Time) {
	b.tokens += now.Sub(b.lastFill).Seconds() * tb.rate
	if b.tokens > float64(tb.capacity) {
		b.tokens = float64(tb.capacity)
	}
	b.lastFill = now
}

func (tb *TokenBucket) timeFor(tokens float64) time.Duration {
	return time.Duration(tokens / tb.rate * float64(time.Second))
}

// Prune drops buckets that have been idle for at least idle and would be
// full by now anyway. Sessions are short-lived, so without pruning the map
// grows with every page load. It returns how many buckets were dropped.
func (tb *TokenBucket) Prune(idle time.Duration) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock.Now()
	n := 0
	for key, b := range tb.buckets {
		if now.Sub(b.lastFill) < idle {
			continue
		}
		tb.refill(b, now)
		if b.tokens >= float64(tb.capacity) {
			delete(tb.buckets, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (tb *TokenBucket) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.buckets)
}

// RunPruner calls Prune every interval until ctx is done.
func (tb *TokenBucket) RunPruner(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tb.clock.After(interval):
			tb.Prune(interval)
		}
	}
}
