package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/Beacon/pkg/clock"
)

func TestTokenBucketPublicAPI(t *testing.T) {
	vc := clock.NewVirtualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	var lim Limiter = NewTokenBucket(1, time.Minute, 1, vc)

	ctx := context.Background()
	if !lim.Allow(ctx, "s1").Allowed {
		t.Fatal("first record should be allowed")
	}
	d := lim.Allow(ctx, "s1")
	if d.Allowed {
		t.Fatal("second record should be limited")
	}
	if d.RetryAfter(vc.Now()) != time.Minute {
		t.Fatalf("RetryAfter() = %s, want 1m", d.RetryAfter(vc.Now()))
	}
}
