package replay

import (
	internalreplay "github.com/SmitUplenchwar2687/Beacon/internal/replay"
	"github.com/SmitUplenchwar2687/Beacon/pkg/clock"
)

// Filter selects records during replay.
type Filter = internalreplay.Filter

// Sender delivers one record. *agent.Agent's Client satisfies it.
type Sender = internalreplay.Sender

// Replayer replays recorded telemetry through a Sender.
type Replayer = internalreplay.Replayer

// Result captures the outcome of replaying a single record.
type Result = internalreplay.Result

// Summary aggregates replay statistics.
type Summary = internalreplay.Summary

// CategorySummary holds per-category replay stats.
type CategorySummary = internalreplay.CategorySummary

// New creates a new replayer.
func New(sender Sender, vc *clock.VirtualClock, speed float64, filter Filter) *Replayer {
	return internalreplay.New(sender, vc, speed, filter)
}
