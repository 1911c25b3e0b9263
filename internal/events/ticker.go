package events

import (
	"context"
	"time"

	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
)

// Ticker publishes a TickEvent every interval of clock time.
type Ticker struct {
	bus      *Bus
	clock    clock.Clock
	interval time.Duration
}

func NewTicker(bus *Bus, clk clock.Clock, interval time.Duration) *Ticker {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Ticker{bus: bus, clock: clk, interval: interval}
}

// Run publishes ticks until ctx is done.
func (t *Ticker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case at := <-t.clock.After(t.interval):
			t.bus.Publish(ctx, TickEvent{At: at})
		}
	}
}
