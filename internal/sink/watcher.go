package sink

import (
	"context"
	"sync"
	"time"

	"cdr.dev/slog/v3"

	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
)

// Watcher signals that the sink may be reachable again. Registrations are
// one-shot: each callback runs at most once and must re-register to hear
// about the next recovery. The returned func cancels a pending
// registration.
type Watcher interface {
	OnAvailable(fn func()) (cancel func())
}

// Signal is a Watcher fired by hand, e.g. when the identity state changes
// or the host reports it is back online.
type Signal struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]func()
}

// NewSignal returns a Signal with no registrations.
func NewSignal() *Signal {
	return &Signal{pending: make(map[uint64]func())}
}

func (s *Signal) OnAvailable(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.pending[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.pending, id)
	}
}

// Signal runs and clears every pending registration on the calling
// goroutine. It returns how many callbacks ran.
func (s *Signal) Signal() int {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.pending))
	for _, fn := range s.pending {
		fns = append(fns, fn)
	}
	clear(s.pending)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Pending returns the number of registrations waiting to fire.
func (s *Signal) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Probe is a Watcher that polls a Pinger. Pending registrations fire on the
// first successful ping after they were made.
type Probe struct {
	*Signal

	pinger   Pinger
	clock    clock.Clock
	interval time.Duration
	logger   slog.Logger

	mu        sync.Mutex
	reachable bool
}

// NewProbe builds a probe. Call Run to start polling.
func NewProbe(p Pinger, clk clock.Clock, interval time.Duration, logger slog.Logger) *Probe {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Probe{
		Signal:    NewSignal(),
		pinger:    p,
		clock:     clk,
		interval:  interval,
		logger:    logger.Named("probe"),
		reachable: true,
	}
}

// Run polls until ctx is done.
func (p *Probe) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
			p.Check(ctx)
		}
	}
}

// Check pings once and fires pending registrations if the sink answered.
// It reports whether the sink is reachable.
func (p *Probe) Check(ctx context.Context) bool {
	err := p.pinger.Ping(ctx)

	p.mu.Lock()
	was := p.reachable
	p.reachable = err == nil
	p.mu.Unlock()

	if err != nil {
		if was {
			p.logger.Info(ctx, "sink unreachable", slog.Error(err))
		}
		return false
	}
	if !was {
		p.logger.Info(ctx, "sink reachable again")
	}
	if n := p.Signal.Signal(); n > 0 {
		p.logger.Debug(ctx, "availability callbacks fired", slog.F("count", n))
	}
	return true
}

// Reachable returns the result of the last ping.
func (p *Probe) Reachable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reachable
}
