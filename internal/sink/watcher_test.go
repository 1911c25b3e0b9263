package sink

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"go.uber.org/goleak"

	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Keep-alive connections from the default transport outlive httptest servers.
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func TestSignal_OneShot(t *testing.T) {
	s := NewSignal()
	var n atomic.Int32
	s.OnAvailable(func() { n.Add(1) })

	if got := s.Signal(); got != 1 {
		t.Errorf("Signal() = %d, want 1", got)
	}
	s.Signal()
	if n.Load() != 1 {
		t.Errorf("callback ran %d times, want 1", n.Load())
	}
}

func TestSignal_Cancel(t *testing.T) {
	s := NewSignal()
	var n atomic.Int32
	cancel := s.OnAvailable(func() { n.Add(1) })
	cancel()
	s.Signal()
	if n.Load() != 0 {
		t.Error("cancelled callback ran")
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", s.Pending())
	}
}

func TestSignal_ReRegisterFromCallback(t *testing.T) {
	s := NewSignal()
	var n atomic.Int32
	var fn func()
	fn = func() {
		n.Add(1)
		s.OnAvailable(fn)
	}
	s.OnAvailable(fn)

	s.Signal()
	s.Signal()
	if n.Load() != 2 {
		t.Errorf("callback ran %d times, want 2", n.Load())
	}
}

func TestProbe_FiresWhenReachable(t *testing.T) {
	m := NewMemory()
	vc := clock.NewVirtualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	p := NewProbe(m, vc, time.Second, slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}))

	var n atomic.Int32
	p.OnAvailable(func() { n.Add(1) })

	m.SetFailing(true)
	if p.Check(context.Background()) {
		t.Fatal("Check() = true while failing")
	}
	if n.Load() != 0 || p.Reachable() {
		t.Fatal("fired while unreachable")
	}

	m.SetFailing(false)
	if !p.Check(context.Background()) {
		t.Fatal("Check() = false after recovery")
	}
	if n.Load() != 1 {
		t.Errorf("callback ran %d times, want 1", n.Load())
	}
}

func TestProbe_RunOnVirtualClock(t *testing.T) {
	m := NewMemory()
	vc := clock.NewVirtualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	p := NewProbe(m, vc, time.Second, slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}))

	fired := make(chan struct{}, 1)
	p.OnAvailable(func() { fired <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	waitPending(t, vc)
	vc.Advance(time.Second)

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("probe never fired")
	}
	cancel()
	<-done
}

func waitPending(t *testing.T, vc *clock.VirtualClock) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for vc.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no timer registered on the virtual clock")
		}
		time.Sleep(time.Millisecond)
	}
}
