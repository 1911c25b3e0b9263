package events

import (
	"context"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
	"github.com/SmitUplenchwar2687/Beacon/internal/delivery"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// DefaultStuckThreshold is how long an element must hold focus to count as
// a stuck point.
const DefaultStuckThreshold = 5 * time.Second

type ErrorRecorder interface {
	RecordError(ctx context.Context, data telemetry.Payload) (delivery.Outcome, error)
}

type ModificationRecorder interface {
	RecordModification(ctx context.Context, typ string, data telemetry.Payload) (delivery.Outcome, error)
}

type PerformanceRecorder interface {
	RecordPerformance(ctx context.Context, data telemetry.Payload) (delivery.Outcome, error)
}

type StuckPointRecorder interface {
	RecordStuckPoint(ctx context.Context, data telemetry.Payload) (delivery.Outcome, error)
}

type Teardowner interface {
	Teardown(ctx context.Context) bool
}

// ErrorAdapter turns uncaught errors into error records, attaching the
// surrounding source lines when the script can be located.
type ErrorAdapter struct {
	rec      ErrorRecorder
	resolver SourceResolver
	clock    clock.Clock
}

func NewErrorAdapter(rec ErrorRecorder, resolver SourceResolver, clk clock.Clock) *ErrorAdapter {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &ErrorAdapter{rec: rec, resolver: resolver, clock: clk}
}

func (a *ErrorAdapter) Attach(sub Subscriber) (func(), error) {
	return Subscribe(sub, a.handle)
}

func (a *ErrorAdapter) handle(ctx context.Context, ev ErrorEvent) {
	data := telemetry.Payload{
		"message":   ev.Message,
		"line":      ev.Line,
		"file":      ev.Source,
		"timestamp": a.clock.Now().UnixMilli(),
	}
	if ev.Column > 0 {
		data["column"] = ev.Column
	}
	if c, ok := a.sourceContext(ctx, ev); ok {
		data["context"] = c
	}
	_, _ = a.rec.RecordError(ctx, data)
}

// sourceContext returns the line before, the failing line and the line after.
// Missing neighbours are empty strings.
func (a *ErrorAdapter) sourceContext(ctx context.Context, ev ErrorEvent) (map[string]string, bool) {
	if a.resolver == nil || ev.Source == "" {
		return nil, false
	}
	lines, err := a.resolver.Lines(ctx, ev.Source)
	if err != nil {
		return nil, false
	}
	at := func(i int) string {
		if i < 0 || i >= len(lines) {
			return ""
		}
		return lines[i]
	}
	return map[string]string{
		"before": at(ev.Line - 2),
		"error":  at(ev.Line - 1),
		"after":  at(ev.Line),
	}, true
}

// TeardownAdapter ends the session on the first teardown event.
type TeardownAdapter struct {
	session Teardowner
	once    sync.Once
}

func NewTeardownAdapter(s Teardowner) *TeardownAdapter {
	return &TeardownAdapter{session: s}
}

func (a *TeardownAdapter) Attach(sub Subscriber) (func(), error) {
	return Subscribe(sub, func(ctx context.Context, _ TeardownEvent) {
		a.once.Do(func() { a.session.Teardown(ctx) })
	})
}

// StuckPointTracker measures how long each element keeps focus and
// reports the ones held for at least the threshold.
type StuckPointTracker struct {
	rec       StuckPointRecorder
	clock     clock.Clock
	threshold time.Duration

	mu      sync.Mutex
	started map[string]time.Time
}

func NewStuckPointTracker(rec StuckPointRecorder, clk clock.Clock, threshold time.Duration) *StuckPointTracker {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	return &StuckPointTracker{rec: rec, clock: clk, threshold: threshold, started: make(map[string]time.Time)}
}

func (t *StuckPointTracker) Attach(sub Subscriber) (func(), error) {
	detachIn, err := Subscribe(sub, t.focusIn)
	if err != nil {
		return nil, err
	}
	detachOut, err := Subscribe(sub, t.focusOut)
	if err != nil {
		detachIn()
		return nil, err
	}
	return func() { detachIn(); detachOut() }, nil
}

func (t *StuckPointTracker) focusIn(_ context.Context, ev FocusIn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started[ev.Element.Selector()] = t.clock.Now()
}

func (t *StuckPointTracker) focusOut(ctx context.Context, ev FocusOut) {
	sel := ev.Element.Selector()

	t.mu.Lock()
	start, ok := t.started[sel]
	delete(t.started, sel)
	t.mu.Unlock()

	if !ok {
		return
	}
	elapsed := t.clock.Since(start)
	if elapsed < t.threshold {
		return
	}
	_, _ = t.rec.RecordStuckPoint(ctx, telemetry.Payload{
		"element":  sel,
		"duration": clock.Millis(elapsed),
	})
}

// MutationWatcher reports the first time a watched target diverges from
// the value it had when the watcher was created. Later changes are
// ignored.
type MutationWatcher struct {
	rec      ModificationRecorder
	target   string
	original string

	mu    sync.Mutex
	fired bool
}

func NewMutationWatcher(rec ModificationRecorder, target, original string) *MutationWatcher {
	return &MutationWatcher{rec: rec, target: target, original: original}
}

func (w *MutationWatcher) Attach(sub Subscriber) (func(), error) {
	return Subscribe(sub, w.handle)
}

func (w *MutationWatcher) handle(ctx context.Context, ev MutationEvent) {
	if ev.Target != w.target {
		return
	}
	w.mu.Lock()
	if w.fired || ev.Value == w.original {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()

	_, _ = w.rec.RecordModification(ctx, w.target+"_change", telemetry.Payload{
		"from": w.original,
		"to":   ev.Value,
	})
}

// Fired reports whether the divergence has been recorded.
func (w *MutationWatcher) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}
