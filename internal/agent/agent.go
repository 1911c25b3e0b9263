// Package agent assembles a telemetry agent from configuration: the local
// buffer, the sink, the delivery client, the session and the adapters that
// translate host events into records.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cdr.dev/slog/v3"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/SmitUplenchwar2687/Beacon/internal/buffer"
	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
	"github.com/SmitUplenchwar2687/Beacon/internal/config"
	"github.com/SmitUplenchwar2687/Beacon/internal/delivery"
	"github.com/SmitUplenchwar2687/Beacon/internal/events"
	"github.com/SmitUplenchwar2687/Beacon/internal/session"
	"github.com/SmitUplenchwar2687/Beacon/internal/sink"
	"github.com/SmitUplenchwar2687/Beacon/internal/storage"
)

// TitleTarget is the mutation target watched by default.
const TitleTarget = "title"

// Options configures an Agent. Only Config is required.
type Options struct {
	Config config.Config
	Clock  clock.Clock

	// Sink replaces the configured sink. The agent does not close it.
	Sink sink.Sink
	// Store replaces the configured buffer backend. It also holds the task
	// completion flags. The agent does not close it.
	Store storage.Store

	// Resolver locates script sources for error context.
	Resolver events.SourceResolver
	// Metrics feeds the performance sampler. Defaults to the current
	// process.
	Metrics events.MetricsSource

	// Title is the page title at load. Empty disables the title watcher.
	Title     string
	SessionID string

	Registry prometheus.Registerer
	Tracer   trace.Tracer
	Logger   slog.Logger
}

// Agent is one running telemetry session.
type Agent struct {
	cfg    config.Config
	clock  clock.Clock
	logger slog.Logger

	bus     *events.Bus
	store   storage.Store
	buffer  *buffer.Buffer
	sink    sink.Sink
	watcher sink.Watcher
	probe   *sink.Probe
	client  *delivery.Client
	session *session.Controller
	title   *events.MutationWatcher

	advanced bool
	detach   []func()
	closers  []func() error

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	closed bool
}

// New builds an agent. Adapters are attached immediately; call Start to
// begin background probing and sampling.
func New(ctx context.Context, opts Options) (*Agent, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}
	logger := opts.Logger.Named("agent")

	a := &Agent{
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		bus:      events.NewBus(),
		advanced: cfg.EnableAdvanced,
	}
	ok := false
	defer func() {
		if !ok {
			_ = a.closeResources()
		}
	}()

	a.store = opts.Store
	if a.store == nil {
		st, err := storage.Open(ctx, cfg.Buffer)
		if err != nil {
			return nil, fmt.Errorf("open buffer: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	}
	a.buffer = buffer.New(a.store, clk)

	a.sink = opts.Sink
	if a.sink == nil {
		s, closeSink, err := openSink(ctx, cfg.Sink, logger)
		if err != nil {
			return nil, fmt.Errorf("open sink: %w", err)
		}
		a.sink = s
		a.closers = append(a.closers, closeSink)
	}

	if pinger, isPinger := a.sink.(sink.Pinger); isPinger && cfg.Sink.ProbeInterval > 0 {
		a.probe = sink.NewProbe(pinger, clk, cfg.Sink.ProbeInterval, logger)
		a.watcher = a.probe
	} else {
		a.watcher = sink.NewSignal()
	}

	client, err := delivery.New(delivery.Options{
		Sink:           a.sink,
		Buffer:         a.buffer,
		Watcher:        a.watcher,
		Namespace:      cfg.SinkNamespace,
		Version:        cfg.Version,
		BeaconEndpoint: cfg.BeaconEndpoint,
		Logger:         logger,
		Metrics:        delivery.NewMetrics(opts.Registry),
		Tracer:         opts.Tracer,
	})
	if err != nil {
		return nil, err
	}
	a.client = client
	// Runs before the other closers so in-flight replays finish first.
	a.closers = append([]func() error{client.Close}, a.closers...)

	a.session, err = session.New(session.Options{
		ID:        opts.SessionID,
		Version:   cfg.Version,
		Clock:     clk,
		Flags:     a.store,
		Tasks:     cfg.Tasks,
		Deliverer: client,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	if err := a.attach(ctx, opts); err != nil {
		return nil, err
	}

	// Anything buffered by an earlier session is sent once the sink is up.
	if n, err := a.buffer.Count(ctx); err == nil && n > 0 {
		logger.Info(ctx, "buffered records from a previous session", slog.F("count", n))
		a.client.Resume()
	}

	ok = true
	logger.Info(ctx, "agent ready",
		slog.F("session_id", a.session.Session().ID),
		slog.F("sink", fmt.Sprintf("%T", a.sink)),
		slog.F("advanced", a.advanced))
	return a, nil
}

// attach wires the adapters to capability-scoped views of the bus. Core
// tracking is always on; performance and stuck points need EnableAdvanced.
func (a *Agent) attach(ctx context.Context, opts Options) error {
	type attacher interface {
		Attach(events.Subscriber) (func(), error)
	}
	add := func(at attacher, kinds ...events.Kind) error {
		detach, err := at.Attach(a.bus.Scope(kinds...))
		if err != nil {
			return err
		}
		a.detach = append(a.detach, detach)
		return nil
	}

	if err := add(events.NewErrorAdapter(a.session, opts.Resolver, a.clock), events.KindError); err != nil {
		return err
	}
	if opts.Title != "" {
		a.title = events.NewMutationWatcher(a.session, TitleTarget, opts.Title)
		if err := add(a.title, events.KindMutation); err != nil {
			return err
		}
	}
	if err := add(events.NewTeardownAdapter(a.session), events.KindTeardown); err != nil {
		return err
	}

	if !a.advanced {
		return nil
	}
	source := opts.Metrics
	if source == nil {
		source = events.NewProcessMetrics(ctx)
	}
	if err := add(events.NewPeriodicSampler(a.session, source), events.KindTick); err != nil {
		return err
	}
	return add(events.NewStuckPointTracker(a.session, a.clock, a.cfg.StuckThreshold),
		events.KindFocusIn, events.KindFocusOut)
}

// Start launches the availability probe and, with advanced tracking, the
// sampling ticker. They stop when ctx is done or Close is called.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.group != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.group, ctx = errgroup.WithContext(ctx)

	if a.probe != nil {
		a.group.Go(func() error {
			a.probe.Run(ctx)
			return nil
		})
	}
	if a.advanced {
		ticker := events.NewTicker(a.bus, a.clock, a.cfg.SampleInterval)
		a.group.Go(func() error {
			ticker.Run(ctx)
			return nil
		})
	}
}

// Publish injects a host event.
func (a *Agent) Publish(ctx context.Context, ev events.Event) {
	a.bus.Publish(ctx, ev)
}

// Teardown ends the session as if the page were unloading. It returns once
// the summary has been handed to the sink.
func (a *Agent) Teardown(ctx context.Context) {
	a.bus.Publish(ctx, events.TeardownEvent{})
}

// MarkTaskComplete records a completed checklist task.
func (a *Agent) MarkTaskComplete(ctx context.Context, task string) error {
	return a.session.MarkTaskComplete(ctx, task)
}

// SignalAvailable fires pending replays when the agent has no probe, for
// example after the host reports an auth change. It returns how many
// callbacks ran.
func (a *Agent) SignalAvailable() int {
	if s, ok := a.watcher.(*sink.Signal); ok {
		return s.Signal()
	}
	if a.probe != nil && a.probe.Check(context.Background()) {
		return 1
	}
	return 0
}

// TitleChanged reports whether the watched title has diverged.
func (a *Agent) TitleChanged() bool { return a.title != nil && a.title.Fired() }

func (a *Agent) Session() *session.Controller { return a.session }
func (a *Agent) Client() *delivery.Client     { return a.client }
func (a *Agent) Buffer() *buffer.Buffer       { return a.buffer }
func (a *Agent) Sink() sink.Sink              { return a.sink }
func (a *Agent) Probe() *sink.Probe           { return a.probe }
func (a *Agent) Bus() *events.Bus             { return a.bus }

// Close stops background work, lets queued events finish, detaches the
// adapters and releases what New opened. It is safe to call more than once.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel, group := a.cancel, a.group
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		_ = group.Wait()
	}
	// Events already queued, such as a teardown behind a tick, still reach
	// their handlers.
	a.bus.Wait()
	for _, d := range a.detach {
		d()
	}
	return a.closeResources()
}

func (a *Agent) closeResources() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
