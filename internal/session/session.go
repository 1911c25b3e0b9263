// Package session owns the per-page-instance session: its identity, its
// error counter, and the teardown summary.
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cdr.dev/slog/v3"
	"github.com/google/uuid"

	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
	"github.com/SmitUplenchwar2687/Beacon/internal/delivery"
	"github.com/SmitUplenchwar2687/Beacon/internal/storage"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// DefaultTasks is the checklist completion is measured against.
var DefaultTasks = []string{"login", "modify_title", "add_function", "test"}

// Deliverer is what the controller needs from the delivery client.
type Deliverer interface {
	Send(ctx context.Context, rec telemetry.Record) (delivery.Outcome, error)
	SendBeacon(s telemetry.Summary) bool
}

// Session is the identity shared by every record of one page instance.
type Session struct {
	ID        string
	StartedAt time.Time
	Version   string
}

// Options configures a Controller.
type Options struct {
	// ID overrides the generated session id. Mostly for replaying a known
	// session in tests.
	ID      string
	Version string
	Clock   clock.Clock
	// Flags holds task completion flags. Nil means no task is ever
	// complete.
	Flags storage.Store
	// Tasks defaults to DefaultTasks when nil. An empty, non-nil slice
	// means there is nothing to complete.
	Tasks     []string
	Deliverer Deliverer
	Logger    slog.Logger
}

// Controller stamps records with the session identity and forwards them.
// It is the only writer of the session's state.
type Controller struct {
	session   Session
	clock     clock.Clock
	flags     storage.Store
	tasks     []string
	deliverer Deliverer
	logger    slog.Logger

	errorCount atomic.Int64

	teardownOnce sync.Once
}

// New starts a session.
func New(opts Options) (*Controller, error) {
	if opts.Deliverer == nil {
		return nil, errors.New("session: deliverer is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	tasks := opts.Tasks
	if tasks == nil {
		tasks = DefaultTasks
	}

	c := &Controller{
		session: Session{
			ID:        id,
			StartedAt: opts.Clock.Now(),
			Version:   opts.Version,
		},
		clock:     opts.Clock,
		flags:     opts.Flags,
		tasks:     append([]string(nil), tasks...),
		deliverer: opts.Deliverer,
	}
	c.logger = opts.Logger.Named("session").With(slog.F("session_id", id))
	return c, nil
}

// Session returns the session identity.
func (c *Controller) Session() Session { return c.session }

// ErrorCount returns the number of errors recorded so far.
func (c *Controller) ErrorCount() int { return int(c.errorCount.Load()) }

// RecordError counts the error and forwards it.
func (c *Controller) RecordError(ctx context.Context, data telemetry.Payload) (delivery.Outcome, error) {
	c.errorCount.Add(1)
	return c.forward(ctx, telemetry.CategoryError, data)
}

// RecordModification forwards a change to a watched value. typ names the
// change, e.g. "title_change".
func (c *Controller) RecordModification(ctx context.Context, typ string, data telemetry.Payload) (delivery.Outcome, error) {
	p := make(telemetry.Payload, len(data)+1)
	maps.Copy(p, data)
	p["type"] = typ
	return c.forward(ctx, telemetry.CategoryModification, p)
}

func (c *Controller) RecordPerformance(ctx context.Context, data telemetry.Payload) (delivery.Outcome, error) {
	return c.forward(ctx, telemetry.CategoryPerformance, data)
}

func (c *Controller) RecordStuckPoint(ctx context.Context, data telemetry.Payload) (delivery.Outcome, error) {
	return c.forward(ctx, telemetry.CategoryStuckPoint, data)
}

func (c *Controller) forward(ctx context.Context, cat telemetry.Category, data telemetry.Payload) (delivery.Outcome, error) {
	now := c.clock.Now()
	p := make(telemetry.Payload, len(data)+1)
	maps.Copy(p, data)
	p["timeFromStart"] = clock.Millis(now.Sub(c.session.StartedAt))

	rec := telemetry.NewRecord(cat, p, c.session.ID, now)
	out, err := c.deliverer.Send(ctx, rec)
	if err != nil {
		c.logger.Warn(ctx, "record not delivered",
			slog.F("category", cat), slog.F("outcome", out.String()), slog.Error(err))
	}
	return out, err
}

// TaskFlagKey is the flag-store key marking task as complete.
func TaskFlagKey(task string) string {
	return "task_" + task + "_completed"
}

// MarkTaskComplete sets the completion flag for task.
func (c *Controller) MarkTaskComplete(ctx context.Context, task string) error {
	if c.flags == nil {
		return errors.New("session: no flag store configured")
	}
	if strings.TrimSpace(task) == "" {
		return errors.New("session: task name is required")
	}
	if err := c.flags.Set(ctx, TaskFlagKey(task), []byte("true")); err != nil {
		return fmt.Errorf("mark task %s complete: %w", task, err)
	}
	return nil
}

// CompletionRate is the percentage of tasks whose flag is set, in [0,100].
// An empty checklist yields 0. Flags that cannot be read count as unset.
func (c *Controller) CompletionRate(ctx context.Context) float64 {
	if len(c.tasks) == 0 || c.flags == nil {
		return 0
	}
	done := 0
	for _, task := range c.tasks {
		v, err := c.flags.Get(ctx, TaskFlagKey(task))
		if err != nil {
			c.logger.Debug(ctx, "read task flag", slog.F("task", task), slog.Error(err))
			continue
		}
		if len(v) > 0 {
			done++
		}
	}
	return float64(done) / float64(len(c.tasks)) * 100
}

// Summary describes the session so far.
func (c *Controller) Summary(ctx context.Context) telemetry.Summary {
	return telemetry.Summary{
		SessionID:      c.session.ID,
		Version:        c.session.Version,
		Duration:       clock.Millis(c.clock.Since(c.session.StartedAt)),
		CompletionRate: c.CompletionRate(ctx),
		Errors:         c.ErrorCount(),
	}
}

// Teardown sends the summary through the beacon transport. Only the first
// call does anything; it reports whether the beacon was queued.
func (c *Controller) Teardown(ctx context.Context) bool {
	queued := false
	c.teardownOnce.Do(func() {
		s := c.Summary(ctx)
		queued = c.deliverer.SendBeacon(s)
		c.logger.Info(ctx, "session ended",
			slog.F("duration_ms", s.Duration),
			slog.F("errors", s.Errors),
			slog.F("completion_rate", s.CompletionRate),
			slog.F("beacon_queued", queued))
	})
	return queued
}
