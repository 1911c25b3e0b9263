// Package replay re-sends recorded telemetry through a delivery client,
// preserving the original spacing between records on a virtual clock.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
	"github.com/SmitUplenchwar2687/Beacon/internal/delivery"
	"github.com/SmitUplenchwar2687/Beacon/internal/recorder"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// Sender is what the replayer pushes records into. *delivery.Client
// satisfies it.
type Sender interface {
	Send(ctx context.Context, rec telemetry.Record) (delivery.Outcome, error)
}

// Replayer replays recorded telemetry through a Sender at a configurable speed.
type Replayer struct {
	records []telemetry.Record
	sender  Sender
	clock   *clock.VirtualClock
	filter  Filter
	speed   float64 // 1.0 = real-time, 10.0 = 10x, 0 = instant
}

// Result captures the outcome of replaying a single record.
type Result struct {
	Record  telemetry.Record `json:"record"`
	Outcome delivery.Outcome `json:"outcome"`
	Err     error            `json:"-"`
	Time    time.Time        `json:"time"` // virtual time of the send
}

// Summary aggregates replay statistics.
type Summary struct {
	TotalRecords int                                     `json:"total_records"`
	Filtered     int                                     `json:"filtered"`
	Replayed     int                                     `json:"replayed"`
	Delivered    int                                     `json:"delivered"`
	Buffered     int                                     `json:"buffered"`
	Dropped      int                                     `json:"dropped"`
	Duration     time.Duration                           `json:"duration"`      // virtual time span
	WallDuration time.Duration                           `json:"wall_duration"` // actual wall clock time
	PerCategory  map[telemetry.Category]CategorySummary `json:"per_category"`
}

// CategorySummary has per-category stats.
type CategorySummary struct {
	Delivered int `json:"delivered"`
	Buffered  int `json:"buffered"`
	Dropped   int `json:"dropped"`
}

func (c *CategorySummary) add(o delivery.Outcome) {
	switch o {
	case delivery.OutcomeDelivered:
		c.Delivered++
	case delivery.OutcomeBuffered:
		c.Buffered++
	default:
		c.Dropped++
	}
}

// ErrNoRecords is returned by Run when nothing was loaded.
var ErrNoRecords = errors.New("no records loaded")

// New creates a new replayer.
func New(sender Sender, vc *clock.VirtualClock, speed float64, filter Filter) *Replayer {
	if speed < 0 {
		speed = 0
	}
	return &Replayer{
		sender: sender,
		clock:  vc,
		speed:  speed,
		filter: filter,
	}
}

// Load reads records exported by the collector's recorder.
func (r *Replayer) Load(reader io.Reader) error {
	records, err := recorder.LoadJSON(reader)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}
	r.records = records
	return nil
}

// LoadRecords sets the records directly.
func (r *Replayer) LoadRecords(records []telemetry.Record) {
	r.records = make([]telemetry.Record, len(records))
	copy(r.records, records)
}

// Run replays all loaded records through the sender in creation order.
// cb, if non-nil, sees every result. A failed send does not stop the run;
// it is counted as dropped and reported through cb.
func (r *Replayer) Run(ctx context.Context, cb func(Result)) (*Summary, error) {
	if len(r.records) == 0 {
		return nil, ErrNoRecords
	}

	sorted := make([]telemetry.Record, len(r.records))
	copy(sorted, r.records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	var filtered []telemetry.Record
	for _, rec := range sorted {
		if r.filter.Match(rec) {
			filtered = append(filtered, rec)
		}
	}

	summary := &Summary{
		TotalRecords: len(sorted),
		Filtered:     len(filtered),
		PerCategory:  make(map[telemetry.Category]CategorySummary),
	}
	if len(filtered) == 0 {
		return summary, nil
	}

	wallStart := time.Now()
	for i, rec := range filtered {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if i > 0 {
			if gap := rec.CreatedAt.Sub(filtered[i-1].CreatedAt); gap > 0 {
				if err := r.pace(ctx, gap); err != nil {
					return summary, err
				}
				r.clock.Advance(gap)
			}
		}

		outcome, err := r.sender.Send(ctx, rec)
		if err != nil {
			outcome = delivery.OutcomeDropped
		}

		summary.Replayed++
		switch outcome {
		case delivery.OutcomeDelivered:
			summary.Delivered++
		case delivery.OutcomeBuffered:
			summary.Buffered++
		default:
			summary.Dropped++
		}
		cs := summary.PerCategory[rec.Category]
		cs.add(outcome)
		summary.PerCategory[rec.Category] = cs

		if cb != nil {
			cb(Result{Record: rec, Outcome: outcome, Err: err, Time: r.clock.Now()})
		}
	}

	summary.Duration = filtered[len(filtered)-1].CreatedAt.Sub(filtered[0].CreatedAt)
	summary.WallDuration = time.Since(wallStart)
	return summary, nil
}

// pace sleeps for gap scaled by speed. Speed 0 replays instantly.
func (r *Replayer) pace(ctx context.Context, gap time.Duration) error {
	if r.speed <= 0 {
		return nil
	}
	scaled := time.Duration(float64(gap) / r.speed)
	if scaled <= time.Millisecond {
		return nil
	}
	t := time.NewTimer(scaled)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
