// Package generate produces synthetic telemetry for trying out the
// collector and the replay command.
package generate

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

const (
	// PatternSteady spreads records evenly.
	PatternSteady = "steady"
	// PatternBurst clusters records with quiet gaps, like error storms.
	PatternBurst = "burst"
	// PatternRamp grows denser towards the end of the window.
	PatternRamp = "ramp"
)

// Options controls how synthetic records are generated.
type Options struct {
	Count    int
	Sessions int
	Duration time.Duration
	Pattern  string
	Start    time.Time
	Seed     int64
	// Categories to draw from. Defaults to every category.
	Categories []telemetry.Category
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		Count:    100,
		Sessions: 3,
		Duration: 5 * time.Minute,
		Pattern:  PatternSteady,
	}
}

var (
	errorMessages = []string{
		"Unexpected token",
		"Cannot read properties of undefined (reading 'value')",
		"selectedTimingValue is not defined",
		"Failed to fetch",
	}
	titles   = []string{"体重管理", "ストレッチ管理", "睡眠記録", "家計簿"}
	elements = []string{"#loginButton", "#memo", ".timing-select", "input", "#saveButton"}
)

// GenerateRecords creates synthetic records in creation order.
func GenerateRecords(opts *Options) ([]telemetry.Record, error) {
	if opts == nil {
		return nil, errors.New("options are required")
	}
	o := *opts
	if o.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", o.Count)
	}
	if o.Sessions <= 0 {
		return nil, fmt.Errorf("sessions must be positive, got %d", o.Sessions)
	}
	if o.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", o.Duration)
	}
	for _, c := range o.Categories {
		if !c.Valid() {
			return nil, fmt.Errorf("invalid category %q", c)
		}
	}

	if o.Pattern == "" {
		o.Pattern = PatternSteady
	}
	if o.Start.IsZero() {
		o.Start = time.Now().Truncate(time.Second)
	}
	if len(o.Categories) == 0 {
		o.Categories = telemetry.Categories
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}

	g := &generator{
		rng:        rand.New(rand.NewSource(o.Seed)),
		start:      o.Start,
		sessions:   makeSessionIDs(o.Sessions),
		categories: o.Categories,
	}

	var offsets []time.Duration
	switch o.Pattern {
	case PatternBurst:
		offsets = g.burst(o.Count, o.Duration)
	case PatternRamp:
		offsets = ramp(o.Count, o.Duration)
	default: // steady and unknown patterns
		offsets = steady(o.Count, o.Duration)
	}

	records := make([]telemetry.Record, len(offsets))
	for i, off := range offsets {
		records[i] = g.record(off)
	}
	return records, nil
}

func makeSessionIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("session-%d", i+1)
	}
	return ids
}

type generator struct {
	rng        *rand.Rand
	start      time.Time
	sessions   []string
	categories []telemetry.Category
}

func (g *generator) pick(ss []string) string {
	return ss[g.rng.Intn(len(ss))]
}

func (g *generator) record(offset time.Duration) telemetry.Record {
	at := g.start.Add(offset)
	cat := g.categories[g.rng.Intn(len(g.categories))]

	var p telemetry.Payload
	switch cat {
	case telemetry.CategoryError:
		p = telemetry.Payload{
			"message":   g.pick(errorMessages),
			"line":      1 + g.rng.Intn(600),
			"file":      "app.js",
			"timestamp": at.UnixMilli(),
		}
	case telemetry.CategoryModification:
		from := g.pick(titles)
		to := g.pick(titles)
		p = telemetry.Payload{
			"type":          "title_change",
			"from":          from,
			"to":            to,
			"timeFromStart": offset.Milliseconds(),
		}
	case telemetry.CategoryPerformance:
		p = telemetry.Payload{
			"memory": 20 + g.rng.Intn(100),
			"fps":    30 + g.rng.Intn(31),
		}
	case telemetry.CategoryStuckPoint:
		p = telemetry.Payload{
			"element":  g.pick(elements),
			"duration": 5000 + g.rng.Intn(15000),
		}
	}
	return telemetry.NewRecord(cat, p, g.pick(g.sessions), at)
}

func steady(count int, dur time.Duration) []time.Duration {
	interval := dur / time.Duration(count)
	out := make([]time.Duration, count)
	for i := range out {
		out[i] = time.Duration(i) * interval
	}
	return out
}

func (g *generator) burst(count int, dur time.Duration) []time.Duration {
	const numBursts = 4
	burstSize := count / numBursts
	burstGap := dur / numBursts

	out := make([]time.Duration, 0, count)
	for b := 0; b < numBursts; b++ {
		for i := 0; i < burstSize; i++ {
			out = append(out, time.Duration(b)*burstGap+time.Duration(g.rng.Intn(1000))*time.Millisecond)
		}
	}
	for len(out) < count {
		out = append(out, time.Duration(g.rng.Int63n(int64(dur))))
	}
	sortDurations(out)
	return out
}

func ramp(count int, dur time.Duration) []time.Duration {
	out := make([]time.Duration, count)
	for i := range out {
		frac := float64(i) / float64(count)
		out[i] = time.Duration(frac * frac * float64(dur))
	}
	return out
}

func sortDurations(d []time.Duration) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j] < d[j-1]; j-- {
			d[j], d[j-1] = d[j-1], d[j]
		}
	}
}
