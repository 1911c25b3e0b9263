package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cdr.dev/slog/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Beacon/internal/agent"
	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
	"github.com/SmitUplenchwar2687/Beacon/internal/config"
	"github.com/SmitUplenchwar2687/Beacon/internal/delivery"
	"github.com/SmitUplenchwar2687/Beacon/internal/events"
	"github.com/SmitUplenchwar2687/Beacon/internal/sink"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// simulatedTitle is the page title a simulated session starts with.
const simulatedTitle = "Untitled app"

// simulation describes one scripted session.
type simulation struct {
	Offline     bool
	Reconnect   bool
	Errors      int
	Focus       []time.Duration
	Title       string
	FastForward time.Duration
	Complete    []string
}

func newSimulateCmd(g *globalOptions) *cobra.Command {
	var (
		sim        simulation
		advanced   bool
		outputJSON bool
		sinkOpts   sinkOptions
		bufOpts    bufferOptions
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted page session against a virtual clock",
		Long: `Runs one telemetry session without a browser. Events are injected
on a virtual clock, so stuck points and sampling intervals elapse
instantly.

The session raises errors, edits the title, focuses elements for the
given durations, completes tasks, and finally tears down, sending
the summary beacon. With --offline the memory sink rejects every write
so records land in the buffer; --reconnect then brings it back and
replays them.`,
		Example: `  beacon simulate --errors 3 --title "My app"
  beacon simulate --advanced --focus 8s,3s --fast-forward 30s
  beacon simulate --offline --reconnect --buffer memory --json
  beacon simulate --sink http --sink-url http://localhost:8080 --errors 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			sinkOpts.apply(cmd, &cfg.Sink, true)
			if err := bufOpts.apply(cmd, &cfg.Buffer); err != nil {
				return err
			}
			if advanced {
				cfg.EnableAdvanced = true
			}
			if (sim.Offline || sim.Reconnect) && cfg.Sink.Kind != config.SinkMemory {
				return errors.New("--offline and --reconnect need the memory sink")
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}

			result, err := runSimulation(cmd.Context(), cfg, sim, logger)
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printSimulation(cmd.OutOrStdout(), &result)
			return nil
		},
	}

	sinkOpts.addFlags(cmd.Flags(), config.SinkMemory)
	bufOpts.addFlags(cmd.Flags())
	cmd.Flags().BoolVar(&sim.Offline, "offline", false, "start with the memory sink unreachable")
	cmd.Flags().BoolVar(&sim.Reconnect, "reconnect", false, "bring the sink back before teardown and replay the buffer")
	cmd.Flags().IntVar(&sim.Errors, "errors", 1, "number of script errors to raise")
	cmd.Flags().DurationSliceVar(&sim.Focus, "focus", nil, "focus durations, one element each (e.g. 8s,3s)")
	cmd.Flags().StringVar(&sim.Title, "title", "", "change the page title to this value")
	cmd.Flags().DurationVar(&sim.FastForward, "fast-forward", 0, "virtual time to let pass before teardown")
	cmd.Flags().StringSliceVar(&sim.Complete, "complete", nil, "tasks to mark complete (e.g. login,test)")
	cmd.Flags().BoolVar(&advanced, "advanced", false, "enable performance sampling and stuck-point tracking")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output the result as JSON")

	return cmd
}

// SimulationResult captures what a simulated session produced.
type SimulationResult struct {
	SessionID string                `json:"session_id"`
	Sink      string                `json:"sink"`
	Advanced  bool                  `json:"advanced"`
	Steps     []Step                `json:"steps"`
	Outcomes  map[string]int        `json:"outcomes"`
	Replay    *delivery.DrainResult `json:"replay,omitempty"`
	Buffered  int                   `json:"buffered"`
	Written   []WrittenRecord       `json:"written,omitempty"`
	Summary   telemetry.Summary     `json:"summary"`
	Beacon    bool                  `json:"beacon_sent"`
}

// WrittenRecord is a record the memory sink accepted.
type WrittenRecord struct {
	Path   string           `json:"path"`
	Record telemetry.Record `json:"record"`
}

// Step is one scripted action and the virtual time it happened at.
type Step struct {
	At     string `json:"at"`
	Action string `json:"action"`
}

func runSimulation(ctx context.Context, cfg config.Config, sim simulation, logger slog.Logger) (SimulationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now().Truncate(time.Second)
	vc := clock.NewVirtualClock(start)

	// Replays are driven explicitly, never by a background probe.
	cfg.Sink.ProbeInterval = 0

	reg := prometheus.NewRegistry()
	var mem *sink.Memory
	opts := agent.Options{
		Config:   cfg,
		Clock:    vc,
		Metrics:  events.StaticMetrics{Reading: events.Sample{MemoryMiB: 48, FPS: 60, HasFPS: true}},
		Title:    simulatedTitle,
		Registry: reg,
		Logger:   logger,
	}
	if cfg.Sink.Kind == config.SinkMemory {
		mem = sink.NewMemory()
		mem.SetFailing(sim.Offline)
		opts.Sink = mem
	}

	a, err := agent.New(ctx, opts)
	if err != nil {
		return SimulationResult{}, err
	}
	defer a.Close()

	result := SimulationResult{
		SessionID: a.Session().Session().ID,
		Sink:      cfg.Sink.Kind,
		Advanced:  cfg.EnableAdvanced,
	}
	step := func(format string, args ...any) {
		result.Steps = append(result.Steps, Step{
			At:     "+" + vc.Since(start).String(),
			Action: fmt.Sprintf(format, args...),
		})
	}

	step("session started (sink %s, offline=%t)", cfg.Sink.Kind, sim.Offline)
	for i := range sim.Errors {
		vc.Advance(time.Second)
		a.Publish(ctx, events.ErrorEvent{
			Message: fmt.Sprintf("simulated error %d", i+1),
			Source:  "app.js",
			Line:    10 * (i + 1),
		})
		step("error raised at app.js:%d", 10*(i+1))
	}

	if sim.Title != "" {
		vc.Advance(time.Second)
		a.Publish(ctx, events.MutationEvent{Target: agent.TitleTarget, Value: sim.Title})
		step("title changed to %q", sim.Title)
	}

	for i, d := range sim.Focus {
		el := events.Element{ID: fmt.Sprintf("field%d", i+1), Tag: "input"}
		a.Publish(ctx, events.FocusIn{Element: el})
		vc.Advance(d)
		a.Publish(ctx, events.FocusOut{Element: el})
		step("focused %s for %s", el.Selector(), d)
	}

	if sim.FastForward > 0 {
		interval := cfg.SampleInterval
		for elapsed := time.Duration(0); elapsed+interval <= sim.FastForward; elapsed += interval {
			vc.Advance(interval)
			if cfg.EnableAdvanced {
				a.Publish(ctx, events.TickEvent{At: vc.Now()})
			}
		}
		step("fast-forwarded %s", sim.FastForward)
	}

	for _, task := range sim.Complete {
		if err := a.MarkTaskComplete(ctx, task); err != nil {
			return result, err
		}
		step("task %s completed", task)
	}

	if sim.Reconnect && mem != nil {
		mem.SetFailing(false)
		res := a.Client().Drain(ctx)
		result.Replay = &res
		step("sink reachable again, replayed %d buffered records", res.Delivered)
	}

	result.Summary = a.Session().Summary(ctx)
	a.Teardown(ctx)
	step("teardown")

	result.Outcomes = sendOutcomes(reg)
	result.Beacon = mem == nil || len(mem.Beacons()) > 0
	if mem != nil {
		for _, wr := range mem.Records() {
			result.Written = append(result.Written, WrittenRecord{Path: wr.Path.String(), Record: wr.Record})
		}
	}
	if n, err := a.Buffer().Count(ctx); err == nil {
		result.Buffered = n
	}
	return result, nil
}

// sendOutcomes reads the delivery send counter back out of reg.
func sendOutcomes(reg *prometheus.Registry) map[string]int {
	out := map[string]int{}
	families, err := reg.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		if mf.GetName() != "beacon_delivery_sends_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == delivery.LabelOutcome {
					out[l.GetValue()] += int(m.GetCounter().GetValue())
				}
			}
		}
	}
	return out
}

func printSimulation(w io.Writer, r *SimulationResult) {
	fmt.Fprintln(w, "=== Beacon Session Simulation ===")
	fmt.Fprintf(w, "Session: %s\n\n", r.SessionID)

	for _, s := range r.Steps {
		fmt.Fprintf(w, "  %-8s %s\n", s.At, s.Action)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "--- Delivery ---")
	for _, o := range []string{"delivered", "buffered", "dropped"} {
		fmt.Fprintf(w, "  %-10s %d\n", o+":", r.Outcomes[o])
	}
	if r.Replay != nil {
		fmt.Fprintf(w, "  replayed:  %d (failed %d)\n", r.Replay.Delivered, r.Replay.Failed)
	}
	fmt.Fprintf(w, "  in buffer: %d\n", r.Buffered)

	if len(r.Written) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "--- Written ---")
		for _, wr := range r.Written {
			fmt.Fprintf(w, "  %s %s\n", wr.Path, payloadSummary(wr.Record.Payload))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "--- Summary beacon ---")
	fmt.Fprintf(w, "  duration:        %dms\n", r.Summary.Duration)
	fmt.Fprintf(w, "  completion rate: %.0f%%\n", r.Summary.CompletionRate)
	fmt.Fprintf(w, "  errors:          %d\n", r.Summary.Errors)
	fmt.Fprintf(w, "  sent:            %t\n", r.Beacon)

	if r.Replay != nil && r.Replay.Delivered > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("=", 50))
		fmt.Fprintln(w, "Offline records were buffered and replayed once")
		fmt.Fprintln(w, "the sink came back.")
		fmt.Fprintln(w, strings.Repeat("=", 50))
	}
}

func payloadSummary(p telemetry.Payload) string {
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}
