package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Beacon/internal/agent"
	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
	"github.com/SmitUplenchwar2687/Beacon/internal/config"
	"github.com/SmitUplenchwar2687/Beacon/internal/recorder"
	"github.com/SmitUplenchwar2687/Beacon/internal/replay"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

func newReplayCmd(g *globalOptions) *cobra.Command {
	var (
		file       string
		speed      float64
		categories []string
		sessions   []string
		after      string
		before     string
		outputJSON bool
		sinkOpts   sinkOptions
		bufOpts    bufferOptions
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded telemetry through the delivery client",
		Long: `Replays a JSON array of records, such as the file written by
"beacon collector --record" or "beacon generate records", through the
delivery client and the configured sink.

Records are replayed in creation order. The virtual clock advances to
match the gaps between records, so buffered entries get the keys they
would have had at the time.

Speed: 0 = instant, 1 = real-time, 10 = 10x, 100 = 100x`,
		Example: `  beacon replay --file records.json --sink memory
  beacon replay --file records.json --sink http --sink-url http://localhost:8080 --speed 10
  beacon replay --file records.json --category errors,stuck_points --session session-1
  beacon replay --file records.json --after 2024-01-01T00:00:00Z --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			filter, err := buildFilter(categories, sessions, after, before)
			if err != nil {
				return err
			}

			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			sinkOpts.apply(cmd, &cfg.Sink, false)
			if err := bufOpts.apply(cmd, &cfg.Buffer); err != nil {
				return err
			}
			cfg.Sink.ProbeInterval = 0
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("opening file: %w", err)
			}
			defer f.Close()
			records, err := recorder.LoadJSON(f)
			if err != nil {
				return fmt.Errorf("parsing records: %w", err)
			}

			start := time.Now().Truncate(time.Second)
			if len(records) > 0 {
				start = earliest(records)
			}
			vc := clock.NewVirtualClock(start)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := agent.New(ctx, agent.Options{Config: cfg, Clock: vc, Logger: logger})
			if err != nil {
				return err
			}
			defer a.Close()

			r := replay.New(a.Client(), vc, speed, filter)
			r.LoadRecords(records)

			out := cmd.OutOrStdout()
			if !outputJSON {
				fmt.Fprintf(out, "Replaying %s to the %s sink at %.0fx speed...\n\n", file, cfg.Sink.Kind, speed)
			}

			var results []replay.Result
			summary, err := r.Run(ctx, func(res replay.Result) {
				if outputJSON {
					results = append(results, res)
					return
				}
				fmt.Fprintf(out, "  [%-9s] %s %-13s session=%s\n",
					strings.ToUpper(res.Outcome.String()),
					res.Record.CreatedAt.Format("15:04:05"),
					res.Record.Category,
					res.Record.SessionID)
			})
			if err != nil {
				return err
			}

			if outputJSON {
				return writeJSONOut(out, map[string]any{
					"results": results,
					"summary": summary,
				})
			}
			printReplaySummary(out, summary)
			return nil
		},
	}

	sinkOpts.addFlags(cmd.Flags(), config.SinkHTTP)
	bufOpts.addFlags(cmd.Flags())
	cmd.Flags().StringVar(&file, "file", "", "path to a JSON array of records (required)")
	cmd.Flags().Float64Var(&speed, "speed", 0, "replay speed (0=instant, 1=real-time, 10=10x)")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "only replay these categories (comma-separated)")
	cmd.Flags().StringSliceVar(&sessions, "session", nil, "only replay these sessions (comma-separated)")
	cmd.Flags().StringVar(&after, "after", "", "only replay records created after this RFC 3339 time")
	cmd.Flags().StringVar(&before, "before", "", "only replay records created before this RFC 3339 time")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")

	return cmd
}

func buildFilter(categories, sessions []string, after, before string) (replay.Filter, error) {
	f := replay.Filter{Sessions: sessions}
	for _, c := range categories {
		cat, err := telemetry.ParseCategory(c)
		if err != nil {
			return f, err
		}
		f.Categories = append(f.Categories, cat)
	}
	var err error
	if after != "" {
		if f.After, err = time.Parse(time.RFC3339, after); err != nil {
			return f, fmt.Errorf("invalid --after: %w", err)
		}
	}
	if before != "" {
		if f.Before, err = time.Parse(time.RFC3339, before); err != nil {
			return f, fmt.Errorf("invalid --before: %w", err)
		}
	}
	if !f.After.IsZero() && !f.Before.IsZero() && !f.After.Before(f.Before) {
		return f, fmt.Errorf("--after must be earlier than --before")
	}
	return f, nil
}

func earliest(records []telemetry.Record) time.Time {
	first := records[0].CreatedAt
	for _, r := range records[1:] {
		if r.CreatedAt.Before(first) {
			first = r.CreatedAt
		}
	}
	return first
}

func printReplaySummary(w io.Writer, s *replay.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "--- Replay Summary ---")
	fmt.Fprintf(w, "  Total records:  %d\n", s.TotalRecords)
	fmt.Fprintf(w, "  Filtered:       %d\n", s.Filtered)
	fmt.Fprintf(w, "  Replayed:       %d\n", s.Replayed)
	fmt.Fprintf(w, "  Delivered:      %d\n", s.Delivered)
	fmt.Fprintf(w, "  Buffered:       %d\n", s.Buffered)
	fmt.Fprintf(w, "  Dropped:        %d\n", s.Dropped)
	fmt.Fprintf(w, "  Virtual time:   %s\n", s.Duration)
	fmt.Fprintf(w, "  Wall time:      %s\n", s.WallDuration.Round(time.Millisecond))

	if len(s.PerCategory) > 1 {
		cats := make([]string, 0, len(s.PerCategory))
		for c := range s.PerCategory {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Per category:")
		for _, c := range cats {
			cs := s.PerCategory[telemetry.Category(c)]
			fmt.Fprintf(w, "    %s: %d delivered, %d buffered, %d dropped\n", c, cs.Delivered, cs.Buffered, cs.Dropped)
		}
	}

	if s.Buffered > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("=", 50))
		fmt.Fprintf(w, "%d records are waiting in the buffer.\n", s.Buffered)
		fmt.Fprintln(w, `Run "beacon buffer drain" once the sink is up.`)
		fmt.Fprintln(w, strings.Repeat("=", 50))
	}
}
