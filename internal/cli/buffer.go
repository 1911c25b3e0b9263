package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"cdr.dev/slog/v3"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Beacon/internal/agent"
	"github.com/SmitUplenchwar2687/Beacon/internal/buffer"
	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
	"github.com/SmitUplenchwar2687/Beacon/internal/config"
	"github.com/SmitUplenchwar2687/Beacon/internal/storage"
)

func newBufferCmd(g *globalOptions) *cobra.Command {
	var (
		bufOpts    bufferOptions
		sinkOpts   sinkOptions
		outputJSON bool
	)

	// load resolves the config with this command's flags applied.
	load := func(cmd *cobra.Command) (config.Config, slog.Logger, error) {
		cfg, err := g.loadConfig(cmd)
		if err != nil {
			return cfg, slog.Logger{}, err
		}
		if err := bufOpts.apply(cmd, &cfg.Buffer); err != nil {
			return cfg, slog.Logger{}, err
		}
		sinkOpts.apply(cmd, &cfg.Sink, false)
		if err := cfg.Validate(); err != nil {
			return cfg, slog.Logger{}, err
		}
		logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
		return cfg, logger, err
	}

	cmd := &cobra.Command{
		Use:   "buffer",
		Short: "Inspect and drain the local offline buffer",
		Long: `Records that could not reach the sink wait in the local buffer until
the sink is available again. These commands look inside it and push
its contents to the configured sink on demand.`,
	}
	bufOpts.addFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON")

	countCmd := &cobra.Command{
		Use:     "count",
		Short:   "Print the number of buffered records",
		Example: `  beacon buffer count --buffer bolt --buffer-path beacon-buffer.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load(cmd)
			if err != nil {
				return err
			}
			return withBuffer(cmd.Context(), cfg.Buffer, func(buf *buffer.Buffer) error {
				n, err := buf.Count(cmd.Context())
				if err != nil {
					return err
				}
				if outputJSON {
					return writeJSONOut(cmd.OutOrStdout(), map[string]int{"count": n})
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "List buffered records in key order",
		Example: `  beacon buffer list --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load(cmd)
			if err != nil {
				return err
			}
			return withBuffer(cmd.Context(), cfg.Buffer, func(buf *buffer.Buffer) error {
				return listBuffer(cmd.Context(), cmd.OutOrStdout(), buf, outputJSON)
			})
		},
	}

	drainCmd := &cobra.Command{
		Use:   "drain",
		Short: "Deliver buffered records to the configured sink",
		Example: `  beacon buffer drain --sink http --sink-url http://localhost:8080
  beacon buffer drain --sink redis --redis-host localhost:6379`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			// The probe would race the explicit drain below.
			cfg.Sink.ProbeInterval = 0

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := agent.New(ctx, agent.Options{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.Client().Drain(ctx)
			if outputJSON {
				if err := writeJSONOut(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Attempted: %d\nDelivered: %d\nFailed:    %d\nDropped:   %d\n",
					res.Attempted, res.Delivered, res.Failed, res.Dropped)
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d buffered records could not be delivered: %w", res.Failed, res.Err)
			}
			return nil
		},
	}
	sinkOpts.addFlags(drainCmd.Flags(), config.SinkHTTP)

	cmd.AddCommand(countCmd, listCmd, drainCmd)
	return cmd
}

func withBuffer(ctx context.Context, cfg storage.Config, fn func(*buffer.Buffer) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open buffer: %w", err)
	}
	defer st.Close()
	return fn(buffer.New(st, clock.NewRealClock()))
}

type bufferedEntry struct {
	Key      string `json:"key"`
	Category string `json:"category"`
	Session  string `json:"session_id,omitempty"`
	Created  string `json:"created_at,omitempty"`
	Error    string `json:"error,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

func listBuffer(ctx context.Context, w io.Writer, buf *buffer.Buffer, asJSON bool) error {
	var entries []bufferedEntry
	for e, err := range buf.Drain(ctx) {
		if err != nil && e.Key == "" {
			return err
		}
		be := bufferedEntry{Key: e.Key}
		if cat, _, perr := buffer.ParseKey(e.Key); perr == nil {
			be.Category = string(cat)
		}
		if err != nil {
			be.Error = err.Error()
		} else {
			be.Session = e.Record.SessionID
			be.Created = e.Record.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
			be.Payload = e.Record.Payload
		}
		entries = append(entries, be)
	}

	if asJSON {
		if entries == nil {
			entries = []bufferedEntry{}
		}
		return writeJSONOut(w, entries)
	}
	for _, be := range entries {
		if be.Error != "" {
			fmt.Fprintf(w, "%s  UNREADABLE: %s\n", be.Key, be.Error)
			continue
		}
		fmt.Fprintf(w, "%s  %-13s session=%s created=%s\n", be.Key, be.Category, be.Session, be.Created)
	}
	fmt.Fprintf(w, "%d buffered\n", len(entries))
	return nil
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
