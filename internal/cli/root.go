package cli

import (
	"fmt"
	"io"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"cdr.dev/slog/v3/sloggers/slogjson"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Beacon/internal/config"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCmd creates the root beacon command.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "beacon",
		Short: "Page telemetry with a durable offline buffer",
		Long: `Beacon records errors, title edits, performance samples and stuck
points from a page session, buffers them locally while the sink is
unreachable, and replays them once it comes back.

Run a development collector, simulate sessions against it with a
virtual clock, inspect the local buffer, and replay recorded telemetry.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to a JSON or YAML config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "human", "log format (human, json)")

	root.AddCommand(
		newCollectorCmd(g),
		newSimulateCmd(g),
		newBufferCmd(g),
		newReplayCmd(g),
		newGenerateCmd(),
	)

	return root
}

// loadConfig reads the config file and environment, then applies the
// global flags the user actually set.
func (g *globalOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = g.logFormat
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.LogConfig) (slog.Logger, error) {
	var logger slog.Logger
	switch cfg.Format {
	case "", "human":
		logger = slog.Make(sloghuman.Sink(w))
	case "json":
		logger = slog.Make(slogjson.Sink(w))
	default:
		return logger, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	switch cfg.Level {
	case "debug":
		logger = logger.Leveled(slog.LevelDebug)
	case "", "info":
		logger = logger.Leveled(slog.LevelInfo)
	case "warn":
		logger = logger.Leveled(slog.LevelWarn)
	case "error":
		logger = logger.Leveled(slog.LevelError)
	default:
		return logger, fmt.Errorf("unknown log level %q", cfg.Level)
	}
	return logger, nil
}
