package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
	"github.com/SmitUplenchwar2687/Beacon/internal/config"
	"github.com/SmitUplenchwar2687/Beacon/internal/limiter"
	"github.com/SmitUplenchwar2687/Beacon/internal/recorder"
	"github.com/SmitUplenchwar2687/Beacon/internal/server"
)

const shutdownTimeout = 5 * time.Second

func newCollectorCmd(g *globalOptions) *cobra.Command {
	var (
		addr            string
		dbPath          string
		requireIdentity bool
		rate            int
		window          time.Duration
		burst           int
		recordFile      string
	)

	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Run the development telemetry collector",
		Long: `Starts an HTTP collector that accepts records from the http sink and
stores them in SQLite.

Endpoints:
  GET  /                                    Collector info and record counts
  GET  /health                              Health check
  POST /v1/auth/anonymous                   Issue an anonymous identity
  POST /v1/{namespace}/{version}/{category} Append a record
  POST /api/feedback                        Receive a session summary beacon
  GET  /api/records                         List records (?category=&session=&limit=)
  GET  /api/summaries                       List session summaries
  GET  /metrics                             Prometheus metrics
  GET  /dashboard/                          Live dashboard
  WS   /ws                                  WebSocket feed of incoming telemetry`,
		Example: `  beacon collector
  beacon collector --addr :9090 --db telemetry.db
  beacon collector --rate 60 --window 1m --burst 10
  beacon collector --require-identity --record received.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			cc := &cfg.Collector
			if cmd.Flags().Changed("addr") {
				cc.Addr = addr
			}
			if cmd.Flags().Changed("db") {
				cc.DBPath = dbPath
			}
			if cmd.Flags().Changed("require-identity") {
				cc.RequireIdentity = requireIdentity
			}
			if cmd.Flags().Changed("rate") {
				cc.Rate = rate
			}
			if cmd.Flags().Changed("window") {
				cc.Window = window
			}
			if cmd.Flags().Changed("burst") {
				cc.Burst = burst
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}

			// Graceful shutdown on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runCollector(ctx, collectorRun{
				Config:     cfg.Collector,
				RecordFile: recordFile,
				Out:        cmd.OutOrStdout(),
				Logger:     logger,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringVar(&dbPath, "db", "beacon-collector.db", "SQLite database file")
	cmd.Flags().BoolVar(&requireIdentity, "require-identity", false, "reject records without an anonymous identity token")
	cmd.Flags().IntVar(&rate, "rate", 120, "records allowed per session per window")
	cmd.Flags().DurationVar(&window, "window", time.Minute, "rate limit window duration")
	cmd.Flags().IntVar(&burst, "burst", 30, "max burst size per session (0 = same as rate)")
	cmd.Flags().StringVar(&recordFile, "record", "", "journal received records to a JSON file (exported on shutdown)")

	return cmd
}

type collectorRun struct {
	Config     config.CollectorConfig
	RecordFile string
	// Listener replaces listening on Config.Addr.
	Listener net.Listener
	Out      io.Writer
	Logger   slog.Logger
}

// runCollector serves until ctx is done, then shuts down and exports the
// journal if one was requested.
func runCollector(ctx context.Context, run collectorRun) error {
	store, err := server.OpenDatastore(ctx, run.Config.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	clk := clock.NewRealClock()
	lim := limiter.NewTokenBucket(run.Config.Rate, run.Config.Window, run.Config.Burst, clk)

	var rec *recorder.Recorder
	if run.RecordFile != "" {
		rec = recorder.New(nil)
	}

	srv, err := server.New(server.Options{
		Addr:            run.Config.Addr,
		Store:           store,
		Limiter:         lim,
		Recorder:        rec,
		RequireIdentity: run.Config.RequireIdentity,
		Clock:           clk,
		Logger:          run.Logger,
	})
	if err != nil {
		return err
	}

	if run.Out != nil {
		addr := run.Config.Addr
		if run.Listener != nil {
			addr = run.Listener.Addr().String()
		}
		fmt.Fprintf(run.Out, "Collector: http://%s/\n", displayAddr(addr))
		fmt.Fprintf(run.Out, "Dashboard: http://%s/dashboard/\n", displayAddr(addr))
		fmt.Fprintf(run.Out, "Database:  %s\n", run.Config.DBPath)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if run.Listener != nil {
			return srv.StartOnListener(run.Listener)
		}
		return srv.Start()
	})
	eg.Go(func() error {
		lim.RunPruner(egCtx, run.Config.Window)
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		run.Logger.Info(context.Background(), "shutting down collector")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = eg.Wait()

	if rec != nil {
		run.Logger.Info(context.Background(), "exporting received records",
			slog.F("count", rec.Len()), slog.F("file", run.RecordFile))
		if xerr := rec.ExportFile(run.RecordFile); xerr != nil {
			run.Logger.Error(context.Background(), "export records", slog.Error(xerr))
			if err == nil {
				err = xerr
			}
		}
	}
	return err
}

func displayAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		return "localhost:" + port
	}
	return net.JoinHostPort(host, port)
}
