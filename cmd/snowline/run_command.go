package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"snowline/internal/discovery"
	"snowline/internal/download"
	"snowline/internal/logging"
	"snowline/internal/metrics"
	"snowline/internal/snowmask"
	"snowline/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		once       bool
		discover   bool
		skipChecks bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline loop: download then process every poll interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			logger := ctx.loggerValue()

			lock := flock.New(cfg.LockPath())
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another snowline pipeline holds %s", cfg.LockPath())
			}
			defer lock.Unlock()

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			client, err := ctx.newClient()
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m, err := metrics.New("snowline", reg)
			if err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}

			opts := []workflow.ManagerOption{workflow.WithMetrics(m)}
			if skipChecks {
				opts = append(opts, workflow.WithoutPreflight())
			}
			mgr := workflow.NewManager(cfg, store, logger, opts...)
			set := workflow.StageSet{
				Download: download.New(store, client, cfg, download.WithLogger(logger), download.WithMetrics(m)),
				Process:  snowmask.New(store, cfg, snowmask.WithLogger(logger), snowmask.WithMetrics(m)),
			}
			if discover {
				set.Discovery = discovery.New(store, client, discovery.WithLogger(logger), discovery.WithMetrics(m))
			}
			mgr.ConfigureStages(set)

			if once {
				report, err := mgr.RunOnce(cmd.Context())
				printCycle(cmd.OutOrStdout(), report)
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if bind := cfg.Metrics.Bind; bind != "" {
				shutdown, err := serveMetrics(runCtx, bind, m.Handler(), logger)
				if err != nil {
					return err
				}
				defer shutdown()
			}

			if err := mgr.Start(runCtx); err != nil {
				return err
			}
			logger.Info("pipeline running",
				logging.String("lock", cfg.LockPath()),
				logging.Duration("poll_interval", cfg.Workflow.PollInterval()),
			)
			<-runCtx.Done()
			logger.Info("shutting down; waiting for in-flight units")
			mgr.Stop()
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	cmd.Flags().BoolVar(&discover, "discover", false, "Search the catalog for new scenes each cycle")
	cmd.Flags().BoolVar(&skipChecks, "skip-preflight", false, "Start without readiness checks")
	return cmd
}

// serveMetrics exposes the Prometheus handler on bind until ctx ends.
func serveMetrics(ctx context.Context, bind string, handler http.Handler, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", bind, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", logging.Error(err))
		}
	}()
	logger.Info("metrics listening", logging.String("addr", ln.Addr().String()))
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

func printCycle(out io.Writer, report workflow.CycleReport) {
	if report.Reclaimed > 0 {
		fmt.Fprintf(out, "Reclaimed %d stale processing products\n", report.Reclaimed)
	}
	if report.Discovered.Created+report.Discovered.Skipped > 0 {
		fmt.Fprintf(out, "Discovered %d new products (%d already known)\n", report.Discovered.Created, report.Discovered.Skipped)
	}
	for _, s := range report.Stages {
		printSummary(out, s.Name, s.Summary)
	}
}
