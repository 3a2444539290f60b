package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/localrivet/datadumper/internal/backup"
	"github.com/localrivet/datadumper/internal/mcp"
	"github.com/localrivet/datadumper/internal/mcp/mcpauth"
	"github.com/localrivet/datadumper/internal/mcp/tools"
)

func daemonCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled dumps with health, metrics and MCP endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			engine := dumpEngine()
			scheduler := backup.NewScheduler(engine, cfg.Schedule, logger)
			if err := scheduler.Start(ctx); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			if baseURL == "" {
				baseURL = fmt.Sprintf("http://localhost:%d", cfg.Monitoring.HealthPort)
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/health", healthHandler(scheduler))

			mcpHandler := mcp.NewHandler(&tools.ToolContext{
				Config:   cfg,
				Storage:  store,
				Dumps:    engine,
				Restores: restoreEngine(),
				Logger:   logger,
			}, mcpauth.FromEnv(), baseURL, logger)
			if mcpHandler.Enabled() {
				mcpHandler.RegisterRoutes(mux)
				logger.Info("MCP endpoint enabled", "path", mcp.Path)
			}

			healthServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Monitoring.HealthPort),
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			metricsServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Monitoring.MetricsPort),
				Handler:           m.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			eg, egctx := errgroup.WithContext(ctx)
			for name, srv := range map[string]*http.Server{"health": healthServer, "metrics": metricsServer} {
				eg.Go(func() error {
					logger.Info(name+" server starting", "addr", srv.Addr)
					if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("%s server: %w", name, err)
					}
					return nil
				})
				eg.Go(func() error {
					<-egctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}
			eg.Go(func() error {
				alertMonitor(egctx, engine, time.Hour)
				return nil
			})

			<-egctx.Done()
			logger.Info("shutting down")
			scheduler.Stop()

			return eg.Wait()
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "public origin of the health server, used in MCP discovery")
	return cmd
}

func healthHandler(scheduler *backup.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine := scheduler.Engine()
		lastRun := engine.LastRun()
		lastErr := engine.LastError()
		nextRun := scheduler.NextRun()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if lastErr != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "status: unhealthy")
		} else {
			fmt.Fprintln(w, "status: healthy")
		}

		if engine.Running() {
			fmt.Fprintln(w, "running: true")
		}
		if !lastRun.IsZero() {
			fmt.Fprintf(w, "last_dump: %s\n", lastRun.Format(time.RFC3339))
		}
		if lastErr != nil {
			fmt.Fprintf(w, "last_error: %s\n", lastErr)
		}
		if !nextRun.IsZero() {
			fmt.Fprintf(w, "next_dump: %s\n", nextRun.Format(time.RFC3339))
		}
	}
}

// alertMonitor refreshes the storage gauges and raises an alert when no
// dump has landed within the configured window.
func alertMonitor(ctx context.Context, engine *backup.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dumps, err := engine.ListDumps(ctx)
			if err != nil {
				logger.Warn("failed to list dumps", "error", err)
				continue
			}

			s := summarize(dumps, cfg, time.Now())
			m.SetStorageUsed(s.TotalBytes, s.Dumps)

			if s.State != "healthy" {
				msg := fmt.Sprintf("No dump in %d hours", cfg.Monitoring.AlertAfterHours)
				if !s.Last.IsZero() {
					msg += ". Last dump: " + s.Last.Format(time.RFC3339)
				}
				notifier.NotifyAlert(ctx, msg)
			}
		}
	}
}
