package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/latticehq/minionrt/internal/httpapi"
	"github.com/latticehq/minionrt/internal/observability"
)

const shutdownGrace = 5 * time.Second

func newServeCommand(flags *cliFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the debug HTTP/WebSocket surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, meta, err := flags.loadConfig()
			if err != nil {
				return err
			}
			deps := buildRuntimeDeps(cfg)
			deps.logger.Info("minionctl: loaded config dataRoot=%s loadedAt=%s", cfg.DataRoot, meta.LoadedAt())

			listenAddr := addr
			if listenAddr == "" {
				listenAddr = cfg.HTTPAddr
			}

			var metrics *observability.Metrics
			if cfg.MetricsEnabled {
				metrics = observability.NewMetrics()
			}

			tracing, err := observability.NewTracing(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				_ = tracing.Shutdown(shutdownCtx)
			}()

			if metrics != nil {
				meterProvider, err := observability.NewMeterProvider(metrics.Registry())
				if err != nil {
					return fmt.Errorf("init meter provider: %w", err)
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
					defer cancel()
					_ = observability.ShutdownMeterProvider(shutdownCtx, meterProvider)
				}()
			}

			server := httpapi.New(deps.ledger, deps.driver.Manager(), listenAddr, httpapi.WithMetrics(metrics), httpapi.WithLogger(deps.logger))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps.logger.Info("minionctl: serving on %s", listenAddr)
			err = server.Serve(ctx)
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "override the HTTP listen address")
	return cmd
}
