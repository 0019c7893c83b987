package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"election_ledger/pkg/node"
	"election_ledger/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Host the election ledger with periodic persistence",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			n, err := node.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating node: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			initCtx, initCancel := context.WithTimeout(ctx, cfg.Database.Timeout+shutdownTimeout)
			defer initCancel()
			if err := n.Start(initCtx); err != nil {
				return fmt.Errorf("starting node: %w", err)
			}

			srv := startMetricsServer(cfg.Metrics.ListenAddr, n, logger)

			waitForShutdown(ctx, logger)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()

			if srv != nil {
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("Metrics server shutdown failed", zap.Error(err))
				}
			}
			if err := n.Stop(shutdownCtx); err != nil {
				return fmt.Errorf("stopping node: %w", err)
			}
			return nil
		},
	}
}

// startMetricsServer exposes /metrics and /healthz. An empty address disables it.
func startMetricsServer(addr string, n *node.Node, logger *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !n.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	utils.SafeGo(logger, func() {
		logger.Info("Metrics endpoint listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	})
	return srv
}

func waitForShutdown(ctx context.Context, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}
}
