package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/trinidad/trinidad/pkg/host"
	"github.com/trinidad/trinidad/pkg/lifecycle"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Deploy every module and serve until interrupted",
	Long: `Deploy every module found in the modules directory, watch their restart
files and expose Prometheus metrics.

Example:
  trinidad serve
  trinidad serve --modules-dir /srv/modules --metrics-addr :9091`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics listen address (empty disables)")
	serveCmd.Flags().Bool("monitor", true, "Reload modules when their restart file is touched")
	serveCmd.Flags().Bool("force-security-cleanup", false, "Reclaim security services by boundary identity when no runtime owns them")

	viper.BindPFlag("metrics.addr", serveCmd.Flags().Lookup("metrics-addr"))
	viper.BindPFlag("monitor.enabled", serveCmd.Flags().Lookup("monitor"))
	viper.BindPFlag("reclaim.force_security_cleanup", serveCmd.Flags().Lookup("force-security-cleanup"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := lifecycle.NewPrometheusMetricsCollector(cfg.Metrics.Namespace)
	h := host.New(cfg, host.WithLogger(logger), host.WithMetricsCollector(metrics))

	logger.Info("Starting trinidad",
		zap.String("version", version),
		zap.String("modules_dir", cfg.ModulesDir),
		zap.Bool("monitor", cfg.Monitor.Enabled))

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
		logger.Info("Metrics endpoint", zap.String("addr", cfg.Metrics.Addr))
	}

	if err := h.DeployAll(ctx); err != nil {
		logger.Error("Failed to deploy modules", zap.Error(err))
	}
	logger.Info("Modules deployed", zap.Strings("modules", h.Deployments()))

	monitorDone := make(chan error, 1)
	if cfg.Monitor.Enabled {
		mon, err := host.NewMonitor(h)
		if err != nil {
			return fmt.Errorf("failed to create monitor: %w", err)
		}
		if err := mon.Sync(); err != nil {
			logger.Warn("Failed to watch modules", zap.Error(err))
		}
		go func() { monitorDone <- mon.Run(ctx) }()
	} else {
		close(monitorDone)
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	if err := <-monitorDone; err != nil {
		logger.Warn("Monitor stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shutdown metrics server", zap.Error(err))
		}
	}
	return h.Shutdown(shutdownCtx)
}
