package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Luji7/llm-gateway/internal/audit"
	"github.com/Luji7/llm-gateway/internal/config"
	"github.com/Luji7/llm-gateway/internal/obs"
	"github.com/Luji7/llm-gateway/internal/server"
	"github.com/Luji7/llm-gateway/internal/stats"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to config YAML (default: $CONFIG_PATH)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	obs.InitLogging(cfg.Observability.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics are built before the Server so its HTTP routes can bind to
	// them, but the inflight gauge reads from the Server's semaphore.
	// srvBox is filled in once the Server exists; the callback below is
	// only ever invoked after that point by the periodic reader/scraper.
	var srvBox *server.Server
	inflight := func() int64 {
		if srvBox == nil {
			return 0
		}
		return srvBox.InflightCount()
	}

	metrics, metricsShutdown, err := setupMetrics(ctx, cfg, inflight)
	if err != nil {
		return fmt.Errorf("setup metrics: %w", err)
	}

	tracingShutdown, err := obs.InitTracing(ctx, cfg)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}

	var recorder *audit.Recorder
	if cfg.Observability.AuditLog.Enabled {
		recorder = audit.NewRecorder(cfg.Observability.AuditLog.Path, cfg.Observability.AuditLog.MaxFileBytes)
	}

	var usageStore *stats.Store
	if cfg.Observability.UsageStore.Enabled {
		usageStore, err = stats.Open(cfg.Observability.UsageStore.Path)
		if err != nil {
			return fmt.Errorf("open usage store: %w", err)
		}
		defer usageStore.Close()
	}

	srv := server.New(cfg, metrics, recorder, usageStore)
	srvBox = srv

	logrus.WithFields(logrus.Fields{
		"forward_mode": cfg.Anthropic.ForwardMode,
		"bind_addr":    cfg.Server.BindAddr,
	}).Info("starting gateway")

	runErr := srv.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsShutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("metrics shutdown error")
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("tracing shutdown error")
	}

	return runErr
}

func setupMetrics(ctx context.Context, cfg *config.Config, inflight func() int64) (obs.Metrics, func(context.Context) error, error) {
	if cfg.Observability.Exporters.Metrics == "prometheus" {
		m := obs.NewPrometheusMetrics(inflight)
		return m, m.Shutdown, nil
	}
	m, err := obs.NewOTelMetrics(ctx, cfg, inflight)
	if err != nil {
		return nil, nil, err
	}
	return m, m.Shutdown, nil
}

// loadConfig resolves the config file path from --config, falling back
// to CONFIG_PATH. One of the two is required; this mirrors config.FromEnv
// (and original_source/src/config.rs::Config::from_env), which exits the
// process rather than silently running on defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		return nil, fmt.Errorf("no config file: pass --config or set CONFIG_PATH")
	}
	return config.Load(path)
}
