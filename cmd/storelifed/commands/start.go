package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AnzeLovse/resolwe/internal/app"
	"github.com/AnzeLovse/resolwe/internal/config"
	"github.com/AnzeLovse/resolwe/internal/logger"
	"github.com/AnzeLovse/resolwe/internal/telemetry"
	"github.com/AnzeLovse/resolwe/pkg/metrics"

	// Registers the Prometheus constructors for lifecycle.Metrics and
	// transfer.Metrics via their init() functions.
	_ "github.com/AnzeLovse/resolwe/pkg/metrics/prometheus"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the lifecycle manager and its metrics listener",
	Long: `Start runs the periodic lifecycle sweep on a ticker (see the
sweep.interval config option) until interrupted, alongside an HTTP listener
exposing Prometheus metrics when metrics.enabled is set.

Use "storelifed sweep --once" instead when an external scheduler (cron,
a Kubernetes CronJob) should drive sweeps rather than storelifed's own
ticker.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app.InitLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Store.Close()

	logger.Info("storelifed starting",
		"backends", a.Registry.Names(),
		"sweep_interval", cfg.Sweep.Interval,
		"metrics_enabled", cfg.Metrics.Enabled)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics listening", "address", cfg.Metrics.Address)
	}

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		a.Manager.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		signal.Stop(sigCh)
		logger.Info("shutdown signal received")
		a.Manager.Stop()
		cancel()
	case <-managerDone:
	}
	<-managerDone

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info("storelifed stopped")
	return nil
}
