package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/removalhq/broker-protection-backend/internal/domain/broker"
	"github.com/removalhq/broker-protection-backend/internal/infrastructure/config"
	"github.com/removalhq/broker-protection-backend/internal/infrastructure/database"
	"github.com/removalhq/broker-protection-backend/internal/infrastructure/pixel"
	"github.com/removalhq/broker-protection-backend/internal/infrastructure/repository"
	"github.com/removalhq/broker-protection-backend/internal/infrastructure/state"
	"github.com/removalhq/broker-protection-backend/internal/infrastructure/telemetry"
	"github.com/removalhq/broker-protection-backend/internal/metrics"
	"github.com/removalhq/broker-protection-backend/internal/service/stalledops"
	"github.com/removalhq/broker-protection-backend/internal/service/weeklyreport"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(ctx, cfg); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting broker protection backend",
		"version", cfg.Version,
		"environment", cfg.Environment)

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build infrastructure logger: %w", err)
	}
	defer zapLogger.Sync()

	otelProvider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    "broker-protection-backend",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ExportTimeout:  cfg.Telemetry.ExportTimeout,
		BatchTimeout:   5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	pool, err := database.NewPool(ctx, &cfg.Database, zapLogger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	stateStore, err := state.NewRedisStateStore(ctx, &cfg.Redis, zapLogger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer stateStore.Close()

	registry, err := metrics.NewRegistry("broker-protection-backend")
	if err != nil {
		return fmt.Errorf("failed to create metrics registry: %w", err)
	}

	reportService := weeklyreport.New(
		repository.NewBrokerRepository(pool, zapLogger),
		repository.NewTaskEventRepository(pool, zapLogger),
		stateStore,
		pixel.NewClient(&cfg.Pixel, zapLogger),
		stalledops.NewCalculator(stalledops.ScanConfig(cfg.Reporting.ScanTimeout)),
		stalledops.NewCalculator(stalledops.OptOutConfig(cfg.Reporting.OptOutTimeout)),
		broker.RealClock{},
		registry,
		slog.Default(),
	)

	metricsServer := startMetricsServer(cfg.Metrics.Port)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}()

	// One immediate evaluation, then on the configured interval. The gate
	// inside the service keeps the actual cadence at one report per 7
	// calendar days.
	if err := reportService.RunIfDue(ctx); err != nil {
		slog.Error("weekly report check failed", "error", err)
		recordReportCheck(false)
	} else {
		recordReportCheck(true)
	}

	ticker := time.NewTicker(cfg.Reporting.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down gracefully")
			return nil
		case <-ticker.C:
			if err := reportService.RunIfDue(ctx); err != nil {
				slog.Error("weekly report check failed", "error", err)
				recordReportCheck(false)
			} else {
				recordReportCheck(true)
			}
		}
	}
}

func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	return server
}
