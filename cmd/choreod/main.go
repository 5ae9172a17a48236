package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgefleet/choreo/internal/admin"
	"github.com/edgefleet/choreo/internal/engine"
	"github.com/edgefleet/choreo/internal/logging"
	"github.com/edgefleet/choreo/internal/metrics"
	"github.com/edgefleet/choreo/internal/remote"
	"github.com/edgefleet/choreo/internal/scheduler"
	"github.com/edgefleet/choreo/internal/store"
	"github.com/edgefleet/choreo/internal/validation"
)

func main() {
	if err := run(); err != nil {
		slog.Error("choreod failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("choreod starting",
		slog.String("db_path", cfg.DBPath),
		slog.String("plans_dir", cfg.PlansDir),
	)

	s, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Migrate(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	registry := engine.NewExecutorRegistry(s, logger)
	if err := registry.Refresh(ctx); err != nil {
		return err
	}

	worklog := store.NewWorklog(s, logger)
	sm := engine.NewStateMachine(s, logger)

	engCfg := engine.Config{
		MaxAttempts:    cfg.MaxAttempts,
		StepTimeout:    duration(cfg.StepTimeout, 60*time.Second),
		SessionTimeout: duration(cfg.SessionTimeout, 10*time.Minute),
		PollInterval:   duration(cfg.PollInterval, 2*time.Second),
		PoolSize:       cfg.PoolSize,
	}

	client := remote.NewHTTPClient(engCfg.StepTimeout)
	dispatcher := engine.NewDispatcher(registry, sm, client, worklog, m, logger, engCfg.StepTimeout)
	choreo := engine.New(s, registry, dispatcher, sm, worklog, m, logger, engCfg)

	validator, err := validation.NewPlanValidator()
	if err != nil {
		return err
	}
	adminSvc := admin.NewService(s, validator, choreo, registry, logger)

	if err := syncPlans(ctx, adminSvc, cfg.PlansDir, logger); err != nil {
		return err
	}

	// Resume sessions interrupted by the previous run before accepting new
	// scheduled work.
	if err := choreo.Recover(ctx); err != nil {
		return err
	}

	sched := scheduler.NewScheduler(s, choreo, logger)
	if err := sched.RecoverMissed(ctx); err != nil {
		logger.Warn("missed schedule recovery failed", slog.String("error", err.Error()))
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", slog.String("error", err.Error()))
			}
		}()
		logger.Info("metrics listening", slog.String("addr", cfg.MetricsAddr))
	}

	logger.Info("choreod ready")
	<-ctx.Done()
	logger.Info("shutting down")

	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler stop failed", slog.String("error", err.Error()))
	}
	choreo.Shutdown()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info("choreod stopped")
	return nil
}

// newLogger builds the daemon logger: JSON output with correlation attributes
// injected from the context.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
