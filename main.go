package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rest-lifecycle/internal/config"
	"rest-lifecycle/internal/handler"
	"rest-lifecycle/internal/lifecycle"
	"rest-lifecycle/internal/metrics"
	"rest-lifecycle/internal/model"
	"rest-lifecycle/internal/policy"
	"rest-lifecycle/internal/queue"
	"rest-lifecycle/internal/worker"
)

// historyRetention is how long the API reports delivered requests.
const historyRetention = 10 * time.Minute

func main() {
	configPath := flag.String("config", os.Getenv("RESTLC_CONFIG"), "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Queue
	var q queue.Queue
	switch cfg.QueueBackend {
	case "redis":
		key := queue.InstanceKey(cfg.Redis.Key, cfg.InstanceID())
		logger.Info("using redis queue", slog.String("addr", cfg.Redis.Addr), slog.String("key", key))
		rq := queue.NewRedisQueue(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, key, logger)
		defer rq.Close()
		if n, err := rq.Purge(ctx); err != nil {
			logger.Warn("failed to purge jobs of a previous run", slog.String("error", err.Error()))
		} else if n > 0 {
			logger.Warn("discarded jobs of a previous run", slog.Int("count", n))
		}
		q = rq
	default:
		q = queue.NewMemoryQueue(cfg.QueueSize)
	}

	// 2. Transport
	collector := metrics.New()
	kinds := model.NewKinds()
	transport := worker.New(q, kinds,
		worker.WithPoolSize(cfg.Workers),
		worker.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}),
		worker.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		worker.WithSuccessRange(cfg.SuccessRange()),
		worker.WithLogger(logger),
		worker.WithMetrics(collector),
	)
	transport.Run(ctx)

	// 3. Lifecycle manager
	manager := lifecycle.New(transport,
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(collector),
		lifecycle.WithSuccessRange(cfg.SuccessRange()),
	)
	if err := manager.RegisterModule(lifecycle.NewModule("restlc", dispatchPolicy(cfg))); err != nil {
		logger.Error("failed to register module", slog.String("error", err.Error()))
		os.Exit(1)
	}
	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		_ = manager.Run(ctx)
	}()

	// 4. API
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	handler.NewRequestHandler(manager, kinds, historyRetention, logger).Register(e, promhttp.Handler())

	go func() {
		logger.Info("rest lifecycle service started", slog.String("addr", cfg.ListenAddr))
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline())
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", slog.String("error", err.Error()))
	}
	if err := transport.Stop(shutdownCtx); err != nil {
		logger.Warn("transport shutdown", slog.String("error", err.Error()))
	}
	<-managerDone
}

func dispatchPolicy(cfg config.Config) lifecycle.Policy {
	switch cfg.Policy {
	case "always":
		return policy.Always{}
	case "fingerprint":
		return policy.All(policy.ResourceState{}, policy.NewFingerprint(cfg.PolicyExpiry()))
	default:
		return policy.ResourceState{}
	}
}
