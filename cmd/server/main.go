// Package main is the entrypoint for the intelligence API server and its
// worker pool.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nekazari/intelligence/internal/api"
	"github.com/nekazari/intelligence/internal/api/handler"
	mw "github.com/nekazari/intelligence/internal/api/middleware"
	"github.com/nekazari/intelligence/internal/api/response"
	"github.com/nekazari/intelligence/internal/config"
	"github.com/nekazari/intelligence/internal/intake"
	"github.com/nekazari/intelligence/internal/orion"
	"github.com/nekazari/intelligence/internal/plugin"
	"github.com/nekazari/intelligence/internal/plugin/trend"
	"github.com/nekazari/intelligence/internal/queue"
	"github.com/nekazari/intelligence/internal/store"
	"github.com/nekazari/intelligence/internal/worker"
	"github.com/nekazari/intelligence/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := run(level); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(level *slog.LevelVar) error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level.Set(logLevel(cfg.Server.LogLevel))
	slog.Info("config loaded", "env", cfg.Server.Env, "workers", cfg.Worker.Count)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Redis (job store + queue share one client)
	client, err := store.NewClient(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis client: %w", err)
	}
	defer client.Close()

	jobStore := store.NewRedisStore(client, cfg.Job.TTL)
	if err := jobStore.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	jobQueue := queue.NewRedisQueue(client, cfg.Queue.VisibilityTimeout)

	// 3. Register plugins
	registry := plugin.NewRegistry()
	if err := registry.Register(trend.NewPredictor()); err != nil {
		return fmt.Errorf("register plugins: %w", err)
	}
	slog.Info("plugins registered", "plugins", registry.Names())

	// 4. Broker publisher
	publisher := orion.NewClient(cfg.Orion.URL, cfg.Orion.ContextURL,
		cfg.Orion.Timeout, cfg.Orion.MaxRetries)

	// 5. Intake service and worker pool
	svc := intake.NewService(jobStore, jobQueue, registry)
	pool := worker.NewPool(jobStore, jobQueue, registry, publisher, worker.Config{
		Workers:     cfg.Worker.Count,
		PollTimeout: cfg.Queue.PollTimeout,
		ExecTimeout: cfg.Worker.PluginTimeout,
	})

	// 6. Visibility-timeout janitor
	janitor := queue.NewJanitor(jobQueue, cfg.Queue.ReapInterval)
	if err := janitor.Start(ctx); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer janitor.Stop()

	// 7. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(jobStore, cfg.Server.RateLimitPerMin),

		HealthHandler:      healthHandler(jobStore, jobQueue),
		AnalyzeHandler:     handler.NewSubmitHandler(svc, models.JobKindAnalyze),
		PredictHandler:     handler.NewSubmitHandler(svc, models.JobKindPredict),
		PollJobHandler:     handler.NewPollJobHandler(svc),
		CancelJobHandler:   handler.NewCancelJobHandler(svc),
		ListPluginsHandler: handler.NewListPluginsHandler(svc),
		WebhookHandler:     handler.NewWebhookHandler(svc),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server and worker pool
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return pool.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutdown signal received, draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks Redis connectivity and reports queue depth.
func healthHandler(s store.Store, q queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"redis": "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["redis"] = "degraded"
		}

		depth, err := q.Depth(r.Context())
		if err != nil {
			checks["redis"] = "degraded"
		}

		if checks["redis"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":      "ok",
			"services":    checks,
			"queue_depth": depth,
		})
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
