// Package main wires the handoff engine and serves its HTTP API
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"handoff-engine/internal/adapters/cache"
	"handoff-engine/internal/adapters/handler"
	"handoff-engine/internal/adapters/llm"
	"handoff-engine/internal/adapters/realtime"
	"handoff-engine/internal/adapters/repository"
	"handoff-engine/internal/adapters/retrieval"
	"handoff-engine/internal/adapters/tools"
	"handoff-engine/internal/config"
	"handoff-engine/internal/core/ports"
	"handoff-engine/internal/core/services"
)

const version = "1.0.0"

func main() {
	// 1. Configuration and logging
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Store
	db, err := connectDB(ctx, cfg.DB)
	if err != nil {
		slog.Error("Cannot connect to database", "error", err, "driver", cfg.DB.Driver)
		os.Exit(1)
	}
	defer db.Close()

	repo, err := repository.NewSQLRepository(db, cfg.DB.Driver)
	if err != nil {
		slog.Error("Failed to create repository", "error", err)
		os.Exit(1)
	}
	if err := repo.Migrate(ctx); err != nil {
		slog.Error("Failed to migrate schema", "error", err)
		os.Exit(1)
	}

	// 3. Redis (optional)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = connectRedis(ctx, cfg.Redis, cfg.DB.MaxRetries, cfg.DB.RetryDelay)
		if err != nil {
			slog.Error("Cannot connect to Redis", "error", err, "addr", cfg.Redis.Addr)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	var configs ports.ConfigCache
	if cfg.Cache.Backend == config.CacheRedis {
		configs = repository.NewRedisConfigCache(rdb, repo, cfg.Cache.TTL)
	} else {
		configs = cache.NewMemory(repo, cfg.Cache.TTL, cfg.Cache.MaxSize)
	}
	slog.Info("Config cache ready", "backend", cfg.Cache.Backend, "ttl", cfg.Cache.TTL)

	// 4. Realtime fan-out
	hub := realtime.NewHub(realtime.DefaultProducer, originAllowed(cfg.App.AllowOrigins))
	go hub.Run(ctx)

	sinks := []ports.Notifier{hub}
	if cfg.AMQP.URL != "" {
		publisher, err := realtime.NewAMQPPublisher(ctx, realtime.AMQPOptions{
			URL:           cfg.AMQP.URL,
			Exchange:      cfg.AMQP.Exchange,
			Producer:      realtime.DefaultProducer,
			RetryAttempts: cfg.AMQP.RetryAttempts,
			Delay:         cfg.AMQP.RetryDelay,
		})
		if err != nil {
			slog.Warn("AMQP sink disabled", "error", err)
		} else {
			defer publisher.Close()
			sinks = append(sinks, publisher)
			slog.Info("AMQP sink ready", "exchange", cfg.AMQP.Exchange)
		}
	}
	notifier := realtime.NewFanOut(sinks...)

	// 5. Collaborators
	generator := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, float32(cfg.LLM.Temperature))

	var retriever ports.Retriever
	if cfg.Retrieval.URL != "" {
		retriever = retrieval.NewClient(cfg.Retrieval.URL, cfg.Retrieval.APIKey, cfg.Retrieval.Timeout)
	} else {
		slog.Warn("RETRIEVAL_URL not set, answering without knowledge")
	}

	var toolExecutor ports.ToolExecutor
	if cfg.Tools.RegistryPath != "" {
		registry, err := tools.Load(cfg.Tools.RegistryPath)
		if err != nil {
			slog.Error("Failed to load tool registry", "error", err, "path", cfg.Tools.RegistryPath)
			os.Exit(1)
		}
		toolExecutor = registry
		slog.Info("Tool registry loaded", "tools", registry.Len())
	}

	// 6. Core services
	runner := services.NewBackgroundRunner(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize)
	go runner.LogErrors(ctx)

	pause := services.NewAIPause()

	handoff := services.NewHandoffService(services.HandoffDeps{
		Conversations: repo,
		Messages:      repo,
		Projects:      repo,
		Agents:        repo,
		Configs:       configs,
		Notifier:      notifier,
		Runner:        runner,
	})

	pipeline := services.NewChatPipeline(services.PipelineDeps{
		Conversations:     repo,
		Messages:          repo,
		Configs:           configs,
		Handoff:           handoff,
		LeadCapture:       services.NewLeadCapture(repo, repo),
		Retriever:         retriever,
		Generator:         generator,
		Tools:             toolExecutor,
		Pause:             pause,
		Notifier:          notifier,
		Runner:            runner,
		MaxToolIterations: cfg.Pipeline.MaxToolIterations,
		GenerationTimeout: cfg.LLM.Timeout,
		HistoryLimit:      cfg.Pipeline.HistoryLimit,
	})

	watchdog := services.NewWatchdog(repo, notifier, runner, cfg.Watchdog.Interval, cfg.Watchdog.IdleTimeout)
	go watchdog.Run(ctx)

	// 7. HTTP
	checks := map[string]handler.HealthCheck{
		"database": db.PingContext,
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	router := handler.NewRouter(handler.RouterDeps{
		Handoff:      handler.NewHandoffHandler(handoff),
		Chat:         handler.NewChatHandler(pipeline),
		Agents:       handler.NewAgentHandler(handoff, hub),
		System:       handler.NewSystemHandler(pause, checks, version),
		Verifier:     handler.NewJWTVerifier([]byte(cfg.App.JWTSecret)),
		AllowOrigins: cfg.App.AllowOrigins,
		Admins:       cfg.App.AdminUserIDs,
	})
	if len(cfg.App.AdminUserIDs) == 0 {
		slog.Warn("No ADMIN_USER_IDS configured, admin routes are closed")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	runner.Close()
	slog.Info("Stopped")
}

func setupLogger(app config.AppConfig) {
	opts := &slog.HandlerOptions{Level: app.LogLevel}
	var h slog.Handler
	if app.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

// connectDB opens the store with retry logic; containers may still be starting
func connectDB(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for i := 1; i <= maxRetries; i++ {
		db, err := sql.Open(cfg.Driver, cfg.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("configure %s driver: %w", cfg.Driver, err)
		}
		if cfg.Driver == config.DriverSQLite {
			db.SetMaxOpenConns(1)
		} else {
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(10)
			db.SetConnMaxLifetime(5 * time.Minute)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			slog.Info("Database connection established", "driver", cfg.Driver, "attempt", i)
			return db, nil
		}

		lastErr = err
		db.Close()
		slog.Warn("Cannot ping database",
			"attempt", i,
			"max_retries", maxRetries,
			"error", err,
		)
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}

// connectRedis pings Redis with retry logic
func connectRedis(ctx context.Context, cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var err error
	for i := 1; i <= maxRetries; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			slog.Info("Redis connection established", "addr", cfg.Addr, "attempt", i)
			return rdb, nil
		}
		slog.Warn("Cannot ping Redis",
			"attempt", i,
			"max_retries", maxRetries,
			"error", err,
		)
		if i < maxRetries {
			select {
			case <-ctx.Done():
				rdb.Close()
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	rdb.Close()
	return nil, fmt.Errorf("after %d attempts: %w", maxRetries, err)
}

// originAllowed returns the websocket origin check for the CORS origins; nil allows all
func originAllowed(origins []string) func(string) bool {
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		return nil
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(origin string) bool { return allowed[origin] }
}
