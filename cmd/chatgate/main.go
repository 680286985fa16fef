// Chatgate fronts store chatbot widgets: it gates each message on the
// tenant's daily and monthly allowances, streams completions from the
// language-model service, and degrades to rule-based replies when that
// service is unavailable.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpmw "github.com/shopassist/chatgate/middleware/http"
	"github.com/shopassist/chatgate/pkg/api"
	"github.com/shopassist/chatgate/pkg/chat"
	"github.com/shopassist/chatgate/pkg/quota"
	zerologadapter "github.com/shopassist/chatgate/pkg/quota/logger/zerolog"
	prommetrics "github.com/shopassist/chatgate/pkg/quota/metrics/prometheus"
	"github.com/shopassist/chatgate/pkg/reset"
	"github.com/shopassist/chatgate/pkg/upstream"
	"github.com/shopassist/chatgate/storage/memory"
	"github.com/shopassist/chatgate/storage/postgres"
	redisstore "github.com/shopassist/chatgate/storage/redis"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		zerolog.New(os.Stderr).Error().Err(err).Msg("configuration error")
		os.Exit(1)
	}

	zl := newZerolog(cfg.Logging)
	logger := zerologadapter.NewLogger(zl)

	registry := prometheus.NewRegistry()
	metrics := prommetrics.NewMetrics(registry, "chatgate")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := newStore(ctx, cfg.Store)
	if err != nil {
		zl.Error().Err(err).Str("backend", cfg.Store.Backend).Msg("store initialization failed")
		os.Exit(1)
	}
	defer cleanup()

	engine, err := quota.NewEngine(store, quota.Config{
		Logger:          logger,
		Metrics:         metrics,
		DefaultTimezone: cfg.Store.DefaultTimezone,
	})
	if err != nil {
		zl.Error().Err(err).Msg("engine initialization failed")
		os.Exit(1)
	}

	scheduler, err := reset.NewScheduler(store, reset.Config{
		CronSpec:    cfg.Reset.CronSpec,
		Concurrency: cfg.Reset.Concurrency,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		zl.Error().Err(err).Msg("scheduler initialization failed")
		os.Exit(1)
	}
	if cfg.Reset.Enabled {
		if err := scheduler.Start(); err != nil {
			zl.Error().Err(err).Str("cron_spec", cfg.Reset.CronSpec).Msg("reset sweep start failed")
			os.Exit(1)
		}
		defer scheduler.Stop()
	}

	up := upstream.New(upstream.Config{
		BaseURL:      cfg.Upstream.BaseURL,
		APIKey:       cfg.Upstream.APIKey,
		Model:        cfg.Upstream.Model,
		Timeout:      cfg.Upstream.Timeout,
		MaxRetries:   cfg.Upstream.MaxRetries,
		RetryBackoff: cfg.Upstream.RetryBackoff,
		Logger:       logger,
		Metrics:      metrics,
	})
	if !up.Configured() {
		zl.Warn().Msg("no upstream api key configured, serving fallback replies only")
	}

	proxy, err := chat.NewProxy(engine, up, chat.Config{
		HistoryWindow:      cfg.Chat.HistoryWindow,
		Temperature:        cfg.Chat.Temperature,
		SkipChargeOnCancel: cfg.Chat.SkipChargeOnCancel,
		Logger:             logger,
		Metrics:            metrics,
	})
	if err != nil {
		zl.Error().Err(err).Msg("proxy initialization failed")
		os.Exit(1)
	}

	handler, err := api.NewHandler(api.Config{
		Proxy:     proxy,
		Engine:    engine,
		Scheduler: scheduler,
		Store:     store,
		Logger:    logger,
	})
	if err != nil {
		zl.Error().Err(err).Msg("handler initialization failed")
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Get("/healthz", handler.Health)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		r.Use(httpmw.Session(httpmw.SessionConfig{
			Resolve: httpmw.HeaderResolver(cfg.Server.TenantHeader, cfg.Server.SessionHeader),
		}))
		r.Post("/v1/chat", handler.Chat)
		r.Post("/v1/chat/stream", handler.ChatStream)
		r.Get("/v1/quota", handler.Quota)
		r.Post("/v1/admin/resets", handler.AdminResets)
	})

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: r,
		// Streaming responses rule out a write timeout; only the header
		// read is bounded.
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info().
			Str("addr", cfg.Server.ListenAddress).
			Str("backend", cfg.Store.Backend).
			Msg("chatgate listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		zl.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			zl.Error().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// newZerolog builds the process logger from configuration.
func newZerolog(cfg LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = zerolog.New(os.Stdout)
	if cfg.Pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return out.Level(level).With().Timestamp().Logger()
}

// newStore builds the configured subscription store. The returned cleanup
// closes any underlying connection pool.
func newStore(ctx context.Context, cfg StoreConfig) (quota.Store, func(), error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(), func() {}, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		storeCfg := redisstore.DefaultConfig()
		if cfg.Redis.KeyPrefix != "" {
			storeCfg.KeyPrefix = cfg.Redis.KeyPrefix
		}
		store, err := redisstore.New(client, storeCfg)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, func() { client.Close() }, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		store, err := postgres.New(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func() { pool.Close() }, nil

	default:
		return nil, nil, errors.New("unknown store backend " + cfg.Backend)
	}
}
