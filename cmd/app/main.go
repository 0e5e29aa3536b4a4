package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcIAFull/convergyzendy-sub000/internal/cache"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/config"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/convo"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/httpserver"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/logging"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/metrics"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/nlu"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/repo"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/wa"
	"github.com/MarcIAFull/convergyzendy-sub000/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting ordering-bot", "env", cfg.AppEnv, "restaurant_id", cfg.RestaurantID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	var repository repo.Repository
	if cfg.DatabaseURL != "" {
		repository, err = repo.NewPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	} else {
		repository, err = repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	}
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	if len(cfg.GeminiAPIKeys) > 0 {
		if err := repository.SyncProviderKeys(ctx, "gemini", cfg.GeminiAPIKeys); err != nil {
			return fmt.Errorf("sync gemini keys: %w", err)
		}
	}

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	nluClient := nlu.New(repository, logger, metricRegistry, nlu.Config{
		Model:    cfg.GeminiModel,
		Timeout:  cfg.GeminiTimeout,
		Cooldown: cfg.GeminiCooldown,
	})

	waClient, err := wa.New(ctx, wa.Config{
		StorePath:    cfg.WhatsAppStorePath,
		LogLevel:     cfg.WhatsAppLogLevel,
		RestaurantID: cfg.RestaurantID,
		Metrics:      metricRegistry,
	}, redisClient, logger)
	if err != nil {
		return fmt.Errorf("init whatsapp client: %w", err)
	}
	defer waClient.Close()

	assembler := convo.NewAssembler(repository, redisClient, logger)
	executor := convo.NewExecutor(repository, logger, metricRegistry)
	engine := convo.NewEngine(repository, assembler, executor, nluClient, waClient, redisClient, logger, metricRegistry)
	waClient.SetMessageProcessor(engine)

	var webhookHandler *httpserver.WebhookHandler
	if cfg.WebhookSecret != "" {
		webhookHandler = httpserver.NewWebhookHandler(logger, metricRegistry, cfg.WebhookSecret, engine)
	} else {
		logger.Info("inbound webhook disabled, WEBHOOK_SECRET not set")
	}

	waCtx, waCancel := context.WithCancel(ctx)
	defer waCancel()
	go func() {
		if err := waClient.Start(waCtx); err != nil {
			logger.Error("whatsapp client stopped", "error", err)
			stop()
		}
	}()

	handlers := httpserver.Handlers{}
	if webhookHandler != nil {
		handlers.InboundWebhook = webhookHandler
	}
	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, handlers, cfg.PublicBasePath)
	httpSrv.SetDependencies(httpserver.Dependencies{
		Repository: repository,
		Redis:      redisClient,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
