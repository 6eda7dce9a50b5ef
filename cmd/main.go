/**
 * @description
 * This is the main entry point for the billing service.
 * It initializes and wires together all the components of the application:
 * configuration, database connection, payment gateway client, event
 * publisher, renewal scheduler, and the HTTP router. Finally, it starts the
 * HTTP server to listen for incoming requests.
 */
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/expertcoachinghub/billing-service/internal/api"
	"github.com/expertcoachinghub/billing-service/internal/app"
	"github.com/expertcoachinghub/billing-service/internal/config"
	"github.com/expertcoachinghub/billing-service/internal/store"
	"github.com/expertcoachinghub/billing-service/pkg/paychangu"
	"github.com/expertcoachinghub/billing-service/pkg/rabbitmq"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	// Load application configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// IMPORTANT: Disable prepared statements to work with PgBouncer transaction pooling
	// Use simple protocol to avoid statement cache errors (SQLSTATE 42P05)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Event publisher. A dead broker must not prevent the service from
	// starting; billing events are best-effort.
	var publisher rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("rabbitmq unavailable, events will be logged only", "error", err)
			publisher = &rabbitmq.EventProducerFallback{Logger: logger}
		} else {
			publisher = producer
		}
	} else {
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	}
	defer publisher.Close()

	// Optional Redis run lock for the renewal batch. Without Redis the
	// atomic transaction claim still protects against double charges.
	var runLock app.RunLock
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid REDIS_URL, renewal run lock disabled", "error", err)
		} else {
			redisClient := redis.NewClient(opts)
			defer redisClient.Close()
			runLock = app.NewRedisRunLock(redisClient, time.Duration(cfg.RenewalLockTTLSeconds)*time.Second, logger)
		}
	}

	// Initialize application layers
	repository := store.NewPostgresRepository(dbpool)
	gateway := paychangu.NewClient(cfg.PayChanguAPIURL, cfg.PayChanguSecretKey)
	notifier := app.NewBillingNotifier(repository, publisher, cfg.AlertWebhookURL, logger)
	service := app.NewService(repository, gateway, notifier, runLock, logger, *cfg)
	handler := api.NewHandler(service, logger)
	router := api.NewRouter(handler, *cfg)

	// Start the renewal scheduler in the background
	scheduler := app.NewScheduler(service, logger, *cfg)
	scheduler.Start()

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	// Stop the scheduler and wait for any in-flight renewal run
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
