/**
 * @description
 * This is the main entry point for the ledger-service. It loads configuration,
 * opens the store, connects the message broker and Redis, wires the settlement
 * engine into the HTTP API, the funds consumer and the maintenance scheduler,
 * and shuts everything down on SIGINT/SIGTERM.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Purchase rate limiting.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - internal/api, internal/app, internal/config, internal/store, pkg/rabbitmq.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/api"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/app"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/config"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/store"
	rmrabbit "github.com/olasores/Zariel-Influncer-App-sub001/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		logger.Warn("internal api key not configured; internal routes will reject every request", "env", "INTERNAL_API_KEY")
	}
	logger.Info("starting ledger-service", "port", cfg.ServerPort, "store", cfg.StoreDriver)

	repository, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// The producer is optional at startup; purchases still settle without it.
	var producer rmrabbit.Publisher
	if eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.EventsExchange); err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		producer = eventProducer
		logger.Info("rabbitmq producer connected", "exchange", cfg.EventsExchange)
	}
	defer producer.Close()

	engine := app.NewEngine(repository, logger)
	hooks := app.NewEventHooks(producer)
	ledgerService := app.NewService(repository, engine, logger)
	settlementService := app.NewSettlementService(repository, engine, hooks, hooks, logger)
	adminService := app.NewAdminService(repository, engine, app.NewClaimsAuthorizer(cfg.AdminUserIDs), logger)

	handlers := api.NewLedgerHandlers(ledgerService, settlementService, adminService, logger)
	if redisClient := openRedis(cfg, logger); redisClient != nil {
		defer redisClient.Close()
		handlers.WithPurchaseRateLimit(
			app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.PurchaseRateLimitPerMinute,
		)
	}

	// Payment confirmations arrive from the gateway as funds-received events.
	fundsConsumer := app.NewFundsReceivedConsumer(engine, logger)
	if rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL); err != nil {
		logger.Warn("rabbitmq consumer unavailable; payment confirmations will not be processed", "error", err)
	} else {
		defer rabbitConsumer.Close()
		bindings := map[string]func([]byte) bool{
			rmrabbit.RoutingKeyFundsReceived: fundsConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.FundsEventQueue, bindings); err != nil {
			logger.Error("funds consumer start failed", "error", err)
			os.Exit(1)
		}
		logger.Info("funds consumer started", "queue", cfg.FundsEventQueue)
	}

	scheduler := app.NewScheduler(app.NewJobs(repository, logger, cfg), logger, cfg)
	scheduler.Start()

	router := api.LedgerRoutes(handlers, api.RouterConfig{
		Auth: api.AuthConfig{
			JWKSURL:  cfg.ClerkJWKSURL,
			Audience: cfg.ClerkAudience,
			Issuer:   cfg.ClerkIssuer,
		},
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		logger.Warn("scheduler jobs still running at shutdown")
	}

	logger.Info("shutdown complete")
}

// openStore returns the configured repository and a function releasing its resources.
func openStore(cfg config.Config, logger *slog.Logger) (store.Repository, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory store; ledger state is lost on restart")
		return store.NewMemoryRepository(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database url parse failed: %w", err)
	}
	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MinConns = cfg.DBMinConns
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("database connected", "max_conns", cfg.DBMaxConns, "min_conns", cfg.DBMinConns)

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, dbpool); err != nil {
			dbpool.Close()
			return nil, nil, fmt.Errorf("schema migration failed: %w", err)
		}
		logger.Info("schema migrations applied")
	}

	return store.NewPostgresRepository(dbpool), dbpool.Close, nil
}

// openRedis connects the purchase rate limiter backend. Limiting is disabled
// when Redis is not configured or unreachable.
func openRedis(cfg config.Config, logger *slog.Logger) *redis.Client {
	if cfg.PurchaseRateLimitPerMinute <= 0 {
		return nil
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Warn("redis url missing; purchase rate limiting disabled", "env", "REDIS_URL")
		return nil
	}

	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; purchase rate limiting disabled", "error", err)
		return nil
	}
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed; purchase rate limiting disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
