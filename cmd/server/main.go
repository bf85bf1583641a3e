package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"agentdesk/internal/catalog"
	"agentdesk/internal/config"
	"agentdesk/internal/db"
	"agentdesk/internal/events"
	"agentdesk/internal/fulfillment"
	"agentdesk/internal/handlers"
	"agentdesk/internal/logging"
	"agentdesk/internal/metrics"
	"agentdesk/internal/middleware"
	"agentdesk/internal/reconcile"
	"agentdesk/internal/services"
	"agentdesk/internal/store"
	"agentdesk/internal/validator"
	"agentdesk/internal/websocket"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := logging.Setup(cfg.AppEnv, cfg.LogLevel)

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	catalogue, err := catalog.LoadFile(cfg.CatalogFile)
	if err != nil {
		logger.Error("failed to load service catalog", "path", cfg.CatalogFile, "error", err)
		os.Exit(1)
	}

	users := store.NewUserStore(database)
	wallets := store.NewWalletStore(database)
	ledger := store.NewLedgerStore(database)
	requests := store.NewRequestStore(database)
	changes := store.NewAccountChangeStore(database)
	admins := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database, db.Options{MaxAttempts: cfg.TxMaxAttempts, LockTimeout: cfg.TxLockTimeout})

	recorder := metrics.New()
	hub := websocket.NewHub()
	bus := events.NewBus(cfg.EventBufferSize, logger, events.NewLogSink(logger), hub)
	bus.SetObserver(recorder)
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		rabbit, err := events.NewRabbitSink(cfg.RabbitMQURL, cfg.EventsExchange)
		if err != nil {
			logger.Warn("rabbitmq unavailable; events will not be forwarded", "error", err)
		} else {
			defer rabbit.Close()
			bus.AddSink(rabbit)
			logger.Info("rabbitmq connected", "exchange", cfg.EventsExchange)
		}
	}

	forms := validator.DefaultForms()
	commission := services.NewCommissionResolver(users)
	settlement := services.NewSettlementEngine(txRunner, wallets, ledger, requests, audit, catalogue, forms, commission)
	settlement.SetEvents(bus)
	settlement.SetMetrics(recorder)
	settlement.SetLogger(logger)

	lifecycle := services.NewLifecycleController(txRunner, requests, audit, forms, settlement)
	lifecycle.SetEvents(bus)
	lifecycle.SetMetrics(recorder)
	lifecycle.SetLogger(logger)

	accountChanges := services.NewAccountChangeService(txRunner, changes, users, audit)
	accountChanges.SetEvents(bus)
	accountChanges.SetLogger(logger)

	adminService := services.NewAdminService(txRunner, users, wallets, admins, audit)
	adminService.SetLogger(logger)

	runner := fulfillment.NewRunner(lifecycle, fulfillment.NewHTTPRegistry(catalogue.Services(), cfg.FulfillmentTimeout),
		cfg.FulfillmentWorkers, cfg.FulfillmentWorkers*16, cfg.FulfillmentTimeout)
	runner.SetMetrics(recorder)
	runner.SetLogger(logger)
	settlement.SetDispatcher(runner)

	reconciler := reconcile.New(wallets, recorder, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.BootstrapAdmin.Username != "" {
		created, err := adminService.Bootstrap(ctx, cfg.BootstrapAdmin.Username, cfg.BootstrapAdmin.Email, cfg.BootstrapAdmin.Password)
		if err != nil {
			logger.Error("failed to bootstrap admin", "error", err)
			os.Exit(1)
		}
		if created {
			logger.Info("bootstrap super admin created", "username", cfg.BootstrapAdmin.Username)
		}
	}

	var limiter middleware.Limiter
	if redisClient := connectRedis(ctx, cfg.RedisURL, logger); redisClient != nil {
		defer redisClient.Close()
		limiter = middleware.NewRedisLimiter(redisClient, "", time.Minute)
	}

	// The bus and runner stop only after the HTTP drain.
	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		bus.Run(backgroundCtx)
	}()
	go func() {
		defer background.Done()
		runner.Run(backgroundCtx)
	}()

	scheduler, err := reconciler.Schedule(cfg.ReconcileSchedule)
	if err != nil {
		logger.Error("invalid reconcile schedule", "schedule", cfg.ReconcileSchedule, "error", err)
		os.Exit(1)
	}

	handler := handlers.New(cfg, handlers.Deps{
		Settlement: settlement,
		Lifecycle:  lifecycle,
		Changes:    accountChanges,
		Admin:      adminService,
		Catalog:    catalogue,
		Users:      users,
		Audit:      audit,
		Reconciler: reconciler,
		Admins:     admins,
		Hub:        hub,
		Limiter:    limiter,
		Metrics:    recorder.Handler(),
		Logger:     logger,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("agentdesk API listening", "addr", server.Addr, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	drain(server, 10*time.Second, func() { <-scheduler.Stop().Done() }, cancelBackground, &background, logger)
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// drain shuts srv down and stops the scheduler before cancelling the
// background workers, then waits for them to return.
func drain(srv shutdowner, timeout time.Duration, stopScheduler func(), cancelBackground context.CancelFunc, background *sync.WaitGroup, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	stopScheduler()
	cancelBackground()
	background.Wait()
}

// connectRedis returns nil when REDIS_URL is unset or unreachable, which
// disables submit rate limiting.
func connectRedis(ctx context.Context, redisURL string, logger *slog.Logger) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		logger.Info("redis url missing; submit rate limiting disabled")
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; submit rate limiting disabled", "error", err)
		return nil
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; submit rate limiting disabled", "error", err)
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
