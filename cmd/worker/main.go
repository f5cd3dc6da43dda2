package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npjlab/pauta/internal/agenda/application/subscribers"
	"github.com/npjlab/pauta/internal/agenda/application/workers"
	"github.com/npjlab/pauta/internal/agenda/domain"
	"github.com/npjlab/pauta/internal/app"
	"github.com/npjlab/pauta/internal/shared/infrastructure/eventbus"
	"github.com/npjlab/pauta/pkg/config"
	"github.com/npjlab/pauta/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()
	logger.Info("starting pauta worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to wire application", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	provider := domain.ProviderType(cfg.CalendarProvider)

	// Event-driven path: react to item lifecycle events as they happen.
	subscriber := subscribers.NewItemSyncSubscriber(
		container.ScheduleRepo,
		container.Registry,
		container.Publisher,
		provider,
		logger,
	)

	consumerDone := make(chan struct{})
	consumer, err := eventbus.NewRabbitMQConsumer(cfg.RabbitMQURL, eventbus.DefaultConsumerQueue, eventbus.NewConsumerRegistry(logger), logger)
	if err != nil {
		if cfg.IsProduction() {
			logger.Error("failed to connect event consumer", "error", err)
			os.Exit(1)
		}
		logger.Warn("event consumer unavailable, relying on interval sync only", "error", err)
		close(consumerDone)
	} else {
		consumer.RegisterConsumer(subscriber)
		go func() {
			defer close(consumerDone)
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event consumer stopped", "error", err)
			}
		}()
		defer func() { _ = consumer.Close() }()
	}

	// Interval path: sweep pending items the event path missed and send
	// due reminders.
	worker := workers.NewSyncWorker(
		container.ScheduleRepo,
		container.Registry,
		container.Notifier,
		container.Publisher,
		workers.SyncWorkerConfig{
			Interval:      cfg.SyncInterval,
			MaxSyncErrors: cfg.SyncMaxErrors,
			BatchSize:     cfg.SyncBatchSize,
			MaxParallel:   cfg.SyncMaxParallel,
			StaleClaimAge: workers.DefaultStaleClaimAge,
			Provider:      provider,
		},
		logger,
	)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sync worker stopped", "error", err)
		}
	}()

	// Health endpoint for liveness probes.
	healthServer := &http.Server{
		Addr:              healthAddr(),
		Handler:           container.Health.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("health endpoint listening", "addr", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthServer.Shutdown(shutdownCtx)

	worker.Stop()
	<-workerDone
	<-consumerDone

	logger.Info("worker stopped")
}

func healthAddr() string {
	if addr := os.Getenv("HEALTH_ADDR"); addr != "" {
		return addr
	}
	return ":8090"
}
