package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/go-saga-outbox/internal/broker"
	"github.com/Guizzs26/go-saga-outbox/internal/config"
	"github.com/Guizzs26/go-saga-outbox/internal/db"
	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/Guizzs26/go-saga-outbox/internal/service"
	"github.com/Guizzs26/go-saga-outbox/pkg/infra"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg, "orchestrator")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("CRITICAL: Postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := db.EnsureSchema(ctx, conn, db.OutboxSchema, db.OrdersSchema); err != nil {
		logger.Error("CRITICAL: Failed to prepare orders schema", "error", err)
		os.Exit(1)
	}

	orchestrator := service.NewOrchestrator(db.NewOrderStore(conn), service.OrchestratorOptions{
		SagaTimeout: cfg.SagaTimeout,
		ReaperBatch: cfg.ReaperBatch,
	}, logger)

	go infra.StartObservabilityServer(ctx, cfg.MetricsPort, "ORCHESTRATOR", logger)

	reaperDone := make(chan struct{})
	go runReaper(ctx, orchestrator, cfg.ReaperInterval, reaperDone)

	logger.Info("🔥 Orchestrator initializing...",
		"saga_timeout", cfg.SagaTimeout,
		"reaper_interval", cfg.ReaperInterval,
	)

	broker.Serve(ctx, broker.ConsumerOptions{
		URL:          cfg.RabbitMQURL,
		Exchange:     cfg.Exchange,
		DLX:          cfg.DLXExchange,
		Topic:        models.TopicOrderResponse,
		RequeueDelay: cfg.RequeueDelay,
	}, orchestrator, logger)

	<-reaperDone
	logger.Info("✅ Orchestrator shut down successfully")
}

func runReaper(ctx context.Context, o *service.Orchestrator, interval time.Duration, done chan struct{}) {
	defer close(done)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reaped, err := o.ReapStalled(ctx)
			if err != nil {
				slog.Error("Reaper: failed to compensate stalled sagas", "error", err)
			} else if reaped > 0 {
				slog.Warn("Reaper: stalled sagas sent to compensation", "count", reaped)
			}

		case <-ctx.Done():
			slog.Info("🛑 Reaper: Stopping")
			return
		}
	}
}
