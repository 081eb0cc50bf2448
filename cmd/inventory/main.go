package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Guizzs26/go-saga-outbox/internal/broker"
	"github.com/Guizzs26/go-saga-outbox/internal/config"
	"github.com/Guizzs26/go-saga-outbox/internal/db"
	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/Guizzs26/go-saga-outbox/internal/service"
	"github.com/Guizzs26/go-saga-outbox/pkg/infra"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg, "inventory")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("CRITICAL: Postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := db.EnsureSchema(ctx, conn, db.OutboxSchema, db.InventorySchema); err != nil {
		logger.Error("CRITICAL: Failed to prepare inventory schema", "error", err)
		os.Exit(1)
	}

	handler := service.NewInventoryService(db.NewInventoryStore(conn), logger)
	if err := handler.Seed(ctx, cfg.InventorySeed); err != nil {
		logger.Error("CRITICAL: Failed to seed inventory", "error", err)
		os.Exit(1)
	}

	go infra.StartObservabilityServer(ctx, cfg.MetricsPort, "INVENTORY", logger)

	logger.Info("🔥 Inventory participant initializing...")

	broker.Serve(ctx, broker.ConsumerOptions{
		URL:          cfg.RabbitMQURL,
		Exchange:     cfg.Exchange,
		DLX:          cfg.DLXExchange,
		Topic:        models.TopicInventoryRequest,
		RequeueDelay: cfg.RequeueDelay,
	}, handler, logger)

	logger.Info("✅ Inventory participant shut down successfully")
}
