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
	logger := infra.SetupLogger(cfg, "payment")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("CRITICAL: Postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := db.EnsureSchema(ctx, conn, db.OutboxSchema, db.PaymentsSchema); err != nil {
		logger.Error("CRITICAL: Failed to prepare payments schema", "error", err)
		os.Exit(1)
	}

	handler := service.NewPaymentService(db.NewPaymentStore(conn), cfg.PaymentThreshold, logger)

	go infra.StartObservabilityServer(ctx, cfg.MetricsPort, "PAYMENT", logger)

	logger.Info("🔥 Payment participant initializing...", "threshold", cfg.PaymentThreshold)

	broker.Serve(ctx, broker.ConsumerOptions{
		URL:          cfg.RabbitMQURL,
		Exchange:     cfg.Exchange,
		DLX:          cfg.DLXExchange,
		Topic:        models.TopicPaymentRequest,
		RequeueDelay: cfg.RequeueDelay,
	}, handler, logger)

	logger.Info("✅ Payment participant shut down successfully")
}
