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
	"github.com/Guizzs26/go-saga-outbox/internal/service"
	"github.com/Guizzs26/go-saga-outbox/pkg/infra"
	"github.com/Guizzs26/go-saga-outbox/pkg/metrics"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg, "relay")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		slog.Error("Fatal error connecting to Postgres", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := db.EnsureSchema(ctx, conn, db.OutboxSchema); err != nil {
		slog.Error("Fatal error preparing outbox schema", "error", err)
		os.Exit(1)
	}

	repo := db.NewOutboxRepository(conn)

	go infra.StartObservabilityServer(ctx, cfg.MetricsPort, "RELAY", logger)

	janitorDone := make(chan struct{})
	go runMaintenance(ctx, service.NewJanitor(repo, cfg.OutboxRetention, logger), cfg.MaintenanceInterval, janitorDone)

	slog.Info("🚀 Outbox Relay started", "pid", os.Getpid(), "batch_size", cfg.BatchSize)

	runMainLoop(ctx, repo, cfg, janitorDone)
}

func runMainLoop(ctx context.Context, repo *db.OutboxRepository, cfg *config.Config, janitorDone chan struct{}) {
	backoff := infra.NewReconnectBackoff()
	opts := service.RelayOptions{
		BatchSize:   cfg.BatchSize,
		MaxAttempts: cfg.RelayMaxAttempts,
		BackoffBase: cfg.RelayBackoffBase,
		BackoffMax:  cfg.RelayBackoffMax,
	}
	var rabbitmq *broker.RabbitMQClient
	var relay *service.Relay

	for {
		select {
		case <-ctx.Done():
			slog.Info("👋 Shutting down main loop...")
			if rabbitmq != nil {
				rabbitmq.Close()
			}
			<-janitorDone
			slog.Info("✅ Shutdown complete")
			return
		default:
			if rabbitmq == nil || !rabbitmq.IsHealthy() {
				metrics.HealthStatus.Set(0)
				if rabbitmq != nil {
					rabbitmq.Close()
				}

				newRabbit, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, cfg.Exchange, slog.Default())
				if err != nil {
					wait := backoff.Next()
					metrics.RabbitMQReconnections.Inc()
					slog.Error("RabbitMQ link failure, retrying", "wait", wait, "error", err)

					select {
					case <-time.After(wait):
						continue
					case <-ctx.Done():
						continue
					}
				}

				slog.Info("RabbitMQ link established 🚀")
				rabbitmq = newRabbit
				backoff.Reset()
				metrics.HealthStatus.Set(1)
				// a fresh relay per link so it never publishes on a dead channel
				relay = service.NewRelay(repo, rabbitmq, opts, slog.Default())
			}

			if _, err := relay.ProcessNextBatch(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				wait := backoff.Next()
				slog.Error("Batch processing error", "retry_in", wait, "error", err)

				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					continue
				}
			}

			backoff.Reset()

			select {
			case <-time.After(cfg.PollInterval):
			case <-ctx.Done():
			}
		}
	}
}

func runMaintenance(ctx context.Context, janitor *service.Janitor, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			slog.Info("🧹 Janitor: Starting outbox health checks")
			if err := janitor.RunOnce(ctx); err != nil {
				slog.Error("Janitor: maintenance failure", "error", err)
			}

		case <-ctx.Done():
			slog.Info("🛑 Janitor: Stopping maintenance goroutine")
			return
		}
	}
}
