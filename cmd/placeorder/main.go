// placeorder starts one saga against the orders database:
//
//	placeorder <product> <quantity> <price>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/Guizzs26/go-saga-outbox/internal/config"
	"github.com/Guizzs26/go-saga-outbox/internal/db"
	"github.com/Guizzs26/go-saga-outbox/internal/service"
	"github.com/Guizzs26/go-saga-outbox/pkg/infra"
)

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: placeorder <product> <quantity> <price>")
		os.Exit(2)
	}
	quantity, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintln(os.Stderr, "quantity must be an integer")
		os.Exit(2)
	}
	price, err := strconv.ParseInt(os.Args[3], 10, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "price must be an integer")
		os.Exit(2)
	}

	cfg := config.Load()
	logger := infra.SetupLogger(cfg, "placeorder")
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("Postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := db.EnsureSchema(ctx, conn, db.OutboxSchema, db.OrdersSchema); err != nil {
		logger.Error("Failed to prepare orders schema", "error", err)
		os.Exit(1)
	}

	orchestrator := service.NewOrchestrator(db.NewOrderStore(conn), service.OrchestratorOptions{}, logger)
	order, err := orchestrator.CreateOrder(ctx, os.Args[1], quantity, price)
	if err != nil {
		logger.Error("Order rejected", "error", err)
		os.Exit(1)
	}

	fmt.Println(order.ID)
}
