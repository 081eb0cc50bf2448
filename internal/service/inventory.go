package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/Guizzs26/go-saga-outbox/internal/ports"
	"github.com/Guizzs26/go-saga-outbox/pkg/metrics"
	"golang.org/x/text/unicode/norm"
)

// InventoryService is the inventory participant: it decrements stock when enough is available
type InventoryService struct {
	store  ports.InventoryStore
	logger *slog.Logger
}

func NewInventoryService(store ports.InventoryStore, logger *slog.Logger) *InventoryService {
	return &InventoryService{store: store, logger: logger}
}

// ProductKey is the form product names are stored and looked up in.
// Composed and decomposed spellings of the same name must hit the same row.
func ProductKey(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Handle consumes inventory.request deliveries
func (s *InventoryService) Handle(ctx context.Context, env models.Envelope) error {
	if env.EventType != models.InventoryRequest {
		metrics.ParticipantOutcomes.WithLabelValues("inventory", "ignored").Inc()
		s.logger.Warn("Unknown inventory event, ignoring", "order_id", env.OrderID, "event_type", env.EventType)
		return nil
	}
	return s.reserve(ctx, env)
}

func (s *InventoryService) reserve(ctx context.Context, env models.Envelope) error {
	product := ProductKey(env.ProductName)
	l := s.logger.With("order_id", env.OrderID, "product", product, "quantity", env.Quantity)

	var stock int
	var reserved bool
	err := s.store.WithinTx(ctx, func(tx ports.InventoryTx) error {
		var found bool
		var err error
		// The row lock makes check-then-act atomic against concurrent orders for the product
		stock, found, err = tx.LockStock(ctx, product)
		if err != nil {
			return err
		}
		reserved = found && stock >= env.Quantity

		reservation := models.Reservation{
			OrderID:     env.OrderID,
			ProductName: product,
			Quantity:    env.Quantity,
			Status:      models.ReservationRejected,
		}
		if reserved {
			reservation.Status = models.ReservationReserved
		}

		inserted, err := tx.InsertReservation(ctx, &reservation)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateRequest
		}

		reply := env.Reply(models.InventoryFailed)
		if reserved {
			if err := tx.DecrementStock(ctx, product, env.Quantity); err != nil {
				return err
			}
			reply = env.Reply(models.InventorySuccess)
		}
		return tx.Enqueue(ctx, models.TopicOrderResponse, reply.Key(), reply)
	})

	switch {
	case errors.Is(err, errDuplicateRequest):
		metrics.ParticipantOutcomes.WithLabelValues("inventory", "duplicate").Inc()
		l.Warn("Stock already decided for order, skipping redelivery")
		return nil
	case err != nil:
		return fmt.Errorf("reserve stock for order %d: %w", env.OrderID, err)
	}

	if reserved {
		metrics.ParticipantOutcomes.WithLabelValues("inventory", "success").Inc()
		l.Info("✅ Stock decremented", "remaining", stock-env.Quantity)
	} else {
		metrics.ParticipantOutcomes.WithLabelValues("inventory", "failed").Inc()
		l.Info("❌ Insufficient stock", "available", stock)
	}
	return nil
}

// Seed creates missing products with their initial stock. Products that
// already exist are left alone so a restart never resets live counters.
func (s *InventoryService) Seed(ctx context.Context, levels map[string]int) error {
	if len(levels) == 0 {
		return nil
	}
	created := 0
	err := s.store.WithinTx(ctx, func(tx ports.InventoryTx) error {
		for name, stock := range levels {
			ok, err := tx.SeedStock(ctx, ProductKey(name), stock)
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed inventory: %w", err)
	}
	s.logger.Info("📦 Inventory seeded", "products", len(levels), "created", created)
	return nil
}
