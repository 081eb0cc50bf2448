package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/Guizzs26/go-saga-outbox/internal/ports"
	"github.com/Guizzs26/go-saga-outbox/pkg/metrics"
)

// errDuplicateRequest aborts the transaction of a redelivered request
var errDuplicateRequest = errors.New("duplicate request")

// PaymentService is the payment participant: it charges orders whose total
// stays within the threshold and refunds them on PAYMENT_ROLLBACK
type PaymentService struct {
	store     ports.PaymentStore
	threshold int64
	logger    *slog.Logger
}

func NewPaymentService(store ports.PaymentStore, threshold int64, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		store:     store,
		threshold: threshold,
		logger:    logger,
	}
}

// Handle consumes payment.request deliveries
func (s *PaymentService) Handle(ctx context.Context, env models.Envelope) error {
	switch env.EventType {
	case models.PaymentRequest:
		return s.charge(ctx, env)
	case models.PaymentRollback:
		return s.rollback(ctx, env)
	default:
		metrics.ParticipantOutcomes.WithLabelValues("payment", "ignored").Inc()
		s.logger.Warn("Unknown payment event, ignoring", "order_id", env.OrderID, "event_type", env.EventType)
		return nil
	}
}

func (s *PaymentService) charge(ctx context.Context, env models.Envelope) error {
	total, ok := env.Total()
	if !ok {
		total = math.MaxInt64
	}
	l := s.logger.With("order_id", env.OrderID, "total", total)

	// an overflowing total is above any threshold
	approved := ok && total <= s.threshold
	payment := models.Payment{
		OrderID: env.OrderID,
		Amount:  total,
		Status:  models.PaymentCompleted,
	}
	reply := env.Reply(models.PaymentSuccess)
	if !approved {
		payment.Status = models.PaymentDeclined
		reply = env.Reply(models.PaymentFailed)
	}

	err := s.store.WithinTx(ctx, func(tx ports.PaymentTx) error {
		inserted, err := tx.InsertPayment(ctx, &payment)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateRequest
		}
		return tx.Enqueue(ctx, models.TopicOrderResponse, reply.Key(), reply)
	})

	switch {
	case errors.Is(err, errDuplicateRequest):
		metrics.ParticipantOutcomes.WithLabelValues("payment", "duplicate").Inc()
		l.Warn("Payment already decided for order, skipping redelivery")
		return nil
	case err != nil:
		return fmt.Errorf("charge order %d: %w", env.OrderID, err)
	}

	if approved {
		metrics.ParticipantOutcomes.WithLabelValues("payment", "success").Inc()
		l.Info("✅ Payment completed")
	} else {
		metrics.ParticipantOutcomes.WithLabelValues("payment", "failed").Inc()
		l.Info("💸 Payment declined: total exceeds threshold", "threshold", s.threshold)
	}
	return nil
}

// rollback always answers PAYMENT_ROLLBACK_DONE. When no charge exists yet a
// ROLLED_BACK tombstone is written so a late PAYMENT_REQUEST cannot charge.
func (s *PaymentService) rollback(ctx context.Context, env models.Envelope) error {
	l := s.logger.With("order_id", env.OrderID)

	var found bool
	err := s.store.WithinTx(ctx, func(tx ports.PaymentTx) error {
		var err error
		found, err = tx.MarkRolledBack(ctx, env.OrderID)
		if err != nil {
			return err
		}
		if !found {
			inserted, err := tx.InsertPayment(ctx, &models.Payment{OrderID: env.OrderID, Status: models.PaymentRolledBack})
			if err != nil {
				return err
			}
			// a charge committed between the update and the insert; roll it back
			if !inserted {
				found, err = tx.MarkRolledBack(ctx, env.OrderID)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("payment row for order %d vanished during rollback", env.OrderID)
				}
			}
		}
		reply := env.Reply(models.PaymentRollbackDone)
		return tx.Enqueue(ctx, models.TopicOrderResponse, reply.Key(), reply)
	})
	if err != nil {
		return fmt.Errorf("roll back order %d: %w", env.OrderID, err)
	}

	metrics.ParticipantOutcomes.WithLabelValues("payment", "rolled_back").Inc()
	if found {
		l.Info("🔄 Payment rolled back")
	} else {
		l.Warn("No payment to roll back, recorded tombstone")
	}
	return nil
}
