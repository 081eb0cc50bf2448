package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/Guizzs26/go-saga-outbox/internal/ports"
	"github.com/Guizzs26/go-saga-outbox/pkg/metrics"
)

// ReapStalled forces compensation for orders that have not moved within
// SagaTimeout. The payment rollback is safe from any open state: the payment
// participant answers it even when no charge exists, and a response that
// arrives late for a COMPENSATING order is ignored by the transition table.
func (o *Orchestrator) ReapStalled(ctx context.Context) (int, error) {
	if o.opts.SagaTimeout <= 0 {
		return 0, nil
	}

	cutoff := o.now().Add(-o.opts.SagaTimeout)
	stalled, err := o.store.ListStalled(ctx, cutoff, o.opts.ReaperBatch)
	if err != nil {
		return 0, fmt.Errorf("list stalled orders: %w", err)
	}

	reaped := 0
	for _, candidate := range stalled {
		var from models.OrderStatus
		err := o.store.WithinTx(ctx, func(tx ports.OrderTx) error {
			order, err := tx.LockOrder(ctx, candidate.ID)
			if err != nil {
				return err
			}
			// Re-checked under the row lock: a response may have landed since the listing
			if order.Status.IsTerminal() || !order.UpdatedAt.Before(cutoff) {
				return errStaleEvent
			}
			from = order.Status

			if err := tx.UpdateOrderStatus(ctx, order.ID, models.StatusCompensating); err != nil {
				return err
			}
			rollback := models.NewEnvelope(order, models.PaymentRollback)
			return tx.Enqueue(ctx, models.TopicPaymentRequest, rollback.Key(), rollback)
		})

		switch {
		case errors.Is(err, errStaleEvent), errors.Is(err, models.ErrOrderNotFound):
			continue
		case err != nil:
			return reaped, fmt.Errorf("reap order %d: %w", candidate.ID, err)
		}

		reaped++
		metrics.SagaReaped.Inc()
		metrics.SagaTransitions.WithLabelValues(string(from), string(models.StatusCompensating)).Inc()
		o.logger.Warn("⏰ Saga timed out, forcing compensation",
			"order_id", candidate.ID,
			"from", from,
			"timeout", o.opts.SagaTimeout,
		)
	}

	return reaped, nil
}
