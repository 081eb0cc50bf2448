package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-saga-outbox/pkg/metrics"
)

type OutboxMaintenance interface {
	Stats(ctx context.Context) (pending, deadLettered int64, err error)
	PurgeSent(ctx context.Context, before time.Time) (int64, error)
}

// Janitor keeps the outbox gauges current and trims delivered records
type Janitor struct {
	repo      OutboxMaintenance
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewJanitor(repo OutboxMaintenance, retention time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{repo: repo, retention: retention, logger: logger, now: time.Now}
}

func (j *Janitor) RunOnce(ctx context.Context) error {
	pending, dead, err := j.repo.Stats(ctx)
	if err != nil {
		return fmt.Errorf("janitor stats: %w", err)
	}
	metrics.OutboxBacklog.Set(float64(pending))
	metrics.DLQSize.Set(float64(dead))
	if dead > 0 {
		j.logger.Warn("Janitor: dead-lettered outbox records need manual intervention", "count", dead)
	}

	if j.retention <= 0 {
		return nil
	}
	purged, err := j.repo.PurgeSent(ctx, j.now().Add(-j.retention))
	if err != nil {
		return fmt.Errorf("janitor purge: %w", err)
	}
	if purged > 0 {
		j.logger.Info("Janitor: purged delivered outbox records", "count", purged)
	}
	return nil
}
