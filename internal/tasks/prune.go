package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PositionPruner deletes archived positions
type PositionPruner interface {
	PruneBefore(cutoff time.Time) (int64, error)
}

// PruneTask deletes archived positions older than the retention period
type PruneTask struct {
	repo      PositionPruner
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewPruneTask(repo PositionPruner, retention, interval time.Duration, logger *slog.Logger) *PruneTask {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PruneTask{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

func (t *PruneTask) Name() string {
	return "prune_positions"
}

func (t *PruneTask) Interval() time.Duration {
	return t.interval
}

func (t *PruneTask) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cutoff := t.now().Add(-t.retention)
	removed, err := t.repo.PruneBefore(cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune archive: %w", err)
	}
	if removed > 0 {
		t.logger.Info("Pruned archived positions", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}
