package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls scheduled pruning of old journal entries.
type RetentionConfig struct {
	// RetentionDays is how long events are kept. 0 disables pruning.
	RetentionDays int

	// Schedule is a cron expression for when pruning runs.
	// Default: daily at 03:00.
	Schedule string
}

// DefaultRetentionConfig returns the default retention settings.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RetentionDays: 90,
		Schedule:      "0 3 * * *",
	}
}

// Pruner deletes old events for terminal requests on a cron schedule.
// Requests and decisions are never pruned.
type Pruner struct {
	store  Store
	config *RetentionConfig
	cron   *cron.Cron
	logger *slog.Logger
}

// NewPruner creates a pruner over the given store.
func NewPruner(store Store, config *RetentionConfig, logger *slog.Logger) *Pruner {
	if config == nil {
		config = DefaultRetentionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:  store,
		config: config,
		logger: logger.With("component", "audit.retention"),
	}
}

// Start schedules background pruning. With retention disabled or no
// schedule configured it does nothing and returns nil.
func (p *Pruner) Start(ctx context.Context) error {
	if p.config.RetentionDays <= 0 || p.config.Schedule == "" {
		p.logger.Debug("retention pruning disabled")
		return nil
	}

	p.cron = cron.New()
	_, err := p.cron.AddFunc(p.config.Schedule, func() {
		deleted, err := p.Prune(ctx)
		if err != nil {
			p.logger.Error("scheduled prune failed", "error", err)
			return
		}
		p.logger.Info("scheduled prune completed", "deleted", deleted)
	})
	if err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.config.Schedule, err)
	}

	p.cron.Start()
	p.logger.Info("retention pruning scheduled",
		"schedule", p.config.Schedule,
		"retention_days", p.config.RetentionDays,
	)
	return nil
}

// Stop halts scheduled pruning, waiting for a running job to finish.
func (p *Pruner) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

// Prune deletes events older than the retention window.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().
		AddDate(0, 0, -p.config.RetentionDays).
		Format("2006-01-02T15:04:05Z")
	return p.store.PruneEvents(ctx, cutoff)
}
