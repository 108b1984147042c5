package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vietddude/badgeminter/internal/infra/storage"
	"github.com/vietddude/badgeminter/internal/minting/metrics"
)

// RetentionConfig controls how long processed missed events are kept.
type RetentionConfig struct {
	MissedEvents  time.Duration `yaml:"missed_events"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// Pruner deletes processed missed events past their retention period.
// Attempts are never pruned; they are the dedup record.
type Pruner struct {
	cfg    RetentionConfig
	repo   storage.MissedEventRepository
	logger *slog.Logger
	now    func() time.Time
	cron   *cron.Cron
}

// NewPruner creates a new Pruner worker.
func NewPruner(cfg RetentionConfig, repo storage.MissedEventRepository, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		cfg:    cfg,
		repo:   repo,
		logger: logger.With("component", "pruner"),
		now:    time.Now,
	}
}

// Interval returns how often the pruner runs.
func (p *Pruner) Interval() time.Duration {
	if p.cfg.PruneInterval > 0 {
		return p.cfg.PruneInterval
	}
	// 10% of retention, between one minute and one hour
	interval := min(p.cfg.MissedEvents/10, time.Hour)
	return max(interval, time.Minute)
}

// Start prunes once and then on a schedule. It does nothing when retention
// is disabled.
func (p *Pruner) Start(ctx context.Context) error {
	if p.cfg.MissedEvents <= 0 {
		return nil
	}

	runCtx := context.WithoutCancel(ctx)
	p.cron = NewCron(p.logger)
	spec := fmt.Sprintf("@every %s", p.Interval())
	if _, err := p.cron.AddFunc(spec, func() { p.prune(runCtx) }); err != nil {
		return fmt.Errorf("schedule pruner: %w", err)
	}
	p.cron.Start()

	go p.prune(runCtx)
	return nil
}

// Stop halts the schedule and waits for a running prune.
func (p *Pruner) Stop(ctx context.Context) {
	if p.cron == nil {
		return
	}
	select {
	case <-p.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Prune deletes processed events older than the retention period.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.cfg.MissedEvents)
	n, err := p.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune missed events: %w", err)
	}
	metrics.MissedEventsPruned.Add(float64(n))
	return n, nil
}

func (p *Pruner) prune(ctx context.Context) {
	n, err := p.Prune(ctx)
	if err != nil {
		p.logger.Error("prune failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("pruned processed missed events", "count", n)
	}
}
