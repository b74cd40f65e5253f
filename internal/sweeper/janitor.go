package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aicg/aicg/internal/observability"
	"github.com/aicg/aicg/internal/repository"
)

// Janitor deletes terminal jobs past their retention window on a cron
// schedule. Successful jobs age out sooner than failed ones, which stay
// around longer for diagnosis.
type Janitor struct {
	jobs       repository.JobRepository
	successTTL time.Duration
	failureTTL time.Duration
	cron       *cron.Cron
	logger     *slog.Logger
}

// NewJanitor creates a janitor with the given retention windows.
func NewJanitor(jobs repository.JobRepository, successTTL, failureTTL time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		jobs:       jobs,
		successTTL: successTTL,
		failureTTL: failureTTL,
		cron:       cron.New(),
		logger:     observability.WithComponent(logger, "janitor"),
	}
}

// Start schedules the hourly sweep.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc("@hourly", func() {
		if err := j.SweepOnce(context.Background()); err != nil {
			j.logger.Error("job ttl sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// SweepOnce deletes terminal jobs older than their retention cutoff.
// The repository cascades the deletion to their task rows.
func (j *Janitor) SweepOnce(ctx context.Context) error {
	now := time.Now()
	n, err := j.jobs.DeleteTerminalBefore(ctx, now.Add(-j.successTTL), now.Add(-j.failureTTL))
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.Info("expired jobs deleted", "count", n)
	}
	return nil
}
