// Package sweeper is the safety net for asynchronous video generation:
// it polls every in-flight transition on an exponential per-task
// schedule, independent of the job-scoped poll tasks, so provider
// results are never lost to a crashed worker or an abandoned job. The
// repository is its only state; a restart resumes from the in-flight
// query.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/aicg/aicg/internal/config"
	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/observability"
	"github.com/aicg/aicg/internal/repository"
)

// TransitionPoller checks one transition against its provider. The
// generation service implements it.
type TransitionPoller interface {
	PollTransition(ctx context.Context, transitionID models.ULID) (done bool, err error)
}

// JobAdvancer re-plans a job after a transition settles. The executor
// implements it; a nil advancer is allowed.
type JobAdvancer interface {
	Advance(ctx context.Context, jobID models.ULID) error
}

// Sweeper drives the poll loop.
type Sweeper struct {
	repos    *repository.Repositories
	poller   TransitionPoller
	advancer JobAdvancer
	cfg      config.SweeperConfig
	logger   *slog.Logger

	// schedule holds the per-transition backoff state, keyed by
	// transition id. Entries vanish when the transition leaves the
	// in-flight set.
	schedule map[models.ULID]*pollState
}

type pollState struct {
	interval time.Duration
	next     time.Time
}

// New creates a sweeper.
func New(repos *repository.Repositories, poller TransitionPoller, advancer JobAdvancer, cfg config.SweeperConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 5 * time.Second
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	return &Sweeper{
		repos:    repos,
		poller:   poller,
		advancer: advancer,
		cfg:      cfg,
		logger:   observability.WithComponent(logger, "sweeper"),
		schedule: make(map[models.ULID]*pollState),
	}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper starting",
		"min_interval", s.cfg.MinInterval, "max_interval", s.cfg.MaxInterval)
	ticker := time.NewTicker(s.cfg.MinInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
		if err := s.SweepOnce(ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	}
}

// SweepOnce polls every in-flight transition that is due and reconciles
// the backoff schedule with the in-flight set.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	inFlight, err := s.repos.Transitions.GetInFlight(ctx)
	if err != nil {
		return err
	}

	live := make(map[models.ULID]bool, len(inFlight))
	now := time.Now()
	for _, transition := range inFlight {
		live[transition.ID] = true
		state, ok := s.schedule[transition.ID]
		if !ok {
			state = &pollState{interval: s.cfg.MinInterval}
			s.schedule[transition.ID] = state
		}
		if now.Before(state.next) {
			continue
		}

		done, err := s.poller.PollTransition(ctx, transition.ID)
		if err != nil {
			s.logger.Warn("poll failed",
				"transition_id", transition.ID.String(), "error", err)
		}
		if done {
			delete(s.schedule, transition.ID)
			s.logger.Info("transition settled", "transition_id", transition.ID.String())
			s.notify(ctx, transition)
			continue
		}
		state.interval = min(state.interval*2, s.cfg.MaxInterval)
		state.next = now.Add(state.interval)
	}

	// Transitions settled elsewhere (worker poll task, manual action)
	// drop out of the schedule here.
	for id := range s.schedule {
		if !live[id] {
			delete(s.schedule, id)
		}
	}
	return nil
}

// notify re-plans every live job on the transition's chapter so a result
// landed by the sweeper releases downstream stages without waiting for a
// poll task.
func (s *Sweeper) notify(ctx context.Context, transition *models.Transition) {
	if s.advancer == nil {
		return
	}
	script, err := s.repos.Scripts.GetByID(ctx, transition.ScriptID)
	if err != nil {
		s.logger.Error("resolving settled transition's script",
			"transition_id", transition.ID.String(), "error", err)
		return
	}
	jobs, err := s.repos.Jobs.GetByChapterID(ctx, script.ChapterID)
	if err != nil {
		s.logger.Error("listing chapter jobs", "chapter_id", script.ChapterID.String(), "error", err)
		return
	}
	for _, job := range jobs {
		if job.IsTerminal() {
			continue
		}
		if err := s.advancer.Advance(ctx, job.ID); err != nil {
			s.logger.Error("advancing job", "job_id", job.ID.String(), "error", err)
		}
	}
}
