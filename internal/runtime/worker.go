package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/aicg/aicg/internal/config"
	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/observability"
	"github.com/aicg/aicg/internal/repository"
)

// Handler executes one task and returns its result reference.
type Handler func(ctx context.Context, task *models.Task) (result string, err error)

// TerminalFunc observes tasks reaching a terminal state. The executor
// hangs stage readiness and job progress rollup off this.
type TerminalFunc func(ctx context.Context, task *models.Task)

// Worker consumes task queues and drives tasks through their handler,
// applying the per-kind concurrency caps and retry policy.
type Worker struct {
	id         string
	cfg        config.WorkerConfig
	queue      Queue
	tasks      repository.TaskRepository
	jobs       repository.JobRepository
	handler    Handler
	onTerminal TerminalFunc
	logger     *slog.Logger

	sems map[models.TaskKind]*semaphore.Weighted
	wg   sync.WaitGroup
}

// NewWorker builds a worker. A nil onTerminal is allowed.
func NewWorker(cfg config.WorkerConfig, queue Queue, tasks repository.TaskRepository, jobs repository.JobRepository, handler Handler, onTerminal TerminalFunc, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	hostname, _ := os.Hostname()
	w := &Worker{
		id:         fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		cfg:        cfg,
		queue:      queue,
		tasks:      tasks,
		jobs:       jobs,
		handler:    handler,
		onTerminal: onTerminal,
		logger:     observability.WithComponent(logger, "worker"),
		sems:       make(map[models.TaskKind]*semaphore.Weighted),
	}
	for _, kind := range w.kinds() {
		if n := cfg.ConcurrencyFor(string(kind)); n > 0 {
			w.sems[kind] = semaphore.NewWeighted(int64(n))
		}
	}
	return w
}

// ID returns the worker's lock owner identity.
func (w *Worker) ID() string {
	return w.id
}

// kinds resolves the task kinds this worker consumes.
func (w *Worker) kinds() []models.TaskKind {
	if len(w.cfg.Kinds) == 0 {
		return models.AllTaskKinds
	}
	kinds := make([]models.TaskKind, 0, len(w.cfg.Kinds))
	for _, k := range w.cfg.Kinds {
		kinds = append(kinds, models.TaskKind(k))
	}
	return kinds
}

// Run consumes queues until the context is cancelled, then waits for
// in-flight tasks to finish.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting", "worker_id", w.id, "kinds", w.cfg.Kinds)

	for _, kind := range w.kinds() {
		w.wg.Add(1)
		go func(kind models.TaskKind) {
			defer w.wg.Done()
			w.consume(ctx, kind)
		}(kind)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.maintain(ctx)
	}()

	<-ctx.Done()
	w.wg.Wait()
	w.logger.Info("worker stopped", "worker_id", w.id)
	return nil
}

// consume is the per-kind dequeue loop. The semaphore slot is taken
// before dequeuing so a saturated kind stops pulling work.
func (w *Worker) consume(ctx context.Context, kind models.TaskKind) {
	sem := w.sems[kind]
	for {
		if ctx.Err() != nil {
			return
		}
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
		}

		msg, err := w.queue.Dequeue(ctx, []models.TaskKind{kind}, w.cfg.PollInterval)
		if err != nil {
			if sem != nil {
				sem.Release(1)
			}
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", "kind", kind, "error", err)
			select {
			case <-time.After(w.cfg.PollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}
		if msg == nil {
			if sem != nil {
				sem.Release(1)
			}
			continue
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if sem != nil {
				defer sem.Release(1)
			}
			w.process(ctx, msg.TaskID)
		}()
	}
}

// process runs one delivery end to end.
func (w *Worker) process(ctx context.Context, taskID models.ULID) {
	task, err := w.tasks.Acquire(ctx, taskID, w.id)
	if err != nil {
		w.logger.Error("acquire failed", "task_id", taskID, "error", err)
		return
	}
	if task == nil {
		return
	}

	log := w.logger.With("task_id", task.ID.String(), "kind", task.Kind, "stage", task.Stage)

	// Cooperative cancel: honour a job-level request before spending a
	// provider call.
	if w.cancelRequested(ctx, task) {
		task.MarkTerminal(models.TaskStatusCancelled, string(models.ErrKindCancelled), "job cancelled")
		w.finish(ctx, task, log)
		return
	}

	result, interrupted, err := w.runWithCancelWatch(ctx, task)
	if interrupted && err != nil {
		task.MarkTerminal(models.TaskStatusCancelled, string(models.ErrKindCancelled), "job cancelled")
		w.finish(ctx, task, log)
		return
	}
	if err == nil {
		task.MarkTerminal(models.TaskStatusSuccess, "", "")
		task.Result = models.Truncate(result, 4096)
		w.finish(ctx, task, log)
		return
	}

	errKind := models.KindOf(err)
	if errKind == models.ErrKindCancelled {
		task.MarkTerminal(models.TaskStatusCancelled, string(errKind), err.Error())
		w.finish(ctx, task, log)
		return
	}

	if delay, retry := Decide(task.Kind, err, task.Retries); retry {
		log.Warn("task failed, retrying", "error", err, "attempt", task.Retries+1, "delay", delay)
		w.requeue(ctx, task, delay)
		return
	}

	log.Error("task failed", "error", err, "error_kind", errKind)
	task.MarkTerminal(models.TaskStatusFailed, string(errKind), err.Error())
	w.finish(ctx, task, log)
}

// runWithCancelWatch executes the handler under a per-task context that
// is cancelled once the task's job is flagged for cancellation, so
// in-flight provider calls and renders stop instead of running to
// completion. interrupted reports whether the watcher fired; a handler
// that still succeeds despite it keeps its result.
func (w *Worker) runWithCancelWatch(ctx context.Context, task *models.Task) (result string, interrupted bool, err error) {
	taskCtx, stop := context.WithCancel(ctx)
	defer stop()

	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	var cancelHit atomic.Bool
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				if w.cancelRequested(ctx, task) {
					cancelHit.Store(true)
					stop()
					return
				}
			}
		}
	}()

	result, err = w.handler(taskCtx, task)
	stop()
	<-watchDone
	return result, cancelHit.Load(), err
}

// cancelRequested checks the task's and its job's cancel flags.
func (w *Worker) cancelRequested(ctx context.Context, task *models.Task) bool {
	if task.CancelRequested {
		return true
	}
	job, err := w.jobs.GetByID(ctx, task.JobID)
	if err != nil || job == nil {
		return false
	}
	return job.CancelRequested
}

// finish persists a terminal task and notifies the executor.
func (w *Worker) finish(ctx context.Context, task *models.Task, log *slog.Logger) {
	if err := w.tasks.Update(ctx, task); err != nil {
		log.Error("persisting terminal task failed", "error", err)
		return
	}
	log.Debug("task finished", "status", task.Status)
	if w.onTerminal != nil {
		w.onTerminal(ctx, task)
	}
}

// requeue re-queues a failed task after its backoff delay. The database
// NotBefore gate keeps an early delivery from running ahead of schedule;
// the maintenance scan recovers the task if this process dies first.
func (w *Worker) requeue(ctx context.Context, task *models.Task, delay time.Duration) {
	notBefore := models.Now().Add(delay)
	task.Status = models.TaskStatusPending
	task.Retries++
	task.NotBefore = &notBefore
	task.LockedBy = ""
	task.LockedAt = nil
	if err := w.tasks.Update(ctx, task); err != nil {
		w.logger.Error("persisting retry failed", "task_id", task.ID.String(), "error", err)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-time.After(delay):
			if err := w.queue.Enqueue(context.WithoutCancel(ctx), task.Kind, task.ID); err != nil {
				w.logger.Error("re-enqueue failed", "task_id", task.ID.String(), "error", err)
			}
		case <-ctx.Done():
		}
	}()
}

// maintain periodically releases stale locks and re-enqueues runnable
// tasks whose deliveries were lost (process crash, dropped timer).
func (w *Worker) maintain(ctx context.Context) {
	interval := w.cfg.LockTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		released, err := w.tasks.ReleaseStale(ctx, models.Now().Add(-w.cfg.LockTimeout))
		if err != nil {
			w.logger.Error("stale release failed", "error", err)
		} else if released > 0 {
			w.logger.Warn("released stale task locks", "count", released)
		}

		runnable, err := w.tasks.ListRunnable(ctx, 200)
		if err != nil {
			w.logger.Error("runnable scan failed", "error", err)
			continue
		}
		for _, task := range runnable {
			depth, err := w.queue.Len(ctx, task.Kind)
			if err != nil || depth > 0 {
				// Queue still has traffic for this kind; assume delivery
				// is pending rather than double-publishing.
				continue
			}
			if err := w.queue.Enqueue(ctx, task.Kind, task.ID); err != nil {
				w.logger.Error("requeue scan enqueue failed", "task_id", task.ID.String(), "error", err)
			}
		}
	}
}
