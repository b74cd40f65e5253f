package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/repository"
	"github.com/aicg/aicg/internal/runtime"
	"github.com/aicg/aicg/internal/service"
)

// AssemblyResult is what an assembler hands back for a finished chapter.
type AssemblyResult struct {
	VideoURL   string
	DurationMs int64
}

// Assembler renders a chapter's final video from its prepared materials.
// The FFmpeg engine implements it; executor tests stub it.
type Assembler interface {
	AssembleChapter(ctx context.Context, chapterID models.ULID) (*AssemblyResult, error)
}

// SubmitRequest describes a pipeline job submission.
type SubmitRequest struct {
	ChapterID models.ULID
	// TargetStage bounds the run; empty means the graph's terminal stage.
	TargetStage       string
	APIKeyID          models.ULID
	Model             string
	ContinueOnPartial bool

	// Narrative generation parameters.
	Voice string
	Speed float64
	Style string

	// Assembly parameters, applied when the run reaches the assembly
	// stage and no assembly record exists yet.
	Resolution string
	FPS        int
	BGMRef     string
	// BGMVolume nil means default; an explicit zero mutes the music bed.
	BGMVolume *float64
}

// Executor plans and drives pipeline jobs. Planning is re-entrant: every
// terminal task triggers a re-plan from repository state, so a restarted
// process resumes where the artifacts say it left off.
type Executor struct {
	repos     *repository.Repositories
	svc       *service.Service
	queue     runtime.Queue
	assembler Assembler
	logger    *slog.Logger

	// mu serializes planning per process. Concurrent advances for the
	// same job would race on task creation; the ArtifactID dedupe check
	// below assumes one planner at a time.
	mu sync.Mutex
}

// New creates an executor. A nil logger falls back to the default.
func New(repos *repository.Repositories, svc *service.Service, queue runtime.Queue, assembler Assembler, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		repos:     repos,
		svc:       svc,
		queue:     queue,
		assembler: assembler,
		logger:    logger.With("component", "executor"),
	}
}

// SubmitJob validates the request, creates the job and runs the first
// planning pass. Tasks whose prerequisites are already satisfied are
// enqueued immediately.
func (e *Executor) SubmitJob(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	chapter, err := e.repos.Chapters.GetByID(ctx, req.ChapterID)
	if err != nil {
		return nil, err
	}
	project, err := e.repos.Projects.GetByID(ctx, chapter.ProjectID)
	if err != nil {
		return nil, err
	}
	g, err := graphFor(project.Type)
	if err != nil {
		return nil, err
	}
	target := req.TargetStage
	if target == "" {
		target = g.terminalStage()
	}
	required, err := g.required(target)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		Kind:              string(project.Type),
		ChapterID:         chapter.ID,
		TargetStage:       target,
		APIKeyID:          req.APIKeyID,
		Model:             req.Model,
		Voice:             req.Voice,
		Speed:             req.Speed,
		Style:             req.Style,
		ContinueOnPartial: req.ContinueOnPartial,
	}
	job.MarkRunning()
	if err := e.repos.Jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if containsAssembly(required) {
		if err := e.ensureVideoTask(ctx, chapter.ID, req); err != nil {
			return nil, err
		}
	}

	e.logger.Info("job submitted",
		"job_id", job.ID.String(),
		"chapter_id", chapter.ID.String(),
		"target_stage", target)

	if err := e.Advance(ctx, job.ID); err != nil {
		return nil, err
	}
	return e.repos.Jobs.GetByID(ctx, job.ID)
}

// ensureVideoTask creates the chapter's assembly record when absent so
// the assembly stage has its parameters pinned at submission time.
func (e *Executor) ensureVideoTask(ctx context.Context, chapterID models.ULID, req SubmitRequest) error {
	existing, err := e.repos.VideoTasks.GetByChapterID(ctx, chapterID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	vt := &models.VideoTask{ChapterID: chapterID}
	if req.Resolution != "" {
		vt.Resolution = req.Resolution
	}
	if req.FPS > 0 {
		vt.FPS = req.FPS
	}
	vt.BGMRef = req.BGMRef
	vt.BGMVolume = req.BGMVolume
	if err := vt.Validate(); err != nil {
		return models.WrapError(models.ErrKindValidation, err)
	}
	return e.repos.VideoTasks.Create(ctx, vt)
}

func containsAssembly(stages []string) bool {
	for _, stage := range stages {
		if stage == StageComposeVideo || stage == StageAssembleVideo {
			return true
		}
	}
	return false
}

// CancelJob requests cooperative cancellation: the job flag stops new
// task creation and every live task is flagged so workers drop it at the
// next suspension point. Finalization to cancelled happens on the next
// advance once all tasks are terminal.
func (e *Executor) CancelJob(ctx context.Context, jobID models.ULID) error {
	job, err := e.repos.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return models.NewError(models.ErrKindConflict, "job already finished")
	}
	if err := e.repos.Jobs.RequestCancel(ctx, jobID); err != nil {
		return err
	}
	n, err := e.repos.Tasks.RequestCancelByJobID(ctx, jobID)
	if err != nil {
		return err
	}
	e.logger.Info("job cancel requested", "job_id", jobID.String(), "tasks_flagged", n)
	return e.Advance(ctx, jobID)
}

// Advance re-plans one job from current repository state: creates and
// enqueues tasks whose prerequisites are now satisfied, rolls up
// progress and statistics, and finalizes the job when every required
// stage has resolved.
func (e *Executor) Advance(ctx context.Context, jobID models.ULID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.repos.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}
	chapter, err := e.repos.Chapters.GetByID(ctx, job.ChapterID)
	if err != nil {
		return err
	}
	project, err := e.repos.Projects.GetByID(ctx, chapter.ProjectID)
	if err != nil {
		return err
	}
	g, err := graphFor(project.Type)
	if err != nil {
		return err
	}
	required, err := g.required(job.TargetStage)
	if err != nil {
		return err
	}

	tasks, err := e.repos.Tasks.GetByJobID(ctx, job.ID)
	if err != nil {
		return err
	}
	byStageArtifact := make(map[string]map[models.ULID]*models.Task)
	for _, task := range tasks {
		if byStageArtifact[task.Stage] == nil {
			byStageArtifact[task.Stage] = make(map[models.ULID]*models.Task)
		}
		byStageArtifact[task.Stage][task.ArtifactID] = task
	}

	done := make(map[string]bool)
	allDone := true
	for _, stage := range required {
		depsDone := true
		for _, dep := range g.deps[stage] {
			if !done[dep] {
				depsDone = false
			}
		}

		plan, err := e.planUnits(ctx, chapter, stage, done)
		if err != nil {
			return err
		}

		outcome, err := e.advanceStage(ctx, job, stage, plan, depsDone, byStageArtifact[stage])
		if err != nil {
			return err
		}
		done[stage] = outcome.settled
		if !outcome.settled {
			allDone = false
		}

		// Cancellation drains to finalizeCancelled below; failure policy
		// must not reclassify a cancelled run as failed.
		if outcome.settled && !job.CancelRequested {
			if err := e.applyMilestone(ctx, chapter, project.Type, stage, done); err != nil {
				return err
			}
			if outcome.failures > 0 {
				if outcome.successes == 0 {
					return e.failJob(ctx, job, chapter, stage,
						fmt.Sprintf("stage %s produced no successes", stage))
				}
				if !job.ContinueOnPartial {
					return e.failJob(ctx, job, chapter, stage,
						fmt.Sprintf("stage %s finished with %d failures", stage, outcome.failures))
				}
			}
		}
	}

	if err := e.rollUp(ctx, job); err != nil {
		return err
	}

	if job.CancelRequested {
		return e.finalizeCancelled(ctx, job)
	}
	if allDone {
		return e.finalizeSuccess(ctx, job, chapter)
	}
	return nil
}

// stageOutcome summarizes one stage after a planning pass.
type stageOutcome struct {
	settled   bool
	successes int
	failures  int
}

// advanceStage resolves each unit of a stage against its task (if any)
// and creates tasks for ready units that have none. Artifact state wins
// over task state: a completed artifact settles its unit even when the
// producing task ran in an earlier job.
func (e *Executor) advanceStage(ctx context.Context, job *models.Job, stage string, plan stagePlan, depsDone bool, existing map[models.ULID]*models.Task) (stageOutcome, error) {
	outcome := stageOutcome{settled: plan.known}
	for _, unit := range plan.units {
		task := existing[unit.artifactID]
		switch {
		case unit.complete:
			outcome.successes++
			if task == nil && depsDone {
				// Record the resumption decision so progress and
				// statistics account for the unit.
				if err := e.createTask(ctx, job, stage, unit.artifactID, models.TaskStatusSkipped); err != nil {
					return outcome, err
				}
			}
		case unit.failed:
			outcome.failures++
		case task != nil && task.IsTerminal():
			if task.Status == models.TaskStatusFailed || task.Status == models.TaskStatusCancelled {
				outcome.failures++
			} else {
				outcome.successes++
			}
		case task != nil:
			outcome.settled = false
		default:
			outcome.settled = false
			if job.CancelRequested || !unit.ready {
				continue
			}
			if err := e.createTask(ctx, job, stage, unit.artifactID, models.TaskStatusPending); err != nil {
				return outcome, err
			}
		}
	}
	return outcome, nil
}

// createTask persists one task row and, for pending tasks, publishes it.
// A lost publish is recovered by the worker's requeue scan.
func (e *Executor) createTask(ctx context.Context, job *models.Job, stage string, artifactID models.ULID, status models.TaskStatus) error {
	kind := stageKind(stage)
	payload, err := TaskPayload{
		Stage:     stage,
		JobID:     job.ID,
		ChapterID: job.ChapterID,
		APIKeyID:  job.APIKeyID,
		Model:     job.Model,
		Voice:     job.Voice,
		Speed:     job.Speed,
		Style:     job.Style,
	}.Encode()
	if err != nil {
		return err
	}

	task := &models.Task{
		JobID:      job.ID,
		Kind:       kind,
		Stage:      stage,
		ArtifactID: artifactID,
		Payload:    payload,
		Status:     status,
		Weight:     models.TaskWeight(kind),
	}
	if err := e.repos.Tasks.Create(ctx, task); err != nil {
		return err
	}
	if status != models.TaskStatusPending {
		return nil
	}
	if err := e.queue.Enqueue(ctx, kind, task.ID); err != nil {
		e.logger.Warn("enqueue failed, task awaits requeue scan",
			"task_id", task.ID.String(), "error", err)
	}
	return nil
}

// OnTaskTerminal is the runtime's terminal-task callback. It records the
// outcome on the owning artifact, chains the poll leg after successful
// video submissions, and re-plans the job.
func (e *Executor) OnTaskTerminal(ctx context.Context, task *models.Task) error {
	if task.Status == models.TaskStatusFailed {
		if err := e.markArtifactFailed(ctx, task); err != nil {
			e.logger.Error("marking artifact failed",
				"task_id", task.ID.String(), "error", err)
		}
	}

	if task.Stage == StageTransitionVideos && task.Status == models.TaskStatusSuccess {
		if err := e.chainPoll(ctx, task); err != nil {
			return err
		}
	}
	return e.Advance(ctx, task.JobID)
}

// chainPoll creates and enqueues the poll task following a successful
// video submission. The poll kind has an unlimited retry budget; its
// handler reports "still processing" as a retryable error, so backoff
// doubles as the poll interval.
func (e *Executor) chainPoll(ctx context.Context, submit *models.Task) error {
	polls, err := e.repos.Tasks.GetByJobAndStage(ctx, submit.JobID, StageTransitionPoll)
	if err != nil {
		return err
	}
	for _, poll := range polls {
		if poll.ArtifactID == submit.ArtifactID && !poll.IsTerminal() {
			return nil
		}
	}
	job, err := e.repos.Jobs.GetByID(ctx, submit.JobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() || job.CancelRequested {
		return nil
	}
	return e.createTask(ctx, job, StageTransitionPoll, submit.ArtifactID, models.TaskStatusPending)
}

// markArtifactFailed records a terminal task failure on the artifact so
// planning and the API surface it without consulting task rows.
func (e *Executor) markArtifactFailed(ctx context.Context, task *models.Task) error {
	msg := task.ErrorMessage
	if msg == "" {
		msg = "task failed"
	}
	switch task.Stage {
	case StageShotKeyframes:
		return e.repos.Scripts.SetShotStatus(ctx, task.ArtifactID, models.ArtifactStatusFailed, msg)
	case StageCharacterAvatars:
		return e.repos.Characters.SetStatus(ctx, task.ArtifactID, models.ArtifactStatusFailed, msg)
	case StageTransitionVideos, StageTransitionPoll:
		return e.repos.Transitions.MarkFailed(ctx, task.ArtifactID, msg)
	}
	return nil
}

// rollUp recomputes job progress and statistics from its task rows.
func (e *Executor) rollUp(ctx context.Context, job *models.Job) error {
	tasks, err := e.repos.Tasks.GetByJobID(ctx, job.ID)
	if err != nil {
		return err
	}
	var totalWeight, terminalWeight int
	stats := models.JobStatistics{}
	for _, task := range tasks {
		totalWeight += task.Weight
		stats.Total++
		switch task.Status {
		case models.TaskStatusSuccess:
			stats.Success++
			terminalWeight += task.Weight
		case models.TaskStatusSkipped:
			stats.Skipped++
			terminalWeight += task.Weight
		case models.TaskStatusFailed, models.TaskStatusCancelled:
			stats.Failed++
			terminalWeight += task.Weight
		}
	}
	job.Statistics = stats
	if err := e.repos.Jobs.Update(ctx, job); err != nil {
		return err
	}
	if totalWeight == 0 {
		return nil
	}
	// Monotonic clamp at the repository absorbs plateaus when late
	// planning grows the denominator.
	return e.repos.Jobs.UpdateProgress(ctx, job.ID, float64(terminalWeight)/float64(totalWeight))
}

// applyMilestone advances the chapter pipeline status when a settled
// stage marks a milestone. Conflict errors from backward transitions are
// swallowed: a re-run of an earlier stage never regresses the chapter.
func (e *Executor) applyMilestone(ctx context.Context, chapter *models.Chapter, pt models.ProjectType, stage string, done map[string]bool) error {
	var target models.PipelineStatus
	switch {
	case stage == StageParseSentences:
		target = models.PipelineStatusParsed
	case stage == StageExtractShots:
		target = models.PipelineStatusScriptGenerated
	case pt == models.ProjectTypeMovie &&
		done[StageShotKeyframes] && done[StageTransitionVideos]:
		target = models.PipelineStatusMaterialsPrepared
	case pt == models.ProjectTypeNarrative &&
		done[StageSentenceImages] && done[StageSentenceAudio]:
		target = models.PipelineStatusMaterialsPrepared
	default:
		return nil
	}
	err := e.repos.Chapters.AdvanceStatus(ctx, chapter.ID, target)
	if err != nil && models.KindOf(err) == models.ErrKindConflict {
		return nil
	}
	return err
}

// failJob terminates the job, flags its remaining tasks for cancellation
// and sinks the chapter to failed when nothing succeeded at all.
func (e *Executor) failJob(ctx context.Context, job *models.Job, chapter *models.Chapter, stage, msg string) error {
	job.MarkTerminal(models.JobStatusFailed, "stage_failed", msg)
	if err := e.repos.Jobs.Update(ctx, job); err != nil {
		return err
	}
	if _, err := e.repos.Tasks.RequestCancelByJobID(ctx, job.ID); err != nil {
		return err
	}
	e.logger.Warn("job failed", "job_id", job.ID.String(), "stage", stage, "error", msg)

	if job.Statistics.Success == 0 && job.Statistics.Skipped == 0 {
		if err := e.repos.Chapters.AdvanceStatus(ctx, chapter.ID, models.PipelineStatusFailed); err != nil {
			return err
		}
	}
	return nil
}

// finalizeCancelled closes the job once every task has drained.
func (e *Executor) finalizeCancelled(ctx context.Context, job *models.Job) error {
	tasks, err := e.repos.Tasks.GetByJobID(ctx, job.ID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if !task.IsTerminal() {
			return nil
		}
	}
	job.MarkTerminal(models.JobStatusCancelled, "cancelled", "cancelled by request")
	e.logger.Info("job cancelled", "job_id", job.ID.String())
	return e.repos.Jobs.Update(ctx, job)
}

// finalizeSuccess closes the job after every required stage settled
// without a fatal failure policy hit.
func (e *Executor) finalizeSuccess(ctx context.Context, job *models.Job, chapter *models.Chapter) error {
	// Re-read: the assembly handler writes the chapter video after the
	// chapter snapshot used for planning was taken.
	fresh, err := e.repos.Chapters.GetByID(ctx, chapter.ID)
	if err != nil {
		return err
	}
	job.ResultRef = fresh.VideoURL
	job.MarkTerminal(models.JobStatusSuccess, "", "")
	e.logger.Info("job finished",
		"job_id", job.ID.String(),
		"chapter_id", chapter.ID.String(),
		"result_ref", job.ResultRef)
	return e.repos.Jobs.Update(ctx, job)
}
