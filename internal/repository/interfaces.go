// Package repository defines data access interfaces for aicg entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/aicg/aicg/internal/models"
)

// ArtifactUpdate carries the inputs for a URL-mutating artifact write.
// Every such write uploads the blob first, then goes through the
// repository so the prior URL is recorded as generation history in the
// same transaction. This is the only path that mutates a *_url field.
type ArtifactUpdate struct {
	URL    string
	Prompt string
	Model  string
}

// ProjectRepository defines operations for project persistence.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, id models.ULID) (*models.Project, error)
	Update(ctx context.Context, project *models.Project) error
	// Delete removes the project and cascades to chapters and their
	// downstream artifacts; generation history is orphan-marked.
	Delete(ctx context.Context, id models.ULID) error
}

// ChapterRepository defines operations for chapter persistence.
type ChapterRepository interface {
	Create(ctx context.Context, chapter *models.Chapter) error
	GetByID(ctx context.Context, id models.ULID) (*models.Chapter, error)
	GetByProjectID(ctx context.Context, projectID models.ULID) ([]*models.Chapter, error)
	Update(ctx context.Context, chapter *models.Chapter) error
	// AdvanceStatus moves the pipeline status forward; it rejects backward
	// transitions per the monotonic enum.
	AdvanceStatus(ctx context.Context, id models.ULID, target models.PipelineStatus) error
	// ForceStatus is the explicit admin reset escape hatch.
	ForceStatus(ctx context.Context, id models.ULID, target models.PipelineStatus) error
	// SetVideo records the finished chapter video.
	SetVideo(ctx context.Context, id models.ULID, url string, durationMs int64) error
	Delete(ctx context.Context, id models.ULID) error
}

// SentenceRepository defines operations for narrative-pipeline sentences.
type SentenceRepository interface {
	CreateBatch(ctx context.Context, sentences []*models.Sentence) error
	GetByID(ctx context.Context, id models.ULID) (*models.Sentence, error)
	// GetByChapterID returns sentences ordered by OrderIndex.
	GetByChapterID(ctx context.Context, chapterID models.ULID) ([]*models.Sentence, error)
	Update(ctx context.Context, sentence *models.Sentence) error
	// UpdateImage / UpdateAudio mutate asset URLs through the history path.
	UpdateImage(ctx context.Context, id models.ULID, upd ArtifactUpdate) error
	UpdateAudio(ctx context.Context, id models.ULID, upd ArtifactUpdate, durationMs int64) error
}

// ScriptRepository defines operations for movie scripts, scenes and shots.
type ScriptRepository interface {
	Create(ctx context.Context, script *models.Script) error
	GetByID(ctx context.Context, id models.ULID) (*models.Script, error)
	// GetByChapterID returns the chapter's script with scenes and shots
	// preloaded in order, or nil when absent.
	GetByChapterID(ctx context.Context, chapterID models.ULID) (*models.Script, error)
	UpdateStatus(ctx context.Context, id models.ULID, status models.ScriptStatus) error
	// Delete purges the script and cascades Scene → Shot → Transition;
	// generation history rows for purged artifacts are orphan-marked.
	Delete(ctx context.Context, id models.ULID) error

	CreateScenes(ctx context.Context, scenes []*models.Scene) error
	GetSceneByID(ctx context.Context, id models.ULID) (*models.Scene, error)
	UpdateSceneImage(ctx context.Context, id models.ULID, upd ArtifactUpdate) error

	CreateShots(ctx context.Context, shots []*models.Shot) error
	GetShotByID(ctx context.Context, id models.ULID) (*models.Shot, error)
	// GetShotsByScriptID returns all shots in scene+shot order.
	GetShotsByScriptID(ctx context.Context, scriptID models.ULID) ([]*models.Shot, error)
	UpdateShot(ctx context.Context, shot *models.Shot) error
	// UpdateShotKeyframe mutates the keyframe URL through the history path
	// with an optimistic version check; on a lost race the write still wins
	// last-writer style but both URLs end up recorded.
	UpdateShotKeyframe(ctx context.Context, id models.ULID, upd ArtifactUpdate) error
	SetShotStatus(ctx context.Context, id models.ULID, status models.ArtifactStatus, errMsg string) error
	// DeleteShot refuses while an in-flight transition references the shot.
	DeleteShot(ctx context.Context, id models.ULID) error
}

// TransitionRepository defines operations for shot transitions.
type TransitionRepository interface {
	Create(ctx context.Context, transition *models.Transition) error
	GetByID(ctx context.Context, id models.ULID) (*models.Transition, error)
	// GetByScriptID returns transitions ordered by OrderIndex.
	GetByScriptID(ctx context.Context, scriptID models.ULID) ([]*models.Transition, error)
	// GetByShotPair finds the transition for a consecutive shot pair.
	GetByShotPair(ctx context.Context, fromShotID, toShotID models.ULID) (*models.Transition, error)
	// GetInFlight returns transitions with status processing and a set
	// external task id, across all scripts. The sweeper's work list.
	GetInFlight(ctx context.Context) ([]*models.Transition, error)
	Update(ctx context.Context, transition *models.Transition) error
	// MarkSubmitted records the external task handle.
	MarkSubmitted(ctx context.Context, id models.ULID, externalTaskID string, apiKeyID models.ULID) error
	// MarkCompleted mutates the video URL through the history path.
	MarkCompleted(ctx context.Context, id models.ULID, upd ArtifactUpdate) error
	MarkFailed(ctx context.Context, id models.ULID, errMsg string) error
}

// CharacterRepository defines operations for project characters.
type CharacterRepository interface {
	// Create fails with a conflict error when the name already exists in
	// the project (exact-match, case-sensitive).
	Create(ctx context.Context, character *models.Character) error
	GetByID(ctx context.Context, id models.ULID) (*models.Character, error)
	// GetByName resolves a character by exact name within a project.
	GetByName(ctx context.Context, projectID models.ULID, name string) (*models.Character, error)
	GetByProjectID(ctx context.Context, projectID models.ULID) ([]*models.Character, error)
	Update(ctx context.Context, character *models.Character) error
	UpdateAvatar(ctx context.Context, id models.ULID, upd ArtifactUpdate) error
	SetStatus(ctx context.Context, id models.ULID, status models.ArtifactStatus, errMsg string) error
	Delete(ctx context.Context, id models.ULID) error
}

// APIKeyRepository defines operations for provider credentials.
type APIKeyRepository interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByID(ctx context.Context, id models.ULID) (*models.APIKey, error)
	GetByOwnerID(ctx context.Context, ownerID models.ULID) ([]*models.APIKey, error)
	Update(ctx context.Context, key *models.APIKey) error
	Delete(ctx context.Context, id models.ULID) error
}

// HistoryRepository defines operations for generation history.
type HistoryRepository interface {
	// List returns history rows for an artifact, newest first.
	List(ctx context.Context, resourceType models.ResourceType, resourceID models.ULID) ([]*models.GenerationHistory, error)
	Count(ctx context.Context, resourceType models.ResourceType, resourceID models.ULID) (int64, error)
	// Select swaps a history entry with the live artifact URL: the entry's
	// URL, prompt and model become current and the displaced values take
	// the entry's place, so the row count is unchanged. Selecting an entry
	// whose URL equals the live URL is a no-op. Orphaned entries cannot be
	// selected.
	Select(ctx context.Context, historyID models.ULID) error
	Delete(ctx context.Context, historyID models.ULID) error
}

// JobRepository defines operations for pipeline jobs.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id models.ULID) (*models.Job, error)
	GetByChapterID(ctx context.Context, chapterID models.ULID) ([]*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	// RequestCancel sets the cooperative cancel flag.
	RequestCancel(ctx context.Context, id models.ULID) error
	// UpdateProgress writes the rolled-up progress, clamped monotonic.
	UpdateProgress(ctx context.Context, id models.ULID, progress float64) error
	// DeleteTerminalBefore removes terminal jobs older than the cutoffs
	// (TTL sweep: success and failure age separately).
	DeleteTerminalBefore(ctx context.Context, successBefore, failureBefore time.Time) (int64, error)
}

// TaskRepository defines operations for executor tasks.
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	CreateBatch(ctx context.Context, tasks []*models.Task) error
	GetByID(ctx context.Context, id models.ULID) (*models.Task, error)
	GetByJobID(ctx context.Context, jobID models.ULID) ([]*models.Task, error)
	GetByJobAndStage(ctx context.Context, jobID models.ULID, stage string) ([]*models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	// Acquire locks the task for a worker; returns nil when the task is
	// not in a deliverable state (already locked, cancelled, not yet due).
	Acquire(ctx context.Context, id models.ULID, workerID string) (*models.Task, error)
	// ReleaseStale unlocks tasks whose lock is older than the timeout so
	// they can be re-delivered.
	ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error)
	// ListRunnable returns pending, uncancelled tasks that are due, oldest
	// first. The worker's requeue scan uses it to recover tasks whose
	// queue delivery was lost.
	ListRunnable(ctx context.Context, limit int) ([]*models.Task, error)
	RequestCancel(ctx context.Context, id models.ULID) error
	RequestCancelByJobID(ctx context.Context, jobID models.ULID) (int64, error)
	DeleteByJobID(ctx context.Context, jobID models.ULID) error
}

// VideoTaskRepository defines operations for assembly records.
type VideoTaskRepository interface {
	Create(ctx context.Context, task *models.VideoTask) error
	GetByID(ctx context.Context, id models.ULID) (*models.VideoTask, error)
	GetByChapterID(ctx context.Context, chapterID models.ULID) (*models.VideoTask, error)
	Update(ctx context.Context, task *models.VideoTask) error
	SetStatus(ctx context.Context, id models.ULID, status models.VideoTaskStatus, progress float64) error
	SetClipProgress(ctx context.Context, id models.ULID, current, total int) error
	MarkCompleted(ctx context.Context, id models.ULID, videoURL string, durationMs int64) error
	MarkFailed(ctx context.Context, id models.ULID, errMsg string) error
}

// Repositories aggregates every repository over one database handle.
type Repositories struct {
	Projects    ProjectRepository
	Chapters    ChapterRepository
	Sentences   SentenceRepository
	Scripts     ScriptRepository
	Transitions TransitionRepository
	Characters  CharacterRepository
	APIKeys     APIKeyRepository
	History     HistoryRepository
	Jobs        JobRepository
	Tasks       TaskRepository
	VideoTasks  VideoTaskRepository
}
