package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aicg/aicg/internal/config"
	"github.com/aicg/aicg/internal/database"
	"github.com/aicg/aicg/internal/models"
)

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

// seedMovie creates a project with one chapter, script, scene and two shots.
func seedMovie(t *testing.T, repos *Repositories) (*models.Project, *models.Chapter, *models.Script, *models.Scene, []*models.Shot) {
	t.Helper()
	ctx := context.Background()

	project := &models.Project{Name: "novel", Type: models.ProjectTypeMovie}
	require.NoError(t, repos.Projects.Create(ctx, project))

	chapter := &models.Chapter{ProjectID: project.ID, OrderIndex: 1, Title: "ch1", Content: "text"}
	require.NoError(t, repos.Chapters.Create(ctx, chapter))

	script := &models.Script{ChapterID: chapter.ID}
	require.NoError(t, repos.Scripts.Create(ctx, script))

	scene := &models.Scene{ScriptID: script.ID, OrderIndex: 1, Location: "harbor"}
	require.NoError(t, repos.Scripts.CreateScenes(ctx, []*models.Scene{scene}))

	shots := []*models.Shot{
		{SceneID: scene.ID, OrderIndex: 1, VisualDescription: "wide shot of the harbor"},
		{SceneID: scene.ID, OrderIndex: 2, VisualDescription: "close-up on the captain"},
	}
	require.NoError(t, repos.Scripts.CreateShots(ctx, shots))

	return project, chapter, script, scene, shots
}

func TestHistoryAppendedOnRewrite(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	_, _, _, _, shots := seedMovie(t, repos)
	shot := shots[0]

	// First generation: no prior URL, so no history row.
	require.NoError(t, repos.Scripts.UpdateShotKeyframe(ctx, shot.ID, ArtifactUpdate{URL: "blob://kf1.png", Prompt: "p1"}))
	count, err := repos.History.Count(ctx, models.ResourceShotKeyframe, shot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// Each rewrite records exactly the displaced generation.
	require.NoError(t, repos.Scripts.UpdateShotKeyframe(ctx, shot.ID, ArtifactUpdate{URL: "blob://kf2.png", Prompt: "p2"}))
	require.NoError(t, repos.Scripts.UpdateShotKeyframe(ctx, shot.ID, ArtifactUpdate{URL: "blob://kf3.png", Prompt: "p3"}))

	count, err = repos.History.Count(ctx, models.ResourceShotKeyframe, shot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	rows, err := repos.History.List(ctx, models.ResourceShotKeyframe, shot.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	urls := []string{rows[0].URL, rows[1].URL}
	assert.ElementsMatch(t, []string{"blob://kf1.png", "blob://kf2.png"}, urls)

	got, err := repos.Scripts.GetShotByID(ctx, shot.ID)
	require.NoError(t, err)
	assert.Equal(t, "blob://kf3.png", got.KeyframeURL)
	assert.Equal(t, models.ArtifactStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Version)
}

func TestHistorySelectSwapsLiveArtifact(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	_, _, _, scene, _ := seedMovie(t, repos)

	require.NoError(t, repos.Scripts.UpdateSceneImage(ctx, scene.ID, ArtifactUpdate{URL: "blob://v1.png", Prompt: "first"}))
	require.NoError(t, repos.Scripts.UpdateSceneImage(ctx, scene.ID, ArtifactUpdate{URL: "blob://v2.png", Prompt: "second"}))

	rows, err := repos.History.List(ctx, models.ResourceSceneImage, scene.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "blob://v1.png", rows[0].URL)

	require.NoError(t, repos.History.Select(ctx, rows[0].ID))

	got, err := repos.Scripts.GetSceneByID(ctx, scene.ID)
	require.NoError(t, err)
	assert.Equal(t, "blob://v1.png", got.SceneImageURL)
	assert.Equal(t, "first", got.ImagePrompt)

	// The displaced generation took the entry's place; count unchanged.
	rows, err = repos.History.List(ctx, models.ResourceSceneImage, scene.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "blob://v2.png", rows[0].URL)

	// Selecting an entry that already matches the live URL is a no-op.
	require.NoError(t, repos.Scripts.UpdateSceneImage(ctx, scene.ID, ArtifactUpdate{URL: "blob://v2.png", Prompt: "second"}))
	rows, err = repos.History.List(ctx, models.ResourceSceneImage, scene.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	before := rows
	for _, row := range before {
		if row.URL == "blob://v2.png" {
			require.NoError(t, repos.History.Select(ctx, row.ID))
		}
	}
	after, err := repos.History.List(ctx, models.ResourceSceneImage, scene.ID)
	require.NoError(t, err)
	assert.Len(t, after, 2)
}

func TestScriptDeleteOrphansHistory(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	_, _, script, _, shots := seedMovie(t, repos)
	shot := shots[0]

	require.NoError(t, repos.Scripts.UpdateShotKeyframe(ctx, shot.ID, ArtifactUpdate{URL: "blob://kf1.png"}))
	require.NoError(t, repos.Scripts.UpdateShotKeyframe(ctx, shot.ID, ArtifactUpdate{URL: "blob://kf2.png"}))

	require.NoError(t, repos.Scripts.Delete(ctx, script.ID))

	_, err := repos.Scripts.GetShotByID(ctx, shot.ID)
	assert.Equal(t, models.ErrKindNotFound, models.KindOf(err))

	// History outlives the artifact, flagged orphaned.
	rows, err := repos.History.List(ctx, models.ResourceShotKeyframe, shot.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Orphaned)

	// Orphaned entries cannot go live again.
	err = repos.History.Select(ctx, rows[0].ID)
	assert.Equal(t, models.ErrKindConflict, models.KindOf(err))
}

func TestDeleteShotRefusesInFlightTransition(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	_, _, script, _, shots := seedMovie(t, repos)

	tr := &models.Transition{
		ScriptID:   script.ID,
		FromShotID: shots[0].ID,
		ToShotID:   shots[1].ID,
		OrderIndex: 1,
	}
	require.NoError(t, repos.Transitions.Create(ctx, tr))
	require.NoError(t, repos.Transitions.MarkSubmitted(ctx, tr.ID, "ext-123", models.NewULID()))

	err := repos.Scripts.DeleteShot(ctx, shots[0].ID)
	assert.Equal(t, models.ErrKindConflict, models.KindOf(err))

	// Once the transition settles, deletion proceeds and takes the
	// transition with it.
	require.NoError(t, repos.Transitions.MarkFailed(ctx, tr.ID, "provider gave up"))
	require.NoError(t, repos.Scripts.DeleteShot(ctx, shots[0].ID))

	left, err := repos.Transitions.GetByScriptID(ctx, script.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestCharacterDuplicateNameConflicts(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	project, _, _, _, _ := seedMovie(t, repos)

	require.NoError(t, repos.Characters.Create(ctx, &models.Character{ProjectID: project.ID, Name: "Ishmael"}))
	err := repos.Characters.Create(ctx, &models.Character{ProjectID: project.ID, Name: "Ishmael"})
	assert.Equal(t, models.ErrKindConflict, models.KindOf(err))

	// Same name in another project is fine.
	other := &models.Project{Name: "other", Type: models.ProjectTypeMovie}
	require.NoError(t, repos.Projects.Create(ctx, other))
	assert.NoError(t, repos.Characters.Create(ctx, &models.Character{ProjectID: other.ID, Name: "Ishmael"}))
}

func TestChapterAdvanceStatusIsMonotonic(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	_, chapter, _, _, _ := seedMovie(t, repos)

	require.NoError(t, repos.Chapters.AdvanceStatus(ctx, chapter.ID, models.PipelineStatusParsed))
	require.NoError(t, repos.Chapters.AdvanceStatus(ctx, chapter.ID, models.PipelineStatusScriptGenerated))

	err := repos.Chapters.AdvanceStatus(ctx, chapter.ID, models.PipelineStatusParsed)
	assert.Equal(t, models.ErrKindConflict, models.KindOf(err))

	// The failed sink is reachable from anywhere; leaving it needs a reset.
	require.NoError(t, repos.Chapters.AdvanceStatus(ctx, chapter.ID, models.PipelineStatusFailed))
	err = repos.Chapters.AdvanceStatus(ctx, chapter.ID, models.PipelineStatusCompleted)
	assert.Error(t, err)
	require.NoError(t, repos.Chapters.AdvanceStatus(ctx, chapter.ID, models.PipelineStatusDraft))
}

func TestTaskAcquireLocksOnce(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	_, chapter, _, _, _ := seedMovie(t, repos)

	job := &models.Job{Kind: "movie", ChapterID: chapter.ID}
	require.NoError(t, repos.Jobs.Create(ctx, job))
	task := &models.Task{JobID: job.ID, Kind: models.TaskKindImage, Stage: "keyframes", Weight: 2}
	require.NoError(t, repos.Tasks.Create(ctx, task))

	got, err := repos.Tasks.Acquire(ctx, task.ID, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.TaskStatusRunning, got.Status)
	assert.Equal(t, "worker-a", got.LockedBy)

	// A second worker must not receive the same task.
	again, err := repos.Tasks.Acquire(ctx, task.ID, "worker-b")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestTaskAcquireSettlesCancelRequest(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	_, chapter, _, _, _ := seedMovie(t, repos)

	job := &models.Job{Kind: "movie", ChapterID: chapter.ID}
	require.NoError(t, repos.Jobs.Create(ctx, job))
	task := &models.Task{JobID: job.ID, Kind: models.TaskKindText, Stage: "extract_scenes"}
	require.NoError(t, repos.Tasks.Create(ctx, task))
	require.NoError(t, repos.Tasks.RequestCancel(ctx, task.ID))

	got, err := repos.Tasks.Acquire(ctx, task.ID, "worker-a")
	require.NoError(t, err)
	assert.Nil(t, got)

	settled, err := repos.Tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, settled.Status)
}

func TestTaskAcquireRespectsBackoffDelay(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	_, chapter, _, _, _ := seedMovie(t, repos)

	job := &models.Job{Kind: "movie", ChapterID: chapter.ID}
	require.NoError(t, repos.Jobs.Create(ctx, job))
	future := models.Now().Add(time.Hour)
	task := &models.Task{JobID: job.ID, Kind: models.TaskKindText, Stage: "extract_scenes", NotBefore: &future}
	require.NoError(t, repos.Tasks.Create(ctx, task))

	got, err := repos.Tasks.Acquire(ctx, task.ID, "worker-a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReleaseStaleRequeuesAbandonedTasks(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	_, chapter, _, _, _ := seedMovie(t, repos)

	job := &models.Job{Kind: "movie", ChapterID: chapter.ID}
	require.NoError(t, repos.Jobs.Create(ctx, job))
	task := &models.Task{JobID: job.ID, Kind: models.TaskKindTTS, Stage: "voices"}
	require.NoError(t, repos.Tasks.Create(ctx, task))

	got, err := repos.Tasks.Acquire(ctx, task.ID, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, got)

	released, err := repos.Tasks.ReleaseStale(ctx, models.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	requeued, err := repos.Tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, requeued.Status)
	assert.Empty(t, requeued.LockedBy)
}

func TestJobProgressNeverMovesBackwards(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	_, chapter, _, _, _ := seedMovie(t, repos)

	job := &models.Job{Kind: "movie", ChapterID: chapter.ID}
	require.NoError(t, repos.Jobs.Create(ctx, job))

	require.NoError(t, repos.Jobs.UpdateProgress(ctx, job.ID, 0.6))
	require.NoError(t, repos.Jobs.UpdateProgress(ctx, job.ID, 0.4))

	got, err := repos.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got.Progress, 0.001)
}

func TestDeleteTerminalBeforeSweepsJobsAndTasks(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	_, chapter, _, _, _ := seedMovie(t, repos)

	old := &models.Job{Kind: "movie", ChapterID: chapter.ID}
	require.NoError(t, repos.Jobs.Create(ctx, old))
	old.MarkTerminal(models.JobStatusSuccess, "", "")
	past := models.Now().Add(-30 * 24 * time.Hour)
	old.CompletedAt = &past
	require.NoError(t, repos.Jobs.Update(ctx, old))
	require.NoError(t, repos.Tasks.Create(ctx, &models.Task{JobID: old.ID, Kind: models.TaskKindText, Stage: "extract_scenes"}))

	fresh := &models.Job{Kind: "movie", ChapterID: chapter.ID}
	require.NoError(t, repos.Jobs.Create(ctx, fresh))
	fresh.MarkTerminal(models.JobStatusSuccess, "", "")
	require.NoError(t, repos.Jobs.Update(ctx, fresh))

	deleted, err := repos.Jobs.DeleteTerminalBefore(ctx,
		models.Now().Add(-14*24*time.Hour), models.Now().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repos.Jobs.GetByID(ctx, old.ID)
	assert.Equal(t, models.ErrKindNotFound, models.KindOf(err))
	_, err = repos.Jobs.GetByID(ctx, fresh.ID)
	assert.NoError(t, err)

	tasks, err := repos.Tasks.GetByJobID(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestProjectDeleteCascades(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	project, chapter, script, _, shots := seedMovie(t, repos)

	require.NoError(t, repos.Characters.Create(ctx, &models.Character{ProjectID: project.ID, Name: "Ahab"}))
	require.NoError(t, repos.Projects.Delete(ctx, project.ID))

	_, err := repos.Chapters.GetByID(ctx, chapter.ID)
	assert.Equal(t, models.ErrKindNotFound, models.KindOf(err))
	got, err := repos.Scripts.GetByChapterID(ctx, chapter.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = repos.Scripts.GetShotByID(ctx, shots[0].ID)
	assert.Equal(t, models.ErrKindNotFound, models.KindOf(err))
	_ = script
}
