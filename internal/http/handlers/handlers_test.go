package handlers

import (
	"context"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aicg/aicg/internal/config"
	"github.com/aicg/aicg/internal/database"
	"github.com/aicg/aicg/internal/executor"
	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/repository"
)

// fakeController records submissions and returns scripted results.
type fakeController struct {
	submitted []executor.SubmitRequest
	submitErr error
	cancelErr error
	job       *models.Job
}

func (f *fakeController) SubmitJob(ctx context.Context, req executor.SubmitRequest) (*models.Job, error) {
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.job, nil
}

func (f *fakeController) CancelJob(ctx context.Context, jobID models.ULID) error {
	return f.cancelErr
}

func newTestRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return repository.New(db)
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	se, ok := err.(huma.StatusError)
	require.True(t, ok, "expected a status error, got %T", err)
	assert.Equal(t, status, se.GetStatus())
}

func TestSubmitJobPassesParametersThrough(t *testing.T) {
	chapterID := models.NewULID()
	keyID := models.NewULID()
	control := &fakeController{job: &models.Job{Kind: "movie", ChapterID: chapterID}}
	h := NewJobHandler(control, nil, nil)

	input := &SubmitJobInput{}
	input.Body.ChapterID = chapterID.String()
	input.Body.APIKeyID = keyID.String()
	input.Body.TargetStage = "extract_scenes"
	input.Body.Voice = "alloy"
	input.Body.Speed = 1.2
	bgmVolume := 0.3
	input.Body.BGMVolume = &bgmVolume

	out, err := h.Submit(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "movie", out.Body.Kind)

	require.Len(t, control.submitted, 1)
	req := control.submitted[0]
	assert.Equal(t, chapterID, req.ChapterID)
	assert.Equal(t, keyID, req.APIKeyID)
	assert.Equal(t, "extract_scenes", req.TargetStage)
	assert.Equal(t, "alloy", req.Voice)
	assert.Equal(t, 1.2, req.Speed)
	require.NotNil(t, req.BGMVolume)
	assert.Equal(t, 0.3, *req.BGMVolume, "volume passes through as-is; zero stays zero")
}

func TestSubmitJobRejectsMalformedIDs(t *testing.T) {
	h := NewJobHandler(&fakeController{}, nil, nil)

	input := &SubmitJobInput{}
	input.Body.ChapterID = "not-a-ulid"
	_, err := h.Submit(context.Background(), input)
	requireStatus(t, err, 400)

	input.Body.ChapterID = models.NewULID().String()
	input.Body.APIKeyID = "also-bad"
	_, err = h.Submit(context.Background(), input)
	requireStatus(t, err, 400)
}

func TestSubmitJobMapsClassifiedErrors(t *testing.T) {
	cases := []struct {
		kind   models.ErrorKind
		status int
	}{
		{models.ErrKindValidation, 422},
		{models.ErrKindNotFound, 404},
		{models.ErrKindConflict, 409},
		{models.ErrKindProvider, 500},
	}
	for _, tc := range cases {
		control := &fakeController{submitErr: models.NewError(tc.kind, "boom")}
		h := NewJobHandler(control, nil, nil)

		input := &SubmitJobInput{}
		input.Body.ChapterID = models.NewULID().String()
		_, err := h.Submit(context.Background(), input)
		requireStatus(t, err, tc.status)
	}
}

func TestGetJobNotFound(t *testing.T) {
	repos := newTestRepos(t)
	h := NewJobHandler(&fakeController{}, repos.Jobs, repos.Tasks)

	_, err := h.GetByID(context.Background(), &GetJobInput{ID: models.NewULID().String()})
	requireStatus(t, err, 404)
}

func TestListTasksReturnsJobTasks(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	project := &models.Project{Name: "p", Type: models.ProjectTypeMovie}
	require.NoError(t, repos.Projects.Create(ctx, project))
	chapter := &models.Chapter{ProjectID: project.ID, OrderIndex: 1}
	require.NoError(t, repos.Chapters.Create(ctx, chapter))
	job := &models.Job{Kind: "movie", ChapterID: chapter.ID}
	require.NoError(t, repos.Jobs.Create(ctx, job))
	task := &models.Task{JobID: job.ID, Kind: models.TaskKindText, Stage: "extract_characters"}
	require.NoError(t, repos.Tasks.Create(ctx, task))

	h := NewJobHandler(&fakeController{}, repos.Jobs, repos.Tasks)
	out, err := h.ListTasks(ctx, &ListJobTasksInput{ID: job.ID.String()})
	require.NoError(t, err)
	require.Len(t, out.Body.Tasks, 1)
	assert.Equal(t, "extract_characters", out.Body.Tasks[0].Stage)

	// Unknown job surfaces 404, not an empty list.
	_, err = h.ListTasks(ctx, &ListJobTasksInput{ID: models.NewULID().String()})
	requireStatus(t, err, 404)
}

func TestCancelJobConflict(t *testing.T) {
	control := &fakeController{cancelErr: models.NewError(models.ErrKindConflict, "job already finished")}
	h := NewJobHandler(control, nil, nil)

	_, err := h.Cancel(context.Background(), &CancelJobInput{ID: models.NewULID().String()})
	requireStatus(t, err, 409)
}

func TestVideoTaskStatusByChapter(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	project := &models.Project{Name: "p", Type: models.ProjectTypeNarrative}
	require.NoError(t, repos.Projects.Create(ctx, project))
	chapter := &models.Chapter{ProjectID: project.ID, OrderIndex: 1}
	require.NoError(t, repos.Chapters.Create(ctx, chapter))
	vt := &models.VideoTask{ChapterID: chapter.ID, Resolution: "1280x720", FPS: 30}
	require.NoError(t, repos.VideoTasks.Create(ctx, vt))
	require.NoError(t, repos.VideoTasks.SetClipProgress(ctx, vt.ID, 3, 10))

	h := NewVideoHandler(repos.VideoTasks)
	out, err := h.GetByChapter(ctx, &GetVideoTaskInput{ID: chapter.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "1280x720", out.Body.Resolution)
	assert.Equal(t, 3, out.Body.CurrentClipIndex)
	assert.Equal(t, 10, out.Body.TotalClips)

	_, err = h.GetByChapter(ctx, &GetVideoTaskInput{ID: models.NewULID().String()})
	requireStatus(t, err, 404)
}

// fakeHistoryService scripts history responses.
type fakeHistoryService struct {
	entries   []*models.GenerationHistory
	selected  []models.ULID
	deleted   []models.ULID
	selectErr error
}

func (f *fakeHistoryService) ListHistory(ctx context.Context, rt models.ResourceType, resourceID models.ULID) ([]*models.GenerationHistory, error) {
	return f.entries, nil
}

func (f *fakeHistoryService) SelectHistory(ctx context.Context, historyID models.ULID) error {
	if f.selectErr != nil {
		return f.selectErr
	}
	f.selected = append(f.selected, historyID)
	return nil
}

func (f *fakeHistoryService) DeleteHistory(ctx context.Context, historyID models.ULID) error {
	f.deleted = append(f.deleted, historyID)
	return nil
}

func TestHistoryEndpoints(t *testing.T) {
	svc := &fakeHistoryService{
		entries: []*models.GenerationHistory{
			{ResourceType: models.ResourceShotKeyframe, URL: "blob://b/k1.png"},
		},
	}
	h := NewHistoryHandler(svc)
	ctx := context.Background()

	out, err := h.List(ctx, &ListHistoryInput{
		ResourceType: "shot_keyframe",
		ResourceID:   models.NewULID().String(),
	})
	require.NoError(t, err)
	require.Len(t, out.Body.History, 1)
	assert.Equal(t, "blob://b/k1.png", out.Body.History[0].URL)

	id := models.NewULID()
	_, err = h.Select(ctx, &SelectHistoryInput{ID: id.String()})
	require.NoError(t, err)
	assert.Equal(t, []models.ULID{id}, svc.selected)

	_, err = h.Delete(ctx, &DeleteHistoryInput{ID: id.String()})
	require.NoError(t, err)
	assert.Equal(t, []models.ULID{id}, svc.deleted)
}

func TestHistorySelectOrphanedConflict(t *testing.T) {
	svc := &fakeHistoryService{
		selectErr: models.NewError(models.ErrKindConflict, "cannot select an orphaned entry"),
	}
	h := NewHistoryHandler(svc)

	_, err := h.Select(context.Background(), &SelectHistoryInput{ID: models.NewULID().String()})
	requireStatus(t, err, 409)
}

func TestHealthReportsDatabase(t *testing.T) {
	h := NewHealthHandler("1.2.3")
	out, err := h.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "healthy", out.Body.Status)
	assert.Equal(t, "1.2.3", out.Body.Version)
	assert.Equal(t, "unknown", out.Body.Checks["database"])

	db, err := database.New(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	out, err = h.WithDB(db).GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Body.Checks["database"])
}
