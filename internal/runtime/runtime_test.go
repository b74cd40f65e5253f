package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aicg/aicg/internal/config"
	"github.com/aicg/aicg/internal/database"
	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/repository"
)

func newTestQueue(t *testing.T) Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueueFromClient(client, "aicg-test")
}

func newTestRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return repository.New(db)
}

func seedTask(t *testing.T, repos *repository.Repositories, kind models.TaskKind) *models.Task {
	t.Helper()
	ctx := context.Background()
	project := &models.Project{Name: "p", Type: models.ProjectTypeMovie}
	require.NoError(t, repos.Projects.Create(ctx, project))
	chapter := &models.Chapter{ProjectID: project.ID, OrderIndex: 1, Title: "c"}
	require.NoError(t, repos.Chapters.Create(ctx, chapter))
	job := &models.Job{Kind: "movie", ChapterID: chapter.ID}
	require.NoError(t, repos.Jobs.Create(ctx, job))
	task := &models.Task{JobID: job.ID, Kind: kind, Stage: "extract_scenes", Weight: models.TaskWeight(kind)}
	require.NoError(t, repos.Tasks.Create(ctx, task))
	return task
}

func TestQueueRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	id := models.NewULID()

	require.NoError(t, q.Enqueue(ctx, models.TaskKindImage, id))

	depth, err := q.Len(ctx, models.TaskKindImage)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	msg, err := q.Dequeue(ctx, []models.TaskKind{models.TaskKindImage}, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, models.TaskKindImage, msg.Kind)
	assert.Equal(t, id, msg.TaskID)

	// Empty queue times out without error.
	msg, err = q.Dequeue(ctx, []models.TaskKind{models.TaskKindImage}, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestQueueKindRouting(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	textID := models.NewULID()
	ttsID := models.NewULID()
	require.NoError(t, q.Enqueue(ctx, models.TaskKindText, textID))
	require.NoError(t, q.Enqueue(ctx, models.TaskKindTTS, ttsID))

	// A consumer of only tts never sees the text task.
	msg, err := q.Dequeue(ctx, []models.TaskKind{models.TaskKindTTS}, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, ttsID, msg.TaskID)

	depth, err := q.Len(ctx, models.TaskKindText)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestDecide(t *testing.T) {
	providerErr := models.NewError(models.ErrKindProvider, "boom")
	quotaErr := models.NewError(models.ErrKindQuota, "slow down")
	policyErr := models.NewError(models.ErrKindContentPolicy, "refused")
	malformedErr := models.NewError(models.ErrKindMalformedResponse, "not json")

	delay, retry := Decide(models.TaskKindText, providerErr, 0)
	assert.True(t, retry)
	assert.Equal(t, 2*time.Second, delay)

	delay, retry = Decide(models.TaskKindText, providerErr, 2)
	assert.True(t, retry)
	assert.Equal(t, 8*time.Second, delay)

	_, retry = Decide(models.TaskKindText, providerErr, 3)
	assert.False(t, retry, "text budget is 3 retries")

	_, retry = Decide(models.TaskKindImage, providerErr, 2)
	assert.False(t, retry, "image budget is 2 retries")

	// Poll tasks retry forever, capped at the max backoff.
	delay, retry = Decide(models.TaskKindVideoPoll, providerErr, 50)
	assert.True(t, retry)
	assert.Equal(t, 60*time.Second, delay)

	// Quota backs off on the slower curve.
	delay, retry = Decide(models.TaskKindText, quotaErr, 2)
	assert.True(t, retry)
	assert.Equal(t, 8*time.Second, delay)
	delay, retry = Decide(models.TaskKindVideoPoll, quotaErr, 10)
	assert.True(t, retry)
	assert.Equal(t, 300*time.Second, delay)

	_, retry = Decide(models.TaskKindText, policyErr, 0)
	assert.False(t, retry, "content policy is never retried")

	_, retry = Decide(models.TaskKindText, malformedErr, 0)
	assert.True(t, retry, "malformed gets one re-ask")
	_, retry = Decide(models.TaskKindText, malformedErr, 1)
	assert.False(t, retry)

	_, retry = Decide(models.TaskKindAssembly, providerErr, 0)
	assert.False(t, retry, "assembly is never retried")

	_, retry = Decide(models.TaskKindText, context.Canceled, 0)
	assert.False(t, retry)
}

func workerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		PollInterval:  20 * time.Millisecond,
		LockTimeout:   time.Minute,
		JobTTLSuccess: 14 * 24 * time.Hour,
		JobTTLFailure: 90 * 24 * time.Hour,
	}
}

func waitForStatus(t *testing.T, repos *repository.Repositories, id models.ULID, want models.TaskStatus) *models.Task {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		task, err := repos.Tasks.GetByID(context.Background(), id)
		require.NoError(t, err)
		if task.Status == want {
			return task
		}
		select {
		case <-deadline:
			t.Fatalf("task never reached %s, still %s", want, task.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWorkerRunsTaskToSuccess(t *testing.T) {
	repos := newTestRepos(t)
	q := newTestQueue(t)
	task := seedTask(t, repos, models.TaskKindText)

	var terminal atomic.Int32
	handler := func(ctx context.Context, task *models.Task) (string, error) {
		return "done", nil
	}
	w := NewWorker(workerConfig(), q, repos.Tasks, repos.Jobs, handler,
		func(ctx context.Context, task *models.Task) { terminal.Add(1) }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, q.Enqueue(ctx, models.TaskKindText, task.ID))

	got := waitForStatus(t, repos, task.ID, models.TaskStatusSuccess)
	assert.Equal(t, "done", got.Result)
	assert.Eventually(t, func() bool { return terminal.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWorkerSchedulesRetry(t *testing.T) {
	repos := newTestRepos(t)
	q := newTestQueue(t)
	task := seedTask(t, repos, models.TaskKindText)

	handler := func(ctx context.Context, task *models.Task) (string, error) {
		return "", models.NewError(models.ErrKindProvider, "flaky upstream")
	}
	w := NewWorker(workerConfig(), q, repos.Tasks, repos.Jobs, handler, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, q.Enqueue(ctx, models.TaskKindText, task.ID))

	got := waitForStatus(t, repos, task.ID, models.TaskStatusPending)
	assert.Eventually(t, func() bool {
		got, err := repos.Tasks.GetByID(context.Background(), task.ID)
		require.NoError(t, err)
		return got.Retries == 1 && got.NotBefore != nil
	}, 5*time.Second, 10*time.Millisecond)
	got, err := repos.Tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, got.NotBefore.After(time.Now()), "retry is delayed")
}

func TestWorkerFailsTerminallyOnContentPolicy(t *testing.T) {
	repos := newTestRepos(t)
	q := newTestQueue(t)
	task := seedTask(t, repos, models.TaskKindImage)

	handler := func(ctx context.Context, task *models.Task) (string, error) {
		return "", models.NewError(models.ErrKindContentPolicy, "refused by provider")
	}
	w := NewWorker(workerConfig(), q, repos.Tasks, repos.Jobs, handler, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, q.Enqueue(ctx, models.TaskKindImage, task.ID))

	got := waitForStatus(t, repos, task.ID, models.TaskStatusFailed)
	assert.Equal(t, string(models.ErrKindContentPolicy), got.ErrorCode)
	assert.Equal(t, 0, got.Retries)
}

func TestWorkerHonoursJobCancel(t *testing.T) {
	repos := newTestRepos(t)
	q := newTestQueue(t)
	task := seedTask(t, repos, models.TaskKindText)
	require.NoError(t, repos.Jobs.RequestCancel(context.Background(), task.JobID))

	var ran atomic.Bool
	handler := func(ctx context.Context, task *models.Task) (string, error) {
		ran.Store(true)
		return "", nil
	}
	w := NewWorker(workerConfig(), q, repos.Tasks, repos.Jobs, handler, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, q.Enqueue(ctx, models.TaskKindText, task.ID))

	got := waitForStatus(t, repos, task.ID, models.TaskStatusCancelled)
	assert.Equal(t, string(models.ErrKindCancelled), got.ErrorCode)
	assert.False(t, ran.Load(), "handler must not run for a cancelled job")
}

func TestWorkerInterruptsRunningTaskOnCancel(t *testing.T) {
	repos := newTestRepos(t)
	q := newTestQueue(t)
	task := seedTask(t, repos, models.TaskKindText)

	started := make(chan struct{})
	var sawCancel atomic.Bool
	handler := func(ctx context.Context, task *models.Task) (string, error) {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return "", ctx.Err()
	}
	w := NewWorker(workerConfig(), q, repos.Tasks, repos.Jobs, handler, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, q.Enqueue(ctx, models.TaskKindText, task.ID))

	// Cancel the job only once the handler is already running.
	<-started
	require.NoError(t, repos.Jobs.RequestCancel(context.Background(), task.JobID))

	got := waitForStatus(t, repos, task.ID, models.TaskStatusCancelled)
	assert.Equal(t, string(models.ErrKindCancelled), got.ErrorCode)
	assert.True(t, sawCancel.Load(), "the in-flight handler's context must be cancelled")
}
