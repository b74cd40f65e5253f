package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aicg/aicg/internal/config"
	"github.com/aicg/aicg/internal/database"
	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/repository"
)

// fakePoller scripts per-transition outcomes.
type fakePoller struct {
	done  map[models.ULID]bool
	calls map[models.ULID]int
}

func newFakePoller() *fakePoller {
	return &fakePoller{done: map[models.ULID]bool{}, calls: map[models.ULID]int{}}
}

func (f *fakePoller) PollTransition(ctx context.Context, id models.ULID) (bool, error) {
	f.calls[id]++
	return f.done[id], nil
}

// fakeAdvancer records which jobs got re-planned.
type fakeAdvancer struct {
	advanced []models.ULID
}

func (f *fakeAdvancer) Advance(ctx context.Context, jobID models.ULID) error {
	f.advanced = append(f.advanced, jobID)
	return nil
}

type sweeperTest struct {
	repos    *repository.Repositories
	poller   *fakePoller
	advancer *fakeAdvancer
	sweeper  *Sweeper
}

func newSweeperTest(t *testing.T) *sweeperTest {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	repos := repository.New(db)
	poller := newFakePoller()
	advancer := &fakeAdvancer{}
	cfg := config.SweeperConfig{MinInterval: 5 * time.Second, MaxInterval: 60 * time.Second}
	return &sweeperTest{
		repos:    repos,
		poller:   poller,
		advancer: advancer,
		sweeper:  New(repos, poller, advancer, cfg, nil),
	}
}

// seedInFlight creates a chapter with one submitted transition.
func (st *sweeperTest) seedInFlight(t *testing.T) (*models.Chapter, *models.Transition) {
	t.Helper()
	ctx := context.Background()
	project := &models.Project{Name: "epic", Type: models.ProjectTypeMovie}
	require.NoError(t, st.repos.Projects.Create(ctx, project))
	chapter := &models.Chapter{ProjectID: project.ID, OrderIndex: 1, Content: "text"}
	require.NoError(t, st.repos.Chapters.Create(ctx, chapter))
	script := &models.Script{ChapterID: chapter.ID}
	require.NoError(t, st.repos.Scripts.Create(ctx, script))
	scene := &models.Scene{ScriptID: script.ID, OrderIndex: 1, Description: "gate"}
	require.NoError(t, st.repos.Scripts.CreateScenes(ctx, []*models.Scene{scene}))
	shots := []*models.Shot{
		{SceneID: scene.ID, OrderIndex: 1, VisualDescription: "a"},
		{SceneID: scene.ID, OrderIndex: 2, VisualDescription: "b"},
	}
	require.NoError(t, st.repos.Scripts.CreateShots(ctx, shots))

	transition := &models.Transition{
		ScriptID: script.ID, FromShotID: shots[0].ID, ToShotID: shots[1].ID, OrderIndex: 1,
	}
	require.NoError(t, st.repos.Transitions.Create(ctx, transition))
	key := &models.APIKey{OwnerID: models.NewULID(), Name: "k", Provider: "fake", Secret: "sk"}
	require.NoError(t, st.repos.APIKeys.Create(ctx, key))
	require.NoError(t, st.repos.Transitions.MarkSubmitted(ctx, transition.ID, "ext-1", key.ID))
	return chapter, transition
}

func TestSweepPollsInFlightTransitions(t *testing.T) {
	st := newSweeperTest(t)
	ctx := context.Background()
	_, transition := st.seedInFlight(t)

	require.NoError(t, st.sweeper.SweepOnce(ctx))
	assert.Equal(t, 1, st.poller.calls[transition.ID])

	// Not settled yet: backoff doubled and the next poll is deferred.
	state := st.sweeper.schedule[transition.ID]
	require.NotNil(t, state)
	assert.Equal(t, 10*time.Second, state.interval)

	require.NoError(t, st.sweeper.SweepOnce(ctx))
	assert.Equal(t, 1, st.poller.calls[transition.ID], "deferred transition is not re-polled early")
}

func TestSweepBackoffCapped(t *testing.T) {
	st := newSweeperTest(t)
	ctx := context.Background()
	_, transition := st.seedInFlight(t)

	for i := 0; i < 8; i++ {
		require.NoError(t, st.sweeper.SweepOnce(ctx))
		// Force the next poll due immediately to observe pure doubling.
		if state := st.sweeper.schedule[transition.ID]; state != nil {
			state.next = time.Time{}
		}
	}
	assert.Equal(t, 60*time.Second, st.sweeper.schedule[transition.ID].interval)
}

func TestSweepNotifiesJobsOnSettle(t *testing.T) {
	st := newSweeperTest(t)
	ctx := context.Background()
	chapter, transition := st.seedInFlight(t)

	job := &models.Job{Kind: "movie", ChapterID: chapter.ID, TargetStage: "compose_video"}
	job.MarkRunning()
	require.NoError(t, st.repos.Jobs.Create(ctx, job))
	doneJob := &models.Job{Kind: "movie", ChapterID: chapter.ID, TargetStage: "compose_video"}
	doneJob.MarkTerminal(models.JobStatusSuccess, "", "")
	require.NoError(t, st.repos.Jobs.Create(ctx, doneJob))

	st.poller.done[transition.ID] = true
	require.NoError(t, st.sweeper.SweepOnce(ctx))

	assert.Equal(t, []models.ULID{job.ID}, st.advancer.advanced, "only live jobs are re-planned")
	assert.NotContains(t, st.sweeper.schedule, transition.ID, "settled transition leaves the schedule")
}

func TestSweepDropsExternallySettled(t *testing.T) {
	st := newSweeperTest(t)
	ctx := context.Background()
	_, transition := st.seedInFlight(t)

	require.NoError(t, st.sweeper.SweepOnce(ctx))
	require.Contains(t, st.sweeper.schedule, transition.ID)

	// Settled by a worker poll task between sweeps.
	require.NoError(t, st.repos.Transitions.MarkFailed(ctx, transition.ID, "rejected"))
	require.NoError(t, st.sweeper.SweepOnce(ctx))
	assert.NotContains(t, st.sweeper.schedule, transition.ID)
}

func TestJanitorDeletesExpiredJobs(t *testing.T) {
	st := newSweeperTest(t)
	ctx := context.Background()

	project := &models.Project{Name: "p", Type: models.ProjectTypeMovie}
	require.NoError(t, st.repos.Projects.Create(ctx, project))
	chapter := &models.Chapter{ProjectID: project.ID, OrderIndex: 1}
	require.NoError(t, st.repos.Chapters.Create(ctx, chapter))

	old := models.Time(time.Now().Add(-30 * 24 * time.Hour))
	expired := &models.Job{Kind: "movie", ChapterID: chapter.ID}
	expired.MarkTerminal(models.JobStatusSuccess, "", "")
	expired.CompletedAt = &old
	require.NoError(t, st.repos.Jobs.Create(ctx, expired))

	freshFailed := &models.Job{Kind: "movie", ChapterID: chapter.ID}
	freshFailed.MarkTerminal(models.JobStatusFailed, "stage_failed", "boom")
	require.NoError(t, st.repos.Jobs.Create(ctx, freshFailed))

	janitor := NewJanitor(st.repos.Jobs, 14*24*time.Hour, 90*24*time.Hour, nil)
	require.NoError(t, janitor.SweepOnce(ctx))

	_, err := st.repos.Jobs.GetByID(ctx, expired.ID)
	require.Error(t, err, "expired success job is gone")
	_, err = st.repos.Jobs.GetByID(ctx, freshFailed.ID)
	require.NoError(t, err, "failed job inside its window survives")
}
