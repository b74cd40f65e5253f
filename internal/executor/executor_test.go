package executor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aicg/aicg/internal/blob"
	"github.com/aicg/aicg/internal/config"
	"github.com/aicg/aicg/internal/database"
	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/provider"
	"github.com/aicg/aicg/internal/repository"
	"github.com/aicg/aicg/internal/runtime"
	"github.com/aicg/aicg/internal/service"
)

// memQueue is an in-memory runtime.Queue the drain loop pops directly.
type memQueue struct {
	mu   sync.Mutex
	msgs []runtime.Message
}

func (q *memQueue) Enqueue(ctx context.Context, kind models.TaskKind, taskID models.ULID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, runtime.Message{Kind: kind, TaskID: taskID})
	return nil
}

func (q *memQueue) Dequeue(ctx context.Context, kinds []models.TaskKind, timeout time.Duration) (*runtime.Message, error) {
	return nil, fmt.Errorf("not used in tests")
}

func (q *memQueue) Len(ctx context.Context, kind models.TaskKind) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, msg := range q.msgs {
		if msg.Kind == kind {
			n++
		}
	}
	return n, nil
}

func (q *memQueue) Close() error { return nil }

func (q *memQueue) pop() *runtime.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return nil
	}
	msg := q.msgs[0]
	q.msgs = q.msgs[1:]
	return &msg
}

// memStore is an in-memory blob.Store.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return blob.URLFor("test-bucket", key), nil
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) Presign(ctx context.Context, key string) (string, error) {
	return "https://signed.example/" + key, nil
}

func (m *memStore) DownloadTo(ctx context.Context, key, path string) error {
	return fmt.Errorf("not implemented")
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// scriptedAdapter routes text calls by their system message so one fake
// serves every stage of a pipeline run.
type scriptedAdapter struct {
	mu        sync.Mutex
	replies   map[string]string // system-message substring -> reply
	textCalls []string

	imageData  []byte
	ttsData    []byte
	submitID   string
	pollStatus *provider.VideoStatus
}

func (f *scriptedAdapter) reply(system string) (string, error) {
	for marker, reply := range f.replies {
		if strings.Contains(system, marker) {
			return reply, nil
		}
	}
	return "", models.NewError(models.ErrKindValidation, "no scripted reply for: "+system)
}

func (f *scriptedAdapter) GenerateText(ctx context.Context, key *models.APIKey, req provider.TextRequest) (string, error) {
	f.mu.Lock()
	f.textCalls = append(f.textCalls, req.System)
	f.mu.Unlock()
	return f.reply(req.System)
}

func (f *scriptedAdapter) GenerateImage(ctx context.Context, key *models.APIKey, req provider.ImageRequest) (*provider.ImageResult, error) {
	return &provider.ImageResult{Data: f.imageData, MimeType: "image/png"}, nil
}

func (f *scriptedAdapter) Synthesize(ctx context.Context, key *models.APIKey, req provider.TTSRequest) (*provider.TTSResult, error) {
	return &provider.TTSResult{Data: f.ttsData, MimeType: "audio/mpeg"}, nil
}

func (f *scriptedAdapter) SubmitVideo(ctx context.Context, key *models.APIKey, req provider.VideoSubmitRequest) (string, error) {
	return f.submitID, nil
}

func (f *scriptedAdapter) PollVideo(ctx context.Context, key *models.APIKey, taskID string) (*provider.VideoStatus, error) {
	return f.pollStatus, nil
}

// fakeAssembler records the call and hands back a canned result.
type fakeAssembler struct {
	result *AssemblyResult
	err    error
	calls  int
}

func (a *fakeAssembler) AssembleChapter(ctx context.Context, chapterID models.ULID) (*AssemblyResult, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

type fixedProber struct{ durationMs int64 }

func (p fixedProber) AudioDurationMs(ctx context.Context, path string) (int64, error) {
	return p.durationMs, nil
}

type execTest struct {
	exec      *Executor
	repos     *repository.Repositories
	queue     *memQueue
	fake      *scriptedAdapter
	assembler *fakeAssembler
	key       *models.APIKey
}

func newExecTest(t *testing.T) *execTest {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	repos := repository.New(db)
	fake := &scriptedAdapter{
		replies:   map[string]string{},
		imageData: pngBytes(t),
		ttsData:   []byte("not real audio"),
	}
	registry := provider.NewRegistry()
	registry.Register("fake", fake)

	key := &models.APIKey{OwnerID: models.NewULID(), Name: "k", Provider: "fake", Secret: "sk-test"}
	require.NoError(t, repos.APIKeys.Create(context.Background(), key))

	svc := service.New(repos, registry, newMemStore(), fixedProber{durationMs: 1500}, nil)
	queue := &memQueue{}
	assembler := &fakeAssembler{
		result: &AssemblyResult{VideoURL: blob.URLFor("test-bucket", "final/out.mp4"), DurationMs: 48000},
	}

	return &execTest{
		exec:      New(repos, svc, queue, assembler, nil),
		repos:     repos,
		queue:     queue,
		fake:      fake,
		assembler: assembler,
		key:       key,
	}
}

func f64(v float64) *float64 { return &v }

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// drain runs queued tasks to completion the way a worker would, but
// synchronously and without backoff delays.
func (et *execTest) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	handler := et.exec.Handler()

	for i := 0; i < 500; i++ {
		msg := et.queue.pop()
		if msg == nil {
			return
		}
		task, err := et.repos.Tasks.GetByID(ctx, msg.TaskID)
		require.NoError(t, err)
		if task.IsTerminal() {
			continue
		}
		if task.CancelRequested {
			task.MarkTerminal(models.TaskStatusCancelled, string(models.ErrKindCancelled), "job cancelled")
			require.NoError(t, et.repos.Tasks.Update(ctx, task))
			require.NoError(t, et.exec.OnTaskTerminal(ctx, task))
			continue
		}

		result, err := handler(ctx, task)
		if err == nil {
			task.MarkTerminal(models.TaskStatusSuccess, "", "")
			task.Result = models.Truncate(result, 4096)
		} else if _, retry := runtime.Decide(task.Kind, err, task.Retries); retry {
			task.Retries++
			require.NoError(t, et.repos.Tasks.Update(ctx, task))
			require.NoError(t, et.queue.Enqueue(ctx, task.Kind, task.ID))
			continue
		} else {
			task.MarkTerminal(models.TaskStatusFailed, string(models.KindOf(err)), err.Error())
		}
		require.NoError(t, et.repos.Tasks.Update(ctx, task))
		require.NoError(t, et.exec.OnTaskTerminal(ctx, task))
	}
	t.Fatal("queue did not drain within the iteration budget")
}

func (et *execTest) seedChapter(t *testing.T, pt models.ProjectType, content string) *models.Chapter {
	t.Helper()
	ctx := context.Background()
	project := &models.Project{Name: "epic", Type: pt}
	require.NoError(t, et.repos.Projects.Create(ctx, project))
	chapter := &models.Chapter{ProjectID: project.ID, OrderIndex: 1, Title: "ch1", Content: content}
	require.NoError(t, et.repos.Chapters.Create(ctx, chapter))
	return chapter
}

// scriptMovieReplies wires the canned extraction chain: two characters,
// one scene, two shots, one transition prompt plus the performance
// direction for the spoken shot.
func (et *execTest) scriptMovieReplies() {
	et.fake.replies["casting director"] = `{"characters":[
		{"name":"Aldric","role_description":"knight","visual_traits":"scarred, grey cloak","dialogue_traits":"terse"},
		{"name":"Melusia","role_description":"commander","visual_traits":"silver hair","dialogue_traits":"cold"}
	]}`
	et.fake.replies["screenwriter"] = `{"scenes":[
		{"order_index":1,"location":"city gate","time_of_day":"night","scene":"Rain hammers the gate.","characters":["Aldric","Melusia"]}
	]}`
	et.fake.replies["storyboard artist"] = `{"shots":[
		{"order_index":1,"shot":"Aldric braces the gate.","camera":"wide shot","dialogue":"","characters":["Aldric"]},
		{"order_index":2,"shot":"Melusia steps from the rain.","camera":"medium shot","dialogue":"I thought you died.","characters":["Melusia"]}
	]}`
	et.fake.replies["frame-interpolated"] = "A slow dolly from the braced gate to Melusia. NO background music."
	et.fake.replies["prompt optimizer"] = "Melusia speaks softly, eyes fixed on Aldric, rain on her face."
}

func TestMoviePipelineEndToEnd(t *testing.T) {
	et := newExecTest(t)
	ctx := context.Background()
	chapter := et.seedChapter(t, models.ProjectTypeMovie, "Rain, a gate, a return.")
	et.scriptMovieReplies()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fake mp4 payload"))
	}))
	defer server.Close()
	et.fake.submitID = "ext-1"
	et.fake.pollStatus = &provider.VideoStatus{State: provider.VideoStateCompleted, VideoURL: server.URL}

	job, err := et.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID: chapter.ID,
		APIKeyID:  et.key.ID,
		Model:     "test-model",
	})
	require.NoError(t, err)
	assert.Equal(t, StageComposeVideo, job.TargetStage, "empty target defaults to the graph's last stage")

	et.drain(t)

	job, err = et.repos.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, job.Status)
	assert.Equal(t, 1.0, job.Progress)
	assert.Equal(t, et.assembler.result.VideoURL, job.ResultRef)
	assert.Zero(t, job.Statistics.Failed)

	got, err := et.repos.Chapters.GetByID(ctx, chapter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusCompleted, got.PipelineStatus)
	assert.Equal(t, et.assembler.result.VideoURL, got.VideoURL)
	assert.Equal(t, int64(48000), got.VideoDurationMs)
	assert.Equal(t, 1, et.assembler.calls)

	script, err := et.repos.Scripts.GetByChapterID(ctx, chapter.ID)
	require.NoError(t, err)
	require.Len(t, script.Scenes, 1)
	require.Len(t, script.Scenes[0].Shots, 2)
	for _, shot := range script.Scenes[0].Shots {
		assert.NotEmpty(t, shot.KeyframeURL)
	}
	assert.NotEmpty(t, script.Scenes[0].SceneImageURL)
	assert.Empty(t, script.Scenes[0].Shots[0].PerformancePrompt, "silent shot needs no direction")
	assert.NotEmpty(t, script.Scenes[0].Shots[1].PerformancePrompt, "spoken shot gets its performance direction")

	characters, err := et.repos.Characters.GetByProjectID(ctx, chapter.ProjectID)
	require.NoError(t, err)
	require.Len(t, characters, 2)
	for _, c := range characters {
		assert.NotEmpty(t, c.AvatarURL)
	}

	transitions, err := et.repos.Transitions.GetByScriptID(ctx, script.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.ArtifactStatusCompleted, transitions[0].Status)
	assert.True(t, strings.HasPrefix(transitions[0].VideoURL, blob.URLScheme))
}

func TestNarrativePipelineEndToEnd(t *testing.T) {
	et := newExecTest(t)
	ctx := context.Background()
	chapter := et.seedChapter(t, models.ProjectTypeNarrative, "第一句。第二句。")
	et.fake.replies["image prompt generator"] = `["a rainy gate, cinematic","a misty field, cinematic"]`

	job, err := et.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID: chapter.ID,
		APIKeyID:  et.key.ID,
		Model:     "test-model",
		Voice:     "alloy",
		Speed:     1.0,
		Style:     "cinematic",
	})
	require.NoError(t, err)
	assert.Equal(t, StageAssembleVideo, job.TargetStage)

	et.drain(t)

	job, err = et.repos.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, job.Status)

	sentences, err := et.repos.Sentences.GetByChapterID(ctx, chapter.ID)
	require.NoError(t, err)
	require.Len(t, sentences, 2)
	for _, sentence := range sentences {
		assert.NotEmpty(t, sentence.ImagePrompt)
		assert.NotEmpty(t, sentence.ImageURL)
		assert.NotEmpty(t, sentence.AudioURL)
		assert.Equal(t, int64(1500), sentence.DurationMs)
	}

	got, err := et.repos.Chapters.GetByID(ctx, chapter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusCompleted, got.PipelineStatus)
	assert.Equal(t, 1, et.assembler.calls)
}

func TestTargetStageBoundsTheRun(t *testing.T) {
	et := newExecTest(t)
	ctx := context.Background()
	chapter := et.seedChapter(t, models.ProjectTypeMovie, "content")
	et.scriptMovieReplies()

	job, err := et.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID:   chapter.ID,
		TargetStage: StageExtractScenes,
		APIKeyID:    et.key.ID,
		Model:       "test-model",
	})
	require.NoError(t, err)
	et.drain(t)

	job, err = et.repos.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, job.Status)
	assert.Equal(t, 2, job.Statistics.Success, "characters and scenes only")

	script, err := et.repos.Scripts.GetByChapterID(ctx, chapter.ID)
	require.NoError(t, err)
	require.Len(t, script.Scenes, 1)
	assert.Empty(t, script.Scenes[0].Shots, "downstream stages never ran")
	assert.Empty(t, script.Scenes[0].SceneImageURL)
	assert.Zero(t, et.assembler.calls)
}

func TestUnknownTargetStageRejected(t *testing.T) {
	et := newExecTest(t)
	chapter := et.seedChapter(t, models.ProjectTypeMovie, "content")

	_, err := et.exec.SubmitJob(context.Background(), SubmitRequest{
		ChapterID:   chapter.ID,
		TargetStage: "parse_sentences", // narrative stage on a movie project
		APIKeyID:    et.key.ID,
	})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindValidation, models.KindOf(err))
}

func TestResumptionSkipsExistingArtifacts(t *testing.T) {
	et := newExecTest(t)
	ctx := context.Background()
	chapter := et.seedChapter(t, models.ProjectTypeMovie, "content")
	et.scriptMovieReplies()

	first, err := et.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID: chapter.ID, TargetStage: StageExtractCharacters,
		APIKeyID: et.key.ID, Model: "test-model",
	})
	require.NoError(t, err)
	et.drain(t)

	// Break the adapter: a second run must not call it.
	delete(et.fake.replies, "casting director")

	second, err := et.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID: chapter.ID, TargetStage: StageExtractCharacters,
		APIKeyID: et.key.ID, Model: "test-model",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.JobStatusSuccess, second.Status, "settled from artifact state on the first advance")
	assert.Equal(t, 1, second.Statistics.Skipped)
	assert.Zero(t, second.Statistics.Success)
	assert.Len(t, et.fake.textCalls, 1, "only the first job hit the provider")
}

func TestStageWithoutSuccessesFailsJob(t *testing.T) {
	et := newExecTest(t)
	ctx := context.Background()
	chapter := et.seedChapter(t, models.ProjectTypeMovie, "content")
	// No scripted replies: every text call fails non-retryably.

	job, err := et.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID: chapter.ID, APIKeyID: et.key.ID, Model: "test-model",
	})
	require.NoError(t, err)
	et.drain(t)

	job, err = et.repos.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "stage_failed", job.ErrorCode)
	assert.Contains(t, job.ErrorMessage, StageExtractCharacters)

	got, err := et.repos.Chapters.GetByID(ctx, chapter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusFailed, got.PipelineStatus)
}

func TestCancelJobDrainsToCancelled(t *testing.T) {
	et := newExecTest(t)
	ctx := context.Background()
	chapter := et.seedChapter(t, models.ProjectTypeMovie, "content")
	et.scriptMovieReplies()

	job, err := et.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID: chapter.ID, APIKeyID: et.key.ID, Model: "test-model",
	})
	require.NoError(t, err)

	require.NoError(t, et.exec.CancelJob(ctx, job.ID))
	et.drain(t)

	job, err = et.repos.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Len(t, et.fake.textCalls, 0, "no provider call after cancellation")

	// Cancelling a finished job is a conflict.
	err = et.exec.CancelJob(ctx, job.ID)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindConflict, models.KindOf(err))
}

func TestPollTaskChainsAfterSubmission(t *testing.T) {
	et := newExecTest(t)
	ctx := context.Background()
	chapter := et.seedChapter(t, models.ProjectTypeMovie, "content")
	et.scriptMovieReplies()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fake mp4 payload"))
	}))
	defer server.Close()
	et.fake.submitID = "ext-7"
	et.fake.pollStatus = &provider.VideoStatus{State: provider.VideoStateCompleted, VideoURL: server.URL}

	job, err := et.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID: chapter.ID, TargetStage: StageTransitionVideos,
		APIKeyID: et.key.ID, Model: "test-model",
	})
	require.NoError(t, err)
	et.drain(t)

	tasks, err := et.repos.Tasks.GetByJobAndStage(ctx, job.ID, StageTransitionPoll)
	require.NoError(t, err)
	require.Len(t, tasks, 1, "one poll task per submitted transition")
	assert.Equal(t, models.TaskKindVideoPoll, tasks[0].Kind)
	assert.Equal(t, models.TaskStatusSuccess, tasks[0].Status)

	job, err = et.repos.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, job.Status)
	assert.Zero(t, et.assembler.calls, "target stage excluded assembly")
}

func TestContinueOnPartialReleasesDownstream(t *testing.T) {
	et := newExecTest(t)
	ctx := context.Background()
	chapter := et.seedChapter(t, models.ProjectTypeMovie, "content")
	et.scriptMovieReplies()
	// Transition prompts fail: no scripted reply for them.
	delete(et.fake.replies, "frame-interpolated")

	job, err := et.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID: chapter.ID, TargetStage: StageTransitionPrompts,
		APIKeyID: et.key.ID, Model: "test-model",
	})
	require.NoError(t, err)
	et.drain(t)

	job, err = et.repos.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status,
		"partial failures fail the job when continue_on_partial is off")

	// Same shape with the flag set: upstream failures are tolerated.
	et2 := newExecTest(t)
	chapter2 := et2.seedChapter(t, models.ProjectTypeMovie, "content")
	et2.scriptMovieReplies()
	delete(et2.fake.replies, "frame-interpolated")

	// Single-unit stages still need at least one success, so this only
	// exercises tolerance where some units succeeded; with one transition
	// the prompt stage has zero successes and the job fails either way.
	job2, err := et2.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID: chapter2.ID, TargetStage: StageTransitionPrompts,
		APIKeyID: et2.key.ID, Model: "test-model", ContinueOnPartial: true,
	})
	require.NoError(t, err)
	et2.drain(t)

	job2, err = et2.repos.Jobs.GetByID(ctx, job2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job2.Status)
	assert.Contains(t, job2.ErrorMessage, "no successes")
}

func TestVideoTaskParametersPinnedAtSubmission(t *testing.T) {
	et := newExecTest(t)
	ctx := context.Background()
	chapter := et.seedChapter(t, models.ProjectTypeNarrative, "第一句。")
	et.fake.replies["image prompt generator"] = `["a rainy gate, cinematic"]`

	_, err := et.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID:  chapter.ID,
		APIKeyID:   et.key.ID,
		Model:      "test-model",
		Resolution: "1280x720",
		FPS:        30,
		BGMVolume:  f64(0.2),
	})
	require.NoError(t, err)

	vt, err := et.repos.VideoTasks.GetByChapterID(ctx, chapter.ID)
	require.NoError(t, err)
	require.NotNil(t, vt)
	assert.Equal(t, "1280x720", vt.Resolution)
	assert.Equal(t, 30, vt.FPS)
	require.NotNil(t, vt.BGMVolume)
	assert.Equal(t, 0.2, *vt.BGMVolume)
}

func TestExplicitZeroBGMVolumeSurvives(t *testing.T) {
	et := newExecTest(t)
	ctx := context.Background()
	et.fake.replies["image prompt generator"] = `["a rainy gate, cinematic"]`

	muted := et.seedChapter(t, models.ProjectTypeNarrative, "第一句。")
	_, err := et.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID: muted.ID,
		APIKeyID:  et.key.ID,
		BGMRef:    "blob://test-bucket/music/theme.mp3",
		BGMVolume: f64(0),
	})
	require.NoError(t, err)

	vt, err := et.repos.VideoTasks.GetByChapterID(ctx, muted.ID)
	require.NoError(t, err)
	require.NotNil(t, vt)
	require.NotNil(t, vt.BGMVolume, "an explicit zero must not round-trip to unset")
	assert.Zero(t, *vt.BGMVolume)
	assert.Zero(t, vt.EffectiveBGMVolume())

	// Leaving the volume unset keeps the default gain.
	plain := et.seedChapter(t, models.ProjectTypeNarrative, "第一句。")
	_, err = et.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID: plain.ID,
		APIKeyID:  et.key.ID,
		BGMRef:    "blob://test-bucket/music/theme.mp3",
	})
	require.NoError(t, err)

	vt, err = et.repos.VideoTasks.GetByChapterID(ctx, plain.ID)
	require.NoError(t, err)
	require.NotNil(t, vt)
	assert.Nil(t, vt.BGMVolume)
	assert.Equal(t, models.DefaultBGMVolume, vt.EffectiveBGMVolume())
}

func TestInvalidBGMVolumeRejected(t *testing.T) {
	et := newExecTest(t)
	chapter := et.seedChapter(t, models.ProjectTypeNarrative, "第一句。")

	_, err := et.exec.SubmitJob(context.Background(), SubmitRequest{
		ChapterID: chapter.ID,
		APIKeyID:  et.key.ID,
		BGMVolume: f64(0.9),
	})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindValidation, models.KindOf(err))
}

func TestTransitionPromptsWaitForKeyframes(t *testing.T) {
	et := newExecTest(t)
	ctx := context.Background()
	chapter := et.seedChapter(t, models.ProjectTypeMovie, "content")
	et.scriptMovieReplies()

	job, err := et.exec.SubmitJob(ctx, SubmitRequest{
		ChapterID: chapter.ID, TargetStage: StageTransitionPrompts,
		APIKeyID: et.key.ID, Model: "test-model",
	})
	require.NoError(t, err)

	// Run tasks until storyboarding is done but keyframes are still
	// outstanding.
	handler := et.exec.Handler()
	for i := 0; i < 100; i++ {
		msg := et.queue.pop()
		require.NotNil(t, msg, "queue drained before shots were extracted")
		task, err := et.repos.Tasks.GetByID(ctx, msg.TaskID)
		require.NoError(t, err)
		if task.IsTerminal() {
			continue
		}
		result, err := handler(ctx, task)
		require.NoError(t, err)
		task.MarkTerminal(models.TaskStatusSuccess, "", "")
		task.Result = models.Truncate(result, 4096)
		require.NoError(t, et.repos.Tasks.Update(ctx, task))
		require.NoError(t, et.exec.OnTaskTerminal(ctx, task))
		if task.Stage == StageExtractShots {
			break
		}
	}

	prompts, err := et.repos.Tasks.GetByJobAndStage(ctx, job.ID, StageTransitionPrompts)
	require.NoError(t, err)
	assert.Empty(t, prompts, "prompt synthesis must not start while keyframes are in flight")

	et.drain(t)

	job, err = et.repos.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, job.Status)

	prompts, err = et.repos.Tasks.GetByJobAndStage(ctx, job.ID, StageTransitionPrompts)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, models.TaskStatusSuccess, prompts[0].Status)

	stages, err := movieGraph.required(StageTransitionPrompts)
	require.NoError(t, err)
	assert.Contains(t, stages, StageShotKeyframes, "the prompt stage's closure pulls in keyframes")
}

func TestRequiredClosure(t *testing.T) {
	stages, err := movieGraph.required(StageShotKeyframes)
	require.NoError(t, err)
	assert.Equal(t, []string{
		StageExtractCharacters,
		StageExtractScenes,
		StageExtractShots,
		StageSceneImages,
		StageCharacterAvatars,
		StageShotKeyframes,
	}, stages, "closure is topologically ordered")

	_, err = narrativeGraph.required("compose_video")
	require.Error(t, err)
}
