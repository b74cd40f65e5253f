// Package assembly renders a chapter's final video with FFmpeg: it
// validates upstream materials, downloads them into a scratch directory,
// builds the filter graph for the chapter's pipeline and uploads the
// result. The chapter's VideoTask row tracks progress through the
// stages.
package assembly

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aicg/aicg/internal/blob"
	"github.com/aicg/aicg/internal/config"
	"github.com/aicg/aicg/internal/executor"
	"github.com/aicg/aicg/internal/ffmpeg"
	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/observability"
	"github.com/aicg/aicg/internal/repository"
)

// Engine is the FFmpeg-backed executor.Assembler.
type Engine struct {
	repos      *repository.Repositories
	store      blob.Store
	runner     *ffmpeg.Runner
	prober     *ffmpeg.Prober
	cfg        config.AssemblyConfig
	crf        int
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an assembly engine.
func New(repos *repository.Repositories, store blob.Store, runner *ffmpeg.Runner, prober *ffmpeg.Prober, cfg config.AssemblyConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	crf := cfg.CRF
	if crf == 0 {
		crf = 18
	}
	return &Engine{
		repos:      repos,
		store:      store,
		runner:     runner,
		prober:     prober,
		cfg:        cfg,
		crf:        crf,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     observability.WithComponent(logger, "assembly"),
	}
}

// AssembleChapter renders the chapter's final video. The VideoTask row is
// created on demand and carries the render parameters; failures are
// recorded on it before the error propagates.
func (e *Engine) AssembleChapter(ctx context.Context, chapterID models.ULID) (*executor.AssemblyResult, error) {
	chapter, err := e.repos.Chapters.GetByID(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	project, err := e.repos.Projects.GetByID(ctx, chapter.ProjectID)
	if err != nil {
		return nil, err
	}
	vt, err := e.repos.VideoTasks.GetByChapterID(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if vt == nil {
		vt = &models.VideoTask{ChapterID: chapterID}
		if err := e.repos.VideoTasks.Create(ctx, vt); err != nil {
			return nil, err
		}
	}

	scratch, err := os.MkdirTemp(e.cfg.ScratchDir, "aicg-assembly-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	run := &renderRun{
		engine:  e,
		chapter: chapter,
		project: project,
		vt:      vt,
		scratch: scratch,
	}

	var result *executor.AssemblyResult
	switch project.Type {
	case models.ProjectTypeMovie:
		result, err = run.movie(ctx)
	case models.ProjectTypeNarrative:
		result, err = run.narrative(ctx)
	default:
		err = models.NewError(models.ErrKindValidation,
			fmt.Sprintf("unknown project type %q", project.Type))
	}
	if err != nil {
		if mfErr := e.repos.VideoTasks.MarkFailed(ctx, vt.ID, err.Error()); mfErr != nil {
			e.logger.Error("recording assembly failure", "video_task_id", vt.ID.String(), "error", mfErr)
		}
		return nil, err
	}
	if err := e.repos.VideoTasks.MarkCompleted(ctx, vt.ID, result.VideoURL, result.DurationMs); err != nil {
		return nil, err
	}
	e.logger.Info("chapter assembled",
		"chapter_id", chapterID.String(),
		"url", result.VideoURL,
		"duration_ms", result.DurationMs)
	return result, nil
}

// renderRun carries the per-invocation state through one render.
type renderRun struct {
	engine  *Engine
	chapter *models.Chapter
	project *models.Project
	vt      *models.VideoTask
	scratch string
}

func (r *renderRun) setStatus(ctx context.Context, status models.VideoTaskStatus, progress float64) error {
	return r.engine.repos.VideoTasks.SetStatus(ctx, r.vt.ID, status, progress)
}

// fetchToFile materializes a blob or HTTP URL as a local file.
func (r *renderRun) fetchToFile(ctx context.Context, url, path string) error {
	if strings.HasPrefix(url, blob.URLScheme) {
		_, key, err := blob.KeyFromURL(url)
		if err != nil {
			return err
		}
		return r.engine.store.DownloadTo(ctx, key, path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}
	resp, err := r.engine.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: status %d", url, resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// bgmEnabled reports whether a music bed should be mixed at all. An
// explicit zero volume disables it, keeping the dialogue track
// bit-identical to a run with no music: amix re-normalizes the
// foreground even at zero gain.
func bgmEnabled(vt *models.VideoTask) bool {
	return vt.BGMRef != "" && vt.EffectiveBGMVolume() > 0
}

// fetchBGM downloads the background music reference, when in use.
func (r *renderRun) fetchBGM(ctx context.Context) (string, error) {
	if !bgmEnabled(r.vt) {
		return "", nil
	}
	path := filepath.Join(r.scratch, "bgm"+refExt(r.vt.BGMRef))
	if err := r.fetchToFile(ctx, r.vt.BGMRef, path); err != nil {
		return "", fmt.Errorf("fetching bgm: %w", err)
	}
	return path, nil
}

// refExt picks a file extension from a URL, defaulting to mp3.
func refExt(url string) string {
	ext := filepath.Ext(url)
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, "?&") {
		return ".mp3"
	}
	return ext
}

// upload stores the rendered file and returns its blob URL and measured
// duration.
func (r *renderRun) upload(ctx context.Context, path string) (*executor.AssemblyResult, error) {
	if err := r.setStatus(ctx, models.VideoTaskStatusUploading, 0.9); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rendered video: %w", err)
	}
	info, err := r.engine.prober.ProbeMedia(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probing rendered video: %w", err)
	}

	key := blob.ObjectKey(r.project.ID, models.ResourceChapterVideo, "mp4")
	url, err := r.engine.store.Put(ctx, key, data, "video/mp4")
	if err != nil {
		return nil, err
	}
	return &executor.AssemblyResult{VideoURL: url, DurationMs: info.DurationMs}, nil
}
