package assembly

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/aicg/aicg/internal/executor"
	"github.com/aicg/aicg/internal/models"
)

// movie renders the movie-pipeline chapter: the ordered transition
// videos concatenated with the shared-keyframe overlap trimmed, plus
// optional background music.
func (r *renderRun) movie(ctx context.Context) (*executor.AssemblyResult, error) {
	if err := r.setStatus(ctx, models.VideoTaskStatusValidating, 0.05); err != nil {
		return nil, err
	}
	script, err := r.engine.repos.Scripts.GetByChapterID(ctx, r.chapter.ID)
	if err != nil {
		return nil, err
	}
	if script == nil {
		return nil, models.NewIncompleteMaterialsError([]string{"script"})
	}
	transitions, err := r.engine.repos.Transitions.GetByScriptID(ctx, script.ID)
	if err != nil {
		return nil, err
	}
	if gaps := movieGaps(transitions); len(gaps) > 0 {
		return nil, models.NewIncompleteMaterialsError(gaps)
	}

	if err := r.setStatus(ctx, models.VideoTaskStatusDownloading, 0.1); err != nil {
		return nil, err
	}
	clips, err := r.downloadClips(ctx, transitions)
	if err != nil {
		return nil, err
	}
	bgmPath, err := r.fetchBGM(ctx)
	if err != nil {
		return nil, err
	}

	fps, err := r.voteFPS(ctx, clips)
	if err != nil {
		return nil, err
	}
	width, height := parseResolution(r.vt.Resolution)

	if err := r.setStatus(ctx, models.VideoTaskStatusConcatenating, 0.6); err != nil {
		return nil, err
	}
	out := filepath.Join(r.scratch, "chapter.mp4")
	graph := movieFilter(len(clips), overlapTrimSec(fps), width, height, fps,
		bgmPath != "", r.vt.EffectiveBGMVolume())

	var args []string
	for _, clip := range clips {
		args = append(args, "-i", clip)
	}
	if bgmPath != "" {
		args = append(args, "-stream_loop", "-1", "-i", bgmPath)
	}
	args = append(args,
		"-filter_complex", graph,
		"-map", "[vout]", "-map", "[aout]",
		"-c:v", "libx264", "-crf", strconv.Itoa(r.engine.crf), "-preset", "medium",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		out,
	)
	if err := r.engine.runner.Run(ctx, args...); err != nil {
		return nil, err
	}

	return r.upload(ctx, out)
}

// movieGaps enumerates the transitions that cannot feed the concat.
func movieGaps(transitions []*models.Transition) []string {
	if len(transitions) == 0 {
		return []string{"transition videos (none planned)"}
	}
	var gaps []string
	for _, transition := range transitions {
		if transition.Status != models.ArtifactStatusCompleted || transition.VideoURL == "" {
			gaps = append(gaps, fmt.Sprintf("transition %d video", transition.OrderIndex))
		}
	}
	return gaps
}

// downloadClips fetches the transition videos in parallel, bounded by
// the configured concurrency, preserving order.
func (r *renderRun) downloadClips(ctx context.Context, transitions []*models.Transition) ([]string, error) {
	limit := r.engine.cfg.DownloadConcurrency
	if limit < 1 {
		limit = 5
	}
	total := len(transitions)
	clips := make([]string, total)
	var fetched atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, transition := range transitions {
		g.Go(func() error {
			path := filepath.Join(r.scratch, fmt.Sprintf("clip_%03d.mp4", i))
			if err := r.fetchToFile(gctx, transition.VideoURL, path); err != nil {
				return fmt.Errorf("fetching transition %d: %w", transition.OrderIndex, err)
			}
			clips[i] = path
			done := int(fetched.Add(1))
			if err := r.engine.repos.VideoTasks.SetClipProgress(gctx, r.vt.ID, done, total); err != nil {
				r.engine.logger.Warn("recording clip progress", "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return clips, nil
}

// voteFPS probes every clip and settles on the majority frame rate.
func (r *renderRun) voteFPS(ctx context.Context, clips []string) (float64, error) {
	rates := make([]float64, 0, len(clips))
	for _, clip := range clips {
		info, err := r.engine.prober.ProbeMedia(ctx, clip)
		if err != nil {
			return 0, fmt.Errorf("probing %s: %w", filepath.Base(clip), err)
		}
		if !info.HasVideo {
			return 0, models.NewError(models.ErrKindIncompleteMaterials,
				fmt.Sprintf("%s has no video stream", filepath.Base(clip)))
		}
		rates = append(rates, info.FPS)
	}
	fallback := float64(r.vt.FPS)
	if fallback <= 0 {
		fallback = 24
	}
	return majorityFPS(rates, fallback), nil
}
