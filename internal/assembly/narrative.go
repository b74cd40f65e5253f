package assembly

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aicg/aicg/internal/executor"
	"github.com/aicg/aicg/internal/models"
)

// narrative renders the narrative-pipeline chapter: one ken-burns clip
// per sentence (image animated for the measured audio duration, subtitle
// burned in), concatenated in order with optional background music.
func (r *renderRun) narrative(ctx context.Context) (*executor.AssemblyResult, error) {
	if err := r.setStatus(ctx, models.VideoTaskStatusValidating, 0.05); err != nil {
		return nil, err
	}
	sentences, err := r.engine.repos.Sentences.GetByChapterID(ctx, r.chapter.ID)
	if err != nil {
		return nil, err
	}
	if gaps := narrativeGaps(sentences); len(gaps) > 0 {
		return nil, models.NewIncompleteMaterialsError(gaps)
	}

	if err := r.setStatus(ctx, models.VideoTaskStatusDownloading, 0.1); err != nil {
		return nil, err
	}
	bgmPath, err := r.fetchBGM(ctx)
	if err != nil {
		return nil, err
	}

	width, height := parseResolution(r.vt.Resolution)
	fps := float64(r.vt.FPS)
	if fps <= 0 {
		fps = 24
	}

	if err := r.setStatus(ctx, models.VideoTaskStatusSynthesizing, 0.2); err != nil {
		return nil, err
	}
	clips := make([]string, len(sentences))
	for i, sentence := range sentences {
		clip, err := r.renderSentenceClip(ctx, i, sentence, width, height, fps)
		if err != nil {
			return nil, fmt.Errorf("sentence %d: %w", sentence.OrderIndex, err)
		}
		clips[i] = clip
		if err := r.engine.repos.VideoTasks.SetClipProgress(ctx, r.vt.ID, i+1, len(sentences)); err != nil {
			r.engine.logger.Warn("recording clip progress", "error", err)
		}
	}

	if err := r.setStatus(ctx, models.VideoTaskStatusConcatenating, 0.7); err != nil {
		return nil, err
	}
	merged, err := r.concatClips(ctx, clips)
	if err != nil {
		return nil, err
	}

	// Enforce pass: uniform geometry and frame rate, BGM mixed last so
	// ducking keys off the narration.
	out := filepath.Join(r.scratch, "chapter.mp4")
	graph := narrativeFinalFilter(width, height, fps, bgmPath != "", r.vt.EffectiveBGMVolume())
	args := []string{"-i", merged}
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

// narrativeGaps enumerates sentences missing an asset of the
// image/audio/duration tuple.
func narrativeGaps(sentences []*models.Sentence) []string {
	if len(sentences) == 0 {
		return []string{"sentences (chapter not parsed)"}
	}
	var gaps []string
	for _, sentence := range sentences {
		switch {
		case sentence.ImageURL == "":
			gaps = append(gaps, fmt.Sprintf("sentence %d image", sentence.OrderIndex))
		case sentence.AudioURL == "":
			gaps = append(gaps, fmt.Sprintf("sentence %d audio", sentence.OrderIndex))
		case sentence.DurationMs <= 0:
			gaps = append(gaps, fmt.Sprintf("sentence %d audio duration", sentence.OrderIndex))
		}
	}
	return gaps
}

// renderSentenceClip fetches one sentence's image and audio and renders
// its ken-burns clip sized to the measured audio duration.
func (r *renderRun) renderSentenceClip(ctx context.Context, i int, sentence *models.Sentence, width, height int, fps float64) (string, error) {
	imgPath := filepath.Join(r.scratch, fmt.Sprintf("img_%03d", i))
	if err := r.fetchToFile(ctx, sentence.ImageURL, imgPath); err != nil {
		return "", fmt.Errorf("fetching image: %w", err)
	}
	audioPath := filepath.Join(r.scratch, fmt.Sprintf("audio_%03d", i))
	if err := r.fetchToFile(ctx, sentence.AudioURL, audioPath); err != nil {
		return "", fmt.Errorf("fetching audio: %w", err)
	}

	subtitle := sentence.SubtitleText
	if subtitle == "" {
		subtitle = sentence.Text
	}
	textFile := filepath.Join(r.scratch, fmt.Sprintf("sub_%03d.txt", i))
	if err := os.WriteFile(textFile, []byte(subtitle), 0o644); err != nil {
		return "", fmt.Errorf("writing subtitle: %w", err)
	}

	durationSec := float64(sentence.DurationMs) / 1000
	clip := filepath.Join(r.scratch, fmt.Sprintf("clip_%03d.mp4", i))
	args := []string{
		"-loop", "1", "-i", imgPath,
		"-i", audioPath,
		"-filter_complex", kenBurnsFilter(durationSec, width, height, fps, textFile),
		"-map", "[v]", "-map", "1:a",
		"-t", formatFloat(durationSec),
		"-c:v", "libx264", "-crf", strconv.Itoa(r.engine.crf), "-preset", "medium",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		clip,
	}
	if err := r.engine.runner.Run(ctx, args...); err != nil {
		return "", err
	}
	return clip, nil
}

// concatClips joins uniform clips losslessly via the concat demuxer.
func (r *renderRun) concatClips(ctx context.Context, clips []string) (string, error) {
	var list []byte
	for _, clip := range clips {
		list = append(list, []byte(fmt.Sprintf("file '%s'\n", clip))...)
	}
	listPath := filepath.Join(r.scratch, "concat.txt")
	if err := os.WriteFile(listPath, list, 0o644); err != nil {
		return "", fmt.Errorf("writing concat list: %w", err)
	}

	merged := filepath.Join(r.scratch, "merged.mp4")
	err := r.engine.runner.Run(ctx,
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-c", "copy",
		merged,
	)
	if err != nil {
		return "", err
	}
	return merged, nil
}
