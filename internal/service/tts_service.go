package service

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aicg/aicg/internal/blob"
	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/provider"
	"github.com/aicg/aicg/internal/repository"
)

// GenerateSentenceAudio synthesizes speech for one sentence, measures its
// duration and stores both through the history path. The measured
// duration is what assembly later uses to size the sentence's clip.
func (s *Service) GenerateSentenceAudio(ctx context.Context, sentenceID, keyID models.ULID, model, voice string, speed float64) (string, error) {
	sentence, err := s.repos.Sentences.GetByID(ctx, sentenceID)
	if err != nil {
		return "", err
	}
	if sentence.Text == "" {
		return "", models.NewError(models.ErrKindValidation, "sentence has no text")
	}
	chapter, err := s.repos.Chapters.GetByID(ctx, sentence.ChapterID)
	if err != nil {
		return "", err
	}

	key, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return "", err
	}
	tts, err := s.providers.TTS(key.Provider)
	if err != nil {
		return "", err
	}
	result, err := tts.Synthesize(ctx, key, provider.TTSRequest{
		Model: model,
		Voice: voice,
		Text:  sentence.Text,
		Speed: speed,
	})
	if err != nil {
		return "", err
	}

	durationMs, err := s.measureAudio(ctx, result.Data)
	if err != nil {
		return "", err
	}

	ext := blob.DetectImageExt(result.Data)
	objKey := blob.ObjectKey(chapter.ProjectID, models.ResourceSentenceAudio, ext)
	mimeType := result.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(result.Data)
	}
	url, err := s.store.Put(ctx, objKey, result.Data, mimeType)
	if err != nil {
		return "", fmt.Errorf("uploading sentence audio: %w", err)
	}

	if err := s.repos.Sentences.UpdateAudio(ctx, sentenceID, repository.ArtifactUpdate{
		URL: url, Prompt: sentence.VoicePrompt, Model: model,
	}, durationMs); err != nil {
		return "", err
	}
	s.logger.Info("sentence audio generated",
		"sentence_id", sentenceID.String(), "duration_ms", durationMs, "url", url)
	return url, nil
}

// measureAudio probes synthesized audio via a scratch file. ffprobe reads
// files, not pipes, for duration.
func (s *Service) measureAudio(ctx context.Context, data []byte) (int64, error) {
	dir, err := os.MkdirTemp("", "aicg-tts-")
	if err != nil {
		return 0, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "audio."+blob.DetectImageExt(data))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return 0, fmt.Errorf("writing scratch audio: %w", err)
	}
	durationMs, err := s.prober.AudioDurationMs(ctx, path)
	if err != nil {
		return 0, models.WrapError(models.ErrKindMalformedResponse,
			fmt.Errorf("measuring synthesized audio: %w", err))
	}
	return durationMs, nil
}
