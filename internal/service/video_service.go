package service

import (
	"context"
	"fmt"

	"github.com/aicg/aicg/internal/blob"
	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/provider"
	"github.com/aicg/aicg/internal/repository"
)

// transitionDurationSec is the fixed length of every interpolated shot
// transition.
const transitionDurationSec = 8

// SubmitTransition starts the asynchronous video generation for a
// transition: both shot keyframes are presigned and handed to the
// provider together with the synthesized prompt. Transitions already in
// flight or completed are returned as-is.
func (s *Service) SubmitTransition(ctx context.Context, transitionID, keyID models.ULID, model string) (string, error) {
	transition, err := s.repos.Transitions.GetByID(ctx, transitionID)
	if err != nil {
		return "", err
	}
	if transition.InFlight() {
		return transition.ExternalTaskID, nil
	}
	if transition.Status == models.ArtifactStatusCompleted && transition.VideoURL != "" {
		return transition.ExternalTaskID, nil
	}
	if transition.VideoPrompt == "" {
		return "", models.NewError(models.ErrKindValidation,
			"transition has no video prompt; run prompt synthesis first")
	}

	from, err := s.repos.Scripts.GetShotByID(ctx, transition.FromShotID)
	if err != nil {
		return "", err
	}
	to, err := s.repos.Scripts.GetShotByID(ctx, transition.ToShotID)
	if err != nil {
		return "", err
	}
	var gaps []string
	if from.KeyframeURL == "" {
		gaps = append(gaps, fmt.Sprintf("shot %s keyframe", from.ID))
	}
	if to.KeyframeURL == "" {
		gaps = append(gaps, fmt.Sprintf("shot %s keyframe", to.ID))
	}
	if len(gaps) > 0 {
		return "", models.NewIncompleteMaterialsError(gaps)
	}

	firstFrame, err := s.presign(ctx, from.KeyframeURL)
	if err != nil {
		return "", err
	}
	lastFrame, err := s.presign(ctx, to.KeyframeURL)
	if err != nil {
		return "", err
	}

	key, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return "", err
	}
	video, err := s.providers.Video(key.Provider)
	if err != nil {
		return "", err
	}
	prompt := transition.VideoPrompt
	if to.PerformancePrompt != "" {
		prompt += "\n\nPerformance direction: " + to.PerformancePrompt
	}

	taskID, err := video.SubmitVideo(ctx, key, provider.VideoSubmitRequest{
		Model:         model,
		Prompt:        prompt,
		FirstFrameURL: firstFrame,
		LastFrameURL:  lastFrame,
		DurationSec:   transitionDurationSec,
	})
	if err != nil {
		return "", err
	}

	if err := s.repos.Transitions.MarkSubmitted(ctx, transitionID, taskID, keyID); err != nil {
		return "", err
	}
	s.logger.Info("transition submitted",
		"transition_id", transitionID.String(), "external_task_id", taskID)
	return taskID, nil
}

// PollTransition checks the provider-side state of an in-flight
// transition. On completion the provider-hosted video is downloaded into
// the blob store and the transition finishes through the history path.
// The returned flag reports whether the transition reached a terminal
// state (completed or failed).
func (s *Service) PollTransition(ctx context.Context, transitionID models.ULID) (bool, error) {
	transition, err := s.repos.Transitions.GetByID(ctx, transitionID)
	if err != nil {
		return false, err
	}
	switch transition.Status {
	case models.ArtifactStatusCompleted, models.ArtifactStatusFailed:
		return true, nil
	}
	if transition.ExternalTaskID == "" {
		return false, models.NewError(models.ErrKindValidation,
			"transition has no external task to poll")
	}

	key, err := s.resolveKey(ctx, transition.APIKeyID)
	if err != nil {
		return false, err
	}
	video, err := s.providers.Video(key.Provider)
	if err != nil {
		return false, err
	}
	status, err := video.PollVideo(ctx, key, transition.ExternalTaskID)
	if err != nil {
		return false, err
	}

	switch status.State {
	case provider.VideoStateCompleted:
		if err := s.completeTransition(ctx, transition, status.VideoURL); err != nil {
			return false, err
		}
		return true, nil
	case provider.VideoStateFailed:
		msg := status.Error
		if msg == "" {
			msg = "provider reported failure without detail"
		}
		if err := s.repos.Transitions.MarkFailed(ctx, transitionID, msg); err != nil {
			return false, err
		}
		s.logger.Warn("transition failed",
			"transition_id", transitionID.String(), "error", msg)
		return true, nil
	default:
		return false, nil
	}
}

// completeTransition moves the finished provider video into the blob
// store and records it on the transition.
func (s *Service) completeTransition(ctx context.Context, transition *models.Transition, providerURL string) error {
	data, err := s.download(ctx, providerURL)
	if err != nil {
		return fmt.Errorf("fetching transition video: %w", err)
	}

	script, err := s.repos.Scripts.GetByID(ctx, transition.ScriptID)
	if err != nil {
		return err
	}
	chapter, err := s.repos.Chapters.GetByID(ctx, script.ChapterID)
	if err != nil {
		return err
	}

	objKey := blob.ObjectKey(chapter.ProjectID, models.ResourceTransitionVideo, "mp4")
	url, err := s.store.Put(ctx, objKey, data, "video/mp4")
	if err != nil {
		return fmt.Errorf("uploading transition video: %w", err)
	}

	if err := s.repos.Transitions.MarkCompleted(ctx, transition.ID, repository.ArtifactUpdate{
		URL: url, Prompt: transition.VideoPrompt,
	}); err != nil {
		return err
	}
	s.logger.Info("transition completed",
		"transition_id", transition.ID.String(), "url", url, "bytes", len(data))
	return nil
}
