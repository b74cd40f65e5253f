package executor

import (
	"context"
	"fmt"

	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/runtime"
)

// Handler returns the runtime handler that executes tasks by stage.
func (e *Executor) Handler() runtime.Handler {
	return func(ctx context.Context, task *models.Task) (string, error) {
		p, err := DecodePayload(task)
		if err != nil {
			return "", err
		}
		return e.dispatch(ctx, task, p)
	}
}

// TerminalFunc returns the runtime callback that re-plans the owning job
// whenever a task finishes.
func (e *Executor) TerminalFunc() runtime.TerminalFunc {
	return func(ctx context.Context, task *models.Task) {
		if err := e.OnTaskTerminal(ctx, task); err != nil {
			e.logger.Error("advancing job after terminal task",
				"task_id", task.ID.String(),
				"job_id", task.JobID.String(),
				"error", err)
		}
	}
}

// dispatch routes a task to the generation service method for its stage.
// Fan-out stages carry the artifact id on the task row; chapter-wide
// stages work from the payload.
func (e *Executor) dispatch(ctx context.Context, task *models.Task, p TaskPayload) (string, error) {
	switch p.Stage {
	case StageExtractCharacters:
		characters, err := e.svc.ExtractCharacters(ctx, p.ChapterID, p.APIKeyID, p.Model)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d characters", len(characters)), nil

	case StageExtractScenes:
		script, err := e.svc.ExtractScenes(ctx, p.ChapterID, p.APIKeyID, p.Model)
		if err != nil {
			return "", err
		}
		return script.ID.String(), nil

	case StageExtractShots:
		shots, err := e.svc.ExtractShots(ctx, task.ArtifactID, p.APIKeyID, p.Model)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d shots", len(shots)), nil

	case StageSceneImages:
		return e.svc.GenerateSceneImage(ctx, task.ArtifactID, p.APIKeyID, p.Model)

	case StageCharacterAvatars:
		return e.svc.GenerateAvatar(ctx, task.ArtifactID, p.APIKeyID, p.Model)

	case StageShotKeyframes:
		return e.svc.GenerateKeyframe(ctx, task.ArtifactID, p.APIKeyID, p.Model)

	case StageTransitionPrompts:
		return e.transitionPrompts(ctx, task.ArtifactID, p)

	case StageTransitionVideos:
		return e.svc.SubmitTransition(ctx, task.ArtifactID, p.APIKeyID, p.Model)

	case StageTransitionPoll:
		return e.pollTransition(ctx, task.ArtifactID)

	case StageComposeVideo, StageAssembleVideo:
		return e.assemble(ctx, p.ChapterID)

	case StageParseSentences:
		return e.parseChapter(ctx, p)

	case StageSentenceImages:
		return e.svc.GenerateSentenceImage(ctx, task.ArtifactID, p.APIKeyID, p.Model)

	case StageSentenceAudio:
		return e.svc.GenerateSentenceAudio(ctx, task.ArtifactID, p.APIKeyID, p.Model, p.Voice, p.Speed)

	default:
		return "", models.NewError(models.ErrKindValidation,
			fmt.Sprintf("no handler for stage %q", p.Stage))
	}
}

// transitionPrompts synthesizes the bridging video prompt for a
// transition and, when the destination shot carries dialogue, the
// performance direction for that shot. Both calls are idempotent, so a
// retried task only fills what is still missing.
func (e *Executor) transitionPrompts(ctx context.Context, transitionID models.ULID, p TaskPayload) (string, error) {
	prompt, err := e.svc.GenerateTransitionPrompt(ctx, transitionID, p.APIKeyID, p.Model)
	if err != nil {
		return "", err
	}
	transition, err := e.repos.Transitions.GetByID(ctx, transitionID)
	if err != nil {
		return "", err
	}
	if _, err := e.svc.GeneratePerformancePrompt(ctx, transition.ToShotID, p.APIKeyID, p.Model); err != nil {
		return "", err
	}
	return prompt, nil
}

// pollTransition checks one in-flight video generation. A still-running
// generation is reported as a retryable error so the runtime's backoff
// schedule doubles as the poll interval; the kind's retry budget is
// unlimited.
func (e *Executor) pollTransition(ctx context.Context, transitionID models.ULID) (string, error) {
	done, err := e.svc.PollTransition(ctx, transitionID)
	if err != nil {
		return "", err
	}
	if !done {
		return "", models.NewError(models.ErrKindProvider, "video generation still processing")
	}
	transition, err := e.repos.Transitions.GetByID(ctx, transitionID)
	if err != nil {
		return "", err
	}
	return string(transition.Status), nil
}

// parseChapter splits the chapter and fills the per-sentence prompts in
// one task, since the prompt batch needs the full sentence list anyway.
func (e *Executor) parseChapter(ctx context.Context, p TaskPayload) (string, error) {
	sentences, err := e.svc.ParseChapter(ctx, p.ChapterID)
	if err != nil {
		return "", err
	}
	if _, err := e.svc.GenerateSentencePrompts(ctx, p.ChapterID, p.APIKeyID, p.Model, p.Style); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d sentences", len(sentences)), nil
}

// assemble runs the chapter's final render and records the result.
func (e *Executor) assemble(ctx context.Context, chapterID models.ULID) (string, error) {
	result, err := e.assembler.AssembleChapter(ctx, chapterID)
	if err != nil {
		return "", err
	}
	if err := e.repos.Chapters.SetVideo(ctx, chapterID, result.VideoURL, result.DurationMs); err != nil {
		return "", err
	}
	err = e.repos.Chapters.AdvanceStatus(ctx, chapterID, models.PipelineStatusCompleted)
	if err != nil && models.KindOf(err) != models.ErrKindConflict {
		return "", err
	}
	return result.VideoURL, nil
}
