package executor

import (
	"context"

	"github.com/aicg/aicg/internal/models"
)

// stageUnit is one plannable unit of a stage: the artifact it produces
// and what the repository currently says about it.
type stageUnit struct {
	artifactID models.ULID
	// complete means the artifact already exists; resumption treats the
	// unit as done without running anything.
	complete bool
	// failed means the artifact itself is marked failed (asynchronous
	// stages record failure on the artifact, not only on the task).
	failed bool
	// ready means the unit's own prerequisites are satisfied and a task
	// may be enqueued for it.
	ready bool
}

// stagePlan is the computed unit population of one stage.
type stagePlan struct {
	units []stageUnit
	// known reports whether the population is final. Fan-out stages over
	// artifacts an upstream stage has yet to create are unknown until
	// that stage finishes.
	known bool
}

// planUnits computes the unit population for a stage from repository
// state. done reports which upstream stages have finished; unit-level
// readiness may release individual units earlier than their stage.
func (e *Executor) planUnits(ctx context.Context, chapter *models.Chapter, stage string, done map[string]bool) (stagePlan, error) {
	switch stage {
	case StageExtractCharacters:
		characters, err := e.repos.Characters.GetByProjectID(ctx, chapter.ProjectID)
		if err != nil {
			return stagePlan{}, err
		}
		return singleUnit(chapter.ID, len(characters) > 0), nil

	case StageExtractScenes:
		script, err := e.repos.Scripts.GetByChapterID(ctx, chapter.ID)
		if err != nil {
			return stagePlan{}, err
		}
		return singleUnit(chapter.ID, script != nil && len(script.Scenes) > 0), nil

	case StageExtractShots:
		script, err := e.repos.Scripts.GetByChapterID(ctx, chapter.ID)
		if err != nil {
			return stagePlan{}, err
		}
		if script == nil {
			return stagePlan{}, nil
		}
		plan := stagePlan{known: done[StageExtractScenes]}
		for i := range script.Scenes {
			scene := &script.Scenes[i]
			plan.units = append(plan.units, stageUnit{
				artifactID: scene.ID,
				complete:   len(scene.Shots) > 0,
				ready:      true,
			})
		}
		return plan, nil

	case StageSceneImages:
		script, err := e.repos.Scripts.GetByChapterID(ctx, chapter.ID)
		if err != nil {
			return stagePlan{}, err
		}
		if script == nil {
			return stagePlan{}, nil
		}
		plan := stagePlan{known: done[StageExtractScenes]}
		for i := range script.Scenes {
			scene := &script.Scenes[i]
			plan.units = append(plan.units, stageUnit{
				artifactID: scene.ID,
				complete:   scene.SceneImageURL != "",
				ready:      true,
			})
		}
		return plan, nil

	case StageCharacterAvatars:
		characters, err := e.repos.Characters.GetByProjectID(ctx, chapter.ProjectID)
		if err != nil {
			return stagePlan{}, err
		}
		plan := stagePlan{known: done[StageExtractCharacters]}
		for _, c := range characters {
			plan.units = append(plan.units, stageUnit{
				artifactID: c.ID,
				complete:   c.AvatarURL != "",
				failed:     c.Status == models.ArtifactStatusFailed,
				ready:      true,
			})
		}
		return plan, nil

	case StageShotKeyframes:
		return e.planKeyframes(ctx, chapter, done)

	case StageTransitionPrompts, StageTransitionVideos:
		return e.planTransitions(ctx, chapter, stage, done)

	case StageComposeVideo, StageAssembleVideo:
		return singleUnit(chapter.ID, chapter.VideoURL != ""), nil

	case StageParseSentences:
		sentences, err := e.repos.Sentences.GetByChapterID(ctx, chapter.ID)
		if err != nil {
			return stagePlan{}, err
		}
		complete := len(sentences) > 0
		for _, sentence := range sentences {
			if sentence.ImagePrompt == "" {
				complete = false
				break
			}
		}
		return singleUnit(chapter.ID, complete), nil

	case StageSentenceImages, StageSentenceAudio:
		sentences, err := e.repos.Sentences.GetByChapterID(ctx, chapter.ID)
		if err != nil {
			return stagePlan{}, err
		}
		plan := stagePlan{known: done[StageParseSentences]}
		for _, sentence := range sentences {
			url := sentence.ImageURL
			if stage == StageSentenceAudio {
				url = sentence.AudioURL
			}
			plan.units = append(plan.units, stageUnit{
				artifactID: sentence.ID,
				complete:   url != "",
				ready:      true,
			})
		}
		return plan, nil

	default:
		return stagePlan{}, models.NewError(models.ErrKindValidation, "unknown stage "+stage)
	}
}

// singleUnit builds the plan for per-chapter stages.
func singleUnit(artifactID models.ULID, complete bool) stagePlan {
	return stagePlan{
		known: true,
		units: []stageUnit{{artifactID: artifactID, complete: complete, ready: true}},
	}
}

// planKeyframes computes per-shot keyframe units with fine-grained
// readiness: a shot's keyframe may start as soon as its scene image
// exists and every referenced character has an avatar, without waiting
// for those stages to finish chapter-wide. A finished upstream stage
// releases the remaining units even when individual references failed.
func (e *Executor) planKeyframes(ctx context.Context, chapter *models.Chapter, done map[string]bool) (stagePlan, error) {
	script, err := e.repos.Scripts.GetByChapterID(ctx, chapter.ID)
	if err != nil {
		return stagePlan{}, err
	}
	if script == nil {
		return stagePlan{}, nil
	}
	characters, err := e.repos.Characters.GetByProjectID(ctx, chapter.ProjectID)
	if err != nil {
		return stagePlan{}, err
	}
	avatarByName := make(map[string]string, len(characters))
	for _, c := range characters {
		avatarByName[c.Name] = c.AvatarURL
	}

	plan := stagePlan{known: done[StageExtractShots]}
	for i := range script.Scenes {
		scene := &script.Scenes[i]
		sceneImageReady := scene.SceneImageURL != "" || done[StageSceneImages]
		for j := range scene.Shots {
			shot := &scene.Shots[j]
			ready := sceneImageReady
			for _, name := range shot.CharacterRefs {
				avatar, exists := avatarByName[name]
				if exists && avatar == "" && !done[StageCharacterAvatars] {
					ready = false
					break
				}
			}
			plan.units = append(plan.units, stageUnit{
				artifactID: shot.ID,
				complete:   shot.KeyframeURL != "",
				failed:     shot.Status == models.ArtifactStatusFailed,
				ready:      ready,
			})
		}
	}
	return plan, nil
}

// planTransitions materializes the transition rows once shots exist and
// computes the units for the prompt and video stages.
func (e *Executor) planTransitions(ctx context.Context, chapter *models.Chapter, stage string, done map[string]bool) (stagePlan, error) {
	script, err := e.repos.Scripts.GetByChapterID(ctx, chapter.ID)
	if err != nil {
		return stagePlan{}, err
	}
	if script == nil || !done[StageExtractShots] {
		return stagePlan{}, nil
	}
	transitions, err := e.svc.EnsureTransitions(ctx, script.ID)
	if err != nil {
		return stagePlan{}, err
	}

	keyframeByShot := make(map[models.ULID]string)
	for i := range script.Scenes {
		for j := range script.Scenes[i].Shots {
			shot := &script.Scenes[i].Shots[j]
			keyframeByShot[shot.ID] = shot.KeyframeURL
		}
	}

	plan := stagePlan{known: true}
	for _, transition := range transitions {
		unit := stageUnit{artifactID: transition.ID}
		switch stage {
		case StageTransitionPrompts:
			unit.complete = transition.VideoPrompt != ""
			// Prompt synthesis waits for the keyframe stage to settle;
			// the prompt describes a move between two finished frames.
			unit.ready = done[StageShotKeyframes]
		case StageTransitionVideos:
			unit.complete = transition.Status == models.ArtifactStatusCompleted && transition.VideoURL != ""
			unit.failed = transition.Status == models.ArtifactStatusFailed
			unit.ready = transition.VideoPrompt != "" &&
				keyframeByShot[transition.FromShotID] != "" &&
				keyframeByShot[transition.ToShotID] != ""
			// A settled upstream stage that never produced this unit's
			// inputs means the unit can never run. Fail it instead of
			// waiting forever.
			if !unit.complete && !unit.failed && !unit.ready {
				promptGone := done[StageTransitionPrompts] && transition.VideoPrompt == ""
				framesGone := done[StageShotKeyframes] &&
					(keyframeByShot[transition.FromShotID] == "" || keyframeByShot[transition.ToShotID] == "")
				unit.failed = promptGone || framesGone
			}
		}
		plan.units = append(plan.units, unit)
	}
	return plan, nil
}
