// Package executor drives pipeline jobs through their stage graphs: it
// plans tasks from the current artifact state, enqueues them as their
// prerequisites complete, rolls progress up to the job and finalizes it.
package executor

import (
	"fmt"

	"github.com/aicg/aicg/internal/models"
)

// Movie pipeline stages.
const (
	StageExtractCharacters = "extract_characters"
	StageExtractScenes     = "extract_scenes"
	StageExtractShots      = "extract_shots"
	StageSceneImages       = "scene_images"
	StageCharacterAvatars  = "character_avatars"
	StageShotKeyframes     = "shot_keyframes"
	StageTransitionPrompts = "transition_prompts"
	StageTransitionVideos  = "transition_videos"
	StageComposeVideo      = "compose_video"

	// StageTransitionPoll is the poll leg chained after each successful
	// video submission. It is not part of the plannable graph; transition
	// completion is judged on the artifact, not on poll tasks.
	StageTransitionPoll = "transition_poll"
)

// Narrative pipeline stages.
const (
	StageParseSentences = "parse_sentences"
	StageSentenceImages = "sentence_images"
	StageSentenceAudio  = "sentence_audio"
	StageAssembleVideo  = "assemble_video"
)

// graph is a stage DAG: plannable stages in topological order plus the
// dependency edges between them.
type graph struct {
	order []string
	deps  map[string][]string
}

var movieGraph = graph{
	order: []string{
		StageExtractCharacters,
		StageExtractScenes,
		StageExtractShots,
		StageSceneImages,
		StageCharacterAvatars,
		StageShotKeyframes,
		StageTransitionPrompts,
		StageTransitionVideos,
		StageComposeVideo,
	},
	deps: map[string][]string{
		StageExtractCharacters: {},
		StageExtractScenes:     {StageExtractCharacters},
		StageExtractShots:      {StageExtractScenes},
		StageSceneImages:       {StageExtractScenes},
		StageCharacterAvatars:  {StageExtractCharacters},
		StageShotKeyframes:     {StageExtractShots, StageSceneImages, StageCharacterAvatars},
		StageTransitionPrompts: {StageExtractShots, StageShotKeyframes},
		StageTransitionVideos:  {StageTransitionPrompts, StageShotKeyframes},
		StageComposeVideo:      {StageTransitionVideos},
	},
}

var narrativeGraph = graph{
	order: []string{
		StageParseSentences,
		StageSentenceImages,
		StageSentenceAudio,
		StageAssembleVideo,
	},
	deps: map[string][]string{
		StageParseSentences: {},
		StageSentenceImages: {StageParseSentences},
		StageSentenceAudio:  {StageParseSentences},
		StageAssembleVideo:  {StageSentenceImages, StageSentenceAudio},
	},
}

// graphFor returns the stage graph for a project type.
func graphFor(pt models.ProjectType) (graph, error) {
	switch pt {
	case models.ProjectTypeMovie:
		return movieGraph, nil
	case models.ProjectTypeNarrative:
		return narrativeGraph, nil
	default:
		return graph{}, models.NewError(models.ErrKindValidation,
			fmt.Sprintf("unknown project type %q", pt))
	}
}

// terminalStage is the graph's last stage, used when a job names no target.
func (g graph) terminalStage() string {
	return g.order[len(g.order)-1]
}

// contains reports whether the graph knows the stage.
func (g graph) contains(stage string) bool {
	_, ok := g.deps[stage]
	return ok
}

// required returns the transitive dependency closure of target, in
// topological order.
func (g graph) required(target string) ([]string, error) {
	if !g.contains(target) {
		return nil, models.NewError(models.ErrKindValidation,
			fmt.Sprintf("unknown target stage %q", target))
	}
	needed := map[string]bool{}
	var visit func(stage string)
	visit = func(stage string) {
		if needed[stage] {
			return
		}
		needed[stage] = true
		for _, dep := range g.deps[stage] {
			visit(dep)
		}
	}
	visit(target)

	var stages []string
	for _, stage := range g.order {
		if needed[stage] {
			stages = append(stages, stage)
		}
	}
	return stages, nil
}

// stageKind maps a stage to the task kind executing it.
func stageKind(stage string) models.TaskKind {
	switch stage {
	case StageExtractCharacters, StageExtractScenes, StageExtractShots,
		StageTransitionPrompts, StageParseSentences:
		return models.TaskKindText
	case StageSceneImages, StageCharacterAvatars, StageShotKeyframes, StageSentenceImages:
		return models.TaskKindImage
	case StageSentenceAudio:
		return models.TaskKindTTS
	case StageTransitionVideos:
		return models.TaskKindVideoSubmit
	case StageTransitionPoll:
		return models.TaskKindVideoPoll
	case StageComposeVideo, StageAssembleVideo:
		return models.TaskKindAssembly
	default:
		return models.TaskKindText
	}
}
