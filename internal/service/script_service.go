package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/provider"
)

// extractedCharacter mirrors the character-extraction JSON contract.
type extractedCharacter struct {
	Name            string `json:"name"`
	RoleDescription string `json:"role_description"`
	VisualTraits    string `json:"visual_traits"`
	DialogueTraits  string `json:"dialogue_traits"`
}

// ExtractCharacters runs cast extraction over the chapter text and
// persists new characters at project scope. Characters whose names
// already exist in the project are left untouched, so re-running the
// stage is idempotent.
func (s *Service) ExtractCharacters(ctx context.Context, chapterID, keyID models.ULID, model string) ([]*models.Character, error) {
	chapter, err := s.repos.Chapters.GetByID(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(chapter.Content) == "" {
		return nil, models.NewError(models.ErrKindValidation, "chapter has no content")
	}
	key, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	text, err := s.providers.Text(key.Provider)
	if err != nil {
		return nil, err
	}

	reply, err := text.GenerateText(ctx, key, provider.TextRequest{
		Model:    model,
		System:   characterExtractionSystem,
		Prompt:   CharacterExtractionPrompt(chapter.Content),
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Characters []extractedCharacter `json:"characters"`
	}
	if err := json.Unmarshal([]byte(reply), &payload); err != nil {
		return nil, models.WrapError(models.ErrKindMalformedResponse,
			fmt.Errorf("parsing extracted characters: %w", err))
	}

	var created []*models.Character
	for _, ec := range payload.Characters {
		if ec.Name == "" {
			continue
		}
		existing, err := s.repos.Characters.GetByName(ctx, chapter.ProjectID, ec.Name)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}
		character := &models.Character{
			ProjectID:       chapter.ProjectID,
			Name:            ec.Name,
			RoleDescription: ec.RoleDescription,
			VisualTraits:    ec.VisualTraits,
			DialogueTraits:  ec.DialogueTraits,
			GeneratedPrompt: "",
		}
		character.GeneratedPrompt = AvatarPrompt(character)
		if err := s.repos.Characters.Create(ctx, character); err != nil {
			return nil, err
		}
		created = append(created, character)
	}
	s.logger.Info("characters extracted",
		"chapter_id", chapterID.String(), "created", len(created), "returned", len(payload.Characters))
	return created, nil
}

// extractedScene mirrors the scene-extraction JSON contract.
type extractedScene struct {
	OrderIndex int      `json:"order_index"`
	Location   string   `json:"location"`
	TimeOfDay  string   `json:"time_of_day"`
	Atmosphere string   `json:"atmosphere"`
	Scene      string   `json:"scene"`
	Characters []string `json:"characters"`
}

// ExtractScenes splits the chapter into film scenes and persists them
// under the chapter's script, creating the script when absent. When the
// script already has scenes the stage is complete and returns them as-is.
func (s *Service) ExtractScenes(ctx context.Context, chapterID, keyID models.ULID, model string) (*models.Script, error) {
	chapter, err := s.repos.Chapters.GetByID(ctx, chapterID)
	if err != nil {
		return nil, err
	}

	script, err := s.repos.Scripts.GetByChapterID(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if script != nil && len(script.Scenes) > 0 {
		return script, nil
	}
	if script == nil {
		script = &models.Script{ChapterID: chapterID, Status: models.ScriptStatusGenerating}
		if err := s.repos.Scripts.Create(ctx, script); err != nil {
			return nil, err
		}
	}

	characters, err := s.repos.Characters.GetByProjectID(ctx, chapter.ProjectID)
	if err != nil {
		return nil, err
	}
	cast, err := castJSON(characters)
	if err != nil {
		return nil, err
	}

	key, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	text, err := s.providers.Text(key.Provider)
	if err != nil {
		return nil, err
	}
	reply, err := text.GenerateText(ctx, key, provider.TextRequest{
		Model:    model,
		System:   sceneExtractionSystem,
		Prompt:   SceneExtractionPrompt(cast, chapter.Content),
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Scenes []extractedScene `json:"scenes"`
	}
	if err := json.Unmarshal([]byte(reply), &payload); err != nil {
		return nil, models.WrapError(models.ErrKindMalformedResponse,
			fmt.Errorf("parsing extracted scenes: %w", err))
	}
	if len(payload.Scenes) == 0 {
		return nil, models.NewError(models.ErrKindMalformedResponse, "model returned no scenes")
	}

	scenes := make([]*models.Scene, 0, len(payload.Scenes))
	for i, es := range payload.Scenes {
		order := es.OrderIndex
		if order == 0 {
			order = i + 1
		}
		scenes = append(scenes, &models.Scene{
			ScriptID:    script.ID,
			OrderIndex:  order,
			Location:    es.Location,
			TimeOfDay:   es.TimeOfDay,
			Atmosphere:  es.Atmosphere,
			Description: es.Scene,
		})
	}
	if err := s.repos.Scripts.CreateScenes(ctx, scenes); err != nil {
		return nil, err
	}
	s.logger.Info("scenes extracted", "chapter_id", chapterID.String(), "scenes", len(scenes))
	return s.repos.Scripts.GetByChapterID(ctx, chapterID)
}

// extractedShot mirrors the shot-extraction JSON contract.
type extractedShot struct {
	OrderIndex int      `json:"order_index"`
	Shot       string   `json:"shot"`
	Camera     string   `json:"camera"`
	Dialogue   string   `json:"dialogue"`
	Characters []string `json:"characters"`
}

// ExtractShots storyboards one scene into shots. Character references that
// name unknown characters are kept verbatim; matching is exact-string and
// dangling names are tolerated downstream.
func (s *Service) ExtractShots(ctx context.Context, sceneID, keyID models.ULID, model string) ([]*models.Shot, error) {
	scene, err := s.repos.Scripts.GetSceneByID(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if len(scene.Shots) > 0 {
		shots := make([]*models.Shot, len(scene.Shots))
		for i := range scene.Shots {
			shots[i] = &scene.Shots[i]
		}
		return shots, nil
	}

	projectID, err := s.projectIDForScene(ctx, scene)
	if err != nil {
		return nil, err
	}
	characters, err := s.repos.Characters.GetByProjectID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	cast, err := castJSON(characters)
	if err != nil {
		return nil, err
	}

	key, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	text, err := s.providers.Text(key.Provider)
	if err != nil {
		return nil, err
	}
	reply, err := text.GenerateText(ctx, key, provider.TextRequest{
		Model:    model,
		System:   shotExtractionSystem,
		Prompt:   ShotExtractionPrompt(cast, scene.Description),
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Shots []extractedShot `json:"shots"`
	}
	if err := json.Unmarshal([]byte(reply), &payload); err != nil {
		return nil, models.WrapError(models.ErrKindMalformedResponse,
			fmt.Errorf("parsing extracted shots: %w", err))
	}
	if len(payload.Shots) == 0 {
		return nil, models.NewError(models.ErrKindMalformedResponse, "model returned no shots")
	}

	shots := make([]*models.Shot, 0, len(payload.Shots))
	for i, es := range payload.Shots {
		if es.Shot == "" {
			continue
		}
		order := es.OrderIndex
		if order == 0 {
			order = i + 1
		}
		shots = append(shots, &models.Shot{
			SceneID:           sceneID,
			OrderIndex:        order,
			VisualDescription: es.Shot,
			CameraMovement:    es.Camera,
			Dialogue:          es.Dialogue,
			CharacterRefs:     models.StringList(es.Characters),
		})
	}
	if len(shots) == 0 {
		return nil, models.NewError(models.ErrKindMalformedResponse, "model returned only empty shots")
	}
	if err := s.repos.Scripts.CreateShots(ctx, shots); err != nil {
		return nil, err
	}
	s.logger.Info("shots extracted", "scene_id", sceneID.String(), "shots", len(shots))
	return shots, nil
}

// EnsureTransitions creates the transition row for every consecutive shot
// pair in script order, across scene boundaries. Existing pairs are kept,
// so the planning step is idempotent.
func (s *Service) EnsureTransitions(ctx context.Context, scriptID models.ULID) ([]*models.Transition, error) {
	shots, err := s.repos.Scripts.GetShotsByScriptID(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	if len(shots) < 2 {
		return nil, nil
	}

	var transitions []*models.Transition
	for i := 0; i < len(shots)-1; i++ {
		from, to := shots[i], shots[i+1]
		existing, err := s.repos.Transitions.GetByShotPair(ctx, from.ID, to.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			transitions = append(transitions, existing)
			continue
		}
		transition := &models.Transition{
			ScriptID:   scriptID,
			FromShotID: from.ID,
			ToShotID:   to.ID,
			OrderIndex: i + 1,
		}
		if err := s.repos.Transitions.Create(ctx, transition); err != nil {
			return nil, err
		}
		transitions = append(transitions, transition)
	}
	return transitions, nil
}

// GenerateTransitionPrompt synthesizes the video prompt bridging the
// transition's two shots and stores it on the transition.
func (s *Service) GenerateTransitionPrompt(ctx context.Context, transitionID, keyID models.ULID, model string) (string, error) {
	transition, err := s.repos.Transitions.GetByID(ctx, transitionID)
	if err != nil {
		return "", err
	}
	if transition.VideoPrompt != "" {
		return transition.VideoPrompt, nil
	}
	from, err := s.repos.Scripts.GetShotByID(ctx, transition.FromShotID)
	if err != nil {
		return "", err
	}
	to, err := s.repos.Scripts.GetShotByID(ctx, transition.ToShotID)
	if err != nil {
		return "", err
	}

	key, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return "", err
	}
	text, err := s.providers.Text(key.Provider)
	if err != nil {
		return "", err
	}
	prompt, err := text.GenerateText(ctx, key, provider.TextRequest{
		Model:  model,
		System: transitionSystem,
		Prompt: TransitionPrompt(from, to),
	})
	if err != nil {
		return "", err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", models.NewError(models.ErrKindMalformedResponse, "model returned an empty transition prompt")
	}

	transition.VideoPrompt = prompt
	if err := s.repos.Transitions.Update(ctx, transition); err != nil {
		return "", err
	}
	return prompt, nil
}

// GeneratePerformancePrompt designs the lip-sync and expression prompt
// for a shot with dialogue and stores it on the shot. Shots without
// dialogue are a no-op.
func (s *Service) GeneratePerformancePrompt(ctx context.Context, shotID, keyID models.ULID, model string) (string, error) {
	shot, err := s.repos.Scripts.GetShotByID(ctx, shotID)
	if err != nil {
		return "", err
	}
	if shot.Dialogue == "" {
		return "", nil
	}
	if shot.PerformancePrompt != "" {
		return shot.PerformancePrompt, nil
	}

	scene, err := s.repos.Scripts.GetSceneByID(ctx, shot.SceneID)
	if err != nil {
		return "", err
	}
	projectID, err := s.projectIDForScene(ctx, scene)
	if err != nil {
		return "", err
	}
	var speaker *models.Character
	if len(shot.CharacterRefs) > 0 {
		speaker, err = s.repos.Characters.GetByName(ctx, projectID, shot.CharacterRefs[0])
		if err != nil {
			return "", err
		}
	}

	key, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return "", err
	}
	text, err := s.providers.Text(key.Provider)
	if err != nil {
		return "", err
	}
	prompt, err := text.GenerateText(ctx, key, provider.TextRequest{
		Model:  model,
		System: performanceSystem,
		Prompt: PerformancePrompt(shot, speaker),
	})
	if err != nil {
		return "", err
	}
	prompt = strings.TrimSpace(prompt)

	shot.PerformancePrompt = prompt
	if err := s.repos.Scripts.UpdateShot(ctx, shot); err != nil {
		return "", err
	}
	return prompt, nil
}
