package service

import (
	"context"

	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/provider"
	"github.com/aicg/aicg/internal/repository"
)

// GenerateSceneImage renders the environment-only establishing image for
// a scene and stores it through the history path.
func (s *Service) GenerateSceneImage(ctx context.Context, sceneID, keyID models.ULID, model string) (string, error) {
	scene, err := s.repos.Scripts.GetSceneByID(ctx, sceneID)
	if err != nil {
		return "", err
	}
	projectID, err := s.projectIDForScene(ctx, scene)
	if err != nil {
		return "", err
	}

	var prompt string
	if scene.Description != "" {
		prompt = SceneImagePrompt(scene.Description)
	} else {
		shots := make([]*models.Shot, len(scene.Shots))
		for i := range scene.Shots {
			shots[i] = &scene.Shots[i]
		}
		if len(shots) == 0 {
			return "", models.NewError(models.ErrKindValidation,
				"scene has neither a description nor shots to derive one from")
		}
		prompt = SceneImagePromptFromShots(shots)
	}

	key, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return "", err
	}
	image, err := s.providers.Image(key.Provider)
	if err != nil {
		return "", err
	}
	result, err := image.GenerateImage(ctx, key, provider.ImageRequest{Model: model, Prompt: prompt})
	if err != nil {
		return "", err
	}

	url, err := s.uploadImage(ctx, projectID, models.ResourceSceneImage, result.Data, result.MimeType)
	if err != nil {
		return "", err
	}
	if err := s.repos.Scripts.UpdateSceneImage(ctx, sceneID, repository.ArtifactUpdate{
		URL: url, Prompt: prompt, Model: model,
	}); err != nil {
		return "", err
	}
	s.logger.Info("scene image generated", "scene_id", sceneID.String(), "url", url)
	return url, nil
}

// GenerateAvatar renders the three-view character reference sheet and
// stores it through the history path.
func (s *Service) GenerateAvatar(ctx context.Context, characterID, keyID models.ULID, model string) (string, error) {
	character, err := s.repos.Characters.GetByID(ctx, characterID)
	if err != nil {
		return "", err
	}
	prompt := character.GeneratedPrompt
	if prompt == "" {
		prompt = AvatarPrompt(character)
	}

	key, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return "", err
	}
	image, err := s.providers.Image(key.Provider)
	if err != nil {
		return "", err
	}

	if err := s.repos.Characters.SetStatus(ctx, characterID, models.ArtifactStatusProcessing, ""); err != nil {
		return "", err
	}
	result, err := image.GenerateImage(ctx, key, provider.ImageRequest{Model: model, Prompt: prompt})
	if err != nil {
		return "", err
	}

	url, err := s.uploadImage(ctx, character.ProjectID, models.ResourceCharacterAvatar, result.Data, result.MimeType)
	if err != nil {
		return "", err
	}
	if err := s.repos.Characters.UpdateAvatar(ctx, characterID, repository.ArtifactUpdate{
		URL: url, Prompt: prompt, Model: model,
	}); err != nil {
		return "", err
	}
	if err := s.repos.Characters.SetStatus(ctx, characterID, models.ArtifactStatusCompleted, ""); err != nil {
		return "", err
	}
	s.logger.Info("avatar generated", "character_id", characterID.String(), "name", character.Name, "url", url)
	return url, nil
}

// GenerateKeyframe renders the keyframe image for a shot, feeding the
// scene image and the referenced characters' avatars to the provider as
// reference imagery. Dangling character names are skipped.
func (s *Service) GenerateKeyframe(ctx context.Context, shotID, keyID models.ULID, model string) (string, error) {
	shot, err := s.repos.Scripts.GetShotByID(ctx, shotID)
	if err != nil {
		return "", err
	}
	scene, err := s.repos.Scripts.GetSceneByID(ctx, shot.SceneID)
	if err != nil {
		return "", err
	}
	projectID, err := s.projectIDForScene(ctx, scene)
	if err != nil {
		return "", err
	}

	var (
		characters []*models.Character
		refs       []string
	)
	if scene.SceneImageURL != "" {
		signed, err := s.presign(ctx, scene.SceneImageURL)
		if err != nil {
			return "", err
		}
		refs = append(refs, signed)
	}
	for _, name := range shot.CharacterRefs {
		character, err := s.repos.Characters.GetByName(ctx, projectID, name)
		if err != nil {
			return "", err
		}
		if character == nil {
			s.logger.Warn("shot references unknown character", "shot_id", shotID.String(), "name", name)
			continue
		}
		characters = append(characters, character)
		if character.AvatarURL != "" {
			signed, err := s.presign(ctx, character.AvatarURL)
			if err != nil {
				return "", err
			}
			refs = append(refs, signed)
		}
	}

	prompt := KeyframePrompt(shot, scene, characters, previousShot(scene, shot))

	key, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return "", err
	}
	image, err := s.providers.Image(key.Provider)
	if err != nil {
		return "", err
	}

	if err := s.repos.Scripts.SetShotStatus(ctx, shotID, models.ArtifactStatusProcessing, ""); err != nil {
		return "", err
	}
	result, err := image.GenerateImage(ctx, key, provider.ImageRequest{
		Model:           model,
		Prompt:          prompt,
		ReferenceImages: refs,
	})
	if err != nil {
		return "", err
	}

	url, err := s.uploadImage(ctx, projectID, models.ResourceShotKeyframe, result.Data, result.MimeType)
	if err != nil {
		return "", err
	}
	// UpdateShotKeyframe flips the shot to completed alongside the write.
	if err := s.repos.Scripts.UpdateShotKeyframe(ctx, shotID, repository.ArtifactUpdate{
		URL: url, Prompt: prompt, Model: model,
	}); err != nil {
		return "", err
	}
	s.logger.Info("keyframe generated", "shot_id", shotID.String(), "url", url, "references", len(refs))
	return url, nil
}

// previousShot finds the shot preceding this one within its scene; nil
// for the scene's first shot.
func previousShot(scene *models.Scene, shot *models.Shot) *models.Shot {
	var previous *models.Shot
	for i := range scene.Shots {
		candidate := &scene.Shots[i]
		if candidate.OrderIndex >= shot.OrderIndex {
			continue
		}
		if previous == nil || candidate.OrderIndex > previous.OrderIndex {
			previous = candidate
		}
	}
	return previous
}

// GenerateSentenceImage renders the narrative-pipeline image for one
// sentence from its stored image prompt.
func (s *Service) GenerateSentenceImage(ctx context.Context, sentenceID, keyID models.ULID, model string) (string, error) {
	sentence, err := s.repos.Sentences.GetByID(ctx, sentenceID)
	if err != nil {
		return "", err
	}
	if sentence.ImagePrompt == "" {
		return "", models.NewError(models.ErrKindValidation,
			"sentence has no image prompt; run prompt generation first")
	}
	chapter, err := s.repos.Chapters.GetByID(ctx, sentence.ChapterID)
	if err != nil {
		return "", err
	}

	key, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return "", err
	}
	image, err := s.providers.Image(key.Provider)
	if err != nil {
		return "", err
	}
	result, err := image.GenerateImage(ctx, key, provider.ImageRequest{
		Model:  model,
		Prompt: sentence.ImagePrompt,
	})
	if err != nil {
		return "", err
	}

	url, err := s.uploadImage(ctx, chapter.ProjectID, models.ResourceSentenceImage, result.Data, result.MimeType)
	if err != nil {
		return "", err
	}
	if err := s.repos.Sentences.UpdateImage(ctx, sentenceID, repository.ArtifactUpdate{
		URL: url, Prompt: sentence.ImagePrompt, Model: model,
	}); err != nil {
		return "", err
	}
	return url, nil
}
