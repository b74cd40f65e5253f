package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aicg/aicg/internal/models"
)

// Prompt templates for the production pipeline. Extraction prompts force
// strict JSON output; image prompts push providers towards live-action
// film photography and away from CGI.

// characterExtractionSystem primes the model as a JSON-only generator.
const characterExtractionSystem = "You are a professional casting director and a strict JSON generator."

const characterExtractionTemplate = `You are a veteran casting director. Analyze the following screenplay excerpt and extract every major character that appears in it.

## Output requirements
Respond with JSON only, in exactly this structure:
{
  "characters": [
    {
      "name": "character name",
      "role_description": "identity, background and personality",
      "visual_traits": "detailed visual description (age, hair, clothing, facial features, build) suitable for AI image generation",
      "dialogue_traits": "speech style (calm, gruff, humorous, bookish, accent, ...)"
    }
  ]
}
Do not output explanations, comments, markdown or code fences.

## Screenplay excerpt
---
%s
---`

// maxExtractionInput bounds the text fed to extraction prompts.
const maxExtractionInput = 5000

// CharacterExtractionPrompt builds the cast-extraction prompt.
func CharacterExtractionPrompt(text string) string {
	return fmt.Sprintf(characterExtractionTemplate, models.Truncate(text, maxExtractionInput))
}

const sceneExtractionSystem = "You are an award-winning screenwriter and director, and a strict JSON generator."

const sceneExtractionTemplate = `Split the following novel chapter into film scenes and write a dense, cinematic description for each one.

## Hard rules
1. You must NOT invent new characters.
2. Scene "characters" entries must come from the existing character list below, spelled exactly as given.
3. "characters" lists the names appearing in the scene, without ranking; use [] when no character appears.
4. Output JSON only: no explanations, comments, markdown or code fences.

## Existing characters (choose only from these)
%s

## Output format
{
  "scenes": [
    {
      "order_index": 1,
      "location": "where the scene takes place",
      "time_of_day": "time and light condition",
      "atmosphere": "mood of the scene",
      "scene": "dense cinematic scene description",
      "characters": ["name 1", "name 2"]
    }
  ]
}

## Scene writing rules
The "scene" field is not a summary. It is continuous, visible film text: environment and space (terrain, architecture, weather, light, time), sound elements, concrete character actions and movement, conflict and tension, key dialogue quoted inline, emotion shown only through visible action. No interior monologue, no camera terminology.

## Scene splitting rules
1. One scene corresponds to one clear time and place.
2. Split when location or time clearly changes.
3. Action-heavy passages may run longer and denser.
4. Keep film pacing; never render the whole chapter as a single scene.

## Chapter to adapt
%s`

// SceneExtractionPrompt builds the scene-splitting prompt.
// charactersJSON is the existing cast serialized for the model.
func SceneExtractionPrompt(charactersJSON, text string) string {
	return fmt.Sprintf(sceneExtractionTemplate, charactersJSON, models.Truncate(text, maxExtractionInput*3))
}

const shotExtractionSystem = "You are an award-winning film director and storyboard artist, and a strict JSON generator."

const shotExtractionTemplate = `Split the following film scene into shots. Each shot becomes a fixed 8-second video generated from its first and last frame only; the model interpolates everything in between.

Therefore every shot description must imply a clear starting frame and a clear ending frame, and every narrative beat must be visible in the final frame. Never rely on changes that are not visible at the end of the shot.

## Hard rules
1. You must NOT invent new characters.
2. Shot "characters" entries must come from the existing character list below, spelled exactly as given; use [] when no character appears.
3. Output JSON only: no explanations, comments, markdown or code fences.

## Existing characters (choose only from these)
%s

## Output format
{
  "shots": [
    {
      "order_index": 1,
      "shot": "concrete visible description covering the change from starting state to ending state",
      "camera": "framing and movement (wide shot, close-up, slow push in, ...)",
      "dialogue": "spoken lines, empty string when silent",
      "characters": ["name 1", "name 2"]
    }
  ]
}

## Shot writing rules
Each shot states the starting pose and composition, a continuous action completable in 8 seconds, the final pose and composition, framing and lens, light and palette, and environment. Emotion must be carried by visible action and the ending frame. No interior monologue, no abstract mood summaries.

## Dialogue rules
At most one or two key lines per 8-second shot, always paired with a visible action. Emotional turns land in the ending frame, never in dialogue alone.

## Splitting rules
Target 3 to 5 shots per scene. Split only on a major change of viewpoint, a change of space, a clear time jump, or a narrative beat needing its own ending frame. Do not split single simple actions or individual dialogue lines.

## Scene to split
%s`

// ShotExtractionPrompt builds the storyboard prompt for one scene.
func ShotExtractionPrompt(charactersJSON, scene string) string {
	return fmt.Sprintf(shotExtractionTemplate, charactersJSON, scene)
}

const sceneImageTemplate = `Create a cinematic establishing shot of the following environment.
This is a LIVE-ACTION PHOTOGRAPH for a film production, not CGI or a 3D render.

## Scene description
%s

## Cinematography
Wide establishing shot with layered depth (foreground, midground, background), wide-angle lens, deep focus, composition that shows the scale and spatial relationships of the location. Match the time of day, weather and season implied by the description.

## Style
Soft or dramatic natural light as the scene demands, cinematic color grading with a film look, high dynamic range, rich environmental detail. Shot on a professional cinema camera (ARRI Alexa, RED, Sony Venice).

## Critical requirements
UNINHABITED ENVIRONMENT - no human presence of any kind:
- No people, figures, faces, bodies or human activity
- No human silhouettes, shadows or reflections
- No crowds, groups, individuals or human-like shapes
- No mannequins or human-shaped objects

Forbidden: 3D rendering artifacts, CGI aesthetics, video-game or synthetic imagery, overly clean surfaces, artificial colors.`

// SceneImagePrompt builds the establishing-image prompt from the scene
// description.
func SceneImagePrompt(sceneDescription string) string {
	return fmt.Sprintf(sceneImageTemplate, sceneDescription)
}

const sceneImageFromShotsTemplate = `Create a cinematic establishing shot of the environment shared by the following shots.
This is a LIVE-ACTION PHOTOGRAPH for a film production, not CGI or a 3D render.

## Shots
%s

## Task
Extract the common environmental elements across these shots (location type, architecture, lighting conditions, weather, color palette, spatial layout) and render the empty location where they take place, matching their time of day, light and mood.

## Critical requirements
UNINHABITED ENVIRONMENT - remove ALL human elements from the shots:
- No people, figures, faces, bodies or human activity
- No human silhouettes, shadows or reflections
- The environment exists in complete solitude

Shot on a professional cinema camera, cinematic film-look color grading, high dynamic range. Forbidden: 3D rendering, CGI aesthetics, video-game visuals, artificial smoothness or colors.`

// SceneImagePromptFromShots builds the establishing-image prompt when the
// scene carries no description of its own.
func SceneImagePromptFromShots(shots []*models.Shot) string {
	var b strings.Builder
	for i, shot := range shots {
		fmt.Fprintf(&b, "%d. %s\n", i+1, shot.VisualDescription)
	}
	return fmt.Sprintf(sceneImageFromShotsTemplate, strings.TrimSpace(b.String()))
}

// AvatarPrompt builds the three-view character reference sheet prompt.
// Consistent reference imagery keeps the character recognizable across
// keyframes.
func AvatarPrompt(c *models.Character) string {
	traits := c.VisualTraits
	if traits == "" {
		traits = c.RoleDescription
	}
	return fmt.Sprintf("Character design reference sheet for %s: %s. "+
		"Frontal view, profile view, and back view of the same person, consistent features across all three views, "+
		"neutral studio background, even lighting. Photorealistic live-action style, real human actor, "+
		"professional cinema photography, not CGI, not anime, not a 3D render.", c.Name, traits)
}

// keyframeCoreStyle anchors every keyframe in live-action photography and
// in compositions that survive being animated.
const keyframeCoreStyle = `CRITICAL STYLE REQUIREMENTS:
- This MUST be a LIVE-ACTION PHOTOGRAPH, not a 3D render, not CGI, not animation
- Real human actors in real physical locations
- Captured with professional cinema cameras (ARRI, RED, Sony Venice)
- Natural lighting and practical effects only
- Photorealistic skin texture, fabric detail, environmental elements
- Film grain and depth of field characteristic of cinema photography

CINEMATOGRAPHY FOR VIDEO ANIMATION:
- Composition should support camera movement (medium shots and two-shots work well)
- Include depth layers for natural parallax when animated
- Avoid extreme angles that limit transition possibilities
- Frame with spatial context, not too tight, to allow camera adjustments`

const keyframeTechnicalSpecs = `Technical specifications:
- Shot on 35mm film or a high-end digital cinema camera
- Cinematic color grading (film look, not a digital or game look)
- Natural depth of field and bokeh
- Realistic lighting (practical, natural, or professional film lighting)

Video-ready composition (this frame will be animated):
- Clear subject positioned for camera movement
- Depth layers enabling parallax (foreground, midground, background)
- Breathing room for push in, pull back and pan transitions`

const keyframeForbidden = `ABSOLUTELY FORBIDDEN:
- NO 3D rendering artifacts
- NO CGI character models
- NO video game aesthetics
- NO anime or cartoon styles
- NO artificial or synthetic looking imagery`

const keyframeForbiddenNoPeople = keyframeForbidden + `
- NO people, human figures, characters or persons of any kind
- NO faces, bodies or human body parts
- NO shadows or reflections of people
- NO human presence, portraits or human-like shapes
- NO mannequins or human-shaped objects`

// KeyframePrompt builds the keyframe-generation prompt for a shot.
// previous may be nil for the first shot of a scene; characters holds the
// resolved cast members referenced by the shot.
func KeyframePrompt(shot *models.Shot, scene *models.Scene, characters []*models.Character, previous *models.Shot) string {
	var b strings.Builder
	b.WriteString(keyframeCoreStyle)
	b.WriteString("\n\n")

	if scene != nil && scene.Description != "" {
		fmt.Fprintf(&b, "SCENE CONTEXT:\nLocation and setting: %s\n\n", scene.Description)
	}

	if previous == nil {
		b.WriteString("VISUAL CONTINUITY:\nThis is the FIRST shot in this scene. Use the scene image as the primary visual reference for environment, lighting and atmosphere; it establishes the foundation for subsequent shots.\n\n")
	} else {
		fmt.Fprintf(&b, "VISUAL CONTINUITY (critical for seamless flow):\nThis shot CONTINUES from the previous shot: %s\nKeep lighting, color palette and atmosphere consistent, keep character appearance and positioning consistent, and show logical progression of the environment.\n\n",
			models.Truncate(previous.VisualDescription, 200))
	}

	fmt.Fprintf(&b, "SHOT DESCRIPTION:\n%s\n", shot.VisualDescription)
	if shot.CameraMovement != "" {
		fmt.Fprintf(&b, "Camera: %s\n", shot.CameraMovement)
	}
	if shot.Dialogue != "" {
		fmt.Fprintf(&b, "Dialogue context: %s\n", models.Truncate(shot.Dialogue, 100))
	}
	b.WriteString("\n")

	if len(characters) > 0 {
		b.WriteString("CHARACTERS IN SHOT (real actors):\n")
		for _, c := range characters {
			if c.VisualTraits != "" {
				fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.VisualTraits)
			} else {
				fmt.Fprintf(&b, "- %s\n", c.Name)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(keyframeTechnicalSpecs)
	b.WriteString("\n\n")
	if len(shot.CharacterRefs) > 0 {
		b.WriteString(keyframeForbidden)
	} else {
		b.WriteString(keyframeForbiddenNoPeople)
	}
	b.WriteString("\n\nRemember: this is a REAL PHOTOGRAPH from a LIVE-ACTION FILM, not a digital creation.")
	return b.String()
}

const transitionSystem = "You are an expert prompt writer for frame-interpolated AI video generation. Output the video prompt text only."

const transitionTemplate = `Write a video-generation prompt for a single fixed 8-second continuous shot that starts at the first storyboard frame below and ends at the second. The video is generated from the first and last frame; the model interpolates everything in between, so the prompt must describe one unbroken camera move from state A to state B.

## Rules
- One continuous shot: no cuts, no jump edits, no narrative leaps
- Every key change must hold in the final frame state
- Allowed camera moves: dolly, tracking, slow pan, push in, pull back, arc
- Name the framing (wide, medium, close-up) and focus behavior (shallow depth of field, deep focus, rack focus)
- Do not introduce new characters, props or locations
- Character names must be copied exactly as written, untranslated
- Live-action realism: cinematic, filmic; emotion only through visible action and the final frame

## Audio rules
- Strictly NO background music, NO BGM, NO soundtrack; state this explicitly in the prompt
- Only diegetic sound, written with prefixes:
  SFX: footsteps, fabric rustling, breathing, object handling
  Ambient noise: room tone, wind, distant traffic

## Output
Output only the prompt text itself, no explanations, headings or markup.

## The two storyboard frames
FIRST FRAME - %s

LAST FRAME - %s`

// TransitionPrompt builds the prompt-synthesis request for the video
// bridging two adjacent shots.
func TransitionPrompt(from, to *models.Shot) string {
	describe := func(shot *models.Shot) string {
		desc := shot.VisualDescription
		if shot.Dialogue != "" {
			desc += "\nDialogue: " + shot.Dialogue
		}
		return desc
	}
	return fmt.Sprintf(transitionTemplate, describe(from), describe(to))
}

const performanceSystem = "You are a professional AI video prompt optimizer. Output the prompt text only."

const performanceTemplate = `You are a top-tier acting coach. Based on the shot content and the character's lines, design a precise visual performance prompt. It will drive AI video generation so the character's lip movement, expression and gestures match the dialogue.

## Context
- Character: %s
- Dialogue: "%s"
- Shot description: %s

## Output requirements
Output one English prompt of at most 70 words focusing on facial micro-expressions, lip-sync mouth movement and eye behavior. Natural and dramatically charged. No explanations, prompt text only.

## Example
"The character's mouth moves naturally synchronized with the speech, lips forming precise vowels. Eyes narrowing with subtle intensity, eyebrows slightly furrowed to express controlled anger. A slight twitch at the corner of the mouth, enhancing the realistic facial performance."`

// PerformancePrompt builds the dialogue-performance prompt request for a
// shot with spoken lines.
func PerformancePrompt(shot *models.Shot, character *models.Character) string {
	traits := "Unknown character"
	if character != nil {
		traits = fmt.Sprintf("%s: %s, voice style: %s", character.Name, character.VisualTraits, character.DialogueTraits)
	}
	return fmt.Sprintf(performanceTemplate, traits, shot.Dialogue, shot.VisualDescription)
}

// sentenceStyles are the narrative-pipeline style presets appended to the
// image prompt system message.
var sentenceStyles = map[string]string{
	"cinematic":    "Cinematic lighting, 8k resolution, photorealistic, movie still, detailed texture, dramatic atmosphere.",
	"anime":        "Anime style, vibrant colors, detailed background, high quality.",
	"illustration": "Digital illustration, concept art, fantasy style, detailed.",
	"ink":          "Chinese ink painting style, watercolor, traditional art, artistic, abstract.",
}

// DefaultSentenceStyle is used when a job names no style preset.
const DefaultSentenceStyle = "cinematic"

const sentencePromptSystemTemplate = `You are a professional AI image prompt generator (AI Director). Convert each novel sentence into a high-quality English image-generation prompt.

Rules:
1. Output must be a bare JSON array of strings, no markdown markers or extra text.
2. Each element corresponds to one input sentence, in order.
3. Prompt structure: (subject), (action/pose), (environment/background), (lighting/atmosphere), (style modifiers), (quality tags).
4. Carry the mood, emotion and visual elements of the original accurately.
5. For interior monologue or sentences without a concrete picture, produce imagery matching the surrounding atmosphere.

Style requirement: %s`

// SentencePromptSystem builds the batch image-prompt system message for a
// style preset, defaulting unknown presets to cinematic.
func SentencePromptSystem(style string) string {
	suffix, ok := sentenceStyles[style]
	if !ok {
		suffix = sentenceStyles[DefaultSentenceStyle]
	}
	return fmt.Sprintf(sentencePromptSystemTemplate, suffix)
}

// castJSON serializes the characters the extraction prompts may refer to.
func castJSON(characters []*models.Character) (string, error) {
	type entry struct {
		Name         string `json:"name"`
		VisualTraits string `json:"visual_traits,omitempty"`
	}
	entries := make([]entry, 0, len(characters))
	for _, c := range characters {
		entries = append(entries, entry{Name: c.Name, VisualTraits: c.VisualTraits})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("serializing cast: %w", err)
	}
	return string(data), nil
}
