package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/provider"
)

// minSentenceRunes drops fragments too short to carry a picture.
const minSentenceRunes = 2

// ParseChapter splits the chapter text into ordered sentences for the
// narrative pipeline and advances the chapter to parsed. Re-running on an
// already parsed chapter returns the existing sentences.
func (s *Service) ParseChapter(ctx context.Context, chapterID models.ULID) ([]*models.Sentence, error) {
	chapter, err := s.repos.Chapters.GetByID(ctx, chapterID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repos.Sentences.GetByChapterID(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	if strings.TrimSpace(chapter.Content) == "" {
		return nil, models.NewError(models.ErrKindValidation, "chapter has no content")
	}
	parts := splitSentences(chapter.Content)
	if len(parts) == 0 {
		return nil, models.NewError(models.ErrKindValidation, "chapter content yields no sentences")
	}

	sentences := make([]*models.Sentence, 0, len(parts))
	for i, text := range parts {
		sentences = append(sentences, &models.Sentence{
			ChapterID:    chapterID,
			OrderIndex:   i + 1,
			Text:         text,
			SubtitleText: text,
		})
	}
	if err := s.repos.Sentences.CreateBatch(ctx, sentences); err != nil {
		return nil, err
	}
	if err := s.repos.Chapters.AdvanceStatus(ctx, chapterID, models.PipelineStatusParsed); err != nil {
		return nil, err
	}
	s.logger.Info("chapter parsed", "chapter_id", chapterID.String(), "sentences", len(sentences))
	return sentences, nil
}

// GenerateSentencePrompts batch-converts the chapter's sentences into
// image prompts using the style preset. Sentences that already carry a
// prompt keep it; only the gaps are filled, so the stage resumes cleanly.
func (s *Service) GenerateSentencePrompts(ctx context.Context, chapterID, keyID models.ULID, model, style string) (int, error) {
	sentences, err := s.repos.Sentences.GetByChapterID(ctx, chapterID)
	if err != nil {
		return 0, err
	}
	var missing []*models.Sentence
	for _, sentence := range sentences {
		if sentence.ImagePrompt == "" {
			missing = append(missing, sentence)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	var input strings.Builder
	for i, sentence := range missing {
		fmt.Fprintf(&input, "%d. %s\n", i+1, sentence.Text)
	}

	key, err := s.resolveKey(ctx, keyID)
	if err != nil {
		return 0, err
	}
	text, err := s.providers.Text(key.Provider)
	if err != nil {
		return 0, err
	}
	reply, err := text.GenerateText(ctx, key, provider.TextRequest{
		Model:    model,
		System:   SentencePromptSystem(style),
		Prompt:   input.String(),
		JSONMode: true,
	})
	if err != nil {
		return 0, err
	}

	prompts, err := parsePromptArray(reply)
	if err != nil {
		return 0, err
	}
	if len(prompts) != len(missing) {
		return 0, models.NewError(models.ErrKindMalformedResponse,
			fmt.Sprintf("expected %d prompts, model returned %d", len(missing), len(prompts)))
	}

	for i, sentence := range missing {
		sentence.ImagePrompt = prompts[i]
		sentence.VoicePrompt = sentence.Text
		if err := s.repos.Sentences.Update(ctx, sentence); err != nil {
			return i, err
		}
	}
	s.logger.Info("sentence prompts generated",
		"chapter_id", chapterID.String(), "count", len(missing), "style", style)
	return len(missing), nil
}

// parsePromptArray accepts either a bare JSON array of strings or an
// object wrapping one, which JSON-mode models sometimes insist on.
func parsePromptArray(reply string) ([]string, error) {
	var prompts []string
	if err := json.Unmarshal([]byte(reply), &prompts); err == nil {
		return prompts, nil
	}
	var wrapped map[string][]string
	if err := json.Unmarshal([]byte(reply), &wrapped); err == nil {
		for _, inner := range wrapped {
			return inner, nil
		}
	}
	return nil, models.NewError(models.ErrKindMalformedResponse,
		"prompt batch reply is not a JSON string array")
}

// sentenceTerminators end a sentence in both CJK and Western punctuation.
var sentenceTerminators = map[rune]bool{
	'。': true, '！': true, '？': true, '；': true,
	'.': true, '!': true, '?': true, ';': true,
	'\n': true,
}

// closingMarks trail a terminator and stay attached to their sentence.
var closingMarks = map[rune]bool{
	'”': true, '"': true, '』': true, '」': true, '’': true, '\'': true, ')': true, '）': true,
}

// splitSentences breaks prose into sentences on terminal punctuation,
// keeping closing quotes with the sentence they end.
func splitSentences(content string) []string {
	var (
		sentences []string
		current   []rune
	)
	flush := func() {
		text := strings.TrimSpace(string(current))
		current = current[:0]
		if len([]rune(text)) < minSentenceRunes {
			return
		}
		sentences = append(sentences, text)
	}

	runes := []rune(content)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current = append(current, r)
		if !sentenceTerminators[r] {
			continue
		}
		// Pull trailing closing quotes into this sentence.
		for i+1 < len(runes) && closingMarks[runes[i+1]] {
			i++
			current = append(current, runes[i])
		}
		// Don't split on a decimal point or an abbreviation dot glued to
		// the next word.
		if r == '.' && i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		flush()
	}
	flush()
	return sentences
}
