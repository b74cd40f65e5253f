package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/observability"
)

// DefaultOpenAIBaseURL is used when a credential carries no base URL.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// maxResponseBytes bounds provider response bodies (generated media comes
// back base64-inline on some providers).
const maxResponseBytes = 64 << 20

// OpenAICompat adapts any OpenAI-compatible API surface: chat completions
// for text, images/generations for images, audio/speech for TTS. Most
// self-hosted and third-party gateways speak this dialect.
type OpenAICompat struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAICompat creates the adapter. The client timeout is left to
// per-call contexts.
func NewOpenAICompat(logger *slog.Logger) *OpenAICompat {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAICompat{
		httpClient: &http.Client{},
		logger:     observability.WithComponent(logger, "provider.openai"),
	}
}

func baseURL(key *models.APIKey) string {
	if key.BaseURL != "" {
		return strings.TrimSuffix(key.BaseURL, "/")
	}
	return DefaultOpenAIBaseURL
}

// postJSON sends an authenticated JSON request and returns the raw body.
// Non-2xx statuses come back as classified errors.
func (a *OpenAICompat) postJSON(ctx context.Context, timeout time.Duration, url, secret string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, models.WrapError(models.ErrKindValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, models.WrapError(models.ErrKindValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, NormalizeTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NormalizeTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NormalizeHTTPError(resp.StatusCode, string(data))
	}
	return data, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// GenerateText implements TextModel.
func (a *OpenAICompat) GenerateText(ctx context.Context, key *models.APIKey, req TextRequest) (string, error) {
	payload := chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSONMode {
		payload.ResponseFormat = map[string]any{"type": "json_object"}
	}

	data, err := a.postJSON(ctx, TextTimeout, baseURL(key)+"/chat/completions", key.Secret, payload)
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", models.WrapError(models.ErrKindMalformedResponse, err)
	}
	if len(out.Choices) == 0 {
		return "", models.NewError(models.ErrKindMalformedResponse, "chat response has no choices")
	}
	if out.Choices[0].FinishReason == "content_filter" {
		return "", models.NewError(models.ErrKindContentPolicy, "response blocked by content filter")
	}

	content := out.Choices[0].Message.Content
	if req.JSONMode {
		content = StripJSONFence(content)
	}
	return content, nil
}

type imageGenRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imageGenResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json,omitempty"`
		URL     string `json:"url,omitempty"`
	} `json:"data"`
}

// GenerateImage implements ImageModel.
func (a *OpenAICompat) GenerateImage(ctx context.Context, key *models.APIKey, req ImageRequest) (*ImageResult, error) {
	prompt := req.Prompt
	// Providers without a reference-image parameter still honor guidance
	// URLs embedded in the prompt.
	if len(req.ReferenceImages) > 0 {
		prompt = fmt.Sprintf("%s\n\nReference images: %s", prompt, strings.Join(req.ReferenceImages, " "))
	}
	payload := imageGenRequest{
		Model:          req.Model,
		Prompt:         prompt,
		N:              1,
		Size:           req.Size,
		ResponseFormat: "b64_json",
	}

	data, err := a.postJSON(ctx, ImageTimeout, baseURL(key)+"/images/generations", key.Secret, payload)
	if err != nil {
		return nil, err
	}

	var out imageGenResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, models.WrapError(models.ErrKindMalformedResponse, err)
	}
	if len(out.Data) == 0 {
		return nil, models.NewError(models.ErrKindMalformedResponse, "image response has no data")
	}

	if out.Data[0].B64JSON != "" {
		raw, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
		if err != nil {
			return nil, models.WrapError(models.ErrKindMalformedResponse, err)
		}
		return &ImageResult{Data: raw, MimeType: "image/png"}, nil
	}
	if out.Data[0].URL != "" {
		return a.download(ctx, out.Data[0].URL)
	}
	return nil, models.NewError(models.ErrKindMalformedResponse, "image response has neither b64_json nor url")
}

// download fetches provider-hosted result bytes.
func (a *OpenAICompat) download(ctx context.Context, url string) (*ImageResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ImageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.WrapError(models.ErrKindMalformedResponse, err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, NormalizeTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NormalizeTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NormalizeHTTPError(resp.StatusCode, string(data))
	}
	return &ImageResult{Data: data, MimeType: resp.Header.Get("Content-Type")}, nil
}

type speechRequest struct {
	Model string  `json:"model"`
	Input string  `json:"input"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed,omitempty"`
}

// Synthesize implements TTSModel. The speech endpoint returns raw audio.
func (a *OpenAICompat) Synthesize(ctx context.Context, key *models.APIKey, req TTSRequest) (*TTSResult, error) {
	data, err := a.postJSON(ctx, TTSTimeout, baseURL(key)+"/audio/speech", key.Secret, speechRequest{
		Model: req.Model,
		Input: req.Text,
		Voice: req.Voice,
		Speed: req.Speed,
	})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, models.NewError(models.ErrKindMalformedResponse, "speech response is empty")
	}
	return &TTSResult{Data: data, MimeType: "audio/mpeg"}, nil
}
