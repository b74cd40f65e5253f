// Package provider defines the external generation-model adapters. Every
// adapter normalizes transport and provider errors into the classified
// error taxonomy at this boundary; nothing upstream sees raw HTTP errors.
package provider

import (
	"context"
	"time"

	"github.com/aicg/aicg/internal/models"
)

// Per-call deadlines. Video generation is asynchronous: submission and
// polling are short calls, the work itself runs provider-side.
const (
	TextTimeout        = 120 * time.Second
	ImageTimeout       = 180 * time.Second
	TTSTimeout         = 60 * time.Second
	VideoSubmitTimeout = 60 * time.Second
	VideoPollTimeout   = 30 * time.Second
)

// TextRequest is a text-generation call.
type TextRequest struct {
	Model  string
	System string
	Prompt string
	// JSONMode asks the model for a JSON object response; the adapter
	// strips markdown code fences from the reply either way.
	JSONMode    bool
	Temperature float64
	MaxTokens   int
}

// ImageRequest is a synchronous image-generation call.
type ImageRequest struct {
	Model  string
	Prompt string
	// ReferenceImages are presigned URLs of guidance images (character
	// avatars, scene images) for providers that support them.
	ReferenceImages []string
	Size            string
}

// ImageResult carries generated image bytes.
type ImageResult struct {
	Data     []byte
	MimeType string
}

// TTSRequest is a text-to-speech call.
type TTSRequest struct {
	Model string
	Voice string
	Text  string
	Speed float64
}

// TTSResult carries synthesized audio bytes.
type TTSResult struct {
	Data     []byte
	MimeType string
}

// VideoSubmitRequest starts an asynchronous video-generation task.
type VideoSubmitRequest struct {
	Model  string
	Prompt string
	// FirstFrameURL and LastFrameURL are presigned keyframe URLs the
	// provider interpolates between.
	FirstFrameURL string
	LastFrameURL  string
	DurationSec   int
}

// VideoState is the provider-side lifecycle of an asynchronous task.
type VideoState string

const (
	VideoStatePending    VideoState = "pending"
	VideoStateProcessing VideoState = "processing"
	VideoStateCompleted  VideoState = "completed"
	VideoStateFailed     VideoState = "failed"
)

// VideoStatus is a poll result for an asynchronous video task.
type VideoStatus struct {
	State VideoState
	// VideoURL is the provider-hosted result, set once completed.
	VideoURL string
	// Error describes the failure, set once failed.
	Error string
}

// TextModel generates text.
type TextModel interface {
	GenerateText(ctx context.Context, key *models.APIKey, req TextRequest) (string, error)
}

// ImageModel generates images synchronously.
type ImageModel interface {
	GenerateImage(ctx context.Context, key *models.APIKey, req ImageRequest) (*ImageResult, error)
}

// TTSModel synthesizes speech.
type TTSModel interface {
	Synthesize(ctx context.Context, key *models.APIKey, req TTSRequest) (*TTSResult, error)
}

// VideoModel generates videos asynchronously via submit and poll.
type VideoModel interface {
	SubmitVideo(ctx context.Context, key *models.APIKey, req VideoSubmitRequest) (taskID string, err error)
	PollVideo(ctx context.Context, key *models.APIKey, taskID string) (*VideoStatus, error)
}
