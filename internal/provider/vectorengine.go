package provider

import (
	"bytes"
	"context"
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

// VectorEngine adapts the vector-engine style asynchronous video API:
// a submit call returns an external task handle and a poll call reports
// its progress until a hosted video URL appears.
type VectorEngine struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewVectorEngine creates the adapter.
func NewVectorEngine(logger *slog.Logger) *VectorEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorEngine{
		httpClient: &http.Client{},
		logger:     observability.WithComponent(logger, "provider.vectorengine"),
	}
}

type videoCreateRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	FirstFrame  string `json:"first_frame_image,omitempty"`
	LastFrame   string `json:"last_frame_image,omitempty"`
	DurationSec int    `json:"duration,omitempty"`
}

type videoCreateResponse struct {
	TaskID string `json:"task_id"`
	ID     string `json:"id"`
}

type videoStatusResponse struct {
	Status   string `json:"status"`
	VideoURL string `json:"video_url"`
	Error    string `json:"error"`
	Message  string `json:"message"`
}

func (a *VectorEngine) do(ctx context.Context, timeout time.Duration, method, url, secret string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, models.WrapError(models.ErrKindValidation, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, models.WrapError(models.ErrKindValidation, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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

// SubmitVideo implements VideoModel.
func (a *VectorEngine) SubmitVideo(ctx context.Context, key *models.APIKey, req VideoSubmitRequest) (string, error) {
	if key.BaseURL == "" {
		return "", models.NewError(models.ErrKindValidation, "video provider credential needs a base URL")
	}
	url := strings.TrimSuffix(key.BaseURL, "/") + "/video/create"

	data, err := a.do(ctx, VideoSubmitTimeout, http.MethodPost, url, key.Secret, videoCreateRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		FirstFrame:  req.FirstFrameURL,
		LastFrame:   req.LastFrameURL,
		DurationSec: req.DurationSec,
	})
	if err != nil {
		return "", err
	}

	var out videoCreateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", models.WrapError(models.ErrKindMalformedResponse, err)
	}
	taskID := out.TaskID
	if taskID == "" {
		taskID = out.ID
	}
	if taskID == "" {
		return "", models.NewError(models.ErrKindMalformedResponse, "video submission returned no task id")
	}
	a.logger.Debug("video task submitted", "external_task_id", taskID)
	return taskID, nil
}

// PollVideo implements VideoModel.
func (a *VectorEngine) PollVideo(ctx context.Context, key *models.APIKey, taskID string) (*VideoStatus, error) {
	if key.BaseURL == "" {
		return nil, models.NewError(models.ErrKindValidation, "video provider credential needs a base URL")
	}
	url := fmt.Sprintf("%s/videos/%s", strings.TrimSuffix(key.BaseURL, "/"), taskID)

	data, err := a.do(ctx, VideoPollTimeout, http.MethodGet, url, key.Secret, nil)
	if err != nil {
		return nil, err
	}

	var out videoStatusResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, models.WrapError(models.ErrKindMalformedResponse, err)
	}

	status := &VideoStatus{}
	switch strings.ToLower(out.Status) {
	case "pending", "queued", "submitted":
		status.State = VideoStatePending
	case "processing", "running", "in_progress":
		status.State = VideoStateProcessing
	case "completed", "succeeded", "success":
		status.State = VideoStateCompleted
		status.VideoURL = out.VideoURL
		if status.VideoURL == "" {
			return nil, models.NewError(models.ErrKindMalformedResponse,
				fmt.Sprintf("task %s completed without a video url", taskID))
		}
	case "failed", "error", "cancelled":
		status.State = VideoStateFailed
		status.Error = out.Error
		if status.Error == "" {
			status.Error = out.Message
		}
	default:
		return nil, models.NewError(models.ErrKindMalformedResponse,
			fmt.Sprintf("task %s reported unknown status %q", taskID, out.Status))
	}
	return status, nil
}
