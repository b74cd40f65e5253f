package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aicg/aicg/internal/models"
)

// contentPolicyMarkers are substrings providers use when refusing content.
var contentPolicyMarkers = []string{
	"content policy",
	"content_policy",
	"safety system",
	"flagged",
	"rejected by moderation",
	"sensitive content",
}

// NormalizeHTTPError maps a provider HTTP status and response body onto
// the classified error taxonomy.
func NormalizeHTTPError(status int, body string) *models.Error {
	msg := fmt.Sprintf("provider returned %d: %s", status, models.Truncate(body, 512))
	switch {
	case status == http.StatusTooManyRequests:
		return models.NewError(models.ErrKindQuota, msg)
	case status == http.StatusPaymentRequired:
		return models.NewError(models.ErrKindQuota, msg)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return models.NewError(models.ErrKindTimeout, msg)
	case status >= 400 && status < 500:
		if isContentPolicy(body) {
			return models.NewError(models.ErrKindContentPolicy, msg)
		}
		return models.NewError(models.ErrKindProvider, msg)
	default:
		return models.NewError(models.ErrKindProvider, msg)
	}
}

// NormalizeTransportError maps network-level failures onto the taxonomy.
func NormalizeTransportError(err error) *models.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return models.WrapError(models.ErrKindCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.WrapError(models.ErrKindTimeout, err)
	}
	return models.WrapError(models.ErrKindProvider, err)
}

func isContentPolicy(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range contentPolicyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// StripJSONFence removes a wrapping markdown code fence from a model
// reply. Models asked for JSON frequently wrap it in ```json ... ```
// anyway; the parser should see bare JSON.
func StripJSONFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line (```json).
		first := strings.TrimSpace(trimmed[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{[") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
