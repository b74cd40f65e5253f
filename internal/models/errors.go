package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure for retry and surfacing decisions.
// Provider-level errors are normalized into this taxonomy at the adapter
// boundary; the task runtime consumes the kind to decide retry behaviour.
type ErrorKind string

const (
	// ErrKindValidation indicates bad input. Never retried.
	ErrKindValidation ErrorKind = "validation"
	// ErrKindNotFound indicates a referenced artifact is absent.
	ErrKindNotFound ErrorKind = "not_found"
	// ErrKindConflict indicates a unique-constraint violation.
	ErrKindConflict ErrorKind = "conflict"
	// ErrKindProvider indicates a generic external-API failure. Retried.
	ErrKindProvider ErrorKind = "provider"
	// ErrKindQuota indicates rate-limit or quota exhaustion. Retried slowly.
	ErrKindQuota ErrorKind = "quota"
	// ErrKindContentPolicy indicates the provider refused the content.
	// Never retried; the owning task fails permanently.
	ErrKindContentPolicy ErrorKind = "content_policy"
	// ErrKindTimeout indicates a deadline was exceeded. Retried.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindIncompleteMaterials indicates assembly found missing upstream
	// artifacts. Carries the enumerated gap list.
	ErrKindIncompleteMaterials ErrorKind = "incomplete_materials"
	// ErrKindMalformedResponse indicates unparseable provider output.
	// Retried once, then failed.
	ErrKindMalformedResponse ErrorKind = "malformed_response"
	// ErrKindCancelled propagates cooperative cancellation. Never retried.
	ErrKindCancelled ErrorKind = "cancelled"
)

// maxErrorMessageLen caps operator-visible error messages at 4 KiB.
const maxErrorMessageLen = 4096

// Error is a classified pipeline error.
type Error struct {
	Kind    ErrorKind
	Message string
	// Gaps enumerates missing artifacts for incomplete_materials errors.
	Gaps []string
	// Wrapped is the underlying cause, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Gaps) > 0 {
		return fmt.Sprintf("%s: %s (missing: %s)", e.Kind, e.Message, strings.Join(e.Gaps, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Retryable reports whether the task runtime may retry this error.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrKindProvider, ErrKindQuota, ErrKindTimeout, ErrKindMalformedResponse:
		return true
	}
	return false
}

// NewError creates a classified error.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: Truncate(msg, maxErrorMessageLen)}
}

// WrapError classifies an existing error.
func WrapError(kind ErrorKind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: Truncate(err.Error(), maxErrorMessageLen), Wrapped: err}
}

// NewIncompleteMaterialsError creates an incomplete_materials error with the
// enumerated list of gaps.
func NewIncompleteMaterialsError(gaps []string) *Error {
	return &Error{
		Kind:    ErrKindIncompleteMaterials,
		Message: fmt.Sprintf("%d required materials missing", len(gaps)),
		Gaps:    gaps,
	}
}

// KindOf extracts the error kind, defaulting unclassified errors to provider.
// Context cancellation maps to cancelled, context deadline to timeout.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindProvider
}

// Truncate limits s to max bytes, appending an ellipsis marker when cut.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// Common sentinel errors for model validation.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrChapterIDRequired indicates a required chapter ID field is zero.
	ErrChapterIDRequired = errors.New("chapter_id is required")

	// ErrProjectIDRequired indicates a required project ID field is zero.
	ErrProjectIDRequired = errors.New("project_id is required")

	// ErrInvalidProjectType indicates an invalid project type.
	ErrInvalidProjectType = errors.New("invalid project type: must be 'narrative' or 'movie'")

	// ErrInvalidBGMVolume indicates a BGM volume outside [0, 0.5].
	ErrInvalidBGMVolume = errors.New("bgm_volume must be between 0 and 0.5")

	// ErrPromptRequired indicates a required prompt field is empty.
	ErrPromptRequired = errors.New("prompt is required")

	// ErrProviderRequired indicates a credential without a provider name.
	ErrProviderRequired = errors.New("provider is required")

	// ErrSecretRequired indicates a credential without key material.
	ErrSecretRequired = errors.New("secret is required")
)
