package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Retryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{ErrKindProvider, true},
		{ErrKindQuota, true},
		{ErrKindTimeout, true},
		{ErrKindMalformedResponse, true},
		{ErrKindContentPolicy, false},
		{ErrKindValidation, false},
		{ErrKindCancelled, false},
		{ErrKindIncompleteMaterials, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, NewError(tt.kind, "x").Retryable())
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrKindQuota, KindOf(NewError(ErrKindQuota, "429")))
	assert.Equal(t, ErrKindCancelled, KindOf(context.Canceled))
	assert.Equal(t, ErrKindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, ErrKindProvider, KindOf(errors.New("connection reset")))

	wrapped := fmt.Errorf("calling provider: %w", NewError(ErrKindContentPolicy, "refused"))
	assert.Equal(t, ErrKindContentPolicy, KindOf(wrapped))
}

func TestNewIncompleteMaterialsError(t *testing.T) {
	err := NewIncompleteMaterialsError([]string{"shot_2.keyframe", "shot_3.keyframe"})
	require.Equal(t, ErrKindIncompleteMaterials, err.Kind)
	assert.Len(t, err.Gaps, 2)
	assert.Contains(t, err.Error(), "shot_2.keyframe")
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("e", 5000)
	got := Truncate(long, maxErrorMessageLen)
	assert.Len(t, got, maxErrorMessageLen)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "short", Truncate("short", maxErrorMessageLen))
}
