package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTask_TableName(t *testing.T) {
	assert.Equal(t, "tasks", Task{}.TableName())
}

func TestTask_IsTerminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusRunning, false},
		{TaskStatusSuccess, true},
		{TaskStatusFailed, true},
		{TaskStatusCancelled, true},
		{TaskStatusSkipped, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			task := &Task{Status: tt.status}
			assert.Equal(t, tt.want, task.IsTerminal())
		})
	}
}

func TestTask_MarkRunningAndTerminal(t *testing.T) {
	task := &Task{}
	task.MarkRunning("worker-1")
	assert.Equal(t, TaskStatusRunning, task.Status)
	assert.Equal(t, "worker-1", task.LockedBy)
	assert.NotNil(t, task.StartedAt)

	task.MarkTerminal(TaskStatusFailed, string(ErrKindProvider), "boom")
	assert.Equal(t, TaskStatusFailed, task.Status)
	assert.Empty(t, task.LockedBy)
	assert.NotNil(t, task.CompletedAt)
	assert.Equal(t, "boom", task.ErrorMessage)
}

func TestTaskWeight(t *testing.T) {
	assert.Equal(t, 1, TaskWeight(TaskKindText))
	assert.Equal(t, 1, TaskWeight(TaskKindTTS))
	assert.Equal(t, 2, TaskWeight(TaskKindImage))
	assert.Equal(t, 8, TaskWeight(TaskKindVideoSubmit))
	assert.Equal(t, 8, TaskWeight(TaskKindVideoPoll))
	assert.Equal(t, 10, TaskWeight(TaskKindAssembly))
}

func TestVideoTask_Validate(t *testing.T) {
	vol := func(v float64) *float64 { return &v }

	vt := &VideoTask{ChapterID: NewULID(), BGMVolume: vol(0.15)}
	assert.NoError(t, vt.Validate())

	vt.BGMVolume = vol(0.6)
	assert.ErrorIs(t, vt.Validate(), ErrInvalidBGMVolume)

	vt.BGMVolume = vol(-0.1)
	assert.ErrorIs(t, vt.Validate(), ErrInvalidBGMVolume)

	vt = &VideoTask{ChapterID: NewULID()}
	assert.NoError(t, vt.Validate(), "unset volume is valid")

	vt = &VideoTask{BGMVolume: vol(0)}
	assert.ErrorIs(t, vt.Validate(), ErrChapterIDRequired)
}

func TestVideoTask_EffectiveBGMVolume(t *testing.T) {
	vol := func(v float64) *float64 { return &v }

	assert.Equal(t, DefaultBGMVolume, (&VideoTask{}).EffectiveBGMVolume(), "unset falls back to the default")
	assert.Equal(t, 0.3, (&VideoTask{BGMVolume: vol(0.3)}).EffectiveBGMVolume())
	assert.Zero(t, (&VideoTask{BGMVolume: vol(0)}).EffectiveBGMVolume(), "explicit zero is preserved, not defaulted")
}
