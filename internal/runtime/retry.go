package runtime

import (
	"time"

	"github.com/aicg/aicg/internal/models"
)

// Backoff bounds. Quota errors back off on a slower curve because the
// limit window is provider-side, not transient.
const (
	baseBackoff     = 2 * time.Second
	maxBackoff      = 60 * time.Second
	maxQuotaBackoff = 300 * time.Second
)

// MaxRetries returns the retry budget for a task kind. A negative value
// means unlimited: poll tasks retry until the provider settles.
func MaxRetries(kind models.TaskKind) int {
	switch kind {
	case models.TaskKindText:
		return 3
	case models.TaskKindImage:
		return 2
	case models.TaskKindTTS:
		return 3
	case models.TaskKindVideoSubmit:
		return 2
	case models.TaskKindVideoPoll:
		return -1
	case models.TaskKindAssembly:
		return 0
	default:
		return 0
	}
}

// Decide reports whether a failed attempt should be retried and after how
// long. attempt is the number of retries already consumed.
func Decide(kind models.TaskKind, err error, attempt int) (time.Duration, bool) {
	errKind := models.KindOf(err)
	switch errKind {
	case models.ErrKindValidation, models.ErrKindNotFound, models.ErrKindConflict,
		models.ErrKindContentPolicy, models.ErrKindCancelled, models.ErrKindIncompleteMaterials:
		return 0, false
	case models.ErrKindMalformedResponse:
		// One re-ask; a model emitting garbage twice won't stop on the third.
		if attempt >= 1 {
			return 0, false
		}
	}

	if max := MaxRetries(kind); max >= 0 && attempt >= max {
		return 0, false
	}

	delay := baseBackoff << attempt
	ceiling := maxBackoff
	if errKind == models.ErrKindQuota {
		ceiling = maxQuotaBackoff
	}
	if delay > ceiling || delay <= 0 {
		delay = ceiling
	}
	return delay, true
}
