package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/aicg/aicg/internal/observability"
)

// stderrTailLimit caps captured diagnostics; FFmpeg can emit megabytes of
// progress lines but only the tail explains a failure.
const stderrTailLimit = 4096

// Runner executes ffmpeg commands with context cancellation and bounded
// stderr capture.
type Runner struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewRunner creates a runner for the given ffmpeg binary.
func NewRunner(ffmpegPath string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		ffmpegPath: ffmpegPath,
		logger:     observability.WithComponent(logger, "ffmpeg"),
	}
}

// Run executes ffmpeg with the given arguments. Cancelling the context
// kills the process. On failure the error carries the stderr tail.
func (r *Runner) Run(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-y"}, args...)
	cmd := exec.CommandContext(ctx, r.ffmpegPath, full...)

	tail := &tailBuffer{limit: stderrTailLimit}
	cmd.Stderr = tail
	cmd.Stdout = io.Discard

	start := time.Now()
	r.logger.Debug("running ffmpeg", "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled after %v: %w", elapsed.Round(time.Millisecond), ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed after %v: %w\n%s", elapsed.Round(time.Millisecond), err, tail.String())
	}

	r.logger.Debug("ffmpeg finished", "elapsed", elapsed.Round(time.Millisecond))
	return nil
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
