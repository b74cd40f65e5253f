package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult contains the ffprobe output fields the assembly engine uses.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"` // video, audio
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	PixFmt       string `json:"pix_fmt,omitempty"`
	RFrameRate   string `json:"r_frame_rate,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	Duration     string `json:"duration,omitempty"`
	NumFrames    string `json:"nb_frames,omitempty"`
	SampleRate   string `json:"sample_rate,omitempty"`
	Channels     int    `json:"channels,omitempty"`
}

// MediaInfo is the simplified view assembly works with.
type MediaInfo struct {
	DurationMs int64   `json:"duration_ms"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	FrameCount int64   `json:"frame_count,omitempty"`
	HasAudio   bool    `json:"has_audio"`
	HasVideo   bool    `json:"has_video"`
}

// Prober handles ffprobe operations on local files.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a prober for the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath, timeout: 30 * time.Second}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe runs ffprobe on a file and returns the raw result.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// ProbeMedia probes a file and returns the simplified view.
func (p *Prober) ProbeMedia(ctx context.Context, path string) (*MediaInfo, error) {
	result, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return Simplify(result), nil
}

// AudioDurationMs measures an audio file's length in milliseconds.
func (p *Prober) AudioDurationMs(ctx context.Context, path string) (int64, error) {
	info, err := p.ProbeMedia(ctx, path)
	if err != nil {
		return 0, err
	}
	if !info.HasAudio {
		return 0, fmt.Errorf("%s has no audio stream", path)
	}
	return info.DurationMs, nil
}

// Simplify reduces a raw probe result to the fields assembly needs.
func Simplify(result *ProbeResult) *MediaInfo {
	info := &MediaInfo{}

	if result.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
			info.DurationMs = int64(dur * 1000)
		}
	}

	for _, stream := range result.Streams {
		switch stream.CodecType {
		case "video":
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.Width = stream.Width
			info.Height = stream.Height
			info.FPS = ParseFrameRate(stream.RFrameRate)
			if info.FPS == 0 {
				info.FPS = ParseFrameRate(stream.AvgFrameRate)
			}
			if stream.NumFrames != "" {
				if n, err := strconv.ParseInt(stream.NumFrames, 10, 64); err == nil {
					info.FrameCount = n
				}
			}
		case "audio":
			info.HasAudio = true
		}
	}
	return info
}

// ParseFrameRate converts an ffprobe rational like "24/1" or "30000/1001"
// to frames per second. Malformed or zero-denominator input yields 0.
func ParseFrameRate(rate string) float64 {
	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		if f, err := strconv.ParseFloat(rate, 64); err == nil {
			return f
		}
		return 0
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
