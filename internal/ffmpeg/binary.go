// Package ffmpeg provides FFmpeg/FFprobe binary detection and execution
// for video assembly.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aicg/aicg/internal/config"
)

// BinaryInfo describes the resolved FFmpeg installation.
type BinaryInfo struct {
	FFmpegPath   string `json:"ffmpeg_path"`
	FFprobePath  string `json:"ffprobe_path"`
	Version      string `json:"version"`
	MajorVersion int    `json:"major_version"`
	MinorVersion int    `json:"minor_version"`
}

// BinaryDetector resolves and caches the FFmpeg binaries.
type BinaryDetector struct {
	cfg config.FFmpegConfig

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector honoring configured binary paths.
func NewBinaryDetector(cfg config.FFmpegConfig) *BinaryDetector {
	return &BinaryDetector{cfg: cfg, cacheTTL: 5 * time.Minute}
}

// Detect resolves ffmpeg and ffprobe and caches the result.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}
	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear drops the cached binary information.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	ffmpegPath, err := findBinary("ffmpeg", d.cfg.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	info := &BinaryInfo{FFmpegPath: ffmpegPath}

	// ffprobe is required for duration and fps measurements; default to a
	// sibling of the ffmpeg binary before searching PATH.
	probeHint := d.cfg.ProbePath
	if probeHint == "" {
		sibling := filepath.Join(filepath.Dir(ffmpegPath), "ffprobe")
		if _, err := os.Stat(sibling); err == nil {
			probeHint = sibling
		}
	}
	ffprobePath, err := findBinary("ffprobe", probeHint)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}
	info.FFprobePath = ffprobePath

	version, major, minor, err := getVersion(ctx, ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info.Version = version
	info.MajorVersion = major
	info.MinorVersion = minor

	return info, nil
}

// findBinary resolves a binary: explicit path -> working directory -> PATH.
func findBinary(name, explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("configured %s path %q: %w", name, explicit, err)
		}
		return explicit, nil
	}
	if _, err := os.Stat("./" + name); err == nil {
		abs, err := filepath.Abs("./" + name)
		if err == nil {
			return abs, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not in PATH: %w", name, err)
	}
	return path, nil
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// getVersion extracts version information from ffmpeg -version output.
func getVersion(ctx context.Context, ffmpegPath string) (full string, major, minor int, err error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return "", 0, 0, err
	}

	for _, line := range strings.Split(string(output), "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			break
		}
		full = parts[2]
		if matches := versionRegex.FindStringSubmatch(full); len(matches) >= 3 {
			major, _ = strconv.Atoi(matches[1])
			minor, _ = strconv.Atoi(matches[2])
		}
		return full, major, minor, nil
	}
	return "", 0, 0, fmt.Errorf("failed to parse ffmpeg version")
}

// SupportsMinVersion reports whether the installation meets a minimum version.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion > major {
		return true
	}
	return info.MajorVersion == major && info.MinorVersion >= minor
}
