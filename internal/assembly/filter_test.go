package assembly

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aicg/aicg/internal/models"
)

func TestOverlapTrim(t *testing.T) {
	assert.Equal(t, 36, overlapFrames(24), "1.5x fps rounded")
	assert.Equal(t, 45, overlapFrames(30))
	assert.Equal(t, 36, overlapFrames(23.976))
	assert.InDelta(t, 1.5, overlapTrimSec(24), 1e-9)
	assert.Zero(t, overlapTrimSec(0))
}

func TestMajorityFPS(t *testing.T) {
	assert.Equal(t, 24.0, majorityFPS([]float64{24, 24, 30}, 25))
	assert.Equal(t, 30.0, majorityFPS([]float64{24, 30}, 25), "tie breaks toward the higher rate")
	assert.Equal(t, 25.0, majorityFPS(nil, 25), "empty vote falls back")
	assert.Equal(t, 25.0, majorityFPS([]float64{0, -1}, 25), "zero rates ignored")
	assert.Equal(t, 23.98, majorityFPS([]float64{23.976, 23.9764}, 30), "near rates quantize together")
}

func TestMovieFilter(t *testing.T) {
	graph := movieFilter(3, 1.5, 1920, 1080, 24, false, 0)

	assert.Contains(t, graph, "concat=n=3:v=1:a=1[vout][acat]")
	assert.Contains(t, graph, "[1:v]trim=start=1.5")
	assert.Contains(t, graph, "[2:a]atrim=start=1.5")
	assert.NotContains(t, graph, "[0:v]trim", "first clip keeps its head")
	assert.Contains(t, graph, "scale=1920:1080")
	assert.Contains(t, graph, "fps=24")
	assert.Contains(t, graph, "[acat]anull[aout]")
	assert.NotContains(t, graph, "sidechaincompress")
}

func TestMovieFilterWithBGM(t *testing.T) {
	graph := movieFilter(2, 1.5, 1280, 720, 30, true, 0.2)

	assert.Contains(t, graph, "[2:a]volume=0.2[bg]", "bgm input follows the clips")
	assert.Contains(t, graph, "sidechaincompress")
	assert.Contains(t, graph, "amix=inputs=2:duration=first")
	assert.Contains(t, graph, "[aout]")
}

func TestBGMEnabled(t *testing.T) {
	vol := func(v float64) *float64 { return &v }

	assert.False(t, bgmEnabled(&models.VideoTask{}), "no reference, no mix")
	assert.True(t, bgmEnabled(&models.VideoTask{BGMRef: "blob://b/m.mp3"}), "unset volume uses the default gain")
	assert.True(t, bgmEnabled(&models.VideoTask{BGMRef: "blob://b/m.mp3", BGMVolume: vol(0.2)}))
	assert.False(t, bgmEnabled(&models.VideoTask{BGMRef: "blob://b/m.mp3", BGMVolume: vol(0)}),
		"zero gain skips the mix entirely; amix would re-normalize the dialogue track")
}

func TestKenBurnsFilter(t *testing.T) {
	graph := kenBurnsFilter(2.5, 1920, 1080, 24, "/tmp/sub.txt")

	assert.Contains(t, graph, "zoompan=")
	assert.Contains(t, graph, ":d=60:", "2.5s at 24fps is 60 frames")
	assert.Contains(t, graph, "s=1920x1080")
	assert.Contains(t, graph, "drawtext=textfile=/tmp/sub.txt")

	short := kenBurnsFilter(0, 1920, 1080, 24, "/tmp/sub.txt")
	assert.Contains(t, short, ":d=1:", "degenerate duration still yields a frame")
}

func TestNarrativeFinalFilter(t *testing.T) {
	plain := narrativeFinalFilter(1920, 1080, 24, false, 0)
	assert.Contains(t, plain, "[vout]")
	assert.Contains(t, plain, "[0:a]anull[aout]")

	mixed := narrativeFinalFilter(1920, 1080, 24, true, 0.15)
	assert.Contains(t, mixed, "[1:a]volume=0.15[bg]")
	assert.Contains(t, mixed, "sidechaincompress")
}

func TestParseResolution(t *testing.T) {
	w, h := parseResolution("1920x1080")
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	w, h = parseResolution("garbage")
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	w, h = parseResolution("1281x721")
	assert.Equal(t, 1280, w, "odd dimensions rounded down to even")
	assert.Equal(t, 720, h)
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "1.5", formatFloat(1.5))
	assert.Equal(t, "24", formatFloat(24))
	assert.Equal(t, "23.976", formatFloat(23.976))
}

func TestRefExt(t *testing.T) {
	assert.Equal(t, ".mp3", refExt("https://cdn.example/track.mp3"))
	assert.Equal(t, ".wav", refExt("blob://bucket/music/a.wav"))
	assert.Equal(t, ".mp3", refExt("https://cdn.example/stream?id=9"))
	assert.Equal(t, ".mp3", refExt("https://cdn.example/noext"))
}

func TestMovieGaps(t *testing.T) {
	assert.Equal(t, []string{"transition videos (none planned)"}, movieGaps(nil))

	transitions := []*models.Transition{
		{OrderIndex: 1, Status: models.ArtifactStatusCompleted, VideoURL: "blob://b/k1.mp4"},
		{OrderIndex: 2, Status: models.ArtifactStatusProcessing},
		{OrderIndex: 3, Status: models.ArtifactStatusCompleted},
	}
	gaps := movieGaps(transitions)
	require.Len(t, gaps, 2)
	assert.Equal(t, "transition 2 video", gaps[0])
	assert.Equal(t, "transition 3 video", gaps[1], "completed without a URL is still a gap")
}

func TestNarrativeGaps(t *testing.T) {
	assert.Equal(t, []string{"sentences (chapter not parsed)"}, narrativeGaps(nil))

	sentences := []*models.Sentence{
		{OrderIndex: 1, ImageURL: "blob://b/i1.png", AudioURL: "blob://b/a1.mp3", DurationMs: 1200},
		{OrderIndex: 2, AudioURL: "blob://b/a2.mp3", DurationMs: 900},
		{OrderIndex: 3, ImageURL: "blob://b/i3.png", AudioURL: "blob://b/a3.mp3"},
	}
	gaps := narrativeGaps(sentences)
	require.Len(t, gaps, 2)
	assert.Equal(t, "sentence 2 image", gaps[0])
	assert.Equal(t, "sentence 3 audio duration", gaps[1])
}

func TestDuckRatioMatchesTargetReduction(t *testing.T) {
	// 6 dB of reduction corresponds to a ratio near 2:1.
	assert.InDelta(t, 2.0, duckRatio(), 0.01)
}

func TestMovieFilterInputOrdering(t *testing.T) {
	// Every clip index appears as an input pair before the concat.
	graph := movieFilter(4, 1.25, 1920, 1080, 24, false, 0)
	for i := 0; i < 4; i++ {
		assert.Contains(t, graph, fmt.Sprintf("[v%d][a%d]", i, i))
	}
}
