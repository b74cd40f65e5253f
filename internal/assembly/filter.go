package assembly

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// duckReductionDB is the gain reduction applied to background music
// while foreground audio is active.
const duckReductionDB = 6.0

// overlapFrames is how many leading frames are trimmed from every clip
// after the first. Adjacent transition videos share their boundary
// keyframe, so the seam would otherwise hold the same image for two
// beats.
func overlapFrames(fps float64) int {
	return int(math.Round(1.5 * fps))
}

// overlapTrimSec converts the frame trim to seconds for trim/atrim.
func overlapTrimSec(fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(overlapFrames(fps)) / fps
}

// majorityFPS picks the most common frame rate among the clips, breaking
// ties toward the higher rate. Zero rates are ignored; an empty vote
// falls back to fallback.
func majorityFPS(rates []float64, fallback float64) float64 {
	votes := make(map[float64]int)
	for _, rate := range rates {
		if rate <= 0 {
			continue
		}
		// Quantize so 23.976 and 23.98 probes agree.
		votes[math.Round(rate*100)/100]++
	}
	if len(votes) == 0 {
		return fallback
	}
	candidates := make([]float64, 0, len(votes))
	for rate := range votes {
		candidates = append(candidates, rate)
	}
	sort.Float64s(candidates)
	best := candidates[0]
	for _, rate := range candidates {
		if votes[rate] >= votes[best] {
			best = rate
		}
	}
	return best
}

// movieFilter builds the filter graph concatenating n transition clips,
// trimming trimSec off the head of every clip after the first (video and
// audio equally), normalizing to the target geometry and mixing optional
// background music. The BGM input index is n.
func movieFilter(n int, trimSec float64, width, height int, fps float64, bgm bool, bgmVolume float64) string {
	var b strings.Builder
	norm := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%s,setsar=1",
		width, height, width, height, formatFloat(fps))

	for i := 0; i < n; i++ {
		if i == 0 {
			fmt.Fprintf(&b, "[0:v]%s,setpts=PTS-STARTPTS[v0];", norm)
			fmt.Fprintf(&b, "[0:a]asetpts=PTS-STARTPTS[a0];")
			continue
		}
		fmt.Fprintf(&b, "[%d:v]trim=start=%s,%s,setpts=PTS-STARTPTS[v%d];",
			i, formatFloat(trimSec), norm, i)
		fmt.Fprintf(&b, "[%d:a]atrim=start=%s,asetpts=PTS-STARTPTS[a%d];",
			i, formatFloat(trimSec), i)
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[v%d][a%d]", i, i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=1[vout][acat];", n)

	if bgm {
		b.WriteString(bgmMix("acat", n, bgmVolume))
	} else {
		b.WriteString("[acat]anull[aout]")
	}
	return b.String()
}

// bgmMix ducks the looped music input under the foreground track and
// mixes them: the foreground is split so one copy keys the sidechain
// compressor and the other reaches the mix untouched.
func bgmMix(foreground string, bgmInput int, volume float64) string {
	return fmt.Sprintf(
		"[%s]asplit=2[fg][key];"+
			"[%d:a]volume=%s[bg];"+
			"[bg][key]sidechaincompress=threshold=0.05:ratio=%s:attack=20:release=400[duck];"+
			"[fg][duck]amix=inputs=2:duration=first:dropout_transition=2[aout]",
		foreground, bgmInput, formatFloat(volume), formatFloat(duckRatio()))
}

// duckRatio converts the target dB reduction into a compressor ratio.
func duckRatio() float64 {
	return math.Pow(10, duckReductionDB/20)
}

// kenBurnsFilter builds the per-sentence still-to-motion graph: a slow
// zoom over the image for the sentence's audio duration with the
// subtitle burned along the lower edge. textFile carries the subtitle so
// no escaping of user text leaks into the graph.
func kenBurnsFilter(durationSec float64, width, height int, fps float64, textFile string) string {
	frames := int(math.Ceil(durationSec * fps))
	if frames < 1 {
		frames = 1
	}
	return fmt.Sprintf(
		"[0:v]scale=%d:-2,zoompan=z='min(zoom+0.0006,1.15)'"+
			":x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=%d:s=%dx%d:fps=%s,"+
			"drawtext=textfile=%s:fontcolor=white:fontsize=%d:borderw=2:bordercolor=black"+
			":x=(w-text_w)/2:y=h-text_h-%d[v]",
		width*4, frames, width, height, formatFloat(fps),
		textFile, height/18, height/12)
}

// narrativeFinalFilter builds the enforce pass over the concatenated
// narrative clips: target geometry and frame rate, plus optional BGM.
func narrativeFinalFilter(width, height int, fps float64, bgm bool, bgmVolume float64) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		"[0:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%s,setsar=1[vout];",
		width, height, width, height, formatFloat(fps))
	if bgm {
		b.WriteString("[0:a]anull[acat];")
		b.WriteString(bgmMix("acat", 1, bgmVolume))
	} else {
		b.WriteString("[0:a]anull[aout]")
	}
	return b.String()
}

// formatFloat renders a float without trailing zeros, the way filter
// arguments read best.
func formatFloat(f float64) string {
	s := fmt.Sprintf("%.4f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// parseResolution splits "1920x1080"; malformed values fall back to
// 1080p.
func parseResolution(res string) (width, height int) {
	if _, err := fmt.Sscanf(res, "%dx%d", &width, &height); err != nil || width <= 0 || height <= 0 {
		return 1920, 1080
	}
	// Even dimensions keep yuv420p encoders happy.
	return width &^ 1, height &^ 1
}
