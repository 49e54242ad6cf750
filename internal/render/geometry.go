// Package render encodes planned clips: animated crop, scale to the target
// aspect, burned-in captions, and the optional watermark.
package render

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"thirdcoast.systems/clipforge/internal/reframe"
)

// AspectTarget returns the output resolution for an aspect label. Unknown
// labels default to vertical 9:16.
func AspectTarget(aspect string) (int, int) {
	switch strings.TrimSpace(aspect) {
	case "1:1":
		return 1080, 1080
	case "4:5":
		return 1080, 1350
	case "16:9":
		return 1920, 1080
	case "4:3":
		return 1440, 1080
	default:
		return 1080, 1920
	}
}

// CropSize computes integer crop dimensions inside the source matching the
// target aspect. No letterbox: crop then scale. Dimensions are forced even
// for encoder stability.
func CropSize(srcW, srcH, targetW, targetH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		w := maxInt(2, targetW)
		h := maxInt(2, targetH)
		return w - w%2, h - h%2
	}

	targetAspect := float64(targetW) / float64(targetH)
	srcAspect := float64(srcW) / float64(srcH)

	var cropW, cropH int
	if srcAspect > targetAspect {
		// Source wider: crop width
		cropH = srcH
		cropW = int(math.Round(float64(cropH) * targetAspect))
	} else {
		// Source taller: crop height
		cropW = srcW
		cropH = int(math.Round(float64(cropW) / targetAspect))
	}

	cropW = maxInt(2, minInt(srcW, cropW))
	cropH = maxInt(2, minInt(srcH, cropH))

	cropW -= cropW % 2
	cropH -= cropH % 2
	return cropW, cropH
}

// ClipCenters estimates pan endpoints from the camera samples inside the
// clip window: medians over small early and late windows. Too few samples
// returns the fallback for both ends (a static crop).
func ClipCenters(
	camera *reframe.Path,
	clipStart, clipEnd float64,
	fallbackX, fallbackY float64,
) (x0, y0, x1, y1 float64) {
	if camera == nil {
		return fallbackX, fallbackY, fallbackX, fallbackY
	}

	inRange := camera.SamplesInRange(clipStart, clipEnd)
	if len(inRange) < 2 {
		return fallbackX, fallbackY, fallbackX, fallbackY
	}

	n := len(inRange)
	w := maxInt(1, minInt(6, n/6))

	early := inRange[:w]
	late := inRange[n-w:]

	x0 = median(early, func(s reframe.Sample) float64 { return s.CX })
	y0 = median(early, func(s reframe.Sample) float64 { return s.CY })
	x1 = median(late, func(s reframe.Sample) float64 { return s.CX })
	y1 = median(late, func(s reframe.Sample) float64 { return s.CY })
	return x0, y0, x1, y1
}

// PanExpressions builds crop x/y expressions that pan linearly between two
// centers over the clip. Endpoints are clamped to integers in Go so the
// expressions stay stable. Near-zero durations get a static position.
func PanExpressions(
	srcW, srcH, cropW, cropH int,
	clipDuration float64,
	cx0, cy0, cx1, cy1 float64,
) (string, string) {
	x0 := clampInt(cx0-float64(cropW)/2, 0, maxInt(0, srcW-cropW))
	y0 := clampInt(cy0-float64(cropH)/2, 0, maxInt(0, srcH-cropH))
	x1 := clampInt(cx1-float64(cropW)/2, 0, maxInt(0, srcW-cropW))
	y1 := clampInt(cy1-float64(cropH)/2, 0, maxInt(0, srcH-cropH))

	if clipDuration <= 0.05 {
		return fmt.Sprintf("%d", x0), fmt.Sprintf("%d", y0)
	}

	xExpr := fmt.Sprintf("%d+(%d-%d)*min(max(t/%.6f,0),1)", x0, x1, x0, clipDuration)
	yExpr := fmt.Sprintf("%d+(%d-%d)*min(max(t/%.6f,0),1)", y0, y1, y0, clipDuration)
	return xExpr, yExpr
}

func median(samples []reframe.Sample, pick func(reframe.Sample) float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	vals := make([]float64, len(samples))
	for i, s := range samples {
		vals[i] = pick(s)
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

func clampInt(v float64, lo, hi int) int {
	r := int(math.Round(v))
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
