package render

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"thirdcoast.systems/clipforge/internal/config"
)

// Watermark describes the drawtext overlay: a branded label that drifts
// inside a safe area with a slow alpha pulse.
type Watermark struct {
	Text     string
	Font     string
	FontFile string // absolute path preferred over Font when set
	FontSize int
	Alpha    float64
	Outline  int
	Shadow   int
	SafePad  int
	Speed    float64
	PulseHz  float64
	DriftPx  int
	Box      bool
	BoxPad   int
}

// WatermarkFromConfig builds the overlay settings from configuration.
func WatermarkFromConfig(conf config.Config) Watermark {
	return Watermark{
		Text:     conf.WatermarkText,
		Font:     conf.WatermarkFont,
		FontFile: conf.WatermarkFontFile,
		FontSize: conf.WatermarkFontSize,
		Alpha:    conf.WatermarkAlpha,
		Outline:  conf.WatermarkOutline,
		Shadow:   conf.WatermarkShadow,
		SafePad:  conf.WatermarkSafePad,
		Speed:    conf.WatermarkSpeed,
		PulseHz:  conf.WatermarkPulseHz,
		DriftPx:  conf.WatermarkDriftPx,
		Box:      conf.WatermarkBox,
		BoxPad:   conf.WatermarkBoxPad,
	}
}

// escapeDrawtext neutralizes drawtext's separators and quoting.
func escapeDrawtext(s string) string {
	t := strings.ReplaceAll(s, `\`, `\\`)
	t = strings.ReplaceAll(t, ":", `\:`)
	t = strings.ReplaceAll(t, "'", `\'`)
	t = strings.ReplaceAll(t, "\n", " ")
	return t
}

func escapeFilterPath(p string) string {
	s := strings.ReplaceAll(p, `\`, "/")
	s = strings.ReplaceAll(s, ":", `\:`)
	s = strings.ReplaceAll(s, "'", `\'`)
	return s
}

// Filter renders the drawtext filter string for the given output size. Font
// size scales with output height (3%) so the mark keeps consistent presence
// across aspect ratios.
func (w Watermark) Filter(outW, outH int) string {
	baseAlpha := math.Max(0.05, math.Min(0.95, w.Alpha))
	pad := maxInt(0, w.SafePad)

	scaled := int(math.Round(float64(outH) * 0.030))
	fontsize := maxInt(w.FontSize, scaled)

	drift := maxInt(0, w.DriftPx)

	// Lissajous-style drift inside the safe area
	xExpr := fmt.Sprintf(
		"%d+(w-text_w-%d)*(0.5+0.5*sin(%.4f*t))+%d*sin(%.4f*t)",
		pad, 2*pad, w.Speed, drift, w.Speed*0.7,
	)
	yExpr := fmt.Sprintf(
		"%d+(h-text_h-%d)*(0.5+0.5*cos(%.4f*t))+%d*cos(%.4f*t)",
		pad, 2*pad, w.Speed, drift, w.Speed*0.6,
	)

	// Subtle alpha pulse around the base, hard-bounded to stay visible
	pulse := math.Max(0.02, math.Min(0.30, 0.14*baseAlpha))
	alphaExpr := fmt.Sprintf(
		"min(max(%.4f+%.4f*sin(2*PI*%.4f*t),0.08),0.92)",
		baseAlpha, pulse, w.PulseHz,
	)

	var fontPart string
	if w.FontFile != "" && filepath.IsAbs(w.FontFile) {
		fontPart = fmt.Sprintf(":fontfile='%s'", escapeFilterPath(w.FontFile))
	} else {
		fontPart = fmt.Sprintf(":font='%s'", escapeDrawtext(w.Font))
	}

	boxPart := ""
	if w.Box {
		boxPart = fmt.Sprintf(":box=1:boxcolor=black@0.18:boxborderw=%d", maxInt(0, w.BoxPad))
	}

	return "drawtext=" +
		fmt.Sprintf("text='%s'", escapeDrawtext(w.Text)) +
		fontPart +
		fmt.Sprintf(":fontsize=%d", fontsize) +
		":fontcolor=white" +
		fmt.Sprintf(":alpha='%s'", alphaExpr) +
		fmt.Sprintf(":x=%s", xExpr) +
		fmt.Sprintf(":y=%s", yExpr) +
		fmt.Sprintf(":borderw=%d", maxInt(0, w.Outline)) +
		fmt.Sprintf(":shadowx=%d:shadowy=%d", maxInt(0, w.Shadow), maxInt(0, w.Shadow)) +
		boxPart
}
