// Package captions builds burned-in ASS subtitles: a readable base layer and
// a karaoke highlight layer timed from word-level transcription.
package captions

import (
	"encoding/json"
	"strconv"

	"thirdcoast.systems/clipforge/internal/config"
)

// Style is the resolved ASS style for one job. Colors use the ASS
// &HAABBGGRR form (BGR, not RGB).
type Style struct {
	Font         string
	FontSize     int
	PrimaryColor string
	OutlineColor string
	Outline      int
	Shadow       int
	MarginH      int
	MarginV      int
	Alignment    int
	Bold         int
	Italic       int
}

// DefaultStyle builds the style from worker configuration.
func DefaultStyle(conf config.Config) Style {
	return Style{
		Font:         conf.CaptionFont,
		FontSize:     conf.CaptionFontSize,
		PrimaryColor: conf.CaptionColor,
		OutlineColor: conf.CaptionOutlineColor,
		Outline:      conf.CaptionOutlineWidth,
		Shadow:       conf.CaptionShadow,
		MarginH:      conf.CaptionMarginH,
		MarginV:      conf.CaptionMarginV,
		Alignment:    conf.CaptionAlignment,
		Bold:         1,
		Italic:       0,
	}
}

// ResolveStyle overlays per-job overrides from the jobs table onto the
// defaults. Only the enumerated keys are recognized; unknown keys and
// malformed JSON are ignored.
func ResolveStyle(base Style, overrideJSON string) Style {
	if overrideJSON == "" {
		return base
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(overrideJSON), &raw); err != nil {
		return base
	}

	out := base
	if v, ok := stringField(raw, "font"); ok {
		out.Font = v
	}
	if v, ok := intField(raw, "font_size"); ok {
		out.FontSize = v
	}
	if v, ok := stringField(raw, "primary_color"); ok {
		out.PrimaryColor = v
	}
	if v, ok := stringField(raw, "outline_color"); ok {
		out.OutlineColor = v
	}
	if v, ok := intField(raw, "outline"); ok {
		out.Outline = v
	}
	if v, ok := intField(raw, "shadow"); ok {
		out.Shadow = v
	}
	if v, ok := intField(raw, "margin_h"); ok {
		out.MarginH = v
	}
	if v, ok := intField(raw, "margin_v"); ok {
		out.MarginV = v
	}
	if v, ok := intField(raw, "alignment"); ok {
		out.Alignment = v
	}
	if v, ok := intField(raw, "bold"); ok {
		out.Bold = v
	}
	if v, ok := intField(raw, "italic"); ok {
		out.Italic = v
	}
	return out
}

func stringField(raw map[string]json.RawMessage, key string) (string, bool) {
	msg, ok := raw[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		return "", false
	}
	return s, true
}

// intField accepts JSON numbers and numeric strings, matching the loose
// values clients have historically stored.
func intField(raw map[string]json.RawMessage, key string) (int, bool) {
	msg, ok := raw[key]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(msg, &f); err == nil {
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return int(v), true
		}
	}
	return 0, false
}
