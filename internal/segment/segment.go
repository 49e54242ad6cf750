// Package segment plans clip windows over a transcript: words group into
// utterances, utterances merge into candidate clips, and boundaries snap to
// nearby silence.
package segment

import (
	"strings"

	"thirdcoast.systems/clipforge/internal/audio"
	"thirdcoast.systems/clipforge/internal/config"
	"thirdcoast.systems/clipforge/internal/transcribe"
)

// Utterance is a contiguous run of speech between natural boundaries.
type Utterance struct {
	Start float64
	End   float64
}

// Plan is a candidate clip window in source time.
type Plan struct {
	Start    float64
	End      float64
	Duration float64
}

// Params carries the segmentation tuning knobs.
type Params struct {
	UtterancePause float64 // pause that ends an utterance, seconds
	UtteranceMax   float64 // max utterance length before a forced break
	ClipMin        float64
	ClipTarget     float64
	ClipMax        float64
	MaxGapMerge    float64 // largest inter-utterance gap merged into one clip
	SilencePadding float64 // snap distance to silence edges
}

// ParamsFromConfig pulls the knobs out of worker configuration.
func ParamsFromConfig(conf config.Config) Params {
	return Params{
		UtterancePause: conf.UtterancePause,
		UtteranceMax:   conf.UtteranceMaxSeconds,
		ClipMin:        conf.ClipMinSeconds,
		ClipTarget:     conf.ClipTargetSeconds,
		ClipMax:        conf.ClipMaxSeconds,
		MaxGapMerge:    conf.MaxGapMerge,
		SilencePadding: conf.SilencePadding,
	}
}

func endsWithPunctuation(word string) bool {
	trimmed := strings.TrimSpace(word)
	if trimmed == "" {
		return false
	}
	return strings.HasSuffix(trimmed, ".") ||
		strings.HasSuffix(trimmed, "!") ||
		strings.HasSuffix(trimmed, "?") ||
		strings.HasSuffix(trimmed, "…")
}

// BuildUtterances groups sorted words into utterances. A boundary opens
// before a word when the pause since the previous word is long enough, when
// the running utterance has hit its max length, or when the incoming word
// ends a sentence.
func (p Params) BuildUtterances(words []transcribe.Word) []Utterance {
	if len(words) == 0 {
		return nil
	}

	var utterances []Utterance
	curStart := words[0].Start
	lastEnd := words[0].End

	for _, w := range words[1:] {
		pause := w.Start - lastEnd
		duration := lastEnd - curStart

		boundary := pause >= p.UtterancePause ||
			duration >= p.UtteranceMax ||
			endsWithPunctuation(w.Text)

		if boundary {
			utterances = append(utterances, Utterance{Start: curStart, End: lastEnd})
			curStart = w.Start
		}
		lastEnd = w.End
	}

	if lastEnd > curStart {
		utterances = append(utterances, Utterance{Start: curStart, End: lastEnd})
	}

	return utterances
}

// snapToSilence pulls clip boundaries onto nearby silence edges: the start
// onto a silence end, the end onto a silence start.
func (p Params) snapToSilence(start, end float64, silences []audio.Interval) (float64, float64) {
	for _, iv := range silences {
		if abs(start-iv.End) <= p.SilencePadding {
			start = iv.End
		}
		if abs(end-iv.Start) <= p.SilencePadding {
			end = iv.Start
		}
	}
	return start, end
}

// GeneratePlans turns utterances into clip windows. Guarantees: at least one
// plan, no overlaps, all within [0, videoDuration]. Short or silent videos
// fall back to a single clip from the start.
func (p Params) GeneratePlans(utterances []Utterance, silences []audio.Interval, videoDuration float64) []Plan {
	fallback := func() []Plan {
		end := min(videoDuration, p.ClipTarget)
		return []Plan{{Start: 0, End: end, Duration: end}}
	}

	if len(utterances) == 0 || videoDuration < p.ClipMin {
		return fallback()
	}

	var clips []Plan

	finalize := func(start, end float64) {
		s, e := p.snapToSilence(start, end, silences)
		// Word timestamps can overshoot the probed duration; clamp before
		// measuring so Duration always equals End-Start.
		s = clamp(s, 0, videoDuration)
		e = clamp(e, 0, videoDuration)
		dur := e - s
		if dur >= p.ClipMin {
			clips = append(clips, Plan{Start: s, End: e, Duration: dur})
		}
	}

	curStart := utterances[0].Start
	curEnd := utterances[0].End

	for _, utt := range utterances[1:] {
		gap := utt.Start - curEnd
		proposedDur := utt.End - curStart

		// Merge if gap small and target not exceeded
		if gap <= p.MaxGapMerge && proposedDur <= p.ClipTarget {
			curEnd = utt.End
			continue
		}

		finalize(curStart, curEnd)
		curStart = utt.Start
		curEnd = utt.End
	}
	finalize(curStart, curEnd)

	// Chop anything past the max into max-sized pieces
	var normalized []Plan
	for _, c := range clips {
		if c.Duration <= p.ClipMax {
			normalized = append(normalized, c)
			continue
		}
		s := c.Start
		for s < c.End {
			e := min(s+p.ClipMax, c.End)
			if e-s >= p.ClipMin {
				normalized = append(normalized, Plan{Start: s, End: e, Duration: e - s})
			}
			s = e
		}
	}

	if len(normalized) == 0 {
		return fallback()
	}

	// Drop anything overlapping an already kept plan
	var final []Plan
	for _, c := range normalized {
		if len(final) > 0 && Overlaps(final[len(final)-1].Start, final[len(final)-1].End, c.Start, c.End) {
			continue
		}
		final = append(final, c)
	}

	return final
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd float64) bool {
	return !(aEnd <= bStart || bEnd <= aStart)
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
