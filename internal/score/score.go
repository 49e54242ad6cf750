// Package score ranks clip plans and picks the best non-overlapping set.
package score

import (
	"math"
	"sort"

	"thirdcoast.systems/clipforge/internal/audio"
	"thirdcoast.systems/clipforge/internal/reframe"
	"thirdcoast.systems/clipforge/internal/segment"
	"thirdcoast.systems/clipforge/internal/transcribe"
)

// ScoredClip is a clip plan with its quality score.
type ScoredClip struct {
	Plan    segment.Plan
	Quality float64
}

// Quality computes a heuristic score in [0,1] for one clip plan. It weighs
// duration closeness to target, speech density, loudness variation, and
// camera smoothness, then penalizes clips that sit mostly inside silence.
func Quality(
	plan segment.Plan,
	targetSeconds float64,
	words []transcribe.Word,
	silences []audio.Interval,
	audioEnergy float64,
	motion reframe.MotionMetrics,
) float64 {
	dur := math.Max(0.01, plan.End-plan.Start)

	// Duration: prefer near target, penalize very short and very long
	durErr := math.Abs(dur - targetSeconds)
	durScore := 1.0 / (1.0 + durErr/12.0)

	// Speech density: words per second, ~3 wps feels dense enough
	clipWords := transcribe.WordsInRange(words, plan.Start, plan.End)
	wps := math.Min(6.0, float64(len(clipWords))/dur)
	speechScore := math.Min(1.0, wps/3.0)

	energyScore := clamp01(audioEnergy)
	motionScore := clamp01(motion.MotionScore)

	silenceRatio := clamp01(audio.SilenceOverlap(silences, plan.Start, plan.End) / dur)
	silencePenalty := 1.0 - silenceRatio*0.75

	score := (0.30*durScore +
		0.35*speechScore +
		0.20*energyScore +
		0.15*motionScore) * silencePenalty

	return clamp01(score)
}

// SelectTopK sorts by score (duration breaks ties, longer first), keeps at
// most k, and drops anything overlapping an already picked clip. If overlap
// rules eliminate everything, the single best clip survives.
func SelectTopK(clips []ScoredClip, k int) []ScoredClip {
	if len(clips) == 0 {
		return nil
	}

	ordered := append([]ScoredClip(nil), clips...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Quality != ordered[j].Quality {
			return ordered[i].Quality > ordered[j].Quality
		}
		return ordered[i].Plan.Duration > ordered[j].Plan.Duration
	})

	var picked []ScoredClip
	for _, c := range ordered {
		if len(picked) >= k {
			break
		}
		conflict := false
		for _, p := range picked {
			if segment.Overlaps(c.Plan.Start, c.Plan.End, p.Plan.Start, p.Plan.End) {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		picked = append(picked, c)
	}

	if len(picked) == 0 {
		picked = []ScoredClip{ordered[0]}
	}
	return picked
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
