package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/clipforge/internal/audio"
	"thirdcoast.systems/clipforge/internal/reframe"
	"thirdcoast.systems/clipforge/internal/segment"
	"thirdcoast.systems/clipforge/internal/transcribe"
)

// denseWords fills [start, end] with ~3 words per second.
func denseWords(start, end float64) []transcribe.Word {
	var words []transcribe.Word
	for t := start; t < end; t += 1.0 / 3.0 {
		words = append(words, transcribe.Word{Text: "w", Start: t, End: t + 0.2})
	}
	return words
}

func TestQuality_IdealClip(t *testing.T) {
	plan := segment.Plan{Start: 0, End: 35, Duration: 35}
	q := Quality(plan, 35, denseWords(0, 35), nil, 1.0, reframe.MotionMetrics{MotionScore: 1.0})

	// All components near max: 0.30 + 0.35 + 0.20 + 0.15
	assert.InDelta(t, 1.0, q, 0.05)
}

func TestQuality_SilentClipPenalized(t *testing.T) {
	plan := segment.Plan{Start: 0, End: 35, Duration: 35}
	words := denseWords(0, 35)
	motion := reframe.NeutralMotion()

	full := Quality(plan, 35, words, nil, 0.8, motion)
	allSilent := Quality(plan, 35, words, []audio.Interval{{Start: 0, End: 35}}, 0.8, motion)

	// Fully silent clip keeps only 25% of its score
	assert.InDelta(t, full*0.25, allSilent, 1e-9)
}

func TestQuality_DurationFarFromTarget(t *testing.T) {
	near := Quality(segment.Plan{Start: 0, End: 35, Duration: 35}, 35, nil, nil, 0.5, reframe.NeutralMotion())
	far := Quality(segment.Plan{Start: 0, End: 95, Duration: 95}, 35, nil, nil, 0.5, reframe.NeutralMotion())
	assert.Greater(t, near, far)
}

func TestQuality_SpeechDensity(t *testing.T) {
	plan := segment.Plan{Start: 0, End: 30, Duration: 30}
	dense := Quality(plan, 35, denseWords(0, 30), nil, 0.5, reframe.NeutralMotion())
	sparse := Quality(plan, 35, denseWords(0, 3), nil, 0.5, reframe.NeutralMotion())
	assert.Greater(t, dense, sparse)
}

func TestQuality_Bounded(t *testing.T) {
	plan := segment.Plan{Start: 0, End: 35, Duration: 35}
	q := Quality(plan, 35, denseWords(0, 35), nil, 5.0, reframe.MotionMetrics{MotionScore: 9.0})
	assert.LessOrEqual(t, q, 1.0)
	assert.GreaterOrEqual(t, q, 0.0)
}

func TestSelectTopK(t *testing.T) {
	clips := []ScoredClip{
		{Plan: segment.Plan{Start: 0, End: 30, Duration: 30}, Quality: 0.5},
		{Plan: segment.Plan{Start: 40, End: 70, Duration: 30}, Quality: 0.9},
		{Plan: segment.Plan{Start: 80, End: 110, Duration: 30}, Quality: 0.7},
		{Plan: segment.Plan{Start: 120, End: 150, Duration: 30}, Quality: 0.3},
	}

	picked := SelectTopK(clips, 3)
	require.Len(t, picked, 3)
	assert.Equal(t, 0.9, picked[0].Quality)
	assert.Equal(t, 0.7, picked[1].Quality)
	assert.Equal(t, 0.5, picked[2].Quality)
}

func TestSelectTopK_DropsOverlaps(t *testing.T) {
	clips := []ScoredClip{
		{Plan: segment.Plan{Start: 0, End: 40, Duration: 40}, Quality: 0.9},
		{Plan: segment.Plan{Start: 30, End: 70, Duration: 40}, Quality: 0.8}, // overlaps best
		{Plan: segment.Plan{Start: 80, End: 110, Duration: 30}, Quality: 0.4},
	}

	picked := SelectTopK(clips, 3)
	require.Len(t, picked, 2)
	assert.Equal(t, 0.9, picked[0].Quality)
	assert.Equal(t, 0.4, picked[1].Quality)
}

func TestSelectTopK_KeepsBestWhenAllOverlap(t *testing.T) {
	clips := []ScoredClip{
		{Plan: segment.Plan{Start: 0, End: 40, Duration: 40}, Quality: 0.9},
		{Plan: segment.Plan{Start: 10, End: 50, Duration: 40}, Quality: 0.8},
	}

	picked := SelectTopK(clips, 1)
	require.Len(t, picked, 1)
	assert.Equal(t, 0.9, picked[0].Quality)
}

func TestSelectTopK_TieBreakPrefersLonger(t *testing.T) {
	clips := []ScoredClip{
		{Plan: segment.Plan{Start: 0, End: 25, Duration: 25}, Quality: 0.6},
		{Plan: segment.Plan{Start: 100, End: 140, Duration: 40}, Quality: 0.6},
	}

	picked := SelectTopK(clips, 2)
	require.Len(t, picked, 2)
	assert.Equal(t, 40.0, picked[0].Plan.Duration)
}

func TestSelectTopK_Empty(t *testing.T) {
	assert.Nil(t, SelectTopK(nil, 3))
}
