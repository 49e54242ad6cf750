package captions

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/clipforge/internal/reframe"
	"thirdcoast.systems/clipforge/internal/transcribe"
)

func defaultStyle() Style {
	return Style{
		Font:         "Montserrat",
		FontSize:     64,
		PrimaryColor: "&H00FFFFFF",
		OutlineColor: "&H00000000",
		Outline:      3,
		Shadow:       0,
		MarginH:      60,
		MarginV:      360,
		Alignment:    2,
		Bold:         1,
		Italic:       0,
	}
}

func defaultParams() Params {
	return Params{
		MaxWordsPerLine: 7,
		MaxCharsPerLine: 34,
		MaxLines:        2,
		MaxBlockSeconds: 2.8,
		BreakPause:      0.65,
	}
}

func TestResolveStyle_Overrides(t *testing.T) {
	base := defaultStyle()

	got := ResolveStyle(base, `{"font":"Inter","font_size":72,"alignment":8,"bold":0}`)
	assert.Equal(t, "Inter", got.Font)
	assert.Equal(t, 72, got.FontSize)
	assert.Equal(t, 8, got.Alignment)
	assert.Equal(t, 0, got.Bold)
	// Untouched keys keep defaults
	assert.Equal(t, base.PrimaryColor, got.PrimaryColor)
	assert.Equal(t, base.MarginV, got.MarginV)
}

func TestResolveStyle_UnknownKeysIgnored(t *testing.T) {
	base := defaultStyle()
	got := ResolveStyle(base, `{"glitter":true,"font_size":"48"}`)
	assert.Equal(t, 48, got.FontSize, "numeric strings are accepted")
	assert.Equal(t, base.Font, got.Font)
}

func TestResolveStyle_MalformedJSON(t *testing.T) {
	base := defaultStyle()
	assert.Equal(t, base, ResolveStyle(base, `{not json`))
	assert.Equal(t, base, ResolveStyle(base, ""))
}

func TestAssTime(t *testing.T) {
	assert.Equal(t, "0:00:00.00", assTime(0))
	assert.Equal(t, "0:00:05.50", assTime(5.5))
	assert.Equal(t, "0:01:02.34", assTime(62.34))
	assert.Equal(t, "1:01:01.00", assTime(3661))
	assert.Equal(t, "0:00:00.00", assTime(-3))
}

func TestAssEscape(t *testing.T) {
	assert.Equal(t, `\{hi\}`, assEscape("{hi}"))
	assert.Equal(t, `a\\b`, assEscape(`a\b`))
	assert.Equal(t, "one two", assEscape("one   two"))
}

func TestMarginVForSubjects(t *testing.T) {
	mk := func(cy float64) []reframe.Sample {
		return []reframe.Sample{{T: 0, CX: 960, CY: cy}, {T: 1, CX: 960, CY: cy}}
	}

	// Subject high in frame: no lift
	assert.Equal(t, 360, MarginVForSubjects(mk(400), 1080, 360))
	// Subject a bit low: mild lift
	assert.Equal(t, 432, MarginVForSubjects(mk(600), 1080, 360)) // frac 0.556
	// Subject low: strong lift
	assert.Equal(t, 504, MarginVForSubjects(mk(700), 1080, 360)) // frac 0.648
	// No samples: base
	assert.Equal(t, 360, MarginVForSubjects(nil, 1080, 360))
}

func TestKaraokeText_ClampsDurations(t *testing.T) {
	words := []transcribe.Word{
		{Text: "blink", Start: 0, End: 0.005},  // 0.5cs, clamped up to 2
		{Text: "normal", Start: 0.1, End: 0.6}, // 50cs
		{Text: "loooong", Start: 1, End: 9},    // 800cs, clamped down to 250
	}

	got := karaokeText(words)
	assert.Contains(t, got, `{\k2}blink`)
	assert.Contains(t, got, `{\k50}normal`)
	assert.Contains(t, got, `{\k250}loooong`)
}

func TestWrapLines(t *testing.T) {
	p := defaultParams()

	// 10 short words: hard word-count wrap at 7
	tokens := strings.Fields("a b c d e f g h i j")
	lines := p.wrapLines(tokens)
	require.Len(t, lines, 2)
	assert.Equal(t, "a b c d e f g", lines[0])
	assert.Equal(t, "h i j", lines[1])

	// Long words: soft char wrap before 34 chars
	lines = p.wrapLines([]string{"superlongwordnumberone", "superlongwordnumbertwo"})
	require.Len(t, lines, 2)

	assert.Nil(t, p.wrapLines(nil))
	assert.Nil(t, p.wrapLines([]string{"  ", ""}))
}

func TestBuildBlocks_PauseBreak(t *testing.T) {
	p := defaultParams()
	words := []transcribe.Word{
		{Text: "first", Start: 0, End: 0.3},
		{Text: "part.", Start: 0.4, End: 0.7},
		{Text: "second", Start: 1.5, End: 1.9}, // pause 0.8 >= 0.65
	}

	blocks := p.BuildBlocks(words)
	require.Len(t, blocks, 2)
	assert.Equal(t, 0.0, blocks[0].Start)
	assert.Equal(t, 0.7, blocks[0].End)
	assert.Equal(t, 1.5, blocks[1].Start)
}

func TestBuildBlocks_DurationBreak(t *testing.T) {
	p := defaultParams()
	// Continuous words for 6 seconds: blocks capped near 2.8s
	var words []transcribe.Word
	for i := 0; i < 30; i++ {
		t0 := float64(i) * 0.2
		words = append(words, transcribe.Word{Text: "w", Start: t0, End: t0 + 0.15})
	}

	blocks := p.BuildBlocks(words)
	require.Greater(t, len(blocks), 1)
	for _, b := range blocks {
		assert.LessOrEqual(t, b.End-b.Start, p.MaxBlockSeconds+0.5)
	}
}

func TestBuildBlocks_WordCountBreak(t *testing.T) {
	p := defaultParams()
	// 40 rapid words, no pauses: break at 7*2+3=17 words
	var words []transcribe.Word
	for i := 0; i < 40; i++ {
		t0 := float64(i) * 0.05
		words = append(words, transcribe.Word{Text: "w", Start: t0, End: t0 + 0.04})
	}

	blocks := p.BuildBlocks(words)
	require.Greater(t, len(blocks), 1)
	for _, b := range blocks {
		assert.LessOrEqual(t, len(b.Words), 17)
	}
}

func TestBuild_FullDocument(t *testing.T) {
	p := defaultParams()
	words := []transcribe.Word{
		{Text: "Hello", Start: 10.2, End: 10.6},
		{Text: "world.", Start: 10.7, End: 11.1},
	}
	camera := &reframe.Path{
		SrcH:    1080,
		Samples: []reframe.Sample{{T: 10, CX: 960, CY: 700}},
	}

	doc := p.Build(words, 10, 45, 1080, 1920, camera, defaultStyle())

	assert.Contains(t, doc, "PlayResX: 1080")
	assert.Contains(t, doc, "PlayResY: 1920")
	// Subject low (frac 0.648): margin lifted 360 -> 504
	assert.Contains(t, doc, ",504,1")
	assert.Contains(t, doc, "Style: Base,Montserrat,64,")
	assert.Contains(t, doc, "Style: Karaoke,")
	// Times relative to clip start
	assert.Contains(t, doc, "Dialogue: 0,0:00:00.20,0:00:01.10,Base,Hello world.")
	assert.Contains(t, doc, `Dialogue: 1,0:00:00.20,0:00:01.10,Karaoke,{\k40}Hello {\k40}world.`)
}

func TestBuild_NoWordsInRange(t *testing.T) {
	p := defaultParams()
	words := []transcribe.Word{{Text: "outside", Start: 100, End: 101}}

	doc := p.Build(words, 0, 30, 1080, 1920, nil, defaultStyle())
	assert.Contains(t, doc, "[Events]")
	assert.NotContains(t, doc, "Dialogue:")
}
