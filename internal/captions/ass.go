package captions

import (
	"fmt"
	"math"
	"strings"

	"thirdcoast.systems/clipforge/internal/config"
	"thirdcoast.systems/clipforge/internal/reframe"
	"thirdcoast.systems/clipforge/internal/transcribe"
)

// Karaoke timing bounds in centiseconds. Zero-length \k tokens render
// glitchy; very long ones stall the highlight.
const (
	karaokeMinCS = 2
	karaokeMaxCS = 250
)

// Params carries the chunking and layout knobs.
type Params struct {
	MaxWordsPerLine int
	MaxCharsPerLine int
	MaxLines        int
	MaxBlockSeconds float64
	BreakPause      float64
}

// ParamsFromConfig pulls the knobs out of worker configuration.
func ParamsFromConfig(conf config.Config) Params {
	return Params{
		MaxWordsPerLine: conf.CaptionMaxWordsLine,
		MaxCharsPerLine: conf.CaptionMaxCharsLine,
		MaxLines:        conf.CaptionMaxLines,
		MaxBlockSeconds: conf.CaptionMaxBlockSecs,
		BreakPause:      conf.CaptionBreakPause,
	}
}

// Block is a run of words shown together, with wrapped display lines.
type Block struct {
	Start float64
	End   float64
	Words []transcribe.Word
	Lines []string
}

// cleanText collapses all whitespace runs to single spaces.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// assTime formats seconds as H:MM:SS.xx.
func assTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := int(seconds / 3600)
	m := int(math.Mod(seconds, 3600) / 60)
	s := math.Mod(seconds, 60)
	return fmt.Sprintf("%d:%02d:%05.2f", h, m, s)
}

// assEscape neutralizes ASS control characters and normalizes whitespace.
func assEscape(text string) string {
	t := cleanText(text)
	t = strings.ReplaceAll(t, `\`, `\\`)
	t = strings.ReplaceAll(t, "{", `\{`)
	t = strings.ReplaceAll(t, "}", `\}`)
	t = strings.ReplaceAll(t, "\n", `\N`)
	return t
}

// MarginVForSubjects lifts captions when the tracked subject sits low in the
// source frame, so text does not cover faces. Sample Y positions are in
// source pixels; the fraction is resolution independent.
func MarginVForSubjects(samples []reframe.Sample, srcH float64, baseMarginV int) int {
	if len(samples) == 0 || srcH <= 0 {
		return baseMarginV
	}

	n := len(samples)
	if n > 80 {
		n = 80
	}
	sum := 0.0
	for _, s := range samples[:n] {
		sum += s.CY
	}
	frac := (sum / float64(n)) / srcH

	if frac > 0.58 {
		return int(float64(baseMarginV) * 1.4)
	}
	if frac > 0.52 {
		return int(float64(baseMarginV) * 1.2)
	}
	return baseMarginV
}

// header emits the script info plus Base and Karaoke styles. PlayRes matches
// the output resolution so margins and font sizes land where intended.
func header(playResX, playResY int, style Style, marginV int) string {
	format := "Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, " +
		"Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, " +
		"BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding"

	// BorderStyle=1: outline plus shadow
	base := fmt.Sprintf(
		"Style: Base,%s,%d,%s,&H00FFFFFF,%s,&H00000000,%d,%d,0,0,100,100,0,0,1,%d,%d,%d,%d,%d,%d,1",
		style.Font, style.FontSize, style.PrimaryColor, style.OutlineColor,
		style.Bold, style.Italic, style.Outline, style.Shadow,
		style.Alignment, style.MarginH, style.MarginH, marginV,
	)

	karaoke := fmt.Sprintf(
		"Style: Karaoke,%s,%d,%s,&H0000FFFF,%s,&H00000000,%d,%d,0,0,100,100,0,0,1,%d,%d,%d,%d,%d,%d,1",
		style.Font, style.FontSize, style.PrimaryColor, style.OutlineColor,
		style.Bold, style.Italic, style.Outline, style.Shadow,
		style.Alignment, style.MarginH, style.MarginH, marginV,
	)

	return "[Script Info]\n" +
		"ScriptType: v4.00+\n" +
		fmt.Sprintf("PlayResX: %d\n", playResX) +
		fmt.Sprintf("PlayResY: %d\n", playResY) +
		"\n" +
		"[V4+ Styles]\n" +
		"Format: " + format + "\n" +
		base + "\n" +
		karaoke + "\n" +
		"\n" +
		"[Events]\n" +
		"Format: Layer, Start, End, Style, Text\n"
}

func clampKaraokeCS(cs int) int {
	if cs < karaokeMinCS {
		return karaokeMinCS
	}
	if cs > karaokeMaxCS {
		return karaokeMaxCS
	}
	return cs
}

// karaokeText builds the {\kNN}word token string, NN in centiseconds.
func karaokeText(words []transcribe.Word) string {
	var b strings.Builder
	for _, w := range words {
		dur := w.End - w.Start
		if dur < 0 {
			dur = 0
		}
		cs := clampKaraokeCS(int(math.Round(dur * 100)))
		fmt.Fprintf(&b, `{\k%d}%s `, cs, assEscape(w.Text))
	}
	return strings.TrimSpace(b.String())
}

// wrapLines distributes tokens across at most MaxLines display lines,
// breaking on word count or character count.
func (p Params) wrapLines(tokens []string) []string {
	var toks []string
	for _, t := range tokens {
		if c := cleanText(t); c != "" {
			toks = append(toks, c)
		}
	}
	if len(toks) == 0 {
		return nil
	}

	lines := [][]string{{}}
	curLen := 0

	for _, t := range toks {
		// Hard word-count wrap
		if len(lines[len(lines)-1]) >= p.MaxWordsPerLine && len(lines) < p.MaxLines {
			lines = append(lines, []string{})
			curLen = 0
		}

		// Soft char-count wrap
		proposed := curLen + len(t)
		if curLen > 0 {
			proposed++
		}
		if proposed > p.MaxCharsPerLine && len(lines[len(lines)-1]) > 0 && len(lines) < p.MaxLines {
			lines = append(lines, []string{})
			curLen = 0
		}

		if len(lines[len(lines)-1]) > 0 {
			curLen += 1 + len(t)
		} else {
			curLen += len(t)
		}
		lines[len(lines)-1] = append(lines[len(lines)-1], t)
	}

	var out []string
	for _, line := range lines {
		if len(line) > 0 {
			out = append(out, strings.Join(line, " "))
		}
	}
	if len(out) > p.MaxLines {
		out = out[:p.MaxLines]
	}
	return out
}

// BuildBlocks chunks a clip's words into display blocks. A block breaks on a
// long pause, on running past the max block duration, or when it would
// exceed a comfortable word count.
func (p Params) BuildBlocks(clipWords []transcribe.Word) []Block {
	if len(clipWords) == 0 {
		return nil
	}

	maxWords := p.MaxWordsPerLine*p.MaxLines + 3

	var blocks []Block
	var cur []transcribe.Word
	blockStart := -1.0
	lastEnd := -1.0

	flush := func() {
		if len(cur) == 0 || blockStart < 0 || lastEnd < 0 {
			cur = nil
			blockStart, lastEnd = -1, -1
			return
		}
		tokens := make([]string, 0, len(cur))
		for _, w := range cur {
			tokens = append(tokens, w.Text)
		}
		blocks = append(blocks, Block{
			Start: blockStart,
			End:   lastEnd,
			Words: append([]transcribe.Word(nil), cur...),
			Lines: p.wrapLines(tokens),
		})
		cur = nil
		blockStart, lastEnd = -1, -1
	}

	for _, w := range clipWords {
		if blockStart < 0 {
			blockStart = w.Start
		}

		pause := 0.0
		duration := 0.0
		if lastEnd >= 0 {
			pause = w.Start - lastEnd
			duration = lastEnd - blockStart
		}

		shouldBreak := false
		if lastEnd >= 0 && pause >= p.BreakPause && len(cur) > 0 {
			shouldBreak = true
		}
		if duration >= p.MaxBlockSeconds && len(cur) > 0 {
			shouldBreak = true
		}
		if len(cur)+1 > maxWords && len(cur) > 0 {
			shouldBreak = true
		}

		if shouldBreak {
			flush()
			blockStart = w.Start
		}

		cur = append(cur, w)
		lastEnd = w.End
	}
	flush()

	return blocks
}

// Build renders the complete ASS document for one clip. Dialogue times are
// relative to the clip start. Each block emits a Base layer and, when word
// timing exists, a Karaoke layer above it.
func (p Params) Build(
	words []transcribe.Word,
	clipStart, clipEnd float64,
	targetW, targetH int,
	camera *reframe.Path,
	style Style,
) string {
	clipWords := transcribe.WordsInRange(words, clipStart, clipEnd)

	marginV := style.MarginV
	if camera != nil {
		marginV = MarginVForSubjects(camera.Samples, camera.SrcH, style.MarginV)
	}

	doc := header(targetW, targetH, style, marginV)

	var events []string
	for _, block := range p.BuildBlocks(clipWords) {
		s := max(clipStart, block.Start)
		e := min(clipEnd, block.End)
		if e <= s {
			continue
		}

		baseText := ""
		if len(block.Lines) > 0 {
			escaped := make([]string, len(block.Lines))
			for i, line := range block.Lines {
				escaped[i] = assEscape(line)
			}
			baseText = strings.Join(escaped, `\N`)
		} else {
			var tokens []string
			for _, w := range block.Words {
				tokens = append(tokens, w.Text)
			}
			baseText = assEscape(cleanText(strings.Join(tokens, " ")))
		}
		if baseText != "" {
			events = append(events, fmt.Sprintf(
				"Dialogue: 0,%s,%s,Base,%s",
				assTime(s-clipStart), assTime(e-clipStart), baseText,
			))
		}

		if k := karaokeText(block.Words); k != "" {
			events = append(events, fmt.Sprintf(
				"Dialogue: 1,%s,%s,Karaoke,%s",
				assTime(s-clipStart), assTime(e-clipStart), k,
			))
		}
	}

	return doc + "\n" + strings.Join(events, "\n") + "\n"
}
