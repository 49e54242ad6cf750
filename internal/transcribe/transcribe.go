// Package transcribe turns the extracted audio track into word-timestamped
// text via an external whisper CLI.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"thirdcoast.systems/clipforge/internal/config"
)

// Word is a single recognized word with its time span in seconds.
type Word struct {
	Text  string
	Start float64
	End   float64
}

// Segment is a whisper segment with word-level timing.
type Segment struct {
	Start float64
	End   float64
	Text  string
	Words []Word
}

// Transcript is the normalized transcription result.
type Transcript struct {
	Segments []Segment
	Words    []Word // all words, flattened and sorted by start time
}

// Transcriber produces a transcript for a mono WAV file.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (*Transcript, error)
}

// WhisperCLI shells out to the whisper command with JSON output and word
// timestamps enabled.
type WhisperCLI struct {
	Cmd      string
	Model    string
	Device   string
	Language string
	Timeout  time.Duration
}

// NewWhisperCLI builds a transcriber from worker configuration.
func NewWhisperCLI(conf config.Config) *WhisperCLI {
	return &WhisperCLI{
		Cmd:      conf.WhisperCmd,
		Model:    conf.WhisperModel,
		Device:   conf.WhisperDevice,
		Language: conf.WhisperLanguage,
		Timeout:  time.Duration(conf.WhisperTimeoutSeconds) * time.Second,
	}
}

// whisperJSON matches the whisper CLI's JSON output file.
type whisperJSON struct {
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		Words []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
}

// Transcribe implements Transcriber.
func (w *WhisperCLI) Transcribe(ctx context.Context, wavPath string) (*Transcript, error) {
	cmdName := w.Cmd
	if cmdName == "" {
		cmdName = "whisper"
	}
	cmdPath, err := exec.LookPath(cmdName)
	if err != nil {
		return nil, fmt.Errorf("transcribe: command not found: %w", err)
	}

	outputDir, err := os.MkdirTemp("", "whisper-*")
	if err != nil {
		return nil, fmt.Errorf("transcribe: temp dir: %w", err)
	}
	defer os.RemoveAll(outputDir)

	model := w.Model
	if model == "" {
		model = "small"
	}
	device := w.Device
	if device == "" {
		device = "cpu"
	}

	args := []string{
		wavPath,
		"--model", model,
		"--output_format", "json",
		"--output_dir", outputDir,
		"--device", device,
		"--word_timestamps", "True",
		"--task", "transcribe",
	}
	if w.Language != "" && !strings.EqualFold(w.Language, "auto") {
		args = append(args, "--language", w.Language)
	}

	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("transcribe: whisper failed: %w (output=%s)", err, strings.TrimSpace(buf.String()))
	}

	base := strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))
	jsonPath := filepath.Join(outputDir, base+".json")
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		matches, _ := filepath.Glob(filepath.Join(outputDir, "*.json"))
		if len(matches) == 0 {
			return nil, fmt.Errorf("transcribe: whisper output not found in %s", outputDir)
		}
		if raw, err = os.ReadFile(matches[0]); err != nil {
			return nil, fmt.Errorf("transcribe: read output: %w", err)
		}
	}

	var parsed whisperJSON
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("transcribe: parse output: %w", err)
	}

	return normalize(parsed)
}

// normalize drops segments without word timing, flattens the words, and
// sorts them by start time. An empty result is an error: the rest of the
// pipeline has nothing to work with.
func normalize(parsed whisperJSON) (*Transcript, error) {
	tr := &Transcript{}

	for _, seg := range parsed.Segments {
		if len(seg.Words) == 0 {
			continue
		}
		s := Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
		for _, w := range seg.Words {
			text := strings.TrimSpace(w.Word)
			if text == "" {
				continue
			}
			s.Words = append(s.Words, Word{Text: text, Start: w.Start, End: w.End})
		}
		if len(s.Words) == 0 {
			continue
		}
		tr.Segments = append(tr.Segments, s)
		tr.Words = append(tr.Words, s.Words...)
	}

	if len(tr.Words) == 0 {
		return nil, fmt.Errorf("transcribe: empty transcript")
	}

	// Whisper emits words in order within a segment; a stable sort fixes
	// any cross-segment overlap.
	sort.SliceStable(tr.Words, func(i, j int) bool {
		return tr.Words[i].Start < tr.Words[j].Start
	})
	return tr, nil
}

// WordsInRange returns the words fully or partially inside [start, end].
func WordsInRange(words []Word, start, end float64) []Word {
	var out []Word
	for _, w := range words {
		if w.End > start && w.Start < end {
			out = append(out, w)
		}
	}
	return out
}
