package audio

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"thirdcoast.systems/clipforge/pkg/ffmpeg"
)

// Interval is a half-open [Start, End) span of silence in seconds.
type Interval struct {
	Start float64
	End   float64
}

// Duration returns the interval length in seconds.
func (iv Interval) Duration() float64 {
	return iv.End - iv.Start
}

// DetectSilence runs ffmpeg's silencedetect filter over the WAV and parses
// the intervals from stderr. noiseDB is a threshold like "-35dB"; minDur is
// the minimum silence length in seconds. totalDuration closes a trailing
// silence that runs to the end of the file.
func DetectSilence(ctx context.Context, wavPath, noiseDB string, minDur, totalDuration float64, timeout time.Duration) ([]Interval, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	filter := fmt.Sprintf("silencedetect=noise=%s:d=%s",
		noiseDB, strconv.FormatFloat(minDur, 'f', -1, 64))

	res := ffmpeg.RunCapture(ctx, wavPath, "-",
		ffmpeg.AudioFilter(filter),
		ffmpeg.Format("null"),
	)
	if res.Err != nil {
		return nil, fmt.Errorf("audio: silencedetect: %w", res.Err)
	}

	return ParseSilenceOutput(res.Logs, totalDuration), nil
}

// ParseSilenceOutput extracts silence intervals from silencedetect stderr
// lines. A silence_start without a matching silence_end is closed at
// totalDuration.
func ParseSilenceOutput(logs string, totalDuration float64) []Interval {
	var intervals []Interval
	start := -1.0

	for _, line := range strings.Split(logs, "\n") {
		if !strings.Contains(line, "silencedetect") {
			continue
		}
		if v, ok := fieldAfter(line, "silence_start:"); ok {
			start = v
			continue
		}
		if v, ok := fieldAfter(line, "silence_end:"); ok && start >= 0 {
			if v > start {
				intervals = append(intervals, Interval{Start: start, End: v})
			}
			start = -1
		}
	}

	if start >= 0 && totalDuration > start {
		intervals = append(intervals, Interval{Start: start, End: totalDuration})
	}

	return intervals
}

func fieldAfter(line, marker string) (float64, bool) {
	idx := strings.Index(line, marker)
	if idx == -1 {
		return 0, false
	}
	rest := strings.TrimSpace(line[idx+len(marker):])
	// silence_end lines carry a trailing "| silence_duration: ..." field
	if sp := strings.IndexAny(rest, " |"); sp != -1 {
		rest = rest[:sp]
	}
	v, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SilenceOverlap returns how many seconds of [start, end] fall inside the
// given silence intervals.
func SilenceOverlap(intervals []Interval, start, end float64) float64 {
	total := 0.0
	for _, iv := range intervals {
		lo := max(start, iv.Start)
		hi := min(end, iv.End)
		if hi > lo {
			total += hi - lo
		}
	}
	return total
}
