// Package audio extracts and analyzes the audio track of a source video:
// a mono 16 kHz PCM working copy, silence intervals, and a loudness-spread
// energy score.
package audio

import (
	"context"
	"fmt"
	"os"
	"time"

	"thirdcoast.systems/clipforge/pkg/ffmpeg"
)

const (
	// SampleRate is the working sample rate for analysis and transcription.
	SampleRate = 16000
)

// ExtractWAV writes the source's audio as mono 16 kHz s16le WAV to wavPath.
// An empty or missing output is an error: a video without usable audio
// cannot be transcribed or segmented.
func ExtractWAV(ctx context.Context, srcPath, wavPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := ffmpeg.Run(ctx, srcPath, wavPath,
		ffmpeg.NoVideo,
		ffmpeg.AudioChannels(1),
		ffmpeg.AudioSampleRate(SampleRate),
		ffmpeg.AudioCodec("pcm_s16le"),
	)
	if err != nil {
		return fmt.Errorf("audio: extract: %w", err)
	}

	info, statErr := os.Stat(wavPath)
	if statErr != nil || info.Size() == 0 {
		return fmt.Errorf("audio: extract produced no output")
	}
	return nil
}
