package ffmpeg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBuild(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		output   string
		opts     []Option
		expected []string
	}{
		{
			name:   "basic mp4 gets faststart",
			input:  "in.mkv",
			output: "out.mp4",
			expected: []string{
				"-hide_banner", "-y",
				"-i", "in.mkv",
				"-movflags", "+faststart",
				"out.mp4",
			},
		},
		{
			name:   "wav output without faststart",
			input:  "in.mp4",
			output: "out.wav",
			opts:   []Option{NoVideo, AudioChannels(1), AudioSampleRate(16000), AudioCodec("pcm_s16le")},
			expected: []string{
				"-hide_banner", "-y",
				"-i", "in.mp4",
				"-vn",
				"-ac", "1",
				"-ar", "16000",
				"-c:a", "pcm_s16le",
				"out.wav",
			},
		},
		{
			name:   "filters are joined into one -vf",
			input:  "in.mp4",
			output: "out.mp4",
			opts:   []Option{CropPixels(608, 1080, 656, 0), Scale(1080, 1920), FPS(30)},
			expected: []string{
				"-hide_banner", "-y",
				"-i", "in.mp4",
				"-vf", "crop=608:1080:656:0,scale=1080:1920,fps=30",
				"-movflags", "+faststart",
				"out.mp4",
			},
		},
		{
			name:   "audio filter with null sink",
			input:  "in.wav",
			output: "-",
			opts:   []Option{AudioFilter("silencedetect=noise=-35dB:d=0.35"), Format("null")},
			expected: []string{
				"-hide_banner", "-y",
				"-i", "in.wav",
				"-f", "null",
				"-af", "silencedetect=noise=-35dB:d=0.35",
				"-",
			},
		},
		{
			name:   "seek to range",
			input:  "in.mp4",
			output: "out.mp4",
			opts:   []Option{SeekTo(12500*time.Millisecond, 47500*time.Millisecond)},
			expected: []string{
				"-hide_banner", "-y",
				"-ss", "12.500",
				"-i", "in.mp4",
				"-t", "35.000",
				"-movflags", "+faststart",
				"out.mp4",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewCommand(tt.input, tt.output, tt.opts...)
			assert.Equal(t, tt.expected, cmd.Build())
		})
	}
}

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, `/tmp/a\:b\'c.ass`, EscapeFilterPath("/tmp/a:b'c.ass"))
	assert.Equal(t, "plain.ass", EscapeFilterPath("plain.ass"))
}

func TestNormalizeRotation(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 0},
		{90, 90},
		{180, 180},
		{270, 270},
		{-90, 270},
		{360, 0},
		{450, 90},
		{-270, 90},
		{89, 90},
		{1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeRotation(tt.in), "rotation %d", tt.in)
	}
}

func TestParseRotationValue(t *testing.T) {
	v, err := parseRotationValue([]byte(`-90`))
	require.NoError(t, err)
	assert.Equal(t, -90, v)

	v, err = parseRotationValue([]byte(`"90"`))
	require.NoError(t, err)
	assert.Equal(t, 90, v)

	_, err = parseRotationValue([]byte(`{}`))
	require.Error(t, err)
}

func TestParseFrameRate(t *testing.T) {
	assert.Equal(t, 30.0, parseFrameRate("30/1"))
	assert.InDelta(t, 29.97, parseFrameRate("30000/1001"), 0.001)
	assert.Equal(t, 0.0, parseFrameRate("0/0"))
	assert.Equal(t, 0.0, parseFrameRate("garbage"))
}

func TestProgressParser(t *testing.T) {
	parser := NewProgressParser()

	lines := []string{
		"frame=120",
		"fps=58.2",
		"total_size=1048576",
		"out_time_us=4000000",
		"speed=1.94x",
	}
	for _, line := range lines {
		assert.False(t, parser.ParseLine(line))
	}
	assert.True(t, parser.ParseLine("progress=continue"))

	got := parser.Current()
	assert.Equal(t, int64(120), got.Frame)
	assert.Equal(t, 58.2, got.FPS)
	assert.Equal(t, int64(1048576), got.TotalSize)
	assert.Equal(t, 4.0, got.OutTimeSeconds())
	assert.Equal(t, "1.94x", got.Speed)
}
