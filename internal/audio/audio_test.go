package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSilenceOutput(t *testing.T) {
	logs := `
[silencedetect @ 0x55c] silence_start: 1.5
[silencedetect @ 0x55c] silence_end: 3.25 | silence_duration: 1.75
frame=  100 fps=0.0 q=-0.0 size=N/A
[silencedetect @ 0x55c] silence_start: 10
[silencedetect @ 0x55c] silence_end: 10.9 | silence_duration: 0.9
`
	got := ParseSilenceOutput(logs, 60)
	require.Len(t, got, 2)
	assert.Equal(t, Interval{1.5, 3.25}, got[0])
	assert.Equal(t, Interval{10, 10.9}, got[1])
}

func TestParseSilenceOutput_TrailingSilence(t *testing.T) {
	logs := "[silencedetect @ 0x1] silence_start: 55.2\n"
	got := ParseSilenceOutput(logs, 60)
	require.Len(t, got, 1)
	assert.Equal(t, Interval{55.2, 60}, got[0])
}

func TestParseSilenceOutput_Empty(t *testing.T) {
	assert.Empty(t, ParseSilenceOutput("frame= 10 fps=0.0\n", 60))
	assert.Empty(t, ParseSilenceOutput("", 60))
}

func TestSilenceOverlap(t *testing.T) {
	intervals := []Interval{{1, 3}, {5, 6}, {10, 20}}

	assert.Equal(t, 0.0, SilenceOverlap(intervals, 3, 5))
	assert.Equal(t, 2.0, SilenceOverlap(intervals, 0, 4))
	assert.Equal(t, 3.0, SilenceOverlap(intervals, 2, 6))
	assert.Equal(t, 5.0, SilenceOverlap(intervals, 15, 30))
}

func TestEnergyFromSamples_TooFewWindows(t *testing.T) {
	// 5 windows of 50ms at 16kHz is below the minimum of 10
	samples := make([]int16, 800*5)
	assert.Equal(t, 0.0, energyFromSamples(samples, 16000))
}

func TestEnergyFromSamples_Silence(t *testing.T) {
	samples := make([]int16, 800*20)
	assert.Equal(t, 0.0, energyFromSamples(samples, 16000))
}

func TestEnergyFromSamples_UniformTone(t *testing.T) {
	// Constant amplitude: every window has the same RMS, so the p10-p90
	// spread collapses to ~0.
	samples := make([]int16, 800*20)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	assert.InDelta(t, 0.0, energyFromSamples(samples, 16000), 0.05)
}

func TestEnergyFromSamples_DynamicSignal(t *testing.T) {
	// Alternate loud and quiet windows: large spread, score near 1.
	samples := make([]int16, 800*20)
	for w := 0; w < 20; w++ {
		amp := 500.0
		if w%2 == 0 {
			amp = 16000
		}
		for i := 0; i < 800; i++ {
			samples[w*800+i] = int16(amp * math.Sin(2*math.Pi*440*float64(i)/16000))
		}
	}
	score := energyFromSamples(samples, 16000)
	assert.Greater(t, score, 0.8)
	assert.LessOrEqual(t, score, 1.0)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, percentile(sorted, 0))
	assert.Equal(t, 3.0, percentile(sorted, 0.5))
	assert.Equal(t, 5.0, percentile(sorted, 1))
	assert.InDelta(t, 1.4, percentile(sorted, 0.10), 1e-9)
	assert.InDelta(t, 4.6, percentile(sorted, 0.90), 1e-9)
}

func TestReadPCM16Mono(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	path := filepath.Join(t.TempDir(), "test.wav")
	writeWAV(t, path, samples, 16000, 1)

	got, rate, err := readPCM16Mono(path)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, samples, got)
}

func TestReadPCM16Mono_Stereo(t *testing.T) {
	// Interleaved stereo: channel 0 is kept.
	interleaved := []int16{100, -100, 200, -200, 300, -300}
	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeWAV(t, path, interleaved, 16000, 2)

	got, _, err := readPCM16Mono(path)
	require.NoError(t, err)
	assert.Equal(t, []int16{100, 200, 300}, got)
}

func TestReadPCM16Mono_NotWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav"), 0o644))

	_, _, err := readPCM16Mono(path)
	require.Error(t, err)
}

func writeWAV(t *testing.T, path string, samples []int16, sampleRate, channels int) {
	t.Helper()

	var pcm bytes.Buffer
	for _, s := range samples {
		require.NoError(t, binary.Write(&pcm, binary.LittleEndian, s))
	}

	var buf bytes.Buffer
	dataSize := pcm.Len()
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(pcm.Bytes())

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}
