package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
)

const (
	energyWindowSeconds = 0.05
	minEnergyWindows    = 10
)

// EnergyScore measures loudness variation across the track: the spread
// between the 10th and 90th percentile of short-window RMS values,
// normalized by the 90th. Monotone speech scores near 0, dynamic speech
// near 1. Tracks with fewer than 10 windows score 0.
func EnergyScore(wavPath string) (float64, error) {
	samples, sampleRate, err := readPCM16Mono(wavPath)
	if err != nil {
		return 0, err
	}
	return energyFromSamples(samples, sampleRate), nil
}

func energyFromSamples(samples []int16, sampleRate int) float64 {
	window := int(energyWindowSeconds * float64(sampleRate))
	if window <= 0 {
		return 0
	}

	var rms []float64
	for off := 0; off+window <= len(samples); off += window {
		sum := 0.0
		for _, s := range samples[off : off+window] {
			v := float64(s) / 32768.0
			sum += v * v
		}
		rms = append(rms, math.Sqrt(sum/float64(window)))
	}

	if len(rms) < minEnergyWindows {
		return 0
	}

	sort.Float64s(rms)
	p10 := percentile(rms, 0.10)
	p90 := percentile(rms, 0.90)
	if p90 <= 0 {
		return 0
	}

	score := (p90 - p10) / p90
	return math.Max(0, math.Min(1, score))
}

// percentile uses linear interpolation between closest ranks over a sorted
// slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// readPCM16Mono parses a RIFF/WAVE file holding 16-bit PCM and returns the
// first channel's samples. Multi-channel files take channel 0.
func readPCM16Mono(path string) ([]int16, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: read wav: %w", err)
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("audio: not a RIFF/WAVE file")
	}

	var (
		sampleRate int
		channels   int
		bits       int
		pcm        []byte
	)

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("audio: short fmt chunk")
			}
			format := int(binary.LittleEndian.Uint16(data[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if format != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("audio: unsupported wav encoding (format=%d bits=%d)", format, bits)
			}
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if sampleRate == 0 || channels == 0 {
		return nil, 0, fmt.Errorf("audio: missing fmt chunk")
	}
	if len(pcm) == 0 {
		return nil, 0, fmt.Errorf("audio: missing data chunk")
	}

	frame := channels * 2
	n := len(pcm) / frame
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*frame : i*frame+2]))
	}
	return samples, sampleRate, nil
}
