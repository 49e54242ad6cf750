package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// ErrCorruptMedia indicates a file ffprobe could not make sense of: an
// unreadable header, a video stream with zero dimensions, or an effectively
// empty duration.
var ErrCorruptMedia = errors.New("corrupt media")

// ProbeResult contains media file metadata. Width and Height are display
// dimensions: rotation metadata of 90 or 270 degrees swaps the stored frame
// dimensions.
type ProbeResult struct {
	Width       int     // Display width in pixels
	Height      int     // Display height in pixels
	Rotation    int     // Normalized rotation in degrees (0, 90, 180, 270)
	FPS         float64 // Frames per second
	VideoCodec  string  // Video codec name (h264, vp9, etc.)
	PixelFormat string  // Pixel format (yuv420p, etc.)

	AudioCodec      string // Audio codec name (aac, opus, etc.)
	AudioChannels   int    // Number of audio channels
	AudioSampleRate int    // Audio sample rate in Hz

	Duration   float64 // Duration in seconds
	Bitrate    int64   // Total bitrate in bits per second
	Size       int64   // File size in bytes
	FormatName string  // Container format (mp4, webm, mkv, etc.)

	VideoStreams int
	AudioStreams int
}

// HasAudio reports whether the file carries at least one audio stream.
func (r *ProbeResult) HasAudio() bool {
	return r.AudioStreams > 0
}

// ffprobeOutput matches ffprobe JSON output structure.
type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`

		Width       int    `json:"width"`
		Height      int    `json:"height"`
		RFrameRate  string `json:"r_frame_rate"`
		PixelFormat string `json:"pix_fmt"`
		Duration    string `json:"duration"`

		Tags struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			SideDataType string          `json:"side_data_type"`
			Rotation     json.RawMessage `json:"rotation"`
		} `json:"side_data_list"`

		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// Probe runs ffprobe on a file and returns metadata. Files with an
// unreadable header, a zero-dimension video stream, or a duration of 0.1
// seconds or less fail with an error wrapping ErrCorruptMedia.
func Probe(ctx context.Context, path string) (*ProbeResult, error) {
	args := []string{
		"-hide_banner",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: ffprobe: %v: %s", ErrCorruptMedia, err, stderr.String())
	}

	var output ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		return nil, fmt.Errorf("%w: ffprobe: unparseable output: %v", ErrCorruptMedia, err)
	}

	result := &ProbeResult{}

	if output.Format.Duration != "" {
		result.Duration, _ = strconv.ParseFloat(output.Format.Duration, 64)
	}
	if output.Format.BitRate != "" {
		result.Bitrate, _ = strconv.ParseInt(output.Format.BitRate, 10, 64)
	}
	if output.Format.Size != "" {
		result.Size, _ = strconv.ParseInt(output.Format.Size, 10, 64)
	}
	result.FormatName = output.Format.FormatName

	for _, stream := range output.Streams {
		switch stream.CodecType {
		case "video":
			result.VideoStreams++
			// Only take first video stream metadata
			if result.VideoCodec == "" {
				result.Width = stream.Width
				result.Height = stream.Height
				result.VideoCodec = stream.CodecName
				result.PixelFormat = stream.PixelFormat
				result.FPS = parseFrameRate(stream.RFrameRate)

				rot := 0
				if stream.Tags.Rotate != "" {
					if v, err := strconv.Atoi(stream.Tags.Rotate); err == nil {
						rot = v
					}
				}
				for _, sd := range stream.SideDataList {
					if sd.SideDataType == "Display Matrix" && len(sd.Rotation) > 0 {
						if v, err := parseRotationValue(sd.Rotation); err == nil {
							rot = v
						}
					}
				}
				result.Rotation = normalizeRotation(rot)
				if result.Rotation == 90 || result.Rotation == 270 {
					result.Width, result.Height = result.Height, result.Width
				}

				if result.Duration == 0 && stream.Duration != "" {
					result.Duration, _ = strconv.ParseFloat(stream.Duration, 64)
				}
			}

		case "audio":
			result.AudioStreams++
			// Only take first audio stream metadata
			if result.AudioCodec == "" {
				result.AudioCodec = stream.CodecName
				result.AudioChannels = stream.Channels
				if stream.SampleRate != "" {
					result.AudioSampleRate, _ = strconv.Atoi(stream.SampleRate)
				}
			}
		}
	}

	if result.VideoStreams == 0 {
		return nil, fmt.Errorf("%w: no video stream", ErrCorruptMedia)
	}
	if result.Width <= 0 || result.Height <= 0 {
		return nil, fmt.Errorf("%w: video stream has zero dimensions", ErrCorruptMedia)
	}
	if result.Duration <= 0.1 {
		return nil, fmt.Errorf("%w: duration %.3fs", ErrCorruptMedia, result.Duration)
	}

	return result, nil
}

// parseRotationValue handles the display matrix rotation field, which ffprobe
// emits as a JSON number or a quoted string depending on version.
func parseRotationValue(raw json.RawMessage) (int, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		return int(v), nil
	}
	return 0, fmt.Errorf("unrecognized rotation value %q", raw)
}

// normalizeRotation maps any rotation metadata (including negatives from
// display matrices) onto {0, 90, 180, 270}.
func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	// Snap to the nearest quarter turn
	switch {
	case deg >= 45 && deg < 135:
		return 90
	case deg >= 135 && deg < 225:
		return 180
	case deg >= 225 && deg < 315:
		return 270
	default:
		return 0
	}
}

// parseFrameRate parses ffprobe frame rate format (e.g., "30/1" or "30000/1001").
func parseFrameRate(rate string) float64 {
	var num, den int
	_, err := fmt.Sscanf(rate, "%d/%d", &num, &den)
	if err != nil || den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// ProbeDuration is a convenience function that returns just the duration.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	result, err := Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return result.Duration, nil
}
