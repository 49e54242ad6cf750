// Package ffmpeg provides a composable API for building and executing ffmpeg commands.
package ffmpeg

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Command represents an ffmpeg command being built.
type Command struct {
	input        string
	output       string
	preInput     []string // args before -i (like -ss for input seeking)
	postInput    []string // args after -i
	filters      []string // collected -vf filters
	audioFilters []string // collected -af filters
}

// Option modifies a Command. Options are composable and order-independent
// (ffmpeg will receive args in correct order regardless of option order).
type Option interface {
	Apply(cmd *Command)
}

// OptionFunc is a function that implements Option.
type OptionFunc func(cmd *Command)

// Apply implements Option.
func (f OptionFunc) Apply(cmd *Command) { f(cmd) }

// NewCommand creates a command with input/output and applies options.
func NewCommand(input, output string, opts ...Option) *Command {
	cmd := &Command{
		input:  input,
		output: output,
	}
	for _, opt := range opts {
		opt.Apply(cmd)
	}
	return cmd
}

// Build returns the complete ffmpeg argument list.
func (c *Command) Build() []string {
	args := []string{"-hide_banner", "-y"}

	args = append(args, c.preInput...)
	args = append(args, "-i", c.input)
	args = append(args, c.postInput...)

	if len(c.filters) > 0 {
		args = append(args, "-vf", strings.Join(c.filters, ","))
	}
	if len(c.audioFilters) > 0 {
		args = append(args, "-af", strings.Join(c.audioFilters, ","))
	}

	// Auto-apply faststart for MP4/M4A outputs
	ext := strings.ToLower(filepath.Ext(c.output))
	if ext == ".mp4" || ext == ".m4a" || ext == ".mov" {
		args = append(args, "-movflags", "+faststart")
	}

	args = append(args, c.output)

	return args
}

// Run executes the ffmpeg command.
func (c *Command) Run(ctx context.Context) error {
	return run(ctx, c.Build(), nil)
}

// RunCapture executes the ffmpeg command and returns both stderr logs and any error.
func (c *Command) RunCapture(ctx context.Context) RunResult {
	return runCapture(ctx, c.Build())
}

// RunWithProgress executes with progress reporting.
func (c *Command) RunWithProgress(ctx context.Context, progress chan<- Progress) error {
	args := c.Build()
	// Insert progress flags after -hide_banner -y
	progressArgs := []string{args[0], args[1], "-progress", "pipe:1", "-nostats"}
	progressArgs = append(progressArgs, args[2:]...)
	return run(ctx, progressArgs, progress)
}

// Run executes the ffmpeg command with the given options.
func Run(ctx context.Context, input, output string, opts ...Option) error {
	return NewCommand(input, output, opts...).Run(ctx)
}

// RunCapture executes the ffmpeg command and returns both the stderr logs and any error.
func RunCapture(ctx context.Context, input, output string, opts ...Option) RunResult {
	return NewCommand(input, output, opts...).RunCapture(ctx)
}

// RunWithProgress executes and reports progress.
func RunWithProgress(ctx context.Context, input, output string, progress chan<- Progress, opts ...Option) error {
	return NewCommand(input, output, opts...).RunWithProgress(ctx, progress)
}

// --- Seeking Options ---

// Seek sets the start position (input seeking, before -i).
func Seek(start time.Duration) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.preInput = append(cmd.preInput, "-ss", formatDuration(start))
	})
}

// Duration sets the output duration.
func Duration(d time.Duration) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-t", formatDuration(d))
	})
}

// SeekTo sets start position and calculates duration from start to end.
func SeekTo(start, end time.Duration) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.preInput = append(cmd.preInput, "-ss", formatDuration(start))
		duration := end - start
		if duration > 0 {
			cmd.postInput = append(cmd.postInput, "-t", formatDuration(duration))
		}
	})
}

// --- Video Codec Options ---

// VideoCodec sets the video codec (-c:v).
func VideoCodec(codec string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-c:v", codec)
	})
}

// VideoProfile sets the codec profile (-profile:v).
func VideoProfile(profile string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-profile:v", profile)
	})
}

// CRF sets the constant rate factor.
func CRF(value int) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-crf", itoa(value))
	})
}

// Preset sets the encoding preset (ultrafast, fast, medium, etc.).
func Preset(name string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-preset", name)
	})
}

// PixelFormat sets the pixel format (-pix_fmt).
func PixelFormat(fmt string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-pix_fmt", fmt)
	})
}

// --- Audio Codec Options ---

// AudioCodec sets the audio codec (-c:a).
func AudioCodec(codec string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-c:a", codec)
	})
}

// AudioBitrate sets the audio bitrate (-b:a).
func AudioBitrate(bitrate string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-b:a", bitrate)
	})
}

// AudioChannels sets the number of audio channels (-ac).
func AudioChannels(n int) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-ac", itoa(n))
	})
}

// AudioSampleRate sets the audio sample rate (-ar).
func AudioSampleRate(hz int) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-ar", itoa(hz))
	})
}

// --- Stream Options (variables, not functions) ---

// NoAudio disables audio in output (-an).
var NoAudio Option = OptionFunc(func(cmd *Command) {
	cmd.postInput = append(cmd.postInput, "-an")
})

// NoVideo disables video in output (-vn).
var NoVideo Option = OptionFunc(func(cmd *Command) {
	cmd.postInput = append(cmd.postInput, "-vn")
})

// --- Filter Options ---

// Filter adds a video filter to the filter chain.
func Filter(f string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.filters = append(cmd.filters, f)
	})
}

// AudioFilter adds an audio filter to the filter chain.
func AudioFilter(f string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.audioFilters = append(cmd.audioFilters, f)
	})
}

// --- Output Options ---

// Format forces the output container format (-f). Use with output "-" and
// Format("null") to run analysis filters without writing a file.
func Format(name string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-f", name)
	})
}

// Quality sets the output quality for images (-q:v).
func Quality(q int) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-q:v", itoa(q))
	})
}

// --- Misc ---

// LogLevel sets the logging level.
func LogLevel(level string) Option {
	return OptionFunc(func(cmd *Command) {
		// Insert at beginning of preInput so it's early in args
		cmd.preInput = append([]string{"-loglevel", level}, cmd.preInput...)
	})
}

// ExtraArgs adds raw arguments (escape hatch for unsupported options).
func ExtraArgs(args ...string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, args...)
	})
}

// --- Utility ---

func formatDuration(d time.Duration) string {
	// Format as seconds with millisecond precision for ffmpeg
	secs := d.Seconds()
	return strconv.FormatFloat(secs, 'f', 3, 64)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
