package reframe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"thirdcoast.systems/clipforge/internal/config"
	"thirdcoast.systems/clipforge/pkg/ffmpeg"
)

// Sample is the camera center at one sampled instant, in source pixels.
type Sample struct {
	T  float64
	CX float64
	CY float64
}

// Path is the smoothed camera trajectory for one source video.
type Path struct {
	SrcW, SrcH   float64
	CropW, CropH float64
	Samples      []Sample
	Mode         string // "face", "pose", "center"
}

// CenterAt linearly interpolates the camera center at time t.
func (p *Path) CenterAt(t float64) (float64, float64) {
	s := p.Samples
	if len(s) == 0 {
		return p.SrcW / 2, p.SrcH / 2
	}
	if t <= s[0].T {
		return s[0].CX, s[0].CY
	}
	last := s[len(s)-1]
	if t >= last.T {
		return last.CX, last.CY
	}
	i := sort.Search(len(s), func(i int) bool { return s[i].T >= t })
	a, b := s[i-1], s[i]
	span := b.T - a.T
	if span <= 0 {
		return b.CX, b.CY
	}
	frac := (t - a.T) / span
	return a.CX + (b.CX-a.CX)*frac, a.CY + (b.CY-a.CY)*frac
}

// SamplesInRange returns the samples with t inside [start, end].
func (p *Path) SamplesInRange(start, end float64) []Sample {
	var out []Sample
	for _, s := range p.Samples {
		if s.T >= start && s.T <= end {
			out = append(out, s)
		}
	}
	return out
}

// Builder constructs camera paths. Face is consulted first, Pose when the
// face detector finds nothing; both nil means a constant centered path.
type Builder struct {
	SampleFPS     float64
	Smoothing     float64 // EMA weight on the previous center
	MaxStepPx     float64
	CenterBiasY   float64 // vertical bias during tracking loss
	FallbackBiasY float64 // vertical bias with no detector at all
	FrameTimeout  time.Duration
	TmpDir        string

	Face Detector
	Pose Detector
}

// NewBuilder wires a builder from worker configuration.
func NewBuilder(conf config.Config) *Builder {
	b := &Builder{
		SampleFPS:     conf.ReframeSampleFPS,
		Smoothing:     conf.ReframeSmoothing,
		MaxStepPx:     conf.ReframeMaxStepPx,
		CenterBiasY:   conf.ReframeCenterBiasY,
		FallbackBiasY: conf.FallbackBiasY,
		FrameTimeout:  time.Duration(conf.FFmpegTimeout) * time.Second,
		TmpDir:        conf.TmpDir,
	}
	if d := NewCommandDetector(conf.FaceDetectorCmd); d != nil {
		b.Face = d
	}
	if d := NewCommandDetector(conf.PoseDetectorCmd); d != nil {
		b.Pose = d
	}
	return b
}

// Build produces the camera path for a source video. Detector failures on
// individual frames degrade to the biased center; they never fail the job.
func (b *Builder) Build(ctx context.Context, srcPath string, probe *ffmpeg.ProbeResult, targetW, targetH int) (*Path, error) {
	srcW := float64(probe.Width)
	srcH := float64(probe.Height)
	cropW, cropH := CropWindow(srcW, srcH, float64(targetW), float64(targetH))

	path := &Path{SrcW: srcW, SrcH: srcH, CropW: cropW, CropH: cropH}

	if b.Face == nil && b.Pose == nil {
		return b.centerPath(path), nil
	}

	frameDir, err := os.MkdirTemp(b.TmpDir, "frames-*")
	if err != nil {
		return nil, fmt.Errorf("reframe: frame dir: %w", err)
	}
	defer os.RemoveAll(frameDir)

	frames, err := b.sampleFrames(ctx, srcPath, frameDir)
	if err != nil {
		slog.Warn("Frame sampling failed, using centered path", "error", err)
		return b.centerPath(path), nil
	}
	if len(frames) == 0 {
		return b.centerPath(path), nil
	}

	lastX := srcW / 2
	lastY := srcH * b.FallbackBiasY
	mode := "center"

	for i, frame := range frames {
		t := float64(i) / b.SampleFPS

		var cx, cy float64
		boxes := b.detect(ctx, frame)
		if box, ok := largestBox(boxes); ok {
			cx, cy = box.Center()
			if mode == "center" {
				mode = "face"
			}
		} else {
			// Bias to upper-middle during tracking loss
			cx = srcW / 2
			cy = srcH * b.CenterBiasY
		}

		cx = limitStep(lastX, cx, b.MaxStepPx)
		cy = limitStep(lastY, cy, b.MaxStepPx)

		cx = b.Smoothing*lastX + (1-b.Smoothing)*cx
		cy = b.Smoothing*lastY + (1-b.Smoothing)*cy

		cx, cy = ClampCenter(cx, cy, cropW, cropH, srcW, srcH)

		path.Samples = append(path.Samples, Sample{T: t, CX: cx, CY: cy})
		lastX, lastY = cx, cy
	}

	path.Mode = mode
	return path, nil
}

func (b *Builder) detect(ctx context.Context, frame string) []Box {
	if b.Face != nil {
		boxes, err := b.Face.Detect(ctx, frame)
		if err != nil {
			slog.Warn("Face detector error", "frame", filepath.Base(frame), "error", err)
		} else if len(boxes) > 0 {
			return boxes
		}
	}
	if b.Pose != nil {
		boxes, err := b.Pose.Detect(ctx, frame)
		if err != nil {
			slog.Warn("Pose detector error", "frame", filepath.Base(frame), "error", err)
		} else {
			return boxes
		}
	}
	return nil
}

// sampleFrames extracts stills at SampleFPS into dir and returns them in
// time order.
func (b *Builder) sampleFrames(ctx context.Context, srcPath, dir string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.FrameTimeout)
	defer cancel()

	pattern := filepath.Join(dir, "frame_%06d.jpg")
	err := ffmpeg.Run(ctx, srcPath, pattern,
		ffmpeg.FPS(b.SampleFPS),
		ffmpeg.Quality(2),
	)
	if err != nil {
		return nil, err
	}

	frames, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(frames)
	return frames, nil
}

// centerPath returns a stable two-sample path at the fallback bias, enough
// for downstream margin calculations.
func (b *Builder) centerPath(path *Path) *Path {
	cx := path.SrcW / 2
	cy := path.SrcH * b.FallbackBiasY
	cx, cy = ClampCenter(cx, cy, path.CropW, path.CropH, path.SrcW, path.SrcH)

	path.Samples = []Sample{
		{T: 0, CX: cx, CY: cy},
		{T: 0.5, CX: cx, CY: cy},
	}
	path.Mode = "center"
	return path
}
