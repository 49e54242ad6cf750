package render

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"thirdcoast.systems/clipforge/internal/captions"
	"thirdcoast.systems/clipforge/internal/config"
	"thirdcoast.systems/clipforge/internal/reframe"
	"thirdcoast.systems/clipforge/internal/segment"
	"thirdcoast.systems/clipforge/internal/transcribe"
	"thirdcoast.systems/clipforge/pkg/ffmpeg"
)

const (
	videoProfile = "high"
	pixelFormat  = "yuv420p"
	audioBitrate = "128k"

	// Vertical speaker bias when no camera samples cover the clip.
	fallbackBiasY = 0.62

	// Rendered output may drift from the plan by this much before we log.
	durationTolerance = 2.0
)

// Renderer encodes clip plans to MP4.
type Renderer struct {
	CRF          int
	Preset       string
	FPS          int
	Timeout      time.Duration
	ProbeTimeout time.Duration
	TmpDir       string

	Captions  captions.Params
	Watermark Watermark
}

// NewRenderer builds a renderer from worker configuration.
func NewRenderer(conf config.Config) *Renderer {
	return &Renderer{
		CRF:          conf.RenderCRF,
		Preset:       conf.RenderPreset,
		FPS:          conf.RenderFPS,
		Timeout:      time.Duration(conf.RenderTimeout) * time.Second,
		ProbeTimeout: time.Duration(conf.ProbeTimeout) * time.Second,
		TmpDir:       conf.TmpDir,
		Captions:     captions.ParamsFromConfig(conf),
		Watermark:    WatermarkFromConfig(conf),
	}
}

// Request describes one clip to encode.
type Request struct {
	JobID      int64
	SourcePath string
	Plan       segment.Plan
	SrcW, SrcH int
	Aspect     string

	Camera *reframe.Path
	Words  []transcribe.Word

	CaptionsEnabled  bool
	CaptionStyle     captions.Style
	WatermarkEnabled bool
}

// Result is the rendered artifact. The caller owns Path and removes it
// after upload.
type Result struct {
	Path     string
	Duration float64
	OutW     int
	OutH     int
}

// Render encodes one clip: animated crop, scale, fps, optional subtitles and
// watermark, libx264 + AAC. An empty output file is an error.
func (r *Renderer) Render(ctx context.Context, req Request) (*Result, error) {
	if req.Plan.End <= req.Plan.Start {
		return nil, fmt.Errorf("render: invalid clip timing %.3f-%.3f", req.Plan.Start, req.Plan.End)
	}
	clipDur := req.Plan.End - req.Plan.Start

	outW, outH := AspectTarget(req.Aspect)
	cropW, cropH := CropSize(req.SrcW, req.SrcH, outW, outH)

	fallbackX := float64(req.SrcW) / 2
	fallbackY := float64(req.SrcH) * fallbackBiasY
	cx0, cy0, cx1, cy1 := ClipCenters(req.Camera, req.Plan.Start, req.Plan.End, fallbackX, fallbackY)
	xExpr, yExpr := PanExpressions(req.SrcW, req.SrcH, cropW, cropH, clipDur, cx0, cy0, cx1, cy1)

	opts := []ffmpeg.Option{
		ffmpeg.SeekTo(secondsToDuration(req.Plan.Start), secondsToDuration(req.Plan.End)),
		ffmpeg.CropExpr(cropW, cropH, xExpr, yExpr),
		ffmpeg.Scale(outW, outH),
		ffmpeg.FPS(float64(r.FPS)),
	}

	var assPath string
	if req.CaptionsEnabled {
		doc := r.Captions.Build(req.Words, req.Plan.Start, req.Plan.End, outW, outH, req.Camera, req.CaptionStyle)
		f, err := os.CreateTemp(r.TmpDir, "subs-*.ass")
		if err != nil {
			return nil, fmt.Errorf("render: subtitle file: %w", err)
		}
		assPath = f.Name()
		defer os.Remove(assPath)

		if _, err := f.WriteString(doc); err != nil {
			f.Close()
			return nil, fmt.Errorf("render: write subtitles: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("render: write subtitles: %w", err)
		}
		opts = append(opts, ffmpeg.Subtitles(assPath))
	}

	if req.WatermarkEnabled {
		opts = append(opts, ffmpeg.Filter(r.Watermark.Filter(outW, outH)))
	}

	opts = append(opts,
		ffmpeg.VideoCodec("libx264"),
		ffmpeg.VideoProfile(videoProfile),
		ffmpeg.PixelFormat(pixelFormat),
		ffmpeg.Preset(r.Preset),
		ffmpeg.CRF(r.CRF),
		ffmpeg.AudioCodec("aac"),
		ffmpeg.AudioBitrate(audioBitrate),
	)

	outPath := fmt.Sprintf("%s/clip-%s.mp4", r.TmpDir, uuid.NewString())

	slog.Info("Rendering clip",
		"job_id", req.JobID,
		"range", fmt.Sprintf("%.2f-%.2fs", req.Plan.Start, req.Plan.End),
		"output", fmt.Sprintf("%dx%d", outW, outH),
	)

	renderCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	progress := make(chan ffmpeg.Progress, 100)
	go func() {
		lastPct := -1
		lastLog := time.Now()
		for p := range progress {
			pct := progressPercent(p.OutTimeSeconds(), clipDur)
			if pct != lastPct && time.Since(lastLog) >= time.Second {
				slog.Info("Encoding clip",
					"job_id", req.JobID,
					"percent", pct,
					"fps", p.FPS,
					"speed", p.Speed,
				)
				lastPct = pct
				lastLog = time.Now()
			}
		}
	}()

	if err := ffmpeg.RunWithProgress(renderCtx, req.SourcePath, outPath, progress, opts...); err != nil {
		os.Remove(outPath)
		if renderCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("render: timed out after %s (%v): %w", r.Timeout, err, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("render: %w", err)
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		os.Remove(outPath)
		return nil, fmt.Errorf("render: produced empty output file")
	}

	if err := r.validateOutput(ctx, outPath, clipDur, req.JobID); err != nil {
		os.Remove(outPath)
		return nil, err
	}

	slog.Info("Rendered clip",
		"job_id", req.JobID,
		"size", humanize.Bytes(uint64(info.Size())),
		"path", outPath,
	)

	return &Result{Path: outPath, Duration: clipDur, OutW: outW, OutH: outH}, nil
}

// validateOutput probes the rendered file and checks its duration against
// the plan. Drift within tolerance only logs.
func (r *Renderer) validateOutput(ctx context.Context, path string, wantDur float64, jobID int64) error {
	probeCtx, cancel := context.WithTimeout(ctx, r.ProbeTimeout)
	defer cancel()

	probe, err := ffmpeg.Probe(probeCtx, path)
	if err != nil {
		return fmt.Errorf("render: output unreadable: %w", err)
	}
	if drift := math.Abs(probe.Duration - wantDur); drift > durationTolerance {
		slog.Warn("Rendered duration drifts from plan",
			"job_id", jobID, "want", wantDur, "got", probe.Duration)
	}
	return nil
}

// progressPercent converts an encode timestamp into a whole percentage of
// the clip, capped at 99 until the encoder actually finishes.
func progressPercent(outTime, clipDur float64) int {
	if clipDur <= 0 {
		return 0
	}
	pct := int(outTime / clipDur * 100)
	if pct < 0 {
		return 0
	}
	if pct > 99 {
		return 99
	}
	return pct
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
