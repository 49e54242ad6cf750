package worker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"thirdcoast.systems/clipforge/internal/audio"
	"thirdcoast.systems/clipforge/internal/captions"
	"thirdcoast.systems/clipforge/internal/db"
	"thirdcoast.systems/clipforge/internal/reframe"
	"thirdcoast.systems/clipforge/internal/render"
	"thirdcoast.systems/clipforge/internal/score"
	"thirdcoast.systems/clipforge/internal/segment"
	"thirdcoast.systems/clipforge/internal/transcribe"
	"thirdcoast.systems/clipforge/pkg/ffmpeg"
)

const downloadChunk = 1 << 20

// candidate is a scored clip plan with its proposed title.
type candidate struct {
	Clip  score.ScoredClip
	Title string
}

// processJob walks one claimed job through the pipeline. Any error returned
// here is turned into a failed status by the runner; credits charged along
// the way are refunded before returning.
func (w *Worker) processJob(ctx context.Context, jobID int64) (retErr error) {
	jr, err := w.Store.GetJobForRun(ctx, jobID)
	if err != nil {
		return stageErr("load", KindDBFailure, err)
	}

	billing, err := w.Store.GetUserBilling(ctx, jr.UserID)
	if err != nil {
		return stageErr("load", KindDBFailure, err)
	}

	// Watermark removal is a paid entitlement
	watermark := jr.WatermarkEnabled
	if !db.IsPaidPlan(billing.Plan) {
		watermark = true
	}

	if err := os.MkdirAll(w.Conf.TmpDir, 0o755); err != nil {
		return stageErr("download", KindConfigError, err)
	}

	if err := w.setStage(ctx, jobID, "download"); err != nil {
		return err
	}
	srcPath, err := w.downloadSource(ctx, jr)
	if err != nil {
		return err
	}
	defer os.Remove(srcPath)

	if err := w.setStage(ctx, jobID, "preflight"); err != nil {
		return err
	}
	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(w.Conf.ProbeTimeout)*time.Second)
	probe, err := ffmpeg.Probe(probeCtx, srcPath)
	cancel()
	if err != nil {
		return stageErr("preflight", KindCorruptMedia, err)
	}
	slog.Info("Source preflight",
		"job_id", jobID,
		"dims", fmt.Sprintf("%dx%d", probe.Width, probe.Height),
		"duration", fmt.Sprintf("%.1fs", probe.Duration),
		"codec", probe.VideoCodec,
	)

	if err := w.setStage(ctx, jobID, "billing"); err != nil {
		return err
	}
	required := w.requiredCredits(probe.Duration)
	if err := w.Store.ChargeCredits(ctx, jr.UserID, required); err != nil {
		var ice *db.InsufficientCreditsError
		if errors.As(err, &ice) {
			return stageErr("billing", KindInsufficientCredits, err)
		}
		return stageErr("billing", KindDBFailure, err)
	}
	slog.Info("Charged credits", "job_id", jobID, "user_id", jr.UserID, "credits", required)
	defer func() {
		if retErr != nil && required > 0 {
			w.Store.RefundCredits(context.WithoutCancel(ctx), jr.UserID, required, jobID)
		}
	}()

	if err := w.setStage(ctx, jobID, "audio"); err != nil {
		return err
	}
	wavPath := filepath.Join(w.Conf.TmpDir, fmt.Sprintf("audio-%d-%s.wav", jobID, uuid.NewString()))
	ffmpegTimeout := time.Duration(w.Conf.FFmpegTimeout) * time.Second
	if err := audio.ExtractWAV(ctx, srcPath, wavPath, ffmpegTimeout); err != nil {
		return stageErr("audio", kindOr(err, KindCorruptMedia), err)
	}
	defer os.Remove(wavPath)

	silences, err := audio.DetectSilence(ctx, wavPath, w.Conf.SilenceDB, w.Conf.SilenceMinDur, probe.Duration, ffmpegTimeout)
	if err != nil {
		return stageErr("audio", KindEncodeFailed, err)
	}
	energy, err := audio.EnergyScore(wavPath)
	if err != nil {
		return stageErr("audio", KindCorruptMedia, err)
	}
	slog.Info("Audio analyzed", "job_id", jobID, "silences", len(silences), "energy", fmt.Sprintf("%.3f", energy))

	if err := w.setStage(ctx, jobID, "transcribe"); err != nil {
		return err
	}
	transcript, err := w.Transcriber.Transcribe(ctx, wavPath)
	if err != nil {
		return stageErr("transcribe", kindOr(err, KindTranscribeFailed), err)
	}
	slog.Info("Transcribed", "job_id", jobID, "words", len(transcript.Words))

	if err := w.setStage(ctx, jobID, "segment"); err != nil {
		return err
	}
	utterances := w.Segmenter.BuildUtterances(transcript.Words)
	plans := w.Segmenter.GeneratePlans(utterances, silences, probe.Duration)
	slog.Info("Planned clips", "job_id", jobID, "utterances", len(utterances), "plans", len(plans))

	if err := w.setStage(ctx, jobID, "reframe"); err != nil {
		return err
	}
	outW, outH := render.AspectTarget(jr.AspectRatio)
	camera, err := w.Camera.Build(ctx, srcPath, probe, outW, outH)
	if err != nil {
		return stageErr("reframe", KindEncodeFailed, err)
	}
	slog.Info("Camera path built", "job_id", jobID, "mode", camera.Mode, "samples", len(camera.Samples))

	if err := w.setStage(ctx, jobID, "score"); err != nil {
		return err
	}
	selected := w.scoreAndSelect(ctx, plans, transcript.Words, silences, energy, camera)
	if len(selected) == 0 {
		return stageErr("score", KindUnknown, errors.New("no clips selected after scoring"))
	}

	if err := w.setStage(ctx, jobID, "render"); err != nil {
		return err
	}
	style := captions.ResolveStyle(captions.DefaultStyle(w.Conf), jr.CaptionStyleJSON)
	persisted, err := w.renderAndPersist(ctx, jr, srcPath, probe, selected, camera, transcript.Words, style, watermark)
	if err != nil {
		return err
	}

	if err := w.Store.SetStatus(ctx, jobID, "done", ""); err != nil {
		return stageErr("done", KindDBFailure, err)
	}
	slog.Info("Persisted clips", "job_id", jobID, "count", persisted)
	return nil
}

func (w *Worker) setStage(ctx context.Context, jobID int64, stage string) error {
	if err := w.Store.SetStage(ctx, jobID, stage); err != nil {
		return stageErr(stage, KindDBFailure, err)
	}
	return nil
}

// downloadSource streams the upload into scratch space, refusing sources
// past the configured byte cap. An empty object is an error.
func (w *Worker) downloadSource(ctx context.Context, jr *db.JobRun) (string, error) {
	r, err := w.Blobs.Open(ctx, jr.SourceStorageKey)
	if err != nil {
		return "", stageErr("download", KindStorageUnavailable, err)
	}
	defer r.Close()

	ext := filepath.Ext(jr.OriginalFilename)
	if ext == "" {
		ext = filepath.Ext(jr.SourceStorageKey)
	}
	dst := filepath.Join(w.Conf.TmpDir, fmt.Sprintf("source-%d-%s%s", jr.JobID, uuid.NewString(), ext))

	f, err := os.Create(dst)
	if err != nil {
		return "", stageErr("download", KindUnknown, fmt.Errorf("scratch file: %w", err))
	}

	var total int64
	for {
		n, copyErr := io.CopyN(f, r, downloadChunk)
		total += n
		if total > w.Conf.MaxSourceBytes {
			f.Close()
			os.Remove(dst)
			return "", stageErr("download", KindConfigError,
				fmt.Errorf("source exceeds %s limit", humanize.Bytes(uint64(w.Conf.MaxSourceBytes))))
		}
		if copyErr == io.EOF {
			break
		}
		if copyErr != nil {
			f.Close()
			os.Remove(dst)
			return "", stageErr("download", KindStorageUnavailable, copyErr)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return "", stageErr("download", KindUnknown, fmt.Errorf("scratch file: %w", err))
	}
	if total == 0 {
		os.Remove(dst)
		return "", stageErr("download", KindStorageUnavailable, errors.New("source object is empty"))
	}

	slog.Info("Downloaded source", "job_id", jr.JobID, "size", humanize.Bytes(uint64(total)))
	return dst, nil
}

// requiredCredits prices a job by source length, with a per-job floor.
func (w *Worker) requiredCredits(durationSeconds float64) int {
	minutes := durationSeconds / 60.0
	required := int(math.Ceil(minutes * w.Conf.CreditsPerMinute))
	if required < w.Conf.MinCreditsPerJob {
		required = w.Conf.MinCreditsPerJob
	}
	return required
}

// scoreAndSelect ranks every plan, titles it from its opening words, and
// keeps the top non-overlapping set.
func (w *Worker) scoreAndSelect(
	ctx context.Context,
	plans []segment.Plan,
	words []transcribe.Word,
	silences []audio.Interval,
	energy float64,
	camera *reframe.Path,
) []candidate {
	scored := make([]score.ScoredClip, 0, len(plans))
	for _, plan := range plans {
		motion := camera.MotionForClip(plan.Start, plan.End)
		q := score.Quality(plan, w.Conf.ClipTargetSeconds, words, silences, energy, motion)
		scored = append(scored, score.ScoredClip{Plan: plan, Quality: q})
	}

	picked := score.SelectTopK(scored, w.Conf.TopKClips)

	out := make([]candidate, 0, len(picked))
	for _, c := range picked {
		out = append(out, candidate{Clip: c, Title: w.titleFor(ctx, words, c.Plan)})
	}
	return out
}

// titleFor derives a clip title from its opening words, consulting the
// optional generator when the heuristic is unsure.
func (w *Worker) titleFor(ctx context.Context, words []transcribe.Word, plan segment.Plan) string {
	clipWords := transcribe.WordsInRange(words, plan.Start, plan.End)
	if len(clipWords) > titleSnippetSize {
		clipWords = clipWords[:titleSnippetSize]
	}
	parts := make([]string, 0, len(clipWords))
	for _, cw := range clipWords {
		parts = append(parts, cw.Text)
	}
	snippet := strings.Join(parts, " ")

	title, conf := HeuristicTitle(snippet)
	if conf < w.Conf.HookConfThreshold && w.Titles != nil {
		generated, err := w.Titles.Title(ctx, snippet)
		if err != nil {
			slog.Warn("Title generator failed, keeping heuristic", "error", err)
		} else if generated != "" {
			title = truncateTitle(strings.TrimSpace(generated), titleMaxLen)
		}
	}
	if title == "" {
		title = DefaultTitle
	}
	return title
}

// renderAndPersist encodes each selected clip, uploads it, and records the
// row. Earlier clip rows for the job are cleared first so a re-run doesn't
// double up. Local files are removed whether or not the upload succeeds.
func (w *Worker) renderAndPersist(
	ctx context.Context,
	jr *db.JobRun,
	srcPath string,
	probe *ffmpeg.ProbeResult,
	selected []candidate,
	camera *reframe.Path,
	words []transcribe.Word,
	style captions.Style,
	watermark bool,
) (int, error) {
	if err := w.Store.DeleteClipsForJob(ctx, jr.JobID); err != nil {
		return 0, stageErr("render", KindDBFailure, err)
	}

	prefix := fmt.Sprintf("users/%d/clips/%d", jr.UserID, jr.JobID)
	persisted := 0

	for i, c := range selected {
		req := render.Request{
			JobID:            jr.JobID,
			SourcePath:       srcPath,
			Plan:             c.Clip.Plan,
			SrcW:             probe.Width,
			SrcH:             probe.Height,
			Aspect:           jr.AspectRatio,
			Camera:           camera,
			Words:            words,
			CaptionsEnabled:  jr.CaptionsEnabled,
			CaptionStyle:     style,
			WatermarkEnabled: watermark,
		}

		res, err := w.Renderer.Render(ctx, req)
		if err != nil {
			return persisted, stageErr("render", kindOr(err, KindEncodeFailed), err)
		}

		u := uuid.New()
		key := fmt.Sprintf("%s/%02d_%s.mp4", prefix, i+1, hex.EncodeToString(u[:])[:10])
		uploadErr := w.Blobs.SaveFile(ctx, key, res.Path)
		os.Remove(res.Path)
		if uploadErr != nil {
			return persisted, stageErr("render", KindStorageUnavailable, uploadErr)
		}

		title := c.Title
		if title == "" {
			title = DefaultTitle
		}
		_, err = w.Store.InsertClip(ctx, db.Clip{
			UploadID:   jr.UploadID,
			JobID:      jr.JobID,
			StorageKey: key,
			StartTime:  c.Clip.Plan.Start,
			EndTime:    c.Clip.Plan.End,
			Duration:   c.Clip.Plan.Duration,
			Title:      title,
		})
		if err != nil {
			return persisted, stageErr("render", KindDBFailure, err)
		}

		persisted++
		slog.Info("Clip persisted",
			"job_id", jr.JobID, "index", i+1, "key", key,
			"range", fmt.Sprintf("%.2f-%.2fs", c.Clip.Plan.Start, c.Clip.Plan.End),
			"score", fmt.Sprintf("%.3f", c.Clip.Quality),
		)
	}

	return persisted, nil
}
