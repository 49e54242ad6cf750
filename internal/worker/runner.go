package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"thirdcoast.systems/clipforge/internal/config"
	"thirdcoast.systems/clipforge/internal/db"
	"thirdcoast.systems/clipforge/internal/reframe"
	"thirdcoast.systems/clipforge/internal/render"
	"thirdcoast.systems/clipforge/internal/segment"
	"thirdcoast.systems/clipforge/internal/storage"
	"thirdcoast.systems/clipforge/internal/transcribe"
)

// reclaimEvery bounds how often the stale-job sweep runs.
const reclaimEvery = 30 * time.Second

// Store is the persistence surface the worker drives.
type Store interface {
	ClaimNext(ctx context.Context) (int64, bool, error)
	Heartbeat(ctx context.Context, jobID int64) error
	SetStatus(ctx context.Context, jobID int64, status, errMsg string) error
	SetStage(ctx context.Context, jobID int64, stage string) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
	GetJobForRun(ctx context.Context, jobID int64) (*db.JobRun, error)

	GetUserBilling(ctx context.Context, userID int64) (db.Billing, error)
	ChargeCredits(ctx context.Context, userID int64, amount int) error
	RefundCredits(ctx context.Context, userID int64, amount int, jobID int64)

	DeleteClipsForJob(ctx context.Context, jobID int64) error
	InsertClip(ctx context.Context, c db.Clip) (int64, error)
}

// Worker claims jobs and runs them through the pipeline one at a time.
type Worker struct {
	Conf  config.Config
	Store Store
	Blobs storage.Storage

	Transcriber transcribe.Transcriber
	Camera      *reframe.Builder
	Renderer    *render.Renderer
	Segmenter   segment.Params
	Titles      TitleGenerator // optional; nil keeps heuristic titles

	// Wake is nudged by LISTEN/NOTIFY; the poll interval is the floor.
	Wake <-chan struct{}

	lastReclaim time.Time
}

// New wires a worker from configuration and its external dependencies.
func New(conf config.Config, store Store, blobs storage.Storage) *Worker {
	return &Worker{
		Conf:        conf,
		Store:       store,
		Blobs:       blobs,
		Transcriber: transcribe.NewWhisperCLI(conf),
		Camera:      reframe.NewBuilder(conf),
		Renderer:    render.NewRenderer(conf),
		Segmenter:   segment.ParamsFromConfig(conf),
	}
}

// Run is the main loop: reclaim stale work, claim the next queued job, and
// process it with a live heartbeat. Returns when ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("Worker starting", "name", w.Conf.WorkerName)

	// Recover jobs orphaned by a previous instance before taking new work.
	w.reclaimStale(ctx)

	for {
		if ctx.Err() != nil {
			slog.Info("Worker stopping")
			return
		}

		if time.Since(w.lastReclaim) > reclaimEvery {
			w.reclaimStale(ctx)
		}

		jobID, ok, err := w.Store.ClaimNext(ctx)
		if err != nil {
			slog.Error("Claim failed", "error", err)
			w.waitForWork(ctx)
			continue
		}
		if !ok {
			w.waitForWork(ctx)
			continue
		}

		slog.Info("Job claimed", "job_id", jobID)
		w.runClaimed(ctx, jobID)
	}
}

// runClaimed processes one claimed job with a heartbeat goroutine keeping
// its updated_at fresh. This is the single place a pipeline failure is
// turned into a failed status row.
func (w *Worker) runClaimed(ctx context.Context, jobID int64) {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeatLoop(ctx, jobID, stop)
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	start := time.Now()
	if err := w.processJob(ctx, jobID); err != nil {
		kind := ClassifyError(err)
		slog.Error("Job failed",
			"job_id", jobID, "kind", kind.String(), "elapsed", time.Since(start), "error", err)

		// Status writes must survive the cancellation that may have
		// failed the job.
		failCtx := context.WithoutCancel(ctx)
		if dbErr := w.Store.SetStatus(failCtx, jobID, "failed", err.Error()); dbErr != nil {
			slog.Error("Could not mark job failed", "job_id", jobID, "error", dbErr)
		}
		return
	}

	slog.Info("Job done", "job_id", jobID, "elapsed", time.Since(start))
}

// heartbeatLoop bumps updated_at until stop closes. Failures log and keep
// going; a missed beat only matters if it persists past the stale cutoff.
func (w *Worker) heartbeatLoop(ctx context.Context, jobID int64, stop <-chan struct{}) {
	ticker := time.NewTicker(w.Conf.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Store.Heartbeat(ctx, jobID); err != nil {
				slog.Warn("Heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// waitForWork blocks until a notification, the poll interval, or shutdown.
func (w *Worker) waitForWork(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-w.Wake:
	case <-time.After(w.Conf.PollInterval()):
	}
}

func (w *Worker) reclaimStale(ctx context.Context) {
	w.lastReclaim = time.Now()

	cutoff := time.Duration(w.Conf.StaleJobSeconds) * time.Second
	n, err := w.Store.ReclaimStale(ctx, cutoff)
	if err != nil {
		slog.Error("Stale reclaim failed (best-effort)", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Reclaimed stale jobs", "count", n)
	}
}
