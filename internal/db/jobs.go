package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// maxErrorLen caps the error column so a giant ffmpeg stderr dump can't
// bloat the row.
const maxErrorLen = 2000

// JobRun is everything the pipeline needs to process one job, joined from
// the jobs and uploads tables.
type JobRun struct {
	JobID            int64
	UploadID         int64
	UserID           int64
	SourceStorageKey string
	OriginalFilename string
	Status           string
	AspectRatio      string
	CaptionsEnabled  bool
	WatermarkEnabled bool
	CaptionStyleJSON string
}

// ClaimNext atomically flips the oldest queued job to running and returns
// its id. The subquery plus the outer status guard makes the claim safe
// against concurrent workers. No queued job returns (0, false).
func (db *DatabaseConnection) ClaimNext(ctx context.Context) (int64, bool, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'running', updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'queued'
			ORDER BY id ASC
			LIMIT 1
		) AND status = 'queued'
		RETURNING id`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("claim next job: %w", err)
	}
	return id, true, nil
}

// Heartbeat bumps updated_at so stale reclaim leaves a live job alone.
func (db *DatabaseConnection) Heartbeat(ctx context.Context, jobID int64) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE jobs SET updated_at = now() WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("heartbeat job %d: %w", jobID, err)
	}
	return nil
}

// SetStatus updates a job's status and error text, bumping updated_at.
// Pass an empty errMsg to clear the column.
func (db *DatabaseConnection) SetStatus(ctx context.Context, jobID int64, status, errMsg string) error {
	if len(errMsg) > maxErrorLen {
		errMsg = errMsg[:maxErrorLen]
	}
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	_, err := db.Pool.Exec(ctx,
		`UPDATE jobs SET status = $2, error = $3, updated_at = now() WHERE id = $1`,
		jobID, status, errVal)
	if err != nil {
		return fmt.Errorf("set job %d status %q: %w", jobID, status, err)
	}
	return nil
}

// SetStage marks the job as running a specific pipeline stage.
func (db *DatabaseConnection) SetStage(ctx context.Context, jobID int64, stage string) error {
	return db.SetStatus(ctx, jobID, "running:"+stage, "")
}

// ReclaimStale re-queues running jobs whose heartbeat stopped. Covers both
// the bare 'running' claim state and 'running:<stage>'. A job sitting
// exactly at the cutoff is already stale. Returns the number of jobs
// recovered.
func (db *DatabaseConnection) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'queued', error = 'reclaimed', updated_at = now()
		WHERE status LIKE 'running%'
		  AND updated_at <= now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetJobForRun loads the claimed job with its upload's owner and source
// key. Null render options fall back to the defaults a fresh job would
// have.
func (db *DatabaseConnection) GetJobForRun(ctx context.Context, jobID int64) (*JobRun, error) {
	var (
		jr           JobRun
		aspect       *string
		captions     *bool
		watermark    *bool
		captionStyle *string
		filename     *string
	)
	err := db.Pool.QueryRow(ctx, `
		SELECT j.id, j.upload_id, u.user_id,
		       u.storage_key, u.original_filename,
		       j.status, j.aspect_ratio,
		       j.captions_enabled, j.watermark_enabled, j.caption_style_json
		FROM jobs j
		JOIN uploads u ON u.id = j.upload_id
		WHERE j.id = $1`, jobID).Scan(
		&jr.JobID, &jr.UploadID, &jr.UserID,
		&jr.SourceStorageKey, &filename,
		&jr.Status, &aspect,
		&captions, &watermark, &captionStyle,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %d not found", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %d: %w", jobID, err)
	}

	jr.AspectRatio = "9:16"
	if aspect != nil && *aspect != "" {
		jr.AspectRatio = *aspect
	}
	jr.CaptionsEnabled = captions == nil || *captions
	jr.WatermarkEnabled = watermark == nil || *watermark
	if captionStyle != nil {
		jr.CaptionStyleJSON = *captionStyle
	}
	if filename != nil {
		jr.OriginalFilename = *filename
	}
	return &jr, nil
}
