package db

import (
	"context"
	"fmt"
	"log/slog"
)

// Clip is one persisted output row.
type Clip struct {
	UploadID   int64
	JobID      int64
	StorageKey string
	StartTime  float64
	EndTime    float64
	Duration   float64
	Title      string
}

// DeleteClipsForJob clears earlier outputs before a re-run persists fresh
// ones. A failure here must stop the re-run, or stale rows from the prior
// attempt survive next to the new ones.
func (db *DatabaseConnection) DeleteClipsForJob(ctx context.Context, jobID int64) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM clips WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete clips for job %d: %w", jobID, err)
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Info("Deleted existing clips for re-run", "job_id", jobID, "count", n)
	}
	return nil
}

// InsertClip persists one rendered clip's metadata.
func (db *DatabaseConnection) InsertClip(ctx context.Context, c Clip) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO clips (upload_id, job_id, storage_key, start_time, end_time, duration, title)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		c.UploadID, c.JobID, c.StorageKey, c.StartTime, c.EndTime, c.Duration, c.Title,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert clip for job %d: %w", c.JobID, err)
	}
	return id, nil
}
