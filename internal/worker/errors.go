// Package worker runs the clip production loop: claim a queued job, walk
// it through the pipeline stages, and persist the results.
package worker

import (
	"context"
	"errors"
	"fmt"

	"thirdcoast.systems/clipforge/internal/db"
	"thirdcoast.systems/clipforge/internal/storage"
	"thirdcoast.systems/clipforge/pkg/ffmpeg"
)

// Kind classifies a job failure for logging and triage.
type Kind int

const (
	KindUnknown Kind = iota
	KindCorruptMedia
	KindStorageUnavailable
	KindTranscribeFailed
	KindInsufficientCredits
	KindEncodeFailed
	KindTimeout
	KindDBFailure
	KindConfigError
)

func (k Kind) String() string {
	switch k {
	case KindCorruptMedia:
		return "corrupt_media"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindTranscribeFailed:
		return "transcribe_failed"
	case KindInsufficientCredits:
		return "insufficient_credits"
	case KindEncodeFailed:
		return "encode_failed"
	case KindTimeout:
		return "timeout"
	case KindDBFailure:
		return "db_failure"
	case KindConfigError:
		return "config_error"
	default:
		return "unknown"
	}
}

// StageError wraps a pipeline failure with the stage it happened in.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, kind Kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// kindOr returns the fallback kind unless the error is a deadline blowout,
// which always classifies as Timeout.
func kindOr(err error, fallback Kind) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return fallback
}

// ClassifyError maps an arbitrary pipeline error onto the failure taxonomy.
// An explicit StageError kind wins; otherwise the wrapped cause decides.
func ClassifyError(err error) Kind {
	var se *StageError
	if errors.As(err, &se) && se.Kind != KindUnknown {
		return se.Kind
	}

	var ice *db.InsufficientCreditsError
	switch {
	case errors.As(err, &ice):
		return KindInsufficientCredits
	case errors.Is(err, ffmpeg.ErrCorruptMedia):
		return KindCorruptMedia
	case errors.Is(err, storage.ErrNotFound):
		return KindStorageUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindUnknown
}
