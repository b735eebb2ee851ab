package errors

import (
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// Error kinds surfaced by the pipeline. Every terminal job failure stores one
// of these (plus a one-line detail) as its reason.
var (
	ErrChunkMissing        = errors.New("chunk missing")
	ErrUnreadableMedia     = errors.New("unreadable media")
	ErrCancelled           = errors.New("cancelled")
	ErrBusy                = errors.New("queue full")
	ErrAlreadyFinished     = errors.New("job already finished")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

// TranscodeFailureError is returned when a ladder rung fails. Stage is one of
// "encode", "segment" or "upload" so the failure reason pinpoints the phase.
type TranscodeFailureError struct {
	Resolution string
	Stage      string
	Err        error
}

func (e *TranscodeFailureError) Error() string {
	return fmt.Sprintf("transcode failure at %s rung (%s stage): %s", e.Resolution, e.Stage, e.Err)
}

func (e *TranscodeFailureError) Unwrap() error { return e.Err }

// UploadFailureError is returned when an object-store write exhausts its retry
// budget. The rung's metadata row is never inserted in that case.
type UploadFailureError struct {
	Key string
	Err error
}

func (e *UploadFailureError) Error() string {
	return fmt.Sprintf("upload failure for key %q: %s", e.Key, e.Err)
}

func (e *UploadFailureError) Unwrap() error { return e.Err }

// ExistingJobError rejects an enqueue while a non-terminal job exists for the
// same (resource, type) pair.
type ExistingJobError struct {
	JobID  string
	Status string
}

func (e *ExistingJobError) Error() string {
	return fmt.Sprintf("a processing job already exists for this resource (id %s, status %s)", e.JobID, e.Status)
}

// Kind maps an error to the short kind string persisted in failure reasons.
func Kind(err error) string {
	var tf *TranscodeFailureError
	var uf *UploadFailureError
	var ej *ExistingJobError
	switch {
	case errors.Is(err, ErrChunkMissing):
		return "ChunkMissing"
	case errors.Is(err, ErrUnreadableMedia):
		return "UnreadableMedia"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	case errors.Is(err, ErrBusy):
		return "Busy"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.As(err, &tf):
		return "TranscodeFailure"
	case errors.As(err, &uf):
		return "UploadFailure"
	case errors.As(err, &ej):
		return "ExistingJob"
	default:
		return "Internal"
	}
}

type unretriableError struct {
	err error
}

func (e unretriableError) Error() string { return e.err.Error() }

func (e unretriableError) Unwrap() error { return backoff.Permanent(e.err) }

// Unretriable wraps an error to mark it as deterministic so the backoff
// helpers fail fast instead of retrying.
func Unretriable(err error) error {
	return unretriableError{err: err}
}

func IsUnretriable(err error) bool {
	var u unretriableError
	var p *backoff.PermanentError
	return errors.As(err, &u) || errors.As(err, &p)
}

func contentRangeUnsatisfied(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}
