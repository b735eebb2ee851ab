package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

func TestUnretriable(t *testing.T) {
	err := Unretriable(fmt.Errorf("bar"))
	require.True(t, IsUnretriable(err))
	var permErr *backoff.PermanentError
	require.True(t, errors.As(err, &permErr))
}

func TestPlainErrorsAreRetriable(t *testing.T) {
	require.False(t, IsUnretriable(fmt.Errorf("transient")))
}

func TestKindMapping(t *testing.T) {
	require.Equal(t, "ChunkMissing", Kind(fmt.Errorf("combine: %w", ErrChunkMissing)))
	require.Equal(t, "UnreadableMedia", Kind(ErrUnreadableMedia))
	require.Equal(t, "Cancelled", Kind(ErrCancelled))
	require.Equal(t, "TranscodeFailure", Kind(&TranscodeFailureError{Resolution: "HD", Stage: "encode", Err: fmt.Errorf("exit 1")}))
	require.Equal(t, "UploadFailure", Kind(&UploadFailureError{Key: "F1/HD_movie.mp4", Err: fmt.Errorf("timeout")}))
	require.Equal(t, "ExistingJob", Kind(&ExistingJobError{JobID: "j1", Status: "active"}))
	require.Equal(t, "Internal", Kind(fmt.Errorf("anything else")))
}

func TestTranscodeFailureMessageNamesStage(t *testing.T) {
	err := &TranscodeFailureError{Resolution: "FHD", Stage: "segment", Err: fmt.Errorf("boom")}
	require.Contains(t, err.Error(), "FHD")
	require.Contains(t, err.Error(), "segment")
}
