package transcode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/progress"
	"github.com/reelhouse/reelhouse-api/video"
)

func testEngine(t *testing.T) (*Engine, Request) {
	t.Helper()
	e := NewEngine(progress.NewBus(), 1, 6)
	req := Request{
		JobID:      "job-1",
		ClientID:   "client-1",
		SourcePath: "/tmp/source.mp4",
		WorkDir:    t.TempDir(),
		BaseName:   "movie",
		Source:     video.SourceInfo{DurationSec: 90, Width: 1920, Height: 1080},
		Ladder:     video.DefaultLadder.ForSource(1080),
	}
	return e, req
}

func TestRunLadderRunsRungsSequentiallyAscending(t *testing.T) {
	e, req := testEngine(t)

	var encoded, segmented, completed []string
	e.encodeFn = func(_ context.Context, _, outPath string, rung video.Rung, _ video.SourceInfo, _ func(int)) error {
		encoded = append(encoded, rung.Label)
		return os.WriteFile(outPath, []byte("mp4"), 0644)
	}
	e.segmentFn = func(_ context.Context, _, playlistPath string, _ int) error {
		segmented = append(segmented, filepath.Base(playlistPath))
		return os.WriteFile(playlistPath, []byte("#EXTM3U"), 0644)
	}
	req.OnRungComplete = func(rung video.Rung, outputs LocalOutputs) error {
		// encode and segment of this rung finished before persist runs
		require.Contains(t, encoded, rung.Label)
		require.FileExists(t, outputs.MP4Path)
		completed = append(completed, rung.Label)
		return nil
	}

	require.NoError(t, e.RunLadder(context.Background(), req))
	require.Equal(t, []string{"SD", "HD", "FHD"}, encoded)
	require.Equal(t, []string{"SD_movie.m3u8", "HD_movie.m3u8", "FHD_movie.m3u8"}, segmented)
	require.Equal(t, []string{"SD", "HD", "FHD"}, completed)
}

func TestRunLadderAppliesPreTranscodeFilter(t *testing.T) {
	e, req := testEngine(t)

	var encoded []string
	e.encodeFn = func(_ context.Context, _, outPath string, rung video.Rung, _ video.SourceInfo, _ func(int)) error {
		encoded = append(encoded, rung.Label)
		return os.WriteFile(outPath, nil, 0644)
	}
	e.segmentFn = func(context.Context, string, string, int) error { return nil }
	req.PreTranscode = func(l video.Ladder) video.Ladder {
		return l.Without(map[string]bool{video.ResolutionSD: true})
	}

	require.NoError(t, e.RunLadder(context.Background(), req))
	require.Equal(t, []string{"HD", "FHD"}, encoded)
}

func TestRunLadderAbortsRemainingRungsOnFailure(t *testing.T) {
	e, req := testEngine(t)

	var encoded []string
	e.encodeFn = func(_ context.Context, _, outPath string, rung video.Rung, _ video.SourceInfo, _ func(int)) error {
		encoded = append(encoded, rung.Label)
		if rung.Label == video.ResolutionHD {
			return os.ErrInvalid
		}
		return os.WriteFile(outPath, nil, 0644)
	}
	e.segmentFn = func(context.Context, string, string, int) error { return nil }
	var completed []string
	req.OnRungComplete = func(rung video.Rung, _ LocalOutputs) error {
		completed = append(completed, rung.Label)
		return nil
	}

	err := e.RunLadder(context.Background(), req)
	var tf *errors.TranscodeFailureError
	require.ErrorAs(t, err, &tf)
	require.Equal(t, video.ResolutionHD, tf.Resolution)
	require.Equal(t, StageEncode, tf.Stage)
	// SD persisted, FHD never attempted
	require.Equal(t, []string{"SD"}, completed)
	require.Equal(t, []string{"SD", "HD"}, encoded)
}

func TestRunLadderCancellationRemovesPartialOutputs(t *testing.T) {
	e, req := testEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	var cancelledRung LocalOutputs
	e.encodeFn = func(_ context.Context, _, outPath string, rung video.Rung, _ video.SourceInfo, _ func(int)) error {
		if rung.Label == video.ResolutionHD {
			cancelledRung = LocalOutputs{MP4Path: outPath}
			require.NoError(t, os.WriteFile(outPath, []byte("partial"), 0644))
			cancel()
			return context.Canceled
		}
		return os.WriteFile(outPath, nil, 0644)
	}
	e.segmentFn = func(context.Context, string, string, int) error { return nil }
	var completed []string
	req.OnRungComplete = func(rung video.Rung, _ LocalOutputs) error {
		completed = append(completed, rung.Label)
		return nil
	}

	err := e.RunLadder(ctx, req)
	require.ErrorIs(t, err, errors.ErrCancelled)
	require.Equal(t, []string{"SD"}, completed, "OnRungComplete must not run for the cancelled rung")
	require.NoFileExists(t, cancelledRung.MP4Path)
}

func TestRunLadderPersistFailureIsTranscodeFailure(t *testing.T) {
	e, req := testEngine(t)

	e.encodeFn = func(_ context.Context, _, outPath string, _ video.Rung, _ video.SourceInfo, _ func(int)) error {
		return os.WriteFile(outPath, nil, 0644)
	}
	e.segmentFn = func(context.Context, string, string, int) error { return nil }
	req.OnRungComplete = func(video.Rung, LocalOutputs) error { return os.ErrPermission }

	err := e.RunLadder(context.Background(), req)
	var tf *errors.TranscodeFailureError
	require.ErrorAs(t, err, &tf)
	require.Equal(t, StagePersist, tf.Stage)
}
