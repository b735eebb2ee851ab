package transcode

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/log"
	"github.com/reelhouse/reelhouse-api/metrics"
	"github.com/reelhouse/reelhouse-api/progress"
	"github.com/reelhouse/reelhouse-api/video"
)

const (
	StageEncode  = "encode"
	StageSegment = "segment"
	StagePersist = "persist"
)

// LocalOutputs are the on-disk artifacts of one completed rung, handed to the
// caller for upload and persistence.
type LocalOutputs struct {
	MP4Path      string
	VariantDir   string
	PlaylistName string
}

// Request describes one ladder run.
type Request struct {
	JobID      string
	ClientID   string
	SourcePath string
	WorkDir    string
	BaseName   string
	Source     video.SourceInfo
	Ladder     video.Ladder
	// PreTranscode may shrink the ladder just before work starts, e.g. to
	// skip rungs that already have persisted artifacts.
	PreTranscode func(video.Ladder) video.Ladder
	// OnRungComplete uploads and persists one finished rung. An error aborts
	// the remaining rungs; already-completed rungs stay persisted.
	OnRungComplete func(video.Rung, LocalOutputs) error
}

// Engine runs transcode ladders with local ffmpeg. A single semaphore gates
// the CPU-heavy encode+segment phases across all concurrent jobs.
type Engine struct {
	bus        *progress.Bus
	sem        chan struct{}
	segmentSec int

	// replaceable for tests
	encodeFn  func(ctx context.Context, sourcePath, outPath string, rung video.Rung, source video.SourceInfo, onProgress func(int)) error
	segmentFn func(ctx context.Context, mp4Path, playlistPath string, segmentSec int) error
}

func NewEngine(bus *progress.Bus, concurrency, segmentSec int) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		bus:        bus,
		sem:        make(chan struct{}, concurrency),
		segmentSec: segmentSec,
		encodeFn:   encodeRung,
		segmentFn:  segmentRung,
	}
}

// RunLadder transcodes every rung of the request's ladder, strictly
// sequentially in ascending quality: encode, segment, then OnRungComplete.
// Context cancellation kills the in-flight subprocess, removes that rung's
// partial outputs and returns ErrCancelled.
func (e *Engine) RunLadder(ctx context.Context, req Request) error {
	ladder := req.Ladder
	if req.PreTranscode != nil {
		ladder = req.PreTranscode(ladder)
	}
	if len(ladder) == 0 {
		log.Log(req.JobID, "no rungs to transcode")
		return nil
	}

	for _, rung := range ladder {
		if err := e.runRung(ctx, req, rung); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runRung(ctx context.Context, req Request, rung video.Rung) error {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return errors.ErrCancelled
	}

	outputs := LocalOutputs{
		MP4Path:      filepath.Join(req.WorkDir, fmt.Sprintf("%s_%s.mp4", rung.Label, req.BaseName)),
		VariantDir:   filepath.Join(req.WorkDir, fmt.Sprintf("hls_%s_%s", rung.Label, req.BaseName)),
		PlaylistName: fmt.Sprintf("%s_%s.m3u8", rung.Label, req.BaseName),
	}
	err := func() error {
		defer func() { <-e.sem }()

		log.Log(req.JobID, "transcoding rung", "resolution", rung.Label, "height", rung.TargetHeight)
		start := time.Now()
		emit := e.bus.Emitter(req.ClientID, progress.Content{Type: progress.ContentTranscode, Resolution: rung.Label})
		if err := e.encodeFn(ctx, req.SourcePath, outputs.MP4Path, rung, req.Source, emit); err != nil {
			return stageError(ctx, rung, StageEncode, err)
		}
		metrics.Metrics.RungTranscodeSeconds.WithLabelValues(rung.Label).Observe(time.Since(start).Seconds())

		if err := os.MkdirAll(outputs.VariantDir, 0755); err != nil {
			return stageError(ctx, rung, StageSegment, err)
		}
		playlistPath := filepath.Join(outputs.VariantDir, outputs.PlaylistName)
		if err := e.segmentFn(ctx, outputs.MP4Path, playlistPath, e.segmentSec); err != nil {
			return stageError(ctx, rung, StageSegment, err)
		}
		return nil
	}()
	if err != nil {
		discardOutputs(req.JobID, outputs)
		return err
	}

	if req.OnRungComplete != nil {
		if err := req.OnRungComplete(rung, outputs); err != nil {
			if stderrors.Is(err, errors.ErrCancelled) {
				return err
			}
			return &errors.TranscodeFailureError{Resolution: rung.Label, Stage: StagePersist, Err: err}
		}
	}
	return nil
}

func stageError(ctx context.Context, rung video.Rung, stage string, err error) error {
	if ctx.Err() != nil || stderrors.Is(err, context.Canceled) {
		return errors.ErrCancelled
	}
	return &errors.TranscodeFailureError{Resolution: rung.Label, Stage: stage, Err: err}
}

// discardOutputs removes a failed or cancelled rung's partial artifacts so a
// retry starts clean.
func discardOutputs(jobID string, outputs LocalOutputs) {
	if err := os.Remove(outputs.MP4Path); err != nil && !os.IsNotExist(err) {
		log.Log(jobID, "failed to remove partial rung mp4", "path", outputs.MP4Path, "err", err)
	}
	if err := os.RemoveAll(outputs.VariantDir); err != nil {
		log.Log(jobID, "failed to remove partial variant dir", "path", outputs.VariantDir, "err", err)
	}
}
