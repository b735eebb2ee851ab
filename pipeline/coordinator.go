package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"

	"github.com/reelhouse/reelhouse-api/chunks"
	"github.com/reelhouse/reelhouse-api/clients"
	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/hls"
	"github.com/reelhouse/reelhouse-api/log"
	"github.com/reelhouse/reelhouse-api/progress"
	"github.com/reelhouse/reelhouse-api/store"
	"github.com/reelhouse/reelhouse-api/transcode"
	"github.com/reelhouse/reelhouse-api/video"
)

type objectStore interface {
	PutFile(ctx context.Context, localPath, key, contentType, cacheControl string, onProgress func(int)) (clients.PutResult, error)
	PutDirectory(ctx context.Context, dir, keyPrefix string, onProgress func(int)) error
	DeletePrefix(ctx context.Context, prefix string) error
	URLFor(key string) string
}

type metadataStore interface {
	InsertVideo(ctx context.Context, v *store.Video) error
	VideosByOwner(ctx context.Context, ownerRef string) ([]store.Video, error)
	SetJobProgress(ctx context.Context, id string, progress int) error
}

type masterRebuilder interface {
	Rebuild(ctx context.Context, owner store.Owner) (string, error)
}

type ladderRunner interface {
	RunLadder(ctx context.Context, req transcode.Request) error
}

// Coordinator runs one processing job end to end: reassemble the chunked
// upload, probe it, transcode the ladder, publish every artifact, then scrub
// local scratch whatever the outcome.
type Coordinator struct {
	Chunks    *chunks.Store
	Objects   objectStore
	Metadata  metadataStore
	Publisher masterRebuilder
	Prober    video.Prober
	Engine    ladderRunner
	Bus       *progress.Bus
	Ladder    video.Ladder
}

// Run is the queue's RunFunc. The error it returns decides the job's
// terminal status.
func (c *Coordinator) Run(ctx context.Context, job *store.Job) error {
	baseName := chunks.BaseName(job.FileName)
	defer c.cleanupScratch(job.ID, job.FileName)

	sourcePath, sourceSize, err := c.Chunks.Combine(job.FileName)
	if err != nil {
		return errors.Unretriable(err)
	}
	log.Log(job.ID, "chunks combined", "path", sourcePath, "bytes", sourceSize)

	info, err := c.Prober.Probe(ctx, sourcePath)
	if err != nil {
		return errors.Unretriable(err)
	}
	log.Log(job.ID, "source probed",
		"duration_sec", info.DurationSec, "width", info.Width, "height", info.Height,
		"video_codec", info.VideoCodec, "audio_codec", info.AudioCodec)

	if job.Type == store.JobTypeTrailer {
		return c.runTrailer(ctx, job, baseName, sourcePath, info)
	}
	return c.runLadder(ctx, job, baseName, sourcePath, info)
}

func (c *Coordinator) runLadder(ctx context.Context, job *store.Job, baseName, sourcePath string, info video.SourceInfo) error {
	ladder := c.Ladder
	if ladder == nil {
		ladder = video.DefaultLadder
	}
	ladder = ladder.ForSource(info.Height)
	prefix := job.Owner.Prefix()

	totalRungs := len(ladder)
	completedRungs := 0

	req := transcode.Request{
		JobID:      job.ID,
		ClientID:   job.ClientID,
		SourcePath: sourcePath,
		WorkDir:    c.Chunks.Root,
		BaseName:   baseName,
		Source:     info,
		Ladder:     ladder,
		PreTranscode: func(l video.Ladder) video.Ladder {
			existing, err := c.existingRungs(ctx, job.Owner)
			if err != nil {
				log.Log(job.ID, "failed to load existing rungs, transcoding full ladder", "err", err)
				return l
			}
			filtered := l.Without(existing)
			completedRungs = totalRungs - len(filtered)
			if completedRungs > 0 {
				log.Log(job.ID, "resuming ladder", "skipped_rungs", completedRungs)
			}
			return filtered
		},
		OnRungComplete: func(rung video.Rung, outputs transcode.LocalOutputs) error {
			if err := c.publishRung(ctx, job, prefix, baseName, rung, outputs, info); err != nil {
				return err
			}
			completedRungs++
			pct := completedRungs * 100 / totalRungs
			if err := c.Metadata.SetJobProgress(ctx, job.ID, pct); err != nil {
				log.Log(job.ID, "failed to persist job progress", "err", err)
			}
			return nil
		},
	}
	return c.Engine.RunLadder(ctx, req)
}

// publishRung uploads one finished rung and records it: MP4, then the variant
// playlist directory, then the metadata row, then the master rewrite. The row
// is only inserted once both uploads succeeded, so a crash in between leaves
// orphan objects but never a dangling record.
func (c *Coordinator) publishRung(ctx context.Context, job *store.Job, prefix, baseName string, rung video.Rung, outputs transcode.LocalOutputs, info video.SourceInfo) error {
	if ctx.Err() != nil {
		return errors.ErrCancelled
	}
	mp4Key := hls.RungMP4Key(prefix, rung.Label, baseName)
	uploadEmit := c.Bus.Emitter(job.ClientID, progress.Content{Type: progress.ContentUpload, Resolution: rung.Label})

	mp4Info, err := os.Stat(outputs.MP4Path)
	if err != nil {
		return fmt.Errorf("failed to stat rung output: %w", err)
	}

	var result clients.PutResult
	err = withRetries(ctx, func() error {
		var putErr error
		result, putErr = c.Objects.PutFile(ctx, outputs.MP4Path, mp4Key,
			clients.ContentTypeFor(mp4Key), clients.CacheControlFor(mp4Key), uploadEmit)
		return putErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return errors.ErrCancelled
		}
		return &errors.UploadFailureError{Key: mp4Key, Err: err}
	}

	variantPrefix := hls.VariantDirKey(prefix, rung.Label, baseName)
	err = withRetries(ctx, func() error {
		return c.Objects.PutDirectory(ctx, outputs.VariantDir, variantPrefix, nil)
	})
	if err != nil {
		c.scrubPrefix(job.ID, variantPrefix)
		if ctx.Err() != nil {
			return errors.ErrCancelled
		}
		return &errors.UploadFailureError{Key: variantPrefix, Err: err}
	}

	row := &store.Video{
		Name:           mp4Key,
		URL:            result.URL,
		Format:         clients.ContentTypeFor(mp4Key),
		Resolution:     rung.Label,
		Encoding:       "h264/aac",
		Size:           humanize.Bytes(uint64(mp4Info.Size())),
		DurationSec:    info.DurationSec,
		Bitrate:        fmt.Sprintf("%d kbps", rung.VideoBitrateKbps+rung.AudioBitrateKbps),
		HLSPlaylistKey: hls.VariantPlaylistKey(prefix, rung.Label, baseName),
		Owner:          job.Owner,
	}
	if err := c.Metadata.InsertVideo(ctx, row); err != nil {
		return fmt.Errorf("error saving rung record: %w", err)
	}

	if _, err := c.Publisher.Rebuild(ctx, job.Owner); err != nil {
		return fmt.Errorf("error rebuilding master playlist: %w", err)
	}
	log.Log(job.ID, "rung published", "resolution", rung.Label, "key", mp4Key)
	return nil
}

// runTrailer skips the ladder: one multipart MP4 upload plus its record.
func (c *Coordinator) runTrailer(ctx context.Context, job *store.Job, baseName, sourcePath string, info video.SourceInfo) error {
	prefix := job.Owner.Prefix()
	key := fmt.Sprintf("%s/trailer_%s.mp4", prefix, baseName)
	emit := c.Bus.Emitter(job.ClientID, progress.Content{Type: progress.ContentTrailer})

	srcInfo, err := os.Stat(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to stat trailer source: %w", err)
	}

	var result clients.PutResult
	err = withRetries(ctx, func() error {
		var putErr error
		result, putErr = c.Objects.PutFile(ctx, sourcePath, key,
			clients.ContentTypeFor(key), clients.CacheControlFor(key), emit)
		return putErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return errors.ErrCancelled
		}
		return &errors.UploadFailureError{Key: key, Err: err}
	}

	row := &store.Video{
		Name:        key,
		URL:         result.URL,
		Format:      clients.ContentTypeFor(key),
		Resolution:  trailerResolution(info.Height),
		Encoding:    info.VideoCodec,
		Size:        humanize.Bytes(uint64(srcInfo.Size())),
		DurationSec: info.DurationSec,
		Bitrate:     fmt.Sprintf("%d kbps", info.BitrateBps/1000),
		IsTrailer:   true,
		Owner:       job.Owner,
	}
	if err := c.Metadata.InsertVideo(ctx, row); err != nil {
		return fmt.Errorf("error saving trailer record: %w", err)
	}
	if err := c.Metadata.SetJobProgress(ctx, job.ID, 100); err != nil {
		log.Log(job.ID, "failed to persist job progress", "err", err)
	}
	log.Log(job.ID, "trailer published", "key", key)
	return nil
}

func (c *Coordinator) existingRungs(ctx context.Context, owner store.Owner) (map[string]bool, error) {
	videos, err := c.Metadata.VideosByOwner(ctx, owner.Ref())
	if err != nil {
		return nil, err
	}
	existing := map[string]bool{}
	for _, v := range videos {
		if !v.IsTrailer {
			existing[v.Resolution] = true
		}
	}
	return existing, nil
}

// trailerResolution labels the trailer row by its source height.
func trailerResolution(height int64) string {
	label := video.ResolutionSD
	for _, r := range video.DefaultLadder {
		if r.TargetHeight <= height {
			label = r.Label
		}
	}
	return label
}

// scrubPrefix removes a partially uploaded variant folder so a retry starts
// from a clean prefix. Runs on its own deadline: the job's context may
// already be dead.
func (c *Coordinator) scrubPrefix(jobID, prefix string) {
	scrubCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := c.Objects.DeletePrefix(scrubCtx, prefix); err != nil {
		log.Log(jobID, "failed to scrub partial variant upload", "prefix", prefix, "err", err)
	}
}

// withRetries allows 3 attempts total and stops as soon as ctx is cancelled.
func withRetries(ctx context.Context, operation func() error) error {
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = time.Second
	backOff.MaxInterval = 10 * time.Second
	backOff.MaxElapsedTime = 0
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backOff, 2), ctx))
}
