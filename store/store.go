package store

import (
	"context"
	"time"
)

// OwnerKind tags which catalog entity an artifact belongs to.
type OwnerKind string

const (
	OwnerFilm    OwnerKind = "film"
	OwnerSeason  OwnerKind = "season"
	OwnerEpisode OwnerKind = "episode"
)

// Owner is the tagged variant replacing the dynamic filmId/episodeId field
// shapes of the job records: exactly one owning id, with season+film context
// for episodes.
type Owner struct {
	Kind      OwnerKind
	FilmID    string
	SeasonID  string
	EpisodeID string
}

// Ref returns the single owning id used for uniqueness constraints.
func (o Owner) Ref() string {
	switch o.Kind {
	case OwnerEpisode:
		return o.EpisodeID
	case OwnerSeason:
		return o.SeasonID
	default:
		return o.FilmID
	}
}

// Prefix is the object-store key prefix for this owner: films store under
// {filmId}, episodes under {filmId}-{seasonId}.
func (o Owner) Prefix() string {
	if o.Kind == OwnerEpisode || o.Kind == OwnerSeason {
		return o.FilmID + "-" + o.SeasonID
	}
	return o.FilmID
}

// Video is a persisted artifact record, created on successful ladder-rung
// upload (or trailer upload).
type Video struct {
	ID             string
	Name           string // storage key
	URL            string // resolved CDN URL
	Format         string // MIME
	Resolution     string // SD | HD | FHD | UHD
	Encoding       string // codec tag
	Size           string // human readable
	DurationSec    float64
	Bitrate        string // human readable
	IsTrailer      bool
	HLSPlaylistKey string
	Owner          Owner
}

// Subtitle is a resolution-independent WebVTT track shared by every rung of
// the same owner.
type Subtitle struct {
	ID       string
	OwnerRef string
	Language string
	Label    string
	Default  bool
	Key      string
}

// Job statuses. waiting → active → (completed | failed | cancelled).
const (
	JobWaiting   = "waiting"
	JobActive    = "active"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job types.
const (
	JobTypeFilm    = "film"
	JobTypeEpisode = "episode"
	JobTypeTrailer = "trailer"
)

func IsTerminalStatus(status string) bool {
	switch status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is a persistent processing-job record.
type Job struct {
	ID           string
	QueueJobID   string
	ClientID     string
	Status       string
	Type         string
	ResourceID   string
	FileName     string
	Progress     int
	CanCancel    bool
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CancelledAt  *time.Time
	FailedReason string
	RetryCount   int
	Owner        Owner
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status string
	Type   string
}

// Store is the transactional metadata façade the pipeline consumes. The
// relational store itself is an external collaborator; this interface is the
// part of it the core owns.
type Store interface {
	// videos
	InsertVideo(ctx context.Context, v *Video) error
	VideoByID(ctx context.Context, id string) (*Video, error)
	VideosByOwner(ctx context.Context, ownerRef string) ([]Video, error)
	DeleteVideo(ctx context.Context, id string) error

	// subtitles
	UpsertSubtitle(ctx context.Context, s *Subtitle) error
	SubtitlesByOwner(ctx context.Context, ownerRef string) ([]Subtitle, error)

	// processing jobs
	InsertJob(ctx context.Context, j *Job) error
	JobByID(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, f JobFilter) ([]Job, error)
	FindNonTerminalJob(ctx context.Context, resourceID, jobType string) (*Job, error)
	MarkJobActive(ctx context.Context, id string) (bool, error)
	MarkJobFinished(ctx context.Context, id, status, failedReason string) (bool, error)
	CancelWaitingJob(ctx context.Context, id string) (bool, error)
	FailWaitingJob(ctx context.Context, id, reason string) (bool, error)
	SetJobProgress(ctx context.Context, id string, progress int) error
	RequeueJobForRetry(ctx context.Context, id, queueJobID, clientID string) (bool, error)
	JobsByStatus(ctx context.Context, status string) ([]Job, error)
	DeleteJobs(ctx context.Context, statuses []string) (int64, error)
	DeleteJob(ctx context.Context, id string) error
}
