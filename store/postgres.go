package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/reelhouse/reelhouse-api/errors"
)

// Postgres implements Store on a database/sql handle with the lib/pq driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// ConnectPostgres opens and pings the database.
func ConnectPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error creating postgres connection: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("error pinging postgres: %w", err)
	}
	return NewPostgres(db), nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		format TEXT NOT NULL,
		resolution TEXT NOT NULL,
		encoding TEXT NOT NULL,
		size TEXT NOT NULL,
		duration_sec DOUBLE PRECISION NOT NULL,
		bitrate TEXT NOT NULL,
		is_trailer BOOLEAN NOT NULL DEFAULT FALSE,
		hls_playlist_key TEXT NOT NULL DEFAULT '',
		owner_kind TEXT NOT NULL,
		owner_ref TEXT NOT NULL,
		film_id TEXT NOT NULL DEFAULT '',
		season_id TEXT NOT NULL DEFAULT '',
		episode_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS videos_owner_name ON videos (owner_ref, name)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS videos_owner_resolution ON videos (owner_ref, resolution) WHERE NOT is_trailer`,
	`CREATE TABLE IF NOT EXISTS subtitles (
		id TEXT PRIMARY KEY,
		owner_ref TEXT NOT NULL,
		language TEXT NOT NULL,
		label TEXT NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		key TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (owner_ref, language)
	)`,
	`CREATE TABLE IF NOT EXISTS processing_jobs (
		id TEXT PRIMARY KEY,
		queue_job_id TEXT NOT NULL DEFAULT '',
		client_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		file_name TEXT NOT NULL DEFAULT '',
		progress INT NOT NULL DEFAULT 0,
		can_cancel BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		failed_reason TEXT NOT NULL DEFAULT '',
		retry_count INT NOT NULL DEFAULT 0,
		owner_kind TEXT NOT NULL,
		film_id TEXT NOT NULL DEFAULT '',
		season_id TEXT NOT NULL DEFAULT '',
		episode_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS processing_jobs_resource ON processing_jobs (resource_id, type, status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS processing_jobs_single_non_terminal
		ON processing_jobs (resource_id, type) WHERE status IN ('waiting', 'active')`,
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error ensuring schema: %w", err)
		}
	}
	return nil
}

const videoColumns = `id, name, url, format, resolution, encoding, size, duration_sec, bitrate,
	is_trailer, hls_playlist_key, owner_kind, owner_ref, film_id, season_id, episode_id`

func (p *Postgres) InsertVideo(ctx context.Context, v *Video) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO videos (`+videoColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		v.ID, v.Name, v.URL, v.Format, v.Resolution, v.Encoding, v.Size, v.DurationSec, v.Bitrate,
		v.IsTrailer, v.HLSPlaylistKey, v.Owner.Kind, v.Owner.Ref(), v.Owner.FilmID, v.Owner.SeasonID, v.Owner.EpisodeID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("video %s/%s already exists: %w", v.Owner.Ref(), v.Resolution, err)
	}
	return err
}

func (p *Postgres) VideoByID(ctx context.Context, id string) (*Video, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	return scanVideo(row)
}

func (p *Postgres) VideosByOwner(ctx context.Context, ownerRef string) ([]Video, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE owner_ref = $1 ORDER BY resolution`, ownerRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteVideo(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM videos WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*Video, error) {
	var v Video
	err := row.Scan(
		&v.ID, &v.Name, &v.URL, &v.Format, &v.Resolution, &v.Encoding, &v.Size, &v.DurationSec, &v.Bitrate,
		&v.IsTrailer, &v.HLSPlaylistKey, &v.Owner.Kind, new(string), &v.Owner.FilmID, &v.Owner.SeasonID, &v.Owner.EpisodeID,
	)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (p *Postgres) UpsertSubtitle(ctx context.Context, s *Subtitle) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO subtitles (id, owner_ref, language, label, is_default, key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (owner_ref, language)
		 DO UPDATE SET label = EXCLUDED.label, is_default = EXCLUDED.is_default, key = EXCLUDED.key`,
		s.ID, s.OwnerRef, s.Language, s.Label, s.Default, s.Key,
	)
	return err
}

func (p *Postgres) SubtitlesByOwner(ctx context.Context, ownerRef string) ([]Subtitle, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, owner_ref, language, label, is_default, key FROM subtitles
		 WHERE owner_ref = $1 ORDER BY language`, ownerRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subtitle
	for rows.Next() {
		var s Subtitle
		if err := rows.Scan(&s.ID, &s.OwnerRef, &s.Language, &s.Label, &s.Default, &s.Key); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const jobColumns = `id, queue_job_id, client_id, status, type, resource_id, file_name, progress,
	can_cancel, created_at, started_at, finished_at, cancelled_at, failed_reason, retry_count,
	owner_kind, film_id, season_id, episode_id`

func (p *Postgres) InsertJob(ctx context.Context, j *Job) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO processing_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		j.ID, j.QueueJobID, j.ClientID, j.Status, j.Type, j.ResourceID, j.FileName, j.Progress,
		j.CanCancel, j.CreatedAt, j.StartedAt, j.FinishedAt, j.CancelledAt, j.FailedReason, j.RetryCount,
		j.Owner.Kind, j.Owner.FilmID, j.Owner.SeasonID, j.Owner.EpisodeID,
	)
	if isUniqueViolation(err) {
		// lost the race against a concurrent submission for the same resource;
		// the partial unique index is the authoritative guard
		existing, findErr := p.FindNonTerminalJob(ctx, j.ResourceID, j.Type)
		if findErr != nil {
			return &errors.ExistingJobError{}
		}
		return &errors.ExistingJobError{JobID: existing.ID, Status: existing.Status}
	}
	return err
}

func (p *Postgres) JobByID(ctx context.Context, id string) (*Job, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (p *Postgres) ListJobs(ctx context.Context, f JobFilter) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs`
	var conds []string
	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (p *Postgres) FindNonTerminalJob(ctx context.Context, resourceID, jobType string) (*Job, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
		 WHERE resource_id = $1 AND type = $2 AND status = ANY($3)
		 ORDER BY created_at DESC LIMIT 1`,
		resourceID, jobType, pq.Array([]string{JobWaiting, JobActive}),
	)
	return scanJob(row)
}

// MarkJobActive transitions waiting → active. Returns false when the job was
// no longer waiting, e.g. cancelled while queued.
func (p *Postgres) MarkJobActive(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE processing_jobs SET status = $1, started_at = now()
		 WHERE id = $2 AND status = $3`,
		JobActive, id, JobWaiting,
	)
	if err != nil {
		return false, err
	}
	return oneRowAffected(res)
}

// MarkJobFinished transitions active → terminal. The compare-and-set on the
// current status keeps a late worker from overwriting a cancellation.
func (p *Postgres) MarkJobFinished(ctx context.Context, id, status, failedReason string) (bool, error) {
	if !IsTerminalStatus(status) {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE processing_jobs
		 SET status = $1, failed_reason = $2, finished_at = now(),
		     cancelled_at = CASE WHEN $1 = 'cancelled' THEN now() ELSE cancelled_at END
		 WHERE id = $3 AND status = $4`,
		status, failedReason, id, JobActive,
	)
	if err != nil {
		return false, err
	}
	return oneRowAffected(res)
}

// FailWaitingJob moves a requeued job back to failed, e.g. when the queue
// rejected it after the row was already reset for retry.
func (p *Postgres) FailWaitingJob(ctx context.Context, id, reason string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE processing_jobs SET status = $1, failed_reason = $2, finished_at = now()
		 WHERE id = $3 AND status = $4`,
		JobFailed, reason, id, JobWaiting,
	)
	if err != nil {
		return false, err
	}
	return oneRowAffected(res)
}

// CancelWaitingJob cancels a job that never started.
func (p *Postgres) CancelWaitingJob(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE processing_jobs SET status = $1, cancelled_at = now(), finished_at = now()
		 WHERE id = $2 AND status = $3`,
		JobCancelled, id, JobWaiting,
	)
	if err != nil {
		return false, err
	}
	return oneRowAffected(res)
}

func (p *Postgres) SetJobProgress(ctx context.Context, id string, progress int) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE processing_jobs SET progress = $1 WHERE id = $2 AND status = $3`,
		progress, id, JobActive,
	)
	return err
}

// RequeueJobForRetry transitions failed → waiting with a fresh queue handle.
func (p *Postgres) RequeueJobForRetry(ctx context.Context, id, queueJobID, clientID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE processing_jobs
		 SET status = $1, queue_job_id = $2, client_id = $3, progress = 0, failed_reason = '',
		     started_at = NULL, finished_at = NULL, retry_count = retry_count + 1
		 WHERE id = $4 AND status = $5`,
		JobWaiting, queueJobID, clientID, id, JobFailed,
	)
	if err != nil {
		return false, err
	}
	return oneRowAffected(res)
}

func (p *Postgres) JobsByStatus(ctx context.Context, status string) ([]Job, error) {
	return p.ListJobs(ctx, JobFilter{Status: status})
}

func (p *Postgres) DeleteJobs(ctx context.Context, statuses []string) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM processing_jobs WHERE status = ANY($1)`, pq.Array(statuses))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *Postgres) DeleteJob(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM processing_jobs WHERE id = $1`, id)
	return err
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var startedAt, finishedAt, cancelledAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.QueueJobID, &j.ClientID, &j.Status, &j.Type, &j.ResourceID, &j.FileName, &j.Progress,
		&j.CanCancel, &j.CreatedAt, &startedAt, &finishedAt, &cancelledAt, &j.FailedReason, &j.RetryCount,
		&j.Owner.Kind, &j.Owner.FilmID, &j.Owner.SeasonID, &j.Owner.EpisodeID,
	)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	if cancelledAt.Valid {
		j.CancelledAt = &cancelledAt.Time
	}
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func oneRowAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == "23505"
}
