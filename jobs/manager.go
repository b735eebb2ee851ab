package jobs

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/log"
	"github.com/reelhouse/reelhouse-api/store"
)

const (
	// DefaultDetachTimeout bounds how long Cancel waits for a running worker
	// to acknowledge before the row is flipped to cancelled underneath it.
	DefaultDetachTimeout = 10 * time.Second

	defaultPollInterval = 100 * time.Millisecond

	abandonedReason = "abandoned"
)

type jobQueue interface {
	Enqueue(jobID string) error
	Cancel(jobID string) bool
	IsLive(jobID string) bool
}

type jobStore interface {
	InsertJob(ctx context.Context, j *store.Job) error
	JobByID(ctx context.Context, id string) (*store.Job, error)
	ListJobs(ctx context.Context, f store.JobFilter) ([]store.Job, error)
	FindNonTerminalJob(ctx context.Context, resourceID, jobType string) (*store.Job, error)
	MarkJobFinished(ctx context.Context, id, status, failedReason string) (bool, error)
	CancelWaitingJob(ctx context.Context, id string) (bool, error)
	FailWaitingJob(ctx context.Context, id, reason string) (bool, error)
	RequeueJobForRetry(ctx context.Context, id, queueJobID, clientID string) (bool, error)
	JobsByStatus(ctx context.Context, status string) ([]store.Job, error)
	DeleteJobs(ctx context.Context, statuses []string) (int64, error)
	DeleteJob(ctx context.Context, id string) error
}

// Manager drives the persistent job state machine:
// waiting → active → (completed | failed | cancelled).
type Manager struct {
	Metadata jobStore
	Queue    jobQueue

	DetachTimeout time.Duration
	PollInterval  time.Duration
}

// NewJob describes a job to create and enqueue.
type NewJob struct {
	Type     string
	Owner    store.Owner
	FileName string
	ClientID string
}

// Create inserts a waiting row and hands it to the queue. At most one
// non-terminal job may exist per (resource, type); a second submission is
// rejected with ExistingJobError. A full queue rejects with ErrBusy and the
// row is removed again.
func (m *Manager) Create(ctx context.Context, n NewJob) (*store.Job, error) {
	existing, err := m.Metadata.FindNonTerminalJob(ctx, n.Owner.Ref(), n.Type)
	if err == nil {
		return nil, &errors.ExistingJobError{JobID: existing.ID, Status: existing.Status}
	}
	if !stderrors.Is(err, errors.ErrNotFound) {
		return nil, fmt.Errorf("error checking for existing jobs: %w", err)
	}

	job := &store.Job{
		ID:         uuid.New().String(),
		QueueJobID: uuid.New().String(),
		ClientID:   n.ClientID,
		Status:     store.JobWaiting,
		Type:       n.Type,
		ResourceID: n.Owner.Ref(),
		FileName:   n.FileName,
		CanCancel:  true,
		CreatedAt:  time.Now().UTC(),
		Owner:      n.Owner,
	}
	if err := m.Metadata.InsertJob(ctx, job); err != nil {
		// the store's unique guard closes the race two concurrent submissions
		// can win against the existence check above
		var concurrent *errors.ExistingJobError
		if stderrors.As(err, &concurrent) {
			return nil, concurrent
		}
		return nil, fmt.Errorf("error inserting job: %w", err)
	}
	if err := m.Queue.Enqueue(job.ID); err != nil {
		if delErr := m.Metadata.DeleteJob(ctx, job.ID); delErr != nil {
			log.Log(job.ID, "failed to remove job row after enqueue rejection", "err", delErr)
		}
		return nil, err
	}
	log.Log(job.ID, "job created", "type", n.Type, "resource_id", n.Owner.Ref(), "file_name", n.FileName)
	return job, nil
}

// Cancel stops a job. Waiting jobs flip straight to cancelled; running jobs
// get their token tripped and Cancel waits for the worker to acknowledge, up
// to DetachTimeout, after which the row is flipped anyway and the worker's
// late terminal write loses its compare-and-set.
func (m *Manager) Cancel(ctx context.Context, id string) (*store.Job, error) {
	job, err := m.Metadata.JobByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if store.IsTerminalStatus(job.Status) {
		return nil, fmt.Errorf("%w: status %s", errors.ErrAlreadyFinished, job.Status)
	}

	if job.Status == store.JobWaiting {
		if ok, err := m.Metadata.CancelWaitingJob(ctx, id); err != nil {
			return nil, err
		} else if ok {
			log.Log(id, "cancelled waiting job")
			return m.Metadata.JobByID(ctx, id)
		}
		// lost the race with a worker, fall through to the active path
	}

	if !m.Queue.Cancel(id) {
		log.Log(id, "no live worker for active job, cancelling row directly")
	}
	if m.awaitTerminal(ctx, id) {
		return m.Metadata.JobByID(ctx, id)
	}

	ok, err := m.Metadata.MarkJobFinished(ctx, id, store.JobCancelled, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		// the worker acknowledged in between
		log.Log(id, "worker wrote terminal status during detach")
	} else {
		log.Log(id, "detached from unresponsive worker")
	}
	return m.Metadata.JobByID(ctx, id)
}

func (m *Manager) awaitTerminal(ctx context.Context, id string) bool {
	timeout := m.DetachTimeout
	if timeout == 0 {
		timeout = DefaultDetachTimeout
	}
	poll := m.PollInterval
	if poll == 0 {
		poll = defaultPollInterval
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := m.Metadata.JobByID(ctx, id)
		if err == nil && store.IsTerminalStatus(job.Status) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(poll):
		}
	}
	return false
}

// Retry requeues a failed job: progress reset, reason cleared, retry count
// incremented, and a fresh client id so progress listeners can resubscribe.
func (m *Manager) Retry(ctx context.Context, id string) (*store.Job, error) {
	job, err := m.Metadata.JobByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != store.JobFailed {
		return nil, errors.Unretriable(fmt.Errorf("only failed jobs can be retried, status is %s", job.Status))
	}

	clientID := fmt.Sprintf("retry-%d", time.Now().Unix())
	ok, err := m.Metadata.RequeueJobForRetry(ctx, id, uuid.New().String(), clientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: job was modified concurrently", errors.ErrAlreadyFinished)
	}
	if err := m.Queue.Enqueue(id); err != nil {
		if _, failErr := m.Metadata.FailWaitingJob(ctx, id, "Busy: queue full on retry"); failErr != nil {
			log.Log(id, "failed to restore job status after enqueue rejection", "err", failErr)
		}
		return nil, err
	}
	log.Log(id, "job requeued for retry", "client_id", clientID, "retry_count", job.RetryCount+1)
	return m.Metadata.JobByID(ctx, id)
}

// SyncStatus reconciles rows against the live worker registry: active rows
// with no live worker are failed as abandoned. Returns how many were fixed.
func (m *Manager) SyncStatus(ctx context.Context) (int, error) {
	return m.failAbandoned(ctx, func(id string) bool { return m.Queue.IsLive(id) })
}

// FixStuck fails every active row at boot, before any worker runs: those rows
// were abandoned by a previous process.
func (m *Manager) FixStuck(ctx context.Context) (int, error) {
	return m.failAbandoned(ctx, func(string) bool { return false })
}

func (m *Manager) failAbandoned(ctx context.Context, isLive func(string) bool) (int, error) {
	active, err := m.Metadata.JobsByStatus(ctx, store.JobActive)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, job := range active {
		if isLive(job.ID) {
			continue
		}
		ok, err := m.Metadata.MarkJobFinished(ctx, job.ID, store.JobFailed, abandonedReason)
		if err != nil {
			return fixed, err
		}
		if ok {
			log.Log(job.ID, "failed abandoned job")
			fixed++
		}
	}
	return fixed, nil
}

// List returns jobs matching the filter.
func (m *Manager) List(ctx context.Context, f store.JobFilter) ([]store.Job, error) {
	return m.Metadata.ListJobs(ctx, f)
}

// Clear deletes terminal rows. Non-terminal statuses are rejected so running
// work can never be purged.
func (m *Manager) Clear(ctx context.Context, statuses []string) (int64, error) {
	if len(statuses) == 0 {
		statuses = []string{store.JobCompleted, store.JobFailed, store.JobCancelled}
	}
	for _, s := range statuses {
		if !store.IsTerminalStatus(s) {
			return 0, errors.Unretriable(fmt.Errorf("cannot clear jobs with non-terminal status %q", s))
		}
	}
	return m.Metadata.DeleteJobs(ctx, statuses)
}
