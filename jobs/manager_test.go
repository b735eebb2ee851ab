package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/store"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*store.Job
}

func newMemStore(jobs ...*store.Job) *memStore {
	m := &memStore{jobs: map[string]*store.Job{}}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

// InsertJob mirrors the store's partial unique index: at most one
// non-terminal row per (resource, type).
func (m *memStore) InsertJob(_ context.Context, j *store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.ResourceID == j.ResourceID && existing.Type == j.Type && !store.IsTerminalStatus(existing.Status) {
			return &errors.ExistingJobError{JobID: existing.ID, Status: existing.Status}
		}
	}
	copied := *j
	m.jobs[j.ID] = &copied
	return nil
}

func (m *memStore) JobByID(_ context.Context, id string) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (m *memStore) ListJobs(_ context.Context, f store.JobFilter) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Job
	for _, j := range m.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		out = append(out, *j)
	}
	return out, nil
}

func (m *memStore) FindNonTerminalJob(_ context.Context, resourceID, jobType string) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ResourceID == resourceID && j.Type == jobType && !store.IsTerminalStatus(j.Status) {
			copied := *j
			return &copied, nil
		}
	}
	return nil, errors.ErrNotFound
}

func (m *memStore) MarkJobFinished(_ context.Context, id, status, reason string) (bool, error) {
	return m.cas(id, store.JobActive, status, reason), nil
}

func (m *memStore) CancelWaitingJob(_ context.Context, id string) (bool, error) {
	return m.cas(id, store.JobWaiting, store.JobCancelled, ""), nil
}

func (m *memStore) FailWaitingJob(_ context.Context, id, reason string) (bool, error) {
	return m.cas(id, store.JobWaiting, store.JobFailed, reason), nil
}

func (m *memStore) RequeueJobForRetry(_ context.Context, id, queueJobID, clientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != store.JobFailed {
		return false, nil
	}
	j.Status = store.JobWaiting
	j.QueueJobID = queueJobID
	j.ClientID = clientID
	j.Progress = 0
	j.FailedReason = ""
	j.RetryCount++
	return true, nil
}

func (m *memStore) JobsByStatus(ctx context.Context, status string) ([]store.Job, error) {
	return m.ListJobs(ctx, store.JobFilter{Status: status})
}

func (m *memStore) DeleteJobs(_ context.Context, statuses []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, j := range m.jobs {
		for _, s := range statuses {
			if j.Status == s {
				delete(m.jobs, id)
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *memStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memStore) cas(id, from, to, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != from {
		return false
	}
	j.Status = to
	if reason != "" || to == store.JobWaiting {
		j.FailedReason = reason
	}
	return true
}

type fakeQueue struct {
	mu        sync.Mutex
	enqueued  []string
	live      map[string]bool
	cancelled []string
	full      bool
	onCancel  func(id string)
}

func (f *fakeQueue) Enqueue(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errors.ErrBusy
	}
	f.enqueued = append(f.enqueued, id)
	return nil
}

func (f *fakeQueue) Cancel(id string) bool {
	f.mu.Lock()
	live := f.live[id]
	f.cancelled = append(f.cancelled, id)
	onCancel := f.onCancel
	f.mu.Unlock()
	if live && onCancel != nil {
		onCancel(id)
	}
	return live
}

func (f *fakeQueue) IsLive(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[id]
}

func newManager(metadata *memStore, q *fakeQueue) *Manager {
	return &Manager{
		Metadata:      metadata,
		Queue:         q,
		DetachTimeout: 200 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
	}
}

func filmJob() NewJob {
	return NewJob{
		Type:     store.JobTypeFilm,
		Owner:    store.Owner{Kind: store.OwnerFilm, FilmID: "film-1"},
		FileName: "movie.mp4",
		ClientID: "client-1",
	}
}

func TestCreateEnqueuesWaitingJob(t *testing.T) {
	metadata := newMemStore()
	q := &fakeQueue{}
	m := newManager(metadata, q)

	job, err := m.Create(context.Background(), filmJob())
	require.NoError(t, err)
	require.Equal(t, store.JobWaiting, job.Status)
	require.Equal(t, "film-1", job.ResourceID)
	require.True(t, job.CanCancel)
	require.Equal(t, []string{job.ID}, q.enqueued)
}

func TestCreateRejectsDuplicateNonTerminalJob(t *testing.T) {
	metadata := newMemStore()
	m := newManager(metadata, &fakeQueue{})

	first, err := m.Create(context.Background(), filmJob())
	require.NoError(t, err)

	_, err = m.Create(context.Background(), filmJob())
	var existing *errors.ExistingJobError
	require.ErrorAs(t, err, &existing)
	require.Equal(t, first.ID, existing.JobID)
	require.Equal(t, store.JobWaiting, existing.Status)
}

// blindStore simulates the losing side of a submission race: its existence
// check never sees the concurrent winner, so only the insert guard is left.
type blindStore struct {
	*memStore
}

func (b *blindStore) FindNonTerminalJob(context.Context, string, string) (*store.Job, error) {
	return nil, errors.ErrNotFound
}

func TestCreateSurvivesSubmissionRace(t *testing.T) {
	metadata := newMemStore()
	first, err := newManager(metadata, &fakeQueue{}).Create(context.Background(), filmJob())
	require.NoError(t, err)

	racing := newManager(metadata, &fakeQueue{})
	racing.Metadata = &blindStore{metadata}
	_, err = racing.Create(context.Background(), filmJob())
	var existing *errors.ExistingJobError
	require.ErrorAs(t, err, &existing)
	require.Equal(t, first.ID, existing.JobID)

	jobs, err := metadata.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1, "the race never leaves a second non-terminal row")
}

func TestCreateAllowsNewJobAfterTerminalState(t *testing.T) {
	metadata := newMemStore(&store.Job{
		ID: "old", ResourceID: "film-1", Type: store.JobTypeFilm, Status: store.JobFailed,
	})
	m := newManager(metadata, &fakeQueue{})

	_, err := m.Create(context.Background(), filmJob())
	require.NoError(t, err)
}

func TestCreateRollsBackRowWhenQueueFull(t *testing.T) {
	metadata := newMemStore()
	m := newManager(metadata, &fakeQueue{full: true})

	_, err := m.Create(context.Background(), filmJob())
	require.ErrorIs(t, err, errors.ErrBusy)

	jobs, err := metadata.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	require.Empty(t, jobs, "rejected submissions leave no row behind")
}

func TestCancelWaitingJob(t *testing.T) {
	metadata := newMemStore(&store.Job{ID: "job-1", Status: store.JobWaiting})
	m := newManager(metadata, &fakeQueue{})

	job, err := m.Cancel(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, store.JobCancelled, job.Status)
}

func TestCancelActiveJobWaitsForWorkerAck(t *testing.T) {
	metadata := newMemStore(&store.Job{ID: "job-1", Status: store.JobActive})
	q := &fakeQueue{live: map[string]bool{"job-1": true}}
	q.onCancel = func(id string) {
		// worker acknowledges shortly after the token trips
		go func() {
			time.Sleep(30 * time.Millisecond)
			metadata.MarkJobFinished(context.Background(), id, store.JobCancelled, "")
		}()
	}
	m := newManager(metadata, q)

	job, err := m.Cancel(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, store.JobCancelled, job.Status)
	require.Equal(t, []string{"job-1"}, q.cancelled)
}

func TestCancelDetachesFromUnresponsiveWorker(t *testing.T) {
	metadata := newMemStore(&store.Job{ID: "job-1", Status: store.JobActive})
	q := &fakeQueue{live: map[string]bool{"job-1": true}}
	m := newManager(metadata, q)

	job, err := m.Cancel(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, store.JobCancelled, job.Status, "detach timeout forces the cancellation")
}

func TestCancelTerminalJobFails(t *testing.T) {
	metadata := newMemStore(&store.Job{ID: "job-1", Status: store.JobCompleted})
	m := newManager(metadata, &fakeQueue{})

	_, err := m.Cancel(context.Background(), "job-1")
	require.ErrorIs(t, err, errors.ErrAlreadyFinished)
}

func TestRetryRequeuesFailedJob(t *testing.T) {
	metadata := newMemStore(&store.Job{
		ID: "job-1", Status: store.JobFailed, FailedReason: "TranscodeFailure: boom", Progress: 40,
	})
	q := &fakeQueue{}
	m := newManager(metadata, q)

	job, err := m.Retry(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, store.JobWaiting, job.Status)
	require.Zero(t, job.Progress)
	require.Empty(t, job.FailedReason)
	require.Equal(t, 1, job.RetryCount)
	require.Contains(t, job.ClientID, "retry-")
	require.Equal(t, []string{"job-1"}, q.enqueued)
}

func TestRetryRejectsNonFailedJobs(t *testing.T) {
	metadata := newMemStore(&store.Job{ID: "job-1", Status: store.JobActive})
	m := newManager(metadata, &fakeQueue{})

	_, err := m.Retry(context.Background(), "job-1")
	require.Error(t, err)
	require.True(t, errors.IsUnretriable(err))
}

func TestRetryWithFullQueueRestoresFailedStatus(t *testing.T) {
	metadata := newMemStore(&store.Job{ID: "job-1", Status: store.JobFailed})
	m := newManager(metadata, &fakeQueue{full: true})

	_, err := m.Retry(context.Background(), "job-1")
	require.ErrorIs(t, err, errors.ErrBusy)

	job, err := metadata.JobByID(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, store.JobFailed, job.Status)
}

func TestFixStuckFailsAbandonedActiveRows(t *testing.T) {
	metadata := newMemStore(
		&store.Job{ID: "job-1", Status: store.JobActive},
		&store.Job{ID: "job-2", Status: store.JobCompleted},
	)
	m := newManager(metadata, &fakeQueue{})

	fixed, err := m.FixStuck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fixed)

	job, err := metadata.JobByID(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, store.JobFailed, job.Status)
	require.Equal(t, "abandoned", job.FailedReason)
}

func TestSyncStatusSparesLiveJobs(t *testing.T) {
	metadata := newMemStore(
		&store.Job{ID: "live", Status: store.JobActive},
		&store.Job{ID: "dead", Status: store.JobActive},
	)
	m := newManager(metadata, &fakeQueue{live: map[string]bool{"live": true}})

	fixed, err := m.SyncStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fixed)

	liveJob, _ := metadata.JobByID(context.Background(), "live")
	require.Equal(t, store.JobActive, liveJob.Status)
	deadJob, _ := metadata.JobByID(context.Background(), "dead")
	require.Equal(t, store.JobFailed, deadJob.Status)
}

func TestClearRejectsNonTerminalStatuses(t *testing.T) {
	m := newManager(newMemStore(), &fakeQueue{})
	_, err := m.Clear(context.Background(), []string{store.JobActive})
	require.Error(t, err)
}

func TestClearDeletesTerminalRows(t *testing.T) {
	metadata := newMemStore(
		&store.Job{ID: "job-1", Status: store.JobFailed},
		&store.Job{ID: "job-2", Status: store.JobActive},
	)
	m := newManager(metadata, &fakeQueue{})

	n, err := m.Clear(context.Background(), nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
