package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/reelhouse/reelhouse-api/cache"
	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/log"
	"github.com/reelhouse/reelhouse-api/metrics"
	"github.com/reelhouse/reelhouse-api/store"
)

// RunFunc executes one job end to end. It must honor ctx cancellation.
type RunFunc func(ctx context.Context, job *store.Job) error

type jobStore interface {
	JobByID(ctx context.Context, id string) (*store.Job, error)
	MarkJobActive(ctx context.Context, id string) (bool, error)
	MarkJobFinished(ctx context.Context, id, status, failedReason string) (bool, error)
}

// Queue is the in-process bounded job queue. Jobs are identified by their
// persistent row id; the row itself is the source of truth, so a crash leaves
// active rows behind for FixStuck instead of losing work silently.
type Queue struct {
	jobs     chan string
	metadata jobStore
	run      RunFunc
	workers  int

	// cancel funcs of in-flight jobs, keyed by job id
	cancels *cache.Cache[context.CancelFunc]
	group   *errgroup.Group
}

func New(metadata jobStore, run RunFunc, workers, depth int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	return &Queue{
		jobs:     make(chan string, depth),
		metadata: metadata,
		run:      run,
		workers:  workers,
		cancels:  cache.New[context.CancelFunc](),
	}
}

// Start launches the worker pool. Workers drain until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		q.group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case jobID := <-q.jobs:
					metrics.Metrics.QueueDepth.Set(float64(len(q.jobs)))
					q.process(ctx, jobID)
				}
			}
		})
	}
}

// Wait blocks until every worker has exited.
func (q *Queue) Wait() error {
	if q.group == nil {
		return nil
	}
	return q.group.Wait()
}

// Enqueue hands a waiting job to the worker pool. Never blocks: a full queue
// returns ErrBusy so the HTTP edge can answer 429.
func (q *Queue) Enqueue(jobID string) error {
	select {
	case q.jobs <- jobID:
		metrics.Metrics.QueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		return errors.ErrBusy
	}
}

// Cancel trips the cancel token of an in-flight job. Returns false when the
// job is not currently running.
func (q *Queue) Cancel(jobID string) bool {
	cancel := q.cancels.Get(jobID)
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// IsLive reports whether a worker currently runs the job.
func (q *Queue) IsLive(jobID string) bool {
	return q.cancels.Contains(jobID)
}

// Full reports whether an enqueue would be rejected right now.
func (q *Queue) Full() bool {
	return len(q.jobs) == cap(q.jobs)
}

func (q *Queue) process(ctx context.Context, jobID string) {
	job, err := q.metadata.JobByID(ctx, jobID)
	if err != nil {
		log.Log(jobID, "dropping queue entry for missing job", "err", err)
		return
	}

	// cancelled while still queued: the CAS fails and the entry is dropped
	ok, err := q.metadata.MarkJobActive(ctx, jobID)
	if err != nil {
		log.Log(jobID, "failed to activate job", "err", err)
		return
	}
	if !ok {
		log.Log(jobID, "skipping job no longer waiting", "status", job.Status)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	q.cancels.Store(jobID, cancel)
	defer func() {
		if c, ok := q.cancels.Pop(jobID); ok {
			c()
		}
	}()

	log.Log(jobID, "job started", "type", job.Type, "resource_id", job.ResourceID)
	runErr := q.run(jobCtx, job)
	q.finish(ctx, jobID, runErr, jobCtx.Err() != nil)
}

// finish writes the terminal status. The CAS on active protects against a
// cancel that already flipped the row after the detach timeout. A job whose
// token was tripped counts as cancelled whatever error surfaced: SDK errors
// from an aborted upload don't wrap context.Canceled.
func (q *Queue) finish(ctx context.Context, jobID string, runErr error, cancelled bool) {
	status := store.JobCompleted
	reason := ""
	switch {
	case runErr == nil:
	case cancelled || stderrors.Is(runErr, errors.ErrCancelled) || stderrors.Is(runErr, context.Canceled):
		status = store.JobCancelled
	default:
		status = store.JobFailed
		reason = FailureReason(runErr)
	}

	ok, err := q.metadata.MarkJobFinished(ctx, jobID, status, reason)
	if err != nil {
		log.Log(jobID, "failed to write terminal job status", "status", status, "err", err)
		return
	}
	if !ok {
		log.Log(jobID, "terminal status already written elsewhere", "status", status)
	}
	metrics.Metrics.JobResults.WithLabelValues(status).Inc()
	if status == store.JobFailed {
		log.LogError(jobID, "job failed", runErr, "reason", reason)
	} else {
		log.Log(jobID, "job finished", "status", status)
	}
}

// FailureReason renders the persisted one-line "{kind}: {detail}" reason.
func FailureReason(err error) string {
	detail := err.Error()
	if i := strings.IndexByte(detail, '\n'); i >= 0 {
		detail = detail[:i]
	}
	return fmt.Sprintf("%s: %s", errors.Kind(err), detail)
}
