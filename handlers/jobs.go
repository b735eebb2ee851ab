package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/jobs"
	"github.com/reelhouse/reelhouse-api/store"
)

// JobResponse is the wire shape of a processing job.
type JobResponse struct {
	ID           string     `json:"id"`
	ClientID     string     `json:"clientId,omitempty"`
	Status       string     `json:"status"`
	Type         string     `json:"type"`
	ResourceID   string     `json:"resourceId"`
	FileName     string     `json:"fileName,omitempty"`
	Progress     int        `json:"progress"`
	CanCancel    bool       `json:"canCancel"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`
	FailedReason string     `json:"failedReason,omitempty"`
	RetryCount   int        `json:"retryCount"`
}

func jobResponseFrom(j *store.Job) JobResponse {
	return JobResponse{
		ID:           j.ID,
		ClientID:     j.ClientID,
		Status:       j.Status,
		Type:         j.Type,
		ResourceID:   j.ResourceID,
		FileName:     j.FileName,
		Progress:     j.Progress,
		CanCancel:    j.CanCancel,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
		CancelledAt:  j.CancelledAt,
		FailedReason: j.FailedReason,
		RetryCount:   j.RetryCount,
	}
}

func jobsNewJob(req CompleteUploadRequest, owner store.Owner, jobType string) jobs.NewJob {
	return jobs.NewJob{
		Type:     jobType,
		Owner:    owner,
		FileName: req.FileName,
		ClientID: req.ClientID,
	}
}

// ListProcessingJobs returns jobs, optionally filtered by ?status= and
// ?type=.
func (d *HandlersCollection) ListProcessingJobs() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		list, err := d.Jobs.List(req.Context(), store.JobFilter{
			Status: req.URL.Query().Get("status"),
			Type:   req.URL.Query().Get("type"),
		})
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot list jobs", err)
			return
		}
		out := make([]JobResponse, 0, len(list))
		for i := range list {
			out = append(out, jobResponseFrom(&list[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (d *HandlersCollection) CancelProcessingJob() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		job, err := d.Jobs.Cancel(req.Context(), ps.ByName("id"))
		if err != nil {
			writeJobError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, jobResponseFrom(job))
	}
}

func (d *HandlersCollection) RetryProcessingJob() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		job, err := d.Jobs.Retry(req.Context(), ps.ByName("id"))
		if err != nil {
			writeJobError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, jobResponseFrom(job))
	}
}

// ClearProcessingJobs purges terminal rows; ?statuses=failed,cancelled
// narrows which.
func (d *HandlersCollection) ClearProcessingJobs() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var statuses []string
		if raw := req.URL.Query().Get("statuses"); raw != "" {
			statuses = strings.Split(raw, ",")
		}
		n, err := d.Jobs.Clear(req.Context(), statuses)
		if err != nil {
			writeJobError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
	}
}
