package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"

	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/log"
	"github.com/reelhouse/reelhouse-api/metrics"
	"github.com/reelhouse/reelhouse-api/store"
)

// maxChunkSize bounds a single uploaded chunk.
const maxChunkSize = 64 << 20

// UploadChunk receives one chunk of a file as multipart form data: fields
// "fileName" and "start" (byte offset) plus the "chunk" file part.
func (d *HandlersCollection) UploadChunk() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if err := req.ParseMultipartForm(maxChunkSize); err != nil {
			errors.WriteHTTPBadRequest(w, "Cannot parse multipart form", err)
			return
		}
		fileName := req.FormValue("fileName")
		if fileName == "" {
			errors.WriteHTTPBadRequest(w, "Missing fileName", nil)
			return
		}
		start, err := strconv.ParseInt(req.FormValue("start"), 10, 64)
		if err != nil || start < 0 {
			errors.WriteHTTPBadRequest(w, "Invalid start offset", err)
			return
		}
		chunk, _, err := req.FormFile("chunk")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Missing chunk file part", err)
			return
		}
		defer chunk.Close()

		if _, err := d.Chunks.SaveChunk(fileName, start, chunk); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot save chunk", err)
			return
		}
		metrics.Metrics.ChunksReceived.Inc()
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "start": start})
	}
}

// CheckUploadChunk lets clients resume interrupted uploads by asking whether
// a chunk already arrived.
func (d *HandlersCollection) CheckUploadChunk() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		fileName := req.URL.Query().Get("fileName")
		start, err := strconv.ParseInt(req.URL.Query().Get("start"), 10, 64)
		if fileName == "" || err != nil {
			errors.WriteHTTPBadRequest(w, "fileName and start are required", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"exists": d.Chunks.HasChunk(fileName, start)})
	}
}

// CompleteUploadRequest finalizes a chunked upload into a processing job.
type CompleteUploadRequest struct {
	FileName  string `json:"fileName"`
	ClientID  string `json:"clientId"`
	FilmID    string `json:"filmId"`
	SeasonID  string `json:"seasonId"`
	EpisodeID string `json:"episodeId"`
}

// CompleteUpload creates and enqueues the transcode job for a finished
// chunked upload.
func (d *HandlersCollection) CompleteUpload() httprouter.Handle {
	return d.completeUpload(func(owner store.Owner) string {
		if owner.Kind == store.OwnerEpisode {
			return store.JobTypeEpisode
		}
		return store.JobTypeFilm
	})
}

// TrailerUpload creates a trailer job: single MP4 upload, no ladder.
func (d *HandlersCollection) TrailerUpload() httprouter.Handle {
	return d.completeUpload(func(store.Owner) string { return store.JobTypeTrailer })
}

func (d *HandlersCollection) completeUpload(jobType func(store.Owner) string) httprouter.Handle {
	schema := inputSchemasCompiled["CompleteUpload"]

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var completeRequest CompleteUploadRequest

		if !HasContentType(req, "application/json") {
			errors.WriteHTTPUnsupportedMediaType(w, "Requires application/json content type", nil)
			return
		} else if payload, err := io.ReadAll(req.Body); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read payload", err)
			return
		} else if result, err := schema.Validate(gojsonschema.NewBytesLoader(payload)); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot validate payload", err)
			return
		} else if !result.Valid() {
			errors.WriteHTTPBadRequest(w, "Invalid request payload", fmt.Errorf("%s", result.Errors()))
			return
		} else if err := json.Unmarshal(payload, &completeRequest); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		}

		owner, err := ownerFromFields(completeRequest.FilmID, completeRequest.SeasonID, completeRequest.EpisodeID)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid owner ids", err)
			return
		}

		job, err := d.Jobs.Create(req.Context(), jobsNewJob(completeRequest, owner, jobType(owner)))
		if err != nil {
			writeJobError(w, err)
			return
		}
		log.AddContext(job.ID, "file_name", completeRequest.FileName, "client_id", completeRequest.ClientID)
		writeJSON(w, http.StatusOK, jobResponseFrom(job))
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	var existing *errors.ExistingJobError
	switch {
	case stderrors.As(err, &existing):
		errors.WriteHTTPConflict(w, "A processing job already exists for this resource", err)
	case stderrors.Is(err, errors.ErrBusy):
		errors.WriteHTTPTooManyRequests(w, "Processing queue is full", err)
	case stderrors.Is(err, errors.ErrNotFound):
		errors.WriteHTTPNotFound(w, "Job not found", err)
	case stderrors.Is(err, errors.ErrAlreadyFinished):
		errors.WriteHTTPConflict(w, "Job already finished", err)
	case errors.IsUnretriable(err):
		errors.WriteHTTPBadRequest(w, "Invalid request", err)
	default:
		errors.WriteHTTPInternalServerError(w, "Job operation failed", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.LogNoJobID("error writing JSON response", "err", err)
	}
}
