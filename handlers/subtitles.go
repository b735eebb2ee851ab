package handlers

import (
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/subtitles"
)

// UploadSubtitle accepts a WebVTT track as multipart form data: fields
// "language", "label", "default" and the owner id triple, plus the
// "subtitle" file part.
func (d *HandlersCollection) UploadSubtitle() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if err := req.ParseMultipartForm(subtitles.MaxTrackSize); err != nil {
			errors.WriteHTTPBadRequest(w, "Cannot parse multipart form", err)
			return
		}
		owner, err := ownerFromFields(req.FormValue("filmId"), req.FormValue("seasonId"), req.FormValue("episodeId"))
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid owner ids", err)
			return
		}

		file, header, err := req.FormFile("subtitle")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Missing subtitle file part", err)
			return
		}
		defer file.Close()
		if header.Size > subtitles.MaxTrackSize {
			errors.WriteHTTPPayloadTooLarge(w, "Subtitle track too large", nil)
			return
		}
		vtt, err := io.ReadAll(io.LimitReader(file, subtitles.MaxTrackSize+1))
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read subtitle payload", err)
			return
		}

		track := subtitles.Track{
			Owner:    owner,
			Language: req.FormValue("language"),
			Label:    req.FormValue("label"),
			Default:  req.FormValue("default") == "true",
		}
		record, err := d.Subtitles.Upload(req.Context(), track, vtt)
		if err != nil {
			if errors.IsUnretriable(err) {
				errors.WriteHTTPBadRequest(w, "Invalid subtitle upload", err)
				return
			}
			errors.WriteHTTPInternalServerError(w, "Subtitle upload failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":       record.ID,
			"language": record.Language,
			"label":    record.Label,
			"default":  record.Default,
			"key":      record.Key,
		})
	}
}
