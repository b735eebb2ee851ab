package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/reelhouse/reelhouse-api/chunks"
	"github.com/reelhouse/reelhouse-api/jobs"
	"github.com/reelhouse/reelhouse-api/log"
	"github.com/reelhouse/reelhouse-api/playback"
	"github.com/reelhouse/reelhouse-api/progress"
	"github.com/reelhouse/reelhouse-api/store"
	"github.com/reelhouse/reelhouse-api/subtitles"
)

// HandlersCollection bundles the dependencies of the HTTP surface.
type HandlersCollection struct {
	Chunks    *chunks.Store
	Jobs      *jobs.Manager
	Subtitles *subtitles.Manager
	Playback  *playback.Handler
	Bus       *progress.Bus
}

func (d *HandlersCollection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if _, err := io.WriteString(w, "OK"); err != nil {
			log.LogNoJobID("Failed to write HTTP response for " + req.URL.RawPath)
		}
	}
}

func HasContentType(r *http.Request, mimetype string) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return mimetype == "application/octet-stream"
	}

	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == mimetype {
			return true
		}
	}

	return false
}

// ownerFromFields builds the tagged owner out of the id triple, validating
// the combinations: filmId alone, or filmId+seasonId+episodeId.
func ownerFromFields(filmID, seasonID, episodeID string) (store.Owner, error) {
	switch {
	case filmID != "" && seasonID == "" && episodeID == "":
		return store.Owner{Kind: store.OwnerFilm, FilmID: filmID}, nil
	case filmID != "" && seasonID != "" && episodeID != "":
		return store.Owner{Kind: store.OwnerEpisode, FilmID: filmID, SeasonID: seasonID, EpisodeID: episodeID}, nil
	default:
		return store.Owner{}, errInvalidOwner
	}
}

var errInvalidOwner = fmt.Errorf("provide either filmId alone, or filmId with seasonId and episodeId")
