package handlers

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/reelhouse/reelhouse-api/errors"
)

// Stream serves one byte range of a track's progressive MP4.
func (d *HandlersCollection) Stream() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		d.Playback.HandleMP4(w, req, ps.ByName("trackId"))
	}
}

// HLS proxies playlists, segments and subtitle files by object key.
func (d *HandlersCollection) HLS() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		key := strings.TrimPrefix(ps.ByName("key"), "/")
		if key == "" || strings.Contains(key, "..") {
			errors.WriteHTTPBadRequest(w, "Invalid object key", nil)
			return
		}
		d.Playback.HandleHLS(w, req, key)
	}
}
