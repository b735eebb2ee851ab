package playback

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/reelhouse/reelhouse-api/clients"
	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/log"
	"github.com/reelhouse/reelhouse-api/store"
)

type objectStore interface {
	Head(ctx context.Context, key string) (clients.HeadInfo, error)
	GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type trackStore interface {
	VideoByID(ctx context.Context, id string) (*store.Video, error)
}

// Handler streams stored artifacts back to players: ranged MP4 for
// progressive playback, playlists and segments for HLS.
type Handler struct {
	Objects  objectStore
	Metadata trackStore
}

// HandleMP4 serves one byte range of a track's MP4. The Range header is
// mandatory: full-object requests would buffer whole films through the
// service, so their absence is a client error (416).
func (h *Handler) HandleMP4(w http.ResponseWriter, r *http.Request, trackID string) {
	track, err := h.Metadata.VideoByID(r.Context(), trackID)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			errors.WriteHTTPNotFound(w, "track not found", err)
			return
		}
		errors.WriteHTTPInternalServerError(w, "failed to load track", err)
		return
	}

	head, err := h.Objects.Head(r.Context(), track.Name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	size := head.ContentLength

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		errors.WriteHTTPRangeNotSatisfiable(w, size, "Range header is required", nil)
		return
	}
	start, end, err := ParseRange(rangeHeader, size)
	if err != nil {
		errors.WriteHTTPRangeNotSatisfiable(w, size, "unsatisfiable byte range", err)
		return
	}

	body, err := h.Objects.GetRange(r.Context(), track.Name, start, end)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	defer body.Close()

	contentType := head.ContentType
	if contentType == "" {
		contentType = clients.ContentTypeFor(track.Name)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.Copy(w, body); err != nil {
		log.LogNoJobID("error streaming mp4 range", "track_id", trackID, "err", err)
	}
}

// HandleHLS proxies a playlist, segment or subtitle object by key, with the
// cache policy the artifact was stored under.
func (h *Handler) HandleHLS(w http.ResponseWriter, r *http.Request, key string) {
	body, err := h.Objects.Get(r.Context(), key)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", clients.ContentTypeFor(key))
	if cc := clients.CacheControlFor(key); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	if _, err := io.Copy(w, body); err != nil {
		log.LogNoJobID("error streaming hls object", "key", key, "err", err)
	}
}

// ParseRange parses a single-range "bytes=" header against the object size,
// clamping an open or overlong end to the last byte. "bytes=-N" means the
// final N bytes.
func ParseRange(header string, size int64) (int64, int64, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range unit in %q", header)
	}
	if strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("multipart ranges are not supported")
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}

	if startStr == "" {
		// suffix range: last N bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("malformed suffix range %q", header)
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("malformed range start %q", header)
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("malformed range end %q", header)
		}
	}
	if end > size-1 {
		end = size - 1
	}
	if start > end || start >= size {
		return 0, 0, fmt.Errorf("range %d-%d outside object of %d bytes", start, end, size)
	}
	return start, end, nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, errors.ErrNotFound):
		errors.WriteHTTPNotFound(w, "object not found", err)
	case stderrors.Is(err, errors.ErrForbidden):
		errors.WriteHTTPForbidden(w, "access denied", err)
	default:
		errors.WriteHTTPInternalServerError(w, "object store error", err)
	}
}
