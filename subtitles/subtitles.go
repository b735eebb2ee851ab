package subtitles

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/reelhouse/reelhouse-api/clients"
	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/hls"
	"github.com/reelhouse/reelhouse-api/log"
	"github.com/reelhouse/reelhouse-api/store"
)

// MaxTrackSize bounds uploaded WebVTT payloads.
const MaxTrackSize = 5 << 20

// Track is one subtitle upload. Tracks are resolution independent: a single
// track serves every rung of the owner.
type Track struct {
	Owner    store.Owner
	Language string
	Label    string
	Default  bool
}

type objectStore interface {
	PutMultipart(ctx context.Context, in clients.PutInput) (clients.PutResult, error)
}

type metadataStore interface {
	UpsertSubtitle(ctx context.Context, s *store.Subtitle) error
}

type masterRebuilder interface {
	Rebuild(ctx context.Context, owner store.Owner) (string, error)
}

// Manager validates, stores and registers subtitle tracks, then refreshes the
// owner's master playlist so players pick the track up.
type Manager struct {
	Objects   objectStore
	Metadata  metadataStore
	Publisher masterRebuilder
}

// Upload is idempotent per (owner, language): re-uploading replaces the
// stored track and its record.
func (m *Manager) Upload(ctx context.Context, track Track, vtt []byte) (*store.Subtitle, error) {
	if len(vtt) > MaxTrackSize {
		return nil, errors.Unretriable(fmt.Errorf("subtitle track exceeds %d bytes", MaxTrackSize))
	}
	if err := ValidateWebVTT(vtt); err != nil {
		return nil, errors.Unretriable(err)
	}
	lang := strings.ToLower(strings.TrimSpace(track.Language))
	if lang == "" {
		return nil, errors.Unretriable(fmt.Errorf("subtitle language is required"))
	}
	label := track.Label
	if label == "" {
		label = lang
	}

	key := hls.SubtitleKey(track.Owner.Ref(), lang)
	_, err := m.Objects.PutMultipart(ctx, clients.PutInput{
		Key:          key,
		Body:         bytes.NewReader(vtt),
		Size:         int64(len(vtt)),
		ContentType:  clients.ContentTypeFor(key),
		CacheControl: clients.CacheControlFor(key),
		Public:       true,
	})
	if err != nil {
		return nil, &errors.UploadFailureError{Key: key, Err: err}
	}

	record := &store.Subtitle{
		OwnerRef: track.Owner.Ref(),
		Language: lang,
		Label:    label,
		Default:  track.Default,
		Key:      key,
	}
	if err := m.Metadata.UpsertSubtitle(ctx, record); err != nil {
		return nil, fmt.Errorf("error saving subtitle record: %w", err)
	}

	// no rungs yet is fine, the track joins the master once the first rung
	// publishes
	if _, err := m.Publisher.Rebuild(ctx, track.Owner); err != nil {
		log.LogNoJobID("failed to rebuild master after subtitle upload", "owner", track.Owner.Ref(), "language", lang, "err", err)
	}
	return record, nil
}

// ValidateWebVTT checks that the payload's first non-blank line is the WEBVTT
// signature. A leading UTF-8 BOM is tolerated.
func ValidateWebVTT(b []byte) error {
	content := bytes.TrimPrefix(b, []byte{0xEF, 0xBB, 0xBF})
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "WEBVTT" || strings.HasPrefix(line, "WEBVTT ") || strings.HasPrefix(line, "WEBVTT\t") || strings.HasPrefix(line, "WEBVTT-") {
			return nil
		}
		return fmt.Errorf("not a WebVTT file: first line is %q", line)
	}
	return fmt.Errorf("not a WebVTT file: empty payload")
}
