package hls

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/reelhouse/reelhouse-api/clients"
	"github.com/reelhouse/reelhouse-api/log"
	"github.com/reelhouse/reelhouse-api/store"
	"github.com/reelhouse/reelhouse-api/video"
)

type objectStore interface {
	PutMultipart(ctx context.Context, in clients.PutInput) (clients.PutResult, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, key string) error
	URLFor(key string) string
}

type metadataStore interface {
	VideosByOwner(ctx context.Context, ownerRef string) ([]store.Video, error)
	SubtitlesByOwner(ctx context.Context, ownerRef string) ([]store.Subtitle, error)
}

// Publisher rebuilds and atomically replaces an owner's master playlist from
// the persisted rung and subtitle records.
type Publisher struct {
	Objects  objectStore
	Metadata metadataStore
}

// Rebuild writes the new master to a temp key, server-side copies it over the
// live key and removes the temp. Readers of the live key always see a
// complete playlist. Returns the master key, or "" when the owner has no
// rungs yet.
func (p *Publisher) Rebuild(ctx context.Context, owner store.Owner) (string, error) {
	videos, err := p.Metadata.VideosByOwner(ctx, owner.Ref())
	if err != nil {
		return "", fmt.Errorf("error loading videos for master rebuild: %w", err)
	}

	var variants []Variant
	var baseName string
	for _, v := range videos {
		if v.IsTrailer || v.HLSPlaylistKey == "" {
			continue
		}
		rung, ok := video.ByLabel(v.Resolution)
		if !ok {
			log.LogNoJobID("skipping rung with unknown resolution", "resolution", v.Resolution, "owner", owner.Ref())
			continue
		}
		baseName = baseNameFromKey(v.Name, v.Resolution)
		variants = append(variants, Variant{
			Label:      v.Resolution,
			Bandwidth:  rung.BandwidthBps(),
			Resolution: NominalResolution(rung),
			URI:        VariantURI(v.Resolution, baseName),
		})
	}
	if len(variants) == 0 {
		return "", nil
	}

	subtitles, err := p.Metadata.SubtitlesByOwner(ctx, owner.Ref())
	if err != nil {
		return "", fmt.Errorf("error loading subtitles for master rebuild: %w", err)
	}
	var tracks []SubtitleTrack
	for _, s := range subtitles {
		tracks = append(tracks, SubtitleTrack{
			Language: s.Language,
			Label:    s.Label,
			Default:  s.Default,
			URI:      p.Objects.URLFor(s.Key),
		})
	}

	playlist, err := BuildMaster(variants, tracks)
	if err != nil {
		return "", err
	}

	masterKey := MasterKey(owner.Prefix(), baseName)
	tempKey := masterKey + ".tmp"
	publish := func() error {
		_, err := p.Objects.PutMultipart(ctx, clients.PutInput{
			Key:          tempKey,
			Body:         bytes.NewReader(playlist),
			Size:         int64(len(playlist)),
			ContentType:  clients.ContentTypeFor(masterKey),
			CacheControl: clients.CacheControlFor(masterKey),
			Public:       true,
		})
		if err != nil {
			return err
		}
		return p.Objects.Copy(ctx, tempKey, masterKey)
	}
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = time.Second
	backOff.MaxElapsedTime = 0
	// 3 attempts total
	if err := backoff.Retry(publish, backoff.WithContext(backoff.WithMaxRetries(backOff, 2), ctx)); err != nil {
		return "", fmt.Errorf("error publishing master playlist %s: %w", masterKey, err)
	}
	if err := p.Objects.Delete(ctx, tempKey); err != nil {
		log.LogNoJobID("failed to delete temp master playlist", "key", tempKey, "err", err)
	}
	return masterKey, nil
}

// baseNameFromKey recovers the sanitized upload name from a rung MP4 key of
// the form {prefix}/{LABEL}_{name}.mp4.
func baseNameFromKey(key, label string) string {
	base := strings.TrimSuffix(path.Base(key), path.Ext(key))
	return strings.TrimPrefix(base, label+"_")
}
