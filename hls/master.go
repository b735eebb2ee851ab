package hls

import (
	"fmt"
	"sort"

	"github.com/grafov/m3u8"

	"github.com/reelhouse/reelhouse-api/video"
)

const subtitleGroupID = "subs"

// Variant is one rendition entry of the master playlist.
type Variant struct {
	Label      string
	Bandwidth  uint32
	Resolution string // "WxH"
	URI        string
}

// SubtitleTrack is one EXT-X-MEDIA subtitle entry.
type SubtitleTrack struct {
	Language string
	Label    string
	Default  bool
	URI      string
}

// NominalResolution renders the rung's advertised RESOLUTION attribute
// assuming a 16:9 source.
func NominalResolution(r video.Rung) string {
	return fmt.Sprintf("%dx%d", r.Width(16, 9), r.TargetHeight)
}

// BuildMaster renders the master playlist: subtitle media entries first, then
// stream variants in ascending bandwidth so players start low and switch up.
func BuildMaster(variants []Variant, subtitles []SubtitleTrack) ([]byte, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("no variants to build a master playlist from")
	}
	sorted := make([]Variant, len(variants))
	copy(sorted, variants)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bandwidth < sorted[j].Bandwidth })

	var alternatives []*m3u8.Alternative
	for _, s := range subtitles {
		alternatives = append(alternatives, &m3u8.Alternative{
			GroupId:    subtitleGroupID,
			Type:       "SUBTITLES",
			Language:   s.Language,
			Name:       s.Label,
			Default:    s.Default,
			Autoselect: "YES",
			Forced:     "NO",
			URI:        s.URI,
		})
	}

	master := m3u8.NewMasterPlaylist()
	master.SetVersion(3)
	for i, v := range sorted {
		params := m3u8.VariantParams{
			Bandwidth:  v.Bandwidth,
			Resolution: v.Resolution,
		}
		if len(subtitles) > 0 {
			params.Subtitles = subtitleGroupID
			if i == 0 {
				// media entries are playlist-global; attach them once
				params.Alternatives = alternatives
			}
		}
		master.Append(v.URI, &m3u8.MediaPlaylist{}, params)
	}
	return master.Encode().Bytes(), nil
}
