package video

import "fmt"

// Resolution labels for ladder rungs.
const (
	ResolutionSD  = "SD"
	ResolutionHD  = "HD"
	ResolutionFHD = "FHD"
	ResolutionUHD = "UHD"
)

// Rung is a single {resolution, bitrate} output of the transcode ladder.
type Rung struct {
	Label            string
	TargetHeight     int64
	VideoBitrateKbps int64
	AudioBitrateKbps int64
}

// BandwidthBps is the HLS STREAM-INF bandwidth advertised for this rung.
func (r Rung) BandwidthBps() uint32 {
	return uint32((r.VideoBitrateKbps + r.AudioBitrateKbps) * 1000)
}

// Width returns the rung's width for a source aspect ratio, rounded to the
// nearest even number as required by the encoder.
func (r Rung) Width(sourceWidth, sourceHeight int64) int64 {
	if sourceHeight == 0 {
		return 0
	}
	w := sourceWidth * r.TargetHeight / sourceHeight
	return w + (w & 1)
}

func (r Rung) String() string {
	return fmt.Sprintf("%s(%dp@%dkbps)", r.Label, r.TargetHeight, r.VideoBitrateKbps)
}

type Ladder []Rung

// DefaultLadder is the fixed resolution ladder, ascending quality.
var DefaultLadder = Ladder{
	{Label: ResolutionSD, TargetHeight: 480, VideoBitrateKbps: 1000, AudioBitrateKbps: 128},
	{Label: ResolutionHD, TargetHeight: 720, VideoBitrateKbps: 2500, AudioBitrateKbps: 128},
	{Label: ResolutionFHD, TargetHeight: 1080, VideoBitrateKbps: 5000, AudioBitrateKbps: 192},
	{Label: ResolutionUHD, TargetHeight: 2160, VideoBitrateKbps: 15000, AudioBitrateKbps: 192},
}

// ForSource drops rungs that would upscale the source.
func (l Ladder) ForSource(sourceHeight int64) Ladder {
	out := make(Ladder, 0, len(l))
	for _, r := range l {
		if r.TargetHeight <= sourceHeight {
			out = append(out, r)
		}
	}
	if len(out) == 0 && len(l) > 0 {
		// sources below the lowest rung still get one output
		out = append(out, l[0])
	}
	return out
}

// Without drops the rungs whose labels are in exclude; used by the
// pre-transcode hook to skip rungs that already have persisted artifacts.
func (l Ladder) Without(exclude map[string]bool) Ladder {
	out := make(Ladder, 0, len(l))
	for _, r := range l {
		if !exclude[r.Label] {
			out = append(out, r)
		}
	}
	return out
}

// ByLabel finds a rung in the default ladder.
func ByLabel(label string) (Rung, bool) {
	for _, r := range DefaultLadder {
		if r.Label == label {
			return r, true
		}
	}
	return Rung{}, false
}
