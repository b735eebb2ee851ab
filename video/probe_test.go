package video

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/vansante/go-ffprobe.v2"

	"github.com/reelhouse/reelhouse-api/errors"
)

func TestItRejectsWhenNoVideoTrackPresent(t *testing.T) {
	_, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "audio",
			},
		},
	})
	require.ErrorIs(t, err, errors.ErrUnreadableMedia)
}

func TestItRejectsWhenFormatMissing(t *testing.T) {
	_, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
			},
		},
	})
	require.ErrorIs(t, err, errors.ErrUnreadableMedia)
}

func TestItParsesSourceInfo(t *testing.T) {
	info, err := parseProbeOutput(&ffprobe.ProbeData{
		Format: &ffprobe.Format{
			Size:    "1048576",
			BitRate: "5000000",
		},
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
				CodecName: "h264",
				Width:     1920,
				Height:    1080,
				Duration:  "90.0",
			},
			{
				CodecType: "audio",
				CodecName: "aac",
			},
		},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1920, info.Width)
	require.EqualValues(t, 1080, info.Height)
	require.EqualValues(t, 90.0, info.DurationSec)
	require.EqualValues(t, 5000000, info.BitrateBps)
	require.EqualValues(t, 1048576, info.SizeBytes)
	require.Equal(t, "h264", info.VideoCodec)
	require.Equal(t, "aac", info.AudioCodec)
}

func TestItFallsBackToFormatDuration(t *testing.T) {
	info, err := parseProbeOutput(&ffprobe.ProbeData{
		Format: &ffprobe.Format{
			Size:            "1000",
			DurationSeconds: 12.5,
		},
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
				CodecName: "h264",
				Width:     640,
				Height:    480,
			},
		},
	})
	require.NoError(t, err)
	require.EqualValues(t, 12.5, info.DurationSec)
}
