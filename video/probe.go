package video

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"

	"github.com/reelhouse/reelhouse-api/errors"
)

// ProbeTimeout bounds a single probe attempt.
const ProbeTimeout = 5 * time.Minute

// SourceInfo is everything the pipeline needs to know about a reassembled
// source file before transcoding it.
type SourceInfo struct {
	DurationSec float64
	Width       int64
	Height      int64
	BitrateBps  int64
	VideoCodec  string
	AudioCodec  string
	SizeBytes   int64
}

type Prober interface {
	Probe(ctx context.Context, path string) (SourceInfo, error)
}

type Probe struct{}

// Probe extracts duration, resolution, bitrate and codecs from the source.
// Transient probe failures are retried; an input with no decodable video
// stream fails with ErrUnreadableMedia.
func (p Probe) Probe(ctx context.Context, path string) (SourceInfo, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(ctx, ProbeTimeout)
		defer probeCancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0 // the per-attempt deadline is the only timeout
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backOff, 2), ctx)); err != nil {
		return SourceInfo{}, fmt.Errorf("%w: %s", errors.ErrUnreadableMedia, err)
	}
	return parseProbeOutput(data)
}

func parseProbeOutput(probeData *ffprobe.ProbeData) (SourceInfo, error) {
	videoStream := probeData.FirstVideoStream()
	if videoStream == nil {
		return SourceInfo{}, fmt.Errorf("%w: no video stream found", errors.ErrUnreadableMedia)
	}
	if probeData.Format == nil {
		return SourceInfo{}, fmt.Errorf("%w: format information missing", errors.ErrUnreadableMedia)
	}

	bitRateValue := videoStream.BitRate
	if bitRateValue == "" {
		bitRateValue = probeData.Format.BitRate
	}
	var bitrate int64
	if bitRateValue != "" {
		var err error
		bitrate, err = strconv.ParseInt(bitRateValue, 10, 64)
		if err != nil {
			return SourceInfo{}, fmt.Errorf("error parsing bitrate from probed data: %w", err)
		}
	}

	var size int64
	if probeData.Format.Size != "" {
		var err error
		size, err = strconv.ParseInt(probeData.Format.Size, 10, 64)
		if err != nil {
			return SourceInfo{}, fmt.Errorf("error parsing filesize from probed data: %w", err)
		}
	}

	duration, err := strconv.ParseFloat(videoStream.Duration, 64)
	if err != nil {
		duration = probeData.Format.DurationSeconds
	}
	if duration <= 0 {
		return SourceInfo{}, fmt.Errorf("%w: source has no duration", errors.ErrUnreadableMedia)
	}

	info := SourceInfo{
		DurationSec: duration,
		Width:       int64(videoStream.Width),
		Height:      int64(videoStream.Height),
		BitrateBps:  bitrate,
		VideoCodec:  videoStream.CodecName,
		SizeBytes:   size,
	}
	if audioStream := probeData.FirstAudioStream(); audioStream != nil {
		info.AudioCodec = audioStream.CodecName
	}
	return info, nil
}
