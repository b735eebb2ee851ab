package transcode

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/reelhouse/reelhouse-api/video"
)

// encodeRung runs the full re-encode of one ladder rung into a progressive
// MP4. Progress is read from ffmpeg's machine-readable `-progress pipe:1`
// stream and reported as percentages against the probed source duration.
func encodeRung(ctx context.Context, sourcePath, outPath string, rung video.Rung, source video.SourceInfo, onProgress func(int)) error {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", sourcePath,
		"-c:v", "libx264",
		"-vf", fmt.Sprintf("scale=-2:%d", rung.TargetHeight),
		"-b:v", fmt.Sprintf("%dk", rung.VideoBitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", rung.VideoBitrateKbps),
		"-bufsize", fmt.Sprintf("%dk", 2*rung.VideoBitrateKbps),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", rung.AudioBitrateKbps),
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		outPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg progress pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	scanProgress(stdout, source.DurationSec, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg encode failed [%s]: %w", lastLine(stderr.String()), err)
	}
	return nil
}

// segmentRung remuxes an already-encoded rung MP4 into a TS segment playlist.
// Stream copy only, no re-encode. The invocation is compiled through ffmpeg-go
// but executed via CommandContext so a cancel kills the child process.
func segmentRung(ctx context.Context, mp4Path, playlistPath string, segmentSec int) error {
	args := segmentArgs(mp4Path, playlistPath, segmentSec)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to segment %s [%s]: %w", mp4Path, lastLine(stderr.String()), err)
	}
	return nil
}

// segmentArgs builds the segmenter's argument list without running it.
func segmentArgs(mp4Path, playlistPath string, segmentSec int) []string {
	segmentPattern := strings.Replace(playlistPath, ".m3u8", "", 1) + "_%d.ts"
	return ffmpeg.Input(mp4Path).
		Output(segmentPattern, ffmpeg.KwArgs{
			"c":                 "copy",
			"f":                 "segment",
			"segment_list":      playlistPath,
			"segment_list_type": "m3u8",
			"segment_format":    "mpegts",
			"segment_time":      segmentSec,
		}).OverWriteOutput().GetArgs()
}

// scanProgress consumes ffmpeg key=value progress lines, converting output
// timestamps into percentages. Emission is monotonic; the terminal
// `progress=end` line pins 100.
func scanProgress(r io.Reader, durationSec float64, onProgress func(int)) {
	if onProgress == nil {
		onProgress = func(int) {}
	}
	lastPct := -1
	emit := func(pct int) {
		if pct > lastPct {
			lastPct = pct
			onProgress(pct)
		}
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if us, ok := parseProgressLine(line); ok && durationSec > 0 {
			emit(progressPct(us, durationSec))
			continue
		}
		if line == "progress=end" {
			emit(100)
		}
	}
}

// parseProgressLine extracts the output timestamp in microseconds. ffmpeg
// emits both out_time_us and out_time_ms; despite the name, both carry
// microseconds.
func parseProgressLine(line string) (int64, bool) {
	var value string
	switch {
	case strings.HasPrefix(line, "out_time_us="):
		value = strings.TrimPrefix(line, "out_time_us=")
	case strings.HasPrefix(line, "out_time_ms="):
		value = strings.TrimPrefix(line, "out_time_ms=")
	default:
		return 0, false
	}
	us, err := strconv.ParseInt(value, 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}
	return us, true
}

func progressPct(outTimeUs int64, durationSec float64) int {
	pct := int(float64(outTimeUs) / (durationSec * 1e6) * 100)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
