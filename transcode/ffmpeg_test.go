package transcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProgressLine(t *testing.T) {
	us, ok := parseProgressLine("out_time_us=4500000")
	require.True(t, ok)
	require.EqualValues(t, 4500000, us)

	// out_time_ms also carries microseconds
	us, ok = parseProgressLine("out_time_ms=4500000")
	require.True(t, ok)
	require.EqualValues(t, 4500000, us)

	_, ok = parseProgressLine("frame=120")
	require.False(t, ok)
	_, ok = parseProgressLine("out_time_us=N/A")
	require.False(t, ok)
	_, ok = parseProgressLine("out_time_us=-1")
	require.False(t, ok)
}

func TestProgressPctClamps(t *testing.T) {
	require.Equal(t, 50, progressPct(45_000_000, 90))
	require.Equal(t, 100, progressPct(95_000_000, 90))
	require.Equal(t, 0, progressPct(0, 90))
}

func TestScanProgressEmitsMonotonically(t *testing.T) {
	input := strings.Join([]string{
		"frame=1",
		"out_time_us=9000000",   // 10%
		"out_time_us=9100000",   // still 10, suppressed
		"out_time_us=45000000",  // 50%
		"out_time_us=44000000",  // regression, suppressed
		"out_time_us=90000000",  // 100%
		"progress=end",
	}, "\n")

	var got []int
	scanProgress(strings.NewReader(input), 90, func(pct int) { got = append(got, pct) })
	require.Equal(t, []int{10, 50, 100}, got)
}

func TestScanProgressEndPinsHundred(t *testing.T) {
	var got []int
	scanProgress(strings.NewReader("out_time_us=45000000\nprogress=end\n"), 90, func(pct int) { got = append(got, pct) })
	require.Equal(t, []int{50, 100}, got)
}

func TestSegmentArgsStreamCopyIntoPlaylist(t *testing.T) {
	args := segmentArgs("/scratch/HD_movie.mp4", "/scratch/hls_HD_movie/HD_movie.m3u8", 6)

	require.Contains(t, args, "-y")
	requireFlag(t, args, "-i", "/scratch/HD_movie.mp4")
	requireFlag(t, args, "-c", "copy")
	requireFlag(t, args, "-f", "segment")
	requireFlag(t, args, "-segment_list", "/scratch/hls_HD_movie/HD_movie.m3u8")
	requireFlag(t, args, "-segment_list_type", "m3u8")
	requireFlag(t, args, "-segment_format", "mpegts")
	requireFlag(t, args, "-segment_time", "6")
	require.Contains(t, args, "/scratch/hls_HD_movie/HD_movie_%d.ts")
}

func requireFlag(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			require.Equal(t, value, args[i+1], "value of %s", flag)
			return
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
}

func TestLastLine(t *testing.T) {
	require.Equal(t, "b", lastLine("a\nb\n"))
	require.Equal(t, "only", lastLine("only"))
}
