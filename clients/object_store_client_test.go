package clients

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentTypeFor(t *testing.T) {
	require.Equal(t, "application/vnd.apple.mpegurl", ContentTypeFor("master_movie.m3u8"))
	require.Equal(t, "video/mp2t", ContentTypeFor("hd_movie_001.ts"))
	require.Equal(t, "text/vtt", ContentTypeFor("movie_en.vtt"))
	require.Equal(t, "video/mp4", ContentTypeFor("HD_movie.mp4"))
	require.Equal(t, "application/octet-stream", ContentTypeFor("noextension"))
}

func TestCacheControlFor(t *testing.T) {
	// playlists mutate during ladder build, segments never change
	require.Equal(t, "max-age=10", CacheControlFor("master_movie.m3u8"))
	require.Equal(t, "max-age=31536000, immutable", CacheControlFor("seg_001.ts"))
	require.Equal(t, "max-age=31536000, immutable", CacheControlFor("movie_en.vtt"))
}

func TestProgressReaderReportsMonotonicPercentages(t *testing.T) {
	var got []int
	pr := &progressReader{
		r:          strings.NewReader(strings.Repeat("x", 100)),
		total:      100,
		onProgress: func(pct int) { got = append(got, pct) },
	}

	buf := make([]byte, 33)
	for {
		_, err := pr.Read(buf)
		if err != nil {
			break
		}
	}

	require.NotEmpty(t, got)
	last := 0
	for _, pct := range got {
		require.Greater(t, pct, last)
		last = pct
	}
	require.Equal(t, 100, last)
}

func TestURLFor(t *testing.T) {
	o := &ObjectStore{baseURL: "https://cdn.example.com/media", bucket: "media"}
	require.Equal(t, "https://cdn.example.com/media/F1/master_movie.m3u8", o.URLFor("F1/master_movie.m3u8"))
}
