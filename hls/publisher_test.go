package hls

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reelhouse/reelhouse-api/clients"
	"github.com/reelhouse/reelhouse-api/store"
)

type fakeObjects struct {
	puts    []string
	bodies  map[string][]byte
	copies  [][2]string
	deletes []string
}

func (f *fakeObjects) PutMultipart(_ context.Context, in clients.PutInput) (clients.PutResult, error) {
	if f.bodies == nil {
		f.bodies = map[string][]byte{}
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return clients.PutResult{}, err
	}
	f.puts = append(f.puts, in.Key)
	f.bodies[in.Key] = body
	return clients.PutResult{URL: f.URLFor(in.Key)}, nil
}

func (f *fakeObjects) Copy(_ context.Context, srcKey, dstKey string) error {
	f.copies = append(f.copies, [2]string{srcKey, dstKey})
	return nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.deletes = append(f.deletes, key)
	return nil
}

func (f *fakeObjects) URLFor(key string) string { return "https://cdn.example.com/" + key }

type fakeMetadata struct {
	videos    []store.Video
	subtitles []store.Subtitle
}

func (f *fakeMetadata) VideosByOwner(context.Context, string) ([]store.Video, error) {
	return f.videos, nil
}

func (f *fakeMetadata) SubtitlesByOwner(context.Context, string) ([]store.Subtitle, error) {
	return f.subtitles, nil
}

func TestRebuildReplacesMasterThroughTempKey(t *testing.T) {
	owner := store.Owner{Kind: store.OwnerFilm, FilmID: "film-1"}
	objects := &fakeObjects{}
	p := &Publisher{
		Objects: objects,
		Metadata: &fakeMetadata{
			videos: []store.Video{
				{Name: "film-1/SD_movie.mp4", Resolution: "SD", HLSPlaylistKey: "film-1/hls_SD_movie/SD_movie.m3u8"},
				{Name: "film-1/HD_movie.mp4", Resolution: "HD", HLSPlaylistKey: "film-1/hls_HD_movie/HD_movie.m3u8"},
				{Name: "film-1/trailer.mp4", Resolution: "HD", IsTrailer: true},
			},
			subtitles: []store.Subtitle{
				{Language: "en", Label: "English", Default: true, Key: "subtitles/film-1/film-1_en.vtt"},
			},
		},
	}

	masterKey, err := p.Rebuild(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, "film-1/master_movie.m3u8", masterKey)

	// write goes to the temp key, the live key is only ever copied onto
	require.Equal(t, []string{"film-1/master_movie.m3u8.tmp"}, objects.puts)
	require.Equal(t, [][2]string{{"film-1/master_movie.m3u8.tmp", "film-1/master_movie.m3u8"}}, objects.copies)
	require.Equal(t, []string{"film-1/master_movie.m3u8.tmp"}, objects.deletes)

	playlist := string(objects.bodies["film-1/master_movie.m3u8.tmp"])
	require.Contains(t, playlist, "hls_SD_movie/SD_movie.m3u8")
	require.Contains(t, playlist, "hls_HD_movie/HD_movie.m3u8")
	require.Contains(t, playlist, `SUBTITLES="subs"`)
	require.NotContains(t, playlist, "trailer")
}

func TestRebuildNoRungsIsANoOp(t *testing.T) {
	objects := &fakeObjects{}
	p := &Publisher{Objects: objects, Metadata: &fakeMetadata{}}
	masterKey, err := p.Rebuild(context.Background(), store.Owner{Kind: store.OwnerFilm, FilmID: "film-1"})
	require.NoError(t, err)
	require.Empty(t, masterKey)
	require.Empty(t, objects.puts)
}
