package hls

import "fmt"

// Object-store key layout for one owner's artifacts, all under the owner
// prefix ({filmId} or {filmId}-{seasonId}):
//
//	{prefix}/{LABEL}_{name}.mp4                          rung MP4
//	{prefix}/hls_{LABEL}_{name}/{LABEL}_{name}.m3u8      variant playlist
//	{prefix}/hls_{LABEL}_{name}/{LABEL}_{name}_%d.ts     variant segments
//	{prefix}/master_{name}.m3u8                          master playlist
//	subtitles/{owner}/{owner}_{lang}.vtt                 subtitle tracks

func RungMP4Key(prefix, label, name string) string {
	return fmt.Sprintf("%s/%s_%s.mp4", prefix, label, name)
}

func VariantDirKey(prefix, label, name string) string {
	return fmt.Sprintf("%s/hls_%s_%s", prefix, label, name)
}

func VariantPlaylistName(label, name string) string {
	return fmt.Sprintf("%s_%s.m3u8", label, name)
}

func VariantPlaylistKey(prefix, label, name string) string {
	return VariantDirKey(prefix, label, name) + "/" + VariantPlaylistName(label, name)
}

// VariantURI is the playlist reference relative to the master playlist, which
// lives directly under the owner prefix.
func VariantURI(label, name string) string {
	return fmt.Sprintf("hls_%s_%s/%s", label, name, VariantPlaylistName(label, name))
}

func MasterKey(prefix, name string) string {
	return fmt.Sprintf("%s/master_%s.m3u8", prefix, name)
}

func SubtitleKey(owner, lang string) string {
	return fmt.Sprintf("subtitles/%s/%s_%s.vtt", owner, owner, lang)
}
