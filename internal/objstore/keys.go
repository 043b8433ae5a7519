package objstore

import "fmt"

// Key layout: one stashed source per job under original/, one artifact set
// per job under converted/<name>/. Names are random per job, so every prefix
// is content-unique.

func OriginalKey(name string) string {
	return fmt.Sprintf("original/%s.mp4", name)
}

func ConvertedPrefix(name string) string {
	return fmt.Sprintf("converted/%s", name)
}

func PlaylistKey(name string) string {
	return fmt.Sprintf("converted/%s/%s.m3u8", name, name)
}

func PlaybackURL(cdnDomain, name string) string {
	return fmt.Sprintf("https://%s/%s", cdnDomain, PlaylistKey(name))
}

// InvalidationPath is the wildcard path handed to the CDN after the artifact
// set changes.
func InvalidationPath(name string) string {
	return fmt.Sprintf("/converted/%s/*", name)
}
