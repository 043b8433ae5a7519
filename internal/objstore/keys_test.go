package objstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Nxdus/clustra-project/internal/objstore"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "original/abc123.mp4", objstore.OriginalKey("abc123"))
	assert.Equal(t, "converted/abc123", objstore.ConvertedPrefix("abc123"))
	assert.Equal(t, "converted/abc123/abc123.m3u8", objstore.PlaylistKey("abc123"))
	assert.Equal(t, "https://cdn.example.com/converted/abc123/abc123.m3u8", objstore.PlaybackURL("cdn.example.com", "abc123"))
	assert.Equal(t, "/converted/abc123/*", objstore.InvalidationPath("abc123"))
}
