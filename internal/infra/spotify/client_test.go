package spotify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zmb3/spotify/v2"
)

func TestExtractID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		kind     string
		expected string
	}{
		{"playlist URI", "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M", "playlist", "37i9dQZF1DXcBWIGoYBM5M"},
		{"playlist URL", "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M", "playlist", "37i9dQZF1DXcBWIGoYBM5M"},
		{"playlist URL with query", "https://open.spotify.com/playlist/abc123?si=xyz&utm_source=copy", "playlist", "abc123"},
		{"intl track URL", "https://open.spotify.com/intl-ja/track/4uLU6hMCjMI75M1A2tKUQC/", "track", "4uLU6hMCjMI75M1A2tKUQC"},
		{"album URI", "spotify:album:1A2B", "album", "1A2B"},
		{"plain ID", "4uLU6hMCjMI75M1A2tKUQC", "track", "4uLU6hMCjMI75M1A2tKUQC"},
		{"empty", "", "track", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractID(tt.input, tt.kind))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTrack, Classify("https://open.spotify.com/track/abc"))
	assert.Equal(t, KindPlaylist, Classify("spotify:playlist:abc"))
	assert.Equal(t, KindAlbum, Classify("https://open.spotify.com/intl-de/album/abc?si=1"))
	assert.Equal(t, KindUnknown, Classify("https://example.com/track/abc"))
	assert.Equal(t, KindUnknown, Classify("some search query"))
}

func TestTrack_Query(t *testing.T) {
	assert.Equal(t, "A, B - Song", Track{Name: "Song", Artists: []string{"A", "B"}}.Query())
	assert.Equal(t, "Song", Track{Name: "Song"}.Query())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"rate limit text", errors.New("rate limit exceeded"), true},
		{"server error 503", errors.New("503 Service Unavailable"), true},
		{"client error 400", errors.New("400 Bad Request"), false},
		{"typed 429", spotify.Error{Status: 429, Message: "slow down"}, true},
		{"typed 502", spotify.Error{Status: 502}, true},
		{"typed 404", spotify.Error{Status: 404}, false},
		{"generic error", errors.New("something went wrong"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(spotify.Error{Status: 404, Message: "Not found"}))
	assert.True(t, IsNotFound(errors.New("Error 404")))
	assert.False(t, IsNotFound(spotify.Error{Status: 500}))
}
