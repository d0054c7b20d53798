package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tunebox/internal/domain/track"
)

func newDirectServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/song.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
	})
	mux.HandleFunc("/files/a1b2.ogg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="Night Drive.ogg"`)
	})
	mux.HandleFunc("/noheads.flac", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "audio/flac")
	})
	mux.HandleFunc("/mix.m3u", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/x-mpegurl")
		fmt.Fprint(w, "#EXTM3U\n#PLAYLIST:Friday Mix\none.mp3\nhttp://other/two.mp3\n")
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDirectStrategy_Resolve(t *testing.T) {
	srv := newDirectServer(t)
	s, err := NewDirectStrategy("", srv.Client(), nil)
	require.NoError(t, err)
	assert.Equal(t, "direct", s.Name())

	ctx := context.Background()

	t.Run("audio file", func(t *testing.T) {
		res, err := s.Resolve(ctx, track.Ref(srv.URL+"/song.mp3"))
		require.NoError(t, err)
		assert.Equal(t, track.KindSingle, res.Kind)
		assert.Equal(t, "song", res.Title)
		assert.Equal(t, srv.URL+"/song.mp3", res.Endpoint)
	})

	t.Run("disposition title", func(t *testing.T) {
		res, err := s.Resolve(ctx, track.Ref(srv.URL+"/files/a1b2.ogg"))
		require.NoError(t, err)
		assert.Equal(t, "Night Drive", res.Title)
	})

	t.Run("head not allowed", func(t *testing.T) {
		res, err := s.Resolve(ctx, track.Ref(srv.URL+"/noheads.flac"))
		require.NoError(t, err)
		assert.True(t, res.Playable())
	})

	t.Run("playlist", func(t *testing.T) {
		res, err := s.Resolve(ctx, track.Ref(srv.URL+"/mix.m3u"))
		require.NoError(t, err)
		assert.Equal(t, track.KindList, res.Kind)
		assert.Equal(t, "Friday Mix", res.Title)
		assert.Equal(t, []track.Ref{track.Ref(srv.URL + "/one.mp3"), "http://other/two.mp3"}, res.Members)
	})

	t.Run("html is unplayable", func(t *testing.T) {
		_, err := s.Resolve(ctx, track.Ref(srv.URL+"/page.html"))
		assert.ErrorIs(t, err, ErrUnplayable)
	})

	t.Run("gone is not found", func(t *testing.T) {
		_, err := s.Resolve(ctx, track.Ref(srv.URL+"/gone"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("forbidden is unplayable", func(t *testing.T) {
		_, err := s.Resolve(ctx, track.Ref(srv.URL+"/forbidden"))
		assert.ErrorIs(t, err, ErrUnplayable)
	})

	t.Run("query is not applicable", func(t *testing.T) {
		_, err := s.Resolve(ctx, "artist - title")
		assert.ErrorIs(t, err, ErrNotApplicable)
	})

	t.Run("spotify link is not applicable", func(t *testing.T) {
		_, err := s.Resolve(ctx, "https://open.spotify.com/track/abc")
		assert.ErrorIs(t, err, ErrNotApplicable)
	})
}

func TestNewDirectStrategy_InvalidSettings(t *testing.T) {
	_, err := NewDirectStrategy("d", nil, map[string]any{"timeout_ms": 1})
	assert.Error(t, err)
}
