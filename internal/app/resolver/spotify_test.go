package resolver

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	spotifyapi "github.com/zmb3/spotify/v2"

	"github.com/osa030/tunebox/internal/domain/track"
	"github.com/osa030/tunebox/internal/infra/spotify"
)

type fakeCatalog struct {
	track     *spotify.Track
	tracks    []spotify.Track
	listName  string
	err       error
	lastInput string
}

func (f *fakeCatalog) GetTrack(_ context.Context, input string) (*spotify.Track, error) {
	f.lastInput = input
	return f.track, f.err
}

func (f *fakeCatalog) GetPlaylistTracks(_ context.Context, input string) (string, []spotify.Track, error) {
	f.lastInput = input
	return f.listName, f.tracks, f.err
}

func (f *fakeCatalog) GetAlbumTracks(_ context.Context, input string) (string, []spotify.Track, error) {
	f.lastInput = input
	return f.listName, f.tracks, f.err
}

func TestSpotifyStrategy_Track(t *testing.T) {
	cat := &fakeCatalog{track: &spotify.Track{Name: "Song", Artists: []string{"Band"}}}
	s, err := NewSpotifyStrategy("", cat, nil)
	require.NoError(t, err)

	res, err := s.Resolve(context.Background(), "https://open.spotify.com/track/abc")
	require.NoError(t, err)
	assert.Equal(t, track.KindList, res.Kind)
	assert.Equal(t, []track.Ref{"Band - Song"}, res.Members)
}

func TestSpotifyStrategy_PlaylistTruncated(t *testing.T) {
	cat := &fakeCatalog{
		listName: "Road Trip",
		tracks: []spotify.Track{
			{Name: "One", Artists: []string{"A"}},
			{Name: "Two", Artists: []string{"B"}},
			{Name: "Three", Artists: []string{"C"}},
		},
	}
	s, err := NewSpotifyStrategy("sp", cat, map[string]any{"max_tracks": 2})
	require.NoError(t, err)

	res, err := s.Resolve(context.Background(), "spotify:playlist:xyz")
	require.NoError(t, err)
	assert.Equal(t, "Road Trip", res.Title)
	assert.Equal(t, []track.Ref{"A - One", "B - Two"}, res.Members)
}

func TestSpotifyStrategy_Errors(t *testing.T) {
	ctx := context.Background()

	s, err := NewSpotifyStrategy("", &fakeCatalog{err: spotifyapi.Error{Status: 404, Message: "not found"}}, nil)
	require.NoError(t, err)
	_, err = s.Resolve(ctx, "https://open.spotify.com/album/zzz")
	assert.ErrorIs(t, err, ErrNotFound)

	s, err = NewSpotifyStrategy("", &fakeCatalog{listName: "Empty"}, nil)
	require.NoError(t, err)
	_, err = s.Resolve(ctx, "https://open.spotify.com/playlist/zzz")
	assert.ErrorIs(t, err, ErrUnplayable)

	_, err = s.Resolve(ctx, "https://example.com/a.mp3")
	assert.ErrorIs(t, err, ErrNotApplicable)

	_, err = NewSpotifyStrategy("", nil, nil)
	assert.Error(t, err)

	s, err = NewSpotifyStrategy("", &fakeCatalog{err: errors.New("500 upstream")}, nil)
	require.NoError(t, err)
	_, err = s.Resolve(ctx, "spotify:track:1")
	assert.Equal(t, ReasonUnplayable, ReasonOf(err))
}
