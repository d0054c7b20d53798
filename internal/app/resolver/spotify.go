package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/domain/track"
	"github.com/osa030/tunebox/internal/infra/spotify"
)

// SpotifyCatalog is the subset of the Spotify client used for resolving.
type SpotifyCatalog interface {
	GetTrack(ctx context.Context, input string) (*spotify.Track, error)
	GetPlaylistTracks(ctx context.Context, input string) (string, []spotify.Track, error)
	GetAlbumTracks(ctx context.Context, input string) (string, []spotify.Track, error)
}

// SpotifyConfig configures the Spotify strategy.
type SpotifyConfig struct {
	MaxTracks int `mapstructure:"max_tracks" default:"100" validate:"gte=1,lte=1000"`
}

// SpotifyStrategy expands Spotify links into search-query refs. Spotify
// audio is not streamable, so every result is a list that later strategies
// resolve by query.
type SpotifyStrategy struct {
	name    string
	catalog SpotifyCatalog
	config  *SpotifyConfig
}

// NewSpotifyStrategy creates a Spotify strategy from free-form settings.
func NewSpotifyStrategy(name string, catalog SpotifyCatalog, settings map[string]any) (*SpotifyStrategy, error) {
	if catalog == nil {
		return nil, errors.New("spotify client is required")
	}
	var cfg SpotifyConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	if name == "" {
		name = "spotify"
	}
	return &SpotifyStrategy{name: name, catalog: catalog, config: &cfg}, nil
}

// Name returns the strategy name.
func (s *SpotifyStrategy) Name() string {
	return s.name
}

// Resolve expands a track, playlist or album link.
func (s *SpotifyStrategy) Resolve(ctx context.Context, ref track.Ref) (*track.Resolution, error) {
	input := string(ref)

	switch spotify.Classify(input) {
	case spotify.KindTrack:
		t, err := s.catalog.GetTrack(ctx, input)
		if err != nil {
			return nil, s.classify(ctx, err)
		}
		return track.NewList(t.Query(), []track.Ref{track.Ref(t.Query())}), nil

	case spotify.KindPlaylist:
		name, tracks, err := s.catalog.GetPlaylistTracks(ctx, input)
		if err != nil {
			return nil, s.classify(ctx, err)
		}
		return s.toList(name, tracks)

	case spotify.KindAlbum:
		name, tracks, err := s.catalog.GetAlbumTracks(ctx, input)
		if err != nil {
			return nil, s.classify(ctx, err)
		}
		return s.toList(name, tracks)

	default:
		return nil, ErrNotApplicable
	}
}

func (s *SpotifyStrategy) toList(name string, tracks []spotify.Track) (*track.Resolution, error) {
	if len(tracks) == 0 {
		return nil, Unplayable(errors.Newf("%s has no playable tracks", name))
	}
	if len(tracks) > s.config.MaxTracks {
		zlog.Debug().Msgf("truncating spotify list: name=%s tracks=%d max=%d", name, len(tracks), s.config.MaxTracks)
		tracks = tracks[:s.config.MaxTracks]
	}
	members := make([]track.Ref, 0, len(tracks))
	for _, t := range tracks {
		members = append(members, track.Ref(t.Query()))
	}
	return track.NewList(name, members), nil
}

func (s *SpotifyStrategy) classify(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return Timeout(err)
	case spotify.IsNotFound(err):
		return NotFound(err)
	default:
		return err
	}
}
