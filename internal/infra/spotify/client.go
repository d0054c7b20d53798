// Package spotify provides a client for the Spotify catalog API.
package spotify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// Track is the catalog information needed to search for a track elsewhere.
type Track struct {
	ID       string
	Name     string
	Artists  []string
	Album    string
	Duration time.Duration
	URL      string
}

// Query returns a search query of the form "artist1, artist2 - name".
func (t Track) Query() string {
	if len(t.Artists) == 0 {
		return t.Name
	}
	return strings.Join(t.Artists, ", ") + " - " + t.Name
}

// Kind is the kind of catalog object a link points at.
type Kind int

const (
	KindUnknown Kind = iota
	KindTrack
	KindPlaylist
	KindAlbum
)

// Client is a Spotify API client using the client-credentials flow.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
}

// New creates a new Spotify client. Tokens are fetched and refreshed lazily.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}

	market := cfg.Market
	if market == "" {
		market = "JP"
	}

	return &Client{
		client:     spotify.New(cc.Client(ctx)),
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// GetTrack retrieves a track by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, input string) (*Track, error) {
	id := extractID(input, "track")
	if id == "" {
		return nil, errors.New("invalid track URL")
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}

	return convertSimple(&result.SimpleTrack, result.Album.Name), nil
}

// GetPlaylistTracks retrieves the name and all tracks of a playlist.
func (c *Client) GetPlaylistTracks(ctx context.Context, input string) (string, []Track, error) {
	id := extractID(input, "playlist")
	if id == "" {
		return "", nil, errors.New("invalid playlist URL")
	}

	var name string
	err := c.retry(ctx, func() error {
		p, err := c.client.GetPlaylist(ctx, spotify.ID(id), spotify.Fields("name"))
		if err != nil {
			return err
		}
		name = p.Name
		return nil
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to get playlist")
	}

	var tracks []Track
	offset := 0
	limit := 100

	for {
		var page *spotify.PlaylistItemPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(id),
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return "", nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			// Episodes have no Track
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				tracks = append(tracks, *convertSimple(&item.Track.Track.SimpleTrack, item.Track.Track.Album.Name))
			}
		}

		if len(page.Items) < limit {
			break
		}
		offset += limit
	}

	return name, tracks, nil
}

// GetAlbumTracks retrieves the name and all tracks of an album.
func (c *Client) GetAlbumTracks(ctx context.Context, input string) (string, []Track, error) {
	id := extractID(input, "album")
	if id == "" {
		return "", nil, errors.New("invalid album URL")
	}

	var album *spotify.FullAlbum
	err := c.retry(ctx, func() error {
		a, err := c.client.GetAlbum(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		album = a
		return nil
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to get album")
	}

	tracks := make([]Track, 0, len(album.Tracks.Tracks))
	for i := range album.Tracks.Tracks {
		tracks = append(tracks, *convertSimple(&album.Tracks.Tracks[i], album.Name))
	}
	return album.Name, tracks, nil
}

func convertSimple(t *spotify.SimpleTrack, album string) *Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}
	return &Track{
		ID:       string(t.ID),
		Name:     t.Name,
		Artists:  artists,
		Album:    album,
		Duration: time.Duration(t.Duration) * time.Millisecond,
		URL:      fmt.Sprintf("https://open.spotify.com/track/%s", t.ID),
	}
}

// retry retries an operation with linear backoff while ctx is alive.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), lastErr.Error())
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se spotify.Error
	if errors.As(err, &se) {
		return se.Status == 429 || se.Status >= 500
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// IsNotFound reports whether err is a catalog 404.
func IsNotFound(err error) bool {
	var se spotify.Error
	if errors.As(err, &se) {
		return se.Status == 404
	}
	return strings.Contains(err.Error(), "404") || strings.Contains(strings.ToLower(err.Error()), "non existing id")
}

// Classify returns the kind of catalog object input points at.
func Classify(input string) Kind {
	input = strings.TrimSpace(input)
	for _, k := range []struct {
		name string
		kind Kind
	}{
		{"track", KindTrack},
		{"playlist", KindPlaylist},
		{"album", KindAlbum},
	} {
		if strings.HasPrefix(input, "spotify:"+k.name+":") {
			return k.kind
		}
		if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/"+k.name+"/") {
			return k.kind
		}
	}
	return KindUnknown
}

// extractID extracts the object ID from a Spotify URL or URI of the given kind.
// Inputs that are neither are assumed to be a bare ID.
func extractID(input, kind string) string {
	input = strings.TrimSpace(input)
	// Spotify URI format: spotify:<kind>:ID
	if prefix := "spotify:" + kind + ":"; strings.HasPrefix(input, prefix) {
		return strings.TrimPrefix(input, prefix)
	}

	// URL format: https://open.spotify.com/<kind>/ID or https://open.spotify.com/intl-XX/<kind>/ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/"+kind+"/") {
		parts := strings.Split(input, "/"+kind+"/")
		if len(parts) >= 2 {
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	return input
}
