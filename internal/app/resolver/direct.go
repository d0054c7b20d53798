package resolver

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/domain/playlist"
	"github.com/osa030/tunebox/internal/domain/track"
)

// DirectConfig configures the direct HTTP strategy.
type DirectConfig struct {
	TimeoutMs       int    `mapstructure:"timeout_ms" default:"10000" validate:"gte=100"`
	UserAgent       string `mapstructure:"user_agent" default:"tunebox/1.0"`
	MaxPlaylistSize int64  `mapstructure:"max_playlist_bytes" default:"1048576" validate:"gte=1024"`
}

// DirectStrategy resolves http(s) URLs pointing at audio files or text
// playlists (m3u, pls).
type DirectStrategy struct {
	name   string
	client *http.Client
	config *DirectConfig
}

// NewDirectStrategy creates a direct strategy from free-form settings.
func NewDirectStrategy(name string, client *http.Client, settings map[string]any) (*DirectStrategy, error) {
	var cfg DirectConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}
	}
	if name == "" {
		name = "direct"
	}
	return &DirectStrategy{name: name, client: client, config: &cfg}, nil
}

// Name returns the strategy name.
func (s *DirectStrategy) Name() string {
	return s.name
}

// Resolve probes the URL and classifies the response.
func (s *DirectStrategy) Resolve(ctx context.Context, ref track.Ref) (*track.Resolution, error) {
	if !ref.IsURL() || isSpotifyURL(string(ref)) {
		return nil, ErrNotApplicable
	}

	resp, err := s.do(ctx, http.MethodHead, string(ref))
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		resp.Body.Close()
		resp, err = s.do(ctx, http.MethodGet, string(ref))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, Timeout(errors.Wrap(err, "probe"))
		}
		return nil, Unplayable(errors.Wrap(err, "probe"))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, NotFound(errors.Newf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, Unplayable(errors.Newf("status %d", resp.StatusCode))
	}

	final := string(ref)
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	contentType := resp.Header.Get("Content-Type")

	if format := playlist.DetectFormat(contentType, final); format != playlist.FormatUnknown {
		return s.fetchPlaylist(ctx, final, format)
	}

	if !isMediaType(contentType, final) {
		return nil, Unplayable(errors.Newf("unsupported content type %q", contentType))
	}

	title := titleFromDisposition(resp.Header.Get("Content-Disposition"))
	if title == "" {
		title = titleFromURL(final)
	}
	zlog.Debug().Msgf("direct resolved: title=%s content_type=%s", title, contentType)
	return track.NewSingle(title, final), nil
}

func (s *DirectStrategy) fetchPlaylist(ctx context.Context, source string, format playlist.Format) (*track.Resolution, error) {
	resp, err := s.do(ctx, http.MethodGet, source)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Timeout(errors.Wrap(err, "fetch playlist"))
		}
		return nil, Unplayable(errors.Wrap(err, "fetch playlist"))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, Unplayable(errors.Newf("playlist status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxPlaylistSize))
	if err != nil {
		return nil, Unplayable(errors.Wrap(err, "read playlist"))
	}

	pl, err := playlist.Parse(format, string(body), source)
	if err != nil {
		return nil, Unplayable(err)
	}
	if pl.Len() == 0 {
		return nil, Unplayable(errors.New("playlist is empty"))
	}

	name := pl.Name
	if name == "" {
		name = titleFromURL(source)
	}
	return track.NewList(name, pl.Refs()), nil
}

func (s *DirectStrategy) do(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	return s.client.Do(req)
}

var mediaExtensions = map[string]bool{
	".mp3": true, ".ogg": true, ".opus": true, ".flac": true, ".wav": true,
	".m4a": true, ".aac": true, ".webm": true, ".mp4": true,
}

func isMediaType(contentType, source string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err == nil {
		if strings.HasPrefix(mt, "audio/") || strings.HasPrefix(mt, "video/") || mt == "application/ogg" {
			return true
		}
		if mt != "application/octet-stream" && mt != "binary/octet-stream" {
			return false
		}
	}
	p := source
	if u, err := url.Parse(source); err == nil {
		p = u.Path
	}
	return mediaExtensions[strings.ToLower(path.Ext(p))]
}

func titleFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := params["filename"]
	return strings.TrimSuffix(name, path.Ext(name))
}

func titleFromURL(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return source
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." || base == "" {
		return u.Host
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

func isSpotifyURL(s string) bool {
	return strings.Contains(strings.ToLower(s), "open.spotify.com/")
}
