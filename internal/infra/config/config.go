// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Admin      AdminConfig      `yaml:"admin"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Connection ConnectionConfig `yaml:"connection"`
	Storage    StorageConfig    `yaml:"storage"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Voice      VoiceConfig      `yaml:"voice"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Spotify    SpotifyConfig    `yaml:"spotify"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr            string   `yaml:"addr" default:":8080"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_sec" default:"10" validate:"gte=1,lte=120"`
	SkipResume      bool     `yaml:"skip_resume"`     // Do not auto-resume tenants on startup
	AllowedOrigins  []string `yaml:"allowed_origins"` // Browser origins for RPC and WebSocket; empty allows any
	RateLimit       int      `yaml:"rate_limit_per_min" default:"600" validate:"gte=0"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// PlaybackConfig represents per-tenant playback limits and timeouts.
type PlaybackConfig struct {
	MaxQueueSize     int `yaml:"max_queue_size" default:"100" validate:"gte=1,lte=10000"`
	MaxHistorySize   int `yaml:"max_history_size" default:"50" validate:"gte=1,lte=10000"`
	MaxBackHistory   int `yaml:"max_back_history" default:"20" validate:"gte=2,lte=1000"`
	ResolveTimeoutMs int `yaml:"resolve_timeout_ms" default:"30000" validate:"gte=100,lte=300000"`
	IdleGraceMs      int `yaml:"idle_grace_ms" default:"3000" validate:"gte=0,lte=30000"`
	BackGraceMs      int `yaml:"back_grace_ms" default:"2000" validate:"gte=0,lte=30000"`
	SkipWindowMs     int `yaml:"skip_window_ms" default:"1000" validate:"gte=0,lte=10000"`
	ListPreviewSize  int `yaml:"list_preview_size" default:"10" validate:"gte=1,lte=100"`
}

// ConnectionConfig represents voice connection supervision settings.
type ConnectionConfig struct {
	ConnectTimeoutMs    int `yaml:"connect_timeout_ms" default:"15000" validate:"gte=100"`
	MaxRetries          int `yaml:"max_retries" default:"5" validate:"gte=1,lte=20"`
	MaxBackoffMs        int `yaml:"max_backoff_ms" default:"5000" validate:"gte=0"`
	StabilizeMs         int `yaml:"stabilize_ms" default:"2000" validate:"gte=0"`
	KeepaliveIntervalMs int `yaml:"keepalive_interval_ms" default:"240000" validate:"gte=1000"`
	ReconnectDelayMs    int `yaml:"reconnect_delay_ms" default:"3000" validate:"gte=0"`
}

// StorageConfig represents snapshot storage configuration.
type StorageConfig struct {
	Type             string `yaml:"type" default:"file" validate:"oneof=file badger memory"`
	Path             string `yaml:"path" default:"data/music_bot_state.json"`
	PersistTimeoutMs int    `yaml:"persist_timeout_ms" default:"2000" validate:"gte=10"`
}

// ResolverConfig represents media resolver configuration.
type ResolverConfig struct {
	CacheSize       int              `yaml:"cache_size" default:"512" validate:"gte=1"`
	CacheTTLSec     int              `yaml:"cache_ttl_sec" default:"600" validate:"gte=1"`
	RequestsPerSec  float64          `yaml:"requests_per_sec" default:"5"`
	Burst           int              `yaml:"burst" default:"5" validate:"gte=1"`
	BreakerFailures int              `yaml:"breaker_failures" default:"5" validate:"gte=1"`
	BreakerOpenSec  int              `yaml:"breaker_open_sec" default:"30" validate:"gte=1"`
	Strategies      []StrategyConfig `yaml:"strategies" validate:"required,min=1,dive"`
}

// StrategyConfig represents a single resolver strategy configuration.
type StrategyConfig struct {
	Type     string         `yaml:"type" validate:"required"`
	Name     string         `yaml:"name"`
	Settings map[string]any `yaml:"settings"`
}

// VoiceConfig represents the audio transport configuration.
type VoiceConfig struct {
	Driver          string              `yaml:"driver" default:"sim" validate:"oneof=sim"`
	TrackDurationMs int                 `yaml:"track_duration_ms" default:"180000" validate:"gte=0"`
	Channels        map[string][]string `yaml:"channels"`
}

// MetricsConfig represents Prometheus metrics configuration.
type MetricsConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path" default:"/metrics"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("STATE_FILE"); v != "" {
		c.Storage.Path = v
	}
	if n, ok := envInt("MAX_QUEUE_SIZE"); ok {
		c.Playback.MaxQueueSize = n
	}
	if n, ok := envInt("MAX_HISTORY_SIZE"); ok {
		c.Playback.MaxHistorySize = n
	}
	if n, ok := envInt("MAX_BACK_HISTORY"); ok {
		c.Playback.MaxBackHistory = n
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	for i, s := range c.Resolver.Strategies {
		if s.Type == "spotify" && (c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "") {
			return errors.Newf("strategy %d (spotify) requires spotify.client_id and spotify.client_secret", i)
		}
	}

	return nil
}

// ResolveTimeout returns the resolver timeout.
func (p PlaybackConfig) ResolveTimeout() time.Duration {
	return time.Duration(p.ResolveTimeoutMs) * time.Millisecond
}

// IdleGrace returns how long to wait for residual audio to stop.
func (p PlaybackConfig) IdleGrace() time.Duration {
	return time.Duration(p.IdleGraceMs) * time.Millisecond
}

// ShutdownGrace returns the graceful shutdown bound.
func (s ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// BackGrace returns how long back-navigation waits for the stopped track to settle.
func (p PlaybackConfig) BackGrace() time.Duration {
	return time.Duration(p.BackGraceMs) * time.Millisecond
}

// SkipWindow returns how long repeated skips are ignored after an accepted one.
func (p PlaybackConfig) SkipWindow() time.Duration {
	return time.Duration(p.SkipWindowMs) * time.Millisecond
}

// ConnectTimeout returns the per-attempt connect timeout.
func (c ConnectionConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// MaxBackoff returns the retry backoff cap.
func (c ConnectionConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

// Stabilize returns the wait after a successful connect.
func (c ConnectionConfig) Stabilize() time.Duration {
	return time.Duration(c.StabilizeMs) * time.Millisecond
}

// KeepaliveInterval returns the idle keepalive interval.
func (c ConnectionConfig) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveIntervalMs) * time.Millisecond
}

// ReconnectDelay returns the delay before reconnecting after a drop.
func (c ConnectionConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// PersistTimeout returns the bound on a single snapshot write or read.
func (s StorageConfig) PersistTimeout() time.Duration {
	return time.Duration(s.PersistTimeoutMs) * time.Millisecond
}

// CacheTTL returns the resolution cache TTL.
func (r ResolverConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLSec) * time.Second
}

// BreakerOpen returns how long a tripped strategy stays open.
func (r ResolverConfig) BreakerOpen() time.Duration {
	return time.Duration(r.BreakerOpenSec) * time.Second
}
