package resolver

import (
	"net/http"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/infra/config"
	"github.com/osa030/tunebox/internal/infra/metrics"
)

// Deps are the clients strategies may need.
type Deps struct {
	Spotify    SpotifyCatalog // Required by the spotify strategy
	HTTPClient *http.Client   // Optional, used by the direct strategy
}

// StrategyInfo describes a strategy type accepted in configuration.
type StrategyInfo struct {
	Type        string
	Description string
	Settings    []string
}

// StrategyTypes lists the strategy types NewChainFromConfig understands.
func StrategyTypes() []StrategyInfo {
	return []StrategyInfo{
		{"direct", "Probes http(s) media URLs and expands m3u/pls playlists", []string{"timeout_ms", "user_agent", "max_playlist_bytes"}},
		{"spotify", "Expands Spotify tracks, albums and playlists into search refs", []string{"max_tracks"}},
		{"library", "Matches refs against a local directory of audio files", []string{"root", "extensions", "min_score"}},
	}
}

// NewChainFromConfig creates a strategy chain from configuration.
func NewChainFromConfig(cfg config.ResolverConfig, deps Deps, m *metrics.Metrics) (*Chain, error) {
	if len(cfg.Strategies) == 0 {
		return nil, errors.New("no resolver strategies configured")
	}

	var strategies []Strategy

	for i, scfg := range cfg.Strategies {
		var strategy Strategy
		var err error
		zlog.Debug().Msgf("creating resolver strategy: index=%d type=%s settings=%+v", i+1, scfg.Type, scfg.Settings)
		switch scfg.Type {
		case "direct":
			strategy, err = NewDirectStrategy(scfg.Name, deps.HTTPClient, scfg.Settings)

		case "spotify":
			if deps.Spotify == nil {
				err = errors.New("spotify client is not configured")
				break
			}
			strategy, err = NewSpotifyStrategy(scfg.Name, deps.Spotify, scfg.Settings)

		case "library":
			strategy, err = NewLibraryStrategy(scfg.Name, scfg.Settings)

		default:
			return nil, errors.Newf("unsupported strategy type: %s (strategy index %d)", scfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create strategy (index %d, type %s)", i, scfg.Type)
		}

		strategies = append(strategies, strategy)
		zlog.Info().Msgf("registered resolver strategy: index=%d type=%s name=%s", i+1, scfg.Type, strategy.Name())
	}

	return NewChain(strategies, GuardConfig{
		RequestsPerSec:  cfg.RequestsPerSec,
		Burst:           cfg.Burst,
		BreakerFailures: uint32(cfg.BreakerFailures),
		BreakerOpen:     cfg.BreakerOpen(),
	}, m), nil
}

// NewFromConfig creates the cached resolver used by playback.
func NewFromConfig(cfg config.ResolverConfig, deps Deps, m *metrics.Metrics) (*Cached, error) {
	chain, err := NewChainFromConfig(cfg, deps, m)
	if err != nil {
		return nil, err
	}
	return NewCached(chain, cfg.CacheSize, cfg.CacheTTL()), nil
}
