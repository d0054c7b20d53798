package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tunebox/internal/infra/config"
)

func TestNewChainFromConfig(t *testing.T) {
	cfg := config.ResolverConfig{
		CacheSize:      4,
		CacheTTLSec:    60,
		Burst:          1,
		BreakerOpenSec: 1,
		Strategies: []config.StrategyConfig{
			{Type: "spotify", Name: "catalog"},
			{Type: "direct"},
			{Type: "library", Settings: map[string]any{"root": t.TempDir()}},
		},
	}

	chain, err := NewChainFromConfig(cfg, Deps{Spotify: &fakeCatalog{}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"catalog", "direct", "library"}, chain.Names())

	cached, err := NewFromConfig(cfg, Deps{Spotify: &fakeCatalog{}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, cached.Len())
	assert.Equal(t, time.Minute, cfg.CacheTTL())
}

func TestNewChainFromConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ResolverConfig
	}{
		{"empty", config.ResolverConfig{}},
		{"unknown type", config.ResolverConfig{Strategies: []config.StrategyConfig{{Type: "youtube"}}}},
		{"spotify without client", config.ResolverConfig{Strategies: []config.StrategyConfig{{Type: "spotify"}}}},
		{"library without root", config.ResolverConfig{Strategies: []config.StrategyConfig{{Type: "library"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChainFromConfig(tt.cfg, Deps{}, nil)
			assert.Error(t, err)
		})
	}
}
