package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
admin:
  token: secret
resolver:
  strategies:
    - type: direct
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 100, cfg.Playback.MaxQueueSize)
	assert.Equal(t, 50, cfg.Playback.MaxHistorySize)
	assert.Equal(t, 20, cfg.Playback.MaxBackHistory)
	assert.Equal(t, 30*time.Second, cfg.Playback.ResolveTimeout())
	assert.Equal(t, time.Second, cfg.Playback.SkipWindow())
	assert.Equal(t, 15*time.Second, cfg.Connection.ConnectTimeout())
	assert.Equal(t, 240*time.Second, cfg.Connection.KeepaliveInterval())
	assert.Equal(t, "file", cfg.Storage.Type)
	assert.Equal(t, "sim", cfg.Voice.Driver)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.Metrics.Disabled)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "missing admin token",
			yaml:   "resolver:\n  strategies:\n    - type: direct\n",
			errMsg: "Token",
		},
		{
			name:   "no strategies",
			yaml:   "admin:\n  token: x\n",
			errMsg: "Strategies",
		},
		{
			name:   "unknown storage type",
			yaml:   minimalYAML + "storage:\n  type: redis\n",
			errMsg: "Type",
		},
		{
			name:   "back history too small",
			yaml:   minimalYAML + "playback:\n  max_back_history: 1\n",
			errMsg: "MaxBackHistory",
		},
		{
			name:   "spotify strategy without credentials",
			yaml:   "admin:\n  token: x\nresolver:\n  strategies:\n    - type: spotify\n",
			errMsg: "spotify",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ADMIN_TOKEN", "")
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParse_EnvOverride(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "from-env")
	t.Setenv("STATE_FILE", "/tmp/state.json")
	t.Setenv("MAX_QUEUE_SIZE", "7")
	t.Setenv("MAX_HISTORY_SIZE", "not-a-number")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Admin.Token)
	assert.Equal(t, "/tmp/state.json", cfg.Storage.Path)
	assert.Equal(t, 7, cfg.Playback.MaxQueueSize)
	assert.Equal(t, 50, cfg.Playback.MaxHistorySize)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML+"voice:\n  channels:\n    guild-1: [\"100\", \"101\"]\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"100", "101"}, cfg.Voice.Channels["guild-1"])

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
