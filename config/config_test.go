package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "comet.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(content), 0o644))
	return fn
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Zero(t, cfg.Channels.TransportLimit)
}

func TestLoadFile(t *testing.T) {
	fn := writeConfig(t, `
log_format: json
server:
  addr: ":9000"
  shutdown_timeout: 5s
channels:
  transport_limit: 4
  idle_timeout: 2m
  disconnect_timeout: 45s
eventing:
  redis_url: redis://localhost:6379/0
`)
	cfg, err := Load(fn)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, 4, cfg.Channels.TransportLimit)
	assert.Equal(t, 2*time.Minute, cfg.Channels.IdleTimeout.Duration())
	assert.Equal(t, 45*time.Second, cfg.Channels.DisconnectTimeout.Duration())
	assert.Equal(t, "redis://localhost:6379/0", cfg.Eventing.RedisURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadEnvOverrides(t *testing.T) {
	fn := writeConfig(t, `
server:
  addr: ":9000"
channels:
  idle_timeout: 2m
`)
	t.Setenv("COMET_ADDR", ":7070")
	t.Setenv("COMET_IDLE_TIMEOUT", "90s")
	t.Setenv("COMET_TRANSPORT_LIMIT", "3")

	cfg, err := Load(fn)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 90*time.Second, cfg.Channels.IdleTimeout.Duration())
	assert.Equal(t, 3, cfg.Channels.TransportLimit)
}

func TestLoadBadEnvDuration(t *testing.T) {
	t.Setenv("COMET_IDLE_TIMEOUT", "not-a-duration")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad log format", "log_format: xml"},
		{"bad content type", "channels:\n  content_type: text/xml"},
		{"bad duration", "channels:\n  idle_timeout: banana"},
		{"negative limit", "channels:\n  transport_limit: -1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}
