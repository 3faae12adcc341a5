package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("TENANT_ID", "t1")
	t.Setenv("DEVICE_SESSION_ID", "s1")
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 60*time.Second, cfg.ReconnectMaxDelay)
	assert.True(t, cfg.RefetchOnReconnect)
	assert.Equal(t, 256, cfg.InboxSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RECONNECT_MAX_DELAY", "2m")
	t.Setenv("REFETCH_ON_RECONNECT", "false")
	t.Setenv("INBOX_SIZE", "16")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 2*time.Minute, cfg.ReconnectMaxDelay)
	assert.False(t, cfg.RefetchOnReconnect)
	assert.Equal(t, 16, cfg.InboxSize)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.yaml")
	content := "tenant_id: acme\ndevice_session_id: dev-7\nhistory_limit: 25\nevents_url: wss://events.example.com/ws\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.TenantID)
	assert.Equal(t, "dev-7", cfg.DeviceSessionID)
	assert.Equal(t, 25, cfg.HistoryLimit)
	assert.Equal(t, "wss://events.example.com/ws", cfg.EventsURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing session", func(c *Config) { c.DeviceSessionID = "" }},
		{"missing tenant", func(c *Config) { c.TenantID = "" }},
		{"http events url", func(c *Config) { c.EventsURL = "http://localhost/ws" }},
		{"relative backend url", func(c *Config) { c.BackendURL = "/api" }},
		{"zero base delay", func(c *Config) { c.ReconnectBaseDelay = 0 }},
		{"max below base", func(c *Config) { c.ReconnectMaxDelay = time.Millisecond }},
		{"negative retries", func(c *Config) { c.ReconnectMaxRetries = -1 }},
		{"empty inbox", func(c *Config) { c.InboxSize = 0 }},
		{"zero history", func(c *Config) { c.HistoryLimit = 0 }},
		{"no credentials", func(c *Config) { c.AuthToken = ""; c.JWTSecret = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
