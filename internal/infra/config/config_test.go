package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Survey.IdleTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Survey.DedupWindow)
	assert.Equal(t, TransportCloudAPI, cfg.Transport)
	assert.True(t, cfg.CloudAPI.DryRun())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"log_level": "DEBUG",
		"storage": {"profiles": "file", "queue": "memory", "sessions": "memory", "dedup": "memory"},
		"survey": {"idle_timeout": 60000000000, "dedup_window": 1000000000, "vent_enabled": true}
	}`), 0o644))

	t.Setenv("WEB_APP_BASE_URL", "https://example.test///")
	t.Setenv("PORT", "8080")
	t.Setenv("CABILDO_LEGACY_CONSENT", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, BackendFile, cfg.Storage.Profiles)
	assert.Equal(t, time.Minute, cfg.Survey.IdleTimeout)
	assert.True(t, cfg.Survey.VentEnabled)
	assert.True(t, cfg.Survey.LegacyConsent)
	assert.Equal(t, "https://example.test", cfg.WebApp.BaseURL)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.False(t, cfg.UsesRedis())
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("CABILDO_QUEUE_BACKEND", "kafka")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.queue")
}
