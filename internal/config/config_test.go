package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "questlog.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 15*time.Minute, cfg.Sync.RefreshInterval)
	assert.False(t, cfg.Providers.Steam.Enabled)
	assert.False(t, cfg.Providers.Xbox.Enabled)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("QUESTLOG_SERVER_PORT", "9090")
	t.Setenv("QUESTLOG_LOG_LEVEL", "debug")
	t.Setenv("QUESTLOG_PROVIDERS_STEAM_ENABLED", "true")
	t.Setenv("QUESTLOG_PROVIDERS_STEAM_API_KEY", "key-123")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Providers.Steam.Enabled)
	assert.Equal(t, "key-123", cfg.Providers.Steam.APIKey)
}

func TestLoad_MissingSecretFailsFast(t *testing.T) {
	t.Setenv("QUESTLOG_PROVIDERS_STEAM_ENABLED", "true")

	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers.steam.api_key")
}

func TestValidate_CollectsAllMissingKeys(t *testing.T) {
	cfg := &Config{}
	cfg.Providers.Xbox.Enabled = true
	cfg.Providers.Epic.Enabled = true
	cfg.Providers.Epic.ClientID = "epic-id"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers.xbox.client_id")
	assert.Contains(t, err.Error(), "providers.xbox.client_secret")
	assert.Contains(t, err.Error(), "providers.epic.client_secret")
	assert.NotContains(t, err.Error(), "providers.epic.client_id")
}

func TestValidate_DisabledProvidersNeedNoSecrets(t *testing.T) {
	cfg := &Config{}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_PlayStationNeedsNoAppSecret(t *testing.T) {
	cfg := &Config{}
	cfg.Providers.PlayStation.Enabled = true
	assert.NoError(t, cfg.Validate())
}
