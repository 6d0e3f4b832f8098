package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearProviderEnv(t *testing.T) {
	for _, key := range []string{"PROVIDER_API_KEY", "PROVIDER_BASE_URL", "GEMINI_API_KEY", "GEMINI_API_BASE_URL"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_MissingProviderIsConfigurationError(t *testing.T) {
	clearProviderEnv(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{"provider.api_key", "provider.base_url"}, cerr.Missing)
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	clearProviderEnv(t)
	path := writeConfig(t, `
server:
  port: 8080
provider:
  api_key: file-key
  base_url: https://api.example.com/v1
ledger:
  privileged_names: [gizatrustam]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "file-key", cfg.Provider.APIKey)
	assert.Equal(t, "gemini-2.5-flash-image", cfg.Provider.Model)
	assert.Equal(t, 4096, cfg.Provider.MaxTokens)
	assert.Equal(t, int64(50), cfg.Ledger.SignupCredits)
	assert.Equal(t, int64(25), cfg.Ledger.ReferralBonus)
	assert.Equal(t, int64(999999), cfg.Ledger.PrivilegedCredits)
	assert.Equal(t, []string{"gizatrustam"}, cfg.Ledger.PrivilegedNames)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	clearProviderEnv(t)
	path := writeConfig(t, `
provider:
  api_key: file-key
  base_url: https://api.example.com/v1
`)
	t.Setenv("PROVIDER_API_KEY", "env-key")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Provider.APIKey)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadConfig_LegacyEnvNames(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GEMINI_API_KEY", "legacy-key")
	t.Setenv("GEMINI_API_BASE_URL", "https://legacy.example.com")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "legacy-key", cfg.Provider.APIKey)
	assert.Equal(t, "https://legacy.example.com", cfg.Provider.BaseURL)
}
