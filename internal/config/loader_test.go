package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0600)
	require.NoError(t, err)
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(EnvServerURL, "")
	t.Setenv(EnvClientID, "")

	cfg, err := LoadConfig(tempDir)
	require.NoError(t, err)

	defaults := GetDefaultConfig()
	assert.Equal(t, defaults.Client.ServerURL, cfg.Client.ServerURL)
	assert.Equal(t, defaults.Client.ClientID, cfg.Client.ClientID)
	assert.Equal(t, defaults.Server, cfg.Server)
	assert.Equal(t, filepath.Join(tempDir, DefaultCredentialsFileName), cfg.Client.CredentialsFile)
	assert.True(t, cfg.Client.OpenBrowser)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(EnvServerURL, "")
	t.Setenv(EnvClientID, "")

	writeConfigFile(t, tempDir, `
client:
  serverURL: https://auth.example.com
  clientID: cli-1
  openBrowser: false
  expirySkew: 1m
server:
  listen: ":9000"
  deviceCodeTTL: 10m
  store:
    type: redis
    redisAddr: localhost:6379
  users:
    - id: u-1
      email: jane@example.com
      sessionToken: tok
`)

	cfg, err := LoadConfig(tempDir)
	require.NoError(t, err)

	assert.Equal(t, "https://auth.example.com", cfg.Client.ServerURL)
	assert.Equal(t, "cli-1", cfg.Client.ClientID)
	assert.False(t, cfg.Client.OpenBrowser)
	assert.Equal(t, time.Minute, cfg.Client.ExpirySkew)
	assert.Equal(t, DefaultScope, cfg.Client.Scope, "unset fields keep their defaults")

	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, 10*time.Minute, cfg.Server.DeviceCodeTTL)
	assert.Equal(t, DefaultPollInterval, cfg.Server.PollInterval)
	assert.Equal(t, StoreTypeRedis, cfg.Server.Store.Type)
	require.Len(t, cfg.Server.Users, 1)
	assert.Equal(t, "jane@example.com", cfg.Server.Users[0].Email)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	tempDir := t.TempDir()
	writeConfigFile(t, tempDir, "client:\n  serverURL: https://file.example.com\n")

	t.Setenv(EnvServerURL, "https://env.example.com")
	t.Setenv(EnvClientID, "env-client")

	cfg, err := LoadConfig(tempDir)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Client.ServerURL)
	assert.Equal(t, "env-client", cfg.Client.ClientID)
}

func TestLoadConfig_ExplicitCredentialsFile(t *testing.T) {
	tempDir := t.TempDir()
	writeConfigFile(t, tempDir, "client:\n  credentialsFile: /tmp/elsewhere/token.json\n")

	cfg, err := LoadConfig(tempDir)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere/token.json", cfg.Client.CredentialsFile)
}

func TestLoadConfig_Malformed(t *testing.T) {
	tempDir := t.TempDir()
	writeConfigFile(t, tempDir, "client: [not, a, map")

	_, err := LoadConfig(tempDir)
	assert.Error(t, err)
}
