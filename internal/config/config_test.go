package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearSnowflakeEnv(t *testing.T) {
	t.Helper()
	for _, env := range snowflakeEnv {
		t.Setenv(env, "")
	}
	t.Setenv("MONITOR_CONFIG_FILE", "")
	t.Setenv("MONITOR_SECRETS_FILE", "")
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testOptions(dir string) Options {
	return Options{
		ConfigFile:  filepath.Join(dir, "config.json"),
		SecretsFile: filepath.Join(dir, "secrets.toml"),
		EnvFile:     filepath.Join(dir, ".env"),
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	clearSnowflakeEnv(t)
	t.Setenv("SNOWFLAKE_ACCOUNT", "acme-xy123")
	t.Setenv("SNOWFLAKE_USER", "monitor")
	t.Setenv("SNOWFLAKE_PASSWORD", "s3cret")

	cfg, err := Load(testOptions(t.TempDir()))
	require.NoError(t, err)
	require.Equal(t, "acme-xy123", cfg.Snowflake.Account)
	require.Equal(t, DefaultWarehouse, cfg.Snowflake.Warehouse)
	require.Equal(t, 300*time.Second, cfg.Cache.TTL)
	require.Equal(t, 60*time.Second, cfg.Cache.LiveTTL)
	require.Equal(t, "7d", cfg.Dashboard.DefaultPreset)
	require.Equal(t, 60, cfg.Dashboard.DefaultFallbackMinutes)
	require.Empty(t, cfg.Warnings)
}

func TestLoadLayerPrecedence(t *testing.T) {
	clearSnowflakeEnv(t)
	dir := t.TempDir()
	opts := testOptions(dir)
	writeFile(t, dir, "config.json", `{"account":"file-acct","user":"file-user","password":"file-pw","warehouse":"FILE_WH","cache":{"ttl":"120s"}}`)
	writeFile(t, dir, "secrets.toml", "[snowflake]\nuser = \"secret-user\"\nrole = \"MONITOR_ROLE\"\n")
	t.Setenv("SNOWFLAKE_WAREHOUSE", "ENV_WH")

	cfg, err := Load(opts)
	require.NoError(t, err)
	require.Equal(t, "file-acct", cfg.Snowflake.Account)
	require.Equal(t, "secret-user", cfg.Snowflake.User)
	require.Equal(t, "MONITOR_ROLE", cfg.Snowflake.Role)
	require.Equal(t, "ENV_WH", cfg.Snowflake.Warehouse)
	require.Equal(t, 120*time.Second, cfg.Cache.TTL)
}

func TestLoadMalformedConfigFallsBackToEnvironment(t *testing.T) {
	clearSnowflakeEnv(t)
	dir := t.TempDir()
	opts := testOptions(dir)
	writeFile(t, dir, "config.json", `{"account": "broken",`)
	t.Setenv("SNOWFLAKE_ACCOUNT", "env-acct")
	t.Setenv("SNOWFLAKE_USER", "env-user")
	t.Setenv("SNOWFLAKE_PASSWORD", "env-pw")

	cfg, err := Load(opts)
	require.NoError(t, err)
	require.Equal(t, "env-acct", cfg.Snowflake.Account)
	require.Len(t, cfg.Warnings, 1)
	require.Contains(t, cfg.Warnings[0], "config.json")
}

func TestLoadMissingCredentials(t *testing.T) {
	clearSnowflakeEnv(t)
	t.Setenv("SNOWFLAKE_ACCOUNT", "acct")

	_, err := Load(testOptions(t.TempDir()))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMissingCredentials))
	require.Contains(t, err.Error(), "SNOWFLAKE_USER")
	require.Contains(t, err.Error(), "SNOWFLAKE_PASSWORD")
	require.False(t, strings.Contains(err.Error(), "SNOWFLAKE_ACCOUNT"))
}

func TestValidateRejectsUnknownFallbackWindow(t *testing.T) {
	cfg := Config{
		Snowflake: SnowflakeConfig{Account: "a", User: "u", Password: "p"},
		Cache:     CacheConfig{TTL: time.Minute, LiveTTL: time.Minute},
		Dashboard: DashboardConfig{DefaultPreset: "7d", DefaultFallbackMinutes: 45},
	}
	require.Error(t, cfg.Validate())

	cfg.Dashboard.DefaultFallbackMinutes = 30
	require.NoError(t, cfg.Validate())
	require.Equal(t, "memory", cfg.Cache.Backend)
	require.Equal(t, "UTC", cfg.Dashboard.Timezone)
}

func TestValidateRedisBackendRequiresURL(t *testing.T) {
	cfg := Config{
		Snowflake: SnowflakeConfig{Account: "a", User: "u", Password: "p"},
		Cache:     CacheConfig{Backend: "redis", TTL: time.Minute, LiveTTL: time.Minute},
		Dashboard: DashboardConfig{DefaultPreset: "24h", DefaultFallbackMinutes: 60},
	}
	require.Error(t, cfg.Validate())
	cfg.Redis.URL = "redis://localhost:6379/0"
	require.NoError(t, cfg.Validate())
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := Config{
		Snowflake: SnowflakeConfig{Password: "hunter2"},
		Redis:     RedisConfig{URL: "redis://user:pw@cache:6379/0"},
	}
	out := cfg.Redacted()
	require.Equal(t, "********", out.Snowflake.Password)
	require.Equal(t, "redis://****@cache:6379/0", out.Redis.URL)
	require.Equal(t, "hunter2", cfg.Snowflake.Password)
}
