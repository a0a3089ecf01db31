package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "t"}}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, "walletbot:session", cfg.Storage.KeyPrefix)
}

func TestNormalizeRequiresToken(t *testing.T) {
	require.Error(t, Normalize(&Config{}))
	require.Error(t, Normalize(nil))
}

func TestNormalizeRunMode(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "t", RunMode: "Polling"}}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)

	cfg = &Config{Telegram: TelegramConfig{Token: "t", RunMode: "webhook"}}
	require.Error(t, Normalize(cfg))

	cfg.Webhook = WebhookConfig{URL: "https://bot.example", Listen: "0.0.0.0", Port: 8443}
	require.NoError(t, Normalize(cfg))

	cfg = &Config{Telegram: TelegramConfig{Token: "t", RunMode: "push"}}
	require.Error(t, Normalize(cfg))
}

func TestNormalizeStorage(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "t"}, Storage: StorageConfig{Driver: "Redis"}}
	require.ErrorContains(t, Normalize(cfg), "redis.addr")

	cfg.Redis.Addr = "localhost:6379"
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, StorageRedis, cfg.Storage.Driver)

	cfg = &Config{Telegram: TelegramConfig{Token: "t"}, Storage: StorageConfig{Driver: "postgres"}}
	require.Error(t, Normalize(cfg))
	cfg.Database = DatabaseConfig{Host: "db", Name: "wallet"}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 5, cfg.Database.MaxConnections)

	cfg = &Config{Telegram: TelegramConfig{Token: "t"}, Storage: StorageConfig{Driver: "etcd"}}
	require.Error(t, Normalize(cfg))

	cfg = &Config{Telegram: TelegramConfig{Token: "t"}, Storage: StorageConfig{TTLHours: -1}}
	require.Error(t, Normalize(cfg))
}

func TestNormalizeRateLimitExclusions(t *testing.T) {
	cfg := &Config{
		Telegram:  TelegramConfig{Token: "t"},
		RateLimit: RateLimitConfig{ExcludeUpdates: []string{" Callback ", ""}},
	}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, UpdateCallback, cfg.RateLimit.ExcludeUpdates[0])

	cfg.RateLimit.ExcludeUpdates = []string{"poll"}
	require.ErrorContains(t, Normalize(cfg), "rate_limit.exclude_updates[0]: oneof")
}

func TestNormalizeReportsYAMLPaths(t *testing.T) {
	err := Normalize(&Config{Telegram: TelegramConfig{RunMode: "webhook"}})
	require.Error(t, err)
	for _, field := range []string{"telegram.token: required", "webhook.url", "webhook.listen", "webhook.port"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
telegram:
  token: from-file
storage:
  driver: redis
redis:
  addr: localhost:6379
`), 0o600))
	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, StorageRedis, cfg.Storage.Driver)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
