package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/walletbot/core/config"
	"github.com/m3rciful/walletbot/internal/wallet"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("telegram:\n  token: abc\n"))
	require.NoError(t, err)
	assert.Equal(t, wallet.DefaultBaseURL, cfg.Wallet.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Wallet.Timeout())
	assert.Equal(t, "abc", cfg.CoreConfig().Telegram.Token)
	assert.Equal(t, coreconfig.StorageMemory, cfg.CoreConfig().Storage.Driver)
}

func TestParseInlineCoreSections(t *testing.T) {
	cfg, err := Parse([]byte(`
telegram:
  token: abc
  admin_id: 42
storage:
  driver: redis
  ttl_hours: 24
redis:
  addr: redis:6379
wallet:
  base_url: https://wallet.example/api/fo
  timeout_seconds: 5
`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.Telegram.AdminID)
	assert.Equal(t, coreconfig.StorageRedis, cfg.Storage.Driver)
	assert.Equal(t, 24, cfg.Storage.TTLHours)
	assert.Equal(t, "https://wallet.example/api/fo", cfg.Wallet.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Wallet.Timeout())
}

func TestParseRejectsInvalidWallet(t *testing.T) {
	_, err := Parse([]byte("telegram:\n  token: abc\nwallet:\n  base_url: not a url\n"))
	require.Error(t, err)
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "BaseURL", verrs[0].Field())

	_, err = Parse([]byte("telegram:\n  token: abc\nwallet:\n  timeout_seconds: 600\n"))
	require.Error(t, err)
}

func TestParseRequiresCoreFields(t *testing.T) {
	_, err := Parse([]byte("wallet:\n  timeout_seconds: 5\n"))
	require.Error(t, err)
}

func TestLoadWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  token: abc\n"), 0o600))
	t.Setenv("WALLET_BASE_URL", "http://localhost:9000/api/fo")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/api/fo", cfg.Wallet.BaseURL)
}
