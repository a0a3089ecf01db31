package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "github.com/m3rciful/walletbot/core/config"
	"github.com/m3rciful/walletbot/internal/wallet"
)

// WalletConfig points the bot at the wallet backend.
type WalletConfig struct {
	BaseURL        string `yaml:"base_url" envconfig:"WALLET_BASE_URL" validate:"required,url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"WALLET_TIMEOUT_SECONDS" validate:"gte=1,lte=120"`
	UserAgent      string `yaml:"user_agent" envconfig:"WALLET_USER_AGENT"`
}

// Timeout returns the HTTP timeout of wallet calls.
func (w WalletConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// Config is the application configuration: the core sections plus wallet settings.
type Config struct {
	coreconfig.Config `yaml:",inline"`
	Wallet            WalletConfig `yaml:"wallet"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the YAML file, applies env overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return nil, err
	}
	if cfg.Wallet.BaseURL == "" {
		cfg.Wallet.BaseURL = wallet.DefaultBaseURL
	}
	if cfg.Wallet.TimeoutSeconds == 0 {
		cfg.Wallet.TimeoutSeconds = 15
	}
	if err := validate.Struct(cfg.Wallet); err != nil {
		return nil, fmt.Errorf("invalid wallet config: %w", err)
	}
	return &cfg, nil
}
