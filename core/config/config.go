package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds the bot token and how updates are received.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN" validate:"required"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE" validate:"oneof=webhook longpoll"`
	// LongPollTimeoutSeconds of 0 uses the poller default.
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS" validate:"gte=0"`
}

// WebhookConfig is required in webhook mode only.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig selects log format, level, sampling and the output files.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Stacks      string `yaml:"stacks"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	ErrorsFile  string `yaml:"errors_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

const (
	RunModeWebhook  = "webhook"
	RunModeLongpoll = "longpoll"
)

// Update kinds accepted by rate_limit.exclude_updates.
const (
	UpdateCallback    = "callback"
	UpdateMessage     = "message"
	UpdateInlineQuery = "inline_query"
)

// RateLimitConfig throttles each user to one update per IntervalMS.
// ExcludeUpdates lists update kinds that bypass the limit.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS" validate:"gte=0"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES" validate:"dive,oneof=callback message inline_query"`
}

const (
	// StorageMemory keeps conversation sessions in process memory.
	StorageMemory = "memory"
	// StorageRedis keeps conversation sessions in Redis.
	StorageRedis = "redis"
	// StoragePostgres keeps conversation sessions in a Postgres table.
	StoragePostgres = "postgres"
)

// StorageConfig selects the backend for per-user conversation sessions.
type StorageConfig struct {
	Driver    string `yaml:"driver" envconfig:"STORAGE_DRIVER" validate:"oneof=memory redis postgres"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"STORAGE_KEY_PREFIX"`
	// TTLHours expires idle sessions; 0 keeps them forever. Redis only.
	TTLHours int `yaml:"ttl_hours" envconfig:"STORAGE_TTL_HOURS" validate:"gte=0"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

// DatabaseConfig holds database connection settings shared across bots.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	// MigrationsDir defaults to ./migrations relative to the working directory.
	MigrationsDir string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
}

// Load reads the YAML file at path, applies environment overrides and
// normalizes the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their yaml path.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validateModes, Config{})
	return v
}

// validateModes checks sections that are required only by the chosen run
// mode or storage driver.
func validateModes(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	need := func(value any, ok bool, field, param string) {
		if !ok {
			sl.ReportError(value, field, field, "required_if", param)
		}
	}
	if cfg.Telegram.RunMode == RunModeWebhook {
		w := cfg.Webhook
		need(w.URL, strings.TrimSpace(w.URL) != "", "webhook.url", "run_mode webhook")
		need(w.Listen, strings.TrimSpace(w.Listen) != "", "webhook.listen", "run_mode webhook")
		need(w.Port, w.Port > 0, "webhook.port", "run_mode webhook")
	}
	switch cfg.Storage.Driver {
	case StorageRedis:
		need(cfg.Redis.Addr, strings.TrimSpace(cfg.Redis.Addr) != "", "redis.addr", "driver redis")
	case StoragePostgres:
		need(cfg.Database.Host, strings.TrimSpace(cfg.Database.Host) != "", "database.host", "driver postgres")
		need(cfg.Database.Name, strings.TrimSpace(cfg.Database.Name) != "", "database.name", "driver postgres")
	}
}

// Normalize lower-cases enum values, fills defaults and validates cfg.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}

	cfg.Telegram.RunMode = strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	switch cfg.Telegram.RunMode {
	case "", "polling":
		cfg.Telegram.RunMode = RunModeLongpoll
	}

	kinds := cfg.RateLimit.ExcludeUpdates
	for i := range kinds {
		kinds[i] = strings.ToLower(strings.TrimSpace(kinds[i]))
	}
	cfg.RateLimit.ExcludeUpdates = slices.DeleteFunc(kinds, func(k string) bool { return k == "" })

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageMemory
	}
	if strings.TrimSpace(cfg.Storage.KeyPrefix) == "" {
		cfg.Storage.KeyPrefix = "walletbot:session"
	}
	if cfg.Storage.Driver == StoragePostgres {
		db := &cfg.Database
		if db.Port == "" {
			db.Port = "5432"
		}
		if db.SSLMode == "" {
			db.SSLMode = "disable"
		}
		if db.MaxConnections <= 0 {
			db.MaxConnections = 5
		}
	}

	return describe(validate.Struct(cfg))
}

// describe flattens validation errors into "field: rule" pairs.
func describe(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}
	msgs := make([]string, 0, len(fields))
	for _, fe := range fields {
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		msg := path + ": " + fe.Tag()
		if fe.Param() != "" {
			msg += " " + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("config: invalid %s", strings.Join(msgs, "; "))
}
