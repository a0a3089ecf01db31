package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	coreconfig "github.com/m3rciful/walletbot/core/config"
	coredatabase "github.com/m3rciful/walletbot/core/database"
	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/core/telegram/state"
)

// Options control the bootstrap pipeline. Nil hooks fall back to the real implementations.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error)
	Migrate    func(context.Context, coreconfig.DatabaseConfig) error
	DialRedis  func(context.Context, coreconfig.RedisConfig) (*redis.Client, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Store state.Store
	// DB is set for the postgres driver.
	DB *sqlx.DB
	// Redis is set for the redis driver.
	Redis *redis.Client
}

// Run initializes the logger and opens the configured session store.
func Run(opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	ctx := context.Background()
	start := time.Now()
	res, err := openStore(ctx, opts)
	if err != nil {
		logger.Error(ctx, "storage", "open",
			slog.String("status", "fail"),
			slog.String("storage", opts.Config.Storage.Driver),
			slog.String("err", err.Error()),
		)
		return nil, err
	}
	logger.Info(ctx, "storage", "open",
		slog.String("status", "ok"),
		slog.String("storage", opts.Config.Storage.Driver),
		slog.Duration("duration", logger.Took(start)),
	)
	return res, nil
}

func openStore(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	switch cfg.Storage.Driver {
	case coreconfig.StorageMemory, "":
		return &Result{Store: state.NewMemoryStore()}, nil

	case coreconfig.StorageRedis:
		dial := opts.DialRedis
		if dial == nil {
			dial = DialRedis
		}
		client, err := dial(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: redis initialization failed: %w", err)
		}
		store := state.NewRedisStore(client, state.RedisOptions{
			KeyPrefix: cfg.Storage.KeyPrefix,
			TTL:       time.Duration(cfg.Storage.TTLHours) * time.Hour,
		})
		return &Result{Store: store, Redis: client}, nil

	case coreconfig.StoragePostgres:
		connect := opts.Connect
		if connect == nil {
			connect = coredatabase.Connect
		}
		db, err := connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
		}
		migrate := opts.Migrate
		if migrate == nil {
			migrate = coredatabase.RunMigrations
		}
		if err := migrate(ctx, cfg.Database); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
		return &Result{Store: state.NewPostgresStore(db), DB: db}, nil
	}
	return nil, fmt.Errorf("bootstrap: unsupported storage driver %q", cfg.Storage.Driver)
}

// DialRedis connects to Redis and verifies the connection with PING.
func DialRedis(ctx context.Context, cfg coreconfig.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}
