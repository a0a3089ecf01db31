package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/walletbot/core/logger"
)

const defaultRedisRetries = 5

// RedisOptions configures RedisStore.
type RedisOptions struct {
	KeyPrefix string
	// TTL expires idle sessions; zero keeps them forever.
	TTL time.Duration
	// MaxRetries bounds optimistic transaction retries in Update.
	MaxRetries int
}

// RedisStore keeps one JSON-encoded session per user in Redis.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	maxRetries int
}

// NewRedisStore wraps an established Redis client.
func NewRedisStore(client *redis.Client, opts RedisOptions) *RedisStore {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "session"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultRedisRetries
	}
	return &RedisStore{
		client:     client,
		prefix:     opts.KeyPrefix,
		ttl:        opts.TTL,
		maxRetries: opts.MaxRetries,
	}
}

func (s *RedisStore) key(userID int64) string {
	return s.prefix + ":" + strconv.FormatInt(userID, 10)
}

// Get reads and decodes the user's session.
func (s *RedisStore) Get(ctx context.Context, userID int64) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewSession(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: redis get: %w", err)
	}
	return decodeSession(data)
}

// Update runs fn inside a WATCH/MULTI transaction and retries when the key
// was modified concurrently.
func (s *RedisStore) Update(ctx context.Context, userID int64, fn func(*Session) error) error {
	key := s.key(userID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("state: redis get: %w", err)
		}
		sess, err := decodeSession(data)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		payload, err := encodeSession(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		logger.Debug(ctx, "storage", "session.update.retry",
			slog.Int64("user_id", userID),
			slog.Int("attempts", attempt),
		)
	}
	return ErrConflict
}

// Reset deletes the user's session key.
func (s *RedisStore) Reset(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("state: redis del: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
