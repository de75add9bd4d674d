package numbering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

// ErrLockNotObtained is returned when a distributed sequence lock stays busy past the wait limit.
var ErrLockNotObtained = errors.New("numbering: sequence lock not obtained")

// MemoryLocker serialises allocations within a single process.
type MemoryLocker struct {
	mu shared.KeyedMutex
}

// NewMemoryLocker constructs a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{}
}

// Lock implements Locker.
func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	return l.mu.Lock(ctx, key)
}

// RedisLocker serialises allocations across processes with a Redis lock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

// NewRedisLocker constructs a RedisLocker. ttl bounds how long a crashed holder keeps the key;
// wait bounds how long Lock retries before giving up.
func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, wait: wait, logger: logger}
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	lock, err := l.client.Obtain(waitCtx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(25 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) || (err != nil && waitCtx.Err() != nil && ctx.Err() == nil) {
		return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		// Release with a fresh context so a cancelled request still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("numbering lock release", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}
