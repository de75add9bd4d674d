package app

import (
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-books/internal/fx"
	"github.com/odyssey-erp/odyssey-books/internal/numbering"
	"github.com/odyssey-erp/odyssey-books/internal/observability"
)

// AsynqRedisOpt returns the queue connection settings.
func (c *Config) AsynqRedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// NewFXResolver builds the rate resolver with the configured cache backend. rdb may be nil
// when FX_CACHE is memory.
func NewFXResolver(cfg *Config, rdb *redis.Client, domain *observability.Domain, logger *slog.Logger) *fx.Resolver {
	var cache fx.Cache = fx.NewMemoryCache(cfg.FXCacheTTL)
	if cfg.FXCache == BackendRedis && rdb != nil {
		cache = fx.NewRedisCache(rdb, cfg.FXCacheTTL)
	}
	provider := fx.NewHTTPProvider(cfg.FXProviderURL, cfg.FXTimeout)
	return fx.NewResolver(provider, cache, domain, logger, fx.Config{
		Base:    cfg.FXBaseCurrency,
		Pinned:  cfg.FXPinned,
		Timeout: cfg.FXTimeout,
	})
}

// NewNumberLocker picks the allocation lock backend. The memory locker only serialises a
// single process.
func NewNumberLocker(cfg *Config, rdb *redis.Client, logger *slog.Logger) numbering.Locker {
	if cfg.NumberingLock == BackendRedis && rdb != nil {
		return numbering.NewRedisLocker(rdb, cfg.NumberingLockTTL, cfg.NumberingLockWait, logger)
	}
	return numbering.NewMemoryLocker()
}
