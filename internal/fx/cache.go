package fx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cache stores resolved rates per (base, currency).
type Cache interface {
	Get(ctx context.Context, base, currency string) (Quote, bool, error)
	SetMany(ctx context.Context, base string, rates map[string]decimal.Decimal, fetchedAt time.Time) error
}

type memoryEntry struct {
	quote     Quote
	expiresAt time.Time
}

// MemoryCache is a process-local TTL cache.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryCache constructs a MemoryCache. A non-positive ttl defaults to five minutes.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{ttl: ttl, now: time.Now, entries: map[string]memoryEntry{}}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, base, currency string) (Quote, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey(base, currency)]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expiresAt) {
		return Quote{}, false, nil
	}
	return entry.quote, true, nil
}

// SetMany implements Cache.
func (c *MemoryCache) SetMany(_ context.Context, base string, rates map[string]decimal.Decimal, fetchedAt time.Time) error {
	expires := c.now().Add(c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for code, rate := range rates {
		c.entries[cacheKey(base, code)] = memoryEntry{
			quote:     Quote{Currency: code, Base: base, Rate: rate, FetchedAt: fetchedAt, Source: SourceCache},
			expiresAt: expires,
		}
	}
	return nil
}

// RedisCache shares rates between processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs a RedisCache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get implements Cache. Values are stored as "<rate> <fetched unix seconds>".
func (c *RedisCache) Get(ctx context.Context, base, currency string) (Quote, bool, error) {
	if c == nil || c.client == nil {
		return Quote{}, false, nil
	}
	raw, err := c.client.Get(ctx, cacheKey(base, currency)).Result()
	if errors.Is(err, redis.Nil) {
		return Quote{}, false, nil
	}
	if err != nil {
		return Quote{}, false, err
	}
	var (
		rateText string
		fetched  int64
	)
	if _, err := fmt.Sscanf(raw, "%s %d", &rateText, &fetched); err != nil {
		return Quote{}, false, fmt.Errorf("fx: cached value %q: %w", raw, err)
	}
	rate, err := decimal.NewFromString(rateText)
	if err != nil {
		return Quote{}, false, fmt.Errorf("fx: cached rate %q: %w", rateText, err)
	}
	return Quote{Currency: currency, Base: base, Rate: rate, FetchedAt: time.Unix(fetched, 0).UTC(), Source: SourceCache}, true, nil
}

// SetMany implements Cache with a single pipeline.
func (c *RedisCache) SetMany(ctx context.Context, base string, rates map[string]decimal.Decimal, fetchedAt time.Time) error {
	if c == nil || c.client == nil || len(rates) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for code, rate := range rates {
			pipe.Set(ctx, cacheKey(base, code), fmt.Sprintf("%s %d", rate.String(), fetchedAt.Unix()), c.ttl)
		}
		return nil
	})
	return err
}

func cacheKey(base, currency string) string {
	return fmt.Sprintf("fx:rate:%s:%s", base, currency)
}
