package cache

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/lawgpt/internal/core"
)

const keyPrefix = "lawgpt:filetext:"

// RedisCache stores extracted document text in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse REDIS_URL")
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	log.Info().Str("addr", opts.Addr).Msg("Redis text cache ready")
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, fileID string) (string, bool, error) {
	v, err := c.client.Get(ctx, keyPrefix+fileID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "redis get")
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, fileID, text string) error {
	return errors.Wrap(c.client.Set(ctx, keyPrefix+fileID, text, c.ttl).Err(), "redis set")
}

func (c *RedisCache) Delete(ctx context.Context, fileID string) error {
	return errors.Wrap(c.client.Del(ctx, keyPrefix+fileID).Err(), "redis del")
}

func (c *RedisCache) Close() error { return c.client.Close() }

type entry struct {
	text    string
	expires time.Time
}

// MemoryCache is the single-process fallback when REDIS_URL is unset.
// Expired entries are dropped lazily on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{entries: map[string]entry{}, ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, fileID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fileID]
	if !ok {
		return "", false, nil
	}
	if c.ttl > 0 && c.now().After(e.expires) {
		delete(c.entries, fileID)
		return "", false, nil
	}
	return e.text, true, nil
}

func (c *MemoryCache) Set(_ context.Context, fileID, text string) error {
	c.mu.Lock()
	c.entries[fileID] = entry{text: text, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, fileID string) error {
	c.mu.Lock()
	delete(c.entries, fileID)
	c.mu.Unlock()
	return nil
}

// New picks Redis when url is set, memory otherwise.
func New(ctx context.Context, url string, ttl time.Duration) (core.TextCache, error) {
	if url == "" {
		return NewMemoryCache(ttl), nil
	}
	return NewRedisCache(ctx, url, ttl)
}

var (
	_ core.TextCache = (*RedisCache)(nil)
	_ core.TextCache = (*MemoryCache)(nil)
)
