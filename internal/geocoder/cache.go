package geocoder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client caching geocoder responses keyed by a hash of
// the address.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// NewCache creates a Redis-backed geocode response cache. An empty addr
// returns an error; callers with no cache configured skip construction and
// pass a nil *Cache instead.
func NewCache(ctx context.Context, addr, password string, ttl time.Duration) (*Cache, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address missing")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger := slog.Default().With("component", "geocoder-cache")
	logger.Info("geocoder cache connected", "addr", addr)

	return &Cache{client: client, logger: logger, ttl: ttl}, nil
}

// Close closes the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Get returns cached candidates for an address, if present.
func (c *Cache) Get(ctx context.Context, address string) ([]Candidate, bool, error) {
	key := cacheKey(address)
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.logger.Debug("geocoder cache miss", "key", key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}

	var candidates []Candidate
	if err := json.Unmarshal([]byte(val), &candidates); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached candidates for key %s: %w", key, err)
	}

	c.logger.Debug("geocoder cache hit", "key", key)
	return candidates, true, nil
}

// Set stores geocoded candidates for an address with the cache's default TTL.
func (c *Cache) Set(ctx context.Context, address string, candidates []Candidate) error {
	key := cacheKey(address)
	data, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates for key %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}
	return nil
}

// cacheKey hashes the address so arbitrary free-text addresses produce
// bounded, collision-resistant Redis keys.
func cacheKey(address string) string {
	sum := sha256.Sum256([]byte(address))
	return "geocode:" + hex.EncodeToString(sum[:16])
}
