// Package redis holds the Redis-backed helpers of the service: a read-through
// cache for progress snapshots and the delivery guard of the outbox relay.
// Redis is optional; neither helper is a source of truth.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// Addr is "host:port".
	Addr string

	// Password is empty when auth is disabled.
	Password string

	// DB is the Redis database number (0-15).
	DB int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheMiss is returned when the requested key is not found in cache.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheConnection is returned when Redis connection fails.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization is returned when serialization/deserialization fails.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	// ErrCacheInvalidTTL is returned when an invalid TTL is provided.
	ErrCacheInvalidTTL = errors.New("cache: invalid TTL")

	// ErrCacheKeyEmpty is returned when an empty key is provided.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYS AND TTLs
// ══════════════════════════════════════════════════════════════════════════════

const (
	// PrefixDelivered namespaces the delivery markers of the outbox relay.
	PrefixDelivered = "stepquest:delivered:"

	// PrefixProgress namespaces cached progress snapshots.
	PrefixProgress = "stepquest:"

	// PrefixGeneration namespaces invalidation counters of cached snapshots.
	PrefixGeneration = "stepquest:gen:"
)

const (
	// TTLProgressCache bounds staleness if an invalidation is lost.
	TTLProgressCache = 30 * time.Second

	// TTLDeliveryMarker keeps markers long enough to cover any retry window.
	TTLDeliveryMarker = 30 * 24 * time.Hour

	// TTLGeneration outlives the day a progress key belongs to.
	TTLGeneration = 48 * time.Hour
)

// DeliveredKey generates the marker key for a dedup key.
func DeliveredKey(dedupKey string) string {
	return PrefixDelivered + dedupKey
}

// ProgressKey namespaces a query cache key.
func ProgressKey(key string) string {
	return PrefixProgress + key
}

// GenerationKey names the invalidation counter of a query cache key.
func GenerationKey(key string) string {
	return PrefixGeneration + key
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Cache wraps a Redis client with JSON values and key validation.
type Cache struct {
	client redis.UniversalClient
}

// NewCache connects to Redis and verifies the connection.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return &Cache{client: client}, nil
}

// NewCacheFromClient wraps an existing client.
func NewCacheFromClient(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Set stores value as JSON under key.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	if ttl < 0 {
		return ErrCacheInvalidTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the value under key into dest. Returns ErrCacheMiss if absent.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return nil
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Exists checks if a key exists in the cache.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrCacheKeyEmpty
	}

	count, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetNX stores value only if key is absent and reports whether it did.
func (c *Cache) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrCacheKeyEmpty
	}
	if ttl < 0 {
		return false, ErrCacheInvalidTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.client.SetNX(ctx, key, data, ttl).Result()
}

// ══════════════════════════════════════════════════════════════════════════════
// VERSIONED VALUES
// ══════════════════════════════════════════════════════════════════════════════

// setIfGeneration writes KEYS[1] only while the counter KEYS[2] equals ARGV[1].
// A missing counter reads as zero.
var setIfGeneration = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if (tonumber(cur) or 0) ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Generation returns the counter under genKey, zero if absent.
func (c *Cache) Generation(ctx context.Context, genKey string) (int64, error) {
	if genKey == "" {
		return 0, ErrCacheKeyEmpty
	}
	n, err := c.client.Get(ctx, genKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// SetIfGeneration stores value under key only if genKey still holds gen and
// reports whether it did.
func (c *Cache) SetIfGeneration(ctx context.Context, key, genKey string, gen int64, value any, ttl time.Duration) (bool, error) {
	if key == "" || genKey == "" {
		return false, ErrCacheKeyEmpty
	}
	if ttl <= 0 {
		return false, ErrCacheInvalidTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	n, err := setIfGeneration.Run(ctx, c.client, []string{key, genKey}, gen, data, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Bump advances the counter under genKey and deletes key in one MULTI block.
func (c *Cache) Bump(ctx context.Context, key, genKey string, genTTL time.Duration) error {
	if key == "" || genKey == "" {
		return ErrCacheKeyEmpty
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, genTTL)
		pipe.Del(ctx, key)
		return nil
	})
	return err
}
