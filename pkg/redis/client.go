package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Nil is returned by Get when the key does not exist.
var Nil = redis.Nil

type Client struct {
	rdb        *redis.Client
	KeyBuilder *KeyBuilder
	log        *zap.Logger
}

// Cache key patterns
const (
	// Frequency records. The durable scope is keyed by visitor, the session scope by session.
	KeyFrequencyDurable = "freq:v:%s:%s" // freq:v:{visitorID}:{frequencyKey}
	KeyFrequencySession = "freq:s:%s:%s" // freq:s:{sessionID}:{frequencyKey}

	// Visit counters
	KeyVisitStats = "visit:%s" // visit:{visitorID}

	// Boot payloads served by the decision endpoint
	KeyBootPayload = "boot:%s" // boot:{siteID}

	// Event ingest rate limiting
	KeyEventRateLimit = "ratelimit:events:%s" // ratelimit:events:{clientHash}
)

// TTL constants
const (
	TTLSessionScope = 30 * time.Minute // refreshed on every write, mirrors browser session lifetime
	TTLBootPayload  = 60 * time.Second // short, campaigns are republished from the admin app
	TTLRateLimit    = time.Minute
)

// NewClient creates a new Redis client
func NewClient(redisURL string, environment string, log *zap.Logger) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 50
	opts.MinIdleConns = 5
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}

	kb := NewKeyBuilder(environment)
	log.Info("Connected to Redis",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.String("key_prefix", kb.GetPrefix()))

	return &Client{rdb: rdb, KeyBuilder: kb, log: log}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// Get retrieves a value from Redis
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	val, err := c.rdb.Get(ctx, key).Result()
	c.logOp("redis_get", key, start, ignoreNil(err))
	return val, err
}

// Set stores a value in Redis with TTL
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, value, ttl).Err()
	c.logOp("redis_set", key, start, err)
	return err
}

// Delete removes keys from Redis
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	c.log.Debug("redis_del",
		zap.Int("keys", len(keys)),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return err
}

// HGetAll gets all fields from a hash. A missing key yields an empty map.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	start := time.Now()
	m, err := c.rdb.HGetAll(ctx, key).Result()
	c.logOp("redis_hgetall", key, start, err)
	return m, err
}

// Incr atomically increments a counter
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	v, err := c.rdb.Incr(ctx, key).Result()
	c.logOp("redis_incr", key, start, err)
	return v, err
}

// HIncrBy atomically increments a hash field
func (c *Client) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	start := time.Now()
	v, err := c.rdb.HIncrBy(ctx, key, field, incr).Result()
	c.logOp("redis_hincrby", key, start, err)
	return v, err
}

// Expire sets a TTL on a key
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Expire(ctx, key, ttl).Err()
	c.logOp("redis_expire", key, start, err)
	return err
}

// HSetWithTTL writes hash fields and (re)applies the TTL in one round trip.
// A zero ttl leaves the key persistent.
func (c *Client) HSetWithTTL(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	start := time.Now()
	_, err := pipe.Exec(ctx)
	c.logOp("redis_hset_ttl", key, start, err)
	return err
}

// Health checks the Redis connection
func (c *Client) Health(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	c.logOp("redis_ping", "", start, err)
	return err
}

// Pipeline creates a new pipeline for batch operations
func (c *Client) Pipeline() redis.Pipeliner {
	return c.rdb.Pipeline()
}

func (c *Client) logOp(op, key string, start time.Time, err error) {
	dur := time.Since(start)
	if err != nil {
		c.log.Info(op,
			zap.String("key_prefix", prefixForLog(key)),
			zap.Duration("duration", dur),
			zap.Error(err))
		return
	}
	c.log.Debug(op,
		zap.String("key_prefix", prefixForLog(key)),
		zap.Duration("duration", dur))
}

func ignoreNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// prefixForLog returns a safe prefix of a key to avoid logging visitor ids
func prefixForLog(key string) string {
	if len(key) <= 24 {
		return key
	}
	return key[:24] + "…"
}
