package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"popup-runtime/internal/domain"
	"popup-runtime/pkg/logger"
	"popup-runtime/pkg/redis"
)

// redisRateLimiter is a fixed-window counter per client
type redisRateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
	logger *logger.Logger
	now    func() time.Time
}

// NewRateLimiter allows limit requests per client per redis.TTLRateLimit window.
// A non-positive limit or a nil client allows everything.
func NewRateLimiter(redisClient *redis.Client, limit int, log *logger.Logger) RateLimiter {
	if log == nil {
		log = logger.NewNop()
	}
	return &redisRateLimiter{
		redis:  redisClient,
		limit:  int64(limit),
		window: redis.TTLRateLimit,
		logger: log,
		now:    time.Now,
	}
}

// Allow increments the client's counter. Redis errors are returned and callers admit.
func (l *redisRateLimiter) Allow(ctx context.Context, client string) (*domain.RateLimitInfo, error) {
	clientHash := hashClient(client)
	info := &domain.RateLimitInfo{
		ClientHash:  clientHash,
		WindowStart: l.now().Truncate(l.window),
		TTL:         l.window,
		IsAllowed:   true,
	}
	if l.redis == nil || l.limit <= 0 {
		return info, nil
	}

	key := l.redis.KeyBuilder.KeyEventRateLimit(clientHash)
	count, err := l.redis.Incr(ctx, key)
	if err != nil {
		return info, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	// Set expiry on first request
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window); err != nil {
			l.logger.WithError(err).Warn("Failed to set rate limit key expiry")
		}
	}

	info.RequestCount = count
	info.IsAllowed = count <= l.limit
	return info, nil
}

// hashClient keeps raw addresses out of Redis keys
func hashClient(client string) string {
	hash := sha256.Sum256([]byte(client))
	return fmt.Sprintf("%x", hash)[:16]
}
