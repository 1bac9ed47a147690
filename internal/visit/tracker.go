// Package visit keeps the durable per-visitor counters that feed the pageview,
// sessions and new-vs-returning conditions when the host page does not supply them.
package visit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"popup-runtime/internal/domain"
	"popup-runtime/pkg/logger"
	"popup-runtime/pkg/redis"
)

// Hash fields of the visit record
const (
	fieldPageViews   = "page_views"
	fieldSessions    = "sessions"
	fieldFirstSeenAt = "first_seen_at"
)

// TTLVisitStats keeps an idle visitor's counters for roughly a year
const TTLVisitStats = 400 * 24 * time.Hour

// Tracker records page views
type Tracker interface {
	// RecordPageView counts one page view and, when newSession is set, one session.
	// It returns the counters after the update.
	RecordPageView(ctx context.Context, visitorID string, newSession bool) (domain.VisitStats, error)

	// Stats returns the counters without changing them
	Stats(ctx context.Context, visitorID string) (domain.VisitStats, error)
}

type redisTracker struct {
	redisClient *redis.Client
	logger      *logger.Logger
	now         func() time.Time
}

// NewRedisTracker stores counters in one Redis hash per visitor
func NewRedisTracker(redisClient *redis.Client, log *logger.Logger) Tracker {
	if log == nil {
		log = logger.NewNop()
	}
	return &redisTracker{redisClient: redisClient, logger: log, now: time.Now}
}

func (t *redisTracker) RecordPageView(ctx context.Context, visitorID string, newSession bool) (domain.VisitStats, error) {
	key := t.redisClient.KeyBuilder.KeyVisitStats(visitorID)

	// Use Redis pipeline for atomic operations
	pipe := t.redisClient.Pipeline()
	pipe.HIncrBy(ctx, key, fieldPageViews, 1)
	if newSession {
		pipe.HIncrBy(ctx, key, fieldSessions, 1)
	}
	pipe.HSetNX(ctx, key, fieldFirstSeenAt, t.now().Unix())
	pipe.Expire(ctx, key, TTLVisitStats)

	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.WithError(err).Error("Failed to record page view")
		return domain.VisitStats{}, fmt.Errorf("failed to record page view: %w", err)
	}

	stats, err := t.Stats(ctx, visitorID)
	if err != nil {
		return domain.VisitStats{}, err
	}

	t.logger.WithFields(map[string]interface{}{
		"page_views": stats.PageViews,
		"sessions":   stats.Sessions,
	}).Debug("Page view recorded successfully")
	return stats, nil
}

func (t *redisTracker) Stats(ctx context.Context, visitorID string) (domain.VisitStats, error) {
	fields, err := t.redisClient.HGetAll(ctx, t.redisClient.KeyBuilder.KeyVisitStats(visitorID))
	if err != nil {
		return domain.VisitStats{}, fmt.Errorf("failed to read visit stats: %w", err)
	}
	return decode(fields), nil
}

func decode(fields map[string]string) domain.VisitStats {
	var s domain.VisitStats
	s.PageViews, _ = strconv.Atoi(fields[fieldPageViews])
	s.Sessions, _ = strconv.Atoi(fields[fieldSessions])
	if ts, err := strconv.ParseInt(fields[fieldFirstSeenAt], 10, 64); err == nil {
		s.FirstSeenAt = time.Unix(ts, 0).UTC()
	}
	return s
}

// MemoryTracker is an in-process Tracker for tests and the simulator
type MemoryTracker struct {
	mu    sync.Mutex
	stats map[string]domain.VisitStats
	now   func() time.Time
}

// NewMemoryTracker creates an empty tracker
func NewMemoryTracker(now func() time.Time) *MemoryTracker {
	if now == nil {
		now = time.Now
	}
	return &MemoryTracker{stats: make(map[string]domain.VisitStats), now: now}
}

func (m *MemoryTracker) RecordPageView(_ context.Context, visitorID string, newSession bool) (domain.VisitStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats[visitorID]
	s.PageViews++
	if newSession {
		s.Sessions++
	}
	if s.FirstSeenAt.IsZero() {
		s.FirstSeenAt = m.now()
	}
	m.stats[visitorID] = s
	return s, nil
}

func (m *MemoryTracker) Stats(_ context.Context, visitorID string) (domain.VisitStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[visitorID], nil
}
