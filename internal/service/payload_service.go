package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/loader"
	"popup-runtime/internal/metrics"
	"popup-runtime/internal/repository"
	"popup-runtime/pkg/logger"
	"popup-runtime/pkg/redis"
)

// Cache lookup results reported to metrics
const (
	cacheHit   = "hit"
	cacheMiss  = "miss"
	cacheError = "error"
)

// PayloadService serves decision payloads from Redis with a database fallback
type PayloadService struct {
	redis   *redis.Client
	repo    repository.DecisionRepository
	ttl     time.Duration
	logger  *logger.Logger
	metrics *metrics.Metrics

	// cacheDone is called after each asynchronous cache write; tests use it to wait
	cacheDone func()
}

// NewPayloadService creates a payload service. A nil redisClient disables caching.
func NewPayloadService(redisClient *redis.Client, repo repository.DecisionRepository, ttl time.Duration, log *logger.Logger, m *metrics.Metrics) *PayloadService {
	if ttl <= 0 {
		ttl = redis.TTLBootPayload
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &PayloadService{
		redis:   redisClient,
		repo:    repo,
		ttl:     ttl,
		logger:  log.Named("payload"),
		metrics: m,
	}
}

// Fetch retrieves a site's payload with the cache-aside pattern. Cache failures fall
// through to the database; they are never returned to the caller.
func (s *PayloadService) Fetch(ctx context.Context, siteID string) (*domain.DecisionPayload, error) {
	if siteID == "" {
		return nil, loader.ErrNoPayload
	}
	log := s.logger.WithField("site_id", siteID)

	if s.redis != nil {
		cacheKey := s.redis.KeyBuilder.KeyBootPayload(siteID)
		cached, err := s.redis.Get(ctx, cacheKey)
		switch {
		case err == nil && cached != "":
			var payload domain.DecisionPayload
			if unmarshalErr := json.Unmarshal([]byte(cached), &payload); unmarshalErr == nil {
				s.metrics.BootCacheResult(cacheHit)
				log.Debug("Boot payload cache hit")
				return &payload, nil
			} else {
				s.metrics.BootCacheResult(cacheError)
				log.WithError(unmarshalErr).Warn("Boot payload cache corrupted, falling back to database")
			}
		case err != nil && !errors.Is(err, redis.Nil):
			s.metrics.BootCacheResult(cacheError)
			log.WithError(err).Warn("Boot payload cache error, falling back to database")
		default:
			s.metrics.BootCacheResult(cacheMiss)
			log.Debug("Boot payload cache miss")
		}
	}

	payload, err := s.repo.GetPayload(ctx, siteID)
	if err != nil {
		if errors.Is(err, repository.ErrSiteNotFound) {
			return nil, fmt.Errorf("%w: %w", loader.ErrNoPayload, err)
		}
		return nil, fmt.Errorf("database fallback failed: %w", err)
	}

	if s.redis != nil {
		go s.cacheAsync(siteID, payload)
	}
	return payload, nil
}

// Invalidate removes the cached payload of a site
func (s *PayloadService) Invalidate(ctx context.Context, siteID string) error {
	if s.redis == nil {
		return nil
	}
	if err := s.redis.Delete(ctx, s.redis.KeyBuilder.KeyBootPayload(siteID)); err != nil {
		s.logger.WithError(err).WithField("site_id", siteID).Error("Failed to invalidate boot payload cache")
		return err
	}
	return nil
}

// cacheAsync stores the payload in the background
func (s *PayloadService) cacheAsync(siteID string, payload *domain.DecisionPayload) {
	if s.cacheDone != nil {
		defer s.cacheDone()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("site_id", siteID).Error("Failed to marshal boot payload for caching")
		return
	}

	if err := s.redis.Set(ctx, s.redis.KeyBuilder.KeyBootPayload(siteID), string(data), s.ttl); err != nil {
		s.logger.WithError(err).WithField("site_id", siteID).Error("Failed to cache boot payload")
		return
	}
	s.logger.WithField("site_id", siteID).Debug("Boot payload cached")
}
