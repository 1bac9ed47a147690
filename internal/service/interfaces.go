package service

import (
	"context"

	"popup-runtime/internal/domain"
)

// PayloadProvider serves the decision payload of a site
type PayloadProvider interface {
	// Fetch returns the payload, loader.ErrNoPayload when the site is unknown
	Fetch(ctx context.Context, siteID string) (*domain.DecisionPayload, error)

	// Invalidate drops the cached payload of a site
	Invalidate(ctx context.Context, siteID string) error
}

// RateLimiter bounds requests per client within a fixed window
type RateLimiter interface {
	// Allow counts one request from client and reports whether it is within the limit
	Allow(ctx context.Context, client string) (*domain.RateLimitInfo, error)
}

// EventIngestor accepts event reports from page runtimes
type EventIngestor interface {
	// Ingest validates and stores one report
	Ingest(ctx context.Context, ev domain.Event, requestID string) error
}

// EventPruner removes stored events past retention
type EventPruner interface {
	Prune(ctx context.Context, days int) (int64, error)
}

// Services aggregates all service interfaces
type Services struct {
	Payloads  PayloadProvider
	Limiter   RateLimiter
	Events    EventIngestor
	Retention EventPruner
}
