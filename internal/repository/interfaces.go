package repository

import (
	"context"
	"errors"

	"popup-runtime/internal/domain"
)

// ErrSiteNotFound is returned when the site id has never been provisioned
var ErrSiteNotFound = errors.New("site not found")

// DecisionRepository reads the published campaigns of a site
type DecisionRepository interface {
	// GetPayload builds the decision payload of a site, popups in priority order
	GetPayload(ctx context.Context, siteID string) (*domain.DecisionPayload, error)
}

// EventRepository stores ingested event reports as received
type EventRepository interface {
	// Insert appends one event and fills in its id
	Insert(ctx context.Context, record *domain.EventRecord) error

	// DeleteOlderThan removes events older than the retention period
	DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Decisions DecisionRepository
	Events    EventRepository
}
