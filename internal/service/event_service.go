package service

import (
	"context"
	"fmt"
	"time"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/metrics"
	"popup-runtime/internal/repository"
	"popup-runtime/pkg/errors"
	"popup-runtime/pkg/logger"
)

const maxIDLength = 128

// EventService validates event reports and appends them to the event store
type EventService struct {
	repo    repository.EventRepository
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEventService creates an event service. A nil repo only validates, counts and logs.
func NewEventService(repo repository.EventRepository, log *logger.Logger, m *metrics.Metrics) *EventService {
	if log == nil {
		log = logger.NewNop()
	}
	return &EventService{repo: repo, logger: log.Named("events"), metrics: m, now: time.Now}
}

// Ingest returns a validation AppError for malformed reports
func (s *EventService) Ingest(ctx context.Context, ev domain.Event, requestID string) error {
	if appErr := ValidateEvent(ev); appErr != nil {
		s.metrics.Rejected()
		return appErr
	}

	s.logger.WithFields(map[string]interface{}{
		"site_id":    ev.SiteID,
		"popup_id":   ev.PopupID,
		"type":       ev.Type,
		"request_id": requestID,
	}).Debug("Event received")

	if s.repo != nil {
		record := &domain.EventRecord{Event: ev, RequestID: requestID, ReceivedAt: s.now().UTC()}
		if err := s.repo.Insert(ctx, record); err != nil {
			return errors.NewInternalError("Failed to store event", fmt.Errorf("insert event: %w", err))
		}
	}

	s.metrics.Ingested(string(ev.Type))
	return nil
}

// ValidateEvent checks the report shape sent by the runtime
func ValidateEvent(ev domain.Event) *errors.AppError {
	details := map[string]interface{}{}

	if ev.SiteID == "" || len(ev.SiteID) > maxIDLength {
		details["siteId"] = "required, at most 128 characters"
	}
	if ev.PopupID == "" || len(ev.PopupID) > maxIDLength {
		details["popupId"] = "required, at most 128 characters"
	}

	switch ev.Type {
	case domain.EventImpression, domain.EventClick:
	case domain.EventClose:
		if method, ok := ev.Data[domain.DataCloseMethod]; ok {
			if m, _ := method.(string); m != string(domain.CloseButton) && m != string(domain.CloseOverlay) {
				details["data.closeMethod"] = "must be button or overlay"
			}
		}
	default:
		details["type"] = "must be impression, click or close"
	}

	if len(details) > 0 {
		return errors.NewValidationError("Invalid event report", details)
	}
	return nil
}

// Prune deletes stored events older than the given number of days
func (s *EventService) Prune(ctx context.Context, days int) (int64, error) {
	if s.repo == nil || days <= 0 {
		return 0, nil
	}
	deleted, err := s.repo.DeleteOlderThan(ctx, days)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return deleted, nil
}

// RunRetention prunes on every tick until ctx is done
func RunRetention(ctx context.Context, pruner EventPruner, days int, interval time.Duration, log *logger.Logger) {
	if pruner == nil || days <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := pruner.Prune(ctx, days)
			if err != nil {
				log.WithError(err).Warn("Event retention run failed")
				continue
			}
			if deleted > 0 {
				log.WithFields(map[string]interface{}{
					"deleted":        deleted,
					"retention_days": days,
				}).Info("Pruned old events")
			}
		}
	}
}
