package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"popup-runtime/internal/domain"
	"popup-runtime/pkg/database"
)

// eventRepository appends event reports to PostgreSQL
type eventRepository struct {
	db *database.PostgresDB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *database.PostgresDB) EventRepository {
	return &eventRepository{db: db}
}

// Insert stores a single event report
func (r *eventRepository) Insert(ctx context.Context, record *domain.EventRecord) error {
	data, err := json.Marshal(record.Event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	query := `
		INSERT INTO popup_events (site_id, popup_id, type, data, request_id, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err = r.db.Pool.QueryRow(ctx, query,
		record.Event.SiteID,
		record.Event.PopupID,
		string(record.Event.Type),
		data,
		record.RequestID,
		record.ReceivedAt,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// DeleteOlderThan removes events older than the specified retention period
func (r *eventRepository) DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	query := `
		DELETE FROM popup_events
		WHERE received_at < NOW() - make_interval(days => $1)
	`

	result, err := r.db.Pool.Exec(ctx, query, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}

	return result.RowsAffected(), nil
}
