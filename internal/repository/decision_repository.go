package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"popup-runtime/internal/domain"
	"popup-runtime/pkg/database"
)

// decisionRepository reads popups from PostgreSQL
type decisionRepository struct {
	db *database.PostgresDB
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *database.PostgresDB) DecisionRepository {
	return &decisionRepository{db: db}
}

// GetPayload loads the armable popups of a site. Drafts and archived popups never leave
// the database; the runtime still filters statuses on its side.
func (r *decisionRepository) GetPayload(ctx context.Context, siteID string) (*domain.DecisionPayload, error) {
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sites WHERE id = $1)`, siteID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up site: %w", err)
	}
	if !exists {
		return nil, ErrSiteNotFound
	}

	query := `
		SELECT id, version_id, status, rules
		FROM popups
		WHERE site_id = $1 AND status = ANY($2)
		ORDER BY priority DESC, created_at ASC, id ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, siteID, []string{domain.StatusActive, domain.StatusPublished})
	if err != nil {
		return nil, fmt.Errorf("failed to query popups: %w", err)
	}

	popups, err := pgx.CollectRows(rows, scanPopupEntry)
	if err != nil {
		return nil, fmt.Errorf("failed to scan popups: %w", err)
	}

	return buildPayload(siteID, popups), nil
}

func scanPopupEntry(row pgx.CollectableRow) (domain.PopupEntry, error) {
	var (
		entry domain.PopupEntry
		rules []byte
	)
	if err := row.Scan(&entry.ID, &entry.VersionID, &entry.Status, &rules); err != nil {
		return entry, err
	}
	entry.Rules = json.RawMessage(rules)
	return entry, nil
}

// buildPayload never returns a nil popup slice so the JSON body always carries an array
func buildPayload(siteID string, popups []domain.PopupEntry) *domain.DecisionPayload {
	if popups == nil {
		popups = []domain.PopupEntry{}
	}
	return &domain.DecisionPayload{SiteID: siteID, Popups: popups}
}
