package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgx.Conn, *pgxpool.Pool and pgx.Tx
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Tables the decision endpoint and event ingestion read and write
var Tables = []string{"sites", "popups", "popup_events"}

var createStatements = []string{
	`CREATE TABLE IF NOT EXISTS sites (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// rules holds the campaign schema JSON verbatim; the runtime parses it per entry
	`CREATE TABLE IF NOT EXISTS popups (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
		version_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		rules JSONB NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS popup_events (
		id BIGSERIAL PRIMARY KEY,
		site_id TEXT NOT NULL,
		popup_id TEXT NOT NULL,
		type TEXT NOT NULL,
		data JSONB,
		request_id TEXT,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_popups_site_status ON popups(site_id, status, priority DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_popup_events_received_at ON popup_events(received_at)`,
	`CREATE INDEX IF NOT EXISTS idx_popup_events_popup ON popup_events(site_id, popup_id, type)`,
}

var dropStatements = []string{
	`DROP TABLE IF EXISTS popup_events CASCADE`,
	`DROP TABLE IF EXISTS popups CASCADE`,
	`DROP TABLE IF EXISTS sites CASCADE`,
}

// DemoSiteID is the site created by SeedDemo
const DemoSiteID = "demo"

var seedStatements = []string{
	`INSERT INTO sites (id, name) VALUES ('demo', 'Demo site')
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,

	`INSERT INTO popups (id, site_id, version_id, status, priority, rules) VALUES
	('welcome', 'demo', 'v1', 'active', 10, '{
		"targetingRules": [{"type": "new_vs_returning", "value": "new"}],
		"triggers": [{"type": "after_seconds", "seconds": 5}, {"type": "scroll_percent", "percent": 40}],
		"triggersMode": "any",
		"frequency": {"maxPerSession": 1, "cooldownAfterCloseHours": 24},
		"blocks": [
			{"id": "h", "type": "heading", "content": {"text": "Welcome!"}},
			{"id": "b", "type": "button", "content": {"text": "Got it"}, "action": "close"}
		],
		"layout": {"position": "center", "width": 480, "closeButton": "inside", "overlayClose": true},
		"localization": {"baseLang": "en", "enabledLangs": ["en", "th"], "translations": {"th": {"h.text": "ยินดีต้อนรับ", "b.text": "ตกลง"}}}
	}'),
	('exit-offer', 'demo', 'v3', 'published', 5, '{
		"triggers": [{"type": "exit_intent"}],
		"frequency": {"showOnce": true},
		"blocks": [
			{"id": "t", "type": "text", "content": {"text": "Before you go: 10% off with code STAY10"}}
		],
		"layout": {"position": "bottom-right", "closeButton": "outside", "overlayClose": false}
	}')
	ON CONFLICT (id) DO UPDATE SET
		version_id = EXCLUDED.version_id,
		status = EXCLUDED.status,
		priority = EXCLUDED.priority,
		rules = EXCLUDED.rules,
		updated_at = NOW()`,
}

// CreateSchema creates the tables and indexes if they do not exist
func CreateSchema(ctx context.Context, ex Execer) error {
	return execAll(ctx, ex, createStatements)
}

// DropSchema removes every table, including stored events
func DropSchema(ctx context.Context, ex Execer) error {
	return execAll(ctx, ex, dropStatements)
}

// SeedDemo upserts a demo site with two popups
func SeedDemo(ctx context.Context, ex Execer) error {
	return execAll(ctx, ex, seedStatements)
}

func execAll(ctx context.Context, ex Execer, statements []string) error {
	for _, stmt := range statements {
		if _, err := ex.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", summarize(stmt), err)
		}
	}
	return nil
}

func summarize(stmt string) string {
	line := strings.TrimSpace(strings.SplitN(stmt, "\n", 2)[0])
	if len(line) > 60 {
		return line[:60] + "..."
	}
	return line
}
