// Package loader fetches the decision payload of a site once per page lifetime.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"popup-runtime/internal/domain"
	"popup-runtime/pkg/logger"
)

// ErrNoPayload means the site has no decision payload. Callers show nothing.
var ErrNoPayload = errors.New("loader: no decision payload")

// BootPath is the boot endpoint relative to the API base
const BootPath = "/api/boot/"

// Source produces the decision payload of a site
type Source interface {
	Fetch(ctx context.Context, siteID string) (*domain.DecisionPayload, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context, siteID string) (*domain.DecisionPayload, error)

func (f SourceFunc) Fetch(ctx context.Context, siteID string) (*domain.DecisionPayload, error) {
	return f(ctx, siteID)
}

// HTTPSource fetches {apiBase}/api/boot/{siteId}
type HTTPSource struct {
	apiBase    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewHTTPSource creates an HTTP source
func NewHTTPSource(apiBase string, client *http.Client, log *logger.Logger) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &HTTPSource{
		apiBase:    strings.TrimRight(apiBase, "/"),
		httpClient: client,
		logger:     log,
	}
}

// Fetch performs a single GET. There is no retry.
func (s *HTTPSource) Fetch(ctx context.Context, siteID string) (*domain.DecisionPayload, error) {
	if s.apiBase == "" {
		return nil, fmt.Errorf("no API base configured: %w", ErrNoPayload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiBase+BootPath+url.PathEscape(siteID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch decision payload: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, ErrNoPayload
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("boot endpoint returned status %d", resp.StatusCode)
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, ErrNoPayload
	}

	var payload domain.DecisionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"site_id":     siteID,
			"status_code": resp.StatusCode,
		}).Warn("Failed to parse decision payload")
		return nil, fmt.Errorf("failed to parse decision payload: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"site_id": siteID,
		"popups":  len(payload.Popups),
	}).Debug("Fetched decision payload")
	return &payload, nil
}

// Loader caches successful fetches by site id. A payload is treated as an immutable
// snapshot; nothing is ever re-fetched or polled.
type Loader struct {
	source Source
	log    *logger.Logger

	mu    sync.Mutex
	cache map[string]*domain.DecisionPayload
}

// New creates a loader over source
func New(source Source, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.NewNop()
	}
	return &Loader{source: source, log: log, cache: make(map[string]*domain.DecisionPayload)}
}

// Load returns the cached payload or fetches it once
func (l *Loader) Load(ctx context.Context, siteID string) (*domain.DecisionPayload, error) {
	if siteID == "" {
		return nil, ErrNoPayload
	}

	l.mu.Lock()
	if p, ok := l.cache[siteID]; ok {
		l.mu.Unlock()
		return p, nil
	}
	l.mu.Unlock()

	p, err := l.source.Fetch(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNoPayload
	}
	if p.SiteID == "" {
		p.SiteID = siteID
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.cache[siteID]; ok {
		return cached, nil
	}
	l.cache[siteID] = p
	return p, nil
}
