// Package reporter sends impression, click and close reports to the events endpoint
// and mirrors each one into the host page's event log.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/metrics"
	"popup-runtime/pkg/logger"
)

// EventsPath is appended to the API base to build the report endpoint
const EventsPath = "/api/events"

const defaultTimeout = 5 * time.Second

// EventLog receives the mirrored entries
type EventLog interface {
	PushEventLog(entry domain.EventLogEntry)
}

// Endpoint returns the report URL for an API base, or "" when there is no base
func Endpoint(apiBase string) string {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		return ""
	}
	return apiBase + EventsPath
}

// Reporter delivers events fire-and-forget. Failures are logged and counted, never retried.
type Reporter struct {
	endpoint string
	client   *http.Client
	log      *logger.Logger
	metrics  *metrics.Metrics
	mirror   EventLog
	now      func() time.Time

	wg sync.WaitGroup
}

// Option configures a Reporter
type Option func(*Reporter)

func WithHTTPClient(c *http.Client) Option {
	return func(r *Reporter) {
		if c != nil {
			r.client = c
		}
	}
}

func WithMirror(log EventLog) Option {
	return func(r *Reporter) { r.mirror = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reporter) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a reporter posting to {apiBase}/api/events. An empty apiBase only mirrors.
func New(apiBase string, log *logger.Logger, opts ...Option) *Reporter {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Reporter{
		endpoint: Endpoint(apiBase),
		client:   &http.Client{Timeout: defaultTimeout},
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Emit mirrors ev synchronously and posts it in the background
func (r *Reporter) Emit(ev domain.Event) {
	r.metrics.Emitted(string(ev.Type))

	if r.mirror != nil {
		r.mirror.PushEventLog(domain.EventLogEntry{
			Event:   "pb_" + string(ev.Type),
			PopupID: ev.PopupID,
			Data:    ev.Data,
			At:      r.now(),
		})
	}

	if r.endpoint == "" {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		r.log.WithError(err).Error("Failed to marshal event report")
		r.metrics.ReportFailed(string(ev.Type))
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		defer cancel()

		if err := r.post(ctx, body); err != nil {
			r.metrics.ReportFailed(string(ev.Type))
			r.log.WithError(err).WithFields(map[string]interface{}{
				"popup_id":   ev.PopupID,
				"event_type": string(ev.Type),
			}).Warn("Event report dropped")
		}
	}()
}

// Flush waits for in-flight reports, bounded by ctx
func (r *Reporter) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reporter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send event report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("events endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
