package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/middleware"
	"popup-runtime/internal/service"
	apperrors "popup-runtime/pkg/errors"
	"popup-runtime/pkg/logger"
)

const maxEventBody = 16 << 10

// EventsHandler receives fire-and-forget event reports
type EventsHandler struct {
	events  service.EventIngestor
	limiter service.RateLimiter
	limit   int
	logger  *logger.Logger
}

// NewEventsHandler creates an events handler. A nil limiter disables rate limiting.
func NewEventsHandler(events service.EventIngestor, limiter service.RateLimiter, limit int, log *logger.Logger) *EventsHandler {
	return &EventsHandler{events: events, limiter: limiter, limit: limit, logger: log}
}

// IngestResponse acknowledges an accepted report
type IngestResponse struct {
	Success bool `json:"success"`
}

// Ingest handles POST /api/events
func (h *EventsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.limiter != nil {
		info, err := h.limiter.Allow(ctx, getRealIPAddress(r))
		if err != nil {
			// Redis trouble never blocks reports
			h.logger.WithError(err).Warn("Rate limit check failed")
		} else {
			h.setRateLimitHeaders(w, info)
			if !info.IsAllowed {
				writeError(w, r, apperrors.NewRateLimitError("Rate limit exceeded. Please try again later."), h.logger)
				return
			}
		}
	}

	var ev domain.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&ev); err != nil {
		writeError(w, r, apperrors.NewValidationError("Invalid JSON body", nil), h.logger)
		return
	}

	if err := h.events.Ingest(ctx, ev, middleware.GetRequestID(ctx)); err != nil {
		writeError(w, r, apperrors.From(err, "Failed to ingest event"), h.logger)
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{Success: true}, h.logger)
}

func (h *EventsHandler) setRateLimitHeaders(w http.ResponseWriter, info *domain.RateLimitInfo) {
	if h.limit <= 0 {
		return
	}
	remaining := int64(h.limit) - info.RequestCount
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.WindowStart.Add(info.TTL).Unix(), 10))
}
