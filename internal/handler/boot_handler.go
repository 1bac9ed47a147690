package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"popup-runtime/internal/loader"
	"popup-runtime/internal/service"
	apperrors "popup-runtime/pkg/errors"
	"popup-runtime/pkg/logger"
)

// BootHandler serves decision payloads to page runtimes
type BootHandler struct {
	payloads service.PayloadProvider
	maxAge   time.Duration
	logger   *logger.Logger
}

// NewBootHandler creates a boot handler. maxAge sets the browser cache lifetime.
func NewBootHandler(payloads service.PayloadProvider, maxAge time.Duration, log *logger.Logger) *BootHandler {
	return &BootHandler{payloads: payloads, maxAge: maxAge, logger: log}
}

// GetPayload handles GET /api/boot/{siteId}
func (h *BootHandler) GetPayload(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteId")
	if siteID == "" || len(siteID) > 128 {
		writeError(w, r, apperrors.NewValidationError("Invalid site id", nil), h.logger)
		return
	}

	payload, err := h.payloads.Fetch(r.Context(), siteID)
	if err != nil {
		if errors.Is(err, loader.ErrNoPayload) {
			writeError(w, r, apperrors.NewNotFoundError("Site not found"), h.logger)
			return
		}
		writeError(w, r, apperrors.NewInternalError("Failed to load decision payload", err), h.logger)
		return
	}

	if h.maxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.maxAge.Seconds())))
	}
	writeJSON(w, http.StatusOK, payload, h.logger)
}

// Invalidate handles DELETE /api/boot/{siteId}, called by the admin app after publishing
func (h *BootHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteId")
	if err := h.payloads.Invalidate(r.Context(), siteID); err != nil {
		writeError(w, r, apperrors.NewInternalError("Failed to invalidate payload cache", err), h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
