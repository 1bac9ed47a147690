package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"popup-runtime/internal/middleware"
	"popup-runtime/pkg/errors"
	"popup-runtime/pkg/logger"
)

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}, log *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

// writeError sends the standard error envelope. Internal errors are logged with their cause.
func writeError(w http.ResponseWriter, r *http.Request, appErr *errors.AppError, log *logger.Logger) {
	requestID := middleware.GetRequestID(r.Context())
	entry := log.WithFields(map[string]interface{}{
		"request_id": requestID,
		"path":       r.URL.Path,
		"error_type": appErr.Type,
	})
	if appErr.StatusCode >= http.StatusInternalServerError {
		entry.WithError(appErr).Error("Request failed")
	} else {
		entry.Debug(appErr.Message)
	}

	if err := errors.Write(w, appErr, requestID); err != nil {
		log.WithError(err).Error("Failed to encode error response")
	}
}

// getRealIPAddress extracts the client address, preferring proxy headers
func getRealIPAddress(r *http.Request) string {
	headers := []string{
		"CF-Connecting-IP", // Cloudflare
		"X-Forwarded-For",  // Standard proxy header
		"X-Real-IP",        // Nginx proxy
	}

	for _, header := range headers {
		if ip := r.Header.Get(header); ip != "" {
			// X-Forwarded-For can contain multiple IPs, take the first one
			if header == "X-Forwarded-For" {
				if first := strings.TrimSpace(strings.Split(ip, ",")[0]); first != "" {
					return first
				}
				continue
			}
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
