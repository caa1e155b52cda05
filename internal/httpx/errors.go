package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haukened/fleeting/internal/domain"
)

// writeError writes a JSON error body with given status code.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg})
	if cid, ok := GetCorrelationID(ctx); ok {
		h.logger().Debug("wrote error response", "cid", cid, "status", code, "msg", msg)
	}
}

// mapServiceError maps domain errors to HTTP responses. Raw error strings are
// never sent to clients.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	log := h.logger()
	switch {
	case errors.Is(err, domain.ErrTooLarge):
		log.Warn("service error", "cid", cid, "code", "too_large")
		h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "payload too large")
	case errors.Is(err, domain.ErrInvalidArgument):
		log.Warn("service error", "cid", cid, "code", "invalid_argument")
		h.writeError(ctx, w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, domain.ErrForbidden):
		log.Warn("service error", "cid", cid, "code", "forbidden")
		w.Header().Set("WWW-Authenticate", `Bearer realm="fleeting"`)
		h.writeError(ctx, w, http.StatusUnauthorized, "invalid or expired api token")
	case errors.Is(err, domain.ErrNotFound):
		log.Info("service error", "cid", cid, "code", "not_found")
		h.writeError(ctx, w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrExpired):
		log.Info("service error", "cid", cid, "code", "expired")
		h.writeError(ctx, w, http.StatusGone, "expired")
	case errors.Is(err, domain.ErrIngestionFailed):
		log.Warn("service error", "cid", cid, "code", "ingestion_failed", "error", err)
		h.writeError(ctx, w, http.StatusBadRequest, "upload interrupted")
	case errors.Is(err, domain.ErrStorageUnavailable):
		log.Error("service error", "cid", cid, "code", "storage_unavailable", "error", err)
		h.writeError(ctx, w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		log.Error("unhandled service error", "cid", cid, "code", "internal", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "internal")
	}
}
