package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/haukened/storyhost/internal/domain"
)

// StatusClientClosedRequest is recorded when the client disconnects before a
// response could be written.
const StatusClientClosedRequest = 499

// writeError writes a JSON error body with given status code.
func writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg})
	if cid, ok := GetCorrelationID(ctx); ok {
		slog.Debug("wrote error response", "cid", cid, "status", code, "msg", msg)
	}
}

// mapServiceError maps domain/store/service errors to HTTP responses.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	log := h.logger()
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		log.Info("service error", "cid", cid, "code", "unauthorized")
		writeError(ctx, w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrInvalidID):
		log.Warn("service error", "cid", cid, "code", "invalid_id")
		writeError(ctx, w, http.StatusBadRequest, "invalid id")
	case errors.Is(err, domain.ErrNotFound):
		log.Info("service error", "cid", cid, "code", "not_found")
		writeError(ctx, w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrCapacityExceeded):
		log.Warn("service error", "cid", cid, "code", "capacity_exceeded")
		writeError(ctx, w, http.StatusServiceUnavailable, "capacity exceeded")
	case errors.Is(err, domain.ErrPayloadRejected):
		log.Warn("service error", "cid", cid, "code", "payload_rejected")
		writeError(ctx, w, http.StatusRequestEntityTooLarge, "payload rejected")
	case errors.Is(err, domain.ErrStorageWrite):
		// Paths stay out of the log line; the wrapped error names them.
		log.Error("service error", "cid", cid, "code", "storage_write")
		writeError(ctx, w, http.StatusInternalServerError, "storage write")
	case errors.Is(err, context.Canceled):
		// The client went away; the status only reaches the access log.
		log.Info("request canceled", "cid", cid, "code", "canceled")
		w.WriteHeader(StatusClientClosedRequest)
	default:
		log.Error("unhandled service error", "cid", cid, "code", "unhandled", "err_type", "unknown")
		writeError(ctx, w, http.StatusInternalServerError, "internal")
	}
}
