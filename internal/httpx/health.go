package httpx

import (
	"context"
	"net/http"
	"time"
)

// readinessTimeout bounds a single readiness check.
const readinessTimeout = 2 * time.Second

// handleHealth reports that the process is serving requests.
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writePlain(w, http.StatusOK, "ok")
}

// handleReady runs the readiness check. Without a check the server is ready.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Readiness == nil {
		writePlain(w, http.StatusOK, "ready")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	if err := h.Readiness(ctx); err != nil {
		cid, _ := GetCorrelationID(r.Context())
		h.logger().Warn("readiness check failed", "domain", "health", "cid", cid, "error", err)
		writeError(r.Context(), w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writePlain(w, http.StatusOK, "ready")
}

func writePlain(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
