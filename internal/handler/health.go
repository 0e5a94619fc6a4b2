package handler

import (
	"net/http"
	"time"

	"github.com/finchat/assistant/internal/model"
)

// ReadinessChecker reports whether a dependency is usable.
type ReadinessChecker interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version string
	relay   ReadinessChecker
}

// NewHealthHandler creates a new health handler. relay is nil when the NATS
// relay is disabled.
func NewHealthHandler(version string, relay ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version: version,
		relay:   relay,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.relay != nil && !h.relay.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
