package handler

import (
	"context"
	"net/http"
	"time"

	natsclient "github.com/capitalize-ai/inbox-console/internal/nats"
	"github.com/capitalize-ai/inbox-console/internal/transport"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient *natsclient.Client
	audit      Pinger
	connection func() transport.State
}

// NewHealthHandler creates a new health handler. natsClient and audit may be nil.
func NewHealthHandler(connection func() transport.State, natsClient *natsclient.Client, audit Pinger) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		audit:      audit,
		connection: connection,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if state := h.connection(); state != transport.StateConnected {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "event stream " + string(state),
		})
		return
	}

	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	if h.audit != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.audit.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "audit database unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
