package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler responds with service health information.
type HealthHandler struct {
	DB Pinger
}

// Handle implements GET /healthz. A failing database ping reports 503.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	payload := map[string]string{"status": "ok"}

	if h.DB != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := h.DB.Ping(pingCtx); err != nil {
			payload["status"] = "degraded"
			payload["database"] = err.Error()
			respondJSON(ctx, w, http.StatusServiceUnavailable, payload)
			return
		}
		payload["database"] = "ok"
	}

	respondJSON(ctx, w, http.StatusOK, payload)
}
