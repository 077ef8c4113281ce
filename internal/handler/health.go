package handler

import (
	"log/slog"
	"net/http"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping() error
}

// HealthHandler reports liveness and the configured dependency mode.
type HealthHandler struct {
	db     Pinger
	mode   string
	logger *slog.Logger
}

func NewHealthHandler(db Pinger, mode string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, mode: mode, logger: logger}
}

// HandleHealth returns 200 when the database answers, 503 otherwise.
//
// HTTP: GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(); err != nil {
		h.logger.Error("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": h.mode})
}
