package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/crucial707/resource-scheduler/internal/heartbeat"
	"go.uber.org/zap"
)

// HeartbeatReader returns the scheduler's last recorded state.
type HeartbeatReader interface {
	Status(ctx context.Context) (heartbeat.Status, error)
}

// StatusHandler serves health, readiness and scheduler status.
type StatusHandler struct {
	DB        *sql.DB
	Heartbeat HeartbeatReader // nil when Redis is not configured
	// Kinds lists the provider/resource types the registry supports.
	Kinds  []string
	Logger *zap.Logger
}

// Health reports that the process is up.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready pings the database.
func (h *StatusHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.PingContext(r.Context()); err != nil {
		JSONError(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// SchedulerStatus returns the last tick summary, the tick count and live replicas.
func (h *StatusHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.Heartbeat == nil {
		JSONError(w, "scheduler heartbeat not configured", http.StatusServiceUnavailable)
		return
	}
	st, err := h.Heartbeat.Status(r.Context())
	if errors.Is(err, heartbeat.ErrNoHeartbeat) {
		JSONError(w, "no scheduler tick recorded yet", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("read scheduler heartbeat", zap.Error(err))
		}
		JSONError(w, ErrMessageInternal, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"last":      st.Last,
		"ticks":     st.Ticks,
		"instances": st.Instances,
		"providers": h.Kinds,
	})
}
