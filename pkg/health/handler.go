package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler serves GET /health from a Monitor.
type Handler struct {
	monitor *Monitor
	logger  *logrus.Logger
}

// NewHandler creates a health handler.
func NewHandler(monitor *Monitor, logger *logrus.Logger) *Handler {
	return &Handler{monitor: monitor, logger: logger}
}

// Response is the JSON body for health checks.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Loop      LoopInfo  `json:"loop"`
}

// LoopInfo describes the connection loop's heartbeat state.
type LoopInfo struct {
	LastBeat time.Time `json:"lastBeat"`
	Beats    uint64    `json:"beats"`
	StaleFor string    `json:"staleFor,omitempty"`
}

// ServeHTTP handles GET /health requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.monitor.Snapshot()

	response := Response{
		Status:    snap.Status.String(),
		Timestamp: time.Now(),
		Loop: LoopInfo{
			LastBeat: snap.LastBeat,
			Beats:    snap.Beats,
		},
	}
	if snap.StaleFor > 0 {
		response.Loop.StaleFor = snap.StaleFor.String()
	}

	statusCode := http.StatusOK
	if snap.Status != Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode health response")
	}
}
