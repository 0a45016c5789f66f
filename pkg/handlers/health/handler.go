package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/iddaa-lens/cronrunner/pkg/jobs"
	"github.com/iddaa-lens/cronrunner/pkg/logger"
	"github.com/iddaa-lens/cronrunner/pkg/models/api"
)

// StatusSource lists the scheduled jobs
type StatusSource interface {
	Snapshot() []jobs.Status
}

// Handler handles health check requests
type Handler struct {
	source StatusSource
	logger *logger.Logger
}

// NewHandler creates a new health handler
func NewHandler(source StatusSource, log *logger.Logger) *Handler {
	return &Handler{
		source: source,
		logger: log,
	}
}

// HealthCheck handles the /health endpoint. It reports 503 once no job has a
// future occurrence.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	snapshot := h.source.Snapshot()
	response := api.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Jobs:      len(snapshot),
	}
	for _, s := range snapshot {
		if !s.Retired {
			response.ActiveJobs++
		}
	}

	statusCode := http.StatusOK
	if response.ActiveJobs == 0 {
		response.Status = "idle"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "health_check_failed").
			Str("endpoint", "/health").
			Msg("Failed to encode health response")
		return
	}

	h.logger.Debug().
		Str("action", "health_check").
		Str("endpoint", "/health").
		Str("method", r.Method).
		Str("remote_addr", r.RemoteAddr).
		Int("status_code", statusCode).
		Dur("duration", time.Since(start)).
		Msg("Health check completed")
}
