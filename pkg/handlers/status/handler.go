package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/iddaa-lens/cronrunner/pkg/jobs"
	"github.com/iddaa-lens/cronrunner/pkg/logger"
	"github.com/iddaa-lens/cronrunner/pkg/models/api"
)

// StatusSource exposes job state for reading
type StatusSource interface {
	Snapshot() []jobs.Status
	Lookup(key string) (jobs.Status, bool)
}

type Handler struct {
	source StatusSource
	loc    *time.Location
	logger *logger.Logger
}

func NewHandler(source StatusSource, loc *time.Location, logger *logger.Logger) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		source: source,
		loc:    loc,
		logger: logger,
	}
}

// List handles GET /jobs
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	snapshot := h.source.Snapshot()

	response := make([]api.JobResponse, 0, len(snapshot))
	for _, s := range snapshot {
		response = append(response, api.NewJobResponse(s, h.loc, logger.HumanTimeFormat))
	}

	h.write(w, http.StatusOK, api.Response{
		Success: true,
		Data:    response,
		Meta: map[string]any{
			"total":    len(response),
			"timezone": h.loc.String(),
		},
	})
}

// Get handles GET /jobs/{key}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	status, ok := h.source.Lookup(key)
	if !ok {
		h.write(w, http.StatusNotFound, api.Response{
			Success: false,
			Message: "Job not found",
		})
		return
	}

	h.write(w, http.StatusOK, api.Response{
		Success: true,
		Data:    api.NewJobResponse(status, h.loc, logger.HumanTimeFormat),
	})
}

func (h *Handler) write(w http.ResponseWriter, statusCode int, body api.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode jobs response")
	}
}
