package api

import (
	"time"

	"github.com/iddaa-lens/cronrunner/pkg/jobs"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Jobs       int       `json:"jobs"`
	ActiveJobs int       `json:"active_jobs"`
}

// JobResponse represents a scheduled job in API responses
type JobResponse struct {
	Name        string        `json:"name"`
	Key         string        `json:"key"`
	Schedule    string        `json:"schedule"`
	Command     []string      `json:"command"`
	NextDue     *time.Time    `json:"next_due,omitempty"`
	NextDueText string        `json:"next_due_text,omitempty"`
	Retired     bool          `json:"retired"`
	LastOutcome *jobs.Outcome `json:"last_outcome,omitempty"`
}

// Response represents a general API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
	Message string      `json:"message,omitempty"`
}

// NewJobResponse converts a registry status. Due times are rendered in loc.
func NewJobResponse(s jobs.Status, loc *time.Location, layout string) JobResponse {
	resp := JobResponse{
		Name:        s.Name,
		Key:         s.Key,
		Schedule:    s.Schedule,
		Command:     s.Command.Argv(),
		Retired:     s.Retired,
		LastOutcome: s.LastOutcome,
	}
	if !s.NextDue.IsZero() {
		due := s.NextDue.In(loc)
		resp.NextDue = &due
		resp.NextDueText = due.Format(layout)
	}
	return resp
}
