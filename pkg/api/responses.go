package api

import (
	"github.com/proteinops/foldy/pkg/models"
	"github.com/proteinops/foldy/pkg/store"
)

// CreateJobResponse is returned by POST /api/v1/jobs.
type CreateJobResponse struct {
	JobID string      `json:"jobId"`
	Job   *models.Job `json:"job"`
}

// RegisterSequenceResponse is returned by POST /api/v1/jobs/:id/sequence.
type RegisterSequenceResponse struct {
	JobID string `json:"jobId"`
	OK    bool   `json:"ok"`
}

// CancelResponse is returned by POST /api/v1/jobs/:id/cancel.
type CancelResponse struct {
	OK     bool             `json:"ok"`
	JobID  string           `json:"jobId"`
	Status models.JobStatus `json:"status"`
}

// EventsResponse is returned by GET /api/v1/jobs/:id/events.
type EventsResponse struct {
	JobID  string         `json:"jobId"`
	Count  int            `json:"count"`
	Total  int64          `json:"total"`
	Offset int64          `json:"offset"`
	Events []models.Event `json:"events"`
}

// StateResponse is returned by GET /api/v1/jobs/:id/state.
type StateResponse struct {
	JobID string          `json:"jobId"`
	State *store.JobState `json:"state"`
}

// ErrorResponse is the 400 body for validation failures.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// HealthCheck is one dependency's health in the /healthz response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}
