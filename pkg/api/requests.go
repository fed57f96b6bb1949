package api

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// CreateJobRequest is the HTTP request body for POST /api/v1/jobs.
// Exactly one of Sequence or FastaContent must be non-empty.
type CreateJobRequest struct {
	Sequence       string `json:"sequence,omitempty" validate:"omitempty,max=10000"`
	FastaContent   string `json:"fastaContent,omitempty" validate:"omitempty,max=20000"`
	ConversationID string `json:"conversationId,omitempty" validate:"omitempty,max=128"`
}

// RegisterSequenceRequest is the body for POST /api/v1/jobs/:id/sequence.
type RegisterSequenceRequest struct {
	JobID    string `json:"jobId,omitempty" validate:"omitempty,max=128"`
	Sequence string `json:"sequence" validate:"required,max=10000"`
}
