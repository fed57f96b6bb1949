// Package models contains the domain types shared across the service:
// jobs, events, structure artifacts, and the validation rules that guard
// every entry point.
package models

// JobStatus defines the lifecycle status of a job
type JobStatus string

const (
	// StatusQueued is the initial status after job creation
	StatusQueued JobStatus = "queued"
	// StatusRunning means a stream driver is producing events for the job
	StatusRunning JobStatus = "running"
	// StatusPartial means some structures were produced but the run ended early
	StatusPartial JobStatus = "partial"
	// StatusComplete is the successful terminal status
	StatusComplete JobStatus = "complete"
	// StatusFailed is the error terminal status
	StatusFailed JobStatus = "failed"
	// StatusCanceled is the user-initiated terminal status
	StatusCanceled JobStatus = "canceled"
)

// IsValid checks if the status is a known value
func (s JobStatus) IsValid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusPartial, StatusComplete, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCanceled
}

// CanTransitionTo reports whether the status DAG permits s → next.
// queued → running → {partial, complete, failed, canceled}; partial may
// still complete; canceled is reachable from any non-terminal status.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusFailed || next == StatusCanceled
	case StatusRunning:
		return next == StatusPartial || next == StatusComplete || next == StatusFailed || next == StatusCanceled
	case StatusPartial:
		return next == StatusComplete || next == StatusFailed || next == StatusCanceled
	default:
		return false
	}
}

// JobStage defines the pipeline stage a job is in
type JobStage string

const (
	// StageQueued is the pre-processing stage
	StageQueued JobStage = "QUEUED"
	// StageMSA is multiple-sequence-alignment search
	StageMSA JobStage = "MSA"
	// StageModel is structure model inference
	StageModel JobStage = "MODEL"
	// StageRelax is structure relaxation
	StageRelax JobStage = "RELAX"
	// StageQA is model quality assessment
	StageQA JobStage = "QA"
	// StageDone is the successful terminal stage
	StageDone JobStage = "DONE"
	// StageError is the failure terminal stage
	StageError JobStage = "ERROR"
)

// stageRank orders the monotone stage tuple. Terminal stages are handled
// separately in CanAdvanceTo.
var stageRank = map[JobStage]int{
	StageQueued: 0,
	StageMSA:    1,
	StageModel:  2,
	StageRelax:  3,
	StageQA:     4,
	StageDone:   5,
	StageError:  6,
}

// IsValid checks if the stage is a known value
func (s JobStage) IsValid() bool {
	_, ok := stageRank[s]
	return ok
}

// IsTerminal reports whether the stage admits no successor.
func (s JobStage) IsTerminal() bool {
	return s == StageDone || s == StageError
}

// CanAdvanceTo reports whether the stage tuple permits s → next. Stages
// only move forward; DONE may follow RELAX or QA directly, and ERROR may
// follow any non-terminal stage.
func (s JobStage) CanAdvanceTo(next JobStage) bool {
	if !s.IsValid() || !next.IsValid() || s.IsTerminal() {
		return false
	}
	if next == StageError {
		return true
	}
	if next == StageDone {
		return s == StageRelax || s == StageQA
	}
	return stageRank[next] > stageRank[s] && !next.IsTerminal()
}

// ReasonerSession identifies an in-flight reasoner run so that any
// instance can interrupt it.
type ReasonerSession struct {
	Instance   string `json:"instance" redis:"instance"`
	Session    string `json:"session" redis:"session"`
	BackendURL string `json:"backend_url" redis:"backend_url"`
}

// Job is the full job record as returned by the create endpoint.
type Job struct {
	JobID          string    `json:"jobId"`
	Sequence       string    `json:"sequence"`
	ConversationID string    `json:"conversationId,omitempty"`
	Status         JobStatus `json:"status"`
	Stage          JobStage  `json:"stage"`
	Progress       int       `json:"progress"`
	Message        string    `json:"message,omitempty"`
	Version        int64     `json:"version"`
	CreatedAt      int64     `json:"createdAt"`
	CompletedAt    int64     `json:"completedAt,omitempty"`
}

// ClampProgress constrains a progress value to 0..100 before storage.
func ClampProgress(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
