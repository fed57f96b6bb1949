package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ID formats. Every entry point validates ids against these before
// touching shared state.
var (
	jobIDPattern       = regexp.MustCompile(`^job_[a-z0-9]+$`)
	eventIDPattern     = regexp.MustCompile(`^evt_job_[a-z0-9]+_\d{4}$`)
	structureIDPattern = regexp.MustCompile(`^str_job_[a-z0-9]+_\w+$`)
)

// NewJobID generates a fresh job identifier: "job_" + lowercase hex.
func NewJobID() string {
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidJobID reports whether id matches the strict job id format.
func ValidJobID(id string) bool {
	return jobIDPattern.MatchString(id)
}

// ValidEventID reports whether id matches the event id format.
func ValidEventID(id string) bool {
	return eventIDPattern.MatchString(id)
}

// ValidStructureID reports whether id matches the structure id format.
func ValidStructureID(id string) bool {
	return structureIDPattern.MatchString(id)
}

// EventID builds the id of the seq-th event of a job (1-based, 4-digit).
func EventID(jobID string, seq int) string {
	return fmt.Sprintf("evt_%s_%04d", jobID, seq)
}

// StructureID builds the id of the ordinal-th structure of a job.
func StructureID(jobID string, ordinal int) string {
	return fmt.Sprintf("str_%s_%d", jobID, ordinal)
}
