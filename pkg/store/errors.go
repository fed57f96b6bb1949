// Package store implements the shared-state components every instance
// coordinates through: the job state store (optimistically versioned
// hash), the job meta store, the reasoner session store, and the bounded
// per-job event queue.
package store

import "errors"

var (
	// ErrNotFound is returned when a job has no state or meta hash
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyTerminal is returned when a transition is requested on a
	// job whose status is complete, failed, or canceled
	ErrAlreadyTerminal = errors.New("job is already in a terminal state")

	// ErrInvalidTransition is returned when a stage or status change
	// violates the lifecycle state machine
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrReplayWindowExpired is returned when a replay offset points at
	// events that were trimmed from the bounded queue
	ErrReplayWindowExpired = errors.New("replay window expired: requested offset was trimmed")
)
