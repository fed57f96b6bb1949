package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/proteinops/foldy/pkg/kv"
	"github.com/proteinops/foldy/pkg/models"
)

// JobState is the per-job state hash. Only the stream driver mutates
// progress/stage/events; only the cancel path sets status=canceled.
type JobState struct {
	Status      models.JobStatus `redis:"status" json:"status"`
	Stage       models.JobStage  `redis:"stage" json:"stage"`
	Progress    int              `redis:"progress" json:"progress"`
	Message     string           `redis:"message" json:"message"`
	Version     int64            `redis:"version" json:"version"`
	CreatedAt   int64            `redis:"created_at" json:"created_at"`
	UpdatedAt   int64            `redis:"updated_at" json:"updated_at"`
	CompletedAt int64            `redis:"completed_at" json:"completed_at,omitempty"`
}

// StateStore manages job state hashes with TTL refresh on every write
// and a versioned compare-and-swap update for concurrent writers.
type StateStore struct {
	kv  *kv.Client
	ttl time.Duration
}

// NewStateStore creates a state store with the configured job-state TTL.
func NewStateStore(client *kv.Client, ttl time.Duration) *StateStore {
	return &StateStore{kv: client, ttl: ttl}
}

// Create writes the initial state hash for a new job. Version starts at 1.
func (s *StateStore) Create(ctx context.Context, jobID string, initial JobState) error {
	now := time.Now().UnixMilli()
	if initial.Status == "" {
		initial.Status = models.StatusQueued
	}
	if initial.Stage == "" {
		initial.Stage = models.StageQueued
	}
	if initial.CreatedAt == 0 {
		initial.CreatedAt = now
	}

	key := s.kv.StateKey(jobID)
	rdb := s.kv.Redis()

	fields := map[string]any{
		"status":     string(initial.Status),
		"stage":      string(initial.Stage),
		"progress":   models.ClampProgress(initial.Progress),
		"message":    initial.Message,
		"version":    1,
		"created_at": initial.CreatedAt,
		"updated_at": now,
	}
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create job state: %w", err)
	}
	return nil
}

// Get returns the state hash, or ErrNotFound when absent.
func (s *StateStore) Get(ctx context.Context, jobID string) (*JobState, error) {
	cmd := s.kv.Redis().HGetAll(ctx, s.kv.StateKey(jobID))
	res, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job state: %w", err)
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}

	var st JobState
	if err := cmd.Scan(&st); err != nil {
		return nil, fmt.Errorf("failed to decode job state: %w", err)
	}
	return &st, nil
}

// Exists reports whether the state hash is present.
func (s *StateStore) Exists(ctx context.Context, jobID string) (bool, error) {
	n, err := s.kv.Redis().Exists(ctx, s.kv.StateKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check job state: %w", err)
	}
	return n > 0, nil
}

// Set writes arbitrary fields unversioned, stamping updated_at and
// refreshing the TTL. Progress values are clamped.
func (s *StateStore) Set(ctx context.Context, jobID string, fields map[string]any) error {
	if p, ok := fields["progress"]; ok {
		if n, ok := p.(int); ok {
			fields["progress"] = models.ClampProgress(n)
		}
	}
	fields["updated_at"] = time.Now().UnixMilli()

	key := s.kv.StateKey(jobID)
	_, err := s.kv.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update job state: %w", err)
	}
	return nil
}

// UpdateProgress stores a clamped progress value and, when non-empty, the
// latest status message.
func (s *StateStore) UpdateProgress(ctx context.Context, jobID string, progress int, message string) error {
	fields := map[string]any{"progress": models.ClampProgress(progress)}
	if message != "" {
		fields["message"] = message
	}
	return s.Set(ctx, jobID, fields)
}

// UpdateStage advances the pipeline stage. Backwards moves are refused;
// writing the current stage again is a no-op for the stage field but
// still applies status/message.
func (s *StateStore) UpdateStage(ctx context.Context, jobID string, stage models.JobStage, status models.JobStatus, message string) error {
	cur, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	fields := map[string]any{}
	if stage != cur.Stage {
		if !cur.Stage.CanAdvanceTo(stage) {
			return fmt.Errorf("%w: stage %s -> %s", ErrInvalidTransition, cur.Stage, stage)
		}
		fields["stage"] = string(stage)
	}
	if status != "" && status != cur.Status {
		if !cur.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: status %s -> %s", ErrInvalidTransition, cur.Status, status)
		}
		fields["status"] = string(status)
	}
	if message != "" {
		fields["message"] = message
	}
	if len(fields) == 0 {
		return nil
	}
	return s.Set(ctx, jobID, fields)
}

// markGuarded applies fields under WATCH only while the stored status is
// not yet terminal. Complete, failed, and canceled are all terminal, so
// whichever transition lands first sticks; the loser gets
// ErrAlreadyTerminal with the winner's state intact. A missing hash
// yields ErrNotFound.
func (s *StateStore) markGuarded(ctx context.Context, jobID string, fields map[string]any) error {
	key := s.kv.StateKey(jobID)
	rdb := s.kv.Redis()

	for {
		err := rdb.Watch(ctx, func(tx *redis.Tx) error {
			status, err := tx.HGet(ctx, key, "status").Result()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			if models.JobStatus(status).IsTerminal() {
				return ErrAlreadyTerminal
			}

			fields["updated_at"] = time.Now().UnixMilli()
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fields)
				pipe.Expire(ctx, key, s.ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue // concurrent modification, re-read status
		}
		return err
	}
}

// MarkRunning flips the job to running. A cancel that already won the
// race is preserved and reported as ErrAlreadyTerminal.
func (s *StateStore) MarkRunning(ctx context.Context, jobID string) error {
	return s.markGuarded(ctx, jobID, map[string]any{
		"status": string(models.StatusRunning),
	})
}

// MarkPartial records an early stream end with structures already
// produced. Refused with ErrAlreadyTerminal once the job is terminal.
func (s *StateStore) MarkPartial(ctx context.Context, jobID, message string) error {
	return s.markGuarded(ctx, jobID, map[string]any{
		"status":  string(models.StatusPartial),
		"message": message,
	})
}

// MarkComplete sets the successful terminal state. Refused with
// ErrAlreadyTerminal when another terminal transition already landed.
func (s *StateStore) MarkComplete(ctx context.Context, jobID, message string) error {
	return s.markGuarded(ctx, jobID, map[string]any{
		"status":       string(models.StatusComplete),
		"stage":        string(models.StageDone),
		"progress":     100,
		"message":      message,
		"completed_at": time.Now().UnixMilli(),
	})
}

// MarkFailed sets the failure terminal state. Refused with
// ErrAlreadyTerminal when another terminal transition already landed.
func (s *StateStore) MarkFailed(ctx context.Context, jobID, message string) error {
	return s.markGuarded(ctx, jobID, map[string]any{
		"status":       string(models.StatusFailed),
		"stage":        string(models.StageError),
		"message":      message,
		"completed_at": time.Now().UnixMilli(),
	})
}

// MarkCanceled transitions the job to canceled, leaving the stage
// untouched. A job which reached a terminal state concurrently is never
// overwritten; ErrAlreadyTerminal is returned with the race's winner
// intact.
func (s *StateStore) MarkCanceled(ctx context.Context, jobID, message string) error {
	return s.markGuarded(ctx, jobID, map[string]any{
		"status":       string(models.StatusCanceled),
		"message":      message,
		"completed_at": time.Now().UnixMilli(),
	})
}

// IsCanceled is the cheap cancellation poll the stream driver performs
// between events: a single hash-field read.
func (s *StateStore) IsCanceled(ctx context.Context, jobID string) (bool, error) {
	status, err := s.kv.Redis().HGet(ctx, s.kv.StateKey(jobID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read job status: %w", err)
	}
	return models.JobStatus(status) == models.StatusCanceled, nil
}

// Delete removes the state hash.
func (s *StateStore) Delete(ctx context.Context, jobID string) error {
	if err := s.kv.Redis().Del(ctx, s.kv.StateKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete job state: %w", err)
	}
	return nil
}

// CASUpdate applies patch only when the stored version equals
// expectedVersion, bumping version by exactly one. It returns
// (false, currentVersion) on a version mismatch so the caller can retry
// with fresh input, and (false, 0) when the hash is missing. A concurrent
// writer between read and EXEC restarts the attempt.
func (s *StateStore) CASUpdate(ctx context.Context, jobID string, expectedVersion int64, patch map[string]any) (bool, int64, error) {
	key := s.kv.StateKey(jobID)
	rdb := s.kv.Redis()

	if p, ok := patch["progress"]; ok {
		if n, ok := p.(int); ok {
			patch["progress"] = models.ClampProgress(n)
		}
	}

	for {
		var current int64
		var matched bool

		err := rdb.Watch(ctx, func(tx *redis.Tx) error {
			ver, err := tx.HGet(ctx, key, "version").Int64()
			if errors.Is(err, redis.Nil) {
				current = 0
				return nil
			}
			if err != nil {
				return err
			}
			current = ver
			if ver != expectedVersion {
				return nil // UNWATCH happens on return; caller retries with current
			}

			fields := make(map[string]any, len(patch)+2)
			for k, v := range patch {
				fields[k] = v
			}
			fields["version"] = expectedVersion + 1
			fields["updated_at"] = time.Now().UnixMilli()

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fields)
				pipe.Expire(ctx, key, s.ttl)
				return nil
			})
			if err != nil {
				return err
			}
			matched = true
			current = expectedVersion + 1
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue // EXEC aborted by a concurrent write
		}
		if err != nil {
			return false, 0, fmt.Errorf("failed versioned update: %w", err)
		}
		return matched, current, nil
	}
}
