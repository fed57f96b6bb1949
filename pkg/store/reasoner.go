package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/proteinops/foldy/pkg/kv"
	"github.com/proteinops/foldy/pkg/models"
)

// ReasonerStore holds per-job reasoner session handles so the cancel
// path on any instance has an interrupt target. The handle lives in its
// own hash (not in meta): one writer (the driver), one reader (cancel).
type ReasonerStore struct {
	kv  *kv.Client
	ttl time.Duration
}

// NewReasonerStore creates a reasoner session store.
func NewReasonerStore(client *kv.Client, ttl time.Duration) *ReasonerStore {
	return &ReasonerStore{kv: client, ttl: ttl}
}

// Set records the session triple before the first real message of a
// stream is consumed.
func (s *ReasonerStore) Set(ctx context.Context, jobID string, session models.ReasonerSession) error {
	key := s.kv.ReasonerKey(jobID)
	_, err := s.kv.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"instance":    session.Instance,
			"session":     session.Session,
			"backend_url": session.BackendURL,
		})
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record reasoner session: %w", err)
	}
	return nil
}

// Get returns the session handle, or ErrNotFound when absent.
func (s *ReasonerStore) Get(ctx context.Context, jobID string) (*models.ReasonerSession, error) {
	cmd := s.kv.Redis().HGetAll(ctx, s.kv.ReasonerKey(jobID))
	res, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read reasoner session: %w", err)
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}

	var session models.ReasonerSession
	if err := cmd.Scan(&session); err != nil {
		return nil, fmt.Errorf("failed to decode reasoner session: %w", err)
	}
	return &session, nil
}

// Delete removes the session record to prevent duplicate interrupts.
func (s *ReasonerStore) Delete(ctx context.Context, jobID string) error {
	if err := s.kv.Redis().Del(ctx, s.kv.ReasonerKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete reasoner session: %w", err)
	}
	return nil
}
