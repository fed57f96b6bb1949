package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/proteinops/foldy/pkg/kv"
)

// JobMeta holds the small, mostly-immutable inputs a stream driver on any
// instance needs to (re)drive a job.
type JobMeta struct {
	Sequence       string `redis:"sequence" json:"sequence"`
	ConversationID string `redis:"conversation_id" json:"conversation_id,omitempty"`
	CreatedAt      int64  `redis:"created_at" json:"created_at"`
}

// MetaStore manages job meta hashes. TTL mirrors the state store.
type MetaStore struct {
	kv  *kv.Client
	ttl time.Duration
}

// NewMetaStore creates a meta store with the configured TTL.
func NewMetaStore(client *kv.Client, ttl time.Duration) *MetaStore {
	return &MetaStore{kv: client, ttl: ttl}
}

// Create writes the meta hash for a new job.
func (s *MetaStore) Create(ctx context.Context, jobID string, meta JobMeta) error {
	if meta.CreatedAt == 0 {
		meta.CreatedAt = time.Now().UnixMilli()
	}

	fields := map[string]any{
		"sequence":   meta.Sequence,
		"created_at": meta.CreatedAt,
	}
	if meta.ConversationID != "" {
		fields["conversation_id"] = meta.ConversationID
	}

	key := s.kv.MetaKey(jobID)
	_, err := s.kv.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create job meta: %w", err)
	}
	return nil
}

// Get returns the meta hash, or ErrNotFound when absent.
func (s *MetaStore) Get(ctx context.Context, jobID string) (*JobMeta, error) {
	cmd := s.kv.Redis().HGetAll(ctx, s.kv.MetaKey(jobID))
	res, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job meta: %w", err)
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}

	var meta JobMeta
	if err := cmd.Scan(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode job meta: %w", err)
	}
	return &meta, nil
}

// GetSequence returns the registered sequence, or "" when the meta hash
// or the field is absent (empty-as-none).
func (s *MetaStore) GetSequence(ctx context.Context, jobID string) (string, error) {
	seq, err := s.kv.Redis().HGet(ctx, s.kv.MetaKey(jobID), "sequence").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read job sequence: %w", err)
	}
	return seq, nil
}

// SetSequence stores a validated sequence (pre-registration endpoint),
// refreshing the TTL.
func (s *MetaStore) SetSequence(ctx context.Context, jobID, sequence string) error {
	key := s.kv.MetaKey(jobID)
	_, err := s.kv.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "sequence", sequence)
		pipe.HSetNX(ctx, key, "created_at", time.Now().UnixMilli())
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store job sequence: %w", err)
	}
	return nil
}

// Exists reports whether the meta hash is present.
func (s *MetaStore) Exists(ctx context.Context, jobID string) (bool, error) {
	n, err := s.kv.Redis().Exists(ctx, s.kv.MetaKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check job meta: %w", err)
	}
	return n > 0, nil
}

// Delete removes the meta hash.
func (s *MetaStore) Delete(ctx context.Context, jobID string) error {
	if err := s.kv.Redis().Del(ctx, s.kv.MetaKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete job meta: %w", err)
	}
	return nil
}
