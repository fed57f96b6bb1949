package store

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/proteinops/foldy/pkg/kv"
	"github.com/proteinops/foldy/pkg/models"
)

// newTestKV spins up an in-process Redis and returns a wrapped client.
func newTestKV(t *testing.T) (*kv.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return kv.NewClientFromRedis(rdb, "foldy"), mr
}

// makeEvent builds a minimal valid event with the given sequence number.
func makeEvent(jobID string, seq int) *models.Event {
	return &models.Event{
		EventID:   models.EventID(jobID, seq),
		JobID:     jobID,
		Ts:        1724500000000 + int64(seq),
		EventType: models.EventThinkingText,
		Stage:     models.StageModel,
		Status:    models.StatusRunning,
		Progress:  10 + seq,
		Message:   "thinking",
	}
}
