package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proteinops/foldy/pkg/models"
)

func TestStateStore_CreateAndGet(t *testing.T) {
	client, mr := newTestKV(t)
	s := NewStateStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "job_abc", JobState{Message: "Job queued"}))

	st, err := s.Get(ctx, "job_abc")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, st.Status)
	assert.Equal(t, models.StageQueued, st.Stage)
	assert.Equal(t, int64(1), st.Version)
	assert.Equal(t, 0, st.Progress)
	assert.Equal(t, "Job queued", st.Message)
	assert.NotZero(t, st.CreatedAt)
	assert.NotZero(t, st.UpdatedAt)

	// Every write carries the job-state TTL.
	ttl := mr.TTL("foldy:job:state:job_abc")
	assert.Equal(t, time.Hour, ttl)
}

func TestStateStore_GetMissing(t *testing.T) {
	client, _ := newTestKV(t)
	s := NewStateStore(client, time.Hour)

	_, err := s.Get(context.Background(), "job_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := s.Exists(context.Background(), "job_missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStateStore_ProgressClamped(t *testing.T) {
	client, _ := newTestKV(t)
	s := NewStateStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "job_abc", JobState{}))

	tests := []struct {
		in   int
		want int
	}{
		{-10, 0},
		{0, 0},
		{55, 55},
		{100, 100},
		{250, 100},
	}
	for _, tt := range tests {
		require.NoError(t, s.UpdateProgress(ctx, "job_abc", tt.in, ""))
		st, err := s.Get(ctx, "job_abc")
		require.NoError(t, err)
		assert.Equal(t, tt.want, st.Progress, "progress %d", tt.in)
	}
}

func TestStateStore_UpdateStage(t *testing.T) {
	client, _ := newTestKV(t)
	s := NewStateStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "job_abc", JobState{}))

	// Forward moves are fine.
	require.NoError(t, s.UpdateStage(ctx, "job_abc", models.StageMSA, models.StatusRunning, "searching"))
	require.NoError(t, s.UpdateStage(ctx, "job_abc", models.StageModel, "", "modeling"))

	st, err := s.Get(ctx, "job_abc")
	require.NoError(t, err)
	assert.Equal(t, models.StageModel, st.Stage)
	assert.Equal(t, models.StatusRunning, st.Status)
	assert.Equal(t, "modeling", st.Message)

	// Backwards moves are refused.
	err = s.UpdateStage(ctx, "job_abc", models.StageMSA, "", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// DONE without passing RELAX or QA is refused.
	err = s.UpdateStage(ctx, "job_abc", models.StageDone, "", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStateStore_MarkComplete(t *testing.T) {
	client, _ := newTestKV(t)
	s := NewStateStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "job_abc", JobState{}))
	require.NoError(t, s.MarkComplete(ctx, "job_abc", "Prediction complete"))

	st, err := s.Get(ctx, "job_abc")
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, st.Status)
	assert.Equal(t, models.StageDone, st.Stage)
	assert.Equal(t, 100, st.Progress)
	assert.NotZero(t, st.CompletedAt)
}

func TestStateStore_MarkFailed(t *testing.T) {
	client, _ := newTestKV(t)
	s := NewStateStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "job_abc", JobState{}))
	require.NoError(t, s.MarkFailed(ctx, "job_abc", "reasoner stream error"))

	st, err := s.Get(ctx, "job_abc")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, st.Status)
	assert.Equal(t, models.StageError, st.Stage)
}

func TestStateStore_MarkCanceled(t *testing.T) {
	client, _ := newTestKV(t)
	s := NewStateStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "job_abc", JobState{}))
	require.NoError(t, s.UpdateStage(ctx, "job_abc", models.StageModel, models.StatusRunning, ""))

	require.NoError(t, s.MarkCanceled(ctx, "job_abc", "Job canceled by user"))

	st, err := s.Get(ctx, "job_abc")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, st.Status)
	// Stage is left untouched by cancellation.
	assert.Equal(t, models.StageModel, st.Stage)

	canceled, err := s.IsCanceled(ctx, "job_abc")
	require.NoError(t, err)
	assert.True(t, canceled)

	// Cancel on a terminal job is refused, state stays intact.
	err = s.MarkCanceled(ctx, "job_abc", "again")
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestStateStore_MarkRunning(t *testing.T) {
	client, _ := newTestKV(t)
	s := NewStateStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "job_abc", JobState{}))
	require.NoError(t, s.MarkRunning(ctx, "job_abc"))

	st, err := s.Get(ctx, "job_abc")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, st.Status)
}

func TestStateStore_TerminalStatusSticks(t *testing.T) {
	client, _ := newTestKV(t)
	s := NewStateStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "job_abc", JobState{}))
	require.NoError(t, s.MarkCanceled(ctx, "job_abc", "Job canceled by user"))

	// No transition may overwrite a terminal canceled status.
	assert.ErrorIs(t, s.MarkComplete(ctx, "job_abc", "late winner"), ErrAlreadyTerminal)
	assert.ErrorIs(t, s.MarkFailed(ctx, "job_abc", "late loser"), ErrAlreadyTerminal)
	assert.ErrorIs(t, s.MarkPartial(ctx, "job_abc", "late partial"), ErrAlreadyTerminal)
	assert.ErrorIs(t, s.MarkRunning(ctx, "job_abc"), ErrAlreadyTerminal)

	st, err := s.Get(ctx, "job_abc")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, st.Status)

	canceled, err := s.IsCanceled(ctx, "job_abc")
	require.NoError(t, err)
	assert.True(t, canceled)
}

func TestStateStore_MarkCanceledMissing(t *testing.T) {
	client, _ := newTestKV(t)
	s := NewStateStore(client, time.Hour)

	err := s.MarkCanceled(context.Background(), "job_missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	canceled, err := s.IsCanceled(context.Background(), "job_missing")
	require.NoError(t, err)
	assert.False(t, canceled)
}

func TestStateStore_CASUpdate(t *testing.T) {
	client, _ := newTestKV(t)
	s := NewStateStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "job_abc", JobState{}))

	t.Run("matching version succeeds and bumps by one", func(t *testing.T) {
		ok, ver, err := s.CASUpdate(ctx, "job_abc", 1, map[string]any{"message": "v2"})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(2), ver)

		st, err := s.Get(ctx, "job_abc")
		require.NoError(t, err)
		assert.Equal(t, int64(2), st.Version)
		assert.Equal(t, "v2", st.Message)
	})

	t.Run("stale version fails with current version", func(t *testing.T) {
		ok, ver, err := s.CASUpdate(ctx, "job_abc", 1, map[string]any{"message": "stale"})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, int64(2), ver)

		st, err := s.Get(ctx, "job_abc")
		require.NoError(t, err)
		assert.Equal(t, "v2", st.Message)
	})

	t.Run("missing hash fails with zero version", func(t *testing.T) {
		ok, ver, err := s.CASUpdate(ctx, "job_missing", 1, map[string]any{"message": "x"})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, ver)
	})
}

func TestStateStore_CASUpdateConcurrent(t *testing.T) {
	client, _ := newTestKV(t)
	s := NewStateStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "job_abc", JobState{}))

	// All racers present the same expected version; at most one may win.
	const racers = 8
	var wg sync.WaitGroup
	results := make([]bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, _, err := s.CASUpdate(ctx, "job_abc", 1, map[string]any{"progress": 10 + i})
			require.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent CAS with the same expected version may succeed")

	st, err := s.Get(ctx, "job_abc")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Version)
}
