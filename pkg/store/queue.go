package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/proteinops/foldy/pkg/kv"
	"github.com/proteinops/foldy/pkg/models"
)

// EventQueue is the per-job event log: a bounded Redis list in append
// order. Consumers replay from an offset; when the bound trims past an
// offset the replay caller gets ErrReplayWindowExpired instead of a gap.
type EventQueue struct {
	kv        *kv.Client
	ttl       time.Duration
	maxEvents int
}

// NewEventQueue creates an event queue with the configured TTL and bound.
func NewEventQueue(client *kv.Client, ttl time.Duration, maxEvents int) *EventQueue {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &EventQueue{kv: client, ttl: ttl, maxEvents: maxEvents}
}

// Push serializes the event, appends it to the tail, refreshes the TTL,
// then trims to the bound. Trim happens after the append so the caller's
// event is never the one dropped within the same call.
func (q *EventQueue) Push(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventID, err)
	}
	key := q.kv.EventsKey(event.JobID)
	_, err = q.kv.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, q.ttl)
		pipe.LTrim(ctx, key, int64(-q.maxEvents), -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Range returns events between inclusive list indices, with the usual
// negative-index convention.
func (q *EventQueue) Range(ctx context.Context, jobID string, start, stop int64) ([]models.Event, error) {
	raw, err := q.kv.Redis().LRange(ctx, q.kv.EventsKey(jobID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event range: %w", err)
	}

	events := make([]models.Event, 0, len(raw))
	for _, item := range raw {
		var ev models.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode stored event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// FromOffset returns the events with sequence numbers offset+1 onward.
// Offsets are in sequence-number space and survive trimming: the oldest
// retained sequence anchors the translation to a list index. Replaying
// from an offset the bound has trimmed past returns
// ErrReplayWindowExpired.
func (q *EventQueue) FromOffset(ctx context.Context, jobID string, offset int64) ([]models.Event, error) {
	first, err := q.FirstSequence(ctx, jobID)
	if errors.Is(err, ErrNotFound) {
		return []models.Event{}, nil
	}
	if err != nil {
		return nil, err
	}
	// Events are numbered from 1; replay from offset n expects event n+1
	// to still be retained.
	if offset+1 < int64(first) {
		return nil, ErrReplayWindowExpired
	}
	return q.Range(ctx, jobID, offset-int64(first-1), -1)
}

// Count returns the number of retained events.
func (q *EventQueue) Count(ctx context.Context, jobID string) (int64, error) {
	n, err := q.kv.Redis().LLen(ctx, q.kv.EventsKey(jobID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Latest returns the newest event, or ErrNotFound for an empty queue.
func (q *EventQueue) Latest(ctx context.Context, jobID string) (*models.Event, error) {
	raw, err := q.kv.Redis().LIndex(ctx, q.kv.EventsKey(jobID), -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest event: %w", err)
	}

	var ev models.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil, fmt.Errorf("failed to decode stored event: %w", err)
	}
	return &ev, nil
}

var eventSeqPattern = regexp.MustCompile(`_(\d{4})$`)

// FirstSequence returns the sequence number of the oldest retained event.
// Greater than 1 means the queue has trimmed.
func (q *EventQueue) FirstSequence(ctx context.Context, jobID string) (int, error) {
	return q.sequenceAt(ctx, jobID, 0)
}

// LastSequence returns the sequence number of the newest retained event,
// which is the highest ever assigned for the job (trimming drops from
// the head).
func (q *EventQueue) LastSequence(ctx context.Context, jobID string) (int, error) {
	return q.sequenceAt(ctx, jobID, -1)
}

func (q *EventQueue) sequenceAt(ctx context.Context, jobID string, index int64) (int, error) {
	raw, err := q.kv.Redis().LIndex(ctx, q.kv.EventsKey(jobID), index).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read oldest event: %w", err)
	}

	var ev models.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return 0, fmt.Errorf("failed to decode stored event: %w", err)
	}
	m := eventSeqPattern.FindStringSubmatch(ev.EventID)
	if m == nil {
		return 0, fmt.Errorf("stored event %q has no sequence suffix", ev.EventID)
	}
	seq, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("stored event %q has a bad sequence suffix: %w", ev.EventID, err)
	}
	return seq, nil
}

// Delete removes the event list.
func (q *EventQueue) Delete(ctx context.Context, jobID string) error {
	if err := q.kv.Redis().Del(ctx, q.kv.EventsKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}

// RefreshTTL extends the event list lifetime.
func (q *EventQueue) RefreshTTL(ctx context.Context, jobID string, ttl time.Duration) error {
	if err := q.kv.Redis().Expire(ctx, q.kv.EventsKey(jobID), ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh events TTL: %w", err)
	}
	return nil
}

// SetCompletionTTL retains events briefly after job completion so
// disconnected clients can still replay.
func (q *EventQueue) SetCompletionTTL(ctx context.Context, jobID string, ttl time.Duration) error {
	return q.RefreshTTL(ctx, jobID, ttl)
}
