package segment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proteinops/foldy/pkg/models"
	"github.com/proteinops/foldy/pkg/reasoner"
)

// feed pushes messages into a closed-when-done channel for the engine.
func feed(msgs ...reasoner.Message) <-chan reasoner.Message {
	ch := make(chan reasoner.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return ch
}

func drain(t *testing.T, run *Run) []models.Event {
	t.Helper()
	var got []models.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatal("timed out draining segmentation run")
		}
	}
}

func TestStart_QueuedToDone(t *testing.T) {
	dir := t.TempDir()
	pdb := filepath.Join(dir, "job_seg1_1.pdb")
	require.NoError(t, os.WriteFile(pdb, []byte("ATOM...\nEND\n"), 0o644))

	msgs := feed(
		reasoner.Message{Type: reasoner.MessagePrologue, Content: "starting", State: reasoner.StateModel},
		reasoner.Message{Type: reasoner.MessageAnnotation, Content: "alpha helical", State: reasoner.StateModel},
		reasoner.Message{Type: reasoner.MessageThinking, Content: "building MSA", State: reasoner.StateModel},
		reasoner.Message{Type: reasoner.MessageThinking, Content: "packing core", State: reasoner.StateModel},
		reasoner.Message{Type: reasoner.MessageThinking, Content: "emitting coords", State: reasoner.StateModel,
			StructurePath: pdb, StructureLabel: "Predicted structure"},
		reasoner.Message{Type: reasoner.MessageConclusion, Content: "done", State: reasoner.StateDone},
	)

	run := Start(context.Background(), Params{JobID: "job_seg1", Total: 6, Messages: msgs})
	got := drain(t, run)
	require.NoError(t, run.Err())
	require.Len(t, got, 7)

	// Bookkeeping record first.
	queued := got[0]
	assert.Equal(t, models.EventThinkingText, queued.EventType)
	assert.Equal(t, models.StageQueued, queued.Stage)
	assert.Equal(t, models.StatusQueued, queued.Status)
	assert.Equal(t, 0, queued.Progress)
	assert.Nil(t, queued.BlockIndex)

	// Sequential 1-based event ids.
	for i, ev := range got {
		assert.Equal(t, fmt.Sprintf("evt_job_seg1_%04d", i+1), ev.EventID)
		assert.Equal(t, "job_seg1", ev.JobID)
	}

	assert.Equal(t, models.EventPrologue, got[1].EventType)
	assert.Nil(t, got[1].BlockIndex)
	assert.Equal(t, models.EventAnnotation, got[2].EventType)
	assert.Nil(t, got[2].BlockIndex)

	for _, ev := range got[1:6] {
		assert.Equal(t, models.StageModel, ev.Stage)
		assert.Equal(t, models.StatusRunning, ev.Status)
		assert.GreaterOrEqual(t, ev.Progress, 10)
		assert.LessOrEqual(t, ev.Progress, 95)
	}

	// The two plain thinking steps share block 0 with the pdb event.
	require.NotNil(t, got[3].BlockIndex)
	assert.Equal(t, 0, *got[3].BlockIndex)
	assert.Equal(t, models.EventThinkingText, got[3].EventType)
	require.NotNil(t, got[4].BlockIndex)
	assert.Equal(t, 0, *got[4].BlockIndex)

	pdbEv := got[5]
	assert.Equal(t, models.EventThinkingPDB, pdbEv.EventType)
	require.NotNil(t, pdbEv.BlockIndex)
	assert.Equal(t, 0, *pdbEv.BlockIndex)
	require.Len(t, pdbEv.Artifacts, 1)
	art := pdbEv.Artifacts[0]
	assert.Equal(t, "str_job_seg1_1", art.StructureID)
	assert.Equal(t, "Predicted structure", art.Label)
	assert.Equal(t, "job_seg1_1.pdb", art.Filename)
	assert.Equal(t, "ATOM...\nEND\n", art.InlinePDBData)
	assert.Equal(t, pdb, art.Path)
	assert.Equal(t, "emitting coords", art.COT)

	conclusion := got[6]
	assert.Equal(t, models.EventConclusion, conclusion.EventType)
	assert.Equal(t, models.StageDone, conclusion.Stage)
	assert.Equal(t, models.StatusComplete, conclusion.Status)
	assert.Equal(t, 100, conclusion.Progress)
	assert.Nil(t, conclusion.BlockIndex)
}

func TestQueuedEvent(t *testing.T) {
	ev := QueuedEvent("job_seg9")
	assert.Equal(t, "evt_job_seg9_0001", ev.EventID)
	assert.Equal(t, "job_seg9", ev.JobID)
	assert.Equal(t, models.EventThinkingText, ev.EventType)
	assert.Equal(t, models.StageQueued, ev.Stage)
	assert.Equal(t, models.StatusQueued, ev.Status)
	assert.Equal(t, 0, ev.Progress)
	assert.Nil(t, ev.BlockIndex)
}

func TestStart_ResumesFromStartSeq(t *testing.T) {
	msgs := feed(
		reasoner.Message{Type: reasoner.MessagePrologue, Content: "starting", State: reasoner.StateModel},
		reasoner.Message{Type: reasoner.MessageThinking, Content: "packing", State: reasoner.StateModel},
	)

	run := Start(context.Background(), Params{JobID: "job_seg8", Total: 2, Messages: msgs, StartSeq: 1})
	got := drain(t, run)
	require.NoError(t, run.Err())
	require.Len(t, got, 2)

	// No repeated bookkeeping record; numbering continues after the
	// already-persisted event so ids stay strictly increasing per job.
	assert.Equal(t, models.EventPrologue, got[0].EventType)
	assert.Equal(t, "evt_job_seg8_0002", got[0].EventID)
	assert.Equal(t, "evt_job_seg8_0003", got[1].EventID)
}

func TestStart_BlockIncrementsAfterPDB(t *testing.T) {
	read := func(string) ([]byte, error) { return []byte("END\n"), nil }
	msgs := feed(
		reasoner.Message{Type: reasoner.MessageThinking, Content: "a"},
		reasoner.Message{Type: reasoner.MessageThinking, Content: "b", StructurePath: "/x/1.pdb"},
		reasoner.Message{Type: reasoner.MessageThinking, Content: "c"},
		reasoner.Message{Type: reasoner.MessageThinking, Content: "d", StructurePath: "/x/2.pdb"},
	)

	run := Start(context.Background(), Params{JobID: "job_seg2", Total: 4, Messages: msgs, ReadFile: read})
	got := drain(t, run)
	require.Len(t, got, 5)

	blocks := make([]int, 0, 4)
	for _, ev := range got[1:] {
		require.NotNil(t, ev.BlockIndex)
		blocks = append(blocks, *ev.BlockIndex)
	}
	assert.Equal(t, []int{0, 0, 1, 1}, blocks)

	// Ordinals are per-stream regardless of block.
	assert.Equal(t, "str_job_seg2_1", got[2].Artifacts[0].StructureID)
	assert.Equal(t, "str_job_seg2_2", got[4].Artifacts[0].StructureID)
}

func TestStart_UnreadableStructureFallsBack(t *testing.T) {
	read := func(path string) ([]byte, error) {
		if path == "/bad.pdb" {
			return nil, errors.New("no such file")
		}
		return []byte("END\n"), nil
	}
	msgs := feed(
		reasoner.Message{Type: reasoner.MessageThinking, Content: "broken", StructurePath: "/bad.pdb"},
		reasoner.Message{Type: reasoner.MessageThinking, Content: "fine", StructurePath: "/good.pdb"},
	)

	run := Start(context.Background(), Params{JobID: "job_seg3", Total: 2, Messages: msgs, ReadFile: read})
	got := drain(t, run)
	require.Len(t, got, 3)

	// Unreadable attachment degrades to text: block stays open, no
	// artifact, ordinal not consumed.
	fallback := got[1]
	assert.Equal(t, models.EventThinkingText, fallback.EventType)
	require.NotNil(t, fallback.BlockIndex)
	assert.Equal(t, 0, *fallback.BlockIndex)
	assert.Empty(t, fallback.Artifacts)

	good := got[2]
	assert.Equal(t, models.EventThinkingPDB, good.EventType)
	assert.Equal(t, 0, *good.BlockIndex)
	assert.Equal(t, "str_job_seg3_1", good.Artifacts[0].StructureID)
}

func TestStart_UnknownTypeBecomesThinkingText(t *testing.T) {
	msgs := feed(reasoner.Message{Type: "REFLECTION", Content: "hmm"})

	run := Start(context.Background(), Params{JobID: "job_seg4", Total: 1, Messages: msgs})
	got := drain(t, run)
	require.Len(t, got, 2)
	assert.Equal(t, models.EventThinkingText, got[1].EventType)
	require.NotNil(t, got[1].BlockIndex)
	assert.Equal(t, 0, *got[1].BlockIndex)
}

func TestStart_ProgressInterpolation(t *testing.T) {
	tests := []struct {
		name  string
		total int
		want  []int
	}{
		{name: "single message pins to cap", total: 1, want: []int{95}},
		{name: "five messages", total: 5, want: []int{27, 44, 61, 78, 95}},
		{name: "ten messages stays under cap", total: 10, want: []int{18, 27, 35, 44, 52, 61, 69, 78, 86, 95}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msgs []reasoner.Message
			for i := 0; i < tt.total; i++ {
				msgs = append(msgs, reasoner.Message{Type: reasoner.MessageThinking, State: reasoner.StateModel})
			}

			run := Start(context.Background(), Params{JobID: "job_seg5", Total: tt.total, Messages: feed(msgs...)})
			got := drain(t, run)
			require.Len(t, got, tt.total+1)

			progress := make([]int, 0, tt.total)
			for _, ev := range got[1:] {
				progress = append(progress, ev.Progress)
			}
			assert.Equal(t, tt.want, progress)
		})
	}
}

func TestStart_DoneStateForcesProgress100(t *testing.T) {
	// A terminal-tagged message sets 100 even when interpolation would not.
	msgs := feed(reasoner.Message{Type: reasoner.MessageConclusion, State: reasoner.StateDone})
	run := Start(context.Background(), Params{JobID: "job_seg6", Total: 20, Messages: msgs})
	got := drain(t, run)
	require.Len(t, got, 2)
	assert.Equal(t, 100, got[1].Progress)
}

func TestStart_ContextCancellation(t *testing.T) {
	msgs := make(chan reasoner.Message) // never fed, never closed
	ctx, cancel := context.WithCancel(context.Background())

	run := Start(ctx, Params{JobID: "job_seg7", Total: 3, Messages: msgs})

	// Take the bookkeeping event, then cancel mid-stream.
	select {
	case <-run.Events:
	case <-time.After(2 * time.Second):
		t.Fatal("no bookkeeping event")
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-run.Events:
			if !ok {
				assert.True(t, errors.Is(run.Err(), context.Canceled))
				return
			}
		case <-deadline:
			t.Fatal("run did not stop on cancellation")
		}
	}
}
