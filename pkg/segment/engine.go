// Package segment converts the reasoner's typed message stream into the
// service's own event taxonomy: it classifies messages, groups thinking
// output into numbered blocks, and synthesizes structure artifacts.
package segment

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/proteinops/foldy/pkg/artifact"
	"github.com/proteinops/foldy/pkg/models"
	"github.com/proteinops/foldy/pkg/reasoner"
)

// Params configures one segmentation run.
type Params struct {
	JobID string

	// Total is the reasoner's announced message count, used for progress
	// interpolation. Values below 1 are treated as 1.
	Total int

	// Messages is the reasoner's message sequence. The run ends when it
	// closes.
	Messages <-chan reasoner.Message

	// StartSeq is the highest sequence number already persisted for this
	// job; emitted events are numbered StartSeq+1 onward. Zero means a
	// fresh log, which the run opens with the queued bookkeeping record.
	StartSeq int

	// ReadFile loads an attached structure file. Nil means artifact.Read.
	ReadFile func(path string) ([]byte, error)

	Logger *slog.Logger
}

// Run is one segmentation pass over a reasoner stream. The Events
// channel closes when the input is exhausted or the context is canceled;
// the sequence is not restartable.
type Run struct {
	Events <-chan models.Event

	mu  sync.Mutex
	err error
}

// Err reports why the run stopped early. Only meaningful after the
// Events channel is closed; nil means the input was fully consumed.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Start launches a segmentation run. On a fresh log the first emitted
// event is the queued bookkeeping record (sequence 1) and reasoner
// messages follow as sequence 2 onward; a nonzero StartSeq resumes
// numbering after events that are already persisted.
func Start(ctx context.Context, p Params) *Run {
	if p.Total < 1 {
		p.Total = 1
	}
	if p.ReadFile == nil {
		p.ReadFile = artifact.Read
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}

	events := make(chan models.Event)
	run := &Run{Events: events}

	go func() {
		defer close(events)

		e := &engine{params: p, seq: p.StartSeq}

		// Initial bookkeeping record so replay from offset 0 always shows
		// the queued phase. A resumed run already has it persisted.
		if e.seq == 0 {
			if !e.emit(ctx, events, run, e.queuedEvent()) {
				return
			}
		}

		for {
			var msg reasoner.Message
			var ok bool
			select {
			case msg, ok = <-p.Messages:
				if !ok {
					return
				}
			case <-ctx.Done():
				run.setErr(ctx.Err())
				return
			}

			if !e.emit(ctx, events, run, e.classify(msg)) {
				return
			}
		}
	}()

	return run
}

// QueuedEvent builds the sequence-1 bookkeeping record that opens every
// job's event log. The create path persists it; the engine emits it only
// when driving a log that does not have it yet.
func QueuedEvent(jobID string) models.Event {
	e := engine{params: Params{JobID: jobID}}
	return e.queuedEvent()
}

// engine holds per-run counters.
type engine struct {
	params Params

	seq     int // event sequence, 1-based
	index   int // 1-based reasoner message index
	block   int // current thinking block
	ordinal int // structure ordinals consumed so far
}

func (e *engine) emit(ctx context.Context, out chan<- models.Event, run *Run, ev models.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		run.setErr(ctx.Err())
		return false
	}
}

func (e *engine) queuedEvent() models.Event {
	e.seq++
	return models.Event{
		EventID:   models.EventID(e.params.JobID, e.seq),
		JobID:     e.params.JobID,
		Ts:        time.Now().UnixMilli(),
		EventType: models.EventThinkingText,
		Stage:     models.StageQueued,
		Status:    models.StatusQueued,
		Progress:  0,
		Message:   "Job queued",
	}
}

// classify maps one reasoner message to one event. Every message yields
// exactly one event; nothing is skipped.
func (e *engine) classify(msg reasoner.Message) models.Event {
	e.seq++
	e.index++

	ev := models.Event{
		EventID:  models.EventID(e.params.JobID, e.seq),
		JobID:    e.params.JobID,
		Ts:       time.Now().UnixMilli(),
		Stage:    models.StageModel,
		Status:   models.StatusRunning,
		Progress: e.progress(msg),
		Message:  msg.Content,
	}

	switch msg.Type {
	case reasoner.MessagePrologue:
		ev.EventType = models.EventPrologue
	case reasoner.MessageAnnotation:
		ev.EventType = models.EventAnnotation
	case reasoner.MessageConclusion:
		ev.EventType = models.EventConclusion
		ev.Stage = models.StageDone
		ev.Status = models.StatusComplete
		ev.Progress = 100
	case reasoner.MessageThinking:
		e.classifyThinking(msg, &ev)
	default:
		// Unknown types become thinking text rather than failing the run;
		// the reasoner may grow new types.
		e.params.Logger.Warn("Unknown reasoner message type, treating as thinking text",
			slog.String("job_id", e.params.JobID),
			slog.String("type", string(msg.Type)))
		ev.EventType = models.EventThinkingText
		ev.BlockIndex = intPtr(e.block)
	}

	return ev
}

// classifyThinking fills in a THINKING message: plain text stays in the
// current block; an attached structure closes the block and carries the
// synthesized artifact. An unreadable attachment degrades to text — the
// block stays open and the ordinal is not consumed.
func (e *engine) classifyThinking(msg reasoner.Message, ev *models.Event) {
	ev.EventType = models.EventThinkingText
	ev.BlockIndex = intPtr(e.block)

	if msg.StructurePath == "" {
		return
	}

	data, err := e.params.ReadFile(msg.StructurePath)
	if err != nil {
		e.params.Logger.Warn("Structure file unreadable, degrading to thinking text",
			slog.String("job_id", e.params.JobID),
			slog.String("path", msg.StructurePath),
			slog.String("error", err.Error()))
		return
	}

	e.ordinal++
	label := msg.StructureLabel
	if label == "" {
		label = "Structure " + filepath.Base(msg.StructurePath)
	}
	ev.EventType = models.EventThinkingPDB
	ev.Artifacts = []models.StructureArtifact{{
		StructureID:   models.StructureID(e.params.JobID, e.ordinal),
		Label:         label,
		Filename:      filepath.Base(msg.StructurePath),
		InlinePDBData: string(data),
		Path:          msg.StructurePath,
		CreatedAt:     ev.Ts,
		COT:           msg.Content,
	}}
	e.block++
}

// progress interpolates the reasoner's position into 10..95, reserving
// the first 10% for queued/setup and pinning 100 to the terminal message.
func (e *engine) progress(msg reasoner.Message) int {
	if msg.State == reasoner.StateDone {
		return 100
	}
	p := 10 + (85*e.index)/e.params.Total
	if p > 95 {
		p = 95
	}
	return p
}

func intPtr(i int) *int {
	return &i
}
