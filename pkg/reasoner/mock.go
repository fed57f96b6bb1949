package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/proteinops/foldy/pkg/artifact"
	"github.com/proteinops/foldy/pkg/config"
	"github.com/proteinops/foldy/pkg/models"
)

// Mock is a deterministic, file-backed stand-in for the live reasoner.
// The message script comes from a JSON data file when configured,
// otherwise from a built-in default that exercises every message type.
// Delays between messages follow the configured mode and are slept in
// short slices so cancellation is observed promptly.
type Mock struct {
	structuresDir string
	delayMin      time.Duration
	delayMax      time.Duration
	delayMode     string
	script        []scriptedMessage
}

// scriptedMessage is one entry of the mock script.
type scriptedMessage struct {
	Type    MessageType  `json:"type"`
	Content string       `json:"content"`
	State   MessageState `json:"state"`

	// WithStructure makes the mock synthesize a structure file for this
	// message; StructureLabel names it.
	WithStructure  bool   `json:"with_structure,omitempty"`
	StructureLabel string `json:"structure_label,omitempty"`

	// DelayMS is honored in "real" delay mode.
	DelayMS int `json:"delay_ms,omitempty"`
}

type mockScript struct {
	Messages []scriptedMessage `json:"messages"`
}

// delaySlice bounds a single uninterruptible sleep so cancellation is
// observed within 100ms even mid-delay.
const delaySlice = 100 * time.Millisecond

// NewMock creates the mock generator. When cfg.MockDataFile is set the
// script is loaded from it; a missing or invalid file is an error rather
// than a silent fallback.
func NewMock(cfg *config.ReasonerConfig, structuresDir string) (*Mock, error) {
	m := &Mock{
		structuresDir: structuresDir,
		delayMin:      cfg.MockDelayMin,
		delayMax:      cfg.MockDelayMax,
		delayMode:     cfg.MockDelayMode,
		script:        defaultScript(),
	}

	if cfg.MockDataFile != "" {
		data, err := os.ReadFile(cfg.MockDataFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read mock data file: %w", err)
		}
		var script mockScript
		if err := json.Unmarshal(data, &script); err != nil {
			return nil, fmt.Errorf("failed to parse mock data file: %w", err)
		}
		if len(script.Messages) == 0 {
			return nil, fmt.Errorf("mock data file contains no messages")
		}
		m.script = script.Messages
	}
	return m, nil
}

// defaultScript exercises every message type: prologue, annotation,
// three thinking steps (one closing its block with a structure), and a
// terminal conclusion.
func defaultScript() []scriptedMessage {
	return []scriptedMessage{
		{Type: MessagePrologue, State: StateModel,
			Content: "Starting structure prediction. Examining the sequence for known folds."},
		{Type: MessageAnnotation, State: StateModel,
			Content: "Sequence composition suggests a predominantly alpha-helical fold."},
		{Type: MessageThinking, State: StateModel,
			Content: "Building the multiple sequence alignment and extracting coevolution signal."},
		{Type: MessageThinking, State: StateModel,
			Content: "Packing the hydrophobic core; helix-helix contacts look consistent."},
		{Type: MessageThinking, State: StateModel, WithStructure: true,
			StructureLabel: "Predicted structure",
			Content:        "Converged on a stable backbone conformation; emitting coordinates."},
		{Type: MessageConclusion, State: StateDone,
			Content: "Prediction complete. One structure generated."},
	}
}

// StartStream plays the script as a reasoning run.
func (m *Mock) StartStream(ctx context.Context, jobID, sequence string) (*Stream, error) {
	messages := make(chan Message)
	stream := &Stream{
		Session: models.ReasonerSession{
			Instance: "mock",
			Session:  uuid.NewString(),
		},
		Total:    len(m.script),
		Messages: messages,
	}

	go func() {
		defer close(messages)

		ordinal := 1
		for _, sm := range m.script {
			if !m.sleep(ctx, m.delayFor(sm)) {
				stream.setErr(ctx.Err())
				return
			}

			msg := Message{
				Type:    sm.Type,
				Content: sm.Content,
				State:   sm.State,
			}
			if sm.WithStructure {
				path := artifact.StructurePath(m.structuresDir, jobID, ordinal)
				if err := artifact.WriteAtomic(path, mockPDB(jobID, ordinal, sequence)); err != nil {
					stream.setErr(fmt.Errorf("failed to write mock structure: %w", err))
					return
				}
				msg.StructurePath = path
				msg.StructureLabel = sm.StructureLabel
				ordinal++
			}

			select {
			case messages <- msg:
			case <-ctx.Done():
				stream.setErr(ctx.Err())
				return
			}
		}
	}()

	return stream, nil
}

// delayFor picks the pre-message delay per the configured mode.
func (m *Mock) delayFor(sm scriptedMessage) time.Duration {
	if m.delayMode == "real" && sm.DelayMS > 0 {
		return time.Duration(sm.DelayMS) * time.Millisecond
	}
	if m.delayMax <= m.delayMin {
		return m.delayMin
	}
	return m.delayMin + rand.N(m.delayMax-m.delayMin)
}

// sleep waits for d in cancellation-aware slices. Returns false when the
// context was canceled.
func (m *Mock) sleep(ctx context.Context, d time.Duration) bool {
	for d > 0 {
		slice := min(d, delaySlice)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(slice):
		}
		d -= slice
	}
	return true
}

// mockPDB generates a small deterministic PDB file: a pseudo C-alpha
// trace along the sequence.
func mockPDB(jobID string, ordinal int, sequence string) []byte {
	buf := make([]byte, 0, 80*(len(sequence)+3))
	buf = fmt.Appendf(buf, "HEADER    PREDICTED STRUCTURE %s MODEL %d\n", jobID, ordinal)
	buf = fmt.Appendf(buf, "TITLE     FOLDY MOCK PREDICTION\n")

	residues := len(sequence)
	if residues > 50 {
		residues = 50 // keep mock artifacts small
	}
	for i := 0; i < residues; i++ {
		// Straight-line trace, 3.8 A spacing.
		x := float64(i) * 3.8
		buf = fmt.Appendf(buf, "ATOM  %5d  CA  ALA A%4d    %8.3f%8.3f%8.3f  1.00  0.00           C\n",
			i+1, i+1, x, 0.0, 0.0)
	}
	buf = append(buf, []byte("END\n")...)
	return buf
}
