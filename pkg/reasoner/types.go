// Package reasoner talks to the external reasoning engine that produces
// chain-of-thought messages, and provides a deterministic mock for it.
package reasoner

import (
	"context"
	"sync"

	"github.com/proteinops/foldy/pkg/models"
)

// MessageType classifies a reasoner message. The segmentation engine
// maps unknown types to thinking text rather than failing — the reasoner
// may grow new types without breaking consumers.
type MessageType string

const (
	// MessagePrologue opens the reasoning run
	MessagePrologue MessageType = "PROLOGUE"
	// MessageAnnotation is a side remark outside the thinking flow
	MessageAnnotation MessageType = "ANNOTATION"
	// MessageThinking is one chain-of-thought step, optionally carrying a structure
	MessageThinking MessageType = "THINKING"
	// MessageConclusion closes the run
	MessageConclusion MessageType = "CONCLUSION"
)

// MessageState tags where in its run the reasoner is.
type MessageState string

const (
	// StateModel means the reasoner is still producing output
	StateModel MessageState = "MODEL"
	// StateDone marks the terminal message of a run
	StateDone MessageState = "DONE"
)

// Message is one typed record from the reasoner stream.
type Message struct {
	Type    MessageType  `json:"type"`
	Content string       `json:"content"`
	State   MessageState `json:"state"`

	// StructurePath/StructureLabel are set on THINKING messages that
	// carry a generated structure file.
	StructurePath  string `json:"structure_path,omitempty"`
	StructureLabel string `json:"structure_label,omitempty"`
}

// Stream is one reasoning run: a session handle for interrupts, the
// total message count announced up front, and the message sequence. The
// sequence is not restartable.
type Stream struct {
	Session models.ReasonerSession

	// Total is the number of messages the run will produce, known at
	// stream start and used for progress interpolation.
	Total int

	Messages <-chan Message

	mu  sync.Mutex
	err error
}

// Err reports the stream's terminal error. Only meaningful after the
// Messages channel is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Streamer starts reasoning runs. Implemented by the live Client and by
// the Mock generator.
type Streamer interface {
	StartStream(ctx context.Context, jobID, sequence string) (*Stream, error)
}
