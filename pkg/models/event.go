package models

// EventType classifies a single progress event within a job.
//
// Thinking output is segmented into blocks: a contiguous run of
// THINKING_TEXT events terminated by exactly one THINKING_PDB. The block
// is the unit the UI renders as one card. PROLOGUE, ANNOTATION, and
// CONCLUSION events sit outside blocks (block_index is null).
type EventType string

const (
	// EventPrologue is the reasoner's opening commentary
	EventPrologue EventType = "PROLOGUE"
	// EventAnnotation is a side remark outside the thinking flow
	EventAnnotation EventType = "ANNOTATION"
	// EventThinkingText is one step of chain-of-thought text within a block
	EventThinkingText EventType = "THINKING_TEXT"
	// EventThinkingPDB closes a block and carries a structure artifact
	EventThinkingPDB EventType = "THINKING_PDB"
	// EventConclusion is the terminal summary (progress 100)
	EventConclusion EventType = "CONCLUSION"
)

// IsValid checks if the event type is a known value
func (t EventType) IsValid() bool {
	switch t {
	case EventPrologue, EventAnnotation, EventThinkingText, EventThinkingPDB, EventConclusion:
		return true
	default:
		return false
	}
}

// StructureArtifact is a generated structure file attached to a
// THINKING_PDB event.
type StructureArtifact struct {
	StructureID   string `json:"structure_id"`
	Label         string `json:"label"`
	Filename      string `json:"filename"`
	InlinePDBData string `json:"inline_pdb_data,omitempty"`
	Path          string `json:"path,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	// COT is the chain-of-thought text that produced the structure.
	COT string `json:"cot"`
}

// Event is a single ordered record of progress within a job, streamed to
// clients and persisted in the per-job event list.
type Event struct {
	EventID    string              `json:"event_id"`
	JobID      string              `json:"job_id"`
	Ts         int64               `json:"ts"`
	EventType  EventType           `json:"event_type"`
	Stage      JobStage            `json:"stage"`
	Status     JobStatus           `json:"status"`
	Progress   int                 `json:"progress"`
	Message    string              `json:"message"`
	BlockIndex *int                `json:"block_index"`
	Artifacts  []StructureArtifact `json:"artifacts,omitempty"`
}
