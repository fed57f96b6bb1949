package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobID(t *testing.T) {
	id := NewJobID()
	assert.True(t, ValidJobID(id), "generated id %q must match the strict format", id)

	// Ids are unique across calls.
	assert.NotEqual(t, id, NewJobID())
}

func TestValidJobID(t *testing.T) {
	valid := []string{"job_abc123", "job_0", "job_a1b2c3d4e5"}
	invalid := []string{"", "job_", "job_ABC", "job_abc-123", "jobabc", "session_abc", "job_abc 123"}

	for _, id := range valid {
		assert.True(t, ValidJobID(id), id)
	}
	for _, id := range invalid {
		assert.False(t, ValidJobID(id), id)
	}
}

func TestEventAndStructureIDs(t *testing.T) {
	jobID := "job_abc123"

	eid := EventID(jobID, 7)
	assert.Equal(t, "evt_job_abc123_0007", eid)
	assert.True(t, ValidEventID(eid))
	assert.False(t, ValidEventID("evt_job_abc123_7")) // sequence must be 4 digits

	sid := StructureID(jobID, 2)
	assert.Equal(t, "str_job_abc123_2", sid)
	assert.True(t, ValidStructureID(sid))
}

func TestEventJSONRoundTrip(t *testing.T) {
	block := 0
	ev := Event{
		EventID:    "evt_job_abc123_0003",
		JobID:      "job_abc123",
		Ts:         1724500000000,
		EventType:  EventThinkingPDB,
		Stage:      StageModel,
		Status:     StatusRunning,
		Progress:   55,
		Message:    "folded core region",
		BlockIndex: &block,
		Artifacts: []StructureArtifact{{
			StructureID: "str_job_abc123_1",
			Label:       "intermediate model",
			Filename:    "job_abc123_1.pdb",
			CreatedAt:   1724500000000,
			COT:         "folded core region",
		}},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ev, decoded)

	// Re-encoding yields byte-identical output (stable field order).
	data2, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}

func TestEventJSONNullBlockIndex(t *testing.T) {
	ev := Event{
		EventID:   "evt_job_abc123_0001",
		JobID:     "job_abc123",
		EventType: EventPrologue,
		Stage:     StageModel,
		Status:    StatusRunning,
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"block_index":null`)
	assert.NotContains(t, string(data), `"artifacts"`)
}
