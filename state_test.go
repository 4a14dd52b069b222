package ticketflow

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageResultsPreserveInsertionOrder(t *testing.T) {
	results := NewStageResults()
	results.Put(StageUnderstand, "parse_request_text", map[string]any{"intent": "refund"})
	results.Put(StageUnderstand, "extract_entities", map[string]any{"product": "subscription"})
	results.Put(StageIntake, "accept_payload", map[string]any{"status": "payload_accepted"})

	// Stage order reflects first insertion, not pipeline position.
	assert.Equal(t, []Stage{StageUnderstand, StageIntake}, results.Stages())

	understand, ok := results.Stage(StageUnderstand)
	require.True(t, ok)
	assert.Equal(t, []string{"parse_request_text", "extract_entities"}, understand.Abilities())
}

func TestStageResultsGetExactValue(t *testing.T) {
	value := map[string]any{"kb_results": []any{map[string]any{"relevance": 95}}}
	results := NewStageResults()
	results.Put(StageRetrieve, "knowledge_base_search", value)

	got, ok := results.Get(StageRetrieve, "knowledge_base_search")
	require.True(t, ok)
	assert.Equal(t, value, got)

	_, ok = results.Get(StageRetrieve, "store_data")
	assert.False(t, ok)
	_, ok = results.Get(StageDecide, "anything")
	assert.False(t, ok)
}

func TestStageResultsOverwriteKeepsPosition(t *testing.T) {
	results := NewStageResults()
	results.Put(StageDecide, "solution_evaluation", map[string]any{"v": 1})
	results.Put(StageDecide, "escalation_decision", map[string]any{"v": 2})
	results.Put(StageDecide, "solution_evaluation", map[string]any{"v": 3})

	decide, _ := results.Stage(StageDecide)
	assert.Equal(t, []string{"solution_evaluation", "escalation_decision"}, decide.Abilities())
	got, _ := results.Get(StageDecide, "solution_evaluation")
	assert.Equal(t, map[string]any{"v": 3}, got)
}

func TestStageResultsMarshalOrdered(t *testing.T) {
	results := NewStageResults()
	results.Put(StageIntake, "accept_payload", map[string]any{"status": "payload_accepted"})
	results.Put(StageUnderstand, "parse_request_text", map[string]any{"intent": "refund"})
	results.Put(StageUnderstand, "extract_entities", map[string]any{"product": "subscription"})

	raw, err := json.Marshal(results)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"INTAKE": {"accept_payload": {"status": "payload_accepted"}},
		"UNDERSTAND": {
			"parse_request_text": {"intent": "refund"},
			"extract_entities": {"product": "subscription"}
		}
	}`, string(raw))

	// Key order in the raw bytes follows execution order.
	s := string(raw)
	assert.Less(t, strings.Index(s, "INTAKE"), strings.Index(s, "UNDERSTAND"))
	assert.Less(t, strings.Index(s, "parse_request_text"), strings.Index(s, "extract_entities"))
}

func TestNewWorkflowState(t *testing.T) {
	state := NewWorkflowState(sampleTicket())

	assert.NotEmpty(t, state.RunID)
	assert.NotNil(t, state.StageResults)
	assert.Empty(t, state.ExecutionLog)
	assert.Nil(t, state.Decision)

	other := NewWorkflowState(sampleTicket())
	assert.NotEqual(t, state.RunID, other.RunID)
}

func TestAppendLogIsAppendOnly(t *testing.T) {
	state := NewWorkflowState(sampleTicket())
	first := newLogEntry(state.RunID, StageIntake, "accept_payload")
	second := newLogEntry(state.RunID, StageIntake, "accept_payload")
	state.appendLog(first)
	state.appendLog(second)

	require.Len(t, state.ExecutionLog, 2)
	assert.Equal(t, first.ID, state.ExecutionLog[0].ID)
	assert.Equal(t, second.ID, state.ExecutionLog[1].ID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestNewLogEntryFields(t *testing.T) {
	entry := newLogEntry("run-1", StageRetrieve, "knowledge_base_search")

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, StageRetrieve, entry.Stage)
	assert.Equal(t, "knowledge_base_search", entry.Ability)
	assert.False(t, entry.Timestamp.IsZero())
}
