package ticketflow

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// LogEntry is one timestamped record of an ability attempt or a stage
// transition. Entries are never mutated after creation.
type LogEntry struct {
	ID             string         `json:"id"`
	RunID          string         `json:"run_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Stage          Stage          `json:"stage"`
	Ability        string         `json:"ability"`
	Classification Classification `json:"classification,omitempty"`
	Attempt        int            `json:"attempt,omitempty"`
	Outcome        string         `json:"outcome"`
	Retried        bool           `json:"retried,omitempty"`
	Detail         string         `json:"detail,omitempty"`
	DurationMS     int64          `json:"duration_ms"`
}

// transitionAbility marks stage-change entries in the execution log.
const transitionAbility = "transition"

func newLogEntry(runID string, stage Stage, ability string) LogEntry {
	return LogEntry{
		ID:        ulid.Make().String(),
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Stage:     stage,
		Ability:   ability,
	}
}

// AbilityResults holds one stage's results keyed by ability name,
// preserving declaration order.
type AbilityResults struct {
	order  []string
	values map[string]map[string]any
}

func newAbilityResults() *AbilityResults {
	return &AbilityResults{values: make(map[string]map[string]any)}
}

// Put stores an ability result. First insertion fixes the position.
func (r *AbilityResults) Put(ability string, value map[string]any) {
	if _, ok := r.values[ability]; !ok {
		r.order = append(r.order, ability)
	}
	r.values[ability] = value
}

// Get returns the result recorded for an ability.
func (r *AbilityResults) Get(ability string) (map[string]any, bool) {
	v, ok := r.values[ability]
	return v, ok
}

// Abilities returns the ability names in insertion order.
func (r *AbilityResults) Abilities() []string {
	return append([]string(nil), r.order...)
}

// MarshalJSON emits the abilities as an object in insertion order.
func (r *AbilityResults) MarshalJSON() ([]byte, error) {
	return marshalOrdered(r.order, func(k string) any { return r.values[k] })
}

// StageResults maps stage name to that stage's ability results. Insertion
// order is execution order.
type StageResults struct {
	order   []Stage
	byStage map[Stage]*AbilityResults
}

// NewStageResults creates an empty result set.
func NewStageResults() *StageResults {
	return &StageResults{byStage: make(map[Stage]*AbilityResults)}
}

// Put stores one ability result under its stage key.
func (s *StageResults) Put(stage Stage, ability string, value map[string]any) {
	results, ok := s.byStage[stage]
	if !ok {
		results = newAbilityResults()
		s.byStage[stage] = results
		s.order = append(s.order, stage)
	}
	results.Put(ability, value)
}

// Get returns the exact value stored for a stage/ability pair.
func (s *StageResults) Get(stage Stage, ability string) (map[string]any, bool) {
	results, ok := s.byStage[stage]
	if !ok {
		return nil, false
	}
	return results.Get(ability)
}

// Stage returns the full result set of one stage.
func (s *StageResults) Stage(stage Stage) (*AbilityResults, bool) {
	r, ok := s.byStage[stage]
	return r, ok
}

// Stages returns the stage keys in execution order.
func (s *StageResults) Stages() []Stage {
	return append([]Stage(nil), s.order...)
}

// Len returns the number of stages with recorded results.
func (s *StageResults) Len() int { return len(s.order) }

// MarshalJSON emits the stages as an object in execution order.
func (s *StageResults) MarshalJSON() ([]byte, error) {
	keys := make([]string, len(s.order))
	for i, st := range s.order {
		keys[i] = string(st)
	}
	return marshalOrdered(keys, func(k string) any { return s.byStage[Stage(k)] })
}

func marshalOrdered(keys []string, value func(string) any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		v, err := json.Marshal(value(k))
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// WorkflowState is the mutable record carried across stages. Exactly one
// instance exists per ticket and the orchestrator owns it exclusively for
// the duration of the run.
type WorkflowState struct {
	RunID        string
	Ticket       Ticket
	CurrentStage Stage
	StageResults *StageResults
	FinalPayload map[string]any
	ExecutionLog []LogEntry

	// Decision is set once by the DECIDE stage.
	Decision *DecisionResult
}

// NewWorkflowState creates the state for one run.
func NewWorkflowState(ticket Ticket) *WorkflowState {
	return &WorkflowState{
		RunID:        uuid.NewString(),
		Ticket:       ticket,
		StageResults: NewStageResults(),
	}
}

// appendLog adds an entry to the append-only execution log.
func (s *WorkflowState) appendLog(entries ...LogEntry) {
	s.ExecutionLog = append(s.ExecutionLog, entries...)
}
