package ticketflow

import (
	"encoding/json"
	"time"
)

// CustomerEcho mirrors the ticket's customer identity in the final payload.
type CustomerEcho struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RequestEcho mirrors the original request in the final payload.
type RequestEcho struct {
	Query    string   `json:"query"`
	Priority Priority `json:"priority"`
}

// Processing summarizes how far the run got and how it ended.
type Processing struct {
	StagesCompleted int       `json:"stages_completed"`
	ExecutionTime   time.Time `json:"execution_time"`
	Status          RunStatus `json:"status"`
}

// RunResult is the structured output of one workflow run. The caller always
// receives one, whether the run completed, escalated, or failed partway.
type RunResult struct {
	RunID        string          `json:"run_id"`
	TicketID     string          `json:"ticket_id"`
	Customer     CustomerEcho    `json:"customer"`
	Request      RequestEcho     `json:"request"`
	Processing   Processing      `json:"processing"`
	Results      *StageResults   `json:"results"`
	ExecutionLog []LogEntry      `json:"execution_log"`
	Decision     *DecisionResult `json:"decision,omitempty"`
}

func buildResult(state *WorkflowState, status RunStatus, completed int) *RunResult {
	result := &RunResult{
		RunID:    state.RunID,
		TicketID: state.Ticket.TicketID,
		Customer: CustomerEcho{Name: state.Ticket.CustomerName, Email: state.Ticket.Email},
		Request:  RequestEcho{Query: state.Ticket.Query, Priority: state.Ticket.Priority},
		Processing: Processing{
			StagesCompleted: completed,
			ExecutionTime:   time.Now().UTC(),
			Status:          status,
		},
		Results:      state.StageResults,
		ExecutionLog: state.ExecutionLog,
		Decision:     state.Decision,
	}
	if status == RunCompleted {
		state.FinalPayload = result.asMap()
	}
	return result
}

// asMap renders the result as the generic final payload stored on the state
// at the terminal stage.
func (r *RunResult) asMap() map[string]any {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
