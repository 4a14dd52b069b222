package ticketflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDef(name string, opts func(*AbilityDefinition)) AbilityDefinition {
	def := AbilityDefinition{
		Name:           name,
		Classification: ClassificationExternal,
		Endpoint:       "test",
		Timeout:        time.Second,
		MaxRetries:     2,
		Backoff:        BackoffFixed,
		RetryDelay:     time.Millisecond,
		Transient:      true,
	}
	if opts != nil {
		opts(&def)
	}
	return def
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	client := ClientFunc(func(ctx context.Context, ability string, args map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})
	executor := NewExecutor(WithExternalClient("test", client))

	outcome, entries := executor.Execute(context.Background(), ExecRequest{
		RunID: "run-1", Stage: StageUnderstand,
		Definition: testDef("parse_request_text", nil),
		Input:      map[string]any{"query": "refund"},
	})

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, map[string]any{"ok": true}, outcome.Value)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempt)
	assert.Equal(t, string(OutcomeSuccess), entries[0].Outcome)
	assert.False(t, entries[0].Retried)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.Equal(t, ClassificationExternal, entries[0].Classification)
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	calls := 0
	client := ClientFunc(func(ctx context.Context, ability string, args map[string]any) (map[string]any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection reset")
		}
		return map[string]any{"ok": true}, nil
	})
	executor := NewExecutor(WithExternalClient("test", client))

	outcome, entries := executor.Execute(context.Background(), ExecRequest{
		RunID: "run-1", Stage: StageRetrieve,
		Definition: testDef("knowledge_base_search", nil),
	})

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.Equal(t, 3, outcome.Attempts)
	require.Len(t, entries, 3)
	assert.Equal(t, string(OutcomeFailure), entries[0].Outcome)
	assert.True(t, entries[0].Retried)
	assert.True(t, entries[1].Retried)
	assert.Equal(t, string(OutcomeSuccess), entries[2].Outcome)
	assert.False(t, entries[2].Retried)
}

func TestExecuteNeverRetriesNonTransientFailure(t *testing.T) {
	calls := 0
	client := ClientFunc(func(ctx context.Context, ability string, args map[string]any) (map[string]any, error) {
		calls++
		return nil, &AbilityFailure{Ability: ability, Reason: "malformed account id", Transient: false}
	})
	executor := NewExecutor(WithExternalClient("test", client))

	outcome, entries := executor.Execute(context.Background(), ExecRequest{
		RunID: "run-1", Stage: StagePrepare,
		Definition: testDef("enrich_records", nil),
	})

	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.Equal(t, 1, calls)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Retried)
}

func TestExecuteNeverRetriesValidationFailure(t *testing.T) {
	calls := 0
	client := ClientFunc(func(ctx context.Context, ability string, args map[string]any) (map[string]any, error) {
		calls++
		return nil, &ValidationError{Field: "account_id", Reason: "is malformed"}
	})
	executor := NewExecutor(WithExternalClient("test", client))

	outcome, _ := executor.Execute(context.Background(), ExecRequest{
		RunID: "run-1", Stage: StagePrepare,
		Definition: testDef("enrich_records", nil),
	})

	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.Equal(t, 1, calls)
}

func TestExecuteHonorsAbilityTransientFlag(t *testing.T) {
	calls := 0
	client := ClientFunc(func(ctx context.Context, ability string, args map[string]any) (map[string]any, error) {
		calls++
		return nil, errors.New("boom")
	})
	executor := NewExecutor(WithExternalClient("test", client))

	def := testDef("update_ticket", func(d *AbilityDefinition) { d.Transient = false })
	outcome, _ := executor.Execute(context.Background(), ExecRequest{
		RunID: "run-1", Stage: StageUpdate, Definition: def,
	})

	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.Equal(t, 1, calls)
}

func TestExecuteTimesOutAndRetries(t *testing.T) {
	client := ClientFunc(func(ctx context.Context, ability string, args map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	executor := NewExecutor(WithExternalClient("test", client))

	def := testDef("execute_api_calls", func(d *AbilityDefinition) {
		d.Timeout = 15 * time.Millisecond
	})
	outcome, entries := executor.Execute(context.Background(), ExecRequest{
		RunID: "run-1", Stage: StageDo, Definition: def,
	})

	assert.Equal(t, OutcomeTimedOut, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrAbilityTimeout)
	assert.Equal(t, 3, outcome.Attempts)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, string(OutcomeTimedOut), e.Outcome)
	}
}

func TestExecuteStopsWhenRunIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	client := ClientFunc(func(ctx context.Context, ability string, args map[string]any) (map[string]any, error) {
		calls++
		cancel()
		return nil, errors.New("flaky")
	})
	executor := NewExecutor(WithExternalClient("test", client))

	outcome, entries := executor.Execute(ctx, ExecRequest{
		RunID: "run-1", Stage: StageDo,
		Definition: testDef("trigger_notifications", nil),
	})

	// The run was cancelled after the first attempt; no retry happens.
	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.Equal(t, 1, calls)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Retried)
}

func TestExecuteFailsWithoutClientForEndpoint(t *testing.T) {
	executor := NewExecutor()

	outcome, _ := executor.Execute(context.Background(), ExecRequest{
		RunID: "run-1", Stage: StageAsk,
		Definition: testDef("clarify_question", func(d *AbilityDefinition) { d.MaxRetries = 0 }),
	})

	assert.Equal(t, OutcomeFailure, outcome.Kind)
	var aErr *AbilityFailure
	assert.ErrorAs(t, outcome.Err, &aErr)
}

func TestExecuteLocalAbilityUsesBuiltinHandlers(t *testing.T) {
	executor := NewExecutor()

	def := AbilityDefinition{
		Name:           "accept_payload",
		Classification: ClassificationLocal,
		Timeout:        time.Second,
		Backoff:        BackoffFixed,
		RetryDelay:     time.Millisecond,
	}
	outcome, _ := executor.Execute(context.Background(), ExecRequest{
		RunID: "run-1", Stage: StageIntake, Definition: def,
	})

	require.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.Equal(t, "payload_accepted", outcome.Value["status"])
}

func TestBackoffPolicies(t *testing.T) {
	fixed := backoffFor(testDef("x", func(d *AbilityDefinition) {
		d.Backoff = BackoffFixed
		d.RetryDelay = 50 * time.Millisecond
	}))
	assert.Equal(t, 50*time.Millisecond, fixed.NextBackOff())
	assert.Equal(t, 50*time.Millisecond, fixed.NextBackOff())

	exp := backoffFor(testDef("x", func(d *AbilityDefinition) {
		d.Backoff = BackoffExponential
		d.RetryDelay = 100 * time.Millisecond
	}))
	assert.Equal(t, 100*time.Millisecond, exp.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, exp.NextBackOff())
	assert.Equal(t, 400*time.Millisecond, exp.NextBackOff())
	assert.NotEqual(t, backoff.Stop, exp.NextBackOff())
}

func TestExecuteRecordsAuditEntries(t *testing.T) {
	var recorded []LogEntry
	recorder := RecorderFunc(func(e LogEntry) { recorded = append(recorded, e) })
	client := ClientFunc(func(ctx context.Context, ability string, args map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})
	executor := NewExecutor(WithExternalClient("test", client), WithExecutorAudit(recorder))

	_, entries := executor.Execute(context.Background(), ExecRequest{
		RunID: "run-1", Stage: StageCreate,
		Definition: testDef("response_generation", nil),
	})

	assert.Equal(t, entries, recorded)
}
