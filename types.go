package ticketflow

import (
	"context"
	"time"
)

// Stage is one named phase of the fixed 11-phase pipeline.
type Stage string

const (
	StageIntake     Stage = "INTAKE"
	StageUnderstand Stage = "UNDERSTAND"
	StagePrepare    Stage = "PREPARE"
	StageAsk        Stage = "ASK"
	StageWait       Stage = "WAIT"
	StageRetrieve   Stage = "RETRIEVE"
	StageDecide     Stage = "DECIDE"
	StageUpdate     Stage = "UPDATE"
	StageCreate     Stage = "CREATE"
	StageDo         Stage = "DO"
	StageComplete   Stage = "COMPLETE"
)

// StageOrder is the fixed execution order. The only permitted deviation is
// the branch from DECIDE to the escalated terminal state.
var StageOrder = []Stage{
	StageIntake,
	StageUnderstand,
	StagePrepare,
	StageAsk,
	StageWait,
	StageRetrieve,
	StageDecide,
	StageUpdate,
	StageCreate,
	StageDo,
	StageComplete,
}

// Mode describes how a stage's abilities are orchestrated.
type Mode string

const (
	// ModeDeterministic stages always execute their declared abilities and
	// advance in fixed order.
	ModeDeterministic Mode = "deterministic"
	// ModeNonDeterministic stages branch on computed data; DECIDE is the
	// only such stage in the pipeline.
	ModeNonDeterministic Mode = "non-deterministic"
)

// Classification says where an ability executes.
type Classification string

const (
	// ClassificationLocal abilities run in-process.
	ClassificationLocal Classification = "local"
	// ClassificationExternal abilities are handed to an external-system client.
	ClassificationExternal Classification = "external"
)

// BackoffKind selects the delay policy between retry attempts.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Priority of an incoming ticket.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// RunStatus is the terminal status of a workflow run.
type RunStatus string

const (
	// RunCompleted means all 11 stages settled successfully.
	RunCompleted RunStatus = "completed"
	// RunEscalated means the DECIDE stage routed the ticket to a human.
	RunEscalated RunStatus = "escalated"
	// RunFailed means a required ability exhausted its retries or the
	// input payload never validated.
	RunFailed RunStatus = "failed"
)

// OutcomeKind classifies the result of a single ability execution.
type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeFailure  OutcomeKind = "failure"
	OutcomeTimedOut OutcomeKind = "timed_out"
)

// Outcome is the typed result of executing one ability, after retries.
type Outcome struct {
	Kind OutcomeKind
	// Value holds the backend result on success.
	Value map[string]any
	// Err holds the last failure when Kind is not OutcomeSuccess.
	Err error
	// Attempts is the total number of attempts made (1 + retries).
	Attempts int
}

// AbilityDefinition declares how one ability is executed. Definitions are
// immutable after configuration load.
type AbilityDefinition struct {
	Name           string
	Classification Classification
	// Endpoint names the external system serving the ability; empty for
	// local abilities.
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
	Backoff    BackoffKind
	RetryDelay time.Duration
	// Transient marks the ability's failures as retryable.
	Transient bool
}

// StageAbility binds an ability to a stage with stage-local policy.
type StageAbility struct {
	Name string
	// Optional abilities may fail without aborting the run.
	Optional bool
	// DependsOn lists sibling abilities that must settle first. Abilities
	// with no dependency relation are dispatched concurrently.
	DependsOn []string
}

// StageDefinition is the immutable declaration of one pipeline stage.
type StageDefinition struct {
	Name      Stage
	Mode      Mode
	Abilities []StageAbility
}

// Logger provides a simple interface for workflow logging
type Logger interface {
	// Debug logs a message at debug level
	Debug(format string, args ...interface{})

	// Info logs a message at info level
	Info(format string, args ...interface{})

	// Warn logs a message at warning level
	Warn(format string, args ...interface{})

	// Error logs a message at error level
	Error(format string, args ...interface{})
}

// StageRunnerFunc is the core function type for executing a single stage.
type StageRunnerFunc func(ctx context.Context, state *WorkflowState, def StageDefinition) error

// StageMiddleware wraps stage execution. It allows performing operations
// before and after a stage executes.
type StageMiddleware func(next StageRunnerFunc) StageRunnerFunc
