package ticketflow

import (
	"errors"
	"fmt"
)

// ErrAbilityTimeout is wrapped into every timed-out attempt's error.
var ErrAbilityTimeout = errors.New("ability timed out")

// ValidationError reports a bad input payload. It fails the run at INTAKE,
// before any stage executes, and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid ticket: field %q %s", e.Field, e.Reason)
}

// ConfigError reports malformed stage/ability configuration. It is fatal at
// startup; no run may begin with a broken table.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Reason
}

// UnknownAbilityError is returned by the registry when a stage references an
// ability that was never declared.
type UnknownAbilityError struct {
	Name string
}

func (e *UnknownAbilityError) Error() string {
	return fmt.Sprintf("unknown ability %q", e.Name)
}

// AbilityFailure is a failure produced by an ability backend. Transient
// failures are retried per the ability's policy; non-transient ones
// (validation-type failures) never are.
type AbilityFailure struct {
	Ability   string
	Reason    string
	Transient bool
}

func (e *AbilityFailure) Error() string {
	return fmt.Sprintf("ability %q failed: %s", e.Ability, e.Reason)
}

// StageFatalError aborts the run: a required ability exhausted its retries.
// The orchestrator stops advancing and returns the partial state.
type StageFatalError struct {
	Stage   Stage
	Ability string
	Err     error
}

func (e *StageFatalError) Error() string {
	return fmt.Sprintf("stage %s: required ability %q failed: %v", e.Stage, e.Ability, e.Err)
}

func (e *StageFatalError) Unwrap() error { return e.Err }
