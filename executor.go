package ticketflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Executor invokes one ability against its backend, enforcing the ability's
// timeout and retry policy and emitting one audit entry per attempt.
type Executor struct {
	local     Client
	externals map[string]Client
	fallback  Client
	audit     Recorder
	logger    Logger
	metrics   *Metrics
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLocalClient sets the client for local abilities. Defaults to a
// LocalBackend with the built-in handlers.
func WithLocalClient(c Client) ExecutorOption {
	return func(e *Executor) { e.local = c }
}

// WithExternalClient routes abilities declaring the given endpoint to c.
func WithExternalClient(endpoint string, c Client) ExecutorOption {
	return func(e *Executor) { e.externals[endpoint] = c }
}

// WithFallbackClient serves external abilities whose endpoint has no
// dedicated client.
func WithFallbackClient(c Client) ExecutorOption {
	return func(e *Executor) { e.fallback = c }
}

// WithExecutorAudit sets the audit sink for per-attempt entries.
func WithExecutorAudit(r Recorder) ExecutorOption {
	return func(e *Executor) { e.audit = r }
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithExecutorMetrics attaches prometheus collectors.
func WithExecutorMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates an ability executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		local:     NewLocalBackend(),
		externals: make(map[string]Client),
		logger:    NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecRequest carries one ability invocation.
type ExecRequest struct {
	RunID      string
	Stage      Stage
	Definition AbilityDefinition
	Input      map[string]any
}

// Execute runs the ability until it succeeds, exhausts its retries, or the
// surrounding context is cancelled. It returns the final outcome and the
// log entries for every attempt, in order.
func (e *Executor) Execute(ctx context.Context, req ExecRequest) (Outcome, []LogEntry) {
	def := req.Definition
	maxAttempts := def.MaxRetries + 1
	policy := backoffFor(def)

	var entries []LogEntry
	var outcome Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		started := time.Now()
		outcome = e.invokeOnce(ctx, def, req.Input)
		outcome.Attempts = attempt
		elapsed := time.Since(started)

		willRetry := attempt < maxAttempts && e.shouldRetry(def, outcome) && ctx.Err() == nil

		entry := newLogEntry(req.RunID, req.Stage, def.Name)
		entry.Classification = def.Classification
		entry.Attempt = attempt
		entry.Outcome = string(outcome.Kind)
		entry.Retried = willRetry
		entry.DurationMS = elapsed.Milliseconds()
		if outcome.Err != nil {
			entry.Detail = outcome.Err.Error()
		}
		entries = append(entries, entry)
		if e.audit != nil {
			e.audit.Record(entry)
		}
		e.metrics.observeAttempt(req.Stage, def.Name, outcome.Kind, elapsed.Seconds())

		if !willRetry {
			break
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		e.logger.Debug("retrying ability %s in %v (attempt %d/%d)", def.Name, wait, attempt+1, maxAttempts)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return outcome, entries
		}
	}
	return outcome, entries
}

// invokeOnce performs a single attempt, bounded by the ability's timeout.
// A timed-out call is cancelled via its context; if the backend does not
// cooperate, the attempt is abandoned and settles as TimedOut anyway.
func (e *Executor) invokeOnce(ctx context.Context, def AbilityDefinition, input map[string]any) Outcome {
	client, err := e.clientFor(def)
	if err != nil {
		return Outcome{Kind: OutcomeFailure, Err: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	type reply struct {
		value map[string]any
		err   error
	}
	done := make(chan reply, 1)
	go func() {
		value, err := client.Invoke(attemptCtx, def.Name, input)
		done <- reply{value: value, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return Outcome{Kind: OutcomeTimedOut, Err: fmt.Errorf("%w: %s after %v", ErrAbilityTimeout, def.Name, def.Timeout)}
			}
			return Outcome{Kind: OutcomeFailure, Err: r.err}
		}
		return Outcome{Kind: OutcomeSuccess, Value: r.value}
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// The run itself was cancelled, not this ability's deadline.
			return Outcome{Kind: OutcomeFailure, Err: ctx.Err()}
		}
		return Outcome{Kind: OutcomeTimedOut, Err: fmt.Errorf("%w: %s after %v", ErrAbilityTimeout, def.Name, def.Timeout)}
	}
}

func (e *Executor) clientFor(def AbilityDefinition) (Client, error) {
	if def.Classification == ClassificationLocal {
		return e.local, nil
	}
	if c, ok := e.externals[def.Endpoint]; ok {
		return c, nil
	}
	if e.fallback != nil {
		return e.fallback, nil
	}
	return nil, &AbilityFailure{Ability: def.Name, Reason: fmt.Sprintf("no client for endpoint %q", def.Endpoint)}
}

// shouldRetry applies the retry policy: timeouts retry per policy, failures
// only when transient. A backend can pin a failure as non-transient (a
// validation-type failure) regardless of the ability's default.
func (e *Executor) shouldRetry(def AbilityDefinition, outcome Outcome) bool {
	switch outcome.Kind {
	case OutcomeTimedOut:
		return true
	case OutcomeFailure:
		var vErr *ValidationError
		if errors.As(outcome.Err, &vErr) {
			return false
		}
		var aErr *AbilityFailure
		if errors.As(outcome.Err, &aErr) {
			return aErr.Transient
		}
		return def.Transient
	default:
		return false
	}
}

// backoffFor builds the delay policy between attempts. Randomization is
// disabled so retry behavior is deterministic for fixed inputs.
func backoffFor(def AbilityDefinition) backoff.BackOff {
	if def.Backoff == BackoffExponential {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = def.RetryDelay
		b.RandomizationFactor = 0
		b.Multiplier = 2
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
	return backoff.NewConstantBackOff(def.RetryDelay)
}
