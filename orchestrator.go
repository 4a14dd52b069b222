package ticketflow

import (
	"context"
	"sync"
)

// Runner drives a ticket through the 11-stage pipeline. It owns the
// WorkflowState for the duration of one run; no two stages of the same run
// are ever in flight at once.
type Runner struct {
	registry   *Registry
	executor   *Executor
	decision   *DecisionEngine
	audit      Recorder
	logger     Logger
	metrics    *Metrics
	middleware []StageMiddleware
}

// RunnerOption is a function that configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithDecisionEngine replaces the default decision engine.
func WithDecisionEngine(d *DecisionEngine) RunnerOption {
	return func(r *Runner) { r.decision = d }
}

// WithAudit sets the audit sink for transitions; it is also handed to the
// executor's entries through the runner when the executor has none.
func WithAudit(rec Recorder) RunnerOption {
	return func(r *Runner) { r.audit = rec }
}

// WithMetrics attaches prometheus collectors to the run loop.
func WithMetrics(m *Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithMiddleware adds stage middleware to the runner.
func WithMiddleware(middleware ...StageMiddleware) RunnerOption {
	return func(r *Runner) { r.middleware = append(r.middleware, middleware...) }
}

// NewRunner creates a workflow runner over a registry and an executor.
func NewRunner(registry *Registry, executor *Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: registry,
		executor: executor,
		decision: NewDecisionEngine(),
		logger:   NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if executor == nil {
		r.executor = NewExecutor()
	}
	return r
}

// Use adds middleware to the runner's middleware chain.
func (r *Runner) Use(middleware ...StageMiddleware) {
	r.middleware = append(r.middleware, middleware...)
}

// Run validates a raw ticket payload and executes the pipeline. The caller
// always receives a well-formed result: completed, escalated, or failed with
// the partial log. Only the error taxonomy's startup failures prevent a
// result from being produced.
func (r *Runner) Run(ctx context.Context, payload []byte) (*RunResult, error) {
	ticket, err := ParseTicket(payload)
	if err != nil {
		return r.failValidation(ticket, err)
	}
	return r.RunTicket(ctx, ticket)
}

// RunTicket executes the pipeline for an already-decoded ticket.
func (r *Runner) RunTicket(ctx context.Context, ticket Ticket) (*RunResult, error) {
	if err := ticket.Validate(); err != nil {
		return r.failValidation(ticket, err)
	}
	if ticket.Priority == "" {
		ticket.Priority = PriorityMedium
	}
	if ctx == nil {
		ctx = context.Background()
	}

	state := NewWorkflowState(ticket)
	r.logger.Info("starting run %s for ticket %s", state.RunID, ticket.TicketID)

	// Build the middleware chain, applied in reverse so the first
	// registered middleware is the outermost.
	handler := r.runStage
	for i := len(r.middleware) - 1; i >= 0; i-- {
		handler = r.middleware[i](handler)
	}

	status := RunCompleted
	completed := 0
	var runErr error
	for _, def := range r.registry.Stages() {
		state.CurrentStage = def.Name
		r.recordTransition(state, def.Name)

		r.logger.Debug("executing stage %s", def.Name)
		if err := handler(ctx, state, def); err != nil {
			r.logger.Error("stage %s failed: %v", def.Name, err)
			status = RunFailed
			runErr = err
			break
		}
		completed++

		if def.Name == StageDecide && state.Decision != nil && state.Decision.Escalate {
			r.logger.Info("run %s escalated: %s", state.RunID, state.Decision.Rationale)
			status = RunEscalated
			break
		}
		r.logger.Debug("completed stage %s", def.Name)
	}

	result := buildResult(state, status, completed)
	r.metrics.observeRun(status)
	if status == RunCompleted {
		r.logger.Info("run %s completed: %d stages", state.RunID, completed)
	}
	return result, runErr
}

// failValidation produces the failed result for a payload that never passed
// the input contract: zero abilities invoked, a single validation entry.
func (r *Runner) failValidation(ticket Ticket, err error) (*RunResult, error) {
	state := NewWorkflowState(ticket)
	state.CurrentStage = StageIntake
	entry := newLogEntry(state.RunID, StageIntake, "validation")
	entry.Outcome = string(OutcomeFailure)
	entry.Detail = err.Error()
	state.appendLog(entry)
	if r.audit != nil {
		r.audit.Record(entry)
	}
	r.metrics.observeRun(RunFailed)
	r.logger.Warn("rejected ticket %q: %v", ticket.TicketID, err)
	return buildResult(state, RunFailed, 0), err
}

func (r *Runner) recordTransition(state *WorkflowState, stage Stage) {
	entry := newLogEntry(state.RunID, stage, transitionAbility)
	entry.Outcome = string(OutcomeSuccess)
	state.appendLog(entry)
	if r.audit != nil {
		r.audit.Record(entry)
	}
	r.metrics.observeTransition(stage)
}

// runStage dispatches a stage to its execution strategy.
func (r *Runner) runStage(ctx context.Context, state *WorkflowState, def StageDefinition) error {
	if def.Mode == ModeNonDeterministic {
		return r.runDecideStage(ctx, state, def)
	}
	return r.runDeterministicStage(ctx, state, def)
}

// settled is one ability's final outcome within a stage.
type settled struct {
	ability StageAbility
	outcome Outcome
	entries []LogEntry
	skipped bool
}

// runDeterministicStage fans the stage's abilities out in dependency waves
// and joins each wave before the next. Results merge into stage_results in
// declaration order regardless of completion order; a required ability
// failure is stage-fatal once every sibling in its wave has settled.
func (r *Runner) runDeterministicStage(ctx context.Context, state *WorkflowState, def StageDefinition) error {
	defs := make([]AbilityDefinition, len(def.Abilities))
	for i, sa := range def.Abilities {
		resolved, err := r.registry.Resolve(sa.Name)
		if err != nil {
			return err
		}
		defs[i] = resolved
	}

	results := make([]settled, len(def.Abilities))
	for i, sa := range def.Abilities {
		results[i] = settled{ability: sa}
	}

	input := r.stageInput(state)
	var fatal *StageFatalError
	for _, wave := range scheduleWaves(def.Abilities) {
		if fatal != nil {
			for _, idx := range wave {
				results[idx].skipped = true
			}
			continue
		}

		var wg sync.WaitGroup
		for _, idx := range wave {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcome, entries := r.executor.Execute(ctx, ExecRequest{
					RunID:      state.RunID,
					Stage:      def.Name,
					Definition: defs[i],
					Input:      input,
				})
				results[i].outcome = outcome
				results[i].entries = entries
			}(idx)
		}
		wg.Wait()

		for _, idx := range wave {
			s := results[idx]
			if s.outcome.Kind != OutcomeSuccess && !s.ability.Optional {
				fatal = &StageFatalError{Stage: def.Name, Ability: s.ability.Name, Err: s.outcome.Err}
				break
			}
		}
	}

	// Merge in declaration order.
	for _, s := range results {
		if s.skipped {
			continue
		}
		state.appendLog(s.entries...)
		if s.outcome.Kind == OutcomeSuccess {
			state.StageResults.Put(def.Name, s.ability.Name, s.outcome.Value)
		} else if s.ability.Optional {
			r.logger.Warn("optional ability %s settled %s: %v", s.ability.Name, s.outcome.Kind, s.outcome.Err)
		}
	}
	if fatal != nil {
		return fatal
	}
	return nil
}

// runDecideStage is the pipeline's single non-deterministic stage: it scores
// candidate resolutions and takes the one conditional edge of the state
// machine.
func (r *Runner) runDecideStage(ctx context.Context, state *WorkflowState, def StageDefinition) error {
	input := r.stageInput(state)

	var candidates []Candidate
	decisionStored := false
	for _, sa := range def.Abilities {
		resolved, err := r.registry.Resolve(sa.Name)
		if err != nil {
			return err
		}

		switch sa.Name {
		case "solution_evaluation":
			outcome, entries := r.executor.Execute(ctx, ExecRequest{
				RunID: state.RunID, Stage: def.Name, Definition: resolved, Input: input,
			})
			state.appendLog(entries...)
			if outcome.Kind != OutcomeSuccess {
				if sa.Optional {
					continue
				}
				return &StageFatalError{Stage: def.Name, Ability: sa.Name, Err: outcome.Err}
			}
			state.StageResults.Put(def.Name, sa.Name, outcome.Value)
			candidates = candidatesFrom(outcome.Value)

		case "escalation_decision":
			if len(candidates) == 0 {
				candidates = r.retrievedCandidates(state)
			}
			decision := r.decision.Decide(state.Ticket.Query, candidates)
			state.Decision = &decision
			value := decision.asMap()
			if decision.Escalate {
				// Only an escalating run touches the external escalation
				// system; a passing score short-circuits the call.
				outcome, entries := r.executor.Execute(ctx, ExecRequest{
					RunID: state.RunID, Stage: def.Name, Definition: resolved, Input: input,
				})
				state.appendLog(entries...)
				if outcome.Kind != OutcomeSuccess && !sa.Optional {
					return &StageFatalError{Stage: def.Name, Ability: sa.Name, Err: outcome.Err}
				}
				for k, v := range outcome.Value {
					value[k] = v
				}
			}
			state.StageResults.Put(def.Name, sa.Name, value)
			decisionStored = true

		default:
			outcome, entries := r.executor.Execute(ctx, ExecRequest{
				RunID: state.RunID, Stage: def.Name, Definition: resolved, Input: input,
			})
			state.appendLog(entries...)
			if outcome.Kind != OutcomeSuccess {
				if sa.Optional {
					continue
				}
				return &StageFatalError{Stage: def.Name, Ability: sa.Name, Err: outcome.Err}
			}
			state.StageResults.Put(def.Name, sa.Name, outcome.Value)
		}
	}

	// A DECIDE stage without a declared escalation ability still records
	// its decision.
	if state.Decision == nil {
		if len(candidates) == 0 {
			candidates = r.retrievedCandidates(state)
		}
		decision := r.decision.Decide(state.Ticket.Query, candidates)
		state.Decision = &decision
	}
	if !decisionStored {
		state.StageResults.Put(def.Name, "decision", state.Decision.asMap())
	}
	return nil
}

// retrievedCandidates falls back to the RETRIEVE stage's knowledge-base
// matches when solution evaluation produced no explicit candidates.
func (r *Runner) retrievedCandidates(state *WorkflowState) []Candidate {
	value, ok := state.StageResults.Get(StageRetrieve, "knowledge_base_search")
	if !ok {
		return nil
	}
	return candidatesFrom(value)
}

func (r *Runner) stageInput(state *WorkflowState) map[string]any {
	input := state.Ticket.args()
	input["run_id"] = state.RunID
	return input
}

// scheduleWaves groups a stage's abilities into dependency waves: an ability
// lands in the first wave after all of its dependencies. Abilities in the
// same wave have no dependency relation and run concurrently. Declaration
// order is preserved within each wave.
func scheduleWaves(abilities []StageAbility) [][]int {
	waveOf := make(map[string]int, len(abilities))
	var waves [][]int
	for i, a := range abilities {
		wave := 0
		for _, dep := range a.DependsOn {
			if w, ok := waveOf[dep]; ok && w+1 > wave {
				wave = w + 1
			}
		}
		waveOf[a.Name] = wave
		for len(waves) <= wave {
			waves = append(waves, nil)
		}
		waves[wave] = append(waves[wave], i)
	}
	return waves
}
