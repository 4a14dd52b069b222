// Package ticketflow orchestrates customer-support tickets through a fixed
// 11-stage pipeline.
//
// A ticket enters at INTAKE and advances through UNDERSTAND, PREPARE, ASK,
// WAIT, RETRIEVE, DECIDE, UPDATE, CREATE and DO to COMPLETE. Every stage
// invokes one or more abilities: units of work dispatched either in-process
// (local) or to an external system through a client interface. DECIDE is the
// single non-deterministic stage; it scores candidate resolutions and either
// continues the automated pipeline or escalates the ticket to a human agent.
//
// Core components include:
//   - Registry: maps ability names to their backend classification and
//     timeout/retry policy, loaded once from configuration
//   - Executor: runs one ability with timeout enforcement and
//     retry-with-backoff, emitting one audit entry per attempt
//   - Runner: the stage state machine, fanning abilities out per stage and
//     merging results into the workflow state in declaration order
//   - DecisionEngine: pluggable candidate scoring with an escalation policy
//   - Recorders: append-only audit sinks that never fail the workflow
package ticketflow
