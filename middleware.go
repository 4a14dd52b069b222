package ticketflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LoggingMiddleware creates a middleware that logs stage execution steps.
func LoggingMiddleware(logger Logger) StageMiddleware {
	return func(next StageRunnerFunc) StageRunnerFunc {
		return func(ctx context.Context, state *WorkflowState, def StageDefinition) error {
			logger.Info("stage %s: starting (%d abilities)", def.Name, len(def.Abilities))

			start := time.Now()
			err := next(ctx, state, def)
			duration := time.Since(start)

			if err != nil {
				logger.Error("stage %s: failed after %v: %v", def.Name, duration.Round(time.Millisecond), err)
			} else {
				logger.Info("stage %s: completed in %v", def.Name, duration.Round(time.Millisecond))
			}
			return err
		}
	}
}

// TimeLimitMiddleware creates a middleware that enforces a time limit on
// each stage's execution.
func TimeLimitMiddleware(limit time.Duration) StageMiddleware {
	return func(next StageRunnerFunc) StageRunnerFunc {
		return func(ctx context.Context, state *WorkflowState, def StageDefinition) error {
			ctx, cancel := context.WithTimeout(ctx, limit)
			defer cancel()
			return next(ctx, state, def)
		}
	}
}

// TracingMiddleware creates a middleware that opens one span per stage.
func TracingMiddleware(tracer trace.Tracer) StageMiddleware {
	return func(next StageRunnerFunc) StageRunnerFunc {
		return func(ctx context.Context, state *WorkflowState, def StageDefinition) error {
			ctx, span := tracer.Start(ctx, "stage."+string(def.Name),
				trace.WithAttributes(
					attribute.String("ticketflow.run_id", state.RunID),
					attribute.String("ticketflow.ticket_id", state.Ticket.TicketID),
					attribute.String("ticketflow.stage", string(def.Name)),
					attribute.String("ticketflow.mode", string(def.Mode)),
					attribute.Int("ticketflow.abilities", len(def.Abilities)),
				))
			defer span.End()

			err := next(ctx, state, def)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return err
		}
	}
}
