package ticketflow

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsObserveRun(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	registry, err := NewRegistry(nil)
	require.NoError(t, err)
	demo := DemoClient()
	executor := NewExecutor(
		WithExternalClient("common", demo),
		WithExternalClient("atlas", demo),
		WithExecutorMetrics(metrics),
	)
	runner := NewRunner(registry, executor,
		WithLogger(&TestLogger{t: t}),
		WithMetrics(metrics),
	)

	_, err = runner.RunTicket(context.Background(), sampleTicket())
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Runs.WithLabelValues(string(RunCompleted))))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.Escalations))
	for _, stage := range StageOrder {
		assert.Equalf(t, float64(1), testutil.ToFloat64(metrics.StageTransitions.WithLabelValues(string(stage))),
			"stage %s transition not counted", stage)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.AbilityAttempts.WithLabelValues("knowledge_base_search", string(OutcomeSuccess))))
}

func TestMetricsCountEscalations(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	client := withResponses(map[string]map[string]any{
		"solution_evaluation": {
			"solutions": []any{
				map[string]any{"solution": "Process refund", "score": 40},
			},
		},
	})
	runner := newTestRunner(t, client, WithMetrics(metrics))

	result, err := runner.RunTicket(context.Background(), sampleTicket())
	require.NoError(t, err)
	require.Equal(t, RunEscalated, result.Processing.Status)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Runs.WithLabelValues(string(RunEscalated))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Escalations))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.observeAttempt(StageIntake, "accept_payload", OutcomeSuccess, 0.01)
		metrics.observeTransition(StageIntake)
		metrics.observeRun(RunCompleted)
	})
}
