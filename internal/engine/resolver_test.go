package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/choreo/internal/store"
	"github.com/edgefleet/choreo/pkg/schema"
)

func diamondGraph(t *testing.T) *PlanGraph {
	t.Helper()
	plan := testPlan("diamond", "start")
	g, err := BuildGraph(plan, []*store.Step{
		testStep(plan.ID, "start", "left", "right"),
		testStep(plan.ID, "left", "join"),
		testStep(plan.ID, "right", "join"),
		testStep(plan.ID, "join"),
	})
	require.NoError(t, err)
	return g
}

func rec(step string, attempt int, status schema.StepStatus) *store.SessionStep {
	return &store.SessionStep{
		ID:        step + "-" + string(rune('0'+attempt)),
		SessionID: "sess-1",
		StepName:  step,
		Attempt:   attempt,
		Status:    status,
	}
}

func TestLatestAttempts(t *testing.T) {
	latest := LatestAttempts([]*store.SessionStep{
		rec("a", 1, schema.StepStatusFailed),
		rec("a", 2, schema.StepStatusSuccess),
		rec("b", 1, schema.StepStatusRunning),
	})

	require.Len(t, latest, 2)
	assert.Equal(t, 2, latest["a"].Attempt)
	assert.Equal(t, schema.StepStatusSuccess, latest["a"].Status)
	assert.Equal(t, 1, latest["b"].Attempt)
}

func TestReadyStepsInitialState(t *testing.T) {
	g := diamondGraph(t)

	ready := ReadySteps(g, map[string]*store.SessionStep{}, 3)
	assert.Equal(t, []string{"start"}, ready)
}

func TestReadyStepsFanOutAfterFirstSuccess(t *testing.T) {
	g := diamondGraph(t)
	latest := LatestAttempts([]*store.SessionStep{
		rec("start", 1, schema.StepStatusSuccess),
	})

	ready := ReadySteps(g, latest, 3)
	assert.Equal(t, []string{"left", "right"}, ready)
}

func TestReadyStepsFanInWaitsForAllPredecessors(t *testing.T) {
	g := diamondGraph(t)
	latest := LatestAttempts([]*store.SessionStep{
		rec("start", 1, schema.StepStatusSuccess),
		rec("left", 1, schema.StepStatusSuccess),
		rec("right", 1, schema.StepStatusRunning),
	})

	// join must wait for right.
	assert.Empty(t, ReadySteps(g, latest, 3))

	latest["right"] = rec("right", 1, schema.StepStatusSuccess)
	assert.Equal(t, []string{"join"}, ReadySteps(g, latest, 3))
}

func TestReadyStepsRetryBudget(t *testing.T) {
	g := diamondGraph(t)
	latest := LatestAttempts([]*store.SessionStep{
		rec("start", 1, schema.StepStatusFailed),
	})

	// Below the bound: eligible for another attempt.
	assert.Equal(t, []string{"start"}, ReadySteps(g, latest, 3))

	// At the bound: exhausted.
	latest["start"] = rec("start", 3, schema.StepStatusFailed)
	assert.Empty(t, ReadySteps(g, latest, 3))
}

func TestReadyStepsSiblingContinuesAfterExhaustion(t *testing.T) {
	// One fan-out branch exhausting its retries must not stop the other.
	g := diamondGraph(t)
	latest := LatestAttempts([]*store.SessionStep{
		rec("start", 1, schema.StepStatusSuccess),
		rec("left", 3, schema.StepStatusFailed),
	})

	assert.Equal(t, []string{"right"}, ReadySteps(g, latest, 3))
}

func TestReadyStepsSkipsLiveAndTerminalRecords(t *testing.T) {
	g := diamondGraph(t)
	for _, status := range []schema.StepStatus{
		schema.StepStatusWaiting,
		schema.StepStatusRunning,
		schema.StepStatusSuccess,
		schema.StepStatusAborted,
	} {
		latest := LatestAttempts([]*store.SessionStep{rec("start", 1, status)})
		assert.NotContains(t, ReadySteps(g, latest, 3), "start", "status %s", status)
	}
}

func TestInFlight(t *testing.T) {
	assert.False(t, InFlight(map[string]*store.SessionStep{}))
	assert.True(t, InFlight(map[string]*store.SessionStep{"a": rec("a", 1, schema.StepStatusWaiting)}))
	assert.True(t, InFlight(map[string]*store.SessionStep{"a": rec("a", 1, schema.StepStatusRunning)}))
	assert.False(t, InFlight(map[string]*store.SessionStep{"a": rec("a", 1, schema.StepStatusFailed)}))
}

func TestEvaluateTerminal(t *testing.T) {
	g := diamondGraph(t)

	all := map[string]*store.SessionStep{
		"start": rec("start", 1, schema.StepStatusSuccess),
		"left":  rec("left", 1, schema.StepStatusSuccess),
		"right": rec("right", 1, schema.StepStatusSuccess),
		"join":  rec("join", 1, schema.StepStatusSuccess),
	}
	assert.Equal(t, schema.SessionStatusDone, EvaluateTerminal(g, all))

	all["join"] = rec("join", 3, schema.StepStatusFailed)
	assert.Equal(t, schema.SessionStatusError, EvaluateTerminal(g, all))

	// A step that never got a record also means ERROR.
	delete(all, "join")
	assert.Equal(t, schema.SessionStatusError, EvaluateTerminal(g, all))
}
