package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/choreo/internal/store"
	"github.com/edgefleet/choreo/pkg/schema"
)

func testPlan(name, first string) *store.Plan {
	return &store.Plan{ID: "plan-" + name, Name: name, FirstStep: first}
}

func testStep(planID, name string, next ...string) *store.Step {
	return &store.Step{
		ID:        planID + "-" + name,
		PlanID:    planID,
		Name:      name,
		Service:   schema.Capability{Service: "svc-" + name},
		NextSteps: next,
	}
}

func TestBuildGraphLinear(t *testing.T) {
	plan := testPlan("linear", "a")
	steps := []*store.Step{
		testStep(plan.ID, "a", "b"),
		testStep(plan.ID, "b", "c"),
		testStep(plan.ID, "c"),
	}

	g, err := BuildGraph(plan, steps)
	require.NoError(t, err)

	assert.Equal(t, "a", g.First)
	assert.Equal(t, []string{"a", "b", "c"}, g.Reachable)
	assert.Equal(t, []string{"b"}, g.Next["a"])
	assert.Equal(t, []string{"a"}, g.Prev["b"])
	assert.Empty(t, g.Next["c"])
}

func TestBuildGraphFanOutFanIn(t *testing.T) {
	plan := testPlan("diamond", "start")
	steps := []*store.Step{
		testStep(plan.ID, "start", "left", "right"),
		testStep(plan.ID, "left", "join"),
		testStep(plan.ID, "right", "join"),
		testStep(plan.ID, "join"),
	}

	g, err := BuildGraph(plan, steps)
	require.NoError(t, err)

	assert.Equal(t, []string{"left", "right"}, g.Next["start"])
	assert.Equal(t, []string{"left", "right"}, g.Prev["join"])
	assert.Len(t, g.Reachable, 4)
}

func TestBuildGraphRejectsCycle(t *testing.T) {
	plan := testPlan("cyclic", "a")
	steps := []*store.Step{
		testStep(plan.ID, "a", "b"),
		testStep(plan.ID, "b", "c"),
		testStep(plan.ID, "c", "a"),
	}

	_, err := BuildGraph(plan, steps)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))
}

func TestBuildGraphRejectsMissingFirstStep(t *testing.T) {
	plan := testPlan("nofirst", "ghost")
	steps := []*store.Step{testStep(plan.ID, "a")}

	_, err := BuildGraph(plan, steps)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestBuildGraphRejectsDanglingEdge(t *testing.T) {
	plan := testPlan("dangling", "a")
	steps := []*store.Step{
		testStep(plan.ID, "a", "missing"),
	}

	_, err := BuildGraph(plan, steps)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestBuildGraphRejectsDuplicateStep(t *testing.T) {
	plan := testPlan("dup", "a")
	steps := []*store.Step{
		testStep(plan.ID, "a"),
		testStep(plan.ID, "a"),
	}

	_, err := BuildGraph(plan, steps)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestBuildGraphRejectsEmptyPlan(t *testing.T) {
	_, err := BuildGraph(testPlan("empty", "a"), nil)
	require.Error(t, err)

	_, err = BuildGraph(nil, []*store.Step{testStep("p", "a")})
	require.Error(t, err)
}

func TestReachableExcludesDisconnectedSteps(t *testing.T) {
	plan := testPlan("island", "a")
	steps := []*store.Step{
		testStep(plan.ID, "a", "b"),
		testStep(plan.ID, "b"),
		testStep(plan.ID, "island"), // valid DAG node, not reachable from a
	}

	g, err := BuildGraph(plan, steps)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, g.Reachable)
}
