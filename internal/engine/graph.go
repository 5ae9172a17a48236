package engine

import (
	"sort"

	"github.com/edgefleet/choreo/internal/store"
	"github.com/edgefleet/choreo/pkg/schema"
)

// PlanGraph is the in-memory directed acyclic graph of one plan. Steps live in
// a flat map indexed by name; edges are adjacency lists of names, avoiding
// cyclic ownership pointers.
type PlanGraph struct {
	Plan      *store.Plan
	Steps     map[string]*store.Step // step name → record
	Next      map[string][]string    // step name → successors
	Prev      map[string][]string    // step name → predecessors
	First     string
	Reachable []string // steps reachable from First, sorted
}

// BuildGraph assembles a PlanGraph from persisted records. It re-runs cycle
// detection via Kahn's algorithm: graphs are validated at plan creation, but
// the engine never trusts stored data enough to risk an infinite traversal.
func BuildGraph(plan *store.Plan, steps []*store.Step) (*PlanGraph, error) {
	if plan == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "plan is nil")
	}
	if len(steps) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "plan %q has no steps", plan.Name)
	}

	g := &PlanGraph{
		Plan:  plan,
		Steps: make(map[string]*store.Step, len(steps)),
		Next:  make(map[string][]string, len(steps)),
		Prev:  make(map[string][]string, len(steps)),
		First: plan.FirstStep,
	}

	for _, st := range steps {
		if _, dup := g.Steps[st.Name]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"plan %q has duplicate step %q", plan.Name, st.Name)
		}
		g.Steps[st.Name] = st
	}

	if _, ok := g.Steps[g.First]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"plan %q first step %q not found", plan.Name, g.First)
	}

	for _, st := range steps {
		next := make([]string, 0, len(st.NextSteps))
		for _, n := range st.NextSteps {
			if _, ok := g.Steps[n]; !ok {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"step %q links to non-existent step %q", st.Name, n).WithStep(st.Name)
			}
			next = append(next, n)
			g.Prev[n] = append(g.Prev[n], st.Name)
		}
		sort.Strings(next)
		g.Next[st.Name] = next
	}
	for name := range g.Prev {
		sort.Strings(g.Prev[name])
	}

	if err := checkAcyclic(g); err != nil {
		return nil, err
	}

	g.Reachable = reachableFrom(g, g.First)
	return g, nil
}

// checkAcyclic runs Kahn's algorithm over the whole edge set.
func checkAcyclic(g *PlanGraph) error {
	inDegree := make(map[string]int, len(g.Steps))
	for name := range g.Steps {
		inDegree[name] = len(g.Prev[name])
	}

	queue := make([]string, 0, len(g.Steps))
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, n := range g.Next[node] {
			inDegree[n]--
			if inDegree[n] == 0 {
				queue = append(queue, n)
			}
		}
	}
	if visited != len(g.Steps) {
		return schema.NewErrorf(schema.ErrCodeCycleDetected, "plan %q contains a cycle", g.Plan.Name)
	}
	return nil
}

// reachableFrom returns the sorted set of steps reachable from start.
// The visited set guards traversal even if the acyclicity invariant is broken.
func reachableFrom(g *PlanGraph, start string) []string {
	visited := make(map[string]struct{}, len(g.Steps))
	stack := []string{start}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[node]; seen {
			continue
		}
		visited[node] = struct{}{}
		stack = append(stack, g.Next[node]...)
	}

	out := make([]string, 0, len(visited))
	for name := range visited {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
