package engine

import (
	"github.com/edgefleet/choreo/internal/store"
	"github.com/edgefleet/choreo/pkg/schema"
)

// LatestAttempts reduces a session's step records to the highest attempt per
// step name.
func LatestAttempts(steps []*store.SessionStep) map[string]*store.SessionStep {
	latest := make(map[string]*store.SessionStep, len(steps))
	for _, ss := range steps {
		cur, ok := latest[ss.StepName]
		if !ok || ss.Attempt > cur.Attempt {
			latest[ss.StepName] = ss
		}
	}
	return latest
}

// ReadySteps computes the set of steps eligible for dispatch, sorted for
// deterministic scheduling. A step is ready iff it has no attempt record yet,
// or its latest attempt FAILED below the retry bound, and every predecessor's
// latest attempt is SUCCESS. Only steps reachable from the plan's first step
// are considered.
func ReadySteps(g *PlanGraph, latest map[string]*store.SessionStep, maxAttempts int) []string {
	var ready []string
	for _, name := range g.Reachable {
		rec := latest[name]
		if rec != nil {
			if rec.Status != schema.StepStatusFailed {
				continue // waiting, running, or already terminal
			}
			if rec.Attempt >= maxAttempts {
				continue // retry budget exhausted
			}
		}
		if !predecessorsSucceeded(g, latest, name) {
			continue
		}
		ready = append(ready, name)
	}
	return ready
}

func predecessorsSucceeded(g *PlanGraph, latest map[string]*store.SessionStep, name string) bool {
	for _, prev := range g.Prev[name] {
		rec := latest[prev]
		if rec == nil || rec.Status != schema.StepStatusSuccess {
			return false
		}
	}
	return true
}

// InFlight reports whether any latest attempt is WAITING or RUNNING.
func InFlight(latest map[string]*store.SessionStep) bool {
	for _, rec := range latest {
		if rec.Status == schema.StepStatusWaiting || rec.Status == schema.StepStatusRunning {
			return true
		}
	}
	return false
}

// EvaluateTerminal determines the terminal status of a quiescent session:
// DONE when every step reachable from the first step has a SUCCESS record,
// otherwise ERROR. Callers invoke it only when ReadySteps is empty and
// nothing is in flight.
func EvaluateTerminal(g *PlanGraph, latest map[string]*store.SessionStep) schema.SessionStatus {
	for _, name := range g.Reachable {
		rec := latest[name]
		if rec == nil || rec.Status != schema.StepStatusSuccess {
			return schema.SessionStatusError
		}
	}
	return schema.SessionStatusDone
}
