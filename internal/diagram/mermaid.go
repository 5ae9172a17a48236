// Package diagram renders plan graphs as Mermaid flowcharts, optionally
// overlaying the step statuses of a session. Output is meant for operator
// tooling and docs; the engine never consumes it.
package diagram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/edgefleet/choreo/internal/store"
	"github.com/edgefleet/choreo/pkg/schema"
)

// RenderPlan renders the step graph of a plan as a Mermaid flowchart.
func RenderPlan(plan *store.Plan, steps []*store.Step) string {
	return render(plan, steps, nil)
}

// RenderSession renders the plan graph with each step colored by the status
// of its latest attempt in the session. Steps without a record stay neutral.
func RenderSession(plan *store.Plan, steps []*store.Step, latest map[string]*store.SessionStep) string {
	return render(plan, steps, latest)
}

func render(plan *store.Plan, steps []*store.Step, latest map[string]*store.SessionStep) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if plan != nil && plan.Name != "" {
		b.WriteString(fmt.Sprintf("    %%%% plan: %s\n", plan.Name))
	}

	ordered := append([]*store.Step(nil), steps...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	for _, st := range ordered {
		label := st.Name
		if st.Service.Service != "" {
			label = fmt.Sprintf("%s<br/>%s", st.Name, st.Service.Service)
		}
		if rec := latest[st.Name]; rec != nil && rec.Attempt > 1 {
			label = fmt.Sprintf("%s (attempt %d)", label, rec.Attempt)
		}
		shape := "[\"%s\"]"
		if plan != nil && st.Name == plan.FirstStep {
			shape = "([\"%s\"])"
		}
		b.WriteString(fmt.Sprintf("    %s"+shape+"\n", safeID(st.Name), escapeLabel(label)))
	}

	for _, st := range ordered {
		next := append([]string(nil), st.NextSteps...)
		sort.Strings(next)
		for _, n := range next {
			b.WriteString(fmt.Sprintf("    %s --> %s\n", safeID(st.Name), safeID(n)))
		}
	}

	b.WriteString("\n")
	b.WriteString("    classDef success fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef waiting fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef aborted fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, st := range ordered {
		rec := latest[st.Name]
		if rec == nil {
			continue
		}
		if cls := statusClass(rec.Status); cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", safeID(st.Name), cls))
		}
	}

	return b.String()
}

func statusClass(status schema.StepStatus) string {
	switch status {
	case schema.StepStatusSuccess:
		return "success"
	case schema.StepStatusFailed:
		return "failed"
	case schema.StepStatusRunning:
		return "running"
	case schema.StepStatusWaiting:
		return "waiting"
	case schema.StepStatusAborted:
		return "aborted"
	default:
		return ""
	}
}

// safeID makes a step name usable as a Mermaid node identifier.
func safeID(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func escapeLabel(label string) string {
	label = strings.ReplaceAll(label, "\"", "#quot;")
	return strings.ReplaceAll(label, "\n", " ")
}
