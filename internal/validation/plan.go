// Package validation checks plan definitions before they reach the scheduler.
// The pipeline has three stages: structural (JSON Schema), semantic
// (references, uniqueness), and DAG (cycles, reachability). Invalid plans are
// rejected at creation time and never produce a session.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/edgefleet/choreo/pkg/schema"
)

// planSchemaJSON is the JSON Schema for PlanDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://edgefleet.dev/schemas/plan.json",
  "type": "object",
  "required": ["name", "first_step", "steps"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "first_step": { "type": "string", "minLength": 1 },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "retry": { "$ref": "#/$defs/retry" },
    "timeout": { "type": "string", "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$" },
    "schedule": { "type": "string" },
    "metadata": { "type": "object", "additionalProperties": { "type": "string" } }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["name", "service"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "service": { "$ref": "#/$defs/capability" },
        "params": { "type": "object", "additionalProperties": { "type": "string" } },
        "next_steps": {
          "type": "array",
          "items": { "type": "string" }
        },
        "timeout": { "type": "string", "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$" }
      },
      "additionalProperties": false
    },
    "capability": {
      "type": "object",
      "required": ["service"],
      "properties": {
        "service": { "type": "string", "minLength": 1 },
        "min_version": { "type": "integer", "minimum": 0 },
        "max_version": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["max_attempts"],
      "properties": {
        "max_attempts": { "type": "integer", "minimum": 1 },
        "backoff": { "type": "string", "enum": ["none", "constant", "linear", "exponential"] },
        "delay": { "type": "string", "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$" },
        "max_delay": { "type": "string", "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$" }
      },
      "additionalProperties": false
    }
  }
}`

// PlanValidator validates plan definitions. Safe for concurrent use.
type PlanValidator struct {
	planSchema *jsonschema.Schema
	cronParser cron.Parser
}

// NewPlanValidator compiles the embedded plan schema.
func NewPlanValidator() (*PlanValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(planSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal plan schema: %w", err)
	}
	if err := c.AddResource("https://edgefleet.dev/schemas/plan.json", doc); err != nil {
		return nil, fmt.Errorf("add plan schema resource: %w", err)
	}
	compiled, err := c.Compile("https://edgefleet.dev/schemas/plan.json")
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	return &PlanValidator{
		planSchema: compiled,
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}, nil
}

// Validate runs the full pipeline. Structural errors short-circuit the
// semantic and DAG stages.
func (v *PlanValidator) Validate(def *schema.PlanDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "plan definition is nil")
	}
	if err := v.validateStructural(def); err != nil {
		return err
	}
	if err := validateSemantic(def); err != nil {
		return err
	}
	if err := v.validateSchedule(def); err != nil {
		return err
	}
	return validateDAG(def)
}

func (v *PlanValidator) validateStructural(def *schema.PlanDefinition) error {
	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize plan definition").WithCause(err)
	}
	if err := v.planSchema.Validate(doc); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "plan %q: %s", def.Name, err.Error()).WithCause(err)
	}
	return nil
}

func (v *PlanValidator) validateSchedule(def *schema.PlanDefinition) error {
	if def.Schedule == "" {
		return nil
	}
	if _, err := v.cronParser.Parse(def.Schedule); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"plan %q has invalid schedule %q: %s", def.Name, def.Schedule, err.Error())
	}
	return nil
}

// validateSemantic checks step name uniqueness, edge references, the first
// step anchor, and timeout formats.
func validateSemantic(def *schema.PlanDefinition) error {
	names := make(map[string]struct{}, len(def.Steps))
	for _, st := range def.Steps {
		if _, dup := names[st.Name]; dup {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"plan %q has duplicate step name %q", def.Name, st.Name)
		}
		names[st.Name] = struct{}{}
	}

	if _, ok := names[def.FirstStep]; !ok {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"plan %q first step %q does not exist", def.Name, def.FirstStep)
	}

	for _, st := range def.Steps {
		seen := make(map[string]struct{}, len(st.NextSteps))
		for _, next := range st.NextSteps {
			if _, ok := names[next]; !ok {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %q references non-existent step %q", st.Name, next).WithStep(st.Name)
			}
			if next == st.Name {
				return schema.NewErrorf(schema.ErrCodeCycleDetected,
					"step %q links to itself", st.Name).WithStep(st.Name)
			}
			if _, dup := seen[next]; dup {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %q has duplicate edge to %q", st.Name, next).WithStep(st.Name)
			}
			seen[next] = struct{}{}
		}
		if st.Service.MinVersion != nil && st.Service.MaxVersion != nil &&
			*st.Service.MinVersion > *st.Service.MaxVersion {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"step %q has inverted version range", st.Name).WithStep(st.Name)
		}
		if st.Timeout != "" {
			if _, err := time.ParseDuration(st.Timeout); err != nil {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %q has invalid timeout %q", st.Name, st.Timeout).WithStep(st.Name)
			}
		}
	}

	if def.Timeout != "" {
		if _, err := time.ParseDuration(def.Timeout); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"plan %q has invalid timeout %q", def.Name, def.Timeout)
		}
	}
	return nil
}

// validateDAG runs Kahn's algorithm over the edge set. A plan is rejected if
// its edges form a cycle or if any step is unreachable from the first step.
func validateDAG(def *schema.PlanDefinition) error {
	next := make(map[string][]string, len(def.Steps))
	inDegree := make(map[string]int, len(def.Steps))
	for _, st := range def.Steps {
		next[st.Name] = st.NextSteps
		if _, ok := inDegree[st.Name]; !ok {
			inDegree[st.Name] = 0
		}
		for _, n := range st.NextSteps {
			inDegree[n]++
		}
	}

	queue := make([]string, 0, len(inDegree))
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
		for _, n := range next[node] {
			inDegree[n]--
			if inDegree[n] == 0 {
				queue = append(queue, n)
			}
		}
	}
	if visited != len(def.Steps) {
		return schema.NewErrorf(schema.ErrCodeCycleDetected, "plan %q contains a cycle", def.Name)
	}

	// Reachability from the first step.
	reached := make(map[string]struct{}, len(def.Steps))
	stack := []string{def.FirstStep}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := reached[node]; ok {
			continue
		}
		reached[node] = struct{}{}
		stack = append(stack, next[node]...)
	}
	for _, st := range def.Steps {
		if _, ok := reached[st.Name]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"step %q is unreachable from first step %q", st.Name, def.FirstStep).WithStep(st.Name)
		}
	}
	return nil
}

// toJSONValue round-trips v through encoding/json so the schema validator
// sees plain maps and json.Number values.
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
}
