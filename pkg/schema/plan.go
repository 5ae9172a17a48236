package schema

// PlanDefinition is the declarative, serializable form of a plan: a DAG of
// steps anchored at a designated first step. Operators provide it as YAML or
// JSON through the administrative surface.
type PlanDefinition struct {
	Name      string            `json:"name" yaml:"name"`
	FirstStep string            `json:"first_step" yaml:"first_step"`
	Steps     []StepDefinition  `json:"steps" yaml:"steps"`
	Retry     *RetryPolicy      `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout   string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Schedule  string            `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// StepDefinition describes a single step: the capability it requires, its
// parameters, and its outgoing edges to successor steps.
type StepDefinition struct {
	Name      string            `json:"name" yaml:"name"`
	Service   Capability        `json:"service" yaml:"service"`
	Params    map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	NextSteps []string          `json:"next_steps,omitempty" yaml:"next_steps,omitempty"`
	Timeout   string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Capability identifies a service an executor can satisfy, with an optional
// inclusive version range. A nil bound is unbounded on that side.
type Capability struct {
	Service    string `json:"service" yaml:"service"`
	MinVersion *int   `json:"min_version,omitempty" yaml:"min_version,omitempty"`
	MaxVersion *int   `json:"max_version,omitempty" yaml:"max_version,omitempty"`
}

// RetryPolicy bounds and paces step retries within a session.
type RetryPolicy struct {
	MaxAttempts int    `json:"max_attempts" yaml:"max_attempts"`
	Backoff     string `json:"backoff,omitempty" yaml:"backoff,omitempty"` // none | constant | linear | exponential
	Delay       string `json:"delay,omitempty" yaml:"delay,omitempty"`
	MaxDelay    string `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}
