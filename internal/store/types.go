package store

import (
	"time"

	"github.com/edgefleet/choreo/pkg/schema"
)

// Plan is a persisted workflow definition: a named DAG of steps anchored at a
// first step. Plans are immutable once a session references them.
type Plan struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	FirstStep     string              `json:"first_step"`
	Schedule      string              `json:"schedule,omitempty"` // cron expression, empty = manual only
	Timeout       string              `json:"timeout,omitempty"`
	Retry         *schema.RetryPolicy `json:"retry,omitempty"`
	LastRunAt     *time.Time          `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time          `json:"next_run_at,omitempty"`
	LastRunStatus string              `json:"last_run_status,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Step belongs to exactly one plan. Edges are stored as an adjacency list of
// successor step names, scoped to the owning plan.
type Step struct {
	ID        string            `json:"id"`
	PlanID    string            `json:"plan_id"`
	Name      string            `json:"name"`
	Service   schema.Capability `json:"service"`
	Params    map[string]string `json:"params,omitempty"`
	NextSteps []string          `json:"next_steps,omitempty"`
	Timeout   string            `json:"timeout,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Executor is a registered remote worker, unique by (address, port, base URI).
// Locked executors are administratively disabled and excluded from matching.
type Executor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Address   string    `json:"address"`
	Port      int       `json:"port"`
	BaseURI   string    `json:"base_uri"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutorCapability is one advertised (service, version range) pair.
type ExecutorCapability struct {
	ID         string `json:"id"`
	ExecutorID string `json:"executor_id"`
	Service    string `json:"service"`
	MinVersion *int   `json:"min_version,omitempty"`
	MaxVersion *int   `json:"max_version,omitempty"`
}

// Session is one execution instance of a plan.
type Session struct {
	ID        string               `json:"id"`
	PlanID    string               `json:"plan_id"`
	Status    schema.SessionStatus `json:"status"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   *time.Time           `json:"ended_at,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// SessionStep records one attempt to execute one step within one session.
// The (session, step, attempt) triple is unique; retries create new records.
type SessionStep struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	StepName   string            `json:"step_name"`
	Attempt    int               `json:"attempt"`
	ExecutorID string            `json:"executor_id,omitempty"`
	Status     schema.StepStatus `json:"status"`
	Message    string            `json:"message,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// WorklogEntry is an append-only diagnostic record of a scheduling decision or
// anomaly. It carries no relationships and is never read by the engine.
type WorklogEntry struct {
	ID        int64     `json:"id"`
	PlanName  string    `json:"plan_name,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	StepName  string    `json:"step_name,omitempty"`
	Message   string    `json:"message"`
	Exception string    `json:"exception,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// --- Filter and update types ---

// SessionUpdate specifies the mutable fields of a session.
type SessionUpdate struct {
	Status  *schema.SessionStatus `json:"status,omitempty"`
	EndedAt *time.Time            `json:"ended_at,omitempty"`
}

// SessionStepUpdate specifies the mutable fields of a session step record.
type SessionStepUpdate struct {
	Status     *schema.StepStatus `json:"status,omitempty"`
	Message    *string            `json:"message,omitempty"`
	ExecutorID *string            `json:"executor_id,omitempty"`
}

// PlanScheduleUpdate specifies the schedule bookkeeping fields of a plan.
type PlanScheduleUpdate struct {
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// WorklogFilter specifies criteria for listing worklog entries.
type WorklogFilter struct {
	PlanName  string     `json:"plan_name,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}
