package store

import (
	"context"

	"github.com/edgefleet/choreo/pkg/schema"
)

// Store defines the persistence gateway contract the engine consumes.
// All implementations must be safe for concurrent use.
type Store interface {
	// Plans (with steps)
	CreatePlan(ctx context.Context, plan *Plan, steps []*Step) error
	GetPlan(ctx context.Context, id string) (*Plan, error)
	GetPlanByName(ctx context.Context, name string) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)
	ListSteps(ctx context.Context, planID string) ([]*Step, error)
	DeletePlan(ctx context.Context, id string) error
	UpdatePlanSchedule(ctx context.Context, id string, update PlanScheduleUpdate) error

	// Executors (with capabilities)
	SaveExecutor(ctx context.Context, exec *Executor, caps []*ExecutorCapability) error
	GetExecutor(ctx context.Context, id string) (*Executor, error)
	FindExecutor(ctx context.Context, address string, port int, baseURI string) (*Executor, error)
	ListExecutors(ctx context.Context) ([]*Executor, error)
	ListCapabilities(ctx context.Context, executorID string) ([]*ExecutorCapability, error)
	SetExecutorLock(ctx context.Context, id string, locked bool) error
	DeleteExecutor(ctx context.Context, id string) error

	// Sessions
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, id string, update SessionUpdate) error
	ListSessionsByStatus(ctx context.Context, status schema.SessionStatus) ([]*Session, error)
	CountSessionsByPlan(ctx context.Context, planID string) (int, error)

	// Session steps
	CreateSessionStep(ctx context.Context, ss *SessionStep) error
	UpdateSessionStep(ctx context.Context, id string, update SessionStepUpdate) error
	ListSessionSteps(ctx context.Context, sessionID string) ([]*SessionStep, error)

	// Worklog (append-only)
	AppendWorklog(ctx context.Context, entry *WorklogEntry) error
	ListWorklog(ctx context.Context, filter WorklogFilter) ([]*WorklogEntry, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
