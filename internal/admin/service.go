// Package admin is the management surface of the choreographer daemon: plan
// lifecycle, executor registration, and session control. It sits between
// callers and the store, enforcing validation and uniqueness before anything
// is persisted.
package admin

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/edgefleet/choreo/internal/diagram"
	"github.com/edgefleet/choreo/internal/store"
	"github.com/edgefleet/choreo/internal/validation"
	"github.com/edgefleet/choreo/pkg/schema"
)

// Engine is the subset of the choreographer the admin service drives.
type Engine interface {
	StartSession(ctx context.Context, planID string) (*store.Session, error)
	AbortSession(ctx context.Context, sessionID string) error
}

// Registry is the executor index the admin service refreshes after mutations.
type Registry interface {
	Refresh(ctx context.Context) error
	Reserved(executorID string) bool
}

// ExecutorRegistration carries the fields of an executor registration request.
type ExecutorRegistration struct {
	Name         string              `json:"name,omitempty"`
	Address      string              `json:"address"`
	Port         int                 `json:"port"`
	BaseURI      string              `json:"base_uri"`
	Capabilities []schema.Capability `json:"capabilities"`
}

// SessionView is a session together with its attempt records.
type SessionView struct {
	Session *store.Session       `json:"session"`
	Steps   []*store.SessionStep `json:"steps"`
}

// Service implements the admin operations.
type Service struct {
	store      store.Store
	validator  *validation.PlanValidator
	engine     Engine
	registry   Registry
	cronParser cron.Parser
	logger     *slog.Logger
}

// NewService wires the admin service.
func NewService(s store.Store, validator *validation.PlanValidator, engine Engine, registry Registry, logger *slog.Logger) *Service {
	return &Service{
		store:      s,
		validator:  validator,
		engine:     engine,
		registry:   registry,
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:     logger,
	}
}

// CreatePlan validates a definition, enforces name uniqueness, and persists
// the plan with its steps. Scheduled plans get their first next_run_at so the
// scheduler picks them up on its next tick.
func (s *Service) CreatePlan(ctx context.Context, def *schema.PlanDefinition) (*store.Plan, error) {
	if err := s.validator.Validate(def); err != nil {
		return nil, err
	}

	if existing, err := s.store.GetPlanByName(ctx, def.Name); err == nil && existing != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "plan %q already exists", def.Name)
	} else if err != nil && !schema.IsCode(err, schema.ErrCodeNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	plan := &store.Plan{
		ID:        uuid.NewString(),
		Name:      def.Name,
		FirstStep: def.FirstStep,
		Schedule:  def.Schedule,
		Timeout:   def.Timeout,
		Retry:     def.Retry,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if def.Schedule != "" {
		sched, err := s.cronParser.Parse(def.Schedule)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"plan %q has invalid schedule %q: %s", def.Name, def.Schedule, err.Error())
		}
		next := sched.Next(now)
		plan.NextRunAt = &next
	}

	steps := make([]*store.Step, 0, len(def.Steps))
	for _, sd := range def.Steps {
		steps = append(steps, &store.Step{
			ID:        uuid.NewString(),
			PlanID:    plan.ID,
			Name:      sd.Name,
			Service:   sd.Service,
			Params:    sd.Params,
			NextSteps: sd.NextSteps,
			Timeout:   sd.Timeout,
			CreatedAt: now,
		})
	}

	if err := s.store.CreatePlan(ctx, plan, steps); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "plan created",
		slog.String("plan", plan.Name),
		slog.Int("steps", len(steps)),
	)
	return plan, nil
}

// GetPlan returns a plan with its steps resolved.
func (s *Service) GetPlan(ctx context.Context, id string) (*store.Plan, []*store.Step, error) {
	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	steps, err := s.store.ListSteps(ctx, plan.ID)
	if err != nil {
		return nil, nil, err
	}
	return plan, steps, nil
}

// ListPlans returns all persisted plans.
func (s *Service) ListPlans(ctx context.Context) ([]*store.Plan, error) {
	return s.store.ListPlans(ctx)
}

// DeletePlan removes a plan and its steps. Plans referenced by any session,
// running or historical, cannot be deleted.
func (s *Service) DeletePlan(ctx context.Context, id string) error {
	count, err := s.store.CountSessionsByPlan(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"plan has %d sessions and cannot be deleted", count)
	}
	if err := s.store.DeletePlan(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "plan deleted", slog.String("plan_id", id))
	return nil
}

// RegisterExecutor creates or updates an executor keyed by (address, port,
// base URI), replacing its advertised capabilities, then refreshes the
// matching index.
func (s *Service) RegisterExecutor(ctx context.Context, reg ExecutorRegistration) (*store.Executor, error) {
	if err := validateRegistration(reg); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	exec := &store.Executor{
		Name:      reg.Name,
		Address:   reg.Address,
		Port:      reg.Port,
		BaseURI:   reg.BaseURI,
		UpdatedAt: now,
	}

	existing, err := s.store.FindExecutor(ctx, reg.Address, reg.Port, reg.BaseURI)
	switch {
	case err == nil:
		// Re-registration replaces the capability set, keeping the identity
		// and lock state.
		exec.ID = existing.ID
		exec.Locked = existing.Locked
		exec.CreatedAt = existing.CreatedAt
	case schema.IsCode(err, schema.ErrCodeNotFound):
		exec.ID = uuid.NewString()
		exec.CreatedAt = now
	default:
		return nil, err
	}

	caps := make([]*store.ExecutorCapability, 0, len(reg.Capabilities))
	for _, c := range reg.Capabilities {
		caps = append(caps, &store.ExecutorCapability{
			ID:         uuid.NewString(),
			ExecutorID: exec.ID,
			Service:    c.Service,
			MinVersion: c.MinVersion,
			MaxVersion: c.MaxVersion,
		})
	}

	if err := s.store.SaveExecutor(ctx, exec, caps); err != nil {
		return nil, err
	}
	if err := s.registry.Refresh(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "executor registered",
		slog.String("executor_id", exec.ID),
		slog.String("address", exec.Address),
		slog.Int("port", exec.Port),
		slog.Int("capabilities", len(caps)),
	)
	return exec, nil
}

// UnregisterExecutor removes an executor. Executors currently reserved by an
// in-flight dispatch cannot be removed; lock them first and retry once the
// dispatch settles.
func (s *Service) UnregisterExecutor(ctx context.Context, id string) error {
	if s.registry.Reserved(id) {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"executor %s has an in-flight dispatch", id)
	}
	if err := s.store.DeleteExecutor(ctx, id); err != nil {
		return err
	}
	if err := s.registry.Refresh(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "executor unregistered", slog.String("executor_id", id))
	return nil
}

// SetExecutorLock toggles an executor's administrative lock. Locked executors
// are excluded from capability matching; in-flight dispatches run to
// completion.
func (s *Service) SetExecutorLock(ctx context.Context, id string, locked bool) error {
	if err := s.store.SetExecutorLock(ctx, id, locked); err != nil {
		return err
	}
	if err := s.registry.Refresh(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "executor lock changed",
		slog.String("executor_id", id),
		slog.Bool("locked", locked),
	)
	return nil
}

// ListExecutors returns all registered executors.
func (s *Service) ListExecutors(ctx context.Context) ([]*store.Executor, error) {
	return s.store.ListExecutors(ctx)
}

// StartSession launches a session for the named plan.
func (s *Service) StartSession(ctx context.Context, planName string) (*store.Session, error) {
	plan, err := s.store.GetPlanByName(ctx, planName)
	if err != nil {
		return nil, err
	}
	return s.engine.StartSession(ctx, plan.ID)
}

// AbortSession cancels a running session.
func (s *Service) AbortSession(ctx context.Context, sessionID string) error {
	return s.engine.AbortSession(ctx, sessionID)
}

// SessionStatus returns a session with all of its attempt records.
func (s *Service) SessionStatus(ctx context.Context, sessionID string) (*SessionView, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListSessionSteps(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: sess, Steps: steps}, nil
}

// Worklog queries the append-only worklog.
func (s *Service) Worklog(ctx context.Context, filter store.WorklogFilter) ([]*store.WorklogEntry, error) {
	return s.store.ListWorklog(ctx, filter)
}

// PlanDiagram renders a plan's step graph as a Mermaid flowchart.
func (s *Service) PlanDiagram(ctx context.Context, planID string) (string, error) {
	plan, steps, err := s.GetPlan(ctx, planID)
	if err != nil {
		return "", err
	}
	return diagram.RenderPlan(plan, steps), nil
}

// SessionDiagram renders a session's plan graph with each step colored by the
// status of its latest attempt.
func (s *Service) SessionDiagram(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	plan, steps, err := s.GetPlan(ctx, sess.PlanID)
	if err != nil {
		return "", err
	}
	records, err := s.store.ListSessionSteps(ctx, sessionID)
	if err != nil {
		return "", err
	}
	latest := make(map[string]*store.SessionStep, len(records))
	for _, rec := range records {
		cur, ok := latest[rec.StepName]
		if !ok || rec.Attempt > cur.Attempt {
			latest[rec.StepName] = rec
		}
	}
	return diagram.RenderSession(plan, steps, latest), nil
}

func validateRegistration(reg ExecutorRegistration) error {
	if reg.Address == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor address is required")
	}
	if reg.Port <= 0 || reg.Port > 65535 {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid executor port %d", reg.Port)
	}
	if reg.BaseURI == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor base URI is required")
	}
	if len(reg.Capabilities) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "executor must advertise at least one capability")
	}
	for _, c := range reg.Capabilities {
		if c.Service == "" {
			return schema.NewError(schema.ErrCodeValidation, "capability service is required")
		}
		if c.MinVersion != nil && c.MaxVersion != nil && *c.MinVersion > *c.MaxVersion {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"capability %q has inverted version range", c.Service)
		}
	}
	return nil
}
