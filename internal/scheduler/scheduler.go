package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/edgefleet/choreo/internal/store"
)

// SessionStarter is the interface the scheduler uses to launch sessions.
// Satisfied by the choreographer (avoids an import cycle).
type SessionStarter interface {
	StartSession(ctx context.Context, planID string) (*store.Session, error)
}

// Scheduler polls the store for plans whose cron schedule is due and starts a
// session for each. Session completion is the choreographer's business; the
// scheduler only records whether the launch itself succeeded.
type Scheduler struct {
	store   store.Store
	starter SessionStarter
	parser  cron.Parser
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // plan IDs currently being launched (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, starter SessionStarter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		starter:  starter,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all scheduled plans and launches sessions for those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		s.logger.Error("failed to list plans", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, plan := range plans {
		if plan.Schedule == "" {
			continue
		}
		if plan.NextRunAt == nil || !plan.NextRunAt.After(now) {
			if !s.tryAcquire(plan.ID) {
				continue // launch already in progress (dedup)
			}
			if err := s.launchPlan(ctx, plan, now); err != nil {
				s.logger.Error("failed to launch scheduled plan",
					slog.String("plan", plan.Name),
					slog.String("error", err.Error()),
				)
			}
			s.release(plan.ID)
		}
	}
}

// launchPlan starts a session for a due plan and updates its schedule bookkeeping.
func (s *Scheduler) launchPlan(ctx context.Context, plan *store.Plan, now time.Time) error {
	s.logger.Info("launching scheduled plan",
		slog.String("plan", plan.Name),
		slog.String("schedule", plan.Schedule),
	)

	sess, err := s.starter.StartSession(ctx, plan.ID)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled session launch failed",
			slog.String("plan", plan.Name),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("scheduled session started",
			slog.String("plan", plan.Name),
			slog.String("session_id", sess.ID),
		)
	}

	return s.updateSchedule(ctx, plan, now, status)
}

func (s *Scheduler) updateSchedule(ctx context.Context, plan *store.Plan, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(plan.Schedule, now)
	if err != nil {
		return fmt.Errorf("calculate next run for plan %q: %w", plan.Name, err)
	}

	return s.store.UpdatePlanSchedule(ctx, plan.ID, store.PlanScheduleUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the plan as in-flight if it is not already launching.
func (s *Scheduler) tryAcquire(planID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[planID]; ok {
		return false
	}
	s.inflight[planID] = struct{}{}
	return true
}

// release removes the plan from the in-flight set.
func (s *Scheduler) release(planID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, planID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed launches one session for each scheduled plan whose next_run_at
// passed while the process was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return fmt.Errorf("list plans: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, plan := range plans {
		if plan.Schedule == "" {
			continue
		}
		if plan.NextRunAt != nil && plan.NextRunAt.Before(now) {
			if !s.tryAcquire(plan.ID) {
				continue
			}
			if err := s.launchPlan(ctx, plan, now); err != nil {
				s.logger.Error("failed to recover missed plan",
					slog.String("plan", plan.Name),
					slog.String("error", err.Error()),
				)
				s.release(plan.ID)
				continue
			}
			s.release(plan.ID)
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovered missed schedules", slog.Int("count", recovered))
	}
	return nil
}
