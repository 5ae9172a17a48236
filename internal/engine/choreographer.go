package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgefleet/choreo/internal/logging"
	"github.com/edgefleet/choreo/internal/metrics"
	"github.com/edgefleet/choreo/internal/store"
	"github.com/edgefleet/choreo/pkg/schema"
)

// Config holds engine-level defaults. Plans may override retry and timeout
// per definition; these apply where a plan is silent.
type Config struct {
	MaxAttempts    int
	StepTimeout    time.Duration
	SessionTimeout time.Duration
	PollInterval   time.Duration
	PoolSize       int
}

// DefaultConfig returns the engine defaults used when no configuration is
// supplied.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		StepTimeout:    60 * time.Second,
		SessionTimeout: 10 * time.Minute,
		PollInterval:   2 * time.Second,
		PoolSize:       10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = d.StepTimeout
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PoolSize <= 0 {
		c.PoolSize = d.PoolSize
	}
	return c
}

// stopReason distinguishes why a session loop's context was cancelled.
type stopReason int

const (
	stopDeadline stopReason = iota // session timeout elapsed
	stopAbort                      // explicit abort request
	stopShutdown                   // process shutdown; session stays RUNNING for recovery
)

// sessionRun is the in-process handle for one running session loop.
type sessionRun struct {
	sess   *store.Session
	graph  *PlanGraph
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	reason stopReason
}

func (r *sessionRun) stop(reason stopReason) {
	r.mu.Lock()
	r.reason = reason
	r.mu.Unlock()
	r.cancel()
}

func (r *sessionRun) stopReason() stopReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// stopReasonKey carries the session's stop-reason getter in the scheduling
// context, so the dispatcher can tell a shutdown apart from an abort or a
// deadline when its context dies mid-call.
type stopReasonKey struct{}

func stoppedForShutdown(ctx context.Context) bool {
	getter, ok := ctx.Value(stopReasonKey{}).(func() stopReason)
	return ok && getter() == stopShutdown
}

// stepOutcome travels from a dispatch goroutine back to its session loop.
type stepOutcome struct {
	step    string
	outcome DispatchOutcome
}

// Choreographer drives sessions to completion: it resolves ready steps against
// the plan graph and persisted attempt records, dispatches them through the
// bounded pool, and settles each session into a terminal status. Each session
// is owned by exactly one scheduling goroutine; sessions interact only through
// the executor registry.
type Choreographer struct {
	store      store.Store
	registry   *ExecutorRegistry
	dispatcher *Dispatcher
	sm         *StateMachine
	worklog    *store.Worklog
	metrics    *metrics.Metrics
	logger     *slog.Logger
	pool       *dispatchPool
	cfg        Config

	mu      sync.Mutex
	running map[string]*sessionRun
	closed  bool
	wg      sync.WaitGroup
}

// New assembles a Choreographer and its dispatch pool.
func New(s store.Store, registry *ExecutorRegistry, dispatcher *Dispatcher, sm *StateMachine,
	worklog *store.Worklog, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Choreographer {
	cfg = cfg.withDefaults()
	return &Choreographer{
		store:      s,
		registry:   registry,
		dispatcher: dispatcher,
		sm:         sm,
		worklog:    worklog,
		metrics:    m,
		logger:     logger,
		pool:       newDispatchPool(cfg.PoolSize),
		cfg:        cfg,
		running:    make(map[string]*sessionRun),
	}
}

// StartSession creates a new RUNNING session for the plan and launches its
// scheduling loop. The session record is persisted before the loop starts, so
// a crash immediately after returns a recoverable session.
func (c *Choreographer) StartSession(ctx context.Context, planID string) (*store.Session, error) {
	plan, err := c.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	steps, err := c.store.ListSteps(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	g, err := BuildGraph(plan, steps)
	if err != nil {
		return nil, err
	}

	sess := &store.Session{
		ID:        uuid.NewString(),
		PlanID:    plan.ID,
		Status:    schema.SessionStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := c.store.CreateSession(ctx, sess); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create session: %s", err.Error()).WithCause(err)
	}

	c.metrics.SessionsStarted.Inc()
	c.logger.InfoContext(logging.WithSessionID(ctx, sess.ID), "session started",
		slog.String("plan", plan.Name))

	if err := c.launch(sess, g); err != nil {
		return nil, err
	}
	return sess, nil
}

// AbortSession cancels a running session. In-flight steps are aborted,
// best-effort cancellations are sent to their executors, and the session ends
// ABORTED. It blocks until the session loop has settled or ctx expires.
func (c *Choreographer) AbortSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	run, ok := c.running[sessionID]
	c.mu.Unlock()

	if !ok {
		// Not owned by this process: a session left RUNNING by a crash can
		// still be aborted directly against the store.
		return c.abortDetached(ctx, sessionID)
	}

	run.stop(stopAbort)
	select {
	case <-run.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// The abort may have raced a natural completion; report what actually won.
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != schema.SessionStatusAborted {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"session %s already ended with status %s", sessionID, sess.Status)
	}
	return nil
}

// abortDetached settles a session that has no in-process scheduling loop.
func (c *Choreographer) abortDetached(ctx context.Context, sessionID string) error {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"session %s already ended with status %s", sessionID, sess.Status)
	}

	records, err := c.store.ListSessionSteps(ctx, sessionID)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "list session steps: %s", err.Error()).WithCause(err)
	}
	for _, rec := range records {
		if rec.Status == schema.StepStatusWaiting || rec.Status == schema.StepStatusRunning {
			if terr := c.sm.TransitionStep(ctx, rec, schema.StepStatusAborted, "session aborted"); terr != nil {
				c.logger.WarnContext(ctx, "failed to abort orphaned step",
					slog.String("session_id", sessionID),
					slog.String("step", rec.StepName),
					slog.String("error", terr.Error()),
				)
			}
		}
	}
	return c.sm.TransitionSession(ctx, sess, schema.SessionStatusAborted)
}

// Recover resumes sessions left RUNNING by a previous process. Attempts left
// WAITING or RUNNING are orphans whose outcome is unknown; they are marked
// FAILED and count against the retry budget, then the scheduling loop resumes
// from the persisted records.
func (c *Choreographer) Recover(ctx context.Context) error {
	sessions, err := c.store.ListSessionsByStatus(ctx, schema.SessionStatusRunning)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "list running sessions: %s", err.Error()).WithCause(err)
	}

	for _, sess := range sessions {
		sctx := logging.WithSessionID(ctx, sess.ID)

		plan, err := c.store.GetPlan(ctx, sess.PlanID)
		if err != nil {
			c.logger.ErrorContext(sctx, "recovery: plan lookup failed", slog.String("error", err.Error()))
			c.settleUnrecoverable(ctx, sess, "plan no longer loadable", err)
			continue
		}
		steps, err := c.store.ListSteps(ctx, plan.ID)
		if err != nil {
			c.logger.ErrorContext(sctx, "recovery: step lookup failed", slog.String("error", err.Error()))
			c.settleUnrecoverable(ctx, sess, "plan steps no longer loadable", err)
			continue
		}
		g, err := BuildGraph(plan, steps)
		if err != nil {
			c.logger.ErrorContext(sctx, "recovery: invalid persisted plan", slog.String("error", err.Error()))
			c.settleUnrecoverable(ctx, sess, "persisted plan failed graph validation", err)
			continue
		}

		records, err := c.store.ListSessionSteps(ctx, sess.ID)
		if err != nil {
			c.logger.ErrorContext(sctx, "recovery: session step lookup failed", slog.String("error", err.Error()))
			continue
		}
		orphans := 0
		for _, rec := range records {
			if rec.Status == schema.StepStatusWaiting || rec.Status == schema.StepStatusRunning {
				if terr := c.sm.TransitionStep(ctx, rec, schema.StepStatusFailed, "orphaned by restart"); terr != nil {
					c.logger.WarnContext(sctx, "recovery: failed to settle orphaned attempt",
						slog.String("step", rec.StepName),
						slog.String("error", terr.Error()),
					)
					continue
				}
				orphans++
			}
		}

		c.worklog.Record(sctx, store.WorklogEntry{
			PlanName:  plan.Name,
			SessionID: sess.ID,
			Message:   "session resumed after restart",
		}, nil)
		c.logger.InfoContext(sctx, "session recovered",
			slog.String("plan", plan.Name),
			slog.Int("orphaned_attempts", orphans),
		)

		if err := c.launch(sess, g); err != nil {
			return err
		}
	}
	return nil
}

// settleUnrecoverable ends a recovered session as ERROR when its plan can no
// longer be resolved into a runnable graph.
func (c *Choreographer) settleUnrecoverable(ctx context.Context, sess *store.Session, msg string, cause error) {
	c.worklog.Record(logging.WithSessionID(ctx, sess.ID), store.WorklogEntry{
		SessionID: sess.ID,
		Message:   msg,
	}, cause)
	if err := c.sm.TransitionSession(ctx, sess, schema.SessionStatusError); err != nil {
		c.logger.ErrorContext(ctx, "failed to settle unrecoverable session",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Shutdown stops all session loops without settling their sessions: records
// stay RUNNING in the store and are picked up by Recover on the next start.
// It then drains the dispatch pool.
func (c *Choreographer) Shutdown() {
	c.mu.Lock()
	c.closed = true
	runs := make([]*sessionRun, 0, len(c.running))
	for _, run := range c.running {
		runs = append(runs, run)
	}
	c.mu.Unlock()

	for _, run := range runs {
		run.stop(stopShutdown)
	}
	c.wg.Wait()
	c.pool.Shutdown()
	c.logger.Info("choreographer stopped", slog.Int("sessions_suspended", len(runs)))
}

// Running reports whether the session has an active in-process loop.
func (c *Choreographer) Running(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[sessionID]
	return ok
}

func (c *Choreographer) launch(sess *store.Session, g *PlanGraph) error {
	timeout := c.cfg.SessionTimeout
	if g.Plan.Timeout != "" {
		if dur, err := time.ParseDuration(g.Plan.Timeout); err == nil && dur > 0 {
			timeout = dur
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = logging.WithSessionID(ctx, sess.ID)

	run := &sessionRun{
		sess:   sess,
		graph:  g,
		cancel: cancel,
		done:   make(chan struct{}),
		reason: stopDeadline,
	}
	ctx = context.WithValue(ctx, stopReasonKey{}, run.stopReason)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return schema.NewError(schema.ErrCodeCancelled, "choreographer is shut down")
	}
	c.running[sess.ID] = run
	c.wg.Add(1)
	c.mu.Unlock()

	c.metrics.ActiveSessions.Inc()
	go c.runSession(ctx, run)
	return nil
}

// runSession is the scheduling loop for one session. Each iteration reloads
// the attempt records, computes the ready set, dispatches what it can, then
// blocks on the next completion. The loop is the sole writer for its session.
func (c *Choreographer) runSession(ctx context.Context, run *sessionRun) {
	defer func() {
		run.cancel()
		c.mu.Lock()
		delete(c.running, run.sess.ID)
		c.mu.Unlock()
		c.metrics.ActiveSessions.Dec()
		close(run.done)
		c.wg.Done()
	}()

	g := run.graph
	maxAttempts := c.cfg.MaxAttempts
	retry := g.Plan.Retry
	if retry != nil && retry.MaxAttempts > 0 {
		maxAttempts = retry.MaxAttempts
	}

	completions := make(chan stepOutcome, len(g.Reachable)+1)
	inflight := make(map[string]struct{})

	for {
		if ctx.Err() != nil {
			c.settleCancelled(ctx, run, inflight, completions)
			return
		}

		records, err := c.store.ListSessionSteps(ctx, run.sess.ID)
		if err != nil {
			c.worklog.Record(ctx, store.WorklogEntry{
				SessionID: run.sess.ID,
				Message:   "scheduling tick aborted: cannot load step records",
			}, err)
			if !c.sleepPoll(ctx) {
				c.settleCancelled(ctx, run, inflight, completions)
				return
			}
			continue
		}
		latest := LatestAttempts(records)

		ready := make([]string, 0, len(g.Reachable))
		for _, name := range ReadySteps(g, latest, maxAttempts) {
			if _, busy := inflight[name]; !busy {
				ready = append(ready, name)
			}
		}

		if len(ready) == 0 && len(inflight) == 0 {
			c.settleQuiescent(ctx, run, latest)
			return
		}

		for _, name := range ready {
			attempt := 1
			var delay time.Duration
			if rec := latest[name]; rec != nil {
				attempt = rec.Attempt + 1
				delay = ComputeBackoff(retry, rec.Attempt)
			}
			err := c.pool.Submit(ctx, func() {
				if werr := WaitForBackoff(ctx, delay); werr != nil {
					completions <- stepOutcome{step: name, outcome: OutcomeAborted}
					return
				}
				completions <- stepOutcome{
					step:    name,
					outcome: c.dispatcher.Dispatch(ctx, g, run.sess, name, attempt),
				}
			})
			if err != nil {
				// Cancelled while waiting for a slot, or pool shut down.
				break
			}
			inflight[name] = struct{}{}
		}

		if len(inflight) == 0 {
			// Everything ready was starved of executors or pool slots.
			if !c.sleepPoll(ctx) {
				c.settleCancelled(ctx, run, inflight, completions)
				return
			}
			continue
		}

		starvedOnly := true
		select {
		case out := <-completions:
			delete(inflight, out.step)
			starvedOnly = out.outcome == OutcomeNoExecutor || out.outcome == OutcomeInternal
		drain:
			for {
				select {
				case out := <-completions:
					delete(inflight, out.step)
					if out.outcome != OutcomeNoExecutor && out.outcome != OutcomeInternal {
						starvedOnly = false
					}
				default:
					break drain
				}
			}
		case <-ctx.Done():
			c.settleCancelled(ctx, run, inflight, completions)
			return
		}

		// When nothing made progress (no executor available, transient store
		// trouble), pause before re-resolving instead of spinning.
		if starvedOnly && len(inflight) == 0 {
			if !c.sleepPoll(ctx) {
				c.settleCancelled(ctx, run, inflight, completions)
				return
			}
		}
	}
}

// settleQuiescent ends a session that has no ready steps and nothing in
// flight: DONE if every reachable step succeeded, ERROR otherwise.
func (c *Choreographer) settleQuiescent(ctx context.Context, run *sessionRun, latest map[string]*store.SessionStep) {
	status := EvaluateTerminal(run.graph, latest)
	if status == schema.SessionStatusError {
		c.worklog.Record(ctx, store.WorklogEntry{
			PlanName:  run.graph.Plan.Name,
			SessionID: run.sess.ID,
			Message:   "session ended with unfinished steps",
		}, nil)
	}
	c.finishSession(ctx, run, status)
}

// settleCancelled drains in-flight dispatches, aborts any lingering live
// attempt records, and ends the session according to why it was cancelled.
// On shutdown the session is left RUNNING for recovery.
func (c *Choreographer) settleCancelled(ctx context.Context, run *sessionRun, inflight map[string]struct{}, completions chan stepOutcome) {
	// Dispatch goroutines observe the cancelled context and settle their own
	// attempt records; wait for all of them.
	for len(inflight) > 0 {
		out := <-completions
		delete(inflight, out.step)
	}

	reason := run.stopReason()
	if reason == stopShutdown {
		c.logger.InfoContext(ctx, "session suspended for shutdown", slog.String("session_id", run.sess.ID))
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	// Safety net for records a dispatch goroutine could not settle.
	if records, err := c.store.ListSessionSteps(pctx, run.sess.ID); err == nil {
		for _, rec := range records {
			if rec.Status == schema.StepStatusWaiting || rec.Status == schema.StepStatusRunning {
				if terr := c.sm.TransitionStep(pctx, rec, schema.StepStatusAborted, "session cancelled"); terr != nil {
					c.logger.WarnContext(ctx, "failed to abort lingering attempt",
						slog.String("step", rec.StepName),
						slog.String("error", terr.Error()),
					)
				}
			}
		}
	}

	switch reason {
	case stopAbort:
		c.finishSession(pctx, run, schema.SessionStatusAborted)
	default: // stopDeadline
		c.worklog.Record(pctx, store.WorklogEntry{
			PlanName:  run.graph.Plan.Name,
			SessionID: run.sess.ID,
			Message:   "session deadline exceeded",
		}, context.DeadlineExceeded)
		c.finishSession(pctx, run, schema.SessionStatusError)
	}
}

func (c *Choreographer) finishSession(ctx context.Context, run *sessionRun, status schema.SessionStatus) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := c.sm.TransitionSession(pctx, run.sess, status); err != nil {
		c.logger.ErrorContext(ctx, "failed to persist terminal session status",
			slog.String("session_id", run.sess.ID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		return
	}
	c.metrics.SessionsFinished.WithLabelValues(string(status)).Inc()
	c.logger.InfoContext(ctx, "session finished",
		slog.String("session_id", run.sess.ID),
		slog.String("plan", run.graph.Plan.Name),
		slog.String("status", string(status)),
	)
}

// sleepPoll pauses for the poll interval; it returns false if the session
// context was cancelled during the wait.
func (c *Choreographer) sleepPoll(ctx context.Context) bool {
	select {
	case <-time.After(c.cfg.PollInterval):
		return true
	case <-ctx.Done():
		return false
	}
}
