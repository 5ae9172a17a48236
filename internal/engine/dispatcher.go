package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/edgefleet/choreo/internal/logging"
	"github.com/edgefleet/choreo/internal/metrics"
	"github.com/edgefleet/choreo/internal/remote"
	"github.com/edgefleet/choreo/internal/store"
	"github.com/edgefleet/choreo/pkg/schema"
)

// DispatchOutcome summarizes one dispatch attempt for the scheduling loop.
type DispatchOutcome int

const (
	// OutcomeSuccess: the executor reported success; the attempt is SUCCESS.
	OutcomeSuccess DispatchOutcome = iota
	// OutcomeFailed: the executor reported failure or the call timed out; the
	// attempt is FAILED and counts against the retry budget.
	OutcomeFailed
	// OutcomeNoExecutor: no eligible executor; no attempt record was created
	// and the step stays waiting for the next scheduling tick.
	OutcomeNoExecutor
	// OutcomeAborted: the session was cancelled mid-dispatch; the attempt is
	// ABORTED.
	OutcomeAborted
	// OutcomeInternal: a persistence failure aborted this tick for the step;
	// the next tick retries resolution.
	OutcomeInternal
)

// Dispatcher executes one ready step at a time: it reserves an executor,
// records the attempt, performs the remote call, and feeds the result back
// through the state machine. Dispatches run concurrently and share no state
// beyond the registry and the state machine.
type Dispatcher struct {
	registry *ExecutorRegistry
	sm       *StateMachine
	client   remote.Client
	worklog  *store.Worklog
	metrics  *metrics.Metrics
	logger   *slog.Logger

	defaultStepTimeout time.Duration
}

// NewDispatcher wires a Dispatcher from its collaborators.
func NewDispatcher(registry *ExecutorRegistry, sm *StateMachine, client remote.Client,
	worklog *store.Worklog, m *metrics.Metrics, logger *slog.Logger, stepTimeout time.Duration) *Dispatcher {
	if stepTimeout <= 0 {
		stepTimeout = 60 * time.Second
	}
	return &Dispatcher{
		registry:           registry,
		sm:                 sm,
		client:             client,
		worklog:            worklog,
		metrics:            m,
		logger:             logger,
		defaultStepTimeout: stepTimeout,
	}
}

// Dispatch runs one attempt of one step. ctx is the session's scheduling
// context; its cancellation aborts the attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, g *PlanGraph, sess *store.Session, stepName string, attempt int) DispatchOutcome {
	ctx = logging.WithSessionID(ctx, sess.ID)
	ctx = logging.WithStepName(ctx, stepName)

	step := g.Steps[stepName]

	exec, err := d.registry.Acquire(step.Service)
	if err != nil {
		d.metrics.AcquireFailures.Inc()
		d.logger.DebugContext(ctx, "no eligible executor",
			slog.String("service", step.Service.Service))
		return OutcomeNoExecutor
	}
	defer d.registry.Release(exec.ID)

	ctx = logging.WithExecutorID(ctx, exec.ID)

	ss := &store.SessionStep{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		StepName:   stepName,
		Attempt:    attempt,
		ExecutorID: exec.ID,
	}
	if err := d.sm.CreateAttempt(ctx, ss); err != nil {
		d.worklog.Record(ctx, store.WorklogEntry{
			SessionID: sess.ID,
			StepName:  stepName,
			Message:   "failed to persist step attempt",
		}, err)
		return OutcomeInternal
	}

	d.metrics.StepsDispatched.Inc()
	if attempt > 1 {
		d.metrics.StepRetries.Inc()
	}
	d.metrics.DispatchInFlight.Inc()
	defer d.metrics.DispatchInFlight.Dec()

	if err := d.sm.TransitionStep(ctx, ss, schema.StepStatusRunning, ""); err != nil {
		d.failAttemptQuietly(ctx, ss, "failed to persist running state")
		return OutcomeInternal
	}

	d.logger.InfoContext(ctx, "step dispatched", slog.Int("attempt", attempt))

	stepTimeout := d.defaultStepTimeout
	if step.Timeout != "" {
		if dur, parseErr := time.ParseDuration(step.Timeout); parseErr == nil && dur > 0 {
			stepTimeout = dur
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	baseURL := remote.BaseURL(exec.Address, exec.Port, exec.BaseURI)
	resp, execErr := d.client.Execute(callCtx, baseURL, &remote.ExecutionRequest{
		SessionID:     sess.ID,
		SessionStepID: ss.ID,
		Step:          stepName,
		Service:       step.Service,
		Params:        step.Params,
	})

	// Session cancellation takes precedence over the call result: the attempt
	// is ABORTED and a best-effort cancellation is sent to the executor. Any
	// late response is discarded. On process shutdown the record stays RUNNING
	// so restart recovery treats it as an orphan and retries it.
	if ctx.Err() != nil {
		if stoppedForShutdown(ctx) {
			return OutcomeAborted
		}
		d.abortAttempt(ctx, ss, baseURL)
		return OutcomeAborted
	}

	if execErr != nil {
		if err := d.sm.TransitionStep(ctx, ss, schema.StepStatusFailed, execErr.Error()); err != nil {
			d.worklog.Record(ctx, store.WorklogEntry{
				SessionID: sess.ID,
				StepName:  stepName,
				Message:   "failed to persist step failure",
			}, err)
			return OutcomeInternal
		}
		d.logger.WarnContext(ctx, "step attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", execErr.Error()),
		)
		return OutcomeFailed
	}

	if resp.Status != remote.StatusSuccess {
		if err := d.sm.TransitionStep(ctx, ss, schema.StepStatusFailed, resp.Message); err != nil {
			return OutcomeInternal
		}
		d.logger.WarnContext(ctx, "executor reported failure",
			slog.Int("attempt", attempt),
			slog.String("message", resp.Message),
		)
		return OutcomeFailed
	}

	if err := d.sm.TransitionStep(ctx, ss, schema.StepStatusSuccess, resp.Message); err != nil {
		return OutcomeInternal
	}
	d.logger.InfoContext(ctx, "step succeeded", slog.Int("attempt", attempt))
	return OutcomeSuccess
}

// abortAttempt marks the attempt ABORTED and sends a best-effort cancellation
// to the executor. Persistence uses a detached context because the session
// context is already cancelled.
func (d *Dispatcher) abortAttempt(ctx context.Context, ss *store.SessionStep, baseURL string) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := d.sm.TransitionStep(pctx, ss, schema.StepStatusAborted, "session cancelled"); err != nil {
		d.worklog.Record(ctx, store.WorklogEntry{
			SessionID: ss.SessionID,
			StepName:  ss.StepName,
			Message:   "failed to persist step abort",
		}, err)
	}

	if err := d.client.Abort(pctx, baseURL, &remote.AbortRequest{
		SessionID:     ss.SessionID,
		SessionStepID: ss.ID,
	}); err != nil {
		// Executors without cancellation support simply won't honor this.
		d.logger.DebugContext(ctx, "executor abort request failed", slog.String("error", err.Error()))
	}
}

// failAttemptQuietly moves a WAITING attempt to FAILED after an internal
// error, logging rather than propagating any further store failure.
func (d *Dispatcher) failAttemptQuietly(ctx context.Context, ss *store.SessionStep, reason string) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.sm.TransitionStep(pctx, ss, schema.StepStatusFailed, reason); err != nil {
		d.worklog.Record(ctx, store.WorklogEntry{
			SessionID: ss.SessionID,
			StepName:  ss.StepName,
			Message:   reason,
		}, err)
	}
}
