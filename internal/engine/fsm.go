package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgefleet/choreo/internal/store"
	"github.com/edgefleet/choreo/pkg/schema"
)

// ValidSessionTransitions defines the allowed lifecycle transitions for sessions.
var ValidSessionTransitions = map[schema.SessionStatus][]schema.SessionStatus{
	schema.SessionStatusRunning: {schema.SessionStatusDone, schema.SessionStatusError, schema.SessionStatusAborted},
	schema.SessionStatusDone:    {},
	schema.SessionStatusError:   {},
	schema.SessionStatusAborted: {},
}

// ValidStepTransitions defines the allowed transitions for one attempt record.
// A FAILED attempt is never reopened; a retry creates a new record.
// WAITING -> FAILED covers attempts that never reached the executor: a
// persistence error before dispatch, or an orphan found during crash recovery.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusWaiting: {schema.StepStatusRunning, schema.StepStatusFailed, schema.StepStatusAborted},
	schema.StepStatusRunning: {schema.StepStatusSuccess, schema.StepStatusFailed, schema.StepStatusAborted},
	schema.StepStatusFailed:  {schema.StepStatusAborted},
	schema.StepStatusSuccess: {},
	schema.StepStatusAborted: {},
}

// storeAttempts bounds the retry of persistence-gateway calls before the
// current scheduling tick gives up (per the storage error policy).
const storeAttempts = 3

// StateMachine is the single writer of session and session-step records.
// Every transition is persisted through the store before the in-memory record
// is updated (write-then-notify), so a crash between the two is recoverable
// by reloading session state and re-resolving.
type StateMachine struct {
	store  store.Store
	logger *slog.Logger
}

// NewStateMachine creates a StateMachine over the given persistence gateway.
func NewStateMachine(s store.Store, logger *slog.Logger) *StateMachine {
	return &StateMachine{store: s, logger: logger}
}

// TransitionSession validates and persists a session status change, then
// reflects it on the in-memory record.
func (m *StateMachine) TransitionSession(ctx context.Context, sess *store.Session, to schema.SessionStatus) error {
	if !allowedSession(sess.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid session transition: %s -> %s", sess.Status, to).
			WithDetails(map[string]any{"session_id": sess.ID})
	}

	update := store.SessionUpdate{Status: &to}
	var ended time.Time
	if to.Terminal() {
		ended = time.Now().UTC()
		update.EndedAt = &ended
	}

	if err := m.withStoreRetry(ctx, func(ctx context.Context) error {
		return m.store.UpdateSession(ctx, sess.ID, update)
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist session transition: %s", err.Error()).WithCause(err)
	}

	sess.Status = to
	if update.EndedAt != nil {
		sess.EndedAt = &ended
	}
	m.logger.InfoContext(ctx, "session transition",
		slog.String("session_id", sess.ID),
		slog.String("status", string(to)),
	)
	return nil
}

// TransitionStep validates and persists an attempt-record status change, then
// reflects it on the in-memory record. message replaces the record's message
// when non-empty.
func (m *StateMachine) TransitionStep(ctx context.Context, ss *store.SessionStep, to schema.StepStatus, message string) error {
	if !allowedStep(ss.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", ss.Status, to).
			WithStep(ss.StepName).
			WithDetails(map[string]any{"session_id": ss.SessionID, "attempt": ss.Attempt})
	}

	update := store.SessionStepUpdate{Status: &to}
	if message != "" {
		update.Message = &message
	}

	if err := m.withStoreRetry(ctx, func(ctx context.Context) error {
		return m.store.UpdateSessionStep(ctx, ss.ID, update)
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist step transition: %s", err.Error()).
			WithStep(ss.StepName).WithCause(err)
	}

	ss.Status = to
	if message != "" {
		ss.Message = message
	}
	ss.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateAttempt persists a new WAITING attempt record for a (session, step)
// pair. The caller owns attempt numbering.
func (m *StateMachine) CreateAttempt(ctx context.Context, ss *store.SessionStep) error {
	ss.Status = schema.StepStatusWaiting
	ss.StartedAt = time.Now().UTC()
	ss.UpdatedAt = ss.StartedAt

	if err := m.withStoreRetry(ctx, func(ctx context.Context) error {
		return m.store.CreateSessionStep(ctx, ss)
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist step attempt: %s", err.Error()).
			WithStep(ss.StepName).WithCause(err)
	}
	return nil
}

// withStoreRetry retries a gateway call a bounded number of times with a
// short pause. An exhausted retry surfaces the last error to the caller,
// which aborts the current scheduling tick.
func (m *StateMachine) withStoreRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < storeAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			return err
		}
		select {
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		case <-ctx.Done():
			return err
		}
	}
	return err
}

func allowedSession(from, to schema.SessionStatus) bool {
	for _, a := range ValidSessionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func allowedStep(from, to schema.StepStatus) bool {
	for _, a := range ValidStepTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
