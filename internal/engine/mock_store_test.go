package engine

import (
	"context"
	"sync"
	"time"

	"github.com/edgefleet/choreo/internal/store"
	"github.com/edgefleet/choreo/pkg/schema"
)

// mockStore is a thread-safe in-memory store.Store for engine tests.
// Unimplemented methods panic through the embedded nil interface.
type mockStore struct {
	store.Store

	mu           sync.Mutex
	plans        map[string]*store.Plan
	steps        map[string][]*store.Step // plan ID → steps
	executors    map[string]*store.Executor
	caps         map[string][]*store.ExecutorCapability // executor ID → caps
	sessions     map[string]*store.Session
	sessionSteps map[string]*store.SessionStep // record ID → record
	worklog      []*store.WorklogEntry

	failUpdateStep    int // fail the next N UpdateSessionStep calls
	failCreateStep    int // fail the next N CreateSessionStep calls
	failListSteps     int // fail the next N ListSessionSteps calls
	failUpdateSession int // fail the next N UpdateSession calls
}

func newMockStore() *mockStore {
	return &mockStore{
		plans:        make(map[string]*store.Plan),
		steps:        make(map[string][]*store.Step),
		executors:    make(map[string]*store.Executor),
		caps:         make(map[string][]*store.ExecutorCapability),
		sessions:     make(map[string]*store.Session),
		sessionSteps: make(map[string]*store.SessionStep),
	}
}

func (m *mockStore) addPlan(plan *store.Plan, steps []*store.Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = plan
	m.steps[plan.ID] = steps
}

func (m *mockStore) addExecutor(exec *store.Executor, caps []*store.ExecutorCapability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executors[exec.ID] = exec
	m.caps[exec.ID] = caps
}

func (m *mockStore) GetPlan(_ context.Context, id string) (*store.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "plan %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) ListSteps(_ context.Context, planID string) ([]*store.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.Step(nil), m.steps[planID]...), nil
}

func (m *mockStore) ListExecutors(_ context.Context) ([]*store.Executor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Executor, 0, len(m.executors))
	for _, e := range m.executors {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) ListCapabilities(_ context.Context, executorID string) ([]*store.ExecutorCapability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.ExecutorCapability(nil), m.caps[executorID]...), nil
}

func (m *mockStore) CreateSession(_ context.Context, sess *store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *mockStore) GetSession(_ context.Context, id string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (m *mockStore) UpdateSession(_ context.Context, id string, update store.SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdateSession > 0 {
		m.failUpdateSession--
		return schema.NewError(schema.ErrCodeStore, "injected session update failure")
	}
	s, ok := m.sessions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "session %s not found", id)
	}
	if update.Status != nil {
		s.Status = *update.Status
	}
	if update.EndedAt != nil {
		s.EndedAt = update.EndedAt
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockStore) ListSessionsByStatus(_ context.Context, status schema.SessionStatus) ([]*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Session
	for _, s := range m.sessions {
		if s.Status == status {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) CreateSessionStep(_ context.Context, ss *store.SessionStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateStep > 0 {
		m.failCreateStep--
		return schema.NewError(schema.ErrCodeStore, "injected create failure")
	}
	for _, existing := range m.sessionSteps {
		if existing.SessionID == ss.SessionID && existing.StepName == ss.StepName && existing.Attempt == ss.Attempt {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"attempt %d for step %q already recorded", ss.Attempt, ss.StepName)
		}
	}
	cp := *ss
	m.sessionSteps[ss.ID] = &cp
	return nil
}

func (m *mockStore) UpdateSessionStep(_ context.Context, id string, update store.SessionStepUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdateStep > 0 {
		m.failUpdateStep--
		return schema.NewError(schema.ErrCodeStore, "injected update failure")
	}
	ss, ok := m.sessionSteps[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "session step %s not found", id)
	}
	if update.Status != nil {
		ss.Status = *update.Status
	}
	if update.Message != nil {
		ss.Message = *update.Message
	}
	if update.ExecutorID != nil {
		ss.ExecutorID = *update.ExecutorID
	}
	ss.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockStore) ListSessionSteps(_ context.Context, sessionID string) ([]*store.SessionStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failListSteps > 0 {
		m.failListSteps--
		return nil, schema.NewError(schema.ErrCodeStore, "injected list failure")
	}
	var out []*store.SessionStep
	for _, ss := range m.sessionSteps {
		if ss.SessionID == sessionID {
			cp := *ss
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) AppendWorklog(_ context.Context, entry *store.WorklogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	cp.ID = int64(len(m.worklog) + 1)
	m.worklog = append(m.worklog, &cp)
	return nil
}

func (m *mockStore) ListWorklog(_ context.Context, _ store.WorklogFilter) ([]*store.WorklogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.WorklogEntry(nil), m.worklog...), nil
}

// recordsFor returns the session's attempt records, for assertions.
func (m *mockStore) recordsFor(sessionID string) []*store.SessionStep {
	out, _ := m.ListSessionSteps(context.Background(), sessionID)
	return out
}

// sessionStatus returns the persisted status, for assertions.
func (m *mockStore) sessionStatus(sessionID string) schema.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ""
	}
	return s.Status
}

// worklogMessages returns all recorded worklog messages, for assertions.
func (m *mockStore) worklogMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.worklog))
	for _, e := range m.worklog {
		out = append(out, e.Message)
	}
	return out
}
