package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/edgefleet/choreo/internal/store"
	"github.com/edgefleet/choreo/pkg/schema"
)

// ExecutorRegistry is the in-memory view of registered executors and their
// advertised capabilities. It is the only state shared across concurrent
// dispatches; Acquire and Release are atomic with respect to each other.
type ExecutorRegistry struct {
	store  store.Store
	logger *slog.Logger

	mu        sync.Mutex
	byService map[string][]*executorEntry
	byID      map[string]*executorEntry
	reserved  map[string]struct{} // executor IDs holding an exclusive reservation
}

type executorEntry struct {
	exec *store.Executor
	caps []*store.ExecutorCapability
}

// NewExecutorRegistry creates an empty registry. Call Refresh to populate it.
func NewExecutorRegistry(s store.Store, logger *slog.Logger) *ExecutorRegistry {
	return &ExecutorRegistry{
		store:     s,
		logger:    logger,
		byService: make(map[string][]*executorEntry),
		byID:      make(map[string]*executorEntry),
		reserved:  make(map[string]struct{}),
	}
}

// Refresh reloads the executor index from the persistence gateway.
// Reservations held by in-flight dispatches survive the reload.
func (r *ExecutorRegistry) Refresh(ctx context.Context) error {
	execs, err := r.store.ListExecutors(ctx)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "list executors: %s", err.Error()).WithCause(err)
	}

	byService := make(map[string][]*executorEntry)
	byID := make(map[string]*executorEntry, len(execs))
	for _, e := range execs {
		caps, err := r.store.ListCapabilities(ctx, e.ID)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "list capabilities: %s", err.Error()).WithCause(err)
		}
		entry := &executorEntry{exec: e, caps: caps}
		byID[e.ID] = entry
		for _, c := range caps {
			byService[c.Service] = append(byService[c.Service], entry)
		}
	}

	// Deterministic candidate order: lowest executor ID first.
	for svc := range byService {
		entries := byService[svc]
		sort.Slice(entries, func(i, j int) bool { return entries[i].exec.ID < entries[j].exec.ID })
	}

	r.mu.Lock()
	r.byService = byService
	r.byID = byID
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "executor registry refreshed", slog.Int("executors", len(execs)))
	return nil
}

// Acquire reserves the first eligible executor for the requested capability:
// not locked, version range overlapping the request, and not already holding
// a reservation. Returns a NO_EXECUTOR error when none qualifies; the
// dispatcher treats that as "not ready yet", not as a step failure.
func (r *ExecutorRegistry) Acquire(cap schema.Capability) (*store.Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.byService[cap.Service] {
		if entry.exec.Locked {
			continue
		}
		if _, busy := r.reserved[entry.exec.ID]; busy {
			continue
		}
		if !entry.matches(cap) {
			continue
		}
		r.reserved[entry.exec.ID] = struct{}{}
		return entry.exec, nil
	}

	return nil, schema.NewErrorf(schema.ErrCodeNoExecutor,
		"no eligible executor for service %q", cap.Service)
}

// Release drops an executor's reservation. It is called exactly once per
// acquisition, in a deferred block, regardless of the dispatch outcome.
func (r *ExecutorRegistry) Release(executorID string) {
	r.mu.Lock()
	delete(r.reserved, executorID)
	r.mu.Unlock()
}

// Reserved reports whether the executor currently holds a reservation.
func (r *ExecutorRegistry) Reserved(executorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.reserved[executorID]
	return ok
}

// matches reports whether any advertised capability covers the request.
// Version bounds are inclusive; a nil bound is unbounded on that side.
func (e *executorEntry) matches(cap schema.Capability) bool {
	for _, c := range e.caps {
		if c.Service != cap.Service {
			continue
		}
		if rangesOverlap(cap.MinVersion, cap.MaxVersion, c.MinVersion, c.MaxVersion) {
			return true
		}
	}
	return false
}

func rangesOverlap(reqMin, reqMax, haveMin, haveMax *int) bool {
	if reqMin != nil && haveMax != nil && *haveMax < *reqMin {
		return false
	}
	if reqMax != nil && haveMin != nil && *haveMin > *reqMax {
		return false
	}
	return true
}
