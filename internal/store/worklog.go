package store

import (
	"context"
	"log/slog"
	"time"
)

// Worklog is the append-only audit sink for scheduling decisions and
// anomalies. Recording is fire-and-forget: write failures are logged to the
// process's own diagnostic channel and never propagated, so the worklog can
// never block or fail scheduling.
type Worklog struct {
	store  Store
	logger *slog.Logger
}

// NewWorklog creates a Worklog backed by the given store.
func NewWorklog(s Store, logger *slog.Logger) *Worklog {
	return &Worklog{store: s, logger: logger}
}

// Record appends a worklog entry. cause may be nil.
func (w *Worklog) Record(ctx context.Context, entry WorklogEntry, cause error) {
	if cause != nil {
		entry.Exception = cause.Error()
	}
	entry.Timestamp = time.Now().UTC()

	// Recording must survive cancelled scheduling contexts.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := w.store.AppendWorklog(wctx, &entry); err != nil {
		w.logger.ErrorContext(ctx, "worklog append failed",
			slog.String("message", entry.Message),
			slog.String("error", err.Error()),
		)
	}
}
