package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/edgefleet/choreo/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/choreo.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Plans ---

// CreatePlan inserts a plan and its steps in one transaction.
func (s *LibSQLStore) CreatePlan(ctx context.Context, plan *Plan, steps []*Step) error {
	retry, err := nullableJSONValue(plan.Retry)
	if err != nil {
		return fmt.Errorf("marshal plan retry policy: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create plan: %w", err)
	}
	defer tx.Rollback()

	now := timeOrNow(plan.CreatedAt)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO plans (id, name, first_step, schedule, timeout, retry, next_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.Name, plan.FirstStep, nullStr(plan.Schedule), nullStr(plan.Timeout),
		retry, nullTime(plan.NextRunAt), now, now,
	); err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	for _, st := range steps {
		service, err := json.Marshal(st.Service)
		if err != nil {
			return fmt.Errorf("marshal step service: %w", err)
		}
		params, err := nullableJSONValue(st.Params)
		if err != nil {
			return fmt.Errorf("marshal step params: %w", err)
		}
		next, err := nullableJSONValue(st.NextSteps)
		if err != nil {
			return fmt.Errorf("marshal step edges: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO steps (id, plan_id, name, service, params, next_steps, timeout, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID, plan.ID, st.Name, string(service), params, next, nullStr(st.Timeout), now,
		); err != nil {
			return fmt.Errorf("insert step %s: %w", st.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create plan: %w", err)
	}
	return nil
}

const planColumns = `id, name, first_step, schedule, timeout, retry, last_run_at, next_run_at, last_run_status, created_at, updated_at`

func (s *LibSQLStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("plan", id)
	}
	return p, err
}

func (s *LibSQLStore) GetPlanByName(ctx context.Context, name string) (*Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE name = ?`, name)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("plan", name)
	}
	return p, err
}

func (s *LibSQLStore) ListPlans(ctx context.Context) ([]*Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM plans ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (s *LibSQLStore) ListSteps(ctx context.Context, planID string) ([]*Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, plan_id, name, service, params, next_steps, timeout, created_at
		 FROM steps WHERE plan_id = ? ORDER BY name`, planID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []*Step
	for rows.Next() {
		st := &Step{}
		var service string
		var params, next, timeout sql.NullString
		if err := rows.Scan(&st.ID, &st.PlanID, &st.Name, &service, &params, &next, &timeout, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(service), &st.Service); err != nil {
			return nil, fmt.Errorf("unmarshal step service: %w", err)
		}
		if params.Valid && params.String != "" {
			if err := json.Unmarshal([]byte(params.String), &st.Params); err != nil {
				return nil, fmt.Errorf("unmarshal step params: %w", err)
			}
		}
		if next.Valid && next.String != "" {
			if err := json.Unmarshal([]byte(next.String), &st.NextSteps); err != nil {
				return nil, fmt.Errorf("unmarshal step edges: %w", err)
			}
		}
		st.Timeout = strOrEmpty(timeout)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// DeletePlan removes a plan and its steps. Teardown is explicit and ordered:
// steps first, then the plan row. Callers enforce the no-referencing-session
// precondition.
func (s *LibSQLStore) DeletePlan(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete plan: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE plan_id = ?`, id); err != nil {
		return fmt.Errorf("delete steps: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	if err := checkRowsAffected(res, "plan", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete plan: %w", err)
	}
	return nil
}

func (s *LibSQLStore) UpdatePlanSchedule(ctx context.Context, id string, update PlanScheduleUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update plan schedule: %w", err)
	}
	return checkRowsAffected(res, "plan", id)
}

// --- Executors ---

// SaveExecutor upserts an executor and replaces its capability set.
func (s *LibSQLStore) SaveExecutor(ctx context.Context, exec *Executor, caps []*ExecutorCapability) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save executor: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO executors (id, name, address, port, base_uri, locked, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, address=excluded.address,
			port=excluded.port, base_uri=excluded.base_uri, locked=excluded.locked, updated_at=excluded.updated_at`,
		exec.ID, nullStr(exec.Name), exec.Address, exec.Port, exec.BaseURI,
		boolInt(exec.Locked), timeOrNow(exec.CreatedAt), now,
	); err != nil {
		return fmt.Errorf("upsert executor: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM executor_capabilities WHERE executor_id = ?`, exec.ID); err != nil {
		return fmt.Errorf("clear capabilities: %w", err)
	}
	for _, c := range caps {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO executor_capabilities (id, executor_id, service, min_version, max_version)
			 VALUES (?, ?, ?, ?, ?)`,
			c.ID, exec.ID, c.Service, nullInt(c.MinVersion), nullInt(c.MaxVersion),
		); err != nil {
			return fmt.Errorf("insert capability %s: %w", c.Service, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save executor: %w", err)
	}
	return nil
}

const executorColumns = `id, name, address, port, base_uri, locked, created_at, updated_at`

func (s *LibSQLStore) GetExecutor(ctx context.Context, id string) (*Executor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executorColumns+` FROM executors WHERE id = ?`, id)
	e, err := scanExecutor(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("executor", id)
	}
	return e, err
}

func (s *LibSQLStore) FindExecutor(ctx context.Context, address string, port int, baseURI string) (*Executor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executorColumns+` FROM executors WHERE address = ? AND port = ? AND base_uri = ?`,
		address, port, baseURI)
	e, err := scanExecutor(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("executor", fmt.Sprintf("%s:%d%s", address, port, baseURI))
	}
	return e, err
}

func (s *LibSQLStore) ListExecutors(ctx context.Context) ([]*Executor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+executorColumns+` FROM executors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list executors: %w", err)
	}
	defer rows.Close()

	var execs []*Executor
	for rows.Next() {
		e, err := scanExecutor(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func (s *LibSQLStore) ListCapabilities(ctx context.Context, executorID string) ([]*ExecutorCapability, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, executor_id, service, min_version, max_version
		 FROM executor_capabilities WHERE executor_id = ? ORDER BY service`, executorID)
	if err != nil {
		return nil, fmt.Errorf("list capabilities: %w", err)
	}
	defer rows.Close()

	var caps []*ExecutorCapability
	for rows.Next() {
		c := &ExecutorCapability{}
		var minV, maxV sql.NullInt64
		if err := rows.Scan(&c.ID, &c.ExecutorID, &c.Service, &minV, &maxV); err != nil {
			return nil, fmt.Errorf("scan capability: %w", err)
		}
		c.MinVersion = intPtr(minV)
		c.MaxVersion = intPtr(maxV)
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

func (s *LibSQLStore) SetExecutorLock(ctx context.Context, id string, locked bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executors SET locked = ?, updated_at = ? WHERE id = ?`,
		boolInt(locked), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set executor lock: %w", err)
	}
	return checkRowsAffected(res, "executor", id)
}

// DeleteExecutor removes an executor and its capabilities, capabilities first.
func (s *LibSQLStore) DeleteExecutor(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete executor: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM executor_capabilities WHERE executor_id = ?`, id); err != nil {
		return fmt.Errorf("delete capabilities: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM executors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete executor: %w", err)
	}
	if err := checkRowsAffected(res, "executor", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete executor: %w", err)
	}
	return nil
}

// --- Sessions ---

func (s *LibSQLStore) CreateSession(ctx context.Context, sess *Session) error {
	now := timeOrNow(sess.StartedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, plan_id, status, started_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.PlanID, string(sess.Status), now, now)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, plan_id, status, started_at, ended_at, updated_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("session", id)
	}
	return sess, err
}

func (s *LibSQLStore) UpdateSession(ctx context.Context, id string, update SessionUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.EndedAt != nil {
		sets = append(sets, "ended_at = ?")
		args = append(args, *update.EndedAt)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return checkRowsAffected(res, "session", id)
}

func (s *LibSQLStore) ListSessionsByStatus(ctx context.Context, status schema.SessionStatus) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, plan_id, status, started_at, ended_at, updated_at
		 FROM sessions WHERE status = ? ORDER BY started_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *LibSQLStore) CountSessionsByPlan(ctx context.Context, planID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE plan_id = ?`, planID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// --- Session steps ---

func (s *LibSQLStore) CreateSessionStep(ctx context.Context, ss *SessionStep) error {
	now := timeOrNow(ss.StartedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_steps (id, session_id, step_name, attempt, executor_id, status, message, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ss.ID, ss.SessionID, ss.StepName, ss.Attempt, nullStr(ss.ExecutorID),
		string(ss.Status), nullStr(ss.Message), now, now)
	if err != nil {
		return fmt.Errorf("insert session step: %w", err)
	}
	return nil
}

func (s *LibSQLStore) UpdateSessionStep(ctx context.Context, id string, update SessionStepUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Message != nil {
		sets = append(sets, "message = ?")
		args = append(args, *update.Message)
	}
	if update.ExecutorID != nil {
		sets = append(sets, "executor_id = ?")
		args = append(args, *update.ExecutorID)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE session_steps SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update session step: %w", err)
	}
	return checkRowsAffected(res, "session step", id)
}

func (s *LibSQLStore) ListSessionSteps(ctx context.Context, sessionID string) ([]*SessionStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, step_name, attempt, executor_id, status, message, started_at, updated_at
		 FROM session_steps WHERE session_id = ? ORDER BY started_at, attempt`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session steps: %w", err)
	}
	defer rows.Close()

	var steps []*SessionStep
	for rows.Next() {
		ss := &SessionStep{}
		var execID, message sql.NullString
		var status string
		if err := rows.Scan(&ss.ID, &ss.SessionID, &ss.StepName, &ss.Attempt,
			&execID, &status, &message, &ss.StartedAt, &ss.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session step: %w", err)
		}
		ss.ExecutorID = strOrEmpty(execID)
		ss.Status = schema.StepStatus(status)
		ss.Message = strOrEmpty(message)
		steps = append(steps, ss)
	}
	return steps, rows.Err()
}

// --- Worklog ---

func (s *LibSQLStore) AppendWorklog(ctx context.Context, entry *WorklogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO worklog (plan_name, session_id, step_name, message, exception, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nullStr(entry.PlanName), nullStr(entry.SessionID), nullStr(entry.StepName),
		entry.Message, nullStr(entry.Exception), entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append worklog: %w", err)
	}
	return nil
}

func (s *LibSQLStore) ListWorklog(ctx context.Context, filter WorklogFilter) ([]*WorklogEntry, error) {
	query := `SELECT id, plan_name, session_id, step_name, message, exception, timestamp FROM worklog`
	var conds []string
	var args []any

	if filter.PlanName != "" {
		conds = append(conds, "plan_name = ?")
		args = append(args, filter.PlanName)
	}
	if filter.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, *filter.Since)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list worklog: %w", err)
	}
	defer rows.Close()

	var entries []*WorklogEntry
	for rows.Next() {
		e := &WorklogEntry{}
		var plan, sess, step, exc sql.NullString
		if err := rows.Scan(&e.ID, &plan, &sess, &step, &e.Message, &exc, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan worklog: %w", err)
		}
		e.PlanName = strOrEmpty(plan)
		e.SessionID = strOrEmpty(sess)
		e.StepName = strOrEmpty(step)
		e.Exception = strOrEmpty(exc)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*Plan, error) {
	p := &Plan{}
	var schedule, timeout, retry, lastStatus sql.NullString
	var lastRun, nextRun sql.NullTime
	err := row.Scan(&p.ID, &p.Name, &p.FirstStep, &schedule, &timeout, &retry,
		&lastRun, &nextRun, &lastStatus, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Schedule = strOrEmpty(schedule)
	p.Timeout = strOrEmpty(timeout)
	p.LastRunStatus = strOrEmpty(lastStatus)
	if retry.Valid && retry.String != "" {
		if err := json.Unmarshal([]byte(retry.String), &p.Retry); err != nil {
			return nil, fmt.Errorf("unmarshal plan retry policy: %w", err)
		}
	}
	if lastRun.Valid {
		p.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		p.NextRunAt = &nextRun.Time
	}
	return p, nil
}

func scanExecutor(row rowScanner) (*Executor, error) {
	e := &Executor{}
	var name sql.NullString
	var locked int
	err := row.Scan(&e.ID, &name, &e.Address, &e.Port, &e.BaseURI, &locked, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Name = strOrEmpty(name)
	e.Locked = locked != 0
	return e, nil
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var status string
	var ended sql.NullTime
	err := row.Scan(&sess.ID, &sess.PlanID, &status, &sess.StartedAt, &ended, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.Status = schema.SessionStatus(status)
	if ended.Valid {
		sess.EndedAt = &ended.Time
	}
	return sess, nil
}

// --- value helpers ---

func storeNotFound(resource, id string) *schema.ChoreoError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func strOrEmpty(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

// nullableJSONValue marshals v for storage, or nil when v is empty.
func nullableJSONValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case *schema.RetryPolicy:
		if t == nil {
			return nil, nil
		}
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
