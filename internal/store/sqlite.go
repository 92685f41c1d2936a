package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/types"
	"github.com/tidegraph/tide/internal/workflow"
)

//go:embed schema.sql
var schema string

// SQLite implements the three store interfaces over a single SQLite
// database. Connections run in WAL mode with foreign keys enabled.
type SQLite struct {
	conn *sql.DB
	path string
}

// SQLiteConfig holds connection options.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// DefaultSQLiteConfig returns sensible defaults for the given path.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:            path,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		BusyTimeout:     5 * time.Second,
	}
}

// OpenSQLite opens the database at path with default settings and
// applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	return OpenSQLiteWithConfig(DefaultSQLiteConfig(path))
}

// OpenSQLiteWithConfig opens the database with custom settings and
// applies the schema.
func OpenSQLiteWithConfig(cfg SQLiteConfig) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d",
		cfg.Path,
		int(cfg.BusyTimeout.Milliseconds()),
	)

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{conn: conn, path: cfg.Path}, nil
}

// Close closes the underlying connection.
func (s *SQLite) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// workflowDefinition is the JSON shape stored in the definition column.
type workflowDefinition struct {
	Nodes []*workflow.Node `json:"nodes"`
	Edges []workflow.Edge  `json:"edges"`
}

func (s *SQLite) SaveWorkflow(ctx context.Context, w *workflow.Workflow) error {
	if w.ID.IsZero() {
		w.ID = types.NewID()
	}
	definition, err := json.Marshal(workflowDefinition{Nodes: w.Nodes, Edges: w.Edges})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow definition: %w", err)
	}

	query := `
		INSERT INTO workflows (id, name, description, version, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			definition = excluded.definition,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err = s.conn.ExecContext(ctx, query,
		w.ID, w.Name, w.Description, w.Version, string(definition))
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

func (s *SQLite) GetWorkflow(ctx context.Context, id types.ID) (*workflow.Workflow, error) {
	query := `
		SELECT id, name, description, version, definition, created_at, updated_at
		FROM workflows WHERE id = ?
	`

	var w workflow.Workflow
	var definition string
	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&w.ID, &w.Name, &w.Description, &w.Version, &definition,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "workflow", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	var def workflowDefinition
	if err := json.Unmarshal([]byte(definition), &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow definition: %w", err)
	}
	w.Nodes = def.Nodes
	w.Edges = def.Edges
	return &w, nil
}

func (s *SQLite) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	query := `
		SELECT id, name, description, version, definition, created_at, updated_at
		FROM workflows ORDER BY name
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		var w workflow.Workflow
		var definition string
		if err := rows.Scan(&w.ID, &w.Name, &w.Description, &w.Version, &definition,
			&w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		var def workflowDefinition
		if err := json.Unmarshal([]byte(definition), &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow definition: %w", err)
		}
		w.Nodes = def.Nodes
		w.Edges = def.Edges
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteWorkflow(ctx context.Context, id types.ID) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Kind: "workflow", ID: id.String()}
	}
	return nil
}

func (s *SQLite) CreateExecution(ctx context.Context, e *execution.WorkflowExecution) error {
	input, err := marshalJSON(e.Input)
	if err != nil {
		return err
	}
	output, err := marshalJSON(e.Output)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions (id, workflow_id, status, trigger_type, input, output, error, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn.ExecContext(ctx, query,
		e.ID, e.WorkflowID, e.Status, e.TriggerType,
		input, output, e.Error, e.CreatedAt, e.StartedAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateExecution(ctx context.Context, e *execution.WorkflowExecution) error {
	output, err := marshalJSON(e.Output)
	if err != nil {
		return err
	}

	query := `
		UPDATE executions
		SET status = ?, output = ?, error = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`
	res, err := s.conn.ExecContext(ctx, query,
		e.Status, output, e.Error, e.StartedAt, e.CompletedAt, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Kind: "execution", ID: e.ID.String()}
	}
	return nil
}

func (s *SQLite) GetExecution(ctx context.Context, id types.ID) (*execution.WorkflowExecution, error) {
	query := `
		SELECT id, workflow_id, status, trigger_type, input, output, error, created_at, started_at, completed_at
		FROM executions WHERE id = ?
	`
	row := s.conn.QueryRowContext(ctx, query, id)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "execution", ID: id.String()}
	}
	return e, err
}

func (s *SQLite) ListExecutions(ctx context.Context, workflowID types.ID, limit int) ([]*execution.WorkflowExecution, error) {
	query := `
		SELECT id, workflow_id, status, trigger_type, input, output, error, created_at, started_at, completed_at
		FROM executions WHERE workflow_id = ?
		ORDER BY created_at DESC
	`
	args := []any{workflowID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*execution.WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateNodeExecution(ctx context.Context, n *execution.NodeExecution) error {
	input, err := marshalJSON(n.Input)
	if err != nil {
		return err
	}
	output, err := marshalJSON(n.Output)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO node_executions (id, execution_id, node_id, node_type, status, input, output, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn.ExecContext(ctx, query,
		n.ID, n.ExecutionID, n.NodeID, n.NodeType, n.Status,
		input, output, n.Error, n.StartedAt, n.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create node execution: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateNodeExecution(ctx context.Context, n *execution.NodeExecution) error {
	output, err := marshalJSON(n.Output)
	if err != nil {
		return err
	}

	query := `
		UPDATE node_executions
		SET status = ?, output = ?, error = ?, completed_at = ?
		WHERE id = ?
	`
	res, err := s.conn.ExecContext(ctx, query,
		n.Status, output, n.Error, n.CompletedAt, n.ID)
	if err != nil {
		return fmt.Errorf("failed to update node execution: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return &NotFoundError{Kind: "node execution", ID: n.ID.String()}
	}
	return nil
}

func (s *SQLite) ListNodeExecutions(ctx context.Context, executionID types.ID) ([]*execution.NodeExecution, error) {
	query := `
		SELECT id, execution_id, node_id, node_type, status, input, output, error, started_at, completed_at
		FROM node_executions WHERE execution_id = ?
		ORDER BY started_at
	`
	rows, err := s.conn.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node executions: %w", err)
	}
	defer rows.Close()

	var out []*execution.NodeExecution
	for rows.Next() {
		var n execution.NodeExecution
		var input, output, errText sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.ExecutionID, &n.NodeID, &n.NodeType, &n.Status,
			&input, &output, &errText, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}
		if err := unmarshalJSON(input, &n.Input); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(output, &n.Output); err != nil {
			return nil, err
		}
		n.Error = errText.String
		if startedAt.Valid {
			n.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			n.CompletedAt = &completedAt.Time
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendLog(ctx context.Context, l *execution.ExecutionLog) error {
	fields, err := marshalJSON(l.Fields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO execution_logs (id, execution_id, node_id, level, message, fields, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn.ExecContext(ctx, query,
		l.ID, l.ExecutionID, l.NodeID, l.Level, l.Message, fields, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}
	return nil
}

func (s *SQLite) ListLogs(ctx context.Context, executionID types.ID) ([]*execution.ExecutionLog, error) {
	query := `
		SELECT id, execution_id, node_id, level, message, fields, created_at
		FROM execution_logs WHERE execution_id = ?
		ORDER BY created_at
	`
	rows, err := s.conn.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer rows.Close()

	var out []*execution.ExecutionLog
	for rows.Next() {
		var l execution.ExecutionLog
		var nodeID, fields sql.NullString
		if err := rows.Scan(&l.ID, &l.ExecutionID, &nodeID, &l.Level, &l.Message,
			&fields, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		l.NodeID = nodeID.String
		if err := unmarshalJSON(fields, &l.Fields); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveSchedule(ctx context.Context, sched *Schedule) error {
	if sched.ID.IsZero() {
		sched.ID = types.NewID()
	}
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = time.Now().UTC()
	}
	sched.UpdatedAt = time.Now().UTC()

	spec, err := marshalJSON(sched.Spec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO schedules (id, workflow_id, name, trigger_kind, spec, timezone, is_active, next_run_at, last_run_at, run_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			name = excluded.name,
			trigger_kind = excluded.trigger_kind,
			spec = excluded.spec,
			timezone = excluded.timezone,
			is_active = excluded.is_active,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at
	`
	_, err = s.conn.ExecContext(ctx, query,
		sched.ID, sched.WorkflowID, sched.Name, sched.TriggerKind, spec,
		sched.Timezone, sched.IsActive, sched.NextRunAt, sched.LastRunAt,
		sched.RunCount, sched.CreatedAt, sched.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

func (s *SQLite) GetSchedule(ctx context.Context, id types.ID) (*Schedule, error) {
	row := s.conn.QueryRowContext(ctx, scheduleSelect+` WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "schedule", ID: id.String()}
	}
	return sched, err
}

func (s *SQLite) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	return s.querySchedules(ctx, scheduleSelect+` ORDER BY name`)
}

func (s *SQLite) ListActiveSchedules(ctx context.Context) ([]*Schedule, error) {
	return s.querySchedules(ctx, scheduleSelect+` WHERE is_active = 1 ORDER BY name`)
}

func (s *SQLite) SetScheduleActive(ctx context.Context, id types.ID, active bool) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE schedules SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		active, id)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Kind: "schedule", ID: id.String()}
	}
	return nil
}

func (s *SQLite) RecordScheduleRun(ctx context.Context, id types.ID, lastRun time.Time, nextRun *time.Time) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE schedules
		SET last_run_at = ?, next_run_at = ?, run_count = run_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		lastRun, nextRun, id)
	if err != nil {
		return fmt.Errorf("failed to record schedule run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Kind: "schedule", ID: id.String()}
	}
	return nil
}

func (s *SQLite) DeleteSchedule(ctx context.Context, id types.ID) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Kind: "schedule", ID: id.String()}
	}
	return nil
}

func (s *SQLite) AppendScheduleHistory(ctx context.Context, h *ScheduleHistory) error {
	if h.ID.IsZero() {
		h.ID = types.NewID()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO schedule_history (id, schedule_id, execution_id, fired_at, status, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.ScheduleID, h.ExecutionID, h.FiredAt, h.Status, h.Error)
	if err != nil {
		return fmt.Errorf("failed to append schedule history: %w", err)
	}
	return nil
}

func (s *SQLite) ListScheduleHistory(ctx context.Context, scheduleID types.ID, limit int) ([]*ScheduleHistory, error) {
	query := `
		SELECT id, schedule_id, execution_id, fired_at, status, error
		FROM schedule_history WHERE schedule_id = ?
		ORDER BY fired_at DESC
	`
	args := []any{scheduleID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule history: %w", err)
	}
	defer rows.Close()

	var out []*ScheduleHistory
	for rows.Next() {
		var h ScheduleHistory
		var executionID, errText sql.NullString
		if err := rows.Scan(&h.ID, &h.ScheduleID, &executionID, &h.FiredAt, &h.Status, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan schedule history: %w", err)
		}
		h.ExecutionID = types.ID(executionID.String)
		h.Error = errText.String
		out = append(out, &h)
	}
	return out, rows.Err()
}

const scheduleSelect = `
	SELECT id, workflow_id, name, trigger_kind, spec, timezone, is_active, next_run_at, last_run_at, run_count, created_at, updated_at
	FROM schedules`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	var spec sql.NullString
	var nextRun, lastRun sql.NullTime
	err := row.Scan(&sched.ID, &sched.WorkflowID, &sched.Name, &sched.TriggerKind,
		&spec, &sched.Timezone, &sched.IsActive, &nextRun, &lastRun,
		&sched.RunCount, &sched.CreatedAt, &sched.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(spec, &sched.Spec); err != nil {
		return nil, err
	}
	if nextRun.Valid {
		sched.NextRunAt = &nextRun.Time
	}
	if lastRun.Valid {
		sched.LastRunAt = &lastRun.Time
	}
	return &sched, nil
}

func (s *SQLite) querySchedules(ctx context.Context, query string) ([]*Schedule, error) {
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func scanExecution(row rowScanner) (*execution.WorkflowExecution, error) {
	var e execution.WorkflowExecution
	var input, output, errText sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&e.ID, &e.WorkflowID, &e.Status, &e.TriggerType,
		&input, &output, &errText, &e.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(input, &e.Input); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(output, &e.Output); err != nil {
		return nil, err
	}
	e.Error = errText.String
	if startedAt.Valid {
		e.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return &e, nil
}

// marshalJSON serializes v for a nullable TEXT column; nil maps become
// SQL NULL.
func marshalJSON(v any) (any, error) {
	switch m := v.(type) {
	case map[string]any:
		if m == nil {
			return nil, nil
		}
	case map[string]map[string]any:
		if m == nil {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return string(b), nil
}

func unmarshalJSON[T any](col sql.NullString, dst *T) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("failed to unmarshal json column: %w", err)
	}
	return nil
}
