package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/morphos-dev/morphos/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
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

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	def, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, working_directory, schedule, definition)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, nullStr(wf.Description), nullStr(wf.WorkingDirectory),
		nullStr(wf.Schedule), string(def),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	var defJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE id = ?`, id,
	).Scan(&defJSON)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal([]byte(defJSON), wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return wf, nil
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	def, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET name = ?, description = ?, working_directory = ?, schedule = ?,
		 definition = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		wf.Name, nullStr(wf.Description), nullStr(wf.WorkingDirectory),
		nullStr(wf.Schedule), string(def), wf.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", wf.ID)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	query := `SELECT definition FROM workflows`
	if filter.Scheduled {
		query += ` WHERE schedule IS NOT NULL AND schedule != ''`
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		var defJSON string
		if err := rows.Scan(&defJSON); err != nil {
			return nil, err
		}
		wf := &schema.Workflow{}
		if err := json.Unmarshal([]byte(defJSON), wf); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Executions ---

func (s *LibSQLStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	outputs, err := marshalMapOrDefault(rec.NodeOutputs)
	if err != nil {
		return fmt.Errorf("marshal node_outputs: %w", err)
	}
	statuses, err := json.Marshal(rec.NodeStatuses)
	if err != nil {
		return fmt.Errorf("marshal node_statuses: %w", err)
	}
	variables, err := marshalMapOrDefault(rec.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	var errJSON any
	if rec.Error != nil {
		b, err := json.Marshal(rec.Error)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		errJSON = string(b)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, status, input, node_outputs, node_statuses, variables, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, node_outputs=excluded.node_outputs,
		   node_statuses=excluded.node_statuses, variables=excluded.variables,
		   error=excluded.error, completed_at=excluded.completed_at`,
		rec.ID, rec.WorkflowID, string(rec.Status), nullStr(rec.Input),
		string(outputs), string(statuses), string(variables), errJSON,
		timeOrNow(rec.StartedAt), nullTime(rec.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, status, input, node_outputs, node_statuses, variables, error, started_at, completed_at
		 FROM executions WHERE id = ?`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs, err := scanExecutions(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, storeNotFound("execution", id)
	}
	return recs[0], nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, workflow_id, status, input, node_outputs, node_statuses, variables, error, started_at, completed_at FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExecutions(rows)
}

func scanExecutions(rows *sql.Rows) ([]*ExecutionRecord, error) {
	var recs []*ExecutionRecord
	for rows.Next() {
		rec := &ExecutionRecord{}
		var (
			status                                  string
			input, outputs, statuses, vars, errJSON sql.NullString
			completedAt                             sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.WorkflowID, &status, &input,
			&outputs, &statuses, &vars, &errJSON, &rec.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		rec.Status = schema.ExecutionStatus(status)
		rec.Input = input.String
		if outputs.Valid && outputs.String != "" {
			_ = json.Unmarshal([]byte(outputs.String), &rec.NodeOutputs)
		}
		if statuses.Valid && statuses.String != "" {
			_ = json.Unmarshal([]byte(statuses.String), &rec.NodeStatuses)
		}
		if vars.Valid && vars.String != "" {
			_ = json.Unmarshal([]byte(vars.String), &rec.Variables)
		}
		if errJSON.Valid && errJSON.String != "" {
			rec.Error = &schema.Error{}
			_ = json.Unmarshal([]byte(errJSON.String), rec.Error)
		}
		if completedAt.Valid {
			rec.CompletedAt = &completedAt.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
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

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

var _ Store = (*LibSQLStore)(nil)
