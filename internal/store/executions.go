package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/chaosslabs/personal-automator/internal/automerr"
)

// Executions groups execution CRUD operations.
type Executions struct{ s *Store }

// Executions returns the Executions accessor bound to this Store.
func (s *Store) Executions() *Executions { return &Executions{s: s} }

// Create inserts a new execution row with status=running, startedAt=now.
func (e *Executions) Create(ctx context.Context, taskID int64) (*Execution, error) {
	started := time.Now().UTC()
	res, err := e.s.ExecContext(ctx, `
		INSERT INTO executions (task_id, started_at, status, console_json)
		VALUES (?,?,?,'[]')`,
		taskID, started, StatusRunning,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, automerr.New("Executions.Create", automerr.KindIntegrity, err)
		}
		return nil, automerr.New("Executions.Create", automerr.KindIO, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, automerr.New("Executions.Create", automerr.KindIO, err)
	}
	return &Execution{
		ID:        id,
		TaskID:    taskID,
		StartedAt: started,
		Status:    StatusRunning,
		Output:    ExecutionOutput{Console: []string{}},
	}, nil
}

// CreateTx is the transactional twin of Create, for callers that need the
// insert to share a transaction with other writes.
func (e *Executions) CreateTx(ctx context.Context, tx *sql.Tx, taskID int64) (*Execution, error) {
	started := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO executions (task_id, started_at, status, console_json)
		VALUES (?,?,?,'[]')`,
		taskID, started, StatusRunning,
	)
	if err != nil {
		return nil, automerr.New("Executions.CreateTx", automerr.KindIO, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, automerr.New("Executions.CreateTx", automerr.KindIO, err)
	}
	return &Execution{ID: id, TaskID: taskID, StartedAt: started, Status: StatusRunning}, nil
}

// UpdateFields is the set of mutable execution fields closed at the end of a
// run (spec invariant: finishedAt set iff status != running).
type UpdateFields struct {
	Status     ExecutionStatus
	FinishedAt time.Time
	Output     ExecutionOutput
	Error      *string
}

// Update closes out an execution with its final status/output/error.
func (e *Executions) Update(ctx context.Context, id int64, f UpdateFields) error {
	return e.update(ctx, e.s.DB, id, f)
}

// UpdateTx is the transactional twin of Update.
func (e *Executions) UpdateTx(ctx context.Context, tx *sql.Tx, id int64, f UpdateFields) error {
	return e.update(ctx, tx, id, f)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (e *Executions) update(ctx context.Context, ex execer, id int64, f UpdateFields) error {
	var started time.Time
	if err := ex.QueryRowContext(ctx, `SELECT started_at FROM executions WHERE id=?`, id).Scan(&started); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return automerr.New("Executions.Update", automerr.KindNotFound, nil)
		}
		return automerr.New("Executions.Update", automerr.KindIO, err)
	}

	durationMs := f.FinishedAt.Sub(started).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}

	if f.Output.Console == nil {
		f.Output.Console = []string{}
	}
	consoleJSON, err := json.Marshal(f.Output.Console)
	if err != nil {
		return automerr.New("Executions.Update", automerr.KindIO, err)
	}

	var resultJSON interface{}
	if len(f.Output.Result) > 0 {
		resultJSON = string(f.Output.Result)
	}

	_, err = ex.ExecContext(ctx, `
		UPDATE executions SET status=?, finished_at=?, console_json=?, result_json=?,
			error=?, duration_ms=?
		WHERE id=?`,
		string(f.Status), f.FinishedAt, string(consoleJSON), resultJSON, f.Error, durationMs, id,
	)
	if err != nil {
		return automerr.New("Executions.Update", automerr.KindIO, err)
	}
	return nil
}

// Get fetches an execution by id.
func (e *Executions) Get(ctx context.Context, id int64) (*Execution, error) {
	row := e.s.QueryRowContext(ctx, executionSelect+` WHERE id=?`, id)
	return scanExecution(row)
}

// ListResult is the paginated result of Executions.List.
type ListResult struct {
	Rows  []*Execution
	Total int
}

// List returns executions matching filter with pagination.
func (e *Executions) List(ctx context.Context, filter ExecutionFilter) (*ListResult, error) {
	query := executionSelect
	countQuery := `SELECT COUNT(*) FROM executions`
	var clauses []string
	var args []interface{}

	if filter.TaskID != nil {
		clauses = append(clauses, "task_id=?")
		args = append(args, *filter.TaskID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(filter.Status))
	}
	if filter.StartDateFrom != nil {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, *filter.StartDateFrom)
	}
	if filter.StartDateTo != nil {
		clauses = append(clauses, "started_at <= ?")
		args = append(args, *filter.StartDateTo)
	}
	where := ""
	for i, c := range clauses {
		if i == 0 {
			where = " WHERE " + c
		} else {
			where += " AND " + c
		}
	}
	query += where
	countQuery += where

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	pagedArgs := append(append([]interface{}{}, args...), limit, filter.Offset)

	var total int
	if err := e.s.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, automerr.New("Executions.List", automerr.KindIO, err)
	}

	rows, err := e.s.QueryContext(ctx, query, pagedArgs...)
	if err != nil {
		return nil, automerr.New("Executions.List", automerr.KindIO, err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, automerr.New("Executions.List", automerr.KindIO, err)
	}
	return &ListResult{Rows: out, Total: total}, nil
}

// DeleteOlderThanDays prunes executions whose startedAt predates the cutoff.
func (e *Executions) DeleteOlderThanDays(ctx context.Context, days int) (int64, error) {
	res, err := e.s.ExecContext(ctx, `DELETE FROM executions WHERE started_at < datetime('now', ? || ' days')`, -days)
	if err != nil {
		return 0, automerr.New("Executions.DeleteOlderThanDays", automerr.KindIO, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PendingCount returns the number of executions still running.
func (e *Executions) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := e.s.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions WHERE status='running'`).Scan(&n)
	if err != nil {
		return 0, automerr.New("Executions.PendingCount", automerr.KindIO, err)
	}
	return n, nil
}

// RecentErrorCount returns the number of failed/timeout executions within
// the last `hours` hours.
func (e *Executions) RecentErrorCount(ctx context.Context, hours int) (int, error) {
	var n int
	err := e.s.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions
		WHERE status IN ('failed','timeout') AND started_at >= datetime('now', ? || ' hours')`,
		-hours).Scan(&n)
	if err != nil {
		return 0, automerr.New("Executions.RecentErrorCount", automerr.KindIO, err)
	}
	return n, nil
}

const executionSelect = `SELECT id, task_id, started_at, finished_at, status,
	console_json, result_json, error, duration_ms FROM executions`

func scanExecution(row rowScanner) (*Execution, error) {
	var ex Execution
	var finishedAt sql.NullTime
	var consoleJSON string
	var resultJSON sql.NullString
	var errMsg sql.NullString
	var durationMs sql.NullInt64
	var status string

	err := row.Scan(&ex.ID, &ex.TaskID, &ex.StartedAt, &finishedAt, &status,
		&consoleJSON, &resultJSON, &errMsg, &durationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, automerr.New("Executions.Get", automerr.KindNotFound, nil)
	}
	if err != nil {
		return nil, automerr.New("Executions.Get", automerr.KindIO, err)
	}
	ex.Status = ExecutionStatus(status)
	if finishedAt.Valid {
		ex.FinishedAt = &finishedAt.Time
	}
	if errMsg.Valid {
		ex.Error = &errMsg.String
	}
	if durationMs.Valid {
		ex.DurationMs = &durationMs.Int64
	}
	if err := json.Unmarshal([]byte(consoleJSON), &ex.Output.Console); err != nil {
		return nil, automerr.New("Executions.Get", automerr.KindIO, err)
	}
	if resultJSON.Valid {
		ex.Output.Result = json.RawMessage(resultJSON.String)
	}
	return &ex, nil
}
