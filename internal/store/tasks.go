package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/chaosslabs/personal-automator/internal/automerr"
)

// Tasks groups task CRUD and scheduling-support operations.
type Tasks struct{ s *Store }

// Tasks returns the Tasks accessor bound to this Store.
func (s *Store) Tasks() *Tasks { return &Tasks{s: s} }

// Create inserts a new task.
func (t *Tasks) Create(ctx context.Context, task *Task) (int64, error) {
	paramsJSON, err := json.Marshal(task.Params)
	if err != nil {
		return 0, automerr.New("Tasks.Create", automerr.KindValidation, err)
	}
	credsJSON, err := json.Marshal(task.Credentials)
	if err != nil {
		return 0, automerr.New("Tasks.Create", automerr.KindValidation, err)
	}

	res, err := t.s.ExecContext(ctx, `
		INSERT INTO tasks (template_id, name, description, params_json,
			schedule_type, schedule_value, credentials_json, enabled,
			last_run_at, next_run_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		task.TemplateID, task.Name, task.Description, string(paramsJSON),
		string(task.ScheduleType), task.ScheduleValue, string(credsJSON), task.Enabled,
		task.LastRunAt, task.NextRunAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, automerr.New("Tasks.Create", automerr.KindConflict, err)
		}
		if isForeignKeyViolation(err) {
			return 0, automerr.New("Tasks.Create", automerr.KindIntegrity, err)
		}
		return 0, automerr.New("Tasks.Create", automerr.KindIO, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, automerr.New("Tasks.Create", automerr.KindIO, err)
	}
	task.ID = id
	return id, nil
}

// Get fetches a task by id.
func (t *Tasks) Get(ctx context.Context, id int64) (*Task, error) {
	row := t.s.QueryRowContext(ctx, taskSelect+` WHERE id=?`, id)
	return scanTask(row)
}

// GetByName fetches a task by its unique name.
func (t *Tasks) GetByName(ctx context.Context, name string) (*Task, error) {
	row := t.s.QueryRowContext(ctx, taskSelect+` WHERE name=?`, name)
	return scanTask(row)
}

// List returns tasks matching filter.
func (t *Tasks) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	query := taskSelect
	var clauses []string
	var args []interface{}

	if filter.Enabled != nil {
		clauses = append(clauses, "enabled=?")
		args = append(args, *filter.Enabled)
	}
	if filter.TemplateID != "" {
		clauses = append(clauses, "template_id=?")
		args = append(args, filter.TemplateID)
	}
	if filter.HasErrorsLast24h {
		clauses = append(clauses, `id IN (
			SELECT task_id FROM executions
			WHERE status IN ('failed','timeout') AND started_at >= datetime('now','-24 hours')
		)`)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id ASC"

	rows, err := t.s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, automerr.New("Tasks.List", automerr.KindIO, err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// GetDueToRun returns enabled tasks whose next_run_at has passed.
func (t *Tasks) GetDueToRun(ctx context.Context, now time.Time) ([]*Task, error) {
	rows, err := t.s.QueryContext(ctx, taskSelect+` WHERE enabled=1 AND next_run_at IS NOT NULL AND next_run_at <= ? ORDER BY next_run_at ASC`, now)
	if err != nil {
		return nil, automerr.New("Tasks.GetDueToRun", automerr.KindIO, err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// Update applies a partial update: fields with a non-nil value in patch are
// rewritten; everything else is left as-is.
type TaskPatch struct {
	Name          *string
	Description   *string
	Params        map[string]interface{}
	ScheduleType  *ScheduleType
	ScheduleValue *string
	Credentials   []string
	Enabled       *bool
}

// Update applies patch to the task with the given id.
func (t *Tasks) Update(ctx context.Context, id int64, patch TaskPatch) error {
	task, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	if patch.Name != nil {
		task.Name = *patch.Name
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Params != nil {
		task.Params = patch.Params
	}
	if patch.ScheduleType != nil {
		task.ScheduleType = *patch.ScheduleType
	}
	if patch.ScheduleValue != nil {
		task.ScheduleValue = *patch.ScheduleValue
	}
	if patch.Credentials != nil {
		task.Credentials = patch.Credentials
	}
	if patch.Enabled != nil {
		task.Enabled = *patch.Enabled
	}

	paramsJSON, err := json.Marshal(task.Params)
	if err != nil {
		return automerr.New("Tasks.Update", automerr.KindValidation, err)
	}
	credsJSON, err := json.Marshal(task.Credentials)
	if err != nil {
		return automerr.New("Tasks.Update", automerr.KindValidation, err)
	}

	_, err = t.s.ExecContext(ctx, `
		UPDATE tasks SET name=?, description=?, params_json=?, schedule_type=?,
			schedule_value=?, credentials_json=?, enabled=?
		WHERE id=?`,
		task.Name, task.Description, string(paramsJSON), string(task.ScheduleType),
		task.ScheduleValue, string(credsJSON), task.Enabled, id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return automerr.New("Tasks.Update", automerr.KindConflict, err)
		}
		return automerr.New("Tasks.Update", automerr.KindIO, err)
	}
	return nil
}

// ToggleEnabled flips a task's enabled flag and returns the new value.
func (t *Tasks) ToggleEnabled(ctx context.Context, id int64) (bool, error) {
	task, err := t.Get(ctx, id)
	if err != nil {
		return false, err
	}
	next := !task.Enabled
	_, err = t.s.ExecContext(ctx, `UPDATE tasks SET enabled=? WHERE id=?`, next, id)
	if err != nil {
		return false, automerr.New("Tasks.ToggleEnabled", automerr.KindIO, err)
	}
	return next, nil
}

// UpdateLastRun stamps lastRunAt and nextRunAt together (owned by the
// Scheduler). nextRunAt may be nil (one-shot tasks after they fire).
func (t *Tasks) UpdateLastRun(ctx context.Context, id int64, lastRunAt time.Time, nextRunAt *time.Time) error {
	_, err := t.s.ExecContext(ctx, `UPDATE tasks SET last_run_at=?, next_run_at=? WHERE id=?`,
		lastRunAt, nextRunAt, id)
	if err != nil {
		return automerr.New("Tasks.UpdateLastRun", automerr.KindIO, err)
	}
	return nil
}

// Delete removes a task. Cascades to its executions via ON DELETE CASCADE.
func (t *Tasks) Delete(ctx context.Context, id int64) error {
	res, err := t.s.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return automerr.New("Tasks.Delete", automerr.KindIO, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return automerr.New("Tasks.Delete", automerr.KindNotFound, nil)
	}
	return nil
}

const taskSelect = `SELECT id, template_id, name, description, params_json,
	schedule_type, schedule_value, credentials_json, enabled, last_run_at, next_run_at
	FROM tasks`

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var paramsJSON, credsJSON string
	var scheduleType string
	var lastRunAt, nextRunAt sql.NullTime

	err := row.Scan(&task.ID, &task.TemplateID, &task.Name, &task.Description,
		&paramsJSON, &scheduleType, &task.ScheduleValue, &credsJSON, &task.Enabled,
		&lastRunAt, &nextRunAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, automerr.New("Tasks.Get", automerr.KindNotFound, nil)
	}
	if err != nil {
		return nil, automerr.New("Tasks.Get", automerr.KindIO, err)
	}
	task.ScheduleType = ScheduleType(scheduleType)
	if lastRunAt.Valid {
		task.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		task.NextRunAt = &nextRunAt.Time
	}
	if err := json.Unmarshal([]byte(paramsJSON), &task.Params); err != nil {
		return nil, automerr.New("Tasks.Get", automerr.KindIO, err)
	}
	if err := json.Unmarshal([]byte(credsJSON), &task.Credentials); err != nil {
		return nil, automerr.New("Tasks.Get", automerr.KindIO, err)
	}
	return &task, nil
}
