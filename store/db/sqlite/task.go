package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hivemind-ai/hive/model"
)

const taskColumns = `id, name, description, spec_blob, status, agent_role_type, capability_id,
	inputs_blob, outputs_blob, retry_count, retry_policy_blob, priority,
	estimated_duration_ms, actual_duration_ms, created_at, updated_at,
	assigned_agent_id, error_message, sprint_id`

func (d *DB) UpsertTask(ctx context.Context, task *model.TaskNode) error {
	specBlob, err := json.Marshal(task.Spec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal task spec")
	}
	inputsBlob, err := marshalSlice(task.Inputs)
	if err != nil {
		return errors.Wrap(err, "failed to marshal task inputs")
	}
	outputsBlob, err := marshalSlice(task.Outputs)
	if err != nil {
		return errors.Wrap(err, "failed to marshal task outputs")
	}
	policyBlob, err := marshalPtr(task.RetryPolicy)
	if err != nil {
		return errors.Wrap(err, "failed to marshal retry policy")
	}

	stmt := `INSERT OR REPLACE INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = d.db.ExecContext(ctx, stmt,
		task.ID,
		task.Name,
		task.Description,
		string(specBlob),
		task.Status.String(),
		roleString(task.AgentRoleType),
		nullString(task.CapabilityID),
		inputsBlob,
		outputsBlob,
		task.RetryCount,
		policyBlob,
		task.Priority,
		nullInt(task.EstimatedDurationMs),
		nullInt(task.ActualDurationMs),
		task.CreatedAt.Format(time.RFC3339Nano),
		task.UpdatedAt.Format(time.RFC3339Nano),
		nullString(task.AssignedAgentID),
		nullString(task.ErrorMessage),
		nullString(task.SprintID),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert task %s", task.ID)
	}
	return nil
}

func (d *DB) GetTask(ctx context.Context, id string) (*model.TaskNode, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

func (d *DB) ListTasks(ctx context.Context) ([]*model.TaskNode, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []*model.TaskNode
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, errors.Wrap(rows.Err(), "failed to iterate tasks")
}

func (d *DB) DeleteTask(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return errors.Wrapf(err, "failed to delete task %s", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask rebuilds a task node from a row. Structural fields (spec,
// status, timestamps) are strict; enrichment blobs are lenient so one
// malformed blob does not make the whole graph unloadable.
func scanTask(row rowScanner) (*model.TaskNode, error) {
	var (
		task                                  model.TaskNode
		specBlob, status, createdAt, updatedAt string
		role, capabilityID, inputsBlob        sql.NullString
		outputsBlob, policyBlob               sql.NullString
		assignedAgentID, errorMessage         sql.NullString
		sprintID                              sql.NullString
		estimatedMs, actualMs                 sql.NullInt64
	)
	err := row.Scan(
		&task.ID, &task.Name, &task.Description, &specBlob, &status,
		&role, &capabilityID, &inputsBlob, &outputsBlob, &task.RetryCount,
		&policyBlob, &task.Priority, &estimatedMs, &actualMs,
		&createdAt, &updatedAt, &assignedAgentID, &errorMessage, &sprintID,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(specBlob), &task.Spec); err != nil {
		return nil, errors.Wrapf(err, "failed to parse spec of task %s", task.ID)
	}
	task.Status, err = model.ParseTaskStatus(status)
	if err != nil {
		return nil, errors.Wrapf(err, "task %s", task.ID)
	}
	task.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at of task %s", task.ID)
	}
	task.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at of task %s", task.ID)
	}

	if role.Valid {
		r, err := model.ParseAgentRole(role.String)
		if err != nil {
			slog.Warn("dropping unknown role on task", "task", task.ID, "role", role.String)
		} else {
			task.AgentRoleType = &r
		}
	}
	task.CapabilityID = stringPtr(capabilityID)
	task.AssignedAgentID = stringPtr(assignedAgentID)
	task.ErrorMessage = stringPtr(errorMessage)
	task.SprintID = stringPtr(sprintID)
	task.EstimatedDurationMs = intPtr(estimatedMs)
	task.ActualDurationMs = intPtr(actualMs)

	unmarshalLenient(inputsBlob, &task.Inputs, task.ID, "inputs")
	unmarshalLenient(outputsBlob, &task.Outputs, task.ID, "outputs")
	unmarshalLenient(policyBlob, &task.RetryPolicy, task.ID, "retry_policy")
	return &task, nil
}

func unmarshalLenient[T any](blob sql.NullString, dst *T, taskID, field string) {
	if !blob.Valid || blob.String == "" {
		return
	}
	if err := json.Unmarshal([]byte(blob.String), dst); err != nil {
		slog.Warn("dropping malformed task blob", "task", taskID, "field", field, "error", err)
	}
}

func marshalPtr[T any](p *T) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func marshalMap(m map[string]string) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func roleString(r *model.AgentRole) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: r.String(), Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func intPtr(i sql.NullInt64) *int64 {
	if !i.Valid {
		return nil
	}
	v := i.Int64
	return &v
}
