package sqlite

import (
	"context"

	"github.com/pkg/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		spec_blob TEXT NOT NULL,
		status TEXT NOT NULL,
		agent_role_type TEXT,
		capability_id TEXT,
		inputs_blob TEXT,
		outputs_blob TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		retry_policy_blob TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		estimated_duration_ms INTEGER,
		actual_duration_ms INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		assigned_agent_id TEXT,
		error_message TEXT,
		sprint_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS task_dependencies (
		id TEXT PRIMARY KEY,
		source_task_id TEXT NOT NULL,
		target_task_id TEXT NOT NULL,
		edge_type TEXT NOT NULL,
		condition TEXT,
		data_mapping TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS sprints (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		goal TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date TEXT,
		end_date TEXT,
		planned_blob TEXT,
		completed_blob TEXT,
		review_notes TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_sprint ON tasks (sprint_id)`,
	`CREATE INDEX IF NOT EXISTS idx_deps_source ON task_dependencies (source_task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_deps_target ON task_dependencies (target_task_id)`,
}

// Migrate creates the schema when it does not exist yet. It is safe to
// call on every startup.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply schema statement")
		}
	}
	return nil
}
