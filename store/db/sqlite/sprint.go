package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/hivemind-ai/hive/model"
)

func (d *DB) UpsertSprint(ctx context.Context, sprint *model.Sprint) error {
	plannedBlob, err := marshalSlice(sprint.PlannedTaskIDs)
	if err != nil {
		return errors.Wrap(err, "failed to marshal planned tasks")
	}
	completedBlob, err := marshalSlice(sprint.CompletedTaskIDs)
	if err != nil {
		return errors.Wrap(err, "failed to marshal completed tasks")
	}
	stmt := `INSERT OR REPLACE INTO sprints
		(id, name, goal, status, start_date, end_date, planned_blob, completed_blob, review_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = d.db.ExecContext(ctx, stmt,
		sprint.ID,
		sprint.Name,
		sprint.Goal,
		string(sprint.Status),
		nullTime(sprint.StartDate),
		nullTime(sprint.EndDate),
		plannedBlob,
		completedBlob,
		nullString(sprint.ReviewNotes),
	)
	return errors.Wrapf(err, "failed to upsert sprint %s", sprint.ID)
}

func (d *DB) GetSprint(ctx context.Context, id string) (*model.Sprint, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, name, goal, status, start_date, end_date, planned_blob, completed_blob, review_notes
		 FROM sprints WHERE id = ?`, id)
	sprint, err := scanSprint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sprint, err
}

func (d *DB) ListSprints(ctx context.Context) ([]*model.Sprint, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, goal, status, start_date, end_date, planned_blob, completed_blob, review_notes
		 FROM sprints ORDER BY id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sprints")
	}
	defer rows.Close()

	var sprints []*model.Sprint
	for rows.Next() {
		sprint, err := scanSprint(rows)
		if err != nil {
			return nil, err
		}
		sprints = append(sprints, sprint)
	}
	return sprints, errors.Wrap(rows.Err(), "failed to iterate sprints")
}

func (d *DB) DeleteSprint(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sprints WHERE id = ?`, id)
	return errors.Wrapf(err, "failed to delete sprint %s", id)
}

func scanSprint(row rowScanner) (*model.Sprint, error) {
	var (
		sprint                     model.Sprint
		status                     string
		startDate, endDate         sql.NullString
		plannedBlob, completedBlob sql.NullString
		reviewNotes                sql.NullString
	)
	err := row.Scan(&sprint.ID, &sprint.Name, &sprint.Goal, &status,
		&startDate, &endDate, &plannedBlob, &completedBlob, &reviewNotes)
	if err != nil {
		return nil, err
	}

	sprint.Status, err = model.ParseSprintStatus(status)
	if err != nil {
		return nil, errors.Wrapf(err, "sprint %s", sprint.ID)
	}
	sprint.StartDate, err = timePtr(startDate)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse start_date of sprint %s", sprint.ID)
	}
	sprint.EndDate, err = timePtr(endDate)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse end_date of sprint %s", sprint.ID)
	}
	if reviewNotes.Valid {
		notes := reviewNotes.String
		sprint.ReviewNotes = &notes
	}

	if plannedBlob.Valid && plannedBlob.String != "" {
		if err := json.Unmarshal([]byte(plannedBlob.String), &sprint.PlannedTaskIDs); err != nil {
			return nil, errors.Wrapf(err, "failed to parse planned tasks of sprint %s", sprint.ID)
		}
	}
	if completedBlob.Valid && completedBlob.String != "" {
		if err := json.Unmarshal([]byte(completedBlob.String), &sprint.CompletedTaskIDs); err != nil {
			return nil, errors.Wrapf(err, "failed to parse completed tasks of sprint %s", sprint.ID)
		}
	}
	return &sprint, nil
}

func marshalSlice[T any](s []T) (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func timePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
