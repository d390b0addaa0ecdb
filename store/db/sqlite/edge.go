package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hivemind-ai/hive/model"
)

func (d *DB) UpsertEdge(ctx context.Context, edge *model.TaskEdge) error {
	mappingBlob, err := marshalMap(edge.DataMapping)
	if err != nil {
		return errors.Wrap(err, "failed to marshal edge data mapping")
	}
	stmt := `INSERT OR REPLACE INTO task_dependencies
		(id, source_task_id, target_task_id, edge_type, condition, data_mapping)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = d.db.ExecContext(ctx, stmt,
		edge.ID,
		edge.FromNodeID,
		edge.ToNodeID,
		string(edge.EdgeType),
		nullString(edge.Condition),
		mappingBlob,
	)
	return errors.Wrapf(err, "failed to upsert edge %s", edge.ID)
}

func (d *DB) ListEdges(ctx context.Context) ([]*model.TaskEdge, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, source_task_id, target_task_id, edge_type, condition, data_mapping
		 FROM task_dependencies`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list edges")
	}
	defer rows.Close()

	var edges []*model.TaskEdge
	for rows.Next() {
		var (
			edge                   model.TaskEdge
			edgeType               string
			condition, mappingBlob sql.NullString
		)
		if err := rows.Scan(&edge.ID, &edge.FromNodeID, &edge.ToNodeID, &edgeType, &condition, &mappingBlob); err != nil {
			return nil, errors.Wrap(err, "failed to scan edge")
		}
		edge.EdgeType = model.TaskEdgeType(edgeType)
		edge.Condition = stringPtr(condition)
		if mappingBlob.Valid && mappingBlob.String != "" {
			if err := json.Unmarshal([]byte(mappingBlob.String), &edge.DataMapping); err != nil {
				return nil, errors.Wrapf(err, "failed to parse data mapping of edge %s", edge.ID)
			}
		}
		edges = append(edges, &edge)
	}
	return edges, errors.Wrap(rows.Err(), "failed to iterate edges")
}

func (d *DB) DeleteEdge(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM task_dependencies WHERE id = ?`, id)
	return errors.Wrapf(err, "failed to delete edge %s", id)
}
