package store

import (
	"context"

	"github.com/hivemind-ai/hive/model"
)

// Driver is an interface for the persistence backend.
type Driver interface {
	GetDB() any
	Close() error

	// Migrate creates the schema when it does not exist yet.
	Migrate(ctx context.Context) error

	UpsertTask(ctx context.Context, task *model.TaskNode) error
	GetTask(ctx context.Context, id string) (*model.TaskNode, error)
	ListTasks(ctx context.Context) ([]*model.TaskNode, error)
	DeleteTask(ctx context.Context, id string) error

	UpsertEdge(ctx context.Context, edge *model.TaskEdge) error
	ListEdges(ctx context.Context) ([]*model.TaskEdge, error)
	DeleteEdge(ctx context.Context, id string) error

	UpsertSprint(ctx context.Context, sprint *model.Sprint) error
	GetSprint(ctx context.Context, id string) (*model.Sprint, error)
	ListSprints(ctx context.Context) ([]*model.Sprint, error)
	DeleteSprint(ctx context.Context, id string) error
}
