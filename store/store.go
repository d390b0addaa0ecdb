// Package store provides database access to the persisted task graph
// state: task nodes, dependency edges, and sprints.
package store

import (
	"context"

	"github.com/hivemind-ai/hive/internal/profile"
	"github.com/hivemind-ai/hive/model"
)

// Store provides database access to all persisted objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) UpsertTask(ctx context.Context, task *model.TaskNode) error {
	return s.driver.UpsertTask(ctx, task)
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.TaskNode, error) {
	return s.driver.GetTask(ctx, id)
}

func (s *Store) ListTasks(ctx context.Context) ([]*model.TaskNode, error) {
	return s.driver.ListTasks(ctx)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.driver.DeleteTask(ctx, id)
}

func (s *Store) UpsertEdge(ctx context.Context, edge *model.TaskEdge) error {
	return s.driver.UpsertEdge(ctx, edge)
}

func (s *Store) ListEdges(ctx context.Context) ([]*model.TaskEdge, error) {
	return s.driver.ListEdges(ctx)
}

func (s *Store) DeleteEdge(ctx context.Context, id string) error {
	return s.driver.DeleteEdge(ctx, id)
}

func (s *Store) UpsertSprint(ctx context.Context, sprint *model.Sprint) error {
	return s.driver.UpsertSprint(ctx, sprint)
}

func (s *Store) GetSprint(ctx context.Context, id string) (*model.Sprint, error) {
	return s.driver.GetSprint(ctx, id)
}

func (s *Store) ListSprints(ctx context.Context) ([]*model.Sprint, error) {
	return s.driver.ListSprints(ctx)
}

func (s *Store) DeleteSprint(ctx context.Context, id string) error {
	return s.driver.DeleteSprint(ctx, id)
}
