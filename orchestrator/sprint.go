package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hivemind-ai/hive/model"
)

// CreateSprint groups existing tasks under a new Planned sprint and tags
// each task with the sprint id.
func (m *GraphManager) CreateSprint(ctx context.Context, name, goal string, taskIDs []string) (string, error) {
	sprint := &model.Sprint{
		ID:             uuid.NewString(),
		Name:           name,
		Goal:           goal,
		Status:         model.SprintPlanned,
		PlannedTaskIDs: append([]string(nil), taskIDs...),
	}
	if err := m.store.UpsertSprint(ctx, sprint); err != nil {
		return "", errors.Wrapf(err, "failed to persist sprint %s", sprint.ID)
	}

	m.sprintMu.Lock()
	m.sprints[sprint.ID] = sprint
	m.sprintMu.Unlock()

	for _, taskID := range taskIDs {
		graphID, ok := m.FindGraphForTask(taskID)
		if !ok {
			slog.Warn("sprint references unknown task", "sprint", sprint.ID, "task", taskID)
			continue
		}
		err := m.UpdateNode(ctx, graphID, taskID, func(n *model.TaskNode) {
			id := sprint.ID
			n.SprintID = &id
		})
		if err != nil {
			slog.Error("failed to tag task with sprint", "sprint", sprint.ID, "task", taskID, "error", err)
		}
	}

	slog.Info("created sprint", "sprint", sprint.ID, "name", name, "tasks", len(taskIDs))
	return sprint.ID, nil
}

// StartSprint moves a Planned sprint to Active.
func (m *GraphManager) StartSprint(ctx context.Context, id string) error {
	return m.updateSprint(ctx, id, func(s *model.Sprint) error {
		if s.Status != model.SprintPlanned {
			return errors.Errorf("Sprint with ID %s is not in Planned status", id)
		}
		now := time.Now().UTC()
		s.Status = model.SprintActive
		s.StartDate = &now
		return nil
	})
}

// CompleteSprint moves an Active sprint to Completed and records which of
// the planned tasks were done.
func (m *GraphManager) CompleteSprint(ctx context.Context, id string) error {
	return m.updateSprint(ctx, id, func(s *model.Sprint) error {
		if s.Status != model.SprintActive {
			return errors.Errorf("Sprint with ID %s is not in Active status", id)
		}
		var completed []string
		for _, taskID := range s.PlannedTaskIDs {
			graphID, ok := m.FindGraphForTask(taskID)
			if !ok {
				continue
			}
			if node, ok := m.Node(graphID, taskID); ok && node.Status == model.StatusCompleted {
				completed = append(completed, taskID)
			}
		}
		now := time.Now().UTC()
		s.Status = model.SprintCompleted
		s.EndDate = &now
		s.CompletedTaskIDs = completed
		return nil
	})
}

// AbortSprint closes a sprint without completing it, keeping the optional
// review notes for the retrospective.
func (m *GraphManager) AbortSprint(ctx context.Context, id string, reviewNotes *string) error {
	return m.updateSprint(ctx, id, func(s *model.Sprint) error {
		if s.Status == model.SprintCompleted || s.Status == model.SprintAborted {
			return errors.Errorf("Sprint with ID %s is already closed", id)
		}
		now := time.Now().UTC()
		s.Status = model.SprintAborted
		s.EndDate = &now
		s.ReviewNotes = reviewNotes
		return nil
	})
}

// DeleteSprint removes a sprint, store row first. Tasks keep their
// sprint tag; reconstruction handles a missing sprint gracefully.
func (m *GraphManager) DeleteSprint(ctx context.Context, id string) error {
	m.sprintMu.Lock()
	defer m.sprintMu.Unlock()
	if _, ok := m.sprints[id]; !ok {
		return errors.Errorf("sprint %s not found", id)
	}
	if err := m.store.DeleteSprint(ctx, id); err != nil {
		return err
	}
	delete(m.sprints, id)
	return nil
}

// Sprint returns a copy of one sprint.
func (m *GraphManager) Sprint(id string) (model.Sprint, bool) {
	m.sprintMu.RLock()
	defer m.sprintMu.RUnlock()
	sprint, ok := m.sprints[id]
	if !ok {
		return model.Sprint{}, false
	}
	return copySprint(sprint), true
}

// Sprints snapshots all sprints.
func (m *GraphManager) Sprints() []model.Sprint {
	m.sprintMu.RLock()
	defer m.sprintMu.RUnlock()
	out := make([]model.Sprint, 0, len(m.sprints))
	for _, sprint := range m.sprints {
		out = append(out, copySprint(sprint))
	}
	return out
}

// updateSprint applies mutate to a copy, persists it, then commits it.
func (m *GraphManager) updateSprint(ctx context.Context, id string, mutate func(*model.Sprint) error) error {
	m.sprintMu.Lock()
	defer m.sprintMu.Unlock()

	sprint, ok := m.sprints[id]
	if !ok {
		return errors.Errorf("sprint %s not found", id)
	}
	updated := copySprint(sprint)
	if err := mutate(&updated); err != nil {
		return err
	}
	if err := m.store.UpsertSprint(ctx, &updated); err != nil {
		return errors.Wrapf(err, "failed to persist sprint %s", id)
	}
	m.sprints[id] = &updated
	return nil
}

func copySprint(s *model.Sprint) model.Sprint {
	c := *s
	c.StartDate = clonePtrTime(s.StartDate)
	c.EndDate = clonePtrTime(s.EndDate)
	if s.PlannedTaskIDs != nil {
		c.PlannedTaskIDs = append([]string(nil), s.PlannedTaskIDs...)
	}
	if s.CompletedTaskIDs != nil {
		c.CompletedTaskIDs = append([]string(nil), s.CompletedTaskIDs...)
	}
	if s.ReviewNotes != nil {
		notes := *s.ReviewNotes
		c.ReviewNotes = &notes
	}
	return c
}

func clonePtrTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
