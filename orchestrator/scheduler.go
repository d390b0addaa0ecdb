package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hivemind-ai/hive/agent"
	"github.com/hivemind-ai/hive/bus"
	"github.com/hivemind-ai/hive/internal/metrics"
	"github.com/hivemind-ai/hive/model"
)

// Scheduler periodically promotes and dispatches ready tasks. Nodes with
// no available worker simply stay ReadyToExecute for the next cycle.
type Scheduler struct {
	graphs   *GraphManager
	registry *agent.Registry
	bus      *bus.Bus
	interval time.Duration
}

func newScheduler(graphs *GraphManager, registry *agent.Registry, b *bus.Bus, interval time.Duration) *Scheduler {
	return &Scheduler{graphs: graphs, registry: registry, bus: b, interval: interval}
}

// Run ticks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Cycle(ctx)
		}
	}
}

// Cycle runs one promotion and dispatch pass. Exposed so tests can drive
// the scheduler without waiting on the ticker.
func (s *Scheduler) Cycle(ctx context.Context) {
	if promoted := s.graphs.PromoteReady(ctx); promoted > 0 {
		slog.Debug("promoted tasks to ready", "count", promoted)
	}
	for _, candidate := range s.graphs.ReadyCandidates() {
		s.dispatch(ctx, candidate)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, candidate Candidate) {
	node := candidate.Node

	inputs, err := s.resolveInputs(candidate.GraphID, node)
	if err != nil {
		message := fmt.Sprintf("Input mapping failed. Could not resolve inputs based on mappings: %v", node.Spec.InputMappings)
		slog.Warn("input binding failed", "task", node.ID, "error", err)
		uerr := s.graphs.UpdateNodeWhere(ctx, candidate.GraphID, node.ID, func(n *model.TaskNode) bool {
			if n.Status != model.StatusReadyToExecute {
				return false
			}
			n.Status = model.StatusFailed
			n.ErrorMessage = &message
			return true
		})
		if uerr != nil {
			slog.Error("failed to mark task failed", "task", node.ID, "error", uerr)
			return
		}
		metrics.TasksFailed.Inc()
		return
	}

	roleFilter := node.Spec.RequiredAgentRole
	if roleFilter == nil && node.Spec.RequiredRole != "" {
		role := node.Spec.RequiredRole
		roleFilter = &role
	}
	worker := s.registry.FindAvailable(node.ID, roleFilter)
	if worker == nil {
		return
	}

	agentID := worker.ID()
	assigned := false
	err = s.graphs.UpdateNodeWhere(ctx, candidate.GraphID, node.ID, func(n *model.TaskNode) bool {
		if n.Status != model.StatusReadyToExecute {
			return false
		}
		n.Status = model.StatusExecuting
		n.AssignedAgentID = &agentID
		n.Inputs = inputs
		assigned = true
		return true
	})
	if err != nil {
		slog.Error("failed to assign task", "task", node.ID, "agent", agentID, "error", err)
		return
	}
	if !assigned {
		return
	}

	updated, ok := s.graphs.Node(candidate.GraphID, node.ID)
	if !ok {
		return
	}
	s.bus.Publish(model.NewMessage(model.OrchestratorSender, agentID, model.MessageContent{
		Type:           model.MsgTaskAssignment,
		TaskAssignment: &updated,
	}))
	metrics.TasksScheduled.Inc()
	slog.Info("task assigned", "task", node.ID, "agent", worker.Name(), "priority", node.Priority)
}

// resolveInputs binds the task's input mappings against producer outputs,
// matching deliverables by key.
func (s *Scheduler) resolveInputs(graphID string, node model.TaskNode) ([]model.TaskInput, error) {
	if len(node.Spec.InputMappings) == 0 {
		return nil, nil
	}
	inputs := make([]model.TaskInput, 0, len(node.Spec.InputMappings))
	for _, mapping := range node.Spec.InputMappings {
		producer, ok := s.graphs.Node(graphID, mapping.SourceTaskID)
		if !ok {
			return nil, errors.Errorf("source task %s not found", mapping.SourceTaskID)
		}
		var matched *model.Deliverable
		for i := range producer.Outputs {
			if producer.Outputs[i].Key() == mapping.DeliverableKey {
				matched = &producer.Outputs[i]
				break
			}
		}
		if matched == nil {
			return nil, errors.Errorf("deliverable %q not found on task %s", mapping.DeliverableKey, mapping.SourceTaskID)
		}
		inputs = append(inputs, model.TaskInput{
			ID:                   uuid.NewString(),
			Name:                 mapping.TargetInputName,
			Description:          fmt.Sprintf("Input from %s: %s", matched.Kind, truncate(matched.Content, 100)),
			Data:                 matched.Content,
			SourceDeliverableIDs: []string{mapping.SourceTaskID},
		})
	}
	return inputs, nil
}

// truncate cuts s to at most max runes without splitting a multi-byte
// character.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
