package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hivemind-ai/hive/agent"
	"github.com/hivemind-ai/hive/bus"
	"github.com/hivemind-ai/hive/internal/metrics"
	"github.com/hivemind-ai/hive/model"
)

// ResultProcessor applies task outcomes to the graph: completions record
// outputs and unblock delegators, failures drive the retry policy, and
// planner decompositions are materialized as new nodes and edges.
type ResultProcessor struct {
	results  <-chan result
	graphs   *GraphManager
	registry *agent.Registry
	bus      *bus.Bus
}

func newResultProcessor(results <-chan result, graphs *GraphManager, registry *agent.Registry, b *bus.Bus) *ResultProcessor {
	return &ResultProcessor{results: results, graphs: graphs, registry: registry, bus: b}
}

// Run consumes results until ctx is canceled or the channel closes.
func (p *ResultProcessor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-p.results:
			if !ok {
				return nil
			}
			switch {
			case item.response != nil:
				p.processResponse(ctx, *item.response)
			case item.subTasks != nil:
				p.processSubTasks(ctx, *item.subTasks)
			}
		}
	}
}

func (p *ResultProcessor) processResponse(ctx context.Context, resp model.AgentResponse) {
	switch resp.Kind {
	case model.ResponseTaskCompleted:
		p.handleCompleted(ctx, resp)
	case model.ResponseTaskFailed:
		p.handleFailed(ctx, resp)
	default:
		slog.Warn("dropping response with unknown kind", "kind", resp.Kind, "task", resp.TaskID)
	}
}

func (p *ResultProcessor) handleCompleted(ctx context.Context, resp model.AgentResponse) {
	graphID, ok := p.graphs.FindGraphForTask(resp.TaskID)
	if !ok {
		slog.Warn("completion for unknown task", "task", resp.TaskID, "agent", resp.AgentID)
		return
	}

	err := p.graphs.UpdateNodeWhere(ctx, graphID, resp.TaskID, func(n *model.TaskNode) bool {
		if n.Status.Terminal() {
			return false
		}
		actual := time.Since(n.UpdatedAt).Milliseconds()
		n.Status = model.StatusCompleted
		n.ErrorMessage = nil
		n.ActualDurationMs = &actual
		n.Outputs = nil
		if resp.Deliverable != nil {
			n.Outputs = []model.Deliverable{*resp.Deliverable}
		}
		return true
	})
	if err != nil {
		slog.Error("failed to record completion", "task", resp.TaskID, "error", err)
		return
	}
	metrics.TasksCompleted.Inc()
	slog.Info("task completed", "task", resp.TaskID, "agent", resp.AgentID)

	if w, ok := p.registry.Get(resp.AgentID); ok && w.Status() == model.AgentBusy {
		w.SetStatus(model.AgentIdle)
	}

	if delegation, ok := p.graphs.TakeDelegation(resp.TaskID); ok {
		w, ok := p.registry.Get(delegation.AgentID)
		if !ok || w.Status() != model.AgentWaitingForDelegatedTask {
			slog.Warn("delegating agent is not waiting; skipping completion notification",
				"agent", delegation.AgentID, "sub_task", resp.TaskID)
			return
		}
		p.bus.Publish(model.NewMessage(model.OrchestratorSender, delegation.AgentID, model.MessageContent{
			Type: model.MsgDelegatedTaskCompleted,
			DelegatedTaskCompleted: &model.DelegatedTaskCompletedNotification{
				DelegatedTaskID: resp.TaskID,
				ParentTaskID:    delegation.ParentTaskID,
				Deliverable:     resp.Deliverable,
			},
		}))
	}
}

func (p *ResultProcessor) handleFailed(ctx context.Context, resp model.AgentResponse) {
	graphID, ok := p.graphs.FindGraphForTask(resp.TaskID)
	if !ok {
		slog.Warn("failure for unknown task", "task", resp.TaskID, "agent", resp.AgentID)
		return
	}
	node, ok := p.graphs.Node(graphID, resp.TaskID)
	if !ok {
		return
	}

	if node.RetryPolicy != nil && node.RetryCount < node.RetryPolicy.MaxRetries {
		p.scheduleRetry(ctx, graphID, node, resp)
		return
	}

	message := resp.Error
	err := p.graphs.UpdateNodeWhere(ctx, graphID, resp.TaskID, func(n *model.TaskNode) bool {
		if n.Status.Terminal() {
			return false
		}
		n.Status = model.StatusFailed
		n.ErrorMessage = &message
		return true
	})
	if err != nil {
		slog.Error("failed to record terminal failure", "task", resp.TaskID, "error", err)
		return
	}
	metrics.TasksFailed.Inc()
	slog.Warn("task failed terminally", "task", resp.TaskID, "agent", resp.AgentID, "error", resp.Error)

	// A terminally failed sub-task will never complete; release the
	// delegating worker so it is not parked forever.
	if delegation, ok := p.graphs.TakeDelegation(resp.TaskID); ok {
		if w, ok := p.registry.Get(delegation.AgentID); ok && w.Status() == model.AgentWaitingForDelegatedTask {
			w.SetStatus(model.AgentIdle)
		}
	}
}

// scheduleRetry parks the node BlockedByError and re-queues it after the
// policy delay. A zero delay re-queues immediately.
func (p *ResultProcessor) scheduleRetry(ctx context.Context, graphID string, node model.TaskNode, resp model.AgentResponse) {
	attempt := node.RetryCount + 1
	delay := time.Duration(node.RetryPolicy.Delay(attempt)) * time.Millisecond
	message := resp.Error

	target := model.StatusBlockedByError
	if delay == 0 {
		target = model.StatusReadyToExecute
	}
	err := p.graphs.UpdateNodeWhere(ctx, graphID, node.ID, func(n *model.TaskNode) bool {
		if n.Status.Terminal() {
			return false
		}
		n.Status = target
		n.RetryCount = attempt
		n.ErrorMessage = &message
		n.AssignedAgentID = nil
		return true
	})
	if err != nil {
		slog.Error("failed to record retry", "task", node.ID, "error", err)
		return
	}
	metrics.TasksRetried.Inc()
	slog.Info("task scheduled for retry",
		"task", node.ID, "attempt", attempt, "max", node.RetryPolicy.MaxRetries, "delay", delay)

	if delay > 0 {
		taskID := node.ID
		time.AfterFunc(delay, func() {
			err := p.graphs.UpdateNodeWhere(context.Background(), graphID, taskID, func(n *model.TaskNode) bool {
				if n.Status != model.StatusBlockedByError {
					return false
				}
				n.Status = model.StatusReadyToExecute
				return true
			})
			if err != nil {
				slog.Error("failed to re-queue retried task", "task", taskID, "error", err)
			}
		})
	}
}

// processSubTasks materializes a planner decomposition. Node creation
// happens first under temp ids, then the temp-id edges are resolved. Any
// failure rolls back what was added and fails the original task.
func (p *ResultProcessor) processSubTasks(ctx context.Context, gen model.SubTasksGenerated) {
	graphID, ok := p.graphs.FindGraphForTask(gen.OriginalTaskID)
	if !ok {
		slog.Warn("decomposition for unknown task", "task", gen.OriginalTaskID)
		return
	}

	tempToReal, err := p.graphs.MaterializeSubTasks(ctx, graphID, gen.SubTaskDefinitions, gen.SubTaskEdges)
	if err != nil {
		message := fmt.Sprintf("Subtask decomposition failed: %s", err)
		uerr := p.graphs.UpdateNodeWhere(ctx, graphID, gen.OriginalTaskID, func(n *model.TaskNode) bool {
			if n.Status.Terminal() {
				return false
			}
			n.Status = model.StatusFailed
			n.ErrorMessage = &message
			return true
		})
		if uerr != nil {
			slog.Error("failed to fail decomposed task", "task", gen.OriginalTaskID, "error", uerr)
		}
		metrics.TasksFailed.Inc()
		return
	}

	err = p.graphs.UpdateNodeWhere(ctx, graphID, gen.OriginalTaskID, func(n *model.TaskNode) bool {
		if n.Status.Terminal() {
			return false
		}
		n.Status = model.StatusCompleted
		n.ErrorMessage = nil
		return true
	})
	if err != nil {
		slog.Error("failed to complete decomposed task", "task", gen.OriginalTaskID, "error", err)
		return
	}
	metrics.TasksCompleted.Inc()
	slog.Info("decomposition materialized",
		"task", gen.OriginalTaskID, "sub_tasks", len(tempToReal), "edges", len(gen.SubTaskEdges))
}
