package orchestrator

import (
	"context"
	"log/slog"

	"github.com/hivemind-ai/hive/agent"
	"github.com/hivemind-ai/hive/bus"
	"github.com/hivemind-ai/hive/model"
)

// result is the unit handed from the router to the result processor.
// Exactly one field is set.
type result struct {
	response *model.AgentResponse
	subTasks *model.SubTasksGenerated
}

// Router consumes the broadcast topic on behalf of the engine. It funnels
// task outcomes to the result processor and mediates the coordination
// messages workers cannot resolve on their own: information requests,
// information returns, and sub-task delegation.
type Router struct {
	sub      *bus.Subscription
	bus      *bus.Bus
	graphs   *GraphManager
	registry *agent.Registry
	results  chan<- result

	// pendingInfo maps the id of a routed information request message to
	// the agent that originally asked. Single goroutine, no lock needed.
	pendingInfo map[string]string
}

func newRouter(sub *bus.Subscription, b *bus.Bus, graphs *GraphManager, registry *agent.Registry, results chan<- result) *Router {
	return &Router{
		sub:         sub,
		bus:         b,
		graphs:      graphs,
		registry:    registry,
		results:     results,
		pendingInfo: make(map[string]string),
	}
}

// Run consumes messages until ctx is canceled or the bus closes. Lag is
// logged and skipped; the engine keeps authoritative state in the graph
// manager, not the bus.
func (r *Router) Run(ctx context.Context) error {
	for {
		msg, err := r.sub.Recv(ctx)
		if err != nil {
			if lag, ok := err.(*bus.LaggedError); ok {
				slog.Warn("engine subscription lagged", "dropped", lag.Count)
				continue
			}
			if ctx.Err() != nil || err == bus.ErrClosed {
				return nil
			}
			return err
		}
		r.route(ctx, msg)
	}
}

func (r *Router) route(ctx context.Context, msg model.Message) {
	switch msg.Content.Type {
	case model.MsgAgentResponse:
		if msg.Content.AgentResponse == nil {
			return
		}
		r.deliver(ctx, result{response: msg.Content.AgentResponse})
	case model.MsgSubTasksGenerated:
		if msg.Content.SubTasksGenerated == nil {
			return
		}
		r.deliver(ctx, result{subTasks: msg.Content.SubTasksGenerated})
	case model.MsgRequestInformation:
		if msg.ReceiverID != nil || msg.Content.RequestInformation == nil {
			return
		}
		r.routeInformationRequest(msg)
	case model.MsgReturnInformation:
		if msg.ReceiverID != nil || msg.Content.ReturnInformation == nil {
			return
		}
		r.routeInformationReturn(msg)
	case model.MsgDelegateSubTask:
		if msg.Content.DelegateSubTask == nil {
			return
		}
		r.handleDelegation(ctx, *msg.Content.DelegateSubTask)
	}
}

func (r *Router) deliver(ctx context.Context, item result) {
	select {
	case r.results <- item:
	case <-ctx.Done():
	}
}

// routeInformationRequest picks an available worker of the requested role
// and republishes the request directed at it. The routed message id keys
// the pending map so the eventual answer can find its way back.
func (r *Router) routeInformationRequest(msg model.Message) {
	req := msg.Content.RequestInformation
	worker := r.registry.FindAvailable("", &req.TargetAgentRole)
	if worker == nil {
		slog.Warn("no available worker for information request",
			"role", req.TargetAgentRole, "requester", req.OriginalRequestingAgentID)
		return
	}
	directed := model.NewMessage(model.OrchestratorSender, worker.ID(), msg.Content)
	r.pendingInfo[directed.ID] = req.OriginalRequestingAgentID
	r.bus.Publish(directed)
	slog.Debug("routed information request",
		"requester", req.OriginalRequestingAgentID, "provider", worker.Name())
}

func (r *Router) routeInformationReturn(msg model.Message) {
	resp := msg.Content.ReturnInformation
	requester, ok := r.pendingInfo[resp.OriginalRequestID]
	if !ok {
		slog.Warn("dropping information return with unknown request id",
			"request", resp.OriginalRequestID, "responder", resp.RespondingAgentID)
		return
	}
	delete(r.pendingInfo, resp.OriginalRequestID)
	r.bus.Publish(model.NewMessage(model.OrchestratorSender, requester, msg.Content))
	slog.Debug("routed information return", "requester", requester, "responder", resp.RespondingAgentID)
}

// handleDelegation attaches the delegated sub-task under the parent and
// parks the delegating worker until the sub-task completes.
func (r *Router) handleDelegation(ctx context.Context, d model.SubTaskDelegation) {
	graphID, ok := r.graphs.FindGraphForTask(d.ParentTaskID)
	if !ok {
		r.failDelegation(d, "parent task not found in any graph")
		return
	}
	subTaskID, err := r.graphs.AttachSubTask(ctx, graphID, d.ParentTaskID, d.SubTaskSpec)
	if err != nil {
		r.failDelegation(d, err.Error())
		return
	}
	r.graphs.PutDelegation(subTaskID, d.DelegatingAgentID, d.ParentTaskID)
	if w, ok := r.registry.Get(d.DelegatingAgentID); ok {
		w.SetStatus(model.AgentWaitingForDelegatedTask)
	}
	slog.Info("delegated sub-task attached",
		"parent", d.ParentTaskID, "sub_task", subTaskID, "delegator", d.DelegatingAgentID)
}

// failDelegation tells the delegating agent its parent task failed
// because the sub-task could not be attached.
func (r *Router) failDelegation(d model.SubTaskDelegation, reason string) {
	slog.Warn("sub-task delegation failed",
		"parent", d.ParentTaskID, "delegator", d.DelegatingAgentID, "reason", reason)
	failed := model.TaskFailed(d.ParentTaskID, model.OrchestratorSender, reason)
	r.bus.Publish(model.NewMessage(model.OrchestratorSender, d.DelegatingAgentID, model.MessageContent{
		Type:          model.MsgAgentResponse,
		AgentResponse: &failed,
	}))
}
