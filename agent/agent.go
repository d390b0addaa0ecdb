// Package agent implements the role-specialized workers and their
// registry. Every worker shares the same run loop: receive messages from
// its bus subscription, act on assignments addressed to it, and report
// outcomes upstream to the orchestrator.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/hivemind-ai/hive/bus"
	"github.com/hivemind-ai/hive/capability"
	"github.com/hivemind-ai/hive/model"
)

// Worker is one spawned agent.
type Worker interface {
	ID() string
	Name() string
	Role() model.AgentRole
	Status() model.AgentStatus
	SetStatus(model.AgentStatus)
	Capabilities() model.AgentCapabilities

	// handleAssignment runs the role behavior for one task. The worker
	// reports the outcome upstream itself and sets its own final status.
	handleAssignment(ctx context.Context, task model.TaskNode)
}

// Optional role hooks picked up by the run loop.
type informationReceiver interface {
	onInformation(ctx context.Context, resp model.InformationResponse)
}

type informationProvider interface {
	onInformationRequest(ctx context.Context, msg model.Message, req model.InformationRequest)
}

type delegationWaiter interface {
	onDelegatedTaskCompleted(ctx context.Context, n model.DelegatedTaskCompletedNotification)
}

// Base carries the state and plumbing shared by every role.
type Base struct {
	id      string
	name    string
	role    model.AgentRole
	config  model.AgentConfig
	caps    model.AgentCapabilities
	bus     *bus.Bus
	invoker capability.Invoker

	mu     sync.Mutex
	status model.AgentStatus
}

func newBase(id, name string, config model.AgentConfig, b *bus.Bus, invoker capability.Invoker) *Base {
	return &Base{
		id:      id,
		name:    name,
		role:    config.Role,
		config:  config,
		caps:    model.CapabilitiesForRole(config.Role),
		bus:     b,
		invoker: invoker,
		status:  model.AgentIdle,
	}
}

func (b *Base) ID() string                            { return b.id }
func (b *Base) Name() string                          { return b.name }
func (b *Base) Role() model.AgentRole                 { return b.role }
func (b *Base) Capabilities() model.AgentCapabilities { return b.caps }

func (b *Base) Status() model.AgentStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Base) SetStatus(s model.AgentStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

// overrides builds the capability context from the worker's config.
func (b *Base) overrides() *capability.ContextOverrides {
	return &capability.ContextOverrides{
		Provider: b.config.LLMProvider,
		Model:    b.config.LLMModel,
	}
}

// sendMessage queues a general message upstream.
func (b *Base) sendMessage(ctx context.Context, receiver string, content model.MessageContent) {
	msg := model.NewMessage(b.id, receiver, content)
	if err := b.bus.Send(ctx, bus.Request{Message: &msg}); err != nil {
		slog.Warn("worker failed to send message", "agent", b.name, "type", content.Type, "error", err)
	}
}

// sendResponse queues a task outcome upstream.
func (b *Base) sendResponse(ctx context.Context, resp model.AgentResponse) {
	if err := b.bus.Send(ctx, bus.Request{Response: &resp}); err != nil {
		slog.Warn("worker failed to send response", "agent", b.name, "task", resp.TaskID, "error", err)
	}
}

// finishTask reports success and returns the worker to the pool.
func (b *Base) finishTask(ctx context.Context, taskID string, d model.Deliverable) {
	b.sendResponse(ctx, model.TaskCompleted(taskID, b.id, d))
	b.SetStatus(model.AgentIdle)
}

// failTask reports failure and returns the worker to the pool.
func (b *Base) failTask(ctx context.Context, taskID, errMsg string) {
	slog.Warn("task failed", "agent", b.name, "task", taskID, "error", errMsg)
	b.sendResponse(ctx, model.TaskFailed(taskID, b.id, errMsg))
	b.SetStatus(model.AgentIdle)
}

// loop is the shared receive loop. It exits when the bus closes or ctx is
// canceled.
func (b *Base) loop(ctx context.Context, w Worker, sub *bus.Subscription) {
	defer sub.Unsubscribe()
	for {
		msg, err := sub.Recv(ctx)
		if err != nil {
			var lagged *bus.LaggedError
			switch {
			case errors.As(err, &lagged):
				slog.Warn("worker lagged behind the bus", "agent", b.name, "dropped", lagged.Count)
				continue
			case errors.Is(err, bus.ErrClosed), ctx.Err() != nil:
				slog.Debug("worker loop stopped", "agent", b.name)
				return
			default:
				slog.Error("worker receive failed", "agent", b.name, "error", err)
				return
			}
		}
		if msg.ReceiverID != nil && *msg.ReceiverID != b.id {
			continue
		}
		b.dispatch(ctx, w, msg)
	}
}

func (b *Base) dispatch(ctx context.Context, w Worker, msg model.Message) {
	switch msg.Content.Type {
	case model.MsgTaskAssignment:
		if msg.Content.TaskAssignment == nil || msg.ReceiverID == nil {
			return
		}
		task := *msg.Content.TaskAssignment
		b.SetStatus(model.AgentBusy)
		b.runAssignment(ctx, w, task)

	case model.MsgReturnInformation:
		// Only accept returns the router directed at this worker.
		if msg.ReceiverID == nil || msg.Content.ReturnInformation == nil {
			return
		}
		if r, ok := w.(informationReceiver); ok {
			r.onInformation(ctx, *msg.Content.ReturnInformation)
		}

	case model.MsgRequestInformation:
		// Only answer requests the router directed at this worker.
		if msg.ReceiverID == nil || msg.Content.RequestInformation == nil {
			return
		}
		if p, ok := w.(informationProvider); ok {
			p.onInformationRequest(ctx, msg, *msg.Content.RequestInformation)
		}

	case model.MsgDelegatedTaskCompleted:
		if msg.Content.DelegatedTaskCompleted == nil {
			return
		}
		if d, ok := w.(delegationWaiter); ok {
			d.onDelegatedTaskCompleted(ctx, *msg.Content.DelegatedTaskCompleted)
		} else if b.Status() == model.AgentWaitingForDelegatedTask {
			b.SetStatus(model.AgentIdle)
		}
	}
}

// runAssignment isolates role code so a panic fails the task instead of
// killing the worker loop.
func (b *Base) runAssignment(ctx context.Context, w Worker, task model.TaskNode) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker panicked", "agent", b.name, "task", task.ID, "panic", r)
			b.failTask(ctx, task.ID, fmt.Sprintf("worker panic: %v", r))
		}
	}()
	w.handleAssignment(ctx, task)
}
