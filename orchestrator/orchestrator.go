package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hivemind-ai/hive/agent"
	"github.com/hivemind-ai/hive/bus"
	"github.com/hivemind-ai/hive/internal/profile"
	"github.com/hivemind-ai/hive/model"
	"github.com/hivemind-ai/hive/store"
)

// agentSelections maps the public agent selector names to roles.
var agentSelections = map[string]model.AgentRole{
	"PlannerAgent":    model.RolePlanner,
	"ResearcherAgent": model.RoleResearcher,
	"WriterAgent":     model.RoleWriter,
	"CoderAgent":      model.RoleCoder,
	"ValidatorAgent":  model.RoleValidator,
	"SimpleWorker":    model.RoleSimpleWorker,
}

// Orchestrator wires the engine together: graph manager, scheduler,
// router, and result processor, all sharing one bus and registry.
type Orchestrator struct {
	profile  *profile.Profile
	bus      *bus.Bus
	registry *agent.Registry
	graphs   *GraphManager

	scheduler *Scheduler
	router    *Router
	processor *ResultProcessor
	results   chan result
}

// New builds an engine over the given store, bus, and registry,
// reconstructing persisted graph state.
func New(ctx context.Context, p *profile.Profile, st *store.Store, b *bus.Bus, registry *agent.Registry) (*Orchestrator, error) {
	graphs, err := NewGraphManager(ctx, st)
	if err != nil {
		return nil, err
	}

	results := make(chan result, bus.DefaultCapacity)
	o := &Orchestrator{
		profile:   p,
		bus:       b,
		registry:  registry,
		graphs:    graphs,
		results:   results,
		scheduler: newScheduler(graphs, registry, b, p.SchedulerInterval),
		router:    newRouter(b.Subscribe(), b, graphs, registry, results),
		processor: newResultProcessor(results, graphs, registry, b),
	}
	return o, nil
}

// Graphs exposes the graph manager for callers that inspect or extend
// graph state directly.
func (o *Orchestrator) Graphs() *GraphManager {
	return o.graphs
}

// Run starts the engine loops and blocks until ctx is canceled or one of
// them fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.pumpRequests(ctx) })
	g.Go(func() error { return o.router.Run(ctx) })
	g.Go(func() error { return o.processor.Run(ctx) })
	g.Go(func() error { return o.scheduler.Run(ctx) })
	slog.Info("orchestrator running", "scheduler_interval", o.profile.SchedulerInterval)
	return g.Wait()
}

// pumpRequests is the single consumer of the upstream queue. Worker
// messages go back out on the broadcast topic as-is; bare responses are
// wrapped in an envelope first.
func (o *Orchestrator) pumpRequests(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-o.bus.Requests():
			if !ok {
				return nil
			}
			switch {
			case req.Message != nil:
				o.bus.Publish(*req.Message)
			case req.Response != nil:
				o.bus.Publish(model.NewMessage(req.Response.AgentID, "", model.MessageContent{
					Type:          model.MsgAgentResponse,
					AgentResponse: req.Response,
				}))
			}
		}
	}
}

// ExecuteAgentTask spawns a worker for the selected agent, creates a
// fresh graph around the prompt, and adds its root task. The scheduler
// picks the task up on its next cycle. Returns the new task id.
func (o *Orchestrator) ExecuteAgentTask(ctx context.Context, prompt, agentName, llmModel string) (string, error) {
	role, ok := agentSelections[agentName]
	if !ok {
		return "", errors.Errorf("Invalid agent role selected: %s", agentName)
	}

	config := model.AgentConfig{
		ID:          uuid.NewString(),
		Role:        role,
		LLMModel:    llmModel,
		LLMProvider: "openrouter",
	}
	if _, err := o.registry.Spawn(ctx, config); err != nil {
		return "", errors.Wrap(err, "failed to spawn worker")
	}

	graphID := o.graphs.CreateGraph(
		fmt.Sprintf("Task Graph for %s", prompt),
		fmt.Sprintf("Graph for task: %s", prompt),
		prompt,
	)

	priority := int64(1)
	spec := model.TaskSpecification{
		Name:              fmt.Sprintf("Execute %s with prompt: %s", agentName, prompt),
		Description:       prompt,
		RequiredRole:      role,
		Priority:          &priority,
		RequiredAgentRole: &role,
		Context:           prompt,
		TaskType:          model.TaskGeneric,
	}
	taskID, err := o.graphs.AddNode(ctx, graphID, spec)
	if err != nil {
		return "", err
	}
	slog.Info("submitted agent task", "task", taskID, "agent", agentName, "graph", graphID)
	return taskID, nil
}
