package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hivemind-ai/hive/bus"
	"github.com/hivemind-ai/hive/capability"
	"github.com/hivemind-ai/hive/model"
)

// Registry spawns workers and tracks them for scheduling lookups.
type Registry struct {
	bus     *bus.Bus
	invoker capability.Invoker

	mu      sync.RWMutex
	workers map[string]Worker
}

// NewRegistry creates an empty registry.
func NewRegistry(b *bus.Bus, invoker capability.Invoker) *Registry {
	return &Registry{
		bus:     b,
		invoker: invoker,
		workers: make(map[string]Worker),
	}
}

// Spawn constructs the role implementation, subscribes it to the bus, and
// starts its run loop. The worker lives until ctx is canceled or the bus
// closes.
func (r *Registry) Spawn(ctx context.Context, config model.AgentConfig) (Worker, error) {
	if _, err := model.ParseAgentRole(string(config.Role)); err != nil {
		return nil, err
	}
	id := config.ID
	if id == "" {
		id = shortuuid.New()
		config.ID = id
	}
	name := fmt.Sprintf("%s-%s", config.Role, id)
	base := newBase(id, name, config, r.bus, r.invoker)

	var w Worker
	switch config.Role {
	case model.RolePlanner:
		w = &Planner{Base: base}
	case model.RoleResearcher:
		w = &Researcher{Base: base}
	case model.RoleWriter:
		w = &Writer{Base: base}
	case model.RoleCoder:
		w = &Coder{Base: base}
	case model.RoleValidator:
		w = &Validator{Base: base}
	case model.RoleSimpleWorker:
		w = &SimpleWorker{Base: base}
	default:
		return nil, errors.Errorf("unknown agent role %q", config.Role)
	}

	r.mu.Lock()
	if _, exists := r.workers[id]; exists {
		r.mu.Unlock()
		return nil, errors.Errorf("worker %s already registered", id)
	}
	r.workers[id] = w
	r.mu.Unlock()

	sub := r.bus.Subscribe()
	go base.loop(ctx, w, sub)

	slog.Info("spawned worker", "agent", name, "role", config.Role, "model", config.LLMModel)
	return w, nil
}

// FindAvailable returns an Idle or Ready worker, optionally filtered by
// role. Returns nil when none qualifies.
func (r *Registry) FindAvailable(taskID string, role *model.AgentRole) Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.workers {
		if !w.Status().Available() {
			continue
		}
		if role != nil && w.Role() != *role {
			continue
		}
		slog.Debug("found available worker", "agent", w.Name(), "task", taskID)
		return w
	}
	return nil
}

// Get looks a worker up by id.
func (r *Registry) Get(id string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return w, ok
}

// Workers snapshots the registered workers.
func (r *Registry) Workers() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	return out
}
