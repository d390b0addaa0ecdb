// Package orchestrator contains the engine core: the graph manager that
// owns all task graph state, the scheduler that hands ready nodes to
// workers, the router that translates bus traffic, and the result
// processor that applies task outcomes.
package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hivemind-ai/hive/model"
	"github.com/hivemind-ai/hive/store"
)

// defaultGraphID groups persisted tasks without a sprint during startup
// reconstruction.
const defaultGraphID = "default_graph"

// Delegation remembers who is waiting for a delegated sub-task.
type Delegation struct {
	AgentID      string
	ParentTaskID string
}

// GraphManager owns every task graph and sprint. All mutation goes
// through it so the write-through rule holds: the store is updated
// before memory, and a store failure leaves memory unchanged.
type GraphManager struct {
	store *store.Store

	mu     sync.RWMutex
	graphs map[string]*model.TaskGraph

	sprintMu sync.RWMutex
	sprints  map[string]*model.Sprint

	delegMu     sync.Mutex
	delegations map[string]Delegation
}

// NewGraphManager creates a manager and reconstructs in-memory state from
// the store.
func NewGraphManager(ctx context.Context, st *store.Store) (*GraphManager, error) {
	m := &GraphManager{
		store:       st,
		graphs:      make(map[string]*model.TaskGraph),
		sprints:     make(map[string]*model.Sprint),
		delegations: make(map[string]Delegation),
	}
	if err := m.loadState(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to load persisted state")
	}
	return m, nil
}

// loadState groups persisted tasks into graphs by sprint id (tasks
// without one share a default graph), attaches edges to the graph owning
// their source node, and recomputes roots. Loaded graphs start Pending.
func (m *GraphManager) loadState(ctx context.Context) error {
	tasks, err := m.store.ListTasks(ctx)
	if err != nil {
		return err
	}
	edges, err := m.store.ListEdges(ctx)
	if err != nil {
		return err
	}
	sprints, err := m.store.ListSprints(ctx)
	if err != nil {
		return err
	}

	for _, sprint := range sprints {
		m.sprints[sprint.ID] = sprint
	}

	now := time.Now().UTC()
	nodeToGraph := make(map[string]string)
	for _, task := range tasks {
		graphID := defaultGraphID
		name := "Recovered Tasks"
		if task.SprintID != nil && *task.SprintID != "" {
			graphID = *task.SprintID
			if sprint, ok := m.sprints[graphID]; ok {
				name = sprint.Name
			}
		}
		graph, ok := m.graphs[graphID]
		if !ok {
			graph = &model.TaskGraph{
				ID:          graphID,
				Name:        name,
				Description: "Reconstructed from persisted tasks",
				Nodes:       make(map[string]*model.TaskNode),
				Edges:       make(map[string]*model.TaskEdge),
				Status:      model.GraphPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			m.graphs[graphID] = graph
		}
		graph.Nodes[task.ID] = task
		nodeToGraph[task.ID] = graphID
	}

	for _, edge := range edges {
		graphID, ok := nodeToGraph[edge.FromNodeID]
		if !ok {
			slog.Warn("dropping edge with unknown source", "edge", edge.ID, "source", edge.FromNodeID)
			continue
		}
		if targetGraph, ok := nodeToGraph[edge.ToNodeID]; !ok || targetGraph != graphID {
			slog.Warn("dropping edge crossing graphs", "edge", edge.ID)
			continue
		}
		m.graphs[graphID].Edges[edge.ID] = edge
	}

	for _, graph := range m.graphs {
		graph.RootNodes = computeRoots(graph)
	}

	if len(tasks) > 0 {
		slog.Info("reconstructed task graphs from store",
			"graphs", len(m.graphs), "tasks", len(tasks), "edges", len(edges), "sprints", len(sprints))
	}
	return nil
}

func computeRoots(graph *model.TaskGraph) []string {
	hasIncoming := make(map[string]bool)
	for _, edge := range graph.Edges {
		hasIncoming[edge.ToNodeID] = true
	}
	var roots []string
	for id := range graph.Nodes {
		if !hasIncoming[id] {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// CreateGraph registers a new empty graph and returns its id.
func (m *GraphManager) CreateGraph(name, description, goal string) string {
	now := time.Now().UTC()
	graph := &model.TaskGraph{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Goal:        goal,
		Nodes:       make(map[string]*model.TaskNode),
		Edges:       make(map[string]*model.TaskEdge),
		Status:      model.GraphPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.mu.Lock()
	m.graphs[graph.ID] = graph
	m.mu.Unlock()
	slog.Info("created task graph", "graph", graph.ID, "name", name)
	return graph.ID
}

func newNodeFromSpec(spec model.TaskSpecification) *model.TaskNode {
	now := time.Now().UTC()
	priority := int64(0)
	if spec.Priority != nil {
		priority = *spec.Priority
	}
	return &model.TaskNode{
		ID:            uuid.NewString(),
		Name:          spec.Name,
		Description:   spec.Description,
		Spec:          spec,
		Status:        model.StatusPendingDependencies,
		AgentRoleType: spec.RequiredAgentRole,
		Priority:      priority,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// AddNode materializes a specification as a new PendingDependencies node.
// The row is persisted before the node becomes visible in memory.
func (m *GraphManager) AddNode(ctx context.Context, graphID string, spec model.TaskSpecification) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	graph, ok := m.graphs[graphID]
	if !ok {
		return "", errors.Errorf("task graph %s not found", graphID)
	}

	node := newNodeFromSpec(spec)
	if err := m.store.UpsertTask(ctx, node); err != nil {
		return "", errors.Wrapf(err, "failed to persist task %s", node.ID)
	}
	graph.Nodes[node.ID] = node
	graph.RootNodes = computeRoots(graph)
	graph.UpdatedAt = node.CreatedAt
	return node.ID, nil
}

// AttachSubTask adds a new node plus its dependency edge from parent in
// one step, so the node can never be observed without the edge that
// gates its promotion.
func (m *GraphManager) AttachSubTask(ctx context.Context, graphID, parentID string, spec model.TaskSpecification) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	graph, ok := m.graphs[graphID]
	if !ok {
		return "", errors.Errorf("task graph %s not found", graphID)
	}
	if _, ok := graph.Nodes[parentID]; !ok {
		return "", errors.Errorf("parent task %s not found in graph %s", parentID, graphID)
	}

	node := newNodeFromSpec(spec)
	if err := m.store.UpsertTask(ctx, node); err != nil {
		return "", errors.Wrapf(err, "failed to persist task %s", node.ID)
	}
	edge := &model.TaskEdge{
		ID:         uuid.NewString(),
		FromNodeID: parentID,
		ToNodeID:   node.ID,
		EdgeType:   model.EdgeDependency,
	}
	if err := m.store.UpsertEdge(ctx, edge); err != nil {
		if delErr := m.store.DeleteTask(ctx, node.ID); delErr != nil {
			slog.Error("failed to roll back sub-task row", "task", node.ID, "error", delErr)
		}
		return "", errors.Wrapf(err, "failed to persist edge %s", edge.ID)
	}

	graph.Nodes[node.ID] = node
	graph.Edges[edge.ID] = edge
	graph.RootNodes = computeRoots(graph)
	graph.UpdatedAt = time.Now().UTC()
	return node.ID, nil
}

// MaterializeSubTasks turns a decomposition into real nodes and edges in
// one step. Edges reference planner-local temp ids; any unknown temp id
// or persistence failure rolls the whole batch back. Returns the temp id
// to node id mapping.
func (m *GraphManager) MaterializeSubTasks(ctx context.Context, graphID string, defs []model.SubTaskDefinition, edgeDefs []model.SubTaskEdgeDefinition) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	graph, ok := m.graphs[graphID]
	if !ok {
		return nil, errors.Errorf("task graph %s not found", graphID)
	}

	tempToReal := make(map[string]string, len(defs))
	nodes := make([]*model.TaskNode, 0, len(defs))
	for _, def := range defs {
		node := newNodeFromSpec(def.TaskSpec)
		tempToReal[def.TempID] = node.ID
		nodes = append(nodes, node)
	}

	edges := make([]*model.TaskEdge, 0, len(edgeDefs))
	for _, def := range edgeDefs {
		fromID, okFrom := tempToReal[def.FromTempID]
		toID, okTo := tempToReal[def.ToTempID]
		if !okFrom || !okTo {
			return nil, errors.Errorf("edge references unknown temp id %s -> %s", def.FromTempID, def.ToTempID)
		}
		edges = append(edges, &model.TaskEdge{
			ID:         uuid.NewString(),
			FromNodeID: fromID,
			ToNodeID:   toID,
			EdgeType:   model.EdgeDependency,
		})
	}

	var persistedTasks, persistedEdges []string
	rollback := func() {
		for _, id := range persistedEdges {
			if err := m.store.DeleteEdge(ctx, id); err != nil {
				slog.Error("failed to roll back edge row", "edge", id, "error", err)
			}
		}
		for _, id := range persistedTasks {
			if err := m.store.DeleteTask(ctx, id); err != nil {
				slog.Error("failed to roll back task row", "task", id, "error", err)
			}
		}
	}

	for _, node := range nodes {
		if err := m.store.UpsertTask(ctx, node); err != nil {
			rollback()
			return nil, errors.Wrapf(err, "failed to persist task %s", node.ID)
		}
		persistedTasks = append(persistedTasks, node.ID)
	}
	for _, edge := range edges {
		if err := m.store.UpsertEdge(ctx, edge); err != nil {
			rollback()
			return nil, errors.Wrapf(err, "failed to persist edge %s", edge.ID)
		}
		persistedEdges = append(persistedEdges, edge.ID)
	}

	for _, node := range nodes {
		graph.Nodes[node.ID] = node
	}
	for _, edge := range edges {
		graph.Edges[edge.ID] = edge
	}
	graph.RootNodes = computeRoots(graph)
	graph.UpdatedAt = time.Now().UTC()
	return tempToReal, nil
}

// AddEdge links two existing nodes with a dependency edge. Edges that
// would close a cycle are rejected.
func (m *GraphManager) AddEdge(ctx context.Context, graphID, fromID, toID string, condition *string, dataMapping map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	graph, ok := m.graphs[graphID]
	if !ok {
		return "", errors.Errorf("task graph %s not found", graphID)
	}
	if _, ok := graph.Nodes[fromID]; !ok {
		return "", errors.Errorf("source task %s not found in graph %s", fromID, graphID)
	}
	if _, ok := graph.Nodes[toID]; !ok {
		return "", errors.Errorf("target task %s not found in graph %s", toID, graphID)
	}
	if reachable(graph, toID, fromID) {
		return "", errors.Errorf("edge %s -> %s would create a cycle", fromID, toID)
	}

	edge := &model.TaskEdge{
		ID:          uuid.NewString(),
		FromNodeID:  fromID,
		ToNodeID:    toID,
		Condition:   condition,
		DataMapping: dataMapping,
		EdgeType:    model.EdgeDependency,
	}
	if err := m.store.UpsertEdge(ctx, edge); err != nil {
		return "", errors.Wrapf(err, "failed to persist edge %s", edge.ID)
	}
	graph.Edges[edge.ID] = edge
	graph.RootNodes = computeRoots(graph)
	graph.UpdatedAt = time.Now().UTC()
	return edge.ID, nil
}

// reachable reports whether target can be reached from start along edges.
func reachable(graph *model.TaskGraph, start, target string) bool {
	if start == target {
		return true
	}
	visited := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, edge := range graph.Edges {
			if edge.FromNodeID != current || visited[edge.ToNodeID] {
				continue
			}
			if edge.ToNodeID == target {
				return true
			}
			visited[edge.ToNodeID] = true
			stack = append(stack, edge.ToNodeID)
		}
	}
	return false
}

// RemoveNode deletes a node and its touching edges, store rows first.
func (m *GraphManager) RemoveNode(ctx context.Context, graphID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	graph, ok := m.graphs[graphID]
	if !ok {
		return errors.Errorf("task graph %s not found", graphID)
	}
	if _, ok := graph.Nodes[nodeID]; !ok {
		return errors.Errorf("task %s not found in graph %s", nodeID, graphID)
	}

	var touching []string
	for id, edge := range graph.Edges {
		if edge.FromNodeID == nodeID || edge.ToNodeID == nodeID {
			touching = append(touching, id)
		}
	}
	for _, edgeID := range touching {
		if err := m.store.DeleteEdge(ctx, edgeID); err != nil {
			return err
		}
	}
	if err := m.store.DeleteTask(ctx, nodeID); err != nil {
		return err
	}
	for _, edgeID := range touching {
		delete(graph.Edges, edgeID)
	}
	delete(graph.Nodes, nodeID)
	graph.RootNodes = computeRoots(graph)
	graph.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveEdge deletes an edge, store row first.
func (m *GraphManager) RemoveEdge(ctx context.Context, graphID, edgeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	graph, ok := m.graphs[graphID]
	if !ok {
		return errors.Errorf("task graph %s not found", graphID)
	}
	if _, ok := graph.Edges[edgeID]; !ok {
		return errors.Errorf("edge %s not found in graph %s", edgeID, graphID)
	}
	if err := m.store.DeleteEdge(ctx, edgeID); err != nil {
		return err
	}
	delete(graph.Edges, edgeID)
	graph.RootNodes = computeRoots(graph)
	graph.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateNode applies mutate to a copy of the node, persists it, then
// commits it to memory.
func (m *GraphManager) UpdateNode(ctx context.Context, graphID, taskID string, mutate func(*model.TaskNode)) error {
	return m.UpdateNodeWhere(ctx, graphID, taskID, func(n *model.TaskNode) bool {
		mutate(n)
		return true
	})
}

// UpdateNodeWhere is UpdateNode with an abort option: mutate returning
// false skips both persistence and commit without error. Used for
// compare-and-set transitions.
func (m *GraphManager) UpdateNodeWhere(ctx context.Context, graphID, taskID string, mutate func(*model.TaskNode) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	graph, ok := m.graphs[graphID]
	if !ok {
		return errors.Errorf("task graph %s not found", graphID)
	}
	node, ok := graph.Nodes[taskID]
	if !ok {
		return errors.Errorf("task %s not found in graph %s", taskID, graphID)
	}

	updated := node.Clone()
	if !mutate(updated) {
		return nil
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := m.store.UpsertTask(ctx, updated); err != nil {
		return errors.Wrapf(err, "failed to persist task %s", taskID)
	}
	graph.Nodes[taskID] = updated
	graph.UpdatedAt = updated.UpdatedAt
	graph.Status = deriveGraphStatus(graph)
	return nil
}

func deriveGraphStatus(graph *model.TaskGraph) model.TaskGraphStatus {
	if graph.Status == model.GraphPaused {
		return model.GraphPaused
	}
	if len(graph.Nodes) == 0 {
		return model.GraphPending
	}
	allTerminal, anyFailed, anyStarted := true, false, false
	for _, node := range graph.Nodes {
		switch node.Status {
		case model.StatusCompleted:
			anyStarted = true
		case model.StatusFailed:
			anyFailed = true
			anyStarted = true
		case model.StatusExecuting, model.StatusBlockedByError, model.StatusInProgress:
			anyStarted = true
			allTerminal = false
		default:
			allTerminal = false
		}
	}
	switch {
	case allTerminal && anyFailed:
		return model.GraphFailed
	case allTerminal:
		return model.GraphCompleted
	case anyStarted:
		return model.GraphInProgress
	default:
		return model.GraphPending
	}
}

// Node returns a copy of one node.
func (m *GraphManager) Node(graphID, taskID string) (model.TaskNode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	graph, ok := m.graphs[graphID]
	if !ok {
		return model.TaskNode{}, false
	}
	node, ok := graph.Nodes[taskID]
	if !ok {
		return model.TaskNode{}, false
	}
	return *node.Clone(), true
}

// Nodes snapshots every node of a graph.
func (m *GraphManager) Nodes(graphID string) []model.TaskNode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	graph, ok := m.graphs[graphID]
	if !ok {
		return nil
	}
	out := make([]model.TaskNode, 0, len(graph.Nodes))
	for _, node := range graph.Nodes {
		out = append(out, *node.Clone())
	}
	return out
}

// Edges snapshots every edge of a graph.
func (m *GraphManager) Edges(graphID string) []model.TaskEdge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	graph, ok := m.graphs[graphID]
	if !ok {
		return nil
	}
	out := make([]model.TaskEdge, 0, len(graph.Edges))
	for _, edge := range graph.Edges {
		out = append(out, *edge)
	}
	return out
}

// FindGraphForTask locates the graph containing a task.
func (m *GraphManager) FindGraphForTask(taskID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, graph := range m.graphs {
		if _, ok := graph.Nodes[taskID]; ok {
			return id, true
		}
	}
	return "", false
}

// GraphStatus reports the derived status of a graph.
func (m *GraphManager) GraphStatus(graphID string) (model.TaskGraphStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	graph, ok := m.graphs[graphID]
	if !ok {
		return "", false
	}
	return graph.Status, true
}

// Candidate is a schedulable node snapshot.
type Candidate struct {
	GraphID string
	Node    model.TaskNode
}

// PromoteReady advances PendingDependencies nodes whose incoming
// dependency edges all lead to Completed nodes (or that have none) to
// ReadyToExecute. Returns how many nodes were promoted.
func (m *GraphManager) PromoteReady(ctx context.Context) int {
	type target struct{ graphID, taskID string }
	var targets []target

	m.mu.RLock()
	for graphID, graph := range m.graphs {
		for _, node := range graph.Nodes {
			if node.Status != model.StatusPendingDependencies {
				continue
			}
			ready := true
			for _, edge := range graph.Edges {
				if edge.ToNodeID != node.ID {
					continue
				}
				producer, ok := graph.Nodes[edge.FromNodeID]
				if !ok || producer.Status != model.StatusCompleted {
					ready = false
					break
				}
			}
			if ready {
				targets = append(targets, target{graphID, node.ID})
			}
		}
	}
	m.mu.RUnlock()

	promoted := 0
	for _, t := range targets {
		err := m.UpdateNodeWhere(ctx, t.graphID, t.taskID, func(n *model.TaskNode) bool {
			if n.Status != model.StatusPendingDependencies {
				return false
			}
			n.Status = model.StatusReadyToExecute
			return true
		})
		if err != nil {
			slog.Error("failed to promote task", "task", t.taskID, "error", err)
			continue
		}
		promoted++
	}
	return promoted
}

// ReadyCandidates snapshots every ReadyToExecute node ordered by
// priority descending, then creation time ascending.
func (m *GraphManager) ReadyCandidates() []Candidate {
	m.mu.RLock()
	var candidates []Candidate
	for graphID, graph := range m.graphs {
		for _, node := range graph.Nodes {
			if node.Status == model.StatusReadyToExecute {
				candidates = append(candidates, Candidate{GraphID: graphID, Node: *node.Clone()})
			}
		}
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Node.Priority != candidates[j].Node.Priority {
			return candidates[i].Node.Priority > candidates[j].Node.Priority
		}
		return candidates[i].Node.CreatedAt.Before(candidates[j].Node.CreatedAt)
	})
	return candidates
}

// PutDelegation records who waits for a delegated sub-task.
func (m *GraphManager) PutDelegation(subTaskID, agentID, parentTaskID string) {
	m.delegMu.Lock()
	defer m.delegMu.Unlock()
	m.delegations[subTaskID] = Delegation{AgentID: agentID, ParentTaskID: parentTaskID}
}

// TakeDelegation removes and returns the delegation record for a
// sub-task, if any.
func (m *GraphManager) TakeDelegation(subTaskID string) (Delegation, bool) {
	m.delegMu.Lock()
	defer m.delegMu.Unlock()
	d, ok := m.delegations[subTaskID]
	if ok {
		delete(m.delegations, subTaskID)
	}
	return d, ok
}
