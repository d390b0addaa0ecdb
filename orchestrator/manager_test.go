package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind-ai/hive/internal/profile"
	"github.com/hivemind-ai/hive/model"
	"github.com/hivemind-ai/hive/store"
	"github.com/hivemind-ai/hive/store/db/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{
		Mode:   "demo",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "hive_test.db"),
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestManager(t *testing.T) (*GraphManager, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	m, err := NewGraphManager(context.Background(), st)
	require.NoError(t, err)
	return m, st
}

func addTask(t *testing.T, m *GraphManager, graphID, name string, priority int64) string {
	t.Helper()
	id, err := m.AddNode(context.Background(), graphID, model.TaskSpecification{
		Name:         name,
		Description:  "work on " + name,
		RequiredRole: model.RoleSimpleWorker,
		Priority:     &priority,
		TaskType:     model.TaskGeneric,
	})
	require.NoError(t, err)
	return id
}

func TestAddNodeWritesThrough(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)
	graphID := m.CreateGraph("g", "d", "goal")

	taskID := addTask(t, m, graphID, "alpha", 3)

	persisted, err := st.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingDependencies, persisted.Status)
	assert.Equal(t, int64(3), persisted.Priority)

	require.NoError(t, m.UpdateNode(ctx, graphID, taskID, func(n *model.TaskNode) {
		n.Status = model.StatusCompleted
	}))
	persisted, err = st.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, persisted.Status)
}

func TestUpdateNodeWhereSkipsWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)
	graphID := m.CreateGraph("g", "d", "goal")
	taskID := addTask(t, m, graphID, "alpha", 0)

	require.NoError(t, m.UpdateNodeWhere(ctx, graphID, taskID, func(n *model.TaskNode) bool {
		if n.Status != model.StatusExecuting {
			return false
		}
		n.Status = model.StatusCompleted
		return true
	}))

	node, ok := m.Node(graphID, taskID)
	require.True(t, ok)
	assert.Equal(t, model.StatusPendingDependencies, node.Status)
	persisted, err := st.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingDependencies, persisted.Status)
}

func TestAddEdgeRejectsCycles(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	graphID := m.CreateGraph("g", "d", "goal")
	a := addTask(t, m, graphID, "a", 0)
	b := addTask(t, m, graphID, "b", 0)
	c := addTask(t, m, graphID, "c", 0)

	_, err := m.AddEdge(ctx, graphID, a, b, nil, nil)
	require.NoError(t, err)
	_, err = m.AddEdge(ctx, graphID, b, c, nil, nil)
	require.NoError(t, err)

	_, err = m.AddEdge(ctx, graphID, c, a, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")

	_, err = m.AddEdge(ctx, graphID, a, a, nil, nil)
	require.Error(t, err)
}

func TestAddEdgeRequiresBothEndpoints(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	graphID := m.CreateGraph("g", "d", "goal")
	a := addTask(t, m, graphID, "a", 0)

	_, err := m.AddEdge(ctx, graphID, a, "missing", nil, nil)
	require.Error(t, err)
	_, err = m.AddEdge(ctx, graphID, "missing", a, nil, nil)
	require.Error(t, err)
}

func TestPromoteReadyAndOrdering(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	graphID := m.CreateGraph("g", "d", "goal")
	a := addTask(t, m, graphID, "a", 5)
	b := addTask(t, m, graphID, "b", 0)
	c := addTask(t, m, graphID, "c", 9)
	_, err := m.AddEdge(ctx, graphID, a, b, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, m.PromoteReady(ctx))

	candidates := m.ReadyCandidates()
	require.Len(t, candidates, 2)
	assert.Equal(t, c, candidates[0].Node.ID)
	assert.Equal(t, a, candidates[1].Node.ID)

	nodeB, ok := m.Node(graphID, b)
	require.True(t, ok)
	assert.Equal(t, model.StatusPendingDependencies, nodeB.Status)

	require.NoError(t, m.UpdateNode(ctx, graphID, a, func(n *model.TaskNode) {
		n.Status = model.StatusCompleted
	}))
	assert.Equal(t, 1, m.PromoteReady(ctx))
	nodeB, _ = m.Node(graphID, b)
	assert.Equal(t, model.StatusReadyToExecute, nodeB.Status)
}

func TestRemoveNodeDropsTouchingEdges(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)
	graphID := m.CreateGraph("g", "d", "goal")
	a := addTask(t, m, graphID, "a", 0)
	b := addTask(t, m, graphID, "b", 0)
	_, err := m.AddEdge(ctx, graphID, a, b, nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.RemoveNode(ctx, graphID, b))
	assert.Empty(t, m.Edges(graphID))
	assert.Len(t, m.Nodes(graphID), 1)

	edges, err := st.ListEdges(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestReconstructionGroupsBySprint(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m, err := NewGraphManager(ctx, st)
	require.NoError(t, err)

	graphID := m.CreateGraph("g", "d", "goal")
	a := addTask(t, m, graphID, "a", 0)
	b := addTask(t, m, graphID, "b", 0)
	loose := addTask(t, m, graphID, "loose", 0)
	_, err = m.AddEdge(ctx, graphID, a, b, nil, nil)
	require.NoError(t, err)

	sprintID, err := m.CreateSprint(ctx, "Sprint 1", "ship it", []string{a, b})
	require.NoError(t, err)

	reloaded, err := NewGraphManager(ctx, st)
	require.NoError(t, err)

	sprintGraph, ok := reloaded.FindGraphForTask(a)
	require.True(t, ok)
	assert.Equal(t, sprintID, sprintGraph)
	assert.Len(t, reloaded.Nodes(sprintGraph), 2)
	assert.Len(t, reloaded.Edges(sprintGraph), 1)

	looseGraph, ok := reloaded.FindGraphForTask(loose)
	require.True(t, ok)
	assert.Equal(t, defaultGraphID, looseGraph)

	status, ok := reloaded.GraphStatus(sprintGraph)
	require.True(t, ok)
	assert.Equal(t, model.GraphPending, status)

	sprint, ok := reloaded.Sprint(sprintID)
	require.True(t, ok)
	assert.Equal(t, model.SprintPlanned, sprint.Status)
}

func TestSprintLifecycle(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	graphID := m.CreateGraph("g", "d", "goal")
	a := addTask(t, m, graphID, "a", 0)
	require.NoError(t, m.UpdateNode(ctx, graphID, a, func(n *model.TaskNode) {
		n.Status = model.StatusCompleted
		n.Outputs = []model.Deliverable{model.NewResearchReport("findings", nil)}
	}))

	sprintID, err := m.CreateSprint(ctx, "Sprint 1", "ship it", []string{a})
	require.NoError(t, err)

	err = m.CompleteSprint(ctx, sprintID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in Active status")

	require.NoError(t, m.StartSprint(ctx, sprintID))
	err = m.StartSprint(ctx, sprintID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in Planned status")

	require.NoError(t, m.CompleteSprint(ctx, sprintID))
	sprint, ok := m.Sprint(sprintID)
	require.True(t, ok)
	assert.Equal(t, model.SprintCompleted, sprint.Status)
	require.NotNil(t, sprint.StartDate)
	require.NotNil(t, sprint.EndDate)
	assert.Equal(t, []string{a}, sprint.PlannedTaskIDs)
	assert.Equal(t, []string{a}, sprint.CompletedTaskIDs)

	require.NoError(t, m.DeleteSprint(ctx, sprintID))
	_, ok = m.Sprint(sprintID)
	assert.False(t, ok)
}

func TestAbortSprintRecordsReviewNotes(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	graphID := m.CreateGraph("g", "d", "goal")
	a := addTask(t, m, graphID, "a", 0)

	sprintID, err := m.CreateSprint(ctx, "Sprint 2", "stretch goal", []string{a})
	require.NoError(t, err)
	require.NoError(t, m.StartSprint(ctx, sprintID))

	notes := "descoped after review"
	require.NoError(t, m.AbortSprint(ctx, sprintID, &notes))
	sprint, ok := m.Sprint(sprintID)
	require.True(t, ok)
	assert.Equal(t, model.SprintAborted, sprint.Status)
	require.NotNil(t, sprint.EndDate)
	require.NotNil(t, sprint.ReviewNotes)
	assert.Equal(t, notes, *sprint.ReviewNotes)

	err = m.AbortSprint(ctx, sprintID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already closed")
}

func TestAttachSubTaskCreatesGatedNode(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	graphID := m.CreateGraph("g", "d", "goal")
	parent := addTask(t, m, graphID, "parent", 0)

	subID, err := m.AttachSubTask(ctx, graphID, parent, model.TaskSpecification{
		Name:         "sub",
		Description:  "delegated work",
		RequiredRole: model.RoleValidator,
		TaskType:     model.TaskValidateContent,
	})
	require.NoError(t, err)

	edges := m.Edges(graphID)
	require.Len(t, edges, 1)
	assert.Equal(t, parent, edges[0].FromNodeID)
	assert.Equal(t, subID, edges[0].ToNodeID)

	// Parent is not Completed, so the sub-task must stay gated.
	m.PromoteReady(ctx)
	node, ok := m.Node(graphID, subID)
	require.True(t, ok)
	assert.Equal(t, model.StatusPendingDependencies, node.Status)

	_, err = m.AttachSubTask(ctx, graphID, "missing", model.TaskSpecification{Name: "x"})
	require.Error(t, err)
}

func TestMaterializeSubTasksRejectsUnknownTempID(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)
	graphID := m.CreateGraph("g", "d", "goal")
	original := addTask(t, m, graphID, "original", 0)

	defs := []model.SubTaskDefinition{
		{Title: "a", TempID: "a", TaskSpec: model.TaskSpecification{Name: "a", RequiredRole: model.RoleSimpleWorker, TaskType: model.TaskGeneric}},
	}
	edges := []model.SubTaskEdgeDefinition{{FromTempID: "a", ToTempID: "missing"}}

	_, err := m.MaterializeSubTasks(ctx, graphID, defs, edges)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown temp id")

	assert.Len(t, m.Nodes(graphID), 1)
	tasks, err := st.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, original, tasks[0].ID)
}

func TestMaterializeSubTasksCommitsBatch(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	graphID := m.CreateGraph("g", "d", "goal")
	addTask(t, m, graphID, "original", 0)

	defs := []model.SubTaskDefinition{
		{Title: "a", TempID: "a", TaskSpec: model.TaskSpecification{Name: "a", RequiredRole: model.RoleSimpleWorker, TaskType: model.TaskGeneric}},
		{Title: "b", TempID: "b", TaskSpec: model.TaskSpecification{Name: "b", RequiredRole: model.RoleSimpleWorker, TaskType: model.TaskGeneric}},
	}
	edges := []model.SubTaskEdgeDefinition{{FromTempID: "a", ToTempID: "b"}}

	tempToReal, err := m.MaterializeSubTasks(ctx, graphID, defs, edges)
	require.NoError(t, err)
	require.Len(t, tempToReal, 2)

	assert.Len(t, m.Nodes(graphID), 3)
	graphEdges := m.Edges(graphID)
	require.Len(t, graphEdges, 1)
	assert.Equal(t, tempToReal["a"], graphEdges[0].FromNodeID)
	assert.Equal(t, tempToReal["b"], graphEdges[0].ToNodeID)
}

func TestDelegationBookkeeping(t *testing.T) {
	m, _ := newTestManager(t)
	m.PutDelegation("sub-1", "agent-1", "parent-1")

	d, ok := m.TakeDelegation("sub-1")
	require.True(t, ok)
	assert.Equal(t, "agent-1", d.AgentID)
	assert.Equal(t, "parent-1", d.ParentTaskID)

	_, ok = m.TakeDelegation("sub-1")
	assert.False(t, ok)
}

func TestGraphStatusDerivation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	graphID := m.CreateGraph("g", "d", "goal")
	a := addTask(t, m, graphID, "a", 0)
	b := addTask(t, m, graphID, "b", 0)

	require.NoError(t, m.UpdateNode(ctx, graphID, a, func(n *model.TaskNode) {
		n.Status = model.StatusExecuting
	}))
	status, _ := m.GraphStatus(graphID)
	assert.Equal(t, model.GraphInProgress, status)

	require.NoError(t, m.UpdateNode(ctx, graphID, a, func(n *model.TaskNode) {
		n.Status = model.StatusCompleted
	}))
	require.NoError(t, m.UpdateNode(ctx, graphID, b, func(n *model.TaskNode) {
		n.Status = model.StatusFailed
	}))
	status, _ = m.GraphStatus(graphID)
	assert.Equal(t, model.GraphFailed, status)
}
