package orchestrator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind-ai/hive/agent"
	"github.com/hivemind-ai/hive/bus"
	"github.com/hivemind-ai/hive/capability"
	"github.com/hivemind-ai/hive/internal/profile"
	"github.com/hivemind-ai/hive/model"
	"github.com/hivemind-ai/hive/store"
	"github.com/hivemind-ai/hive/store/db/sqlite"
)

// fakeInvoker serves canned capability output keyed by capability id.
// A positive failure budget makes that many invocations return an LLM
// error first; a negative budget fails forever.
type fakeInvoker struct {
	mu       sync.Mutex
	content  map[string]string
	failures map[string]int
	calls    []capability.Input
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		content:  make(map[string]string),
		failures: make(map[string]int),
	}
}

func (f *fakeInvoker) Invoke(_ context.Context, in capability.Input) (*capability.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)

	if n := f.failures[in.CapabilityID]; n != 0 {
		if n > 0 {
			f.failures[in.CapabilityID] = n - 1
		}
		return &capability.Output{
			CapabilityID: in.CapabilityID,
			Status:       capability.StatusLLMError,
			ErrorMessage: "model unavailable",
		}, nil
	}

	content, ok := f.content[in.CapabilityID]
	if !ok {
		content = "{}"
	}
	return &capability.Output{
		CapabilityID:     in.CapabilityID,
		Status:           capability.StatusSuccess,
		ProcessedContent: json.RawMessage(content),
	}, nil
}

func (f *fakeInvoker) callsFor(capabilityID string) []capability.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []capability.Input
	for _, call := range f.calls {
		if call.CapabilityID == capabilityID {
			out = append(out, call)
		}
	}
	return out
}

type engineHarness struct {
	ctx      context.Context
	orc      *Orchestrator
	store    *store.Store
	bus      *bus.Bus
	registry *agent.Registry
	invoker  *fakeInvoker
}

func newEngine(t *testing.T) *engineHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	p := &profile.Profile{
		Mode:              "demo",
		Driver:            "sqlite",
		DSN:               filepath.Join(t.TempDir(), "hive_engine.db"),
		SchedulerInterval: 10 * time.Millisecond,
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	require.NoError(t, st.Migrate(ctx))

	b := bus.New()
	invoker := newFakeInvoker()
	registry := agent.NewRegistry(b, invoker)

	orc, err := New(ctx, p, st, b, registry)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = orc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		b.Close()
		_ = st.Close()
	})

	return &engineHarness{ctx: ctx, orc: orc, store: st, bus: b, registry: registry, invoker: invoker}
}

func (h *engineHarness) spawn(t *testing.T, role model.AgentRole) agent.Worker {
	t.Helper()
	w, err := h.registry.Spawn(h.ctx, model.AgentConfig{
		Role:        role,
		LLMModel:    "test-model",
		LLMProvider: "openrouter",
	})
	require.NoError(t, err)
	return w
}

func (h *engineHarness) addTask(t *testing.T, graphID string, spec model.TaskSpecification, tweak func(*model.TaskNode)) string {
	t.Helper()
	id, err := h.orc.Graphs().AddNode(h.ctx, graphID, spec)
	require.NoError(t, err)
	if tweak != nil {
		require.NoError(t, h.orc.Graphs().UpdateNode(h.ctx, graphID, id, tweak))
	}
	return id
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *engineHarness) waitForStatus(t *testing.T, graphID, taskID string, status model.TaskStatus) model.TaskNode {
	t.Helper()
	var node model.TaskNode
	waitFor(t, string(status)+" on task "+taskID, func() bool {
		n, ok := h.orc.Graphs().Node(graphID, taskID)
		if !ok {
			return false
		}
		node = n
		return n.Status == status
	})
	return node
}

func simpleSpec(name, description string) model.TaskSpecification {
	role := model.RoleSimpleWorker
	return model.TaskSpecification{
		Name:              name,
		Description:       description,
		RequiredRole:      role,
		RequiredAgentRole: &role,
		TaskType:          model.TaskGeneric,
	}
}

func withCapability(id string) func(*model.TaskNode) {
	return func(n *model.TaskNode) {
		capID := id
		n.CapabilityID = &capID
	}
}

func TestSingleTaskLifecycle(t *testing.T) {
	h := newEngine(t)
	h.invoker.content["echo_v1"] = `"processed result"`
	worker := h.spawn(t, model.RoleSimpleWorker)

	graphID := h.orc.Graphs().CreateGraph("g", "d", "goal")
	taskID := h.addTask(t, graphID, simpleSpec("echo", "process the thing"), withCapability("echo_v1"))

	node := h.waitForStatus(t, graphID, taskID, model.StatusCompleted)
	require.Len(t, node.Outputs, 1)
	assert.Equal(t, model.DeliverableResearchReport, node.Outputs[0].Kind)
	assert.Equal(t, `"processed result"`, node.Outputs[0].Content)
	require.NotNil(t, node.AssignedAgentID)
	assert.Equal(t, worker.ID(), *node.AssignedAgentID)
	assert.NotNil(t, node.ActualDurationMs)
	assert.Nil(t, node.ErrorMessage)

	waitFor(t, "worker back in pool", func() bool {
		return worker.Status() == model.AgentIdle
	})
	status, ok := h.orc.Graphs().GraphStatus(graphID)
	require.True(t, ok)
	assert.Equal(t, model.GraphCompleted, status)

	persisted, err := h.store.GetTask(h.ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, persisted.Status)
}

func TestRetryExhaustionFailsTerminally(t *testing.T) {
	h := newEngine(t)
	h.invoker.failures["echo_v1"] = -1
	worker := h.spawn(t, model.RoleSimpleWorker)

	graphID := h.orc.Graphs().CreateGraph("g", "d", "goal")
	taskID := h.addTask(t, graphID, simpleSpec("flaky", "always fails"), func(n *model.TaskNode) {
		withCapability("echo_v1")(n)
		n.RetryPolicy = &model.TaskRetryPolicy{MaxRetries: 2, RetryDelayMs: 0, BackoffStrategy: model.BackoffFixed}
	})

	node := h.waitForStatus(t, graphID, taskID, model.StatusFailed)
	assert.Equal(t, uint32(2), node.RetryCount)
	require.NotNil(t, node.ErrorMessage)
	assert.Contains(t, *node.ErrorMessage, "capability echo_v1 failed")
	assert.Len(t, h.invoker.callsFor("echo_v1"), 3)

	// The worker returns to the pool; one terminal failure must not
	// starve later tasks of its role.
	waitFor(t, "worker back in pool", func() bool {
		return worker.Status() == model.AgentIdle
	})
	h.invoker.mu.Lock()
	h.invoker.failures["echo_v1"] = 0
	h.invoker.content["echo_v1"] = `"recovered"`
	h.invoker.mu.Unlock()
	nextID := h.addTask(t, graphID, simpleSpec("next", "runs after the failure"), withCapability("echo_v1"))
	h.waitForStatus(t, graphID, nextID, model.StatusCompleted)
}

func TestRetryDelayParksThenRecovers(t *testing.T) {
	h := newEngine(t)
	h.invoker.failures["echo_v1"] = 1
	h.invoker.content["echo_v1"] = `"second time lucky"`
	h.spawn(t, model.RoleSimpleWorker)

	graphID := h.orc.Graphs().CreateGraph("g", "d", "goal")
	taskID := h.addTask(t, graphID, simpleSpec("flaky", "fails once"), func(n *model.TaskNode) {
		withCapability("echo_v1")(n)
		n.RetryPolicy = &model.TaskRetryPolicy{MaxRetries: 3, RetryDelayMs: 50, BackoffStrategy: model.BackoffExponential}
	})

	node := h.waitForStatus(t, graphID, taskID, model.StatusCompleted)
	assert.Equal(t, uint32(1), node.RetryCount)
	require.Len(t, node.Outputs, 1)
	assert.Equal(t, `"second time lucky"`, node.Outputs[0].Content)
}

func TestDependencyDataFlowsDownstream(t *testing.T) {
	h := newEngine(t)
	h.invoker.content["produce_v1"] = `"data-alpha"`
	h.invoker.content["consume_v1"] = `"done"`
	h.spawn(t, model.RoleSimpleWorker)

	graphID := h.orc.Graphs().CreateGraph("g", "d", "goal")
	producerID := h.addTask(t, graphID, simpleSpec("produce", "make the data"), withCapability("produce_v1"))

	consumerSpec := simpleSpec("consume", "use the data")
	consumerSpec.InputMappings = []model.InputMapping{{
		SourceTaskID:    producerID,
		DeliverableKey:  `"data-alpha"`,
		TargetInputName: "payload",
	}}
	consumerID := h.addTask(t, graphID, consumerSpec, withCapability("consume_v1"))

	node := h.waitForStatus(t, graphID, consumerID, model.StatusCompleted)
	require.Len(t, node.Inputs, 1)
	assert.Equal(t, "payload", node.Inputs[0].Name)
	assert.Equal(t, `"data-alpha"`, node.Inputs[0].Data)
	assert.Equal(t, []string{producerID}, node.Inputs[0].SourceDeliverableIDs)

	calls := h.invoker.callsFor("consume_v1")
	require.Len(t, calls, 1)
	assert.Equal(t, `"data-alpha"`, calls[0].Data["payload"])
}

func TestInputBindingFailureIsTerminal(t *testing.T) {
	h := newEngine(t)
	h.invoker.content["produce_v1"] = `"data-alpha"`
	h.spawn(t, model.RoleSimpleWorker)

	graphID := h.orc.Graphs().CreateGraph("g", "d", "goal")
	producerID := h.addTask(t, graphID, simpleSpec("produce", "make the data"), withCapability("produce_v1"))

	consumerSpec := simpleSpec("consume", "use the data")
	consumerSpec.InputMappings = []model.InputMapping{{
		SourceTaskID:    producerID,
		DeliverableKey:  "no-such-deliverable",
		TargetInputName: "payload",
	}}
	consumerID := h.addTask(t, graphID, consumerSpec, withCapability("consume_v1"))

	node := h.waitForStatus(t, graphID, consumerID, model.StatusFailed)
	require.NotNil(t, node.ErrorMessage)
	assert.True(t, strings.HasPrefix(*node.ErrorMessage,
		"Input mapping failed. Could not resolve inputs based on mappings:"))
	assert.Empty(t, h.invoker.callsFor("consume_v1"))
}

func TestWriterGathersResearchBeforeDrafting(t *testing.T) {
	h := newEngine(t)
	h.invoker.content["perform_basic_research_v1"] = `{"summary":"generics ship in 1.18","sources":["release notes"]}`
	h.invoker.content["draft_content_v1"] = `{"draft_text":"final draft"}`
	writer := h.spawn(t, model.RoleWriter)
	h.spawn(t, model.RoleResearcher)

	role := model.RoleWriter
	graphID := h.orc.Graphs().CreateGraph("g", "d", "goal")
	taskID := h.addTask(t, graphID, model.TaskSpecification{
		Name:              "post",
		Description:       "Write a post. Needs research on Go generics.",
		RequiredRole:      role,
		RequiredAgentRole: &role,
		TaskType:          model.TaskWriteContent,
	}, nil)

	node := h.waitForStatus(t, graphID, taskID, model.StatusCompleted)
	require.Len(t, node.Outputs, 1)
	assert.Equal(t, model.DeliverableCodePatch, node.Outputs[0].Kind)
	assert.Equal(t, "final draft", node.Outputs[0].Content)

	drafts := h.invoker.callsFor("draft_content_v1")
	require.Len(t, drafts, 1)
	researchContext, _ := drafts[0].Data["research_context"].(string)
	assert.Contains(t, researchContext, "Summary: generics ship in 1.18")
	assert.Contains(t, researchContext, "release notes")

	waitFor(t, "writer back in pool", func() bool {
		return writer.Status() == model.AgentIdle
	})
}

func TestCoderDelegatesValidation(t *testing.T) {
	h := newEngine(t)
	h.invoker.content["generate_code_v1"] = `{"generated_code":"fn main() {}","explanation":"entry point"}`
	h.invoker.content["validate_content_v1"] = `{"is_valid":true,"feedback":"looks fine","criteria_results":{"syntax correctness":true}}`
	coder := h.spawn(t, model.RoleCoder)
	h.spawn(t, model.RoleValidator)

	role := model.RoleCoder
	graphID := h.orc.Graphs().CreateGraph("g", "d", "goal")
	parentID := h.addTask(t, graphID, model.TaskSpecification{
		Name:              "write main",
		Description:       "write the program entry point",
		RequiredRole:      role,
		RequiredAgentRole: &role,
		Context:           `{"language":"rust"}`,
		TaskType:          model.TaskGenerateCode,
	}, nil)

	parent := h.waitForStatus(t, graphID, parentID, model.StatusCompleted)
	require.Len(t, parent.Outputs, 1)
	assert.Equal(t, model.DeliverableCodePatch, parent.Outputs[0].Kind)
	assert.Equal(t, "fn main() {}", parent.Outputs[0].Content)

	var subTaskID string
	waitFor(t, "validation sub-task", func() bool {
		for _, node := range h.orc.Graphs().Nodes(graphID) {
			if node.ID != parentID && strings.HasPrefix(node.Name, "Validate Code for Task ") {
				subTaskID = node.ID
				return true
			}
		}
		return false
	})

	sub := h.waitForStatus(t, graphID, subTaskID, model.StatusCompleted)
	require.Len(t, sub.Outputs, 1)
	verdict, err := agent.ParseVerdict(sub.Outputs[0].Content)
	require.NoError(t, err)
	assert.True(t, verdict.IsValid)

	validations := h.invoker.callsFor("validate_content_v1")
	require.Len(t, validations, 1)
	assert.Equal(t, "fn main() {}", validations[0].Data["content"])
	assert.Equal(t, "code", validations[0].Data["content_type"])

	edges := h.orc.Graphs().Edges(graphID)
	require.Len(t, edges, 1)
	assert.Equal(t, parentID, edges[0].FromNodeID)
	assert.Equal(t, subTaskID, edges[0].ToNodeID)

	waitFor(t, "coder released after validation", func() bool {
		return coder.Status() == model.AgentIdle
	})
}

func TestDelegationNotificationRequiresWaitingAgent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m, err := NewGraphManager(ctx, st)
	require.NoError(t, err)

	b := bus.New()
	defer b.Close()
	registry := agent.NewRegistry(b, newFakeInvoker())
	coder, err := registry.Spawn(ctx, model.AgentConfig{Role: model.RoleCoder, LLMModel: "test-model", LLMProvider: "openrouter"})
	require.NoError(t, err)

	graphID := m.CreateGraph("g", "d", "goal")
	parentID := addTask(t, m, graphID, "parent", 0)
	subID, err := m.AttachSubTask(ctx, graphID, parentID, model.TaskSpecification{
		Name:         "validate",
		RequiredRole: model.RoleValidator,
		TaskType:     model.TaskValidateContent,
	})
	require.NoError(t, err)
	m.PutDelegation(subID, coder.ID(), parentID)

	// The coder already moved on (Idle, not WaitingForDelegatedTask); the
	// completion consumes the delegation but must not notify.
	sub := b.Subscribe()
	defer sub.Unsubscribe()
	p := newResultProcessor(nil, m, registry, b)
	p.handleCompleted(ctx, model.TaskCompleted(subID, "validator-1", model.NewCodePatch("ok")))

	_, stillRecorded := m.TakeDelegation(subID)
	assert.False(t, stillRecorded)

	recvCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	for {
		msg, err := sub.Recv(recvCtx)
		if err != nil {
			break
		}
		assert.NotEqual(t, model.MsgDelegatedTaskCompleted, msg.Content.Type,
			"no notification may reach an agent that is not waiting")
	}
	assert.Equal(t, model.AgentIdle, coder.Status())
}

func TestInputDescriptionTruncationKeepsRunesIntact(t *testing.T) {
	long := strings.Repeat("é", 150)
	short := truncate(long, 100)
	assert.Equal(t, strings.Repeat("é", 100), short)
	assert.True(t, utf8.ValidString(short))
	assert.Equal(t, "abc", truncate("abc", 100))
}

func TestPlannerDecompositionMaterializes(t *testing.T) {
	h := newEngine(t)
	h.invoker.content["decompose_task_v1"] = `{"subtasks":[
		{"title":"gather","description":"Gather data","dependencies":[]},
		{"title":"summarize","description":"Summarize findings","dependencies":["gather"]}
	]}`

	taskID, err := h.orc.ExecuteAgentTask(h.ctx, "ship the report", "PlannerAgent", "test-model")
	require.NoError(t, err)

	graphID, ok := h.orc.Graphs().FindGraphForTask(taskID)
	require.True(t, ok)

	h.waitForStatus(t, graphID, taskID, model.StatusCompleted)

	waitFor(t, "materialized sub-tasks", func() bool {
		return len(h.orc.Graphs().Nodes(graphID)) == 3
	})
	names := make(map[string]string)
	for _, node := range h.orc.Graphs().Nodes(graphID) {
		names[node.Name] = node.ID
	}
	require.Contains(t, names, "gather")
	require.Contains(t, names, "summarize")

	edges := h.orc.Graphs().Edges(graphID)
	require.Len(t, edges, 1)
	assert.Equal(t, names["gather"], edges[0].FromNodeID)
	assert.Equal(t, names["summarize"], edges[0].ToNodeID)
}

func TestExecuteAgentTaskRejectsUnknownAgent(t *testing.T) {
	h := newEngine(t)
	_, err := h.orc.ExecuteAgentTask(h.ctx, "do something", "GardenerAgent", "test-model")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid agent role selected: GardenerAgent")
}

func TestExecuteAgentTaskCreatesGraphAndRoot(t *testing.T) {
	h := newEngine(t)
	taskID, err := h.orc.ExecuteAgentTask(h.ctx, "summarize the design", "ResearcherAgent", "test-model")
	require.NoError(t, err)

	graphID, ok := h.orc.Graphs().FindGraphForTask(taskID)
	require.True(t, ok)
	node, ok := h.orc.Graphs().Node(graphID, taskID)
	require.True(t, ok)
	assert.Equal(t, "Execute ResearcherAgent with prompt: summarize the design", node.Name)
	assert.Equal(t, "summarize the design", node.Description)
	assert.Equal(t, int64(1), node.Priority)
	require.NotNil(t, node.Spec.RequiredAgentRole)
	assert.Equal(t, model.RoleResearcher, *node.Spec.RequiredAgentRole)

	workers := h.registry.Workers()
	require.Len(t, workers, 1)
	assert.Equal(t, model.RoleResearcher, workers[0].Role())
}
