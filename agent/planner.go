package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hivemind-ai/hive/capability"
	"github.com/hivemind-ai/hive/model"
)

// Planner decomposes an objective into sub-tasks and hands the result to
// the orchestrator, which materializes the nodes and completes the
// original task.
type Planner struct {
	*Base
}

type decompositionResult struct {
	Subtasks []struct {
		Title        string   `json:"title"`
		Description  string   `json:"description"`
		Dependencies []string `json:"dependencies"`
	} `json:"subtasks"`
}

func (p *Planner) handleAssignment(ctx context.Context, task model.TaskNode) {
	out, err := p.invoker.Invoke(ctx, capability.Input{
		CapabilityID: "decompose_task_v1",
		Data: map[string]any{
			"objective": task.Description,
			"context":   task.Spec.Context,
		},
		Overrides: p.overrides(),
	})
	if err != nil {
		p.failTask(ctx, task.ID, err.Error())
		return
	}
	if out.Status != capability.StatusSuccess {
		p.failTask(ctx, task.ID, fmt.Sprintf("decomposition capability failed: %s", out.ErrorMessage))
		return
	}

	var result decompositionResult
	if err := json.Unmarshal(out.ProcessedContent, &result); err != nil {
		p.failTask(ctx, task.ID, fmt.Sprintf("could not parse decomposition output: %v", err))
		return
	}
	if len(result.Subtasks) == 0 {
		p.failTask(ctx, task.ID, "decomposition produced no subtasks")
		return
	}

	defs := make([]model.SubTaskDefinition, 0, len(result.Subtasks))
	var edges []model.SubTaskEdgeDefinition
	for _, st := range result.Subtasks {
		defs = append(defs, model.SubTaskDefinition{
			Title:       st.Title,
			Description: st.Description,
			TempID:      st.Title,
			TaskSpec: model.TaskSpecification{
				Name:         st.Title,
				Description:  st.Description,
				RequiredRole: model.RoleSimpleWorker,
				TaskType:     model.TaskGeneric,
				Context:      task.Spec.Context,
			},
		})
		for _, dep := range st.Dependencies {
			edges = append(edges, model.SubTaskEdgeDefinition{FromTempID: dep, ToTempID: st.Title})
		}
	}

	p.sendMessage(ctx, "", model.MessageContent{
		Type: model.MsgSubTasksGenerated,
		SubTasksGenerated: &model.SubTasksGenerated{
			OriginalTaskID:     task.ID,
			SubTaskDefinitions: defs,
			SubTaskEdges:       edges,
		},
	})
	p.SetStatus(model.AgentIdle)
}
