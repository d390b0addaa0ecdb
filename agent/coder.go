package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hivemind-ai/hive/capability"
	"github.com/hivemind-ai/hive/model"
)

// Coder generates code and delegates validation of its own output. The
// generated patch completes the coder's task immediately so the delegated
// validation node can bind to it; the coder itself stays in
// WaitingForDelegatedTask until the validation result comes back.
type Coder struct {
	*Base
}

type codegenResult struct {
	GeneratedCode string `json:"generated_code"`
	Explanation   string `json:"explanation"`
}

func (c *Coder) handleAssignment(ctx context.Context, task model.TaskNode) {
	if task.Spec.TaskType != model.TaskGenerateCode {
		c.failTask(ctx, task.ID, "Coder agent only supports GenerateCode tasks.")
		return
	}

	language, extraContext := parseCoderContext(task.Spec.Context)
	if language == "" {
		c.failTask(ctx, task.ID, "Target language not specified in task details.")
		return
	}

	out, err := c.invoker.Invoke(ctx, capability.Input{
		CapabilityID: "generate_code_v1",
		Data: map[string]any{
			"language":    language,
			"description": task.Description,
			"context":     extraContext,
		},
		Overrides: c.overrides(),
	})
	if err != nil {
		c.failTask(ctx, task.ID, err.Error())
		return
	}
	if out.Status != capability.StatusSuccess {
		c.failTask(ctx, task.ID, fmt.Sprintf("code generation capability failed: %s", out.ErrorMessage))
		return
	}

	var result codegenResult
	if err := json.Unmarshal(out.ProcessedContent, &result); err != nil {
		c.failTask(ctx, task.ID, fmt.Sprintf("could not parse code generation output: %v", err))
		return
	}
	if result.GeneratedCode == "" {
		c.failTask(ctx, task.ID, "code generation produced no code")
		return
	}

	validatorRole := model.RoleValidator
	subSpec := model.TaskSpecification{
		Name:              fmt.Sprintf("Validate Code for Task %s", task.ID),
		Description:       fmt.Sprintf("Validate the generated %s code.", language),
		RequiredRole:      model.RoleValidator,
		RequiredAgentRole: &validatorRole,
		TaskType:          model.TaskValidateContent,
		InputMappings: []model.InputMapping{{
			SourceTaskID:    task.ID,
			DeliverableKey:  result.GeneratedCode,
			TargetInputName: "code_to_validate",
		}},
	}
	c.sendMessage(ctx, "", model.MessageContent{
		Type: model.MsgDelegateSubTask,
		DelegateSubTask: &model.SubTaskDelegation{
			DelegatingAgentID: c.id,
			ParentTaskID:      task.ID,
			SubTaskSpec:       subSpec,
		},
	})

	// Complete the parent now: the validation node depends on it and can
	// only become ready once it is Completed with the patch attached.
	c.sendResponse(ctx, model.TaskCompleted(task.ID, c.id, model.NewCodePatch(result.GeneratedCode)))
	c.SetStatus(model.AgentWaitingForDelegatedTask)
}

func (c *Coder) onDelegatedTaskCompleted(ctx context.Context, n model.DelegatedTaskCompletedNotification) {
	c.SetStatus(model.AgentIdle)
}

// parseCoderContext pulls the target language and optional extra context
// out of the task's JSON context.
func parseCoderContext(raw string) (language, extraContext string) {
	if raw == "" {
		return "", ""
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", ""
	}
	language, _ = parsed["language"].(string)
	if v, ok := parsed["context"]; ok {
		extraContext = fmt.Sprint(v)
	}
	return language, extraContext
}
