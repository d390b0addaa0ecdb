package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hivemind-ai/hive/capability"
	"github.com/hivemind-ai/hive/model"
)

// researchTrigger in a task description makes the writer gather research
// context before drafting.
const researchTrigger = "needs research on"

// Writer drafts content. When the task asks for research it parks in
// WaitingForInformation until a researcher's answer is routed back.
type Writer struct {
	*Base

	pendingMu   sync.Mutex
	pendingTask *model.TaskNode
}

type draftResult struct {
	DraftText string `json:"draft_text"`
}

func (w *Writer) handleAssignment(ctx context.Context, task model.TaskNode) {
	if strings.Contains(strings.ToLower(task.Description), researchTrigger) {
		w.pendingMu.Lock()
		w.pendingTask = task.Clone()
		w.pendingMu.Unlock()

		w.sendMessage(ctx, "", model.MessageContent{
			Type: model.MsgRequestInformation,
			RequestInformation: &model.InformationRequest{
				OriginalTaskID:            task.ID,
				OriginalRequestingAgentID: w.id,
				TargetAgentRole:           model.RoleResearcher,
				QueryDetails:              task.Description,
			},
		})
		w.SetStatus(model.AgentWaitingForInformation)
		return
	}
	w.draft(ctx, task, "")
}

func (w *Writer) onInformation(ctx context.Context, resp model.InformationResponse) {
	w.pendingMu.Lock()
	task := w.pendingTask
	if task == nil || task.ID != resp.OriginalTaskID {
		// Not the answer this writer is waiting on; stay parked.
		w.pendingMu.Unlock()
		return
	}
	w.pendingTask = nil
	w.pendingMu.Unlock()
	w.SetStatus(model.AgentBusy)
	w.draft(ctx, *task, resp.ResponseData)
}

func (w *Writer) draft(ctx context.Context, task model.TaskNode, researchContext string) {
	keyPoints, styleGuide := parseWriterContext(task.Spec.Context)
	out, err := w.invoker.Invoke(ctx, capability.Input{
		CapabilityID: "draft_content_v1",
		Data: map[string]any{
			"description":      task.Description,
			"key_points":       keyPoints,
			"style_guide":      styleGuide,
			"research_context": researchContext,
		},
		Overrides: w.overrides(),
	})
	if err != nil {
		w.failTask(ctx, task.ID, err.Error())
		return
	}
	if out.Status != capability.StatusSuccess {
		w.failTask(ctx, task.ID, fmt.Sprintf("drafting capability failed: %s", out.ErrorMessage))
		return
	}

	var result draftResult
	if err := json.Unmarshal(out.ProcessedContent, &result); err != nil {
		w.failTask(ctx, task.ID, fmt.Sprintf("could not parse draft output: %v", err))
		return
	}
	if result.DraftText == "" {
		w.failTask(ctx, task.ID, "drafting produced no text")
		return
	}
	w.finishTask(ctx, task.ID, model.NewCodePatch(result.DraftText))
}

// parseWriterContext pulls optional key_points and style_guide out of the
// task's JSON context. Anything malformed is simply ignored.
func parseWriterContext(raw string) (keyPoints, styleGuide string) {
	if raw == "" {
		return "", ""
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", ""
	}
	if v, ok := parsed["key_points"]; ok {
		keyPoints = fmt.Sprint(v)
	}
	if v, ok := parsed["style_guide"]; ok {
		styleGuide = fmt.Sprint(v)
	}
	return keyPoints, styleGuide
}
