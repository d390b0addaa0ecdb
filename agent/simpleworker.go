package agent

import (
	"context"
	"fmt"

	"github.com/hivemind-ai/hive/capability"
	"github.com/hivemind-ai/hive/model"
)

// SimpleWorker is the generic executor: it announces itself, invokes the
// capability pinned on the task node, and wraps whatever comes back.
type SimpleWorker struct {
	*Base
}

func (s *SimpleWorker) handleAssignment(ctx context.Context, task model.TaskNode) {
	s.sendMessage(ctx, "", model.MessageContent{
		Type: model.MsgStatusUpdate,
		StatusUpdate: &model.StatusUpdate{
			AgentID: s.id,
			Status:  model.AgentBusy,
			Details: fmt.Sprintf("Starting task: %s", task.Description),
		},
	})
	s.sendMessage(ctx, "", model.MessageContent{
		Type:                model.MsgTaskAcknowledgement,
		TaskAcknowledgement: &model.TaskAcknowledgement{TaskID: task.ID, AgentID: s.id},
	})

	if task.CapabilityID == nil || *task.CapabilityID == "" {
		s.failTask(ctx, task.ID, "task has no capability to invoke")
		return
	}

	data := map[string]any{"description": task.Description}
	for _, input := range task.Inputs {
		key := input.Name
		if key == "" {
			key = input.ID
		}
		data[key] = input.Data
	}

	out, err := s.invoker.Invoke(ctx, capability.Input{
		CapabilityID: *task.CapabilityID,
		Data:         data,
		Overrides:    s.overrides(),
	})
	if err != nil {
		s.failTask(ctx, task.ID, err.Error())
		return
	}
	if out.Status != capability.StatusSuccess {
		s.failTask(ctx, task.ID, fmt.Sprintf("capability %s failed: %s", *task.CapabilityID, out.ErrorMessage))
		return
	}

	s.finishTask(ctx, task.ID, model.NewResearchReport(string(out.ProcessedContent), nil))
}
