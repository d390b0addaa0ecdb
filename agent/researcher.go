package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hivemind-ai/hive/capability"
	"github.com/hivemind-ai/hive/model"
)

// Researcher answers research tasks and directed information requests
// routed to it by the orchestrator.
type Researcher struct {
	*Base
}

type researchResult struct {
	Summary string   `json:"summary"`
	Sources []string `json:"sources"`
}

func (r *Researcher) research(ctx context.Context, query string) (*researchResult, error) {
	out, err := r.invoker.Invoke(ctx, capability.Input{
		CapabilityID: "perform_basic_research_v1",
		Data: map[string]any{
			"query":                    query,
			"num_results_to_summarize": 3,
		},
		Overrides: r.overrides(),
	})
	if err != nil {
		return nil, err
	}
	if out.Status != capability.StatusSuccess {
		return nil, fmt.Errorf("research capability failed: %s", out.ErrorMessage)
	}
	var result researchResult
	if err := json.Unmarshal(out.ProcessedContent, &result); err != nil {
		return nil, fmt.Errorf("could not parse research output: %w", err)
	}
	return &result, nil
}

func (r *Researcher) handleAssignment(ctx context.Context, task model.TaskNode) {
	result, err := r.research(ctx, task.Description)
	if err != nil {
		r.failTask(ctx, task.ID, err.Error())
		return
	}
	r.finishTask(ctx, task.ID, model.NewResearchReport(result.Summary, result.Sources))
}

func (r *Researcher) onInformationRequest(ctx context.Context, msg model.Message, req model.InformationRequest) {
	prev := r.Status()
	r.SetStatus(model.AgentBusy)
	defer r.SetStatus(prev)

	var responseData string
	if result, err := r.research(ctx, req.QueryDetails); err != nil {
		responseData = fmt.Sprintf("Research failed: %v", err)
	} else {
		responseData = fmt.Sprintf("Summary: %s\nSources: %v", result.Summary, result.Sources)
	}

	r.sendMessage(ctx, "", model.MessageContent{
		Type: model.MsgReturnInformation,
		ReturnInformation: &model.InformationResponse{
			OriginalTaskID:    req.OriginalTaskID,
			OriginalRequestID: msg.ID,
			RespondingAgentID: r.id,
			ResponseData:      responseData,
		},
	})
}
