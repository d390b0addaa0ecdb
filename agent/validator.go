package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hivemind-ai/hive/capability"
	"github.com/hivemind-ai/hive/model"
)

// Validator checks a piece of content against type-specific criteria and
// reports the structured verdict as its deliverable.
type Validator struct {
	*Base
}

var (
	codeCriteria = []string{"syntax correctness", "style compliance", "compiles without errors"}
	textCriteria = []string{"clarity", "factual accuracy"}
)

func (v *Validator) handleAssignment(ctx context.Context, task model.TaskNode) {
	subject, contentType, criteria := deriveValidationSubject(task)

	out, err := v.invoker.Invoke(ctx, capability.Input{
		CapabilityID: "validate_content_v1",
		Data: map[string]any{
			"content":      subject,
			"content_type": contentType,
			"criteria":     strings.Join(criteria, ", "),
		},
		Overrides: v.overrides(),
	})
	if err != nil {
		v.failTask(ctx, task.ID, err.Error())
		return
	}
	if out.Status != capability.StatusSuccess {
		v.failTask(ctx, task.ID, fmt.Sprintf("validation capability failed: %s", out.ErrorMessage))
		return
	}

	// The verdict JSON itself is the deliverable.
	v.finishTask(ctx, task.ID, model.NewResearchReport(string(out.ProcessedContent), nil))
}

// deriveValidationSubject picks what to validate. Structured inputs win:
// a CodePatch or TextContent payload, or a plain string input on a
// ValidateContent task (treated as code). Without usable inputs the task
// description is validated with no specific criteria.
func deriveValidationSubject(task model.TaskNode) (subject, contentType string, criteria []string) {
	for _, input := range task.Inputs {
		switch data := input.Data.(type) {
		case map[string]any:
			dataType, _ := data["data_type"].(string)
			value, _ := data["value"].(map[string]any)
			switch dataType {
			case "CodePatch":
				if content, _ := value["patch_content"].(string); content != "" {
					return content, "code", codeCriteria
				}
			case "TextContent":
				if content, _ := value["text_content"].(string); content != "" {
					return content, "text", textCriteria
				}
			}
		case string:
			if data != "" && task.Spec.TaskType == model.TaskValidateContent {
				return data, "code", codeCriteria
			}
		}
	}
	return task.Description, "text", nil
}

// verdict is the parsed shape of a validate_content_v1 answer, exposed
// for callers that want to inspect the deliverable.
type Verdict struct {
	IsValid         bool            `json:"is_valid"`
	Feedback        string          `json:"feedback"`
	CriteriaResults map[string]bool `json:"criteria_results"`
}

// ParseVerdict decodes a validator deliverable.
func ParseVerdict(content string) (*Verdict, error) {
	var v Verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, err
	}
	return &v, nil
}
