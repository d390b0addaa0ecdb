package model

import (
	"github.com/pkg/errors"
)

// TaskType classifies what kind of work a node represents.
type TaskType string

const (
	TaskGeneric         TaskType = "Generic"
	TaskGenerateCode    TaskType = "GenerateCode"
	TaskValidateContent TaskType = "ValidateContent"
	TaskResearchTopic   TaskType = "ResearchTopic"
	TaskWriteContent    TaskType = "WriteContent"
	TaskDecomposeTask   TaskType = "DecomposeTask"
)

// TaskStatus is the scheduling state of a task node. The string values are
// the canonical display names and are what the store persists.
type TaskStatus string

const (
	StatusPendingDependencies TaskStatus = "Pending Dependencies"
	StatusReadyToExecute      TaskStatus = "Ready To Execute"
	StatusExecuting           TaskStatus = "Executing"
	StatusCompleted           TaskStatus = "Completed"
	StatusFailed              TaskStatus = "Failed"
	StatusBlockedByError      TaskStatus = "Blocked By Error"
	StatusAwaitingValidation  TaskStatus = "Awaiting Validation"

	// Legacy states kept for rows written by earlier revisions.
	StatusPending    TaskStatus = "Pending"
	StatusInProgress TaskStatus = "In Progress"
)

func (s TaskStatus) String() string { return string(s) }

// Terminal reports whether no further transition is expected.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseTaskStatus validates a persisted status string.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case StatusPendingDependencies, StatusReadyToExecute, StatusExecuting,
		StatusCompleted, StatusFailed, StatusBlockedByError,
		StatusAwaitingValidation, StatusPending, StatusInProgress:
		return TaskStatus(s), nil
	}
	return "", errors.Errorf("unknown task status %q", s)
}

// InputMapping declares that a task consumes a deliverable produced by an
// upstream task. DeliverableKey is a semantic selector matched against the
// canonical content field of the producer's deliverables.
type InputMapping struct {
	SourceTaskID    string `json:"source_task_id"`
	DeliverableKey  string `json:"deliverable_key"`
	TargetInputName string `json:"target_input_name"`
}

// TaskSpecification is the user- or agent-authored description of a task
// before it becomes a graph node.
type TaskSpecification struct {
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	RequiredRole      AgentRole      `json:"required_role"`
	InputMappings     []InputMapping `json:"input_mappings,omitempty"`
	Priority          *int64         `json:"priority,omitempty"`
	RequiredAgentRole *AgentRole     `json:"required_agent_role,omitempty"`
	Context           string         `json:"context,omitempty"`
	TaskType          TaskType       `json:"task_type"`
}

// SubTaskDefinition is one node of a decomposition result. TempID is the
// planner-local handle that edges reference before real ids exist.
type SubTaskDefinition struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	TaskSpec    TaskSpecification `json:"task_spec"`
	TempID      string            `json:"temp_id"`
}

// SubTaskEdgeDefinition is a dependency between two temp ids.
type SubTaskEdgeDefinition struct {
	FromTempID string `json:"from_temp_id"`
	ToTempID   string `json:"to_temp_id"`
}

// BackoffStrategy selects how the retry delay grows between attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "Fixed"
	BackoffExponential BackoffStrategy = "Exponential"
)

// TaskRetryPolicy bounds automatic re-execution of a failed task.
type TaskRetryPolicy struct {
	MaxRetries      uint32          `json:"max_retries"`
	RetryDelayMs    uint64          `json:"retry_delay_ms"`
	BackoffStrategy BackoffStrategy `json:"backoff_strategy"`
}

// Delay returns the wait before the given attempt (1-based).
func (p TaskRetryPolicy) Delay(attempt uint32) uint64 {
	if p.BackoffStrategy != BackoffExponential || attempt <= 1 {
		return p.RetryDelayMs
	}
	return p.RetryDelayMs << (attempt - 1)
}

// TaskInput is a resolved input bound to a task at scheduling time. Name
// carries the mapping's target input name so workers can address inputs
// by key.
type TaskInput struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	Data                 any      `json:"data"`
	SourceDeliverableIDs []string `json:"source_deliverable_ids,omitempty"`
}
