// Package model holds the domain types shared by the orchestration engine:
// agent roles and statuses, the task graph, sprints, deliverables, and the
// message envelope that travels on the bus.
package model

import (
	"github.com/pkg/errors"
)

// AgentRole identifies the specialization of a worker.
type AgentRole string

const (
	RolePlanner      AgentRole = "Planner"
	RoleResearcher   AgentRole = "Researcher"
	RoleWriter       AgentRole = "Writer"
	RoleCoder        AgentRole = "Coder"
	RoleValidator    AgentRole = "Validator"
	RoleSimpleWorker AgentRole = "SimpleWorker"
)

func (r AgentRole) String() string { return string(r) }

// ParseAgentRole maps a canonical role name back to its AgentRole.
func ParseAgentRole(s string) (AgentRole, error) {
	switch AgentRole(s) {
	case RolePlanner, RoleResearcher, RoleWriter, RoleCoder, RoleValidator, RoleSimpleWorker:
		return AgentRole(s), nil
	}
	return "", errors.Errorf("unknown agent role %q", s)
}

// AgentStatus is the lifecycle state of a worker.
type AgentStatus string

const (
	AgentIdle                    AgentStatus = "Idle"
	AgentReady                   AgentStatus = "Ready"
	AgentBusy                    AgentStatus = "Busy"
	AgentWaitingForInformation   AgentStatus = "Waiting For Information"
	AgentWaitingForDelegatedTask AgentStatus = "Waiting For Delegated Task"
	AgentFailed                  AgentStatus = "Failed"
	AgentTaskFailedRetryable     AgentStatus = "Task Failed (Retryable)"
	AgentTaskFailedTerminal      AgentStatus = "Task Failed (Terminal)"
	AgentInitializing            AgentStatus = "Initializing"
	AgentShuttingDown            AgentStatus = "Shutting Down"
	AgentOffline                 AgentStatus = "Offline"
)

func (s AgentStatus) String() string { return string(s) }

// Available reports whether a worker in this state may accept a task.
func (s AgentStatus) Available() bool {
	return s == AgentIdle || s == AgentReady
}

// AgentConfig is everything needed to spawn a worker.
type AgentConfig struct {
	ID                string         `json:"id"`
	Role              AgentRole      `json:"role"`
	LLMModel          string         `json:"llm_model"`
	LLMProvider       string         `json:"llm_provider_name"`
	SpecializedConfig map[string]any `json:"specialized_config,omitempty"`
}

// AgentCapabilities advertises what a worker can do. The flags are
// informational today; the registry filters on role, not capability.
type AgentCapabilities struct {
	CanExecuteCode      bool `json:"can_execute_code"`
	CanAccessInternet   bool `json:"can_access_internet"`
	CanManageFiles      bool `json:"can_manage_files"`
	CanDelegateTasks    bool `json:"can_delegate_tasks"`
	CanGenerateCode     bool `json:"can_generate_code"`
	CanValidateContent  bool `json:"can_validate_content"`
	CanPerformResearch  bool `json:"can_perform_research"`
	CanWriteContent     bool `json:"can_write_content"`
	CanDecomposeTasks   bool `json:"can_decompose_tasks"`
	CanInvokeCapability bool `json:"can_invoke_capability"`
}

// CapabilitiesForRole returns the default advertisement for a role.
func CapabilitiesForRole(role AgentRole) AgentCapabilities {
	c := AgentCapabilities{CanInvokeCapability: true}
	switch role {
	case RolePlanner:
		c.CanDecomposeTasks = true
		c.CanDelegateTasks = true
	case RoleResearcher:
		c.CanPerformResearch = true
		c.CanAccessInternet = true
	case RoleWriter:
		c.CanWriteContent = true
	case RoleCoder:
		c.CanGenerateCode = true
		c.CanDelegateTasks = true
	case RoleValidator:
		c.CanValidateContent = true
	}
	return c
}
