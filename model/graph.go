package model

import (
	"time"

	"github.com/pkg/errors"
)

// TaskNode is one unit of work in a task graph. Nodes are value-copied
// across the manager boundary; the graph manager owns all mutation.
type TaskNode struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Description         string            `json:"description"`
	Spec                TaskSpecification `json:"spec"`
	Status              TaskStatus        `json:"status"`
	AgentRoleType       *AgentRole        `json:"agent_role_type,omitempty"`
	CapabilityID        *string           `json:"capability_id,omitempty"`
	Inputs              []TaskInput       `json:"inputs,omitempty"`
	Outputs             []Deliverable     `json:"outputs,omitempty"`
	RetryCount          uint32            `json:"retry_count"`
	RetryPolicy         *TaskRetryPolicy  `json:"retry_policy,omitempty"`
	Priority            int64             `json:"priority"`
	EstimatedDurationMs *int64            `json:"estimated_duration_ms,omitempty"`
	ActualDurationMs    *int64            `json:"actual_duration_ms,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	AssignedAgentID     *string           `json:"assigned_agent_id,omitempty"`
	ErrorMessage        *string           `json:"error_message,omitempty"`
	SprintID            *string           `json:"sprint_id,omitempty"`
}

// Clone returns a deep copy safe to mutate independently.
func (n *TaskNode) Clone() *TaskNode {
	c := *n
	c.AgentRoleType = clonePtr(n.AgentRoleType)
	c.CapabilityID = clonePtr(n.CapabilityID)
	c.AssignedAgentID = clonePtr(n.AssignedAgentID)
	c.ErrorMessage = clonePtr(n.ErrorMessage)
	c.SprintID = clonePtr(n.SprintID)
	c.EstimatedDurationMs = clonePtr(n.EstimatedDurationMs)
	c.ActualDurationMs = clonePtr(n.ActualDurationMs)
	c.RetryPolicy = clonePtr(n.RetryPolicy)
	if n.Inputs != nil {
		c.Inputs = append([]TaskInput(nil), n.Inputs...)
	}
	if n.Outputs != nil {
		c.Outputs = append([]Deliverable(nil), n.Outputs...)
	}
	c.Spec = n.Spec.clone()
	return &c
}

func (s TaskSpecification) clone() TaskSpecification {
	c := s
	c.Priority = clonePtr(s.Priority)
	c.RequiredAgentRole = clonePtr(s.RequiredAgentRole)
	if s.InputMappings != nil {
		c.InputMappings = append([]InputMapping(nil), s.InputMappings...)
	}
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// TaskEdgeType classifies an edge. Only dependency edges exist today.
type TaskEdgeType string

const EdgeDependency TaskEdgeType = "Dependency"

// TaskEdge is a directed dependency between two nodes of the same graph.
// Condition and DataMapping are persisted opaquely for future use.
type TaskEdge struct {
	ID          string            `json:"id"`
	FromNodeID  string            `json:"from_node_id"`
	ToNodeID    string            `json:"to_node_id"`
	Condition   *string           `json:"condition,omitempty"`
	DataMapping map[string]string `json:"data_mapping,omitempty"`
	EdgeType    TaskEdgeType      `json:"edge_type"`
}

// TaskGraphStatus is the lifecycle state of a whole graph.
type TaskGraphStatus string

const (
	GraphPending    TaskGraphStatus = "Pending"
	GraphInProgress TaskGraphStatus = "In Progress"
	GraphCompleted  TaskGraphStatus = "Completed"
	GraphFailed     TaskGraphStatus = "Failed"
	GraphPaused     TaskGraphStatus = "Paused"
)

// ParseTaskGraphStatus validates a graph status string.
func ParseTaskGraphStatus(s string) (TaskGraphStatus, error) {
	switch TaskGraphStatus(s) {
	case GraphPending, GraphInProgress, GraphCompleted, GraphFailed, GraphPaused:
		return TaskGraphStatus(s), nil
	}
	return "", errors.Errorf("unknown task graph status %q", s)
}

// TaskGraph is a DAG of task nodes. RootNodes lists nodes with no incoming
// dependency edge.
type TaskGraph struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Goal        string               `json:"goal"`
	Nodes       map[string]*TaskNode `json:"nodes"`
	Edges       map[string]*TaskEdge `json:"edges"`
	RootNodes   []string             `json:"root_nodes"`
	Status      TaskGraphStatus      `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}
