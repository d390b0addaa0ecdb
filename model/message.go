package model

import (
	"github.com/google/uuid"
)

// OrchestratorSender is the sender id used for messages originating from
// the engine itself rather than a worker.
const OrchestratorSender = "orchestrator"

// MessageType discriminates the content union of a Message.
type MessageType string

const (
	MsgTaskAssignment         MessageType = "TaskAssignment"
	MsgTaskAcknowledgement    MessageType = "TaskAcknowledgement"
	MsgStatusUpdate           MessageType = "StatusUpdate"
	MsgDataFragment           MessageType = "DataFragment"
	MsgAgentResponse          MessageType = "AgentResponse"
	MsgRequestInformation     MessageType = "RequestInformation"
	MsgReturnInformation      MessageType = "ReturnInformation"
	MsgDelegateSubTask        MessageType = "DelegateSubTask"
	MsgSubTasksGenerated      MessageType = "SubTasksGenerated"
	MsgDelegatedTaskCompleted MessageType = "DelegatedTaskCompletedNotification"
)

// Message is the envelope carried on the bus. A nil ReceiverID means the
// message is undirected and every subscriber may act on it.
type Message struct {
	ID         string         `json:"id"`
	SenderID   string         `json:"sender_id"`
	ReceiverID *string        `json:"receiver_id,omitempty"`
	Content    MessageContent `json:"content"`
}

// NewMessage builds an envelope with a fresh id. receiver may be empty for
// undirected messages.
func NewMessage(sender, receiver string, content MessageContent) Message {
	m := Message{ID: uuid.NewString(), SenderID: sender, Content: content}
	if receiver != "" {
		m.ReceiverID = &receiver
	}
	return m
}

// MessageContent is the tagged union of message payloads. Exactly the
// field matching Type is set.
type MessageContent struct {
	Type MessageType `json:"type"`

	TaskAssignment         *TaskNode                           `json:"task_assignment,omitempty"`
	TaskAcknowledgement    *TaskAcknowledgement                `json:"task_acknowledgement,omitempty"`
	StatusUpdate           *StatusUpdate                       `json:"status_update,omitempty"`
	DataFragment           *DataFragment                       `json:"data_fragment,omitempty"`
	AgentResponse          *AgentResponse                      `json:"agent_response,omitempty"`
	RequestInformation     *InformationRequest                 `json:"request_information,omitempty"`
	ReturnInformation      *InformationResponse                `json:"return_information,omitempty"`
	DelegateSubTask        *SubTaskDelegation                  `json:"delegate_sub_task,omitempty"`
	SubTasksGenerated      *SubTasksGenerated                  `json:"sub_tasks_generated,omitempty"`
	DelegatedTaskCompleted *DelegatedTaskCompletedNotification `json:"delegated_task_completed,omitempty"`
}

// TaskAcknowledgement confirms receipt of an assignment.
type TaskAcknowledgement struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
}

// StatusUpdate is an informational progress report from a worker.
type StatusUpdate struct {
	AgentID string      `json:"agent_id"`
	Status  AgentStatus `json:"status"`
	Details string      `json:"details,omitempty"`
}

// DataFragment carries an opaque piece of data between agents.
type DataFragment struct {
	FragmentID string `json:"fragment_id"`
	Data       any    `json:"data"`
}

// ResponseKind discriminates AgentResponse outcomes.
type ResponseKind string

const (
	ResponseTaskCompleted ResponseKind = "TaskCompleted"
	ResponseTaskFailed    ResponseKind = "TaskFailed"
)

// AgentResponse reports the outcome of an assigned task.
type AgentResponse struct {
	Kind        ResponseKind `json:"kind"`
	TaskID      string       `json:"task_id"`
	AgentID     string       `json:"agent_id"`
	Deliverable *Deliverable `json:"deliverable,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// TaskCompleted builds a success response.
func TaskCompleted(taskID, agentID string, d Deliverable) AgentResponse {
	return AgentResponse{Kind: ResponseTaskCompleted, TaskID: taskID, AgentID: agentID, Deliverable: &d}
}

// TaskFailed builds a failure response.
func TaskFailed(taskID, agentID, errMsg string) AgentResponse {
	return AgentResponse{Kind: ResponseTaskFailed, TaskID: taskID, AgentID: agentID, Error: errMsg}
}

// InformationRequest asks the orchestrator to route a query to a worker of
// the target role on behalf of the requesting agent. OriginalTaskID names
// the task the requester is parked on; the responder echoes it so the
// requester can match the answer to that task.
type InformationRequest struct {
	OriginalTaskID            string    `json:"original_task_id"`
	OriginalRequestingAgentID string    `json:"original_requesting_agent_id"`
	TargetAgentRole           AgentRole `json:"target_agent_role"`
	QueryDetails              string    `json:"query_details"`
}

// InformationResponse answers a routed InformationRequest.
type InformationResponse struct {
	OriginalTaskID    string `json:"original_task_id"`
	OriginalRequestID string `json:"original_request_id"`
	RespondingAgentID string `json:"responding_agent_id"`
	ResponseData      string `json:"response_data"`
}

// SubTaskDelegation asks the orchestrator to attach a new sub-task under
// the delegating agent's current task.
type SubTaskDelegation struct {
	DelegatingAgentID string            `json:"delegating_agent_id"`
	ParentTaskID      string            `json:"parent_task_id"`
	SubTaskSpec       TaskSpecification `json:"sub_task_spec"`
}

// SubTasksGenerated carries a planner's decomposition of a task.
type SubTasksGenerated struct {
	OriginalTaskID     string                  `json:"original_task_id"`
	SubTaskDefinitions []SubTaskDefinition     `json:"sub_task_definitions"`
	SubTaskEdges       []SubTaskEdgeDefinition `json:"sub_task_edges,omitempty"`
}

// DelegatedTaskCompletedNotification tells a delegating agent that its
// sub-task finished.
type DelegatedTaskCompletedNotification struct {
	DelegatedTaskID string       `json:"delegated_task_id"`
	ParentTaskID    string       `json:"parent_task_id"`
	Deliverable     *Deliverable `json:"deliverable,omitempty"`
}
