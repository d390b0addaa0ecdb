package model

import (
	"time"

	"github.com/pkg/errors"
)

// DeliverableKind discriminates deliverable payloads.
type DeliverableKind string

const (
	DeliverableResearchReport DeliverableKind = "ResearchReport"
	DeliverableCodePatch      DeliverableKind = "CodePatch"
)

// Deliverable is a typed work product attached to a completed task.
type Deliverable struct {
	Kind    DeliverableKind `json:"kind"`
	Content string          `json:"content"`
	Sources []string        `json:"sources,omitempty"`
}

// NewResearchReport builds a research deliverable.
func NewResearchReport(content string, sources []string) Deliverable {
	return Deliverable{Kind: DeliverableResearchReport, Content: content, Sources: sources}
}

// NewCodePatch builds a code deliverable.
func NewCodePatch(content string) Deliverable {
	return Deliverable{Kind: DeliverableCodePatch, Content: content}
}

// Key returns the canonical content field used when input mappings select
// a deliverable by semantic key.
func (d Deliverable) Key() string { return d.Content }

// DeliverableStatus tracks review state of a deliverable within a sprint.
type DeliverableStatus string

const (
	DeliverableProvisional DeliverableStatus = "Provisional"
	DeliverableValidated   DeliverableStatus = "Validated"
	DeliverableRejected    DeliverableStatus = "Rejected"
	DeliverableArchived    DeliverableStatus = "Archived"
)

// SprintStatus is the lifecycle state of a sprint.
type SprintStatus string

const (
	SprintPlanned   SprintStatus = "Planned"
	SprintActive    SprintStatus = "Active"
	SprintCompleted SprintStatus = "Completed"
	SprintAborted   SprintStatus = "Aborted"
)

// ParseSprintStatus validates a persisted sprint status string.
func ParseSprintStatus(s string) (SprintStatus, error) {
	switch SprintStatus(s) {
	case SprintPlanned, SprintActive, SprintCompleted, SprintAborted:
		return SprintStatus(s), nil
	}
	return "", errors.Errorf("unknown sprint status %q", s)
}

// Sprint groups tasks under a shared goal and time box. PlannedTaskIDs is
// the backlog fixed at planning time; CompletedTaskIDs records which of
// them were done by the time the sprint closed.
type Sprint struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Goal             string       `json:"goal"`
	Status           SprintStatus `json:"status"`
	StartDate        *time.Time   `json:"start_date,omitempty"`
	EndDate          *time.Time   `json:"end_date,omitempty"`
	PlannedTaskIDs   []string     `json:"planned_tasks,omitempty"`
	CompletedTaskIDs []string     `json:"completed_tasks,omitempty"`
	ReviewNotes      *string      `json:"review_notes,omitempty"`
}
