package events

import (
	"time"

	"github.com/stroycontrol/defect-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventDefectCreated        EventType = "defect.created"
	EventDefectUpdated        EventType = "defect.updated"
	EventDefectDeleted        EventType = "defect.deleted"
	EventDefectStatusChanged  EventType = "defect.status_changed"
	EventDefectAssigned       EventType = "defect.assigned"
	EventDefectCommentAdded   EventType = "defect.comment_added"
	EventDefectCommentEdited  EventType = "defect.comment_edited"
	EventDefectCommentDeleted EventType = "defect.comment_deleted"
)

// AllEventTypes lists every event the services publish.
var AllEventTypes = []EventType{
	EventDefectCreated,
	EventDefectUpdated,
	EventDefectDeleted,
	EventDefectStatusChanged,
	EventDefectAssigned,
	EventDefectCommentAdded,
	EventDefectCommentEdited,
	EventDefectCommentDeleted,
}

// Event represents a committed domain change. Events are published only after the
// transaction that produced them has committed.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	DefectID  string    `json:"defect_id"`
	Number    string    `json:"defect_number"`
	ProjectID string    `json:"project_id"`
	ActorID   string    `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// DefectCreatedPayload payload.
type DefectCreatedPayload struct {
	Title      string                `json:"title"`
	Priority   domain.DefectPriority `json:"priority"`
	Severity   domain.DefectSeverity `json:"severity"`
	AssigneeID *string               `json:"assignee_id,omitempty"`
}

// DefectUpdatedPayload lists the descriptive fields an edit changed.
type DefectUpdatedPayload struct {
	Fields []string `json:"fields"`
}

// DefectDeletedPayload payload.
type DefectDeletedPayload struct {
	Title  string              `json:"title"`
	Status domain.DefectStatus `json:"status"`
}

// DefectStatusChangedPayload payload.
type DefectStatusChangedPayload struct {
	OldStatus domain.DefectStatus `json:"old_status"`
	NewStatus domain.DefectStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// DefectAssignedPayload payload.
type DefectAssignedPayload struct {
	OldAssigneeID *string    `json:"old_assignee_id,omitempty"`
	AssigneeID    string     `json:"assignee_id"`
	AssigneeName  string     `json:"assignee_name"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	StatusChanged bool       `json:"status_changed"`
}

// DefectCommentAddedPayload payload.
type DefectCommentAddedPayload struct {
	CommentID   string             `json:"comment_id"`
	CommentType domain.CommentType `json:"comment_type"`
	IsInternal  bool               `json:"is_internal"`
	Preview     string             `json:"preview"`
}

// DefectCommentChangedPayload is published when a comment is edited or deleted.
type DefectCommentChangedPayload struct {
	CommentID  string `json:"comment_id"`
	AuthorID   string `json:"author_id"`
	IsInternal bool   `json:"is_internal"`
}
