package domain

import "time"

// CommentEditWindow is how long authors may edit their own comments.
const CommentEditWindow = 15 * time.Minute

// CommentType differentiates user comments from workflow generated ones.
type CommentType string

const (
	CommentTypeComment      CommentType = "comment"
	CommentTypeStatusChange CommentType = "status_change"
	CommentTypeAssignment   CommentType = "assignment"
	CommentTypeResolution   CommentType = "resolution"
	CommentTypeRejection    CommentType = "rejection"
)

// Valid reports whether t is a known comment type.
func (t CommentType) Valid() bool {
	switch t {
	case CommentTypeComment, CommentTypeStatusChange, CommentTypeAssignment, CommentTypeResolution, CommentTypeRejection:
		return true
	}
	return false
}

// IsWorkflow reports whether comments of this type are only written by the lifecycle engine.
func (t CommentType) IsWorkflow() bool {
	return t == CommentTypeStatusChange || t == CommentTypeAssignment
}

// DefectComment captures a message in a defect thread.
type DefectComment struct {
	ID         string
	DefectID   string
	AuthorID   string
	Content    string
	Type       CommentType
	IsInternal bool
	ReplyToID  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}
