package dto

import (
	"time"

	"github.com/stroycontrol/defect-service/internal/domain"
)

// DateLayout is the wire format of calendar dates such as due_date.
const DateLayout = "2006-01-02"

// CreateDefectRequest payload.
type CreateDefectRequest struct {
	ProjectID   string                `json:"project_id"`
	StageID     *string               `json:"stage_id"`
	CategoryID  string                `json:"category_id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Location    string                `json:"location"`
	Floor       string                `json:"floor"`
	Room        string                `json:"room"`
	Priority    domain.DefectPriority `json:"priority"`
	Severity    domain.DefectSeverity `json:"severity"`
	DueDate     *string               `json:"due_date"`
	AssigneeID  *string               `json:"assignee_id"`
}

// UpdateDefectRequest is a partial edit. Omitted fields are left unchanged; an empty
// stage_id or due_date clears the value.
type UpdateDefectRequest struct {
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Location    *string                `json:"location"`
	Floor       *string                `json:"floor"`
	Room        *string                `json:"room"`
	CategoryID  *string                `json:"category_id"`
	Priority    *domain.DefectPriority `json:"priority"`
	Severity    *domain.DefectSeverity `json:"severity"`
	StageID     *string                `json:"stage_id"`
	DueDate     *string                `json:"due_date"`
}

// ChangeStatusRequest payload.
type ChangeStatusRequest struct {
	Status  domain.DefectStatus `json:"status"`
	Comment string              `json:"comment"`
}

// AssignDefectRequest payload.
type AssignDefectRequest struct {
	AssigneeID string  `json:"assignee_id"`
	DueDate    *string `json:"due_date"`
}

// BulkUpdateRequest payload.
type BulkUpdateRequest struct {
	DefectIDs []string `json:"defect_ids"`
	Action    string   `json:"action"`
	Value     string   `json:"value"`
}

// BulkUpdateResponse reports the outcome of a bulk update.
type BulkUpdateResponse struct {
	UpdatedCount int      `json:"updated_count"`
	Errors       []string `json:"errors"`
}

// DefectResponse is the read model of a defect including derived metrics.
type DefectResponse struct {
	ID              string                `json:"id"`
	Number          string                `json:"defect_number"`
	ProjectID       string                `json:"project_id"`
	StageID         *string               `json:"stage_id"`
	CategoryID      string                `json:"category_id"`
	Title           string                `json:"title"`
	Description     string                `json:"description"`
	Location        string                `json:"location"`
	Floor           string                `json:"floor"`
	Room            string                `json:"room"`
	Priority        domain.DefectPriority `json:"priority"`
	Severity        domain.DefectSeverity `json:"severity"`
	Status          domain.DefectStatus   `json:"status"`
	AuthorID        string                `json:"author_id"`
	AssigneeID      *string               `json:"assignee_id"`
	ReviewerID      *string               `json:"reviewer_id"`
	DueDate         *string               `json:"due_date"`
	AssignedAt      *time.Time            `json:"assigned_at"`
	StartedAt       *time.Time            `json:"started_at"`
	CompletedAt     *time.Time            `json:"completed_at"`
	ClosedAt        *time.Time            `json:"closed_at"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	IsOverdue       bool                  `json:"is_overdue"`
	DaysRemaining   *int                  `json:"days_remaining"`
	ResolutionHours *float64              `json:"resolution_time"`
}

// TransitionsResponse lists the statuses the caller may move a defect to.
type TransitionsResponse struct {
	Current   domain.DefectStatus   `json:"current"`
	Available []domain.DefectStatus `json:"available"`
}

// HistoryResponse is one audit row.
type HistoryResponse struct {
	ID        string               `json:"id"`
	UserID    *string              `json:"user_id"`
	Action    domain.HistoryAction `json:"action"`
	FieldName string               `json:"field_name"`
	OldValue  string               `json:"old_value"`
	NewValue  string               `json:"new_value"`
	Timestamp time.Time            `json:"timestamp"`
	IPAddress *string              `json:"ip_address"`
}

// CreateCommentRequest payload.
type CreateCommentRequest struct {
	Content     string             `json:"content"`
	CommentType domain.CommentType `json:"comment_type"`
	IsInternal  bool               `json:"is_internal"`
	ReplyToID   *string            `json:"reply_to"`
}

// UpdateCommentRequest payload.
type UpdateCommentRequest struct {
	Content string `json:"content"`
}

// CommentResponse represents a thread comment.
type CommentResponse struct {
	ID          string             `json:"id"`
	AuthorID    string             `json:"author_id"`
	Content     string             `json:"content"`
	CommentType domain.CommentType `json:"comment_type"`
	IsInternal  bool               `json:"is_internal"`
	ReplyToID   *string            `json:"reply_to"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// DefectStatsResponse aggregates defect counters.
type DefectStatsResponse struct {
	TotalDefects          int            `json:"total_defects"`
	DefectsByStatus       map[string]int `json:"defects_by_status"`
	DefectsByPriority     map[string]int `json:"defects_by_priority"`
	DefectsByCategory     map[string]int `json:"defects_by_category"`
	OverdueDefects        int            `json:"overdue_defects"`
	AverageResolutionTime float64        `json:"average_resolution_time"`
	DefectsCreatedToday   int            `json:"defects_created_today"`
	DefectsClosedToday    int            `json:"defects_closed_today"`
}

// PageMeta describes list pagination.
type PageMeta struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}
