package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefectStatus enumerates lifecycle states for defects.
type DefectStatus string

const (
	DefectStatusNew        DefectStatus = "new"
	DefectStatusInProgress DefectStatus = "in_progress"
	DefectStatusReview     DefectStatus = "review"
	DefectStatusClosed     DefectStatus = "closed"
	DefectStatusCancelled  DefectStatus = "cancelled"
)

// AllDefectStatuses lists statuses in lifecycle order.
var AllDefectStatuses = []DefectStatus{
	DefectStatusNew,
	DefectStatusInProgress,
	DefectStatusReview,
	DefectStatusClosed,
	DefectStatusCancelled,
}

// Valid reports whether s is a known status.
func (s DefectStatus) Valid() bool {
	for _, candidate := range AllDefectStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsFinal reports whether the defect no longer counts towards deadlines.
func (s DefectStatus) IsFinal() bool {
	return s == DefectStatusClosed || s == DefectStatusCancelled
}

// DefectPriority enumerates how urgently a defect must be fixed.
type DefectPriority string

const (
	DefectPriorityLow      DefectPriority = "low"
	DefectPriorityMedium   DefectPriority = "medium"
	DefectPriorityHigh     DefectPriority = "high"
	DefectPriorityCritical DefectPriority = "critical"
)

// AllDefectPriorities lists priorities from lowest to highest.
var AllDefectPriorities = []DefectPriority{
	DefectPriorityLow,
	DefectPriorityMedium,
	DefectPriorityHigh,
	DefectPriorityCritical,
}

// Valid reports whether p is a known priority.
func (p DefectPriority) Valid() bool {
	for _, candidate := range AllDefectPriorities {
		if candidate == p {
			return true
		}
	}
	return false
}

// DefectSeverity enumerates the construction impact of a defect.
type DefectSeverity string

const (
	DefectSeverityCosmetic DefectSeverity = "cosmetic"
	DefectSeverityMinor    DefectSeverity = "minor"
	DefectSeverityMajor    DefectSeverity = "major"
	DefectSeverityCritical DefectSeverity = "critical"
	DefectSeverityBlocking DefectSeverity = "blocking"
)

// AllDefectSeverities lists severities from mildest to worst.
var AllDefectSeverities = []DefectSeverity{
	DefectSeverityCosmetic,
	DefectSeverityMinor,
	DefectSeverityMajor,
	DefectSeverityCritical,
	DefectSeverityBlocking,
}

// Valid reports whether s is a known severity.
func (s DefectSeverity) Valid() bool {
	for _, candidate := range AllDefectSeverities {
		if candidate == s {
			return true
		}
	}
	return false
}

// Defect is the aggregate for a reported construction issue.
type Defect struct {
	ID          string
	Number      string
	ProjectID   string
	StageID     *string
	CategoryID  string
	Title       string
	Description string
	Location    string
	Floor       string
	Room        string
	Priority    DefectPriority
	Severity    DefectSeverity
	Status      DefectStatus
	AuthorID    string
	AssigneeID  *string
	ReviewerID  *string
	DueDate     *time.Time
	AssignedAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// DeletedAt is set once the defect is soft deleted. Repositories never return deleted defects.
	DeletedAt *time.Time
}

// IsAssignee reports whether userID is the current assignee.
func (d *Defect) IsAssignee(userID string) bool {
	return d.AssigneeID != nil && *d.AssigneeID == userID
}

// IsReviewer reports whether userID is the current reviewer.
func (d *Defect) IsReviewer(userID string) bool {
	return d.ReviewerID != nil && *d.ReviewerID == userID
}

// NewDefectParams carries the caller supplied fields of a new defect.
type NewDefectParams struct {
	Project     Project
	Stage       *ProjectStage
	CategoryID  string
	AuthorID    string
	Title       string
	Description string
	Location    string
	Floor       string
	Room        string
	Priority    DefectPriority
	Severity    DefectSeverity
	DueDate     *time.Time
}

// NewDefect validates params and derives a defect in status new.
// The number is left empty; it is allocated when the defect is stored.
func NewDefect(params NewDefectParams) (*Defect, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if params.Project.ID == "" {
		return nil, fmt.Errorf("%w: project required", ErrInvalidInput)
	}
	if strings.TrimSpace(params.CategoryID) == "" {
		return nil, fmt.Errorf("%w: category required", ErrInvalidInput)
	}
	if params.AuthorID == "" {
		return nil, fmt.Errorf("%w: author required", ErrInvalidInput)
	}

	priority := params.Priority
	if priority == "" {
		priority = DefectPriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, priority)
	}
	severity := params.Severity
	if severity == "" {
		severity = DefectSeverityMinor
	}
	if !severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, severity)
	}

	defect := &Defect{
		ProjectID:   params.Project.ID,
		CategoryID:  strings.TrimSpace(params.CategoryID),
		Title:       title,
		Description: strings.TrimSpace(params.Description),
		Location:    strings.TrimSpace(params.Location),
		Floor:       strings.TrimSpace(params.Floor),
		Room:        strings.TrimSpace(params.Room),
		Priority:    priority,
		Severity:    severity,
		Status:      DefectStatusNew,
		AuthorID:    params.AuthorID,
		DueDate:     params.DueDate,
	}
	if params.Stage != nil {
		if params.Stage.ProjectID != params.Project.ID {
			return nil, fmt.Errorf("%w: stage %s does not belong to project %s", ErrInvalidInput, params.Stage.ID, params.Project.ID)
		}
		stageID := params.Stage.ID
		defect.StageID = &stageID
	}
	return defect, nil
}

// DefectChanges is a partial edit of the descriptive fields of a defect.
// Nil fields are left unchanged. Status and assignee are changed through the lifecycle.
type DefectChanges struct {
	Title       *string
	Description *string
	Location    *string
	Floor       *string
	Room        *string
	CategoryID  *string
	Priority    *DefectPriority
	Severity    *DefectSeverity
	// Stage moves the defect to another stage of its project; ClearStage detaches it.
	Stage        *ProjectStage
	ClearStage   bool
	DueDate      *time.Time
	ClearDueDate bool
}

// ApplyChanges validates c with the rules of NewDefect and applies it.
// It returns the names of the fields whose value changed. On error d is left untouched.
func (d *Defect) ApplyChanges(c DefectChanges) ([]string, error) {
	next := *d
	var changed []string
	setText := func(field string, dst *string, val *string) {
		if val == nil {
			return
		}
		if v := strings.TrimSpace(*val); v != *dst {
			*dst = v
			changed = append(changed, field)
		}
	}

	if c.Title != nil && strings.TrimSpace(*c.Title) == "" {
		return nil, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if c.CategoryID != nil && strings.TrimSpace(*c.CategoryID) == "" {
		return nil, fmt.Errorf("%w: category required", ErrInvalidInput)
	}
	if c.Priority != nil && !c.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, *c.Priority)
	}
	if c.Severity != nil && !c.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, *c.Severity)
	}
	if c.Stage != nil && c.ClearStage {
		return nil, fmt.Errorf("%w: stage set and cleared", ErrInvalidInput)
	}
	if c.Stage != nil && c.Stage.ProjectID != d.ProjectID {
		return nil, fmt.Errorf("%w: stage %s does not belong to project %s", ErrInvalidInput, c.Stage.ID, d.ProjectID)
	}
	if c.DueDate != nil && c.ClearDueDate {
		return nil, fmt.Errorf("%w: due date set and cleared", ErrInvalidInput)
	}

	setText("title", &next.Title, c.Title)
	setText("description", &next.Description, c.Description)
	setText("location", &next.Location, c.Location)
	setText("floor", &next.Floor, c.Floor)
	setText("room", &next.Room, c.Room)
	setText("category", &next.CategoryID, c.CategoryID)
	if c.Priority != nil && *c.Priority != next.Priority {
		next.Priority = *c.Priority
		changed = append(changed, "priority")
	}
	if c.Severity != nil && *c.Severity != next.Severity {
		next.Severity = *c.Severity
		changed = append(changed, "severity")
	}
	switch {
	case c.Stage != nil && (next.StageID == nil || *next.StageID != c.Stage.ID):
		stageID := c.Stage.ID
		next.StageID = &stageID
		changed = append(changed, "stage")
	case c.ClearStage && next.StageID != nil:
		next.StageID = nil
		changed = append(changed, "stage")
	}
	switch {
	case c.DueDate != nil && (next.DueDate == nil || !next.DueDate.Equal(*c.DueDate)):
		due := *c.DueDate
		next.DueDate = &due
		changed = append(changed, "due_date")
	case c.ClearDueDate && next.DueDate != nil:
		next.DueDate = nil
		changed = append(changed, "due_date")
	}

	*d = next
	return changed, nil
}
