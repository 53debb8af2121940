package domain

import "strings"

// Project is the reference data a defect belongs to.
type Project struct {
	ID        string
	Name      string
	Slug      string
	ManagerID *string
}

// NumberPrefix returns the defect number prefix derived from the slug.
func (p Project) NumberPrefix() string {
	slug := strings.TrimSpace(p.Slug)
	if slug == "" {
		return "DEF"
	}
	runes := []rune(slug)
	if len(runes) > 3 {
		runes = runes[:3]
	}
	return strings.ToUpper(string(runes))
}

// IsManagedBy reports whether userID manages the project.
func (p Project) IsManagedBy(userID string) bool {
	return p.ManagerID != nil && *p.ManagerID == userID
}

// ProjectStage is a phase of a project.
type ProjectStage struct {
	ID        string
	ProjectID string
	Name      string
}

// ProjectMemberRole is the role a user holds inside one project.
type ProjectMemberRole string

const (
	ProjectRoleManager     ProjectMemberRole = "manager"
	ProjectRoleEngineer    ProjectMemberRole = "engineer"
	ProjectRoleObserver    ProjectMemberRole = "observer"
	ProjectRoleCoordinator ProjectMemberRole = "coordinator"
)

// DefectCategory classifies defects.
type DefectCategory struct {
	ID       string
	Name     string
	IsActive bool
}
