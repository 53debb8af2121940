package domain

import (
	"sort"
	"time"
)

// Principal is the capability view of the acting user, resolved once per request.
type Principal interface {
	UserID() string
	Role() UserRole
	IsAdmin() bool
	IsProjectManager(projectID string) bool
	IsProjectMember(projectID string) bool
	// AccessibleProjectIDs lists projects the principal manages or belongs to.
	AccessibleProjectIDs() []string
}

// Actor is the resolved Principal for a user.
type Actor struct {
	User            User
	ManagedProjects map[string]struct{}
	MemberProjects  map[string]struct{}
}

var _ Principal = (*Actor)(nil)

// NewActor builds an Actor from the project ids the user manages and belongs to.
func NewActor(user User, managed, member []string) *Actor {
	actor := &Actor{
		User:            user,
		ManagedProjects: make(map[string]struct{}, len(managed)),
		MemberProjects:  make(map[string]struct{}, len(member)),
	}
	for _, id := range managed {
		actor.ManagedProjects[id] = struct{}{}
	}
	for _, id := range member {
		actor.MemberProjects[id] = struct{}{}
	}
	return actor
}

func (a *Actor) UserID() string { return a.User.ID }

func (a *Actor) Role() UserRole { return a.User.Role }

func (a *Actor) IsAdmin() bool { return a.User.Role == UserRoleAdmin }

func (a *Actor) IsProjectManager(projectID string) bool {
	_, ok := a.ManagedProjects[projectID]
	return ok
}

func (a *Actor) IsProjectMember(projectID string) bool {
	_, ok := a.MemberProjects[projectID]
	return ok
}

func (a *Actor) AccessibleProjectIDs() []string {
	seen := make(map[string]struct{}, len(a.ManagedProjects)+len(a.MemberProjects))
	ids := make([]string, 0, len(a.ManagedProjects)+len(a.MemberProjects))
	for _, set := range []map[string]struct{}{a.ManagedProjects, a.MemberProjects} {
		for id := range set {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// CanAccessProject reports whether p may read defects of the project.
func CanAccessProject(p Principal, projectID string) bool {
	return p.IsAdmin() || p.IsProjectManager(projectID) || p.IsProjectMember(projectID)
}

// CanAssign reports whether p may assign defects of the project to someone.
func CanAssign(p Principal, projectID string) bool {
	return p.IsAdmin() || p.IsProjectManager(projectID)
}

// CanSeeInternalComments reports whether p may read and write internal comments.
func CanSeeInternalComments(p Principal) bool {
	return p.Role() != UserRoleObserver
}

// CanEditDefect reports whether p may edit or delete the defect: its author,
// its assignee, the project manager or an administrator.
func CanEditDefect(p Principal, d *Defect) bool {
	if p.IsAdmin() || p.IsProjectManager(d.ProjectID) {
		return true
	}
	return d.AuthorID == p.UserID() || d.IsAssignee(p.UserID())
}

// CanEditComment reports whether p may change the text of a comment at now.
// Authors are limited to CommentEditWindow; managers and administrators are not.
func CanEditComment(p Principal, projectID string, c *DefectComment, now time.Time) bool {
	if c.Type.IsWorkflow() {
		return false
	}
	if p.IsAdmin() || p.IsProjectManager(projectID) {
		return true
	}
	return c.AuthorID == p.UserID() && now.Sub(c.CreatedAt) < CommentEditWindow
}

// CanDeleteComment reports whether p may delete a comment.
func CanDeleteComment(p Principal, projectID string, c *DefectComment) bool {
	if c.Type.IsWorkflow() {
		return false
	}
	return p.IsAdmin() || p.IsProjectManager(projectID) || c.AuthorID == p.UserID()
}
