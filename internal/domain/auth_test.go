package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActorCapabilities(t *testing.T) {
	actor := NewActor(User{ID: "u1", Role: UserRoleManager}, []string{"p2", "p1"}, []string{"p3", "p1"})

	assert.Equal(t, "u1", actor.UserID())
	assert.False(t, actor.IsAdmin())
	assert.True(t, actor.IsProjectManager("p1"))
	assert.False(t, actor.IsProjectManager("p3"))
	assert.True(t, actor.IsProjectMember("p3"))
	assert.Equal(t, []string{"p1", "p2", "p3"}, actor.AccessibleProjectIDs())

	assert.True(t, CanAccessProject(actor, "p2"))
	assert.False(t, CanAccessProject(actor, "p4"))
	assert.True(t, CanAssign(actor, "p1"))
	assert.False(t, CanAssign(actor, "p3"))
	assert.True(t, CanSeeInternalComments(actor))
}

func TestAdminAndObserver(t *testing.T) {
	admin := NewActor(User{ID: "root", Role: UserRoleAdmin}, nil, nil)
	assert.True(t, CanAccessProject(admin, "any"))
	assert.True(t, CanAssign(admin, "any"))
	assert.Empty(t, admin.AccessibleProjectIDs())

	observer := NewActor(User{ID: "o", Role: UserRoleObserver}, nil, []string{"p1"})
	assert.True(t, CanAccessProject(observer, "p1"))
	assert.False(t, CanAssign(observer, "p1"))
	assert.False(t, CanSeeInternalComments(observer))
}

func TestEditPermissions(t *testing.T) {
	assignee := "bob"
	defect := &Defect{ProjectID: "p1", AuthorID: "eve", AssigneeID: &assignee}
	manager := NewActor(User{ID: "pm", Role: UserRoleManager}, []string{"p1"}, []string{"p1"})
	admin := NewActor(User{ID: "root", Role: UserRoleAdmin}, nil, nil)
	author := NewActor(User{ID: "eve", Role: UserRoleEngineer}, nil, []string{"p1"})
	worker := NewActor(User{ID: "bob", Role: UserRoleEngineer}, nil, []string{"p1"})
	other := NewActor(User{ID: "zed", Role: UserRoleEngineer}, nil, []string{"p1"})

	for _, p := range []Principal{manager, admin, author, worker} {
		assert.True(t, CanEditDefect(p, defect), p.UserID())
	}
	assert.False(t, CanEditDefect(other, defect))

	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	comment := &DefectComment{AuthorID: "eve", Type: CommentTypeComment, CreatedAt: created}
	inWindow := created.Add(CommentEditWindow - time.Second)
	expired := created.Add(CommentEditWindow)

	assert.True(t, CanEditComment(author, "p1", comment, inWindow))
	assert.False(t, CanEditComment(author, "p1", comment, expired))
	assert.True(t, CanEditComment(manager, "p1", comment, expired))
	assert.True(t, CanEditComment(admin, "p1", comment, expired))
	assert.False(t, CanEditComment(other, "p1", comment, inWindow))

	assert.True(t, CanDeleteComment(author, "p1", comment))
	assert.True(t, CanDeleteComment(manager, "p1", comment))
	assert.False(t, CanDeleteComment(other, "p1", comment))

	workflow := &DefectComment{AuthorID: "eve", Type: CommentTypeStatusChange, CreatedAt: created}
	assert.False(t, CanEditComment(admin, "p1", workflow, inWindow))
	assert.False(t, CanDeleteComment(admin, "p1", workflow))
}
