package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/events"
)

func TestCommentAdd(t *testing.T) {
	f := newFixture(t)
	defect := f.newDefect(nil)

	comment, err := f.comments.Add(f.ctx, f.engineer, defect.ID, CommentCreateInput{Content: "  photo attached  "})
	require.NoError(t, err)
	assert.Equal(t, "photo attached", comment.Content)
	assert.Equal(t, domain.CommentTypeComment, comment.Type)
	assert.Equal(t, f.engineer.UserID(), comment.AuthorID)

	reply, err := f.comments.Add(f.ctx, f.manager, defect.ID, CommentCreateInput{
		Content:    "fixed",
		Type:       domain.CommentTypeResolution,
		IsInternal: true,
		ReplyToID:  &comment.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, comment.ID, *reply.ReplyToID)

	published := f.log.ofType(events.EventDefectCommentAdded)
	require.Len(t, published, 2)
	payload := published[1].Payload.(events.DefectCommentAddedPayload)
	assert.True(t, payload.IsInternal)
	assert.Equal(t, "fixed", payload.Preview)

	assert.Empty(t, f.history(defect.ID))
}

func TestCommentAdd_Rejections(t *testing.T) {
	f := newFixture(t)
	defect := f.newDefect(nil)
	otherDefect := f.newDefect(nil)
	foreign, err := f.comments.Add(f.ctx, f.manager, otherDefect.ID, CommentCreateInput{Content: "elsewhere"})
	require.NoError(t, err)
	missing := "missing"

	tests := []struct {
		name  string
		actor domain.Principal
		input CommentCreateInput
		want  error
	}{
		{"empty", f.engineer, CommentCreateInput{Content: "   "}, domain.ErrInvalidInput},
		{"workflow type", f.engineer, CommentCreateInput{Content: "x", Type: domain.CommentTypeStatusChange}, domain.ErrInvalidInput},
		{"unknown type", f.engineer, CommentCreateInput{Content: "x", Type: "memo"}, domain.ErrInvalidInput},
		{"observer internal", f.observer, CommentCreateInput{Content: "x", IsInternal: true}, domain.ErrForbidden},
		{"outsider", f.outsider, CommentCreateInput{Content: "x"}, domain.ErrNotFound},
		{"reply to missing", f.engineer, CommentCreateInput{Content: "x", ReplyToID: &missing}, domain.ErrInvalidInput},
		{"reply across defects", f.engineer, CommentCreateInput{Content: "x", ReplyToID: &foreign.ID}, domain.ErrInvalidInput},
		{"nil actor", nil, CommentCreateInput{Content: "x"}, domain.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.comments.Add(f.ctx, tt.actor, defect.ID, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	comments, err := f.comments.List(f.ctx, f.manager, defect.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestCommentList_HidesInternalFromObservers(t *testing.T) {
	f := newFixture(t)
	defect := f.newDefect(f.assignee)
	f.moveTo(f.assignee, defect.ID, domain.DefectStatusInProgress)
	_, err := f.comments.Add(f.ctx, f.observer, defect.ID, CommentCreateInput{Content: "public"})
	require.NoError(t, err)
	_, err = f.comments.Add(f.ctx, f.manager, defect.ID, CommentCreateInput{Content: "internal", IsInternal: true})
	require.NoError(t, err)

	all, err := f.comments.List(f.ctx, f.engineer, defect.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.CommentTypeStatusChange, all[0].Type)
	assert.Equal(t, "internal", all[2].Content)

	visible, err := f.comments.List(f.ctx, f.observer, defect.ID)
	require.NoError(t, err)
	require.Len(t, visible, 2)
	for _, c := range visible {
		assert.False(t, c.IsInternal)
	}

	_, err = f.comments.List(f.ctx, f.outsider, defect.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCommentUpdate_EditWindow(t *testing.T) {
	f := newFixture(t)
	defect := f.newDefect(nil)
	comment, err := f.comments.Add(f.ctx, f.engineer, defect.ID, CommentCreateInput{Content: "crack is 2mm"})
	require.NoError(t, err)

	f.advance(10 * time.Minute)
	edited, err := f.comments.Update(f.ctx, f.engineer, defect.ID, comment.ID, " crack is 3mm ")
	require.NoError(t, err)
	assert.Equal(t, "crack is 3mm", edited.Content)
	assert.Equal(t, f.now, edited.UpdatedAt)

	_, err = f.comments.Update(f.ctx, f.assignee, defect.ID, comment.ID, "not mine")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.advance(5 * time.Minute)
	_, err = f.comments.Update(f.ctx, f.engineer, defect.ID, comment.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrForbidden, "authors may only edit within the window")

	edited, err = f.comments.Update(f.ctx, f.manager, defect.ID, comment.ID, "crack is 4mm")
	require.NoError(t, err)
	assert.Equal(t, "crack is 4mm", edited.Content)

	stored, err := f.store.Repositories().Comments.GetByID(f.ctx, comment.ID)
	require.NoError(t, err)
	assert.Equal(t, "crack is 4mm", stored.Content)
	assert.Len(t, f.log.ofType(events.EventDefectCommentEdited), 2)
	assert.Empty(t, f.history(defect.ID))
}

func TestCommentUpdate_Rejections(t *testing.T) {
	f := newFixture(t)
	defect := f.newDefect(f.assignee)
	f.moveTo(f.assignee, defect.ID, domain.DefectStatusInProgress)
	workflow := f.workflowComments(defect.ID)
	require.NotEmpty(t, workflow)
	internal, err := f.comments.Add(f.ctx, f.engineer, defect.ID, CommentCreateInput{Content: "supplier issue", IsInternal: true})
	require.NoError(t, err)
	other := f.newDefect(nil)

	tests := []struct {
		name      string
		actor     domain.Principal
		defectID  string
		commentID string
		content   string
		want      error
	}{
		{"blank content", f.engineer, defect.ID, internal.ID, "  ", domain.ErrInvalidInput},
		{"workflow comment", f.admin, defect.ID, workflow[0].ID, "rewrite", domain.ErrForbidden},
		{"internal hidden from observer", f.observer, defect.ID, internal.ID, "x", domain.ErrNotFound},
		{"outsider", f.outsider, defect.ID, internal.ID, "x", domain.ErrNotFound},
		{"comment of another defect", f.engineer, other.ID, internal.ID, "x", domain.ErrNotFound},
		{"missing comment", f.engineer, defect.ID, "missing", "x", domain.ErrNotFound},
		{"nil actor", nil, defect.ID, internal.ID, "x", domain.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.comments.Update(f.ctx, tt.actor, tt.defectID, tt.commentID, tt.content)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCommentDelete(t *testing.T) {
	f := newFixture(t)
	defect := f.newDefect(f.assignee)
	f.moveTo(f.assignee, defect.ID, domain.DefectStatusInProgress)
	mine, err := f.comments.Add(f.ctx, f.engineer, defect.ID, CommentCreateInput{Content: "mine"})
	require.NoError(t, err)
	theirs, err := f.comments.Add(f.ctx, f.assignee, defect.ID, CommentCreateInput{Content: "theirs"})
	require.NoError(t, err)

	f.advance(time.Hour)
	assert.ErrorIs(t, f.comments.Delete(f.ctx, f.engineer, defect.ID, theirs.ID), domain.ErrForbidden)
	require.NoError(t, f.comments.Delete(f.ctx, f.engineer, defect.ID, mine.ID), "authors may delete after the edit window")
	require.NoError(t, f.comments.Delete(f.ctx, f.manager, defect.ID, theirs.ID))
	assert.ErrorIs(t, f.comments.Delete(f.ctx, f.manager, defect.ID, theirs.ID), domain.ErrNotFound)

	workflow := f.workflowComments(defect.ID)
	require.NotEmpty(t, workflow)
	assert.ErrorIs(t, f.comments.Delete(f.ctx, f.admin, defect.ID, workflow[0].ID), domain.ErrForbidden)

	listed, err := f.comments.List(f.ctx, f.manager, defect.ID)
	require.NoError(t, err)
	require.Len(t, listed, len(workflow))
	assert.True(t, listed[0].Type.IsWorkflow())
	assert.Len(t, f.log.ofType(events.EventDefectCommentDeleted), 2)
}
