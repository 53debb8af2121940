package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/events"
	"github.com/stroycontrol/defect-service/internal/repository"
)

// CommentService manages free-form comments on defects. Workflow comments are written
// by LifecycleService and AssignmentService only.
type CommentService struct {
	store     repository.Store
	publisher eventPublisher
	logger    *zap.Logger
	clock     Clock
}

// CommentDependencies bundles collaborators.
type CommentDependencies struct {
	Store      repository.Store
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Clock      Clock
}

// CommentCreateInput describes a new comment.
type CommentCreateInput struct {
	Content    string
	Type       domain.CommentType
	IsInternal bool
	ReplyToID  *string
}

// NewCommentService constructs the service.
func NewCommentService(deps CommentDependencies) *CommentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := clockOrNow(deps.Clock)
	return &CommentService{
		store:     deps.Store,
		publisher: eventPublisher{dispatcher: deps.Dispatcher, clock: clock, logger: logger},
		logger:    logger,
		clock:     clock,
	}
}

// Add posts a comment by actor on the defect.
func (s *CommentService) Add(ctx context.Context, actor domain.Principal, defectID string, input CommentCreateInput) (*domain.DefectComment, error) {
	if actor == nil {
		return nil, fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content required", domain.ErrInvalidInput)
	}
	commentType := input.Type
	if commentType == "" {
		commentType = domain.CommentTypeComment
	}
	if !commentType.Valid() || commentType.IsWorkflow() {
		return nil, fmt.Errorf("%w: comment type %q not allowed", domain.ErrInvalidInput, commentType)
	}
	if input.IsInternal && !domain.CanSeeInternalComments(actor) {
		return nil, fmt.Errorf("%w: observers cannot post internal comments", domain.ErrForbidden)
	}

	var (
		defect  *domain.Defect
		comment *domain.DefectComment
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		defect, err = repos.Defects.GetByID(ctx, defectID)
		if err != nil {
			return err
		}
		if !domain.CanAccessProject(actor, defect.ProjectID) {
			return fmt.Errorf("defect %s: %w", defectID, domain.ErrNotFound)
		}
		if input.ReplyToID != nil && *input.ReplyToID != "" {
			parent, err := repos.Comments.GetByID(ctx, *input.ReplyToID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("%w: reply_to %s does not exist", domain.ErrInvalidInput, *input.ReplyToID)
				}
				return err
			}
			if parent.DefectID != defect.ID {
				return fmt.Errorf("%w: reply_to belongs to another defect", domain.ErrInvalidInput)
			}
		}

		comment = &domain.DefectComment{
			DefectID:   defect.ID,
			AuthorID:   actor.UserID(),
			Content:    content,
			Type:       commentType,
			IsInternal: input.IsInternal,
		}
		if input.ReplyToID != nil && *input.ReplyToID != "" {
			replyTo := *input.ReplyToID
			comment.ReplyToID = &replyTo
		}
		return repos.Comments.Create(ctx, comment)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("defect comment added",
		zap.String("defect_id", defect.ID),
		zap.String("comment_id", comment.ID),
		zap.String("comment_type", string(comment.Type)))
	s.publisher.publish(ctx, events.EventDefectCommentAdded, actor.UserID(), defect, events.DefectCommentAddedPayload{
		CommentID:   comment.ID,
		CommentType: comment.Type,
		IsInternal:  comment.IsInternal,
		Preview:     stringPreview(comment.Content, 120),
	})
	return comment, nil
}

// List returns the defect's comments oldest first. Internal comments are hidden from observers.
func (s *CommentService) List(ctx context.Context, actor domain.Principal, defectID string) ([]domain.DefectComment, error) {
	repos := s.store.Repositories()
	defect, err := repos.Defects.GetByID(ctx, defectID)
	if err != nil {
		return nil, err
	}
	if actor == nil || !domain.CanAccessProject(actor, defect.ProjectID) {
		return nil, fmt.Errorf("defect %s: %w", defectID, domain.ErrNotFound)
	}
	return repos.Comments.ListByDefect(ctx, defect.ID, domain.CanSeeInternalComments(actor))
}

// Update replaces the text of a comment. Authors may edit within domain.CommentEditWindow,
// project managers and administrators at any time. Workflow comments are immutable.
func (s *CommentService) Update(ctx context.Context, actor domain.Principal, defectID, commentID, content string) (*domain.DefectComment, error) {
	if actor == nil {
		return nil, fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: content required", domain.ErrInvalidInput)
	}

	var (
		defect  *domain.Defect
		comment *domain.DefectComment
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		defect, comment, err = loadVisibleComment(ctx, repos, actor, defectID, commentID)
		if err != nil {
			return err
		}
		if !domain.CanEditComment(actor, defect.ProjectID, comment, s.clock()) {
			return fmt.Errorf("%w: comment %s cannot be edited", domain.ErrForbidden, commentID)
		}
		if comment.Content == content {
			return nil
		}
		comment.Content = content
		return repos.Comments.UpdateContent(ctx, comment)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("defect comment edited",
		zap.String("defect_id", defect.ID),
		zap.String("comment_id", comment.ID),
		zap.String("editor_id", actor.UserID()))
	s.publisher.publish(ctx, events.EventDefectCommentEdited, actor.UserID(), defect, events.DefectCommentChangedPayload{
		CommentID:  comment.ID,
		AuthorID:   comment.AuthorID,
		IsInternal: comment.IsInternal,
	})
	return comment, nil
}

// Delete soft deletes a comment. Authors may delete their own comments; project managers
// and administrators any free-form comment.
func (s *CommentService) Delete(ctx context.Context, actor domain.Principal, defectID, commentID string) error {
	if actor == nil {
		return fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}

	var (
		defect  *domain.Defect
		comment *domain.DefectComment
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		defect, comment, err = loadVisibleComment(ctx, repos, actor, defectID, commentID)
		if err != nil {
			return err
		}
		if !domain.CanDeleteComment(actor, defect.ProjectID, comment) {
			return fmt.Errorf("%w: comment %s cannot be deleted", domain.ErrForbidden, commentID)
		}
		return repos.Comments.SoftDelete(ctx, comment)
	})
	if err != nil {
		return err
	}

	s.logger.Info("defect comment deleted",
		zap.String("defect_id", defect.ID),
		zap.String("comment_id", comment.ID),
		zap.String("deleted_by", actor.UserID()))
	s.publisher.publish(ctx, events.EventDefectCommentDeleted, actor.UserID(), defect, events.DefectCommentChangedPayload{
		CommentID:  comment.ID,
		AuthorID:   comment.AuthorID,
		IsInternal: comment.IsInternal,
	})
	return nil
}

// loadVisibleComment resolves a comment of the defect. Anything the actor may not read is reported as not found.
func loadVisibleComment(ctx context.Context, repos repository.Repositories, actor domain.Principal, defectID, commentID string) (*domain.Defect, *domain.DefectComment, error) {
	defect, err := repos.Defects.GetByID(ctx, defectID)
	if err != nil {
		return nil, nil, err
	}
	if !domain.CanAccessProject(actor, defect.ProjectID) {
		return nil, nil, fmt.Errorf("defect %s: %w", defectID, domain.ErrNotFound)
	}
	comment, err := repos.Comments.GetByID(ctx, commentID)
	if err != nil {
		return nil, nil, err
	}
	if comment.DefectID != defect.ID || (comment.IsInternal && !domain.CanSeeInternalComments(actor)) {
		return nil, nil, fmt.Errorf("comment %s: %w", commentID, domain.ErrNotFound)
	}
	return defect, comment, nil
}
