package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/stroycontrol/defect-service/internal/api/dto"
	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/service"
	apperrors "github.com/stroycontrol/defect-service/pkg/util/errorutil"
)

// CommentsHandler serves the comment thread of a defect.
type CommentsHandler struct {
	comments *service.CommentService
}

// NewCommentsHandler constructs handler.
func NewCommentsHandler(comments *service.CommentService) *CommentsHandler {
	return &CommentsHandler{comments: comments}
}

// List GET /defects/:id/comments.
func (h *CommentsHandler) List(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	comments, err := h.comments.List(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	resp := make([]dto.CommentResponse, 0, len(comments))
	for i := range comments {
		resp = append(resp, commentResponse(&comments[i]))
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Create POST /defects/:id/comments.
func (h *CommentsHandler) Create(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	commentType := req.CommentType
	if commentType == "" {
		commentType = domain.CommentTypeComment
	}
	if !commentType.Valid() {
		return apperrors.NewValidationError("unknown comment_type", map[string]any{"comment_type": req.CommentType})
	}
	comment, err := h.comments.Add(c.UserContext(), principal, c.Params("id"), service.CommentCreateInput{
		Content:    req.Content,
		Type:       commentType,
		IsInternal: req.IsInternal,
		ReplyToID:  req.ReplyToID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": commentResponse(comment)})
}

// Update PATCH /defects/:id/comments/:commentId.
func (h *CommentsHandler) Update(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	comment, err := h.comments.Update(c.UserContext(), principal, c.Params("id"), c.Params("commentId"), req.Content)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": commentResponse(comment)})
}

// Delete DELETE /defects/:id/comments/:commentId.
func (h *CommentsHandler) Delete(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if err := h.comments.Delete(c.UserContext(), principal, c.Params("id"), c.Params("commentId")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

func commentResponse(comment *domain.DefectComment) dto.CommentResponse {
	return dto.CommentResponse{
		ID:          comment.ID,
		AuthorID:    comment.AuthorID,
		Content:     comment.Content,
		CommentType: comment.Type,
		IsInternal:  comment.IsInternal,
		ReplyToID:   comment.ReplyToID,
		CreatedAt:   comment.CreatedAt,
		UpdatedAt:   comment.UpdatedAt,
	}
}
