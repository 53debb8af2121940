package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stroycontrol/defect-service/internal/api/dto"
	"github.com/stroycontrol/defect-service/internal/auth"
	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/service"
	apperrors "github.com/stroycontrol/defect-service/pkg/util/errorutil"
)

// DefectsHandler exposes the defect lifecycle endpoints.
type DefectsHandler struct {
	defects     *service.DefectService
	lifecycle   *service.LifecycleService
	assignments *service.AssignmentService
	audit       *service.AuditTrail
}

// DefectsDependencies bundles the services used by the handler.
type DefectsDependencies struct {
	Defects     *service.DefectService
	Lifecycle   *service.LifecycleService
	Assignments *service.AssignmentService
	Audit       *service.AuditTrail
}

// NewDefectsHandler constructs handler.
func NewDefectsHandler(deps DefectsDependencies) *DefectsHandler {
	return &DefectsHandler{
		defects:     deps.Defects,
		lifecycle:   deps.Lifecycle,
		assignments: deps.Assignments,
		audit:       deps.Audit,
	}
}

// CreateDefect POST /defects.
func (h *DefectsHandler) CreateDefect(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateDefectRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.CategoryID) == "" || strings.TrimSpace(req.Title) == "" {
		return apperrors.NewValidationError("project_id, category_id, title required", nil)
	}
	dueDate, err := parseDate("due_date", req.DueDate)
	if err != nil {
		return err
	}

	defect, err := h.defects.Create(c.UserContext(), principal, service.DefectCreateInput{
		ProjectID:   req.ProjectID,
		StageID:     req.StageID,
		CategoryID:  req.CategoryID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Floor:       req.Floor,
		Room:        req.Room,
		Priority:    req.Priority,
		Severity:    req.Severity,
		DueDate:     dueDate,
		AssigneeID:  req.AssigneeID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": h.defectResponse(defect)})
}

// UpdateDefect PATCH /defects/:id.
func (h *DefectsHandler) UpdateDefect(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateDefectRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	input := service.DefectUpdateInput{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Floor:       req.Floor,
		Room:        req.Room,
		CategoryID:  req.CategoryID,
		Priority:    req.Priority,
		Severity:    req.Severity,
	}
	if req.StageID != nil {
		stageID := strings.TrimSpace(*req.StageID)
		input.StageID = &stageID
	}
	if req.DueDate != nil && strings.TrimSpace(*req.DueDate) == "" {
		input.ClearDueDate = true
	} else if input.DueDate, err = parseDate("due_date", req.DueDate); err != nil {
		return err
	}

	defect, err := h.defects.Update(c.UserContext(), principal, c.Params("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.defectResponse(defect)})
}

// DeleteDefect DELETE /defects/:id.
func (h *DefectsHandler) DeleteDefect(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if err := h.defects.Delete(c.UserContext(), principal, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// ListDefects GET /defects.
func (h *DefectsHandler) ListDefects(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	filter, page, pageSize, err := parseDefectQuery(c)
	if err != nil {
		return err
	}
	defects, total, err := h.defects.List(c.UserContext(), principal, filter)
	if err != nil {
		return err
	}
	items := make([]dto.DefectResponse, 0, len(defects))
	for i := range defects {
		items = append(items, h.defectResponse(&defects[i]))
	}
	return c.JSON(fiber.Map{
		"data": items,
		"meta": dto.PageMeta{Total: total, Page: page, PageSize: pageSize},
	})
}

// GetDefect GET /defects/:id.
func (h *DefectsHandler) GetDefect(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	defect, err := h.defects.Get(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.defectResponse(defect)})
}

// Stats GET /defects/stats.
func (h *DefectsHandler) Stats(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	stats, err := h.defects.Stats(c.UserContext(), principal)
	if err != nil {
		return err
	}
	resp := dto.DefectStatsResponse{
		TotalDefects:          stats.Total,
		DefectsByStatus:       make(map[string]int, len(stats.ByStatus)),
		DefectsByPriority:     make(map[string]int, len(stats.ByPriority)),
		DefectsByCategory:     stats.ByCategory,
		OverdueDefects:        stats.Overdue,
		AverageResolutionTime: stats.AverageResolutionHours,
		DefectsCreatedToday:   stats.CreatedToday,
		DefectsClosedToday:    stats.ClosedToday,
	}
	for status, n := range stats.ByStatus {
		resp.DefectsByStatus[string(status)] = n
	}
	for priority, n := range stats.ByPriority {
		resp.DefectsByPriority[string(priority)] = n
	}
	return c.JSON(fiber.Map{"data": resp})
}

// BulkUpdate POST /defects/bulk.
func (h *DefectsHandler) BulkUpdate(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.BulkUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if len(req.DefectIDs) == 0 || req.Action == "" {
		return apperrors.NewValidationError("defect_ids and action required", nil)
	}
	result, err := h.defects.BulkUpdate(c.UserContext(), principal, service.BulkUpdateInput{
		DefectIDs: req.DefectIDs,
		Action:    service.BulkAction(req.Action),
		Value:     req.Value,
	}, requestMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.BulkUpdateResponse{UpdatedCount: result.Updated, Errors: result.Errors}})
}

// ChangeStatus POST /defects/:id/status.
func (h *DefectsHandler) ChangeStatus(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ChangeStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	if !req.Status.Valid() {
		return apperrors.NewValidationError("unknown status", map[string]any{"status": req.Status})
	}
	// Resolving through Get hides defects outside the caller's projects.
	defect, err := h.defects.Get(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	defect, err = h.lifecycle.ChangeStatus(c.UserContext(), principal, defect.ID, req.Status, req.Comment, requestMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.defectResponse(defect)})
}

// Assign POST /defects/:id/assign.
func (h *DefectsHandler) Assign(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AssignDefectRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.AssigneeID) == "" {
		return apperrors.NewValidationError("assignee_id required", nil)
	}
	dueDate, err := parseDate("due_date", req.DueDate)
	if err != nil {
		return err
	}
	defect, err := h.defects.Get(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	if !auth.CanAssign(principal, defect.ProjectID) {
		return apperrors.NewForbidden("only project manager or administrator may assign defects")
	}
	defect, err = h.assignments.Assign(c.UserContext(), principal, defect.ID, req.AssigneeID, dueDate, requestMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.defectResponse(defect)})
}

// Transitions GET /defects/:id/transitions.
func (h *DefectsHandler) Transitions(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if _, err := h.defects.Get(c.UserContext(), principal, c.Params("id")); err != nil {
		return err
	}
	defect, available, err := h.lifecycle.AvailableTransitions(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	if available == nil {
		available = []domain.DefectStatus{}
	}
	return c.JSON(fiber.Map{"data": dto.TransitionsResponse{Current: defect.Status, Available: available}})
}

// History GET /defects/:id/history.
func (h *DefectsHandler) History(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	defect, err := h.defects.Get(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	page, pageSize := parsePage(c, 50)
	entries, err := h.audit.History(c.UserContext(), defect.ID, pageSize, (page-1)*pageSize)
	if err != nil {
		return err
	}
	resp := make([]dto.HistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.HistoryResponse{
			ID:        entry.ID,
			UserID:    entry.UserID,
			Action:    entry.Action,
			FieldName: entry.FieldName,
			OldValue:  entry.OldValue,
			NewValue:  entry.NewValue,
			Timestamp: entry.Timestamp,
			IPAddress: entry.IPAddress,
		})
	}
	return c.JSON(fiber.Map{"data": resp})
}

func (h *DefectsHandler) defectResponse(defect *domain.Defect) dto.DefectResponse {
	metrics := h.defects.Metrics(*defect)
	resp := dto.DefectResponse{
		ID:              defect.ID,
		Number:          defect.Number,
		ProjectID:       defect.ProjectID,
		StageID:         defect.StageID,
		CategoryID:      defect.CategoryID,
		Title:           defect.Title,
		Description:     defect.Description,
		Location:        defect.Location,
		Floor:           defect.Floor,
		Room:            defect.Room,
		Priority:        defect.Priority,
		Severity:        defect.Severity,
		Status:          defect.Status,
		AuthorID:        defect.AuthorID,
		AssigneeID:      defect.AssigneeID,
		ReviewerID:      defect.ReviewerID,
		AssignedAt:      defect.AssignedAt,
		StartedAt:       defect.StartedAt,
		CompletedAt:     defect.CompletedAt,
		ClosedAt:        defect.ClosedAt,
		CreatedAt:       defect.CreatedAt,
		UpdatedAt:       defect.UpdatedAt,
		IsOverdue:       metrics.IsOverdue,
		DaysRemaining:   metrics.DaysRemaining,
		ResolutionHours: metrics.ResolutionHours,
	}
	if defect.DueDate != nil {
		due := defect.DueDate.Format(dto.DateLayout)
		resp.DueDate = &due
	}
	return resp
}

func parseDefectQuery(c *fiber.Ctx) (service.DefectListFilter, int, int, error) {
	filter := service.DefectListFilter{
		ProjectID:  optionalQuery(c, "project_id"),
		CategoryID: optionalQuery(c, "category_id"),
		AssigneeID: optionalQuery(c, "assignee_id"),
		AuthorID:   optionalQuery(c, "author_id"),
		SearchTerm: optionalQuery(c, "search"),
	}
	for _, part := range splitQuery(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.DefectStatus(part))
	}
	for _, part := range splitQuery(c.Query("priority")) {
		filter.Priorities = append(filter.Priorities, domain.DefectPriority(part))
	}
	for _, part := range splitQuery(c.Query("severity")) {
		filter.Severities = append(filter.Severities, domain.DefectSeverity(part))
	}

	dates := []struct {
		key string
		dst **time.Time
	}{
		{"created_from", &filter.CreatedFrom},
		{"created_to", &filter.CreatedTo},
		{"due_from", &filter.DueFrom},
		{"due_to", &filter.DueTo},
	}
	for _, d := range dates {
		parsed, err := parseDate(d.key, optionalQuery(c, d.key))
		if err != nil {
			return filter, 0, 0, err
		}
		*d.dst = parsed
	}

	if raw := c.Query("overdue"); raw != "" {
		overdue, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, 0, 0, apperrors.NewValidationError("overdue must be a boolean", nil)
		}
		filter.Overdue = &overdue
	}

	page, pageSize := parsePage(c, 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter, page, pageSize, nil
}
