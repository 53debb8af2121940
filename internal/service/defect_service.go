package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/events"
	"github.com/stroycontrol/defect-service/internal/repository"
)

// DefectService creates, reads and bulk edits defects. Status and assignee changes are
// delegated to LifecycleService and AssignmentService.
type DefectService struct {
	store       repository.Store
	allocator   *IdentifierAllocator
	lifecycle   *LifecycleService
	assignments *AssignmentService
	publisher   eventPublisher
	logger      *zap.Logger
	clock       Clock
	loc         *time.Location
	maxRetries  int
}

// DefectDependencies bundles collaborators for the defect service.
type DefectDependencies struct {
	Store       repository.Store
	Allocator   *IdentifierAllocator
	Lifecycle   *LifecycleService
	Assignments *AssignmentService
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Clock       Clock
	Location    *time.Location
	// MaxNumberRetries bounds how often creation is retried after a duplicate number.
	MaxNumberRetries int
}

// DefectCreateInput describes defect creation payload.
type DefectCreateInput struct {
	ProjectID   string
	StageID     *string
	CategoryID  string
	Title       string
	Description string
	Location    string
	Floor       string
	Room        string
	Priority    domain.DefectPriority
	Severity    domain.DefectSeverity
	DueDate     *time.Time
	AssigneeID  *string
}

// DefectListFilter describes listing filters. Results are always limited to the
// actor's projects unless the actor is an administrator.
type DefectListFilter struct {
	ProjectID   *string
	CategoryID  *string
	AssigneeID  *string
	AuthorID    *string
	Statuses    []domain.DefectStatus
	Priorities  []domain.DefectPriority
	Severities  []domain.DefectSeverity
	SearchTerm  *string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	DueFrom     *time.Time
	DueTo       *time.Time
	Overdue     *bool
	Limit       int
	Offset      int
}

// DefectStats summarises the defects visible to an actor.
type DefectStats struct {
	Total                  int
	ByStatus               map[domain.DefectStatus]int
	ByPriority             map[domain.DefectPriority]int
	ByCategory             map[string]int
	Overdue                int
	AverageResolutionHours float64
	CreatedToday           int
	ClosedToday            int
}

// BulkAction names an operation applied to many defects at once.
type BulkAction string

const (
	BulkActionChangeStatus   BulkAction = "change_status"
	BulkActionAssign         BulkAction = "assign"
	BulkActionChangePriority BulkAction = "change_priority"
)

// BulkUpdateInput describes a bulk operation.
type BulkUpdateInput struct {
	DefectIDs []string
	Action    BulkAction
	Value     string
}

// BulkUpdateResult reports how many defects changed and why the others did not.
type BulkUpdateResult struct {
	Updated int
	Errors  []string
}

// NewDefectService constructs the service.
func NewDefectService(deps DefectDependencies) *DefectService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := clockOrNow(deps.Clock)
	loc := locationOrUTC(deps.Location)
	allocator := deps.Allocator
	if allocator == nil {
		allocator = NewIdentifierAllocator(clock, loc)
	}
	retries := deps.MaxNumberRetries
	if retries < 0 {
		retries = 0
	}
	return &DefectService{
		store:       deps.Store,
		allocator:   allocator,
		lifecycle:   deps.Lifecycle,
		assignments: deps.Assignments,
		publisher:   eventPublisher{dispatcher: deps.Dispatcher, clock: clock, logger: logger},
		logger:      logger,
		clock:       clock,
		loc:         loc,
		maxRetries:  retries,
	}
}

// Create validates input, allocates a number and stores the defect in status new.
// A duplicate number caused by a concurrent creation is retried with a fresh allocation.
func (s *DefectService) Create(ctx context.Context, actor domain.Principal, input DefectCreateInput) (*domain.Defect, error) {
	if actor == nil {
		return nil, fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}
	if !domain.CanAccessProject(actor, input.ProjectID) {
		return nil, fmt.Errorf("%w: no access to project %s", domain.ErrForbidden, input.ProjectID)
	}

	var defect *domain.Defect
	attempts := 0
	operation := func() error {
		attempts++
		var err error
		defect, err = s.createOnce(ctx, actor, input)
		if err != nil && !errors.Is(err, domain.ErrUniqueConstraintViolation) {
			return backoff.Permanent(err)
		}
		if err != nil {
			s.logger.Warn("defect number collision", zap.Int("attempt", attempts), zap.Error(err))
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), uint64(s.maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	s.logger.Info("defect created",
		zap.String("defect_id", defect.ID),
		zap.String("defect_number", defect.Number),
		zap.String("project_id", defect.ProjectID),
		zap.String("author_id", defect.AuthorID))
	s.publisher.publish(ctx, events.EventDefectCreated, actor.UserID(), defect, events.DefectCreatedPayload{
		Title:      defect.Title,
		Priority:   defect.Priority,
		Severity:   defect.Severity,
		AssigneeID: defect.AssigneeID,
	})
	return defect, nil
}

func (s *DefectService) createOnce(ctx context.Context, actor domain.Principal, input DefectCreateInput) (*domain.Defect, error) {
	var defect *domain.Defect
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		project, err := repos.Projects.GetByID(ctx, input.ProjectID)
		if err != nil {
			return err
		}
		category, err := repos.Projects.GetCategory(ctx, input.CategoryID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: unknown category %s", domain.ErrInvalidInput, input.CategoryID)
			}
			return err
		}
		if !category.IsActive {
			return fmt.Errorf("%w: category %s is inactive", domain.ErrInvalidInput, category.Name)
		}
		var stage *domain.ProjectStage
		if input.StageID != nil && *input.StageID != "" {
			stage, err = repos.Projects.GetStage(ctx, *input.StageID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("%w: unknown stage %s", domain.ErrInvalidInput, *input.StageID)
				}
				return err
			}
		}

		now := s.clock()
		var due *time.Time
		if input.DueDate != nil {
			d := domain.CivilDate(*input.DueDate, time.UTC)
			if d.Before(domain.Today(now, s.loc)) {
				return fmt.Errorf("%w: %s", domain.ErrInvalidDueDate, d.Format(time.DateOnly))
			}
			due = &d
		}

		defect, err = domain.NewDefect(domain.NewDefectParams{
			Project:     *project,
			Stage:       stage,
			CategoryID:  category.ID,
			AuthorID:    actor.UserID(),
			Title:       input.Title,
			Description: input.Description,
			Location:    input.Location,
			Floor:       input.Floor,
			Room:        input.Room,
			Priority:    input.Priority,
			Severity:    input.Severity,
			DueDate:     due,
		})
		if err != nil {
			return err
		}

		if input.AssigneeID != nil && *input.AssigneeID != "" {
			member, err := repos.Projects.IsActiveMember(ctx, project.ID, *input.AssigneeID)
			if err != nil {
				return err
			}
			if !member {
				return fmt.Errorf("%w: user %s in project %s", domain.ErrNotProjectMember, *input.AssigneeID, project.ID)
			}
			assigneeID := *input.AssigneeID
			defect.AssigneeID = &assigneeID
			defect.AssignedAt = &now
		}

		defect.Number, err = s.allocator.Allocate(ctx, repos.Defects, *project)
		if err != nil {
			return err
		}
		return repos.Defects.Create(ctx, defect)
	})
	if err != nil {
		return nil, err
	}
	return defect, nil
}

// DefectUpdateInput is a partial edit. Nil fields are left unchanged.
// An empty StageID detaches the stage; ClearDueDate removes the due date.
type DefectUpdateInput struct {
	Title        *string
	Description  *string
	Location     *string
	Floor        *string
	Room         *string
	CategoryID   *string
	Priority     *domain.DefectPriority
	Severity     *domain.DefectSeverity
	StageID      *string
	DueDate      *time.Time
	ClearDueDate bool
}

// Update edits the descriptive fields of a defect. Authors, assignees, project managers
// and administrators may edit; status and assignee go through the lifecycle.
func (s *DefectService) Update(ctx context.Context, actor domain.Principal, defectID string, input DefectUpdateInput) (*domain.Defect, error) {
	if actor == nil {
		return nil, fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}

	var (
		defect  *domain.Defect
		changed []string
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		defect, err = s.loadEditable(ctx, repos, actor, defectID)
		if err != nil {
			return err
		}

		changes := domain.DefectChanges{
			Title:        input.Title,
			Description:  input.Description,
			Location:     input.Location,
			Floor:        input.Floor,
			Room:         input.Room,
			CategoryID:   input.CategoryID,
			Priority:     input.Priority,
			Severity:     input.Severity,
			ClearDueDate: input.ClearDueDate,
		}
		if input.CategoryID != nil && strings.TrimSpace(*input.CategoryID) != defect.CategoryID {
			category, err := repos.Projects.GetCategory(ctx, strings.TrimSpace(*input.CategoryID))
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("%w: unknown category %s", domain.ErrInvalidInput, *input.CategoryID)
				}
				return err
			}
			if !category.IsActive {
				return fmt.Errorf("%w: category %s is inactive", domain.ErrInvalidInput, category.Name)
			}
		}
		if input.StageID != nil {
			if *input.StageID == "" {
				changes.ClearStage = true
			} else {
				stage, err := repos.Projects.GetStage(ctx, *input.StageID)
				if err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						return fmt.Errorf("%w: unknown stage %s", domain.ErrInvalidInput, *input.StageID)
					}
					return err
				}
				changes.Stage = stage
			}
		}
		if input.DueDate != nil {
			due := domain.CivilDate(*input.DueDate, time.UTC)
			moved := defect.DueDate == nil || !defect.DueDate.Equal(due)
			if moved && due.Before(domain.Today(s.clock(), s.loc)) {
				return fmt.Errorf("%w: %s", domain.ErrInvalidDueDate, due.Format(time.DateOnly))
			}
			changes.DueDate = &due
		}

		changed, err = defect.ApplyChanges(changes)
		if err != nil || len(changed) == 0 {
			return err
		}
		return repos.Defects.Update(ctx, defect)
	})
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return defect, nil
	}

	s.logger.Info("defect updated",
		zap.String("defect_id", defect.ID),
		zap.String("defect_number", defect.Number),
		zap.String("editor_id", actor.UserID()),
		zap.Strings("fields", changed))
	s.publisher.publish(ctx, events.EventDefectUpdated, actor.UserID(), defect, events.DefectUpdatedPayload{Fields: changed})
	return defect, nil
}

// Delete soft deletes a defect. It disappears from every read; its history, comments and
// number are kept.
func (s *DefectService) Delete(ctx context.Context, actor domain.Principal, defectID string) error {
	if actor == nil {
		return fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}

	var defect *domain.Defect
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		defect, err = s.loadEditable(ctx, repos, actor, defectID)
		if err != nil {
			return err
		}
		return repos.Defects.SoftDelete(ctx, defect)
	})
	if err != nil {
		return err
	}

	s.logger.Info("defect deleted",
		zap.String("defect_id", defect.ID),
		zap.String("defect_number", defect.Number),
		zap.String("deleted_by", actor.UserID()))
	s.publisher.publish(ctx, events.EventDefectDeleted, actor.UserID(), defect, events.DefectDeletedPayload{
		Title:  defect.Title,
		Status: defect.Status,
	})
	return nil
}

func (s *DefectService) loadEditable(ctx context.Context, repos repository.Repositories, actor domain.Principal, defectID string) (*domain.Defect, error) {
	defect, err := repos.Defects.GetByIDForUpdate(ctx, defectID)
	if err != nil {
		return nil, err
	}
	if !domain.CanAccessProject(actor, defect.ProjectID) {
		return nil, fmt.Errorf("defect %s: %w", defectID, domain.ErrNotFound)
	}
	if !domain.CanEditDefect(actor, defect) {
		return nil, fmt.Errorf("%w: defect %s can only be changed by its author, assignee or project manager", domain.ErrForbidden, defect.Number)
	}
	return defect, nil
}

// Get returns a defect the actor may see. Defects outside the actor's projects are reported as not found.
func (s *DefectService) Get(ctx context.Context, actor domain.Principal, defectID string) (*domain.Defect, error) {
	defect, err := s.store.Repositories().Defects.GetByID(ctx, defectID)
	if err != nil {
		return nil, err
	}
	if actor == nil || !domain.CanAccessProject(actor, defect.ProjectID) {
		return nil, fmt.Errorf("defect %s: %w", defectID, domain.ErrNotFound)
	}
	return defect, nil
}

// List returns a page of defects visible to actor and the total number of matches.
func (s *DefectService) List(ctx context.Context, actor domain.Principal, filter DefectListFilter) ([]domain.Defect, int, error) {
	repoFilter := repository.DefectFilter{
		ProjectID:   filter.ProjectID,
		CategoryID:  filter.CategoryID,
		AssigneeID:  filter.AssigneeID,
		AuthorID:    filter.AuthorID,
		Statuses:    filter.Statuses,
		Priorities:  filter.Priorities,
		Severities:  filter.Severities,
		SearchTerm:  filter.SearchTerm,
		DueFrom:     filter.DueFrom,
		DueTo:       filter.DueTo,
		Overdue:     filter.Overdue,
		Today:       domain.Today(s.clock(), s.loc),
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	}
	if filter.CreatedFrom != nil {
		since, _ := domain.DayBounds(*filter.CreatedFrom, s.loc)
		repoFilter.CreatedSince = &since
	}
	if filter.CreatedTo != nil {
		_, before := domain.DayBounds(*filter.CreatedTo, s.loc)
		repoFilter.CreatedBefore = &before
	}
	s.applyScope(&repoFilter, actor)

	defects := s.store.Repositories().Defects
	items, err := defects.ListWithFilter(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}
	total, err := defects.Count(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Stats aggregates the defects visible to actor. The counters are read concurrently.
func (s *DefectService) Stats(ctx context.Context, actor domain.Principal) (*DefectStats, error) {
	repos := s.store.Repositories()
	today := domain.Today(s.clock(), s.loc)

	base := repository.DefectFilter{Today: today}
	s.applyScope(&base, actor)

	categories, err := repos.Projects.ListCategories(ctx, true)
	if err != nil {
		return nil, err
	}

	stats := &DefectStats{
		ByStatus:   make(map[domain.DefectStatus]int, len(domain.AllDefectStatuses)),
		ByPriority: make(map[domain.DefectPriority]int, len(domain.AllDefectPriorities)),
		ByCategory: make(map[string]int, len(categories)),
	}
	statusCounts := make([]int, len(domain.AllDefectStatuses))
	priorityCounts := make([]int, len(domain.AllDefectPriorities))
	categoryCounts := make([]int, len(categories))
	var closed []domain.Defect

	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int, mutate func(f *repository.DefectFilter)) {
		g.Go(func() error {
			f := base
			mutate(&f)
			n, err := repos.Defects.Count(gctx, f)
			*dst = n
			return err
		})
	}

	count(&stats.Total, func(*repository.DefectFilter) {})
	for i, status := range domain.AllDefectStatuses {
		status := status
		count(&statusCounts[i], func(f *repository.DefectFilter) { f.Statuses = []domain.DefectStatus{status} })
	}
	for i, priority := range domain.AllDefectPriorities {
		priority := priority
		count(&priorityCounts[i], func(f *repository.DefectFilter) { f.Priorities = []domain.DefectPriority{priority} })
	}
	for i, category := range categories {
		categoryID := category.ID
		count(&categoryCounts[i], func(f *repository.DefectFilter) { f.CategoryID = &categoryID })
	}
	overdue := true
	count(&stats.Overdue, func(f *repository.DefectFilter) { f.Overdue = &overdue })
	dayStart, dayEnd := domain.DayBounds(today, s.loc)
	count(&stats.CreatedToday, func(f *repository.DefectFilter) {
		f.CreatedSince = &dayStart
		f.CreatedBefore = &dayEnd
	})
	g.Go(func() error {
		f := base
		f.Statuses = []domain.DefectStatus{domain.DefectStatusClosed}
		n, err := repos.Defects.Count(gctx, f)
		if err != nil || n == 0 {
			return err
		}
		f.Limit = n
		closed, err = repos.Defects.ListWithFilter(gctx, f)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, status := range domain.AllDefectStatuses {
		stats.ByStatus[status] = statusCounts[i]
	}
	for i, priority := range domain.AllDefectPriorities {
		stats.ByPriority[priority] = priorityCounts[i]
	}
	for i, category := range categories {
		stats.ByCategory[category.Name] = categoryCounts[i]
	}

	var totalHours float64
	resolved := 0
	for _, d := range closed {
		if hours := domain.ResolutionHours(d); hours != nil {
			totalHours += *hours
			resolved++
		}
		if d.ClosedAt != nil && domain.CivilDate(*d.ClosedAt, s.loc).Equal(today) {
			stats.ClosedToday++
		}
	}
	if resolved > 0 {
		stats.AverageResolutionHours = math.Round(totalHours/float64(resolved)*10) / 10
	}
	return stats, nil
}

// BulkUpdate applies one action to every listed defect the actor can see. Each defect goes
// through the same path as a single update; expected rejections are collected per defect
// and do not stop the batch.
func (s *DefectService) BulkUpdate(ctx context.Context, actor domain.Principal, input BulkUpdateInput, meta RequestMeta) (*BulkUpdateResult, error) {
	if actor == nil {
		return nil, fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}
	if len(input.DefectIDs) == 0 {
		return nil, fmt.Errorf("%w: defect ids required", domain.ErrInvalidInput)
	}
	switch input.Action {
	case BulkActionChangeStatus, BulkActionAssign, BulkActionChangePriority:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidInput, input.Action)
	}

	filter := repository.DefectFilter{IDs: input.DefectIDs, Limit: len(input.DefectIDs)}
	s.applyScope(&filter, actor)
	defects, err := s.store.Repositories().Defects.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := &BulkUpdateResult{Errors: []string{}}
	for _, defect := range defects {
		var err error
		switch input.Action {
		case BulkActionChangeStatus:
			_, err = s.lifecycle.ChangeStatus(ctx, actor, defect.ID, domain.DefectStatus(input.Value), "", meta)
		case BulkActionAssign:
			if !domain.CanAssign(actor, defect.ProjectID) {
				err = fmt.Errorf("%w: only project manager may assign", domain.ErrForbidden)
				break
			}
			_, err = s.assignments.Assign(ctx, actor, defect.ID, input.Value, nil, meta)
		case BulkActionChangePriority:
			err = s.changePriority(ctx, defect.ID, domain.DefectPriority(input.Value))
		}
		if err != nil {
			if !isExpected(err) {
				return nil, err
			}
			result.Errors = append(result.Errors, fmt.Sprintf("Defect %s: %v", defect.Number, err))
			continue
		}
		result.Updated++
	}
	return result, nil
}

// Metrics derives the read-time metrics of d for the configured time zone.
func (s *DefectService) Metrics(d domain.Defect) domain.DefectMetrics {
	return domain.ComputeMetrics(d, s.clock(), s.loc)
}

func (s *DefectService) changePriority(ctx context.Context, defectID string, priority domain.DefectPriority) error {
	if !priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", domain.ErrInvalidInput, priority)
	}
	return s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		defect, err := repos.Defects.GetByIDForUpdate(ctx, defectID)
		if err != nil {
			return err
		}
		defect.Priority = priority
		return repos.Defects.Update(ctx, defect)
	})
}

func (s *DefectService) applyScope(filter *repository.DefectFilter, actor domain.Principal) {
	if actor != nil && actor.IsAdmin() {
		return
	}
	ids := []string{}
	if actor != nil {
		ids = append(ids, actor.AccessibleProjectIDs()...)
	}
	filter.ProjectIDs = ids
}

var expectedErrors = []error{
	domain.ErrInvalidTransition,
	domain.ErrNotProjectMember,
	domain.ErrInvalidDueDate,
	domain.ErrInvalidInput,
	domain.ErrForbidden,
	domain.ErrNotFound,
}

func isExpected(err error) bool {
	for _, target := range expectedErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
