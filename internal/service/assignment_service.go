package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/events"
	"github.com/stroycontrol/defect-service/internal/repository"
)

const dueDateLayout = "02.01.2006"

// AssignmentService handles defect assignment. Whether the caller may assign at all is
// decided before it is invoked; the service validates the assignee and the due date.
type AssignmentService struct {
	store     repository.Store
	audit     *AuditTrail
	publisher eventPublisher
	logger    *zap.Logger
	clock     Clock
	loc       *time.Location
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	Store      repository.Store
	Audit      *AuditTrail
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Clock      Clock
	// Location decides which calendar day "today" is for due date checks.
	Location *time.Location
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := clockOrNow(deps.Clock)
	audit := deps.Audit
	if audit == nil {
		audit = NewAuditTrail(deps.Store, logger, clock)
	}
	return &AssignmentService{
		store:     deps.Store,
		audit:     audit,
		publisher: eventPublisher{dispatcher: deps.Dispatcher, clock: clock, logger: logger},
		logger:    logger,
		clock:     clock,
		loc:       locationOrUTC(deps.Location),
	}
}

// Assign makes assigneeID responsible for the defect and optionally sets its due date.
// A defect still in status new is moved to in_progress. The mutation, one history row
// and one assignment comment commit together.
func (s *AssignmentService) Assign(ctx context.Context, actor domain.Principal, defectID, assigneeID string, dueDate *time.Time, meta RequestMeta) (*domain.Defect, error) {
	if actor == nil {
		return nil, fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}

	var (
		defect        *domain.Defect
		oldAssigneeID *string
		assignee      *domain.User
		statusChanged bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		defect, err = repos.Defects.GetByIDForUpdate(ctx, defectID)
		if err != nil {
			return err
		}

		member, err := repos.Projects.IsActiveMember(ctx, defect.ProjectID, assigneeID)
		if err != nil {
			return err
		}
		if !member {
			return fmt.Errorf("%w: user %s in project %s", domain.ErrNotProjectMember, assigneeID, defect.ProjectID)
		}

		now := s.clock()
		var due *time.Time
		if dueDate != nil {
			d := domain.CivilDate(*dueDate, time.UTC)
			if d.Before(domain.Today(now, s.loc)) {
				return fmt.Errorf("%w: %s", domain.ErrInvalidDueDate, d.Format(time.DateOnly))
			}
			due = &d
		}

		assignee, err = repos.Users.GetByID(ctx, assigneeID)
		if err != nil {
			return err
		}
		oldName, err := displayName(ctx, repos.Users, defect.AssigneeID)
		if err != nil {
			return err
		}

		oldAssigneeID = defect.AssigneeID
		newAssigneeID := assignee.ID
		defect.AssigneeID = &newAssigneeID
		defect.AssignedAt = &now
		if due != nil {
			defect.DueDate = due
		}
		if defect.Status == domain.DefectStatusNew {
			applyTransition(defect, domain.DefectStatusInProgress, actor.UserID(), now)
			statusChanged = true
		}
		if err := repos.Defects.Update(ctx, defect); err != nil {
			return err
		}

		if _, err := s.audit.Append(ctx, repos.History, AuditEntry{
			DefectID:  defect.ID,
			ActorID:   actor.UserID(),
			Action:    domain.HistoryActionAssigned,
			FieldName: "assignee",
			OldValue:  oldName,
			NewValue:  assignee.FullName(),
			Meta:      meta,
		}); err != nil {
			return err
		}

		return repos.Comments.Create(ctx, &domain.DefectComment{
			DefectID: defect.ID,
			AuthorID: actor.UserID(),
			Content:  assignmentComment(assignee.FullName(), due),
			Type:     domain.CommentTypeAssignment,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("defect assigned",
		zap.String("defect_id", defect.ID),
		zap.String("defect_number", defect.Number),
		zap.String("actor_id", actor.UserID()),
		zap.String("assignee_id", assignee.ID),
		zap.Bool("status_changed", statusChanged))
	s.publisher.publish(ctx, events.EventDefectAssigned, actor.UserID(), defect, events.DefectAssignedPayload{
		OldAssigneeID: oldAssigneeID,
		AssigneeID:    assignee.ID,
		AssigneeName:  assignee.FullName(),
		DueDate:       defect.DueDate,
		StatusChanged: statusChanged,
	})
	return defect, nil
}

func assignmentComment(name string, due *time.Time) string {
	content := "Defect assigned to " + name
	if due != nil {
		content += " until " + due.Format(dueDateLayout)
	}
	return content
}

// displayName resolves the name recorded in history for a previous assignee.
// A missing or deleted user is recorded as "".
func displayName(ctx context.Context, users repository.UserRepository, userID *string) (string, error) {
	if userID == nil {
		return "", nil
	}
	user, err := users.GetByID(ctx, *userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return user.FullName(), nil
}
