package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/events"
	"github.com/stroycontrol/defect-service/internal/repository"
	"github.com/stroycontrol/defect-service/internal/workflow"
)

// LifecycleService moves defects through their status workflow.
type LifecycleService struct {
	store     repository.Store
	audit     *AuditTrail
	publisher eventPublisher
	logger    *zap.Logger
	clock     Clock
}

// LifecycleDependencies bundles collaborators.
type LifecycleDependencies struct {
	Store      repository.Store
	Audit      *AuditTrail
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Clock      Clock
}

// NewLifecycleService constructs the service.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := clockOrNow(deps.Clock)
	audit := deps.Audit
	if audit == nil {
		audit = NewAuditTrail(deps.Store, logger, clock)
	}
	return &LifecycleService{
		store:     deps.Store,
		audit:     audit,
		publisher: eventPublisher{dispatcher: deps.Dispatcher, clock: clock, logger: logger},
		logger:    logger,
		clock:     clock,
	}
}

// ChangeStatus moves the defect to requested on behalf of actor. The status update, its
// history row and its workflow comment are committed together or not at all. A denied
// transition returns domain.ErrInvalidTransition carrying the policy reason.
func (s *LifecycleService) ChangeStatus(ctx context.Context, actor domain.Principal, defectID string, requested domain.DefectStatus, comment string, meta RequestMeta) (*domain.Defect, error) {
	if actor == nil {
		return nil, fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}

	var (
		defect    *domain.Defect
		oldStatus domain.DefectStatus
		content   string
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		defect, err = repos.Defects.GetByIDForUpdate(ctx, defectID)
		if err != nil {
			return err
		}
		if ok, reason := workflow.CanTransition(defect.Status, requested, actor, *defect); !ok {
			return fmt.Errorf("%w: %s", domain.ErrInvalidTransition, reason)
		}

		oldStatus = defect.Status
		applyTransition(defect, requested, actor.UserID(), s.clock())
		if err := repos.Defects.Update(ctx, defect); err != nil {
			return err
		}

		if _, err := s.audit.Append(ctx, repos.History, AuditEntry{
			DefectID:  defect.ID,
			ActorID:   actor.UserID(),
			Action:    domain.HistoryActionStatusChanged,
			FieldName: "status",
			OldValue:  string(oldStatus),
			NewValue:  string(requested),
			Meta:      meta,
		}); err != nil {
			return err
		}

		content = strings.TrimSpace(comment)
		if content == "" {
			content = fmt.Sprintf("Status changed from %s to %s", oldStatus, requested)
		}
		return repos.Comments.Create(ctx, &domain.DefectComment{
			DefectID: defect.ID,
			AuthorID: actor.UserID(),
			Content:  content,
			Type:     domain.CommentTypeStatusChange,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("defect status changed",
		zap.String("defect_id", defect.ID),
		zap.String("defect_number", defect.Number),
		zap.String("actor_id", actor.UserID()),
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(defect.Status)))
	s.publisher.publish(ctx, events.EventDefectStatusChanged, actor.UserID(), defect, events.DefectStatusChangedPayload{
		OldStatus: oldStatus,
		NewStatus: defect.Status,
		Comment:   content,
	})
	return defect, nil
}

// AvailableTransitions returns the defect and the statuses actor may move it to.
func (s *LifecycleService) AvailableTransitions(ctx context.Context, actor domain.Principal, defectID string) (*domain.Defect, []domain.DefectStatus, error) {
	defect, err := s.store.Repositories().Defects.GetByID(ctx, defectID)
	if err != nil {
		return nil, nil, err
	}
	return defect, workflow.AvailableTransitions(actor, *defect), nil
}

// applyTransition sets the status and its timestamp side effects.
// started_at is set only once; completed_at is refreshed on every submission for review.
func applyTransition(defect *domain.Defect, requested domain.DefectStatus, actorID string, now time.Time) {
	defect.Status = requested
	switch requested {
	case domain.DefectStatusInProgress:
		if defect.StartedAt == nil {
			defect.StartedAt = &now
		}
	case domain.DefectStatusReview:
		defect.CompletedAt = &now
	case domain.DefectStatusClosed:
		defect.ClosedAt = &now
		if defect.ReviewerID == nil && actorID != "" {
			reviewer := actorID
			defect.ReviewerID = &reviewer
		}
	}
}
