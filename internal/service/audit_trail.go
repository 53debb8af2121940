package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/repository"
)

// AuditEntry describes one field mutation to record.
type AuditEntry struct {
	DefectID  string
	ActorID   string
	Action    domain.HistoryAction
	FieldName string
	OldValue  string
	NewValue  string
	Meta      RequestMeta
}

// AuditTrail appends and reads DefectHistory. Rows are never updated or deleted.
type AuditTrail struct {
	store  repository.Store
	logger *zap.Logger
	clock  Clock
}

// NewAuditTrail builds the audit trail. Every appended row is also written to the
// "defect_audit" logger.
func NewAuditTrail(store repository.Store, logger *zap.Logger, clock Clock) *AuditTrail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditTrail{
		store:  store,
		logger: logger.Named("defect_audit"),
		clock:  clockOrNow(clock),
	}
}

// Append persists entry through repo, which must be bound to the caller's transaction.
func (a *AuditTrail) Append(ctx context.Context, repo repository.DefectHistoryRepository, entry AuditEntry) (*domain.DefectHistory, error) {
	history := &domain.DefectHistory{
		DefectID:  entry.DefectID,
		Action:    entry.Action,
		FieldName: entry.FieldName,
		OldValue:  entry.OldValue,
		NewValue:  entry.NewValue,
		Timestamp: a.clock(),
		IPAddress: entry.Meta.ipAddress(),
	}
	if entry.ActorID != "" {
		actorID := entry.ActorID
		history.UserID = &actorID
	}
	if err := repo.Create(ctx, history); err != nil {
		return nil, err
	}

	a.logger.Info("defect mutation recorded",
		zap.String("defect_id", history.DefectID),
		zap.String("actor_id", entry.ActorID),
		zap.String("action", string(history.Action)),
		zap.String("field", history.FieldName),
		zap.String("old_value", history.OldValue),
		zap.String("new_value", history.NewValue),
		zap.String("ip", entry.Meta.ClientIP),
	)
	return history, nil
}

// History returns the defect's audit rows, newest first.
func (a *AuditTrail) History(ctx context.Context, defectID string, limit, offset int) ([]domain.DefectHistory, error) {
	if _, err := a.store.Repositories().Defects.GetByID(ctx, defectID); err != nil {
		return nil, err
	}
	return a.store.Repositories().History.ListByDefect(ctx, defectID, limit, offset)
}
