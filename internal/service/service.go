package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/events"
)

// Clock returns the current time. Services take one so tests can pin "now".
type Clock func() time.Time

// RequestMeta carries request scoped facts the services record but never derive themselves.
type RequestMeta struct {
	ClientIP string
}

func (m RequestMeta) ipAddress() *string {
	ip := strings.TrimSpace(m.ClientIP)
	if ip == "" {
		return nil
	}
	return &ip
}

func clockOrNow(clock Clock) Clock {
	if clock == nil {
		return time.Now
	}
	return clock
}

func locationOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// eventPublisher stamps and publishes events after the producing transaction commits.
type eventPublisher struct {
	dispatcher events.Dispatcher
	clock      Clock
	logger     *zap.Logger
}

func (p eventPublisher) publish(ctx context.Context, eventType events.EventType, actorID string, defect *domain.Defect, payload any) {
	if p.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		DefectID:  defect.ID,
		Number:    defect.Number,
		ProjectID: defect.ProjectID,
		ActorID:   actorID,
		Timestamp: clockOrNow(p.clock)(),
		Payload:   payload,
	}
	if err := p.dispatcher.Publish(ctx, event); err != nil && p.logger != nil {
		p.logger.Warn("failed to publish event",
			zap.String("event_type", string(event.Type)),
			zap.String("defect_id", event.DefectID),
			zap.Error(err),
		)
	}
}

func stringPreview(s string, limit int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "..."
}
