package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/stroycontrol/defect-service/internal/config"
	"github.com/stroycontrol/defect-service/internal/events"
)

// NotificationService reacts to committed defect events. Delivery is stubbed: it logs what
// would be sent.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventDefectCreated, n.handleDefectCreated)
	n.dispatcher.Subscribe(events.EventDefectUpdated, n.handleDefectUpdated)
	n.dispatcher.Subscribe(events.EventDefectDeleted, n.handleDefectDeleted)
	n.dispatcher.Subscribe(events.EventDefectStatusChanged, n.handleDefectStatusChanged)
	n.dispatcher.Subscribe(events.EventDefectAssigned, n.handleDefectAssigned)
	n.dispatcher.Subscribe(events.EventDefectCommentAdded, n.handleDefectCommentAdded)
}

func (n *NotificationService) handleDefectCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("DefectCreated", zap.String("defect_number", event.Number), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleDefectUpdated(ctx context.Context, event events.Event) error {
	n.logger.Info("DefectUpdated", zap.String("defect_number", event.Number), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleDefectDeleted(ctx context.Context, event events.Event) error {
	n.logger.Info("DefectDeleted", zap.String("defect_number", event.Number))
	n.sendEmailNotificationStub(ctx, event)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleDefectStatusChanged(ctx context.Context, event events.Event) error {
	n.logger.Info("DefectStatusChanged", zap.String("defect_number", event.Number), zap.Any("payload", event.Payload))
	n.sendEmailNotificationStub(ctx, event)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleDefectAssigned(ctx context.Context, event events.Event) error {
	n.logger.Info("DefectAssigned", zap.String("defect_number", event.Number), zap.Any("payload", event.Payload))
	n.sendEmailNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleDefectCommentAdded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.DefectCommentAddedPayload)
	if ok && payload.IsInternal {
		return nil
	}
	n.logger.Info("DefectCommentAdded", zap.String("defect_number", event.Number), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("defect_id", event.DefectID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("defect_id", event.DefectID),
		zap.String("event_type", string(event.Type)))
}
