package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stroycontrol/defect-service/internal/config"
	"github.com/stroycontrol/defect-service/internal/events"
	"github.com/stroycontrol/defect-service/internal/service"
)

type countingPublisher struct {
	channels []string
}

func (p *countingPublisher) Publish(_ context.Context, channel string, _ []byte) (int64, error) {
	p.channels = append(p.channels, channel)
	return 1, nil
}

func TestStartNotificationWorkerWiresSubscribers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	dispatcher := events.NewInMemoryDispatcher(logger)
	notifications := service.NewNotificationService(dispatcher, logger, config.NotificationConfig{EmailFrom: "noreply@example.com"})
	pub := &countingPublisher{}

	StartNotificationWorker(dispatcher, notifications, events.NewRedisPublisher(pub, "defects.events", logger))

	ctx := context.Background()
	require.NoError(t, dispatcher.Publish(ctx, events.Event{ID: "e1", Type: events.EventDefectAssigned, Number: "TOW-2026-0001"}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		ID:      "e2",
		Type:    events.EventDefectCommentAdded,
		Payload: events.DefectCommentAddedPayload{IsInternal: true},
	}))

	assert.Equal(t, []string{"defects.events", "defects.events"}, pub.channels)
	assert.Equal(t, 1, logs.FilterMessage("DefectAssigned").Len())
	assert.Equal(t, 1, logs.FilterMessage("sendEmailNotificationStub").Len())
	assert.Zero(t, logs.FilterMessage("DefectCommentAdded").Len(), "internal comments are not announced")
}

func TestStartNotificationWorkerWithoutRedis(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(nil)
	notifications := service.NewNotificationService(dispatcher, zap.NewNop(), config.NotificationConfig{})

	assert.NotPanics(t, func() {
		StartNotificationWorker(dispatcher, notifications, nil)
		_ = dispatcher.Publish(context.Background(), events.Event{Type: events.EventDefectCreated})
	})
}
