package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stroycontrol/defect-service/internal/domain"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	args := m.Called(ctx, channel, payload)
	return args.Get(0).(int64), args.Error(1)
}

type recordingDispatcher struct {
	subscribed []EventType
}

func (r *recordingDispatcher) Publish(context.Context, Event) error { return nil }

func (r *recordingDispatcher) Subscribe(eventType EventType, _ EventHandler) {
	r.subscribed = append(r.subscribed, eventType)
}

func TestRedisPublisherRegisterSubscribesEveryType(t *testing.T) {
	rec := &recordingDispatcher{}
	NewRedisPublisher(&mockPublisher{}, "defects.events", zaptest.NewLogger(t)).Register(rec)
	assert.ElementsMatch(t, AllEventTypes, rec.subscribed)
}

func TestRedisPublisherHandleEncodesEvent(t *testing.T) {
	client := &mockPublisher{}
	var sent []byte
	client.On("Publish", mock.Anything, "defects.events", mock.AnythingOfType("[]uint8")).
		Run(func(args mock.Arguments) { sent = args.Get(2).([]byte) }).
		Return(int64(2), nil).
		Once()

	p := NewRedisPublisher(client, "defects.events", zaptest.NewLogger(t))
	event := Event{
		ID:        "e1",
		Type:      EventDefectStatusChanged,
		DefectID:  "d1",
		Number:    "TOW-2026-0001",
		ProjectID: "p1",
		ActorID:   "u1",
		Timestamp: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Payload: DefectStatusChangedPayload{
			OldStatus: domain.DefectStatusInProgress,
			NewStatus: domain.DefectStatusReview,
		},
	}
	require.NoError(t, p.Handle(context.Background(), event))
	client.AssertExpectations(t)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(sent, &decoded))
	assert.Equal(t, "defect.status_changed", decoded["type"])
	assert.Equal(t, "TOW-2026-0001", decoded["defect_number"])
	payload := decoded["payload"].(map[string]any)
	assert.Equal(t, "review", payload["new_status"])
	assert.NotContains(t, payload, "comment")
}

func TestRedisPublisherHandleWrapsPublishError(t *testing.T) {
	boom := errors.New("connection refused")
	client := &mockPublisher{}
	client.On("Publish", mock.Anything, "ch", mock.Anything).Return(int64(0), boom)

	err := NewRedisPublisher(client, "ch", zaptest.NewLogger(t)).Handle(context.Background(), Event{ID: "e9", Type: EventDefectCreated})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "publish event e9")
}
