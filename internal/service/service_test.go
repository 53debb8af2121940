package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/events"
)

type failingDispatcher struct {
	published []events.Event
}

func (d *failingDispatcher) Publish(_ context.Context, event events.Event) error {
	d.published = append(d.published, event)
	return errors.New("subscriber down")
}

func (d *failingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func TestPublishFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.WarnLevel)
	dispatcher := &failingDispatcher{}
	defects := NewDefectService(DefectDependencies{
		Store:      f.store,
		Dispatcher: dispatcher,
		Logger:     zap.New(core),
		Clock:      f.clock,
		Location:   msk,
	})

	defect, err := defects.Create(f.ctx, f.manager, DefectCreateInput{
		ProjectID: f.project.ID, CategoryID: f.category.ID, Title: "Spalled column",
	})
	require.NoError(t, err, "a failed publish does not fail the committed operation")
	require.Len(t, dispatcher.published, 1)

	entries := logs.FilterMessage("failed to publish event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, string(events.EventDefectCreated), fields["event_type"])
	assert.Equal(t, defect.ID, fields["defect_id"])
	assert.Equal(t, "subscriber down", fields["error"])

	stored, err := f.store.Repositories().Defects.GetByID(f.ctx, defect.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DefectStatusNew, stored.Status)
}
