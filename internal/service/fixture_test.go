package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/events"
	"github.com/stroycontrol/defect-service/internal/repository/memory"
)

// msk is a fixed +03:00 zone so tests do not depend on the host tz database.
var msk = time.FixedZone("MSK", 3*60*60)

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handle(_ context.Context, event events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *eventLog) ofType(eventType events.EventType) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, e := range l.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	mu    sync.Mutex
	now   time.Time
	store *memory.Store
	log   *eventLog

	audit       *AuditTrail
	lifecycle   *LifecycleService
	assignments *AssignmentService
	defects     *DefectService
	comments    *CommentService

	project  domain.Project
	category domain.DefectCategory

	admin    *domain.Actor
	manager  *domain.Actor
	assignee *domain.Actor
	engineer *domain.Actor
	observer *domain.Actor
	outsider *domain.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		now:   time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		store: memory.NewStore(),
		log:   &eventLog{},
	}
	f.store.SetClock(f.clock)

	logger := zaptest.NewLogger(t)
	dispatcher := events.NewInMemoryDispatcher(logger)
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, f.log.handle)
	}

	f.audit = NewAuditTrail(f.store, logger, f.clock)
	f.lifecycle = NewLifecycleService(LifecycleDependencies{
		Store: f.store, Audit: f.audit, Dispatcher: dispatcher, Logger: logger, Clock: f.clock,
	})
	f.assignments = NewAssignmentService(AssignmentDependencies{
		Store: f.store, Audit: f.audit, Dispatcher: dispatcher, Logger: logger, Clock: f.clock, Location: msk,
	})
	f.defects = NewDefectService(DefectDependencies{
		Store:            f.store,
		Lifecycle:        f.lifecycle,
		Assignments:      f.assignments,
		Dispatcher:       dispatcher,
		Logger:           logger,
		Clock:            f.clock,
		Location:         msk,
		MaxNumberRetries: 1,
	})
	f.comments = NewCommentService(CommentDependencies{
		Store: f.store, Dispatcher: dispatcher, Logger: logger, Clock: f.clock,
	})

	admin := f.store.AddUser(domain.User{Email: "admin@example.com", FirstName: "Anna", LastName: "Admin", Role: domain.UserRoleAdmin, IsActive: true})
	pm := f.store.AddUser(domain.User{Email: "pm@example.com", FirstName: "Pavel", LastName: "Manager", Role: domain.UserRoleManager, IsActive: true})
	assignee := f.store.AddUser(domain.User{Email: "bob@example.com", FirstName: "Bob", LastName: "Builder", Role: domain.UserRoleEngineer, IsActive: true})
	engineer := f.store.AddUser(domain.User{Email: "eve@example.com", FirstName: "Eve", LastName: "Other", Role: domain.UserRoleEngineer, IsActive: true})
	observer := f.store.AddUser(domain.User{Email: "olga@example.com", FirstName: "Olga", LastName: "Watcher", Role: domain.UserRoleObserver, IsActive: true})
	outsider := f.store.AddUser(domain.User{Email: "out@example.com", FirstName: "Oscar", LastName: "Outside", Role: domain.UserRoleEngineer, IsActive: true})

	f.project = f.store.AddProject(domain.Project{Name: "Tower", Slug: "tower", ManagerID: &pm.ID})
	f.category = f.store.AddCategory(domain.DefectCategory{Name: "Concrete", IsActive: true})
	for _, u := range []domain.User{pm, assignee, engineer, observer} {
		f.store.AddMember(f.project.ID, u.ID, domain.ProjectRoleEngineer, true)
	}

	f.admin = domain.NewActor(admin, nil, nil)
	f.manager = domain.NewActor(pm, []string{f.project.ID}, []string{f.project.ID})
	f.assignee = domain.NewActor(assignee, nil, []string{f.project.ID})
	f.engineer = domain.NewActor(engineer, nil, []string{f.project.ID})
	f.observer = domain.NewActor(observer, nil, []string{f.project.ID})
	f.outsider = domain.NewActor(outsider, nil, nil)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

// newDefect creates a defect authored by the manager, optionally pre-assigned.
func (f *fixture) newDefect(assignee *domain.Actor) *domain.Defect {
	f.t.Helper()
	input := DefectCreateInput{
		ProjectID:  f.project.ID,
		CategoryID: f.category.ID,
		Title:      "Crack in slab",
		Location:   "Block A",
	}
	if assignee != nil {
		id := assignee.UserID()
		input.AssigneeID = &id
	}
	defect, err := f.defects.Create(f.ctx, f.manager, input)
	require.NoError(f.t, err)
	return defect
}

func (f *fixture) reload(id string) *domain.Defect {
	f.t.Helper()
	defect, err := f.store.Repositories().Defects.GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return defect
}

func (f *fixture) history(defectID string) []domain.DefectHistory {
	var out []domain.DefectHistory
	for _, h := range f.store.AllHistory() {
		if h.DefectID == defectID {
			out = append(out, h)
		}
	}
	return out
}

func (f *fixture) workflowComments(defectID string) []domain.DefectComment {
	var out []domain.DefectComment
	for _, c := range f.store.AllComments() {
		if c.DefectID == defectID && c.Type.IsWorkflow() {
			out = append(out, c)
		}
	}
	return out
}

func (f *fixture) moveTo(actor domain.Principal, defectID string, status domain.DefectStatus) *domain.Defect {
	f.t.Helper()
	defect, err := f.lifecycle.ChangeStatus(f.ctx, actor, defectID, status, "", RequestMeta{})
	require.NoError(f.t, err)
	return defect
}
