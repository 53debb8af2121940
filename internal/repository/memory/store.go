// Package memory is an in-process implementation of repository.Store.
// It backs the service when no Postgres DSN is configured and doubles as the test store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/repository"
)

// Fault is consulted before every write. A non-nil result fails the write.
type Fault func(op string) error

// Write operation names passed to a Fault.
const (
	OpDefectCreate  = "defects.create"
	OpDefectUpdate  = "defects.update"
	OpDefectDelete  = "defects.delete"
	OpHistoryCreate = "history.create"
	OpCommentCreate = "comments.create"
	OpCommentUpdate = "comments.update"
	OpCommentDelete = "comments.delete"
)

type memberKey struct {
	projectID string
	userID    string
}

type member struct {
	role   domain.ProjectMemberRole
	active bool
}

type state struct {
	defects    map[string]domain.Defect
	numbers    map[string]string
	history    []domain.DefectHistory
	comments   []domain.DefectComment
	projects   map[string]domain.Project
	stages     map[string]domain.ProjectStage
	categories map[string]domain.DefectCategory
	users      map[string]domain.User
	members    map[memberKey]member
}

func newState() *state {
	return &state{
		defects:    make(map[string]domain.Defect),
		numbers:    make(map[string]string),
		projects:   make(map[string]domain.Project),
		stages:     make(map[string]domain.ProjectStage),
		categories: make(map[string]domain.DefectCategory),
		users:      make(map[string]domain.User),
		members:    make(map[memberKey]member),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.defects {
		out.defects[k] = cloneDefect(v)
	}
	for k, v := range s.numbers {
		out.numbers[k] = v
	}
	out.history = append([]domain.DefectHistory(nil), s.history...)
	out.comments = append([]domain.DefectComment(nil), s.comments...)
	for k, v := range s.projects {
		out.projects[k] = v
	}
	for k, v := range s.stages {
		out.stages[k] = v
	}
	for k, v := range s.categories {
		out.categories[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.members {
		out.members[k] = v
	}
	return out
}

// Store keeps all records in memory. Transactions are serialised and rolled back from a snapshot.
type Store struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	data  *state
	fault Fault
	now   func() time.Time
}

var _ repository.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: newState(), now: time.Now}
}

// SetFault installs f as the write fault hook. Pass nil to clear it.
func (s *Store) SetFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// SetClock overrides the clock used for created_at and updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Repositories returns repositories reading and writing the live state.
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Defects:  &defectRepository{store: s},
		History:  &historyRepository{store: s},
		Comments: &commentRepository{store: s},
		Projects: &projectRepository{store: s},
		Users:    &userRepository{store: s},
	}
}

// WithinTx runs fn while holding the transaction lock. The state is restored when fn fails.
func (s *Store) WithinTx(ctx context.Context, fn repository.TxFunc) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(ctx, s.Repositories())
}

func (s *Store) restore(snapshot *state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = snapshot
}

// checkFault must be called with mu held.
func (s *Store) checkFault(op string) error {
	if s.fault == nil {
		return nil
	}
	if err := s.fault(op); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AddProject seeds a project and returns it with an id.
func (s *Store) AddProject(project domain.Project) domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	s.data.projects[project.ID] = project
	return project
}

// AddStage seeds a project stage.
func (s *Store) AddStage(stage domain.ProjectStage) domain.ProjectStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stage.ID == "" {
		stage.ID = uuid.NewString()
	}
	s.data.stages[stage.ID] = stage
	return stage
}

// AddCategory seeds a defect category.
func (s *Store) AddCategory(category domain.DefectCategory) domain.DefectCategory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	s.data.categories[category.ID] = category
	return category
}

// AddUser seeds a user.
func (s *Store) AddUser(user domain.User) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	s.data.users[user.ID] = user
	return user
}

// AddMember adds or replaces a project membership.
func (s *Store) AddMember(projectID, userID string, role domain.ProjectMemberRole, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.members[memberKey{projectID: projectID, userID: userID}] = member{role: role, active: active}
}

// AllHistory returns every history row in insertion order.
func (s *Store) AllHistory() []domain.DefectHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.DefectHistory(nil), s.data.history...)
}

// AllComments returns every comment in insertion order.
func (s *Store) AllComments() []domain.DefectComment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.DefectComment(nil), s.data.comments...)
}

func cloneDefect(d domain.Defect) domain.Defect {
	d.StageID = cloneString(d.StageID)
	d.AssigneeID = cloneString(d.AssigneeID)
	d.ReviewerID = cloneString(d.ReviewerID)
	d.DueDate = cloneTime(d.DueDate)
	d.AssignedAt = cloneTime(d.AssignedAt)
	d.StartedAt = cloneTime(d.StartedAt)
	d.CompletedAt = cloneTime(d.CompletedAt)
	d.ClosedAt = cloneTime(d.ClosedAt)
	d.DeletedAt = cloneTime(d.DeletedAt)
	return d
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
