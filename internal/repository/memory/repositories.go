package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/repository"
)

type defectRepository struct {
	store *Store
}

func (r *defectRepository) Create(ctx context.Context, defect *domain.Defect) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFault(OpDefectCreate); err != nil {
		return err
	}
	if _, exists := s.data.numbers[defect.Number]; exists {
		return fmt.Errorf("%w: defects_defect_number_key", domain.ErrUniqueConstraintViolation)
	}
	if defect.ID == "" {
		defect.ID = uuid.NewString()
	}
	now := s.now()
	defect.CreatedAt = now
	defect.UpdatedAt = now
	s.data.defects[defect.ID] = cloneDefect(*defect)
	s.data.numbers[defect.Number] = defect.ID
	return nil
}

func (r *defectRepository) Update(ctx context.Context, defect *domain.Defect) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFault(OpDefectUpdate); err != nil {
		return err
	}
	existing, ok := s.data.defects[defect.ID]
	if !ok || existing.DeletedAt != nil {
		return fmt.Errorf("defect %s: %w", defect.ID, domain.ErrNotFound)
	}
	updated := cloneDefect(*defect)
	updated.Number = existing.Number
	updated.AuthorID = existing.AuthorID
	updated.ProjectID = existing.ProjectID
	updated.CreatedAt = existing.CreatedAt
	updated.DeletedAt = nil
	updated.UpdatedAt = s.now()
	s.data.defects[defect.ID] = updated
	defect.UpdatedAt = updated.UpdatedAt
	return nil
}

func (r *defectRepository) GetByID(ctx context.Context, id string) (*domain.Defect, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	defect, ok := s.data.defects[id]
	if !ok || defect.DeletedAt != nil {
		return nil, fmt.Errorf("defect %s: %w", id, domain.ErrNotFound)
	}
	out := cloneDefect(defect)
	return &out, nil
}

func (r *defectRepository) SoftDelete(ctx context.Context, defect *domain.Defect) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFault(OpDefectDelete); err != nil {
		return err
	}
	existing, ok := s.data.defects[defect.ID]
	if !ok || existing.DeletedAt != nil {
		return fmt.Errorf("defect %s: %w", defect.ID, domain.ErrNotFound)
	}
	now := s.now()
	existing.DeletedAt = &now
	existing.UpdatedAt = now
	s.data.defects[defect.ID] = existing
	defect.DeletedAt = cloneTime(&now)
	defect.UpdatedAt = now
	return nil
}

// GetByIDForUpdate needs no row lock: transactions already run one at a time.
func (r *defectRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Defect, error) {
	return r.GetByID(ctx, id)
}

func (r *defectRepository) GetByNumber(ctx context.Context, number string) (*domain.Defect, error) {
	s := r.store
	s.mu.RLock()
	id, ok := s.data.numbers[number]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("defect %s: %w", number, domain.ErrNotFound)
	}
	return r.GetByID(ctx, id)
}

func (r *defectRepository) LastNumberWithPrefix(ctx context.Context, prefix string) (string, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := ""
	for number := range s.data.numbers {
		if !strings.HasPrefix(number, prefix) {
			continue
		}
		if len(number) > len(last) || (len(number) == len(last) && number > last) {
			last = number
		}
	}
	return last, nil
}

func (r *defectRepository) LockNumberSequence(ctx context.Context, key string) error {
	return nil
}

func (r *defectRepository) ListWithFilter(ctx context.Context, filter repository.DefectFilter) ([]domain.Defect, error) {
	matched := r.match(filter)

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (r *defectRepository) Count(ctx context.Context, filter repository.DefectFilter) (int, error) {
	return len(r.match(filter)), nil
}

func (r *defectRepository) match(filter repository.DefectFilter) []domain.Defect {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Defect
	for _, defect := range s.data.defects {
		if defect.DeletedAt == nil && matchesFilter(defect, filter) {
			result = append(result, cloneDefect(defect))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Number > result[j].Number
	})
	return result
}

func matchesFilter(d domain.Defect, f repository.DefectFilter) bool {
	if f.IDs != nil && !contains(f.IDs, d.ID) {
		return false
	}
	if f.ProjectIDs != nil && !contains(f.ProjectIDs, d.ProjectID) {
		return false
	}
	if f.ProjectID != nil && *f.ProjectID != d.ProjectID {
		return false
	}
	if f.CategoryID != nil && *f.CategoryID != d.CategoryID {
		return false
	}
	if f.AssigneeID != nil && !d.IsAssignee(*f.AssigneeID) {
		return false
	}
	if f.AuthorID != nil && *f.AuthorID != d.AuthorID {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, d.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, d.Priority) {
		return false
	}
	if len(f.Severities) > 0 && !contains(f.Severities, d.Severity) {
		return false
	}
	if f.CreatedSince != nil && d.CreatedAt.Before(*f.CreatedSince) {
		return false
	}
	if f.CreatedBefore != nil && !d.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.DueFrom != nil && (d.DueDate == nil || d.DueDate.Before(*f.DueFrom)) {
		return false
	}
	if f.DueTo != nil && (d.DueDate == nil || d.DueDate.After(*f.DueTo)) {
		return false
	}
	if f.Overdue != nil {
		overdue := !d.Status.IsFinal() && d.DueDate != nil && domain.CivilDate(*d.DueDate, nil).Before(f.Today)
		if overdue != *f.Overdue {
			return false
		}
	}
	if f.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*f.SearchTerm))
		if term != "" {
			haystack := strings.ToLower(strings.Join([]string{d.Title, d.Description, d.Location, d.Number}, "\n"))
			if !strings.Contains(haystack, term) {
				return false
			}
		}
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

type historyRepository struct {
	store *Store
}

func (r *historyRepository) Create(ctx context.Context, history *domain.DefectHistory) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFault(OpHistoryCreate); err != nil {
		return err
	}
	if _, ok := s.data.defects[history.DefectID]; !ok {
		return fmt.Errorf("defect %s: %w", history.DefectID, domain.ErrNotFound)
	}
	history.ID = uuid.NewString()
	if history.Timestamp.IsZero() {
		history.Timestamp = s.now()
	}
	s.data.history = append(s.data.history, *history)
	return nil
}

func (r *historyRepository) ListByDefect(ctx context.Context, defectID string, limit, offset int) ([]domain.DefectHistory, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var result []domain.DefectHistory
	for i := len(s.data.history) - 1; i >= 0; i-- {
		if s.data.history[i].DefectID == defectID {
			result = append(result, s.data.history[i])
		}
	}
	// Insertion order breaks ties between equal timestamps.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if offset >= len(result) {
		return nil, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

func (r *historyRepository) CountByDefect(ctx context.Context, defectID string) (int, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, h := range s.data.history {
		if h.DefectID == defectID {
			count++
		}
	}
	return count, nil
}

type commentRepository struct {
	store *Store
}

func (r *commentRepository) Create(ctx context.Context, comment *domain.DefectComment) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFault(OpCommentCreate); err != nil {
		return err
	}
	if d, ok := s.data.defects[comment.DefectID]; !ok || d.DeletedAt != nil {
		return fmt.Errorf("defect %s: %w", comment.DefectID, domain.ErrNotFound)
	}
	comment.ID = uuid.NewString()
	comment.CreatedAt = s.now()
	comment.UpdatedAt = comment.CreatedAt
	s.data.comments = append(s.data.comments, *comment)
	return nil
}

func (r *commentRepository) GetByID(ctx context.Context, id string) (*domain.DefectComment, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.data.comments {
		if c.ID == id && c.DeletedAt == nil {
			out := c
			return &out, nil
		}
	}
	return nil, fmt.Errorf("comment %s: %w", id, domain.ErrNotFound)
}

func (r *commentRepository) ListByDefect(ctx context.Context, defectID string, includeInternal bool) ([]domain.DefectComment, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.DefectComment
	for _, c := range s.data.comments {
		if c.DefectID != defectID || c.DeletedAt != nil || (c.IsInternal && !includeInternal) {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

func (r *commentRepository) CountByDefect(ctx context.Context, defectID string) (int, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, c := range s.data.comments {
		if c.DefectID == defectID && c.DeletedAt == nil {
			count++
		}
	}
	return count, nil
}

func (r *commentRepository) UpdateContent(ctx context.Context, comment *domain.DefectComment) error {
	return r.mutate(OpCommentUpdate, comment.ID, func(c *domain.DefectComment, now time.Time) {
		c.Content = comment.Content
		c.UpdatedAt = now
		comment.UpdatedAt = now
	})
}

func (r *commentRepository) SoftDelete(ctx context.Context, comment *domain.DefectComment) error {
	return r.mutate(OpCommentDelete, comment.ID, func(c *domain.DefectComment, now time.Time) {
		c.DeletedAt = &now
		c.UpdatedAt = now
		comment.DeletedAt = cloneTime(&now)
		comment.UpdatedAt = now
	})
}

func (r *commentRepository) mutate(op, id string, apply func(c *domain.DefectComment, now time.Time)) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFault(op); err != nil {
		return err
	}
	for i := range s.data.comments {
		c := &s.data.comments[i]
		if c.ID == id && c.DeletedAt == nil {
			apply(c, s.now())
			return nil
		}
	}
	return fmt.Errorf("comment %s: %w", id, domain.ErrNotFound)
}

type projectRepository struct {
	store *Store
}

func (r *projectRepository) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, ok := s.data.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	return &project, nil
}

func (r *projectRepository) GetStage(ctx context.Context, stageID string) (*domain.ProjectStage, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	stage, ok := s.data.stages[stageID]
	if !ok {
		return nil, fmt.Errorf("stage %s: %w", stageID, domain.ErrNotFound)
	}
	return &stage, nil
}

func (r *projectRepository) GetCategory(ctx context.Context, categoryID string) (*domain.DefectCategory, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, ok := s.data.categories[categoryID]
	if !ok {
		return nil, fmt.Errorf("category %s: %w", categoryID, domain.ErrNotFound)
	}
	return &category, nil
}

func (r *projectRepository) ListCategories(ctx context.Context, activeOnly bool) ([]domain.DefectCategory, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var categories []domain.DefectCategory
	for _, category := range s.data.categories {
		if activeOnly && !category.IsActive {
			continue
		}
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	return categories, nil
}

func (r *projectRepository) IsActiveMember(ctx context.Context, projectID, userID string) (bool, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.data.members[memberKey{projectID: projectID, userID: userID}]
	if !ok || !m.active {
		return false, nil
	}
	user, ok := s.data.users[userID]
	return ok && user.IsActive, nil
}

func (r *projectRepository) ListManagedProjectIDs(ctx context.Context, userID string) ([]string, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, project := range s.data.projects {
		if project.IsManagedBy(userID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *projectRepository) ListMemberProjectIDs(ctx context.Context, userID string) ([]string, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for key, m := range s.data.members {
		if key.userID == userID && m.active {
			ids = append(ids, key.projectID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type userRepository struct {
	store *Store
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.data.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.data.users {
		if strings.EqualFold(user.Email, email) {
			out := user
			return &out, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, domain.ErrNotFound)
}
