package repository

import (
	"context"

	"github.com/stroycontrol/defect-service/internal/domain"
)

// ProjectRepository reads the project reference data defects depend on.
type ProjectRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Project, error)
	GetStage(ctx context.Context, stageID string) (*domain.ProjectStage, error)
	GetCategory(ctx context.Context, categoryID string) (*domain.DefectCategory, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]domain.DefectCategory, error)
	IsActiveMember(ctx context.Context, projectID, userID string) (bool, error)
	ListManagedProjectIDs(ctx context.Context, userID string) ([]string, error)
	ListMemberProjectIDs(ctx context.Context, userID string) ([]string, error)
}

type projectRepository struct {
	db DBTX
}

// NewProjectRepository builds repository.
func NewProjectRepository(db DBTX) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	const query = `SELECT id, name, slug, manager_id FROM projects WHERE id=$1`
	var project domain.Project
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&project.ID,
		&project.Name,
		&project.Slug,
		&project.ManagerID,
	); err != nil {
		return nil, notFound(err, "project", id)
	}
	return &project, nil
}

func (r *projectRepository) GetStage(ctx context.Context, stageID string) (*domain.ProjectStage, error) {
	const query = `SELECT id, project_id, name FROM project_stages WHERE id=$1`
	var stage domain.ProjectStage
	if err := r.db.QueryRow(ctx, query, stageID).Scan(&stage.ID, &stage.ProjectID, &stage.Name); err != nil {
		return nil, notFound(err, "stage", stageID)
	}
	return &stage, nil
}

func (r *projectRepository) GetCategory(ctx context.Context, categoryID string) (*domain.DefectCategory, error) {
	const query = `SELECT id, name, is_active FROM defect_categories WHERE id=$1`
	var category domain.DefectCategory
	if err := r.db.QueryRow(ctx, query, categoryID).Scan(&category.ID, &category.Name, &category.IsActive); err != nil {
		return nil, notFound(err, "category", categoryID)
	}
	return &category, nil
}

func (r *projectRepository) ListCategories(ctx context.Context, activeOnly bool) ([]domain.DefectCategory, error) {
	query := `SELECT id, name, is_active FROM defect_categories`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []domain.DefectCategory
	for rows.Next() {
		var category domain.DefectCategory
		if err := rows.Scan(&category.ID, &category.Name, &category.IsActive); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

func (r *projectRepository) IsActiveMember(ctx context.Context, projectID, userID string) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM project_members pm JOIN users u ON u.id = pm.user_id
            WHERE pm.project_id=$1 AND pm.user_id=$2 AND pm.is_active AND u.is_active
        )`
	var exists bool
	err := r.db.QueryRow(ctx, query, projectID, userID).Scan(&exists)
	return exists, err
}

func (r *projectRepository) ListManagedProjectIDs(ctx context.Context, userID string) ([]string, error) {
	return r.listIDs(ctx, `SELECT id FROM projects WHERE manager_id=$1`, userID)
}

func (r *projectRepository) ListMemberProjectIDs(ctx context.Context, userID string) ([]string, error) {
	return r.listIDs(ctx, `SELECT project_id FROM project_members WHERE user_id=$1 AND is_active`, userID)
}

func (r *projectRepository) listIDs(ctx context.Context, query, arg string) ([]string, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
