package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stroycontrol/defect-service/internal/domain"
)

// DefectCommentRepository manages defect thread comments. Deleted comments are never returned.
type DefectCommentRepository interface {
	Create(ctx context.Context, comment *domain.DefectComment) error
	GetByID(ctx context.Context, id string) (*domain.DefectComment, error)
	ListByDefect(ctx context.Context, defectID string, includeInternal bool) ([]domain.DefectComment, error)
	CountByDefect(ctx context.Context, defectID string) (int, error)
	// UpdateContent rewrites the text of the comment and refreshes UpdatedAt.
	UpdateContent(ctx context.Context, comment *domain.DefectComment) error
	SoftDelete(ctx context.Context, comment *domain.DefectComment) error
}

type defectCommentRepository struct {
	db DBTX
}

// NewDefectCommentRepository builds repository.
func NewDefectCommentRepository(db DBTX) DefectCommentRepository {
	return &defectCommentRepository{db: db}
}

const commentColumns = `id, defect_id, author_id, content, comment_type, is_internal, reply_to_id, created_at, updated_at`

func (r *defectCommentRepository) Create(ctx context.Context, comment *domain.DefectComment) error {
	const query = `
        INSERT INTO defect_comments (defect_id, author_id, content, comment_type, is_internal, reply_to_id)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		comment.DefectID,
		comment.AuthorID,
		comment.Content,
		comment.Type,
		comment.IsInternal,
		comment.ReplyToID,
	).Scan(&comment.ID, &comment.CreatedAt, &comment.UpdatedAt)
}

func (r *defectCommentRepository) GetByID(ctx context.Context, id string) (*domain.DefectComment, error) {
	comment, err := scanComment(r.db.QueryRow(ctx,
		`SELECT `+commentColumns+` FROM defect_comments WHERE id=$1 AND deleted_at IS NULL`, id))
	if err != nil {
		return nil, notFound(err, "comment", id)
	}
	return comment, nil
}

func (r *defectCommentRepository) ListByDefect(ctx context.Context, defectID string, includeInternal bool) ([]domain.DefectComment, error) {
	query := `SELECT ` + commentColumns + ` FROM defect_comments WHERE defect_id=$1 AND deleted_at IS NULL`
	if !includeInternal {
		query += ` AND NOT is_internal`
	}
	query += ` ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, defectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DefectComment
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *comment)
	}
	return result, rows.Err()
}

func (r *defectCommentRepository) CountByDefect(ctx context.Context, defectID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM defect_comments WHERE defect_id=$1 AND deleted_at IS NULL`, defectID).Scan(&count)
	return count, err
}

func (r *defectCommentRepository) UpdateContent(ctx context.Context, comment *domain.DefectComment) error {
	const query = `
        UPDATE defect_comments SET content=$1, updated_at=NOW()
        WHERE id=$2 AND deleted_at IS NULL
        RETURNING updated_at`
	err := r.db.QueryRow(ctx, query, comment.Content, comment.ID).Scan(&comment.UpdatedAt)
	return notFound(err, "comment", comment.ID)
}

func (r *defectCommentRepository) SoftDelete(ctx context.Context, comment *domain.DefectComment) error {
	const query = `
        UPDATE defect_comments SET deleted_at=NOW(), updated_at=NOW()
        WHERE id=$1 AND deleted_at IS NULL
        RETURNING deleted_at, updated_at`
	var deletedAt time.Time
	if err := r.db.QueryRow(ctx, query, comment.ID).Scan(&deletedAt, &comment.UpdatedAt); err != nil {
		return notFound(err, "comment", comment.ID)
	}
	comment.DeletedAt = &deletedAt
	return nil
}

func scanComment(row pgx.Row) (*domain.DefectComment, error) {
	var comment domain.DefectComment
	if err := row.Scan(
		&comment.ID,
		&comment.DefectID,
		&comment.AuthorID,
		&comment.Content,
		&comment.Type,
		&comment.IsInternal,
		&comment.ReplyToID,
		&comment.CreatedAt,
		&comment.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &comment, nil
}
