package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stroycontrol/defect-service/internal/domain"
)

// DefectFilter captures listing parameters.
type DefectFilter struct {
	IDs        []string
	ProjectIDs []string
	ProjectID  *string
	CategoryID *string
	AssigneeID *string
	AuthorID   *string
	Statuses   []domain.DefectStatus
	Priorities []domain.DefectPriority
	Severities []domain.DefectSeverity
	SearchTerm *string
	// CreatedSince and CreatedBefore bound created_at as instants: [since, before).
	CreatedSince  *time.Time
	CreatedBefore *time.Time
	DueFrom       *time.Time
	DueTo         *time.Time
	// Overdue selects open defects with a due date before Today (true) or everything else (false).
	Overdue *bool
	Today   time.Time
	Limit   int
	Offset  int
}

// DefectRepository encapsulates defect persistence.
type DefectRepository interface {
	Create(ctx context.Context, defect *domain.Defect) error
	Update(ctx context.Context, defect *domain.Defect) error
	GetByID(ctx context.Context, id string) (*domain.Defect, error)
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Defect, error)
	GetByNumber(ctx context.Context, number string) (*domain.Defect, error)
	// LastNumberWithPrefix returns the highest defect number starting with prefix, or "".
	LastNumberWithPrefix(ctx context.Context, prefix string) (string, error)
	// LockNumberSequence serializes number allocation for key until the transaction ends.
	LockNumberSequence(ctx context.Context, key string) error
	ListWithFilter(ctx context.Context, filter DefectFilter) ([]domain.Defect, error)
	Count(ctx context.Context, filter DefectFilter) (int, error)
	// SoftDelete hides the defect from every read and sets DeletedAt. History and comments are kept.
	SoftDelete(ctx context.Context, defect *domain.Defect) error
}

type defectRepository struct {
	db DBTX
}

// NewDefectRepository instantiates repository.
func NewDefectRepository(db DBTX) DefectRepository {
	return &defectRepository{db: db}
}

const defectColumns = `id, defect_number, project_id, stage_id, category_id, title, description, location, floor, room,
               priority, severity, status, author_id, assignee_id, reviewer_id, due_date,
               assigned_at, started_at, completed_at, closed_at, created_at, updated_at`

var openStatuses = []domain.DefectStatus{
	domain.DefectStatusNew,
	domain.DefectStatusInProgress,
	domain.DefectStatusReview,
}

func (r *defectRepository) Create(ctx context.Context, defect *domain.Defect) error {
	const query = `
        INSERT INTO defects (defect_number, project_id, stage_id, category_id, title, description, location, floor, room,
            priority, severity, status, author_id, assignee_id, reviewer_id, due_date, assigned_at, started_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
        RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		defect.Number,
		defect.ProjectID,
		defect.StageID,
		defect.CategoryID,
		defect.Title,
		defect.Description,
		defect.Location,
		defect.Floor,
		defect.Room,
		defect.Priority,
		defect.Severity,
		defect.Status,
		defect.AuthorID,
		defect.AssigneeID,
		defect.ReviewerID,
		defect.DueDate,
		defect.AssignedAt,
		defect.StartedAt,
	).Scan(&defect.ID, &defect.CreatedAt, &defect.UpdatedAt)
	return mapPgError(err)
}

// Update writes the mutable fields. Number, author, project and created_at are never rewritten.
func (r *defectRepository) Update(ctx context.Context, defect *domain.Defect) error {
	const query = `
        UPDATE defects SET stage_id=$1, category_id=$2, title=$3, description=$4, location=$5, floor=$6, room=$7,
            priority=$8, severity=$9, status=$10, assignee_id=$11, reviewer_id=$12, due_date=$13,
            assigned_at=$14, started_at=$15, completed_at=$16, closed_at=$17, updated_at=NOW()
        WHERE id=$18 AND deleted_at IS NULL
        RETURNING updated_at`
	err := r.db.QueryRow(ctx, query,
		defect.StageID,
		defect.CategoryID,
		defect.Title,
		defect.Description,
		defect.Location,
		defect.Floor,
		defect.Room,
		defect.Priority,
		defect.Severity,
		defect.Status,
		defect.AssigneeID,
		defect.ReviewerID,
		defect.DueDate,
		defect.AssignedAt,
		defect.StartedAt,
		defect.CompletedAt,
		defect.ClosedAt,
		defect.ID,
	).Scan(&defect.UpdatedAt)
	return notFound(err, "defect", defect.ID)
}

func (r *defectRepository) GetByID(ctx context.Context, id string) (*domain.Defect, error) {
	query := `SELECT ` + defectColumns + ` FROM defects WHERE id=$1 AND deleted_at IS NULL`
	return r.fetchSingle(ctx, query, id)
}

func (r *defectRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Defect, error) {
	query := `SELECT ` + defectColumns + ` FROM defects WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`
	return r.fetchSingle(ctx, query, id)
}

func (r *defectRepository) GetByNumber(ctx context.Context, number string) (*domain.Defect, error) {
	query := `SELECT ` + defectColumns + ` FROM defects WHERE defect_number=$1 AND deleted_at IS NULL`
	return r.fetchSingle(ctx, query, number)
}

func (r *defectRepository) fetchSingle(ctx context.Context, query string, arg string) (*domain.Defect, error) {
	defect, err := scanDefect(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, notFound(err, "defect", arg)
	}
	return defect, nil
}

func (r *defectRepository) SoftDelete(ctx context.Context, defect *domain.Defect) error {
	const query = `UPDATE defects SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL RETURNING deleted_at, updated_at`
	var deletedAt time.Time
	if err := r.db.QueryRow(ctx, query, defect.ID).Scan(&deletedAt, &defect.UpdatedAt); err != nil {
		return notFound(err, "defect", defect.ID)
	}
	defect.DeletedAt = &deletedAt
	return nil
}

// LastNumberWithPrefix also sees deleted defects so their numbers are never handed out again.
func (r *defectRepository) LastNumberWithPrefix(ctx context.Context, prefix string) (string, error) {
	const query = `
        SELECT defect_number FROM defects
        WHERE left(defect_number, length($1::text)) = $1::text
        ORDER BY length(defect_number) DESC, defect_number DESC
        LIMIT 1`
	var number string
	if err := r.db.QueryRow(ctx, query, prefix).Scan(&number); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return number, nil
}

func (r *defectRepository) LockNumberSequence(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, key)
	return err
}

func (r *defectRepository) ListWithFilter(ctx context.Context, filter DefectFilter) ([]domain.Defect, error) {
	where, args := buildDefectWhere(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM defects WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		defectColumns, where, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Defect
	for rows.Next() {
		defect, err := scanDefect(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *defect)
	}
	return result, rows.Err()
}

func (r *defectRepository) Count(ctx context.Context, filter DefectFilter) (int, error) {
	where, args := buildDefectWhere(filter)
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM defects WHERE `+where, args...).Scan(&count)
	return count, err
}

func buildDefectWhere(filter DefectFilter) (string, []any) {
	clauses := []string{"deleted_at IS NULL"}
	args := []any{}

	in := func(column string, values []string) {
		placeholders := make([]string, len(values))
		for i, v := range values {
			args = append(args, v)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ",")))
	}
	eq := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	cmp := func(expr, op string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s %s $%d", expr, op, len(args)))
	}

	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return "1=0", nil
		}
		in("id", filter.IDs)
	}
	if filter.ProjectIDs != nil {
		if len(filter.ProjectIDs) == 0 {
			return "1=0", nil
		}
		in("project_id", filter.ProjectIDs)
	}
	if filter.ProjectID != nil {
		eq("project_id", *filter.ProjectID)
	}
	if filter.CategoryID != nil {
		eq("category_id", *filter.CategoryID)
	}
	if filter.AssigneeID != nil {
		eq("assignee_id", *filter.AssigneeID)
	}
	if filter.AuthorID != nil {
		eq("author_id", *filter.AuthorID)
	}
	if len(filter.Statuses) > 0 {
		in("status", stringsOf(filter.Statuses))
	}
	if len(filter.Priorities) > 0 {
		in("priority", stringsOf(filter.Priorities))
	}
	if len(filter.Severities) > 0 {
		in("severity", stringsOf(filter.Severities))
	}
	if filter.CreatedSince != nil {
		cmp("created_at", ">=", *filter.CreatedSince)
	}
	if filter.CreatedBefore != nil {
		cmp("created_at", "<", *filter.CreatedBefore)
	}
	if filter.DueFrom != nil {
		cmp("due_date", ">=", *filter.DueFrom)
	}
	if filter.DueTo != nil {
		cmp("due_date", "<=", *filter.DueTo)
	}
	if filter.Overdue != nil {
		args = append(args, filter.Today)
		overdue := fmt.Sprintf("(due_date < $%d AND status IN ('%s','%s','%s'))", len(args),
			openStatuses[0], openStatuses[1], openStatuses[2])
		if *filter.Overdue {
			clauses = append(clauses, overdue)
		} else {
			clauses = append(clauses, "NOT COALESCE("+overdue+", false)")
		}
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(*filter.SearchTerm))) + "%"
		args = append(args, search)
		p := fmt.Sprintf("$%d ESCAPE '\\'", len(args))
		clauses = append(clauses, fmt.Sprintf(
			"(LOWER(title) LIKE %s OR LOWER(description) LIKE %s OR LOWER(location) LIKE %s OR LOWER(defect_number) LIKE %s)",
			p, p, p, p))
	}
	return strings.Join(clauses, " AND "), args
}

// likeEscaper makes LIKE wildcards in user input match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func scanDefect(row pgx.Row) (*domain.Defect, error) {
	var defect domain.Defect
	if err := row.Scan(
		&defect.ID,
		&defect.Number,
		&defect.ProjectID,
		&defect.StageID,
		&defect.CategoryID,
		&defect.Title,
		&defect.Description,
		&defect.Location,
		&defect.Floor,
		&defect.Room,
		&defect.Priority,
		&defect.Severity,
		&defect.Status,
		&defect.AuthorID,
		&defect.AssigneeID,
		&defect.ReviewerID,
		&defect.DueDate,
		&defect.AssignedAt,
		&defect.StartedAt,
		&defect.CompletedAt,
		&defect.ClosedAt,
		&defect.CreatedAt,
		&defect.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &defect, nil
}
