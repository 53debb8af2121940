package repository

import (
	"context"

	"github.com/stroycontrol/defect-service/internal/domain"
)

// DefectHistoryRepository stores audit entries. It is append-only: there is no update or delete.
type DefectHistoryRepository interface {
	Create(ctx context.Context, history *domain.DefectHistory) error
	ListByDefect(ctx context.Context, defectID string, limit, offset int) ([]domain.DefectHistory, error)
	CountByDefect(ctx context.Context, defectID string) (int, error)
}

type defectHistoryRepository struct {
	db DBTX
}

// NewDefectHistoryRepository builds repository.
func NewDefectHistoryRepository(db DBTX) DefectHistoryRepository {
	return &defectHistoryRepository{db: db}
}

func (r *defectHistoryRepository) Create(ctx context.Context, history *domain.DefectHistory) error {
	const query = `
        INSERT INTO defect_history (defect_id, user_id, action, field_name, old_value, new_value, timestamp, ip_address)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		history.DefectID,
		history.UserID,
		history.Action,
		history.FieldName,
		history.OldValue,
		history.NewValue,
		history.Timestamp,
		history.IPAddress,
	).Scan(&history.ID)
}

func (r *defectHistoryRepository) ListByDefect(ctx context.Context, defectID string, limit, offset int) ([]domain.DefectHistory, error) {
	const query = `
        SELECT id, defect_id, user_id, action, field_name, old_value, new_value, timestamp, ip_address
        FROM defect_history WHERE defect_id=$1 ORDER BY timestamp DESC, id DESC LIMIT $2 OFFSET $3`
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, query, defectID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DefectHistory
	for rows.Next() {
		var history domain.DefectHistory
		if err := rows.Scan(
			&history.ID,
			&history.DefectID,
			&history.UserID,
			&history.Action,
			&history.FieldName,
			&history.OldValue,
			&history.NewValue,
			&history.Timestamp,
			&history.IPAddress,
		); err != nil {
			return nil, err
		}
		result = append(result, history)
	}
	return result, rows.Err()
}

func (r *defectHistoryRepository) CountByDefect(ctx context.Context, defectID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM defect_history WHERE defect_id=$1`, defectID).Scan(&count)
	return count, err
}
