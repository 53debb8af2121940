package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stroycontrol/defect-service/internal/domain"
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories bundles the repositories bound to one connection or transaction.
type Repositories struct {
	Defects  DefectRepository
	History  DefectHistoryRepository
	Comments DefectCommentRepository
	Projects ProjectRepository
	Users    UserRepository
}

// TxFunc is the body of a unit of work. Returning an error rolls everything back.
type TxFunc func(ctx context.Context, repos Repositories) error

// Store hands out repositories and runs units of work.
type Store interface {
	Repositories() Repositories
	WithinTx(ctx context.Context, fn TxFunc) error
}

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool  *pgxpool.Pool
	repos Repositories
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore builds a store on the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, repos: newRepositories(pool)}
}

func newRepositories(db DBTX) Repositories {
	return Repositories{
		Defects:  NewDefectRepository(db),
		History:  NewDefectHistoryRepository(db),
		Comments: NewDefectCommentRepository(db),
		Projects: NewProjectRepository(db),
		Users:    NewUserRepository(db),
	}
}

// Repositories returns pool bound repositories for reads outside a transaction.
func (s *PostgresStore) Repositories() Repositories {
	return s.repos
}

// WithinTx runs fn in a read committed transaction and commits when it returns nil.
func (s *PostgresStore) WithinTx(ctx context.Context, fn TxFunc) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.Background())
		}
	}()

	if err = fn(ctx, newRepositories(tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", mapPgError(err))
	}
	return nil
}

const uniqueViolationCode = "23505"

// mapPgError translates driver errors into domain sentinels where one exists.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return fmt.Errorf("%w: %s", domain.ErrUniqueConstraintViolation, pgErr.ConstraintName)
	}
	return err
}

func notFound(err error, resource, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", resource, id, domain.ErrNotFound)
	}
	return err
}
