package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/salesgrid/platform/internal/domain"
)

// ErrDuplicate is returned when an insert or update violates a unique constraint.
var ErrDuplicate = errors.New("repository: duplicate key")

const (
	uniqueViolation   = "23505"
	invalidTextSyntax = "22P02"
)

// UserRepository defines persistence access for platform users.
// Lookups return pgx.ErrNoRows when nothing matches.
type UserRepository interface {
	Insert(ctx context.Context, user *domain.User) error
	Update(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByPhone(ctx context.Context, phone string) (*domain.User, error)
	FindByInviteCode(ctx context.Context, code string) (*domain.User, error)
	ExistsByPhone(ctx context.Context, phone string) (bool, error)
	ListByInviter(ctx context.Context, inviterID string) ([]domain.User, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, nickname, invite_code, phone, password_hash, role, inviter_id, status, total_gmv, created_at, updated_at`

func (r *userRepository) Insert(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (nickname, invite_code, phone, password_hash, role, inviter_id, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, total_gmv, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		user.Nickname,
		user.InviteCode,
		user.Phone,
		user.PasswordHash,
		user.Role,
		user.InviterID,
		user.Status,
	).Scan(&user.ID, &user.TotalGMV, &user.CreatedAt, &user.UpdatedAt)
	return mapWriteError(err)
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	const query = `
        UPDATE users SET nickname=$1, password_hash=$2, role=$3, status=$4, updated_at=NOW()
        WHERE id=$5
        RETURNING updated_at`

	err := r.pool.QueryRow(ctx, query,
		user.Nickname,
		user.PasswordHash,
		user.Role,
		user.Status,
		user.ID,
	).Scan(&user.UpdatedAt)
	return mapWriteError(err)
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

func (r *userRepository) FindByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE phone=$1`, phone)
}

func (r *userRepository) FindByInviteCode(ctx context.Context, code string) (*domain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE invite_code=$1`, code)
}

func (r *userRepository) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE phone=$1)`, phone).Scan(&exists)
	return exists, err
}

func (r *userRepository) ListByInviter(ctx context.Context, inviterID string) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE inviter_id=$1 ORDER BY created_at DESC`, inviterID)
	if err != nil {
		return nil, mapReadError(err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (r *userRepository) findOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	return user, mapReadError(err)
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Nickname,
		&user.InviteCode,
		&user.Phone,
		&user.PasswordHash,
		&user.Role,
		&user.InviterID,
		&user.Status,
		&user.TotalGMV,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

// mapWriteError translates unique-constraint violations into ErrDuplicate,
// keeping the constraint name for callers that need to tell them apart.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &DuplicateError{Constraint: pgErr.ConstraintName, Err: err}
	}
	return err
}

// mapReadError reports ids that are not valid UUIDs as missing rows.
func mapReadError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == invalidTextSyntax {
		return pgx.ErrNoRows
	}
	return err
}

// DuplicateError carries the violated constraint.
type DuplicateError struct {
	Constraint string
	Err        error
}

func (e *DuplicateError) Error() string {
	return "duplicate key on " + e.Constraint
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

func (e *DuplicateError) Unwrap() error { return e.Err }
