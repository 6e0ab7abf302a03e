package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/salesgrid/platform/internal/domain"
)

// InvitationTx exposes the row-locked operations of one ledger transaction.
type InvitationTx interface {
	// SelectForUpdate loads the code and holds its row lock until the
	// transaction ends. Returns pgx.ErrNoRows for unknown codes.
	SelectForUpdate(ctx context.Context, code string) (*domain.InvitationCode, error)
	// IncrementUsage bumps usage_count by one if the code still has capacity.
	// It reports false when the guard rejected the update.
	IncrementUsage(ctx context.Context, id string) (bool, error)
}

// InvitationRepository persists invitation codes and registration records.
type InvitationRepository interface {
	// WithinTx runs fn in a transaction that commits when fn returns nil.
	WithinTx(ctx context.Context, fn func(InvitationTx) error) error
	Create(ctx context.Context, code *domain.InvitationCode) error
	GetByCode(ctx context.Context, code string) (*domain.InvitationCode, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.InvitationCode, error)
	Deactivate(ctx context.Context, id string) error
	InsertRecord(ctx context.Context, record *domain.InvitationRecord) error
}

type invitationRepository struct {
	pool *pgxpool.Pool
}

// NewInvitationRepository returns a Postgres-backed ledger.
func NewInvitationRepository(pool *pgxpool.Pool) InvitationRepository {
	return &invitationRepository{pool: pool}
}

const invitationColumns = `id, user_id, code, target_role, status, usage_count, max_usage, expires_at, created_at, updated_at`

func (r *invitationRepository) WithinTx(ctx context.Context, fn func(InvitationTx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&invitationTx{tx: tx})
	})
}

func (r *invitationRepository) Create(ctx context.Context, code *domain.InvitationCode) error {
	const query = `
        INSERT INTO invitation_codes (user_id, code, target_role, status, max_usage, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, usage_count, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		code.UserID,
		code.Code,
		code.TargetRole,
		code.Status,
		code.MaxUsage,
		code.ExpiresAt,
	).Scan(&code.ID, &code.UsageCount, &code.CreatedAt, &code.UpdatedAt)
	return mapWriteError(err)
}

func (r *invitationRepository) GetByCode(ctx context.Context, code string) (*domain.InvitationCode, error) {
	return scanInvitationCode(r.pool.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitation_codes WHERE code=$1`, code))
}

func (r *invitationRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.InvitationCode, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invitationColumns+` FROM invitation_codes WHERE user_id=$1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []domain.InvitationCode
	for rows.Next() {
		code, err := scanInvitationCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, *code)
	}
	return codes, rows.Err()
}

func (r *invitationRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE invitation_codes SET status=$1, updated_at=NOW() WHERE id=$2`, domain.InvitationCodeInactive, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *invitationRepository) InsertRecord(ctx context.Context, record *domain.InvitationRecord) error {
	const query = `
        INSERT INTO invitation_records (inviter_id, invitee_id, invite_code, status, registered_at, ip_address, user_agent)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at`

	return r.pool.QueryRow(ctx, query,
		record.InviterID,
		record.InviteeID,
		record.InviteCode,
		record.Status,
		record.RegisteredAt,
		record.IPAddress,
		record.UserAgent,
	).Scan(&record.ID, &record.CreatedAt)
}

type invitationTx struct {
	tx pgx.Tx
}

func (t *invitationTx) SelectForUpdate(ctx context.Context, code string) (*domain.InvitationCode, error) {
	return scanInvitationCode(t.tx.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitation_codes WHERE code=$1 FOR UPDATE`, code))
}

func (t *invitationTx) IncrementUsage(ctx context.Context, id string) (bool, error) {
	const query = `
        UPDATE invitation_codes
        SET usage_count = usage_count + 1, updated_at = NOW()
        WHERE id=$1 AND status=$2 AND (max_usage IS NULL OR usage_count < max_usage)`

	tag, err := t.tx.Exec(ctx, query, id, domain.InvitationCodeActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanInvitationCode(row pgx.Row) (*domain.InvitationCode, error) {
	var code domain.InvitationCode
	if err := row.Scan(
		&code.ID,
		&code.UserID,
		&code.Code,
		&code.TargetRole,
		&code.Status,
		&code.UsageCount,
		&code.MaxUsage,
		&code.ExpiresAt,
		&code.CreatedAt,
		&code.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &code, nil
}
