package account

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists account roles.
type Repository interface {
	Get(ctx context.Context, ownerID string) (Account, error)
	// SetRole upserts the owner's role and reports whether the stored value changed.
	SetRole(ctx context.Context, ownerID, role string, at time.Time) (Account, bool, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed account repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get fetches the account of ownerID.
func (r *PostgresRepository) Get(ctx context.Context, ownerID string) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT owner_id, role, updated_at FROM account_roles WHERE owner_id = $1`, ownerID)
	var acc Account
	if err := row.Scan(&acc.OwnerID, &acc.Role, &acc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	acc.UpdatedAt = acc.UpdatedAt.UTC()
	return acc, nil
}

// SetRole writes role for ownerID. The row is only rewritten when the role differs.
func (r *PostgresRepository) SetRole(ctx context.Context, ownerID, role string, at time.Time) (Account, bool, error) {
	const upsert = `
        INSERT INTO account_roles (owner_id, role, updated_at) VALUES ($1, $2, $3)
        ON CONFLICT (owner_id) DO UPDATE SET role = EXCLUDED.role, updated_at = EXCLUDED.updated_at
        WHERE account_roles.role <> EXCLUDED.role
        RETURNING owner_id, role, updated_at`
	var acc Account
	err := r.db.QueryRow(ctx, upsert, ownerID, role, at.UTC()).Scan(&acc.OwnerID, &acc.Role, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := r.Get(ctx, ownerID)
		return current, false, getErr
	}
	if err != nil {
		return Account{}, false, err
	}
	acc.UpdatedAt = acc.UpdatedAt.UTC()
	return acc, true, nil
}
