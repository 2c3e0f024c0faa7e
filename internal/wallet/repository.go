package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
)

// Repository persists wallet records and owns the one-primary-per-owner swap.
type Repository interface {
	// Create inserts a wallet. When wallet.IsPrimary is set any previous
	// primary of the owner is cleared in the same operation.
	Create(ctx context.Context, wallet Wallet) error
	Get(ctx context.Context, id string) (Wallet, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Wallet, error)
	Primary(ctx context.Context, ownerID string) (Wallet, error)
	SetPrimary(ctx context.Context, ownerID, walletID string) (Wallet, error)
}

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const walletColumns = `id, owner_id, address, custody_type, custodial_credential, is_primary, created_at`

// onePrimaryIndex is the partial unique index holding one primary per owner.
const onePrimaryIndex = "wallets_one_primary_per_owner"

// Create inserts a wallet record, swapping the primary flag transactionally.
func (r *PostgresRepository) Create(ctx context.Context, wallet Wallet) error {
	walletID, err := uuid.Parse(wallet.ID)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if wallet.IsPrimary {
		if err := lockOwner(ctx, tx, wallet.OwnerID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE wallets SET is_primary = FALSE WHERE owner_id = $1 AND is_primary`, wallet.OwnerID); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `INSERT INTO wallets (`+walletColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		walletID, wallet.OwnerID, wallet.Address[:], string(wallet.CustodyType),
		nullable(wallet.CustodialCredential), wallet.IsPrimary, wallet.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// The owner lock finds no rows for a first wallet, so two first
			// connects only meet at the primary index.
			if pgErr.ConstraintName == onePrimaryIndex {
				return ErrPrimaryConflict
			}
			return ErrDuplicateAddress
		}
		return err
	}
	return tx.Commit(ctx)
}

// Get fetches a wallet by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrNotFound
	}
	return w, err
}

// ListByOwner returns every wallet of the owner in connection order.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]Wallet, error) {
	rows, err := r.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Primary returns the owner's primary wallet.
func (r *PostgresRepository) Primary(ctx context.Context, ownerID string) (Wallet, error) {
	row := r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE owner_id = $1 AND is_primary`, ownerID)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrNoWalletConnected
	}
	return w, err
}

// SetPrimary clears the owner's current primary and marks walletID primary in
// one transaction. The owner's rows stay locked for the duration so readers
// never observe zero or two primaries.
func (r *PostgresRepository) SetPrimary(ctx context.Context, ownerID, walletID string) (Wallet, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return Wallet{}, ErrNotFound
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Wallet{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := lockOwner(ctx, tx, ownerID); err != nil {
		return Wallet{}, err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1 AND owner_id = $2)`, id, ownerID).Scan(&exists); err != nil {
		return Wallet{}, err
	}
	if !exists {
		return Wallet{}, ErrNotFound
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET is_primary = FALSE WHERE owner_id = $1 AND is_primary AND id <> $2`, ownerID, id); err != nil {
		return Wallet{}, err
	}
	row := tx.QueryRow(ctx, `UPDATE wallets SET is_primary = TRUE WHERE id = $1 RETURNING `+walletColumns, id)
	w, err := scanWallet(row)
	if err != nil {
		return Wallet{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

func lockOwner(ctx context.Context, tx pgx.Tx, ownerID string) error {
	_, err := tx.Exec(ctx, `SELECT id FROM wallets WHERE owner_id = $1 FOR UPDATE`, ownerID)
	return err
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w          Wallet
		id         uuid.UUID
		address    []byte
		custody    string
		credential *string
		createdAt  time.Time
	)
	if err := row.Scan(&id, &w.OwnerID, &address, &custody, &credential, &w.IsPrimary, &createdAt); err != nil {
		return Wallet{}, err
	}
	if len(address) != ethsig.AddressLength {
		return Wallet{}, ethsig.ErrInvalidAddress
	}
	w.ID = id.String()
	copy(w.Address[:], address)
	w.CustodyType = CustodyType(custody)
	if credential != nil {
		w.CustodialCredential = *credential
	}
	w.CreatedAt = createdAt.UTC()
	return w, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
