package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
	"github.com/Anychima/Rent-Flow-sub009/internal/funds"
)

// Repository persists lease records. Update is the only mutation path after
// creation: it serializes read-modify-write per lease and stores nothing when
// fn returns an error.
type Repository interface {
	Create(ctx context.Context, lease Lease) error
	Get(ctx context.Context, id string) (Lease, error)
	Update(ctx context.Context, id string, fn func(*Lease) error) (Lease, error)
}

// PostgresRepository stores leases in PostgreSQL, locking the row for each update.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed lease repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const leaseColumns = `id, landlord_owner_id, tenant_owner_id, landlord_address, tenant_address,
        tenant_preset, document_fingerprint, monthly_rent, security_deposit, start_date, end_date,
        landlord_signed, tenant_signed, landlord_signature, tenant_signature,
        landlord_signed_at, tenant_signed_at, status, payment_required, payment_status,
        settled_transfers, fully_signed_at, activated_at, role_promoted_at,
        terminated_at, completed_at, created_at, updated_at`

// Create inserts a new lease.
func (r *PostgresRepository) Create(ctx context.Context, l Lease) error {
	_, err := r.db.Exec(ctx, `INSERT INTO leases (`+leaseColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
                $20, $21, $22, $23, $24, $25, $26, $27, $28)`, leaseArgs(l)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Get fetches a lease by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Lease, error) {
	row := r.db.QueryRow(ctx, `SELECT `+leaseColumns+` FROM leases WHERE id = $1`, id)
	l, err := scanLease(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lease{}, ErrNotFound
	}
	return l, err
}

// Update locks the lease row, applies fn and writes the result in one transaction.
func (r *PostgresRepository) Update(ctx context.Context, id string, fn func(*Lease) error) (Lease, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Lease{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT `+leaseColumns+` FROM leases WHERE id = $1 FOR UPDATE`, id)
	l, err := scanLease(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lease{}, ErrNotFound
		}
		return Lease{}, err
	}

	if err := fn(&l); err != nil {
		return Lease{}, err
	}
	if l.ID != id {
		return Lease{}, fmt.Errorf("lease id is immutable")
	}

	const update = `UPDATE leases SET
        tenant_owner_id = $2, tenant_address = $3,
        landlord_signed = $4, tenant_signed = $5, landlord_signature = $6, tenant_signature = $7,
        landlord_signed_at = $8, tenant_signed_at = $9, status = $10, payment_status = $11,
        settled_transfers = $12, fully_signed_at = $13, activated_at = $14, role_promoted_at = $15,
        terminated_at = $16, completed_at = $17, updated_at = $18
        WHERE id = $1`
	_, err = tx.Exec(ctx, update,
		l.ID, nullable(l.TenantOwnerID), addressOrNil(l.TenantAddress),
		l.LandlordSigned, l.TenantSigned, l.LandlordSignature, l.TenantSignature,
		l.LandlordSignedAt, l.TenantSignedAt, string(l.Status), string(l.PaymentStatus),
		transferStrings(l.SettledTransfers), l.FullySignedAt, l.ActivatedAt, l.RolePromotedAt,
		l.TerminatedAt, l.CompletedAt, l.UpdatedAt.UTC())
	if err != nil {
		return Lease{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Lease{}, err
	}
	return l, nil
}

func leaseArgs(l Lease) []any {
	return []any{
		l.ID, l.LandlordOwnerID, nullable(l.TenantOwnerID), l.LandlordAddress[:], addressOrNil(l.TenantAddress),
		l.TenantPreset, l.DocumentFingerprint[:], l.MonthlyRent, l.SecurityDeposit, l.StartDate.UTC(), l.EndDate.UTC(),
		l.LandlordSigned, l.TenantSigned, l.LandlordSignature, l.TenantSignature,
		l.LandlordSignedAt, l.TenantSignedAt, string(l.Status), l.PaymentRequired, string(l.PaymentStatus),
		transferStrings(l.SettledTransfers), l.FullySignedAt, l.ActivatedAt, l.RolePromotedAt,
		l.TerminatedAt, l.CompletedAt, l.CreatedAt.UTC(), l.UpdatedAt.UTC(),
	}
}

func scanLease(row pgx.Row) (Lease, error) {
	var (
		l                 Lease
		tenantOwner       *string
		landlord, tenant  []byte
		doc               []byte
		status, payStatus string
		settled           []string
	)
	err := row.Scan(&l.ID, &l.LandlordOwnerID, &tenantOwner, &landlord, &tenant,
		&l.TenantPreset, &doc, &l.MonthlyRent, &l.SecurityDeposit, &l.StartDate, &l.EndDate,
		&l.LandlordSigned, &l.TenantSigned, &l.LandlordSignature, &l.TenantSignature,
		&l.LandlordSignedAt, &l.TenantSignedAt, &status, &l.PaymentRequired, &payStatus,
		&settled, &l.FullySignedAt, &l.ActivatedAt, &l.RolePromotedAt,
		&l.TerminatedAt, &l.CompletedAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return Lease{}, err
	}
	if tenantOwner != nil {
		l.TenantOwnerID = *tenantOwner
	}
	if len(landlord) != ethsig.AddressLength || (tenant != nil && len(tenant) != ethsig.AddressLength) {
		return Lease{}, ethsig.ErrInvalidAddress
	}
	if len(doc) != ethsig.HashLength {
		return Lease{}, ethsig.ErrInvalidHash
	}
	copy(l.LandlordAddress[:], landlord)
	copy(l.TenantAddress[:], tenant)
	copy(l.DocumentFingerprint[:], doc)
	l.Status = Status(status)
	l.PaymentStatus = PaymentStatus(payStatus)
	for _, k := range settled {
		l.SettledTransfers = append(l.SettledTransfers, funds.TransferKind(k))
	}
	for _, t := range []*time.Time{&l.StartDate, &l.EndDate, &l.CreatedAt, &l.UpdatedAt} {
		*t = t.UTC()
	}
	return l, nil
}

func transferStrings(kinds []funds.TransferKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func addressOrNil(a ethsig.Address) []byte {
	if a.IsZero() {
		return nil
	}
	return a[:]
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
