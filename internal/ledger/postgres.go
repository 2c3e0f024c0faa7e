package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists ledger entries in PostgreSQL ensuring double-entry balance.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureAccount guarantees an account exists for the provided code.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, code string) error {
	_, err := l.db.Exec(ctx, `INSERT INTO ledger_accounts (id, code) VALUES ($1, $2)
        ON CONFLICT (code) DO NOTHING`, uuid.New(), code)
	return err
}

// Balance returns the summed balance for the specified account code.
func (l *PostgresLedger) Balance(ctx context.Context, code string) (int64, error) {
	const query = `
        SELECT a.id, COALESCE(SUM(e.amount), 0)
        FROM ledger_accounts a
        LEFT JOIN ledger_entries e ON e.account_id = a.id
        WHERE a.code = $1
        GROUP BY a.id`
	var (
		id      uuid.UUID
		balance int64
	)
	if err := l.db.QueryRow(ctx, query, code).Scan(&id, &balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return 0, err
	}
	return balance, nil
}

// Transfer records a balanced posting between two accounts.
func (l *PostgresLedger) Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error) {
	return l.post(ctx, fromCode, toCode, kind, clientTxID, amount, fromCode != FundingSuspenseAccountCode)
}

// Deposit credits code with externally sourced funds drawn from the funding suspense account.
func (l *PostgresLedger) Deposit(ctx context.Context, code, clientTxID string, amount int64) (TransactionResult, error) {
	return l.post(ctx, FundingSuspenseAccountCode, code, KindDeposit, clientTxID, amount, false)
}

func (l *PostgresLedger) post(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64, checkBalance bool) (TransactionResult, error) {
	if amount <= 0 {
		return TransactionResult{}, ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TransactionResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Lock in code order so opposing transfers cannot deadlock.
	first, second := fromCode, toCode
	if second < first {
		first, second = second, first
	}
	ids := make(map[string]uuid.UUID, 2)
	for _, code := range []string{first, second} {
		id, err := accountIDForCode(ctx, tx, code)
		if err != nil {
			return TransactionResult{}, err
		}
		ids[code] = id
	}
	fromAccountID, toAccountID := ids[fromCode], ids[toCode]

	const existingTxQuery = `SELECT id FROM ledger_transactions WHERE client_tx_id = $1 AND kind = $2`
	var existingTxID uuid.UUID
	if err := tx.QueryRow(ctx, existingTxQuery, clientTxID, kind).Scan(&existingTxID); err == nil {
		res, balErr := balances(ctx, tx, existingTxID, fromAccountID, toAccountID)
		if balErr != nil {
			return TransactionResult{}, balErr
		}
		return res, ErrDuplicateTransaction
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return TransactionResult{}, err
	}

	if checkBalance {
		fromBalance, err := balanceForAccount(ctx, tx, fromAccountID)
		if err != nil {
			return TransactionResult{}, err
		}
		if fromBalance < amount {
			return TransactionResult{}, ErrInsufficientFunds
		}
	}

	txID := uuid.New()
	if _, err := tx.Exec(ctx, `INSERT INTO ledger_transactions (id, client_tx_id, kind, status) VALUES ($1, $2, $3, $4)`, txID, clientTxID, kind, StatusCompleted); err != nil {
		return TransactionResult{}, err
	}
	const entryInsert = `INSERT INTO ledger_entries (id, transaction_id, account_id, amount) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, entryInsert, uuid.New(), txID, fromAccountID, -amount); err != nil {
		return TransactionResult{}, err
	}
	if _, err := tx.Exec(ctx, entryInsert, uuid.New(), txID, toAccountID, amount); err != nil {
		return TransactionResult{}, err
	}

	res, err := balances(ctx, tx, txID, fromAccountID, toAccountID)
	if err != nil {
		return TransactionResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return TransactionResult{}, err
	}
	return res, nil
}

func balances(ctx context.Context, tx pgx.Tx, txID, fromAccountID, toAccountID uuid.UUID) (TransactionResult, error) {
	fromBal, err := balanceForAccount(ctx, tx, fromAccountID)
	if err != nil {
		return TransactionResult{}, err
	}
	toBal, err := balanceForAccount(ctx, tx, toAccountID)
	if err != nil {
		return TransactionResult{}, err
	}
	return TransactionResult{TransactionID: txID.String(), FromBalance: fromBal, ToBalance: toBal}, nil
}

func accountIDForCode(ctx context.Context, tx pgx.Tx, code string) (uuid.UUID, error) {
	const query = `SELECT id FROM ledger_accounts WHERE code = $1 FOR UPDATE`
	var id uuid.UUID
	if err := tx.QueryRow(ctx, query, code).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return uuid.Nil, err
	}
	return id, nil
}

func balanceForAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`
	var balance int64
	if err := tx.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}
