package ledger

import (
	"context"
	"sync"
)

type inMemoryLedger struct {
	mu           sync.RWMutex
	balances     map[string]int64
	transactions map[string]TransactionResult
}

// NewInMemory creates a concurrency-safe in-memory ledger for development and tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances:     map[string]int64{FundingSuspenseAccountCode: 0},
		transactions: make(map[string]TransactionResult),
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[code]; !exists {
		l.balances[code] = 0
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, code string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, exists := l.balances[code]
	if !exists {
		return 0, ErrAccountNotFound
	}
	return balance, nil
}

func (l *inMemoryLedger) Transfer(_ context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error) {
	if amount <= 0 {
		return TransactionResult{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.post(fromCode, toCode, kind, clientTxID, amount, fromCode != FundingSuspenseAccountCode)
}

func (l *inMemoryLedger) Deposit(_ context.Context, code, clientTxID string, amount int64) (TransactionResult, error) {
	if amount <= 0 {
		return TransactionResult{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.post(FundingSuspenseAccountCode, code, KindDeposit, clientTxID, amount, false)
}

// post must be called with l.mu held.
func (l *inMemoryLedger) post(fromCode, toCode, kind, clientTxID string, amount int64, checkBalance bool) (TransactionResult, error) {
	key := kind + ":" + clientTxID
	if res, exists := l.transactions[key]; exists {
		return res, ErrDuplicateTransaction
	}

	fromBalance, ok := l.balances[fromCode]
	if !ok {
		return TransactionResult{}, ErrAccountNotFound
	}
	toBalance, ok := l.balances[toCode]
	if !ok {
		return TransactionResult{}, ErrAccountNotFound
	}
	if checkBalance && fromBalance < amount {
		return TransactionResult{}, ErrInsufficientFunds
	}

	fromBalance -= amount
	toBalance += amount
	l.balances[fromCode] = fromBalance
	l.balances[toCode] = toBalance

	res := TransactionResult{
		TransactionID: key,
		FromBalance:   fromBalance,
		ToBalance:     toBalance,
	}
	l.transactions[key] = res
	return res, nil
}
