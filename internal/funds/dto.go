package funds

// DepositRequest tops up the caller's ledger account.
type DepositRequest struct {
	Amount     string `json:"amount"`
	ClientTxID string `json:"client_tx_id"`
}

// BalanceResponse reports a ledger balance in major units.
type BalanceResponse struct {
	OwnerID      string `json:"owner_id"`
	Balance      string `json:"balance"`
	BalanceMinor int64  `json:"balance_minor"`
}
