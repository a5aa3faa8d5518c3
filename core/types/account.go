package types

import "math/big"

// Account holds the on-ledger balance for a participant. Amounts are
// denominated in 7-decimal fixed-point units and expressed as big integers to
// match on-chain precision.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// EnsureDefaults populates nil big.Int fields so JSON handling is safe.
func (a *Account) EnsureDefaults() {
	if a == nil {
		return
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
}
