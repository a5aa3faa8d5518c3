package ledger

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"swave/core/types"
)

var (
	errNilState          = errors.New("ledger: state not configured")
	ErrInvalidAmount     = errors.New("ledger: amount must be positive")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
)

// Transferor moves value between accounts. Engines treat a transfer failure as
// an abort of the whole enclosing operation: no record is written when the
// funds did not move.
type Transferor interface {
	Transfer(from, to common.Address, amount *big.Int) error
}

type accountState interface {
	GetAccount(addr common.Address) (*types.Account, error)
	PutAccount(addr common.Address, account *types.Account) error
}

// Ledger implements Transferor over the persisted account set.
type Ledger struct {
	state accountState
}

// NewLedger constructs a ledger over the provided account state.
func NewLedger(state accountState) *Ledger {
	return &Ledger{state: state}
}

// Transfer debits from and credits to atomically with respect to the stored
// accounts. Self transfers are rejected as invalid.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrInvalidAmount
	}
	fromAcc, err := l.loadAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toAcc, err := l.loadAccount(to)
	if err != nil {
		return err
	}

	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)

	if err := l.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return l.state.PutAccount(to, toAcc)
}

// Mint credits freshly issued units to the account. Used when seeding the
// module treasury.
func (l *Ledger) Mint(addr common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acc, err := l.loadAccount(addr)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return l.state.PutAccount(addr, acc)
}

// Balance reports the current balance for the account.
func (l *Ledger) Balance(addr common.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	acc, err := l.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.Balance), nil
}

func (l *Ledger) loadAccount(addr common.Address) (*types.Account, error) {
	acc, err := l.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	acc.EnsureDefaults()
	return acc, nil
}
