package loan

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LoanState tracks the lifecycle of a loan account. Repaid, Liquidated and
// Rejected are terminal; terminal records are retained for audit until an
// external cleanup collaborator reclaims them.
type LoanState string

const (
	// StateCollateralRequired marks an approved loan awaiting collateral.
	StateCollateralRequired LoanState = "collateral_required"
	// StateActive marks a disbursed loan accruing interest.
	StateActive LoanState = "active"
	// StateRepaid marks a fully settled loan.
	StateRepaid LoanState = "repaid"
	// StateLiquidated marks a loan closed by seizure.
	StateLiquidated LoanState = "liquidated"
	// StateRejected marks a request declined at origination.
	StateRejected LoanState = "rejected"
)

// Terminal reports whether the state permits no further transitions.
func (s LoanState) Terminal() bool {
	return s == StateRepaid || s == StateLiquidated || s == StateRejected
}

// LoanType distinguishes unsecured from collateral-backed loans.
type LoanType string

const (
	// TypeUnsecured marks a loan issued on credit score alone.
	TypeUnsecured LoanType = "unsecured"
	// TypeCollateralized marks a loan backed by locked collateral.
	TypeCollateralized LoanType = "collateralized"
)

// Loan is the account record for a single borrower. At most one non-terminal
// loan exists per borrower. Principal is fixed at origination; the outstanding
// balance and accrued interest are separate ledgers so interest never bears
// interest on itself.
type Loan struct {
	Borrower           common.Address `json:"borrower"`
	Principal          *big.Int       `json:"principal"`
	OutstandingBalance *big.Int       `json:"outstandingBalance"`
	AccruedInterest    *big.Int       `json:"accruedInterest"`
	InterestRateBps    uint64         `json:"interestRateBps"`
	Type               LoanType       `json:"type"`
	CreditScore        uint8          `json:"creditScore"`
	RequiredCollateral *big.Int       `json:"requiredCollateral"`
	CollateralLocked   *big.Int       `json:"collateralLocked"`
	CollateralAsset    string         `json:"collateralAsset,omitempty"`
	CreatedAt          int64          `json:"createdAt"`
	DurationDays       uint64         `json:"durationDays"`
	DueAt              int64          `json:"dueAt"`
	LastInterestCalcAt int64          `json:"lastInterestCalcAt"`
	State              LoanState      `json:"state"`
	PaymentCount       uint64         `json:"paymentCount"`
	TotalPayments      *big.Int       `json:"totalPayments"`
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Principal != nil {
		clone.Principal = new(big.Int).Set(l.Principal)
	}
	if l.OutstandingBalance != nil {
		clone.OutstandingBalance = new(big.Int).Set(l.OutstandingBalance)
	}
	if l.AccruedInterest != nil {
		clone.AccruedInterest = new(big.Int).Set(l.AccruedInterest)
	}
	if l.RequiredCollateral != nil {
		clone.RequiredCollateral = new(big.Int).Set(l.RequiredCollateral)
	}
	if l.CollateralLocked != nil {
		clone.CollateralLocked = new(big.Int).Set(l.CollateralLocked)
	}
	if l.TotalPayments != nil {
		clone.TotalPayments = new(big.Int).Set(l.TotalPayments)
	}
	return &clone
}

// EnsureDefaults populates nil big.Int fields so JSON handling is safe.
func (l *Loan) EnsureDefaults() {
	if l == nil {
		return
	}
	if l.Principal == nil {
		l.Principal = big.NewInt(0)
	}
	if l.OutstandingBalance == nil {
		l.OutstandingBalance = big.NewInt(0)
	}
	if l.AccruedInterest == nil {
		l.AccruedInterest = big.NewInt(0)
	}
	if l.RequiredCollateral == nil {
		l.RequiredCollateral = big.NewInt(0)
	}
	if l.CollateralLocked == nil {
		l.CollateralLocked = big.NewInt(0)
	}
	if l.TotalPayments == nil {
		l.TotalPayments = big.NewInt(0)
	}
}

// Balance returns outstanding principal plus accrued interest.
func (l *Loan) Balance() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	balance := big.NewInt(0)
	if l.OutstandingBalance != nil {
		balance.Add(balance, l.OutstandingBalance)
	}
	if l.AccruedInterest != nil {
		balance.Add(balance, l.AccruedInterest)
	}
	return balance
}

// GlobalStats aggregates lending totals across all borrowers. Counters are
// maintained with saturating arithmetic and are recomputable from the loan
// set. Rejected and pending collateral-required loans are not counted as lent.
type GlobalStats struct {
	TotalLoans        uint64   `json:"totalLoans"`
	ActiveLoans       uint64   `json:"activeLoans"`
	TotalVolume       *big.Int `json:"totalVolume"`
	TotalRepaid       *big.Int `json:"totalRepaid"`
	TotalLiquidations uint64   `json:"totalLiquidations"`
}

// Clone returns a deep copy of the stats.
func (s *GlobalStats) Clone() *GlobalStats {
	if s == nil {
		return nil
	}
	clone := *s
	if s.TotalVolume != nil {
		clone.TotalVolume = new(big.Int).Set(s.TotalVolume)
	}
	if s.TotalRepaid != nil {
		clone.TotalRepaid = new(big.Int).Set(s.TotalRepaid)
	}
	return &clone
}

// EnsureDefaults populates nil big.Int fields so JSON handling is safe.
func (s *GlobalStats) EnsureDefaults() {
	if s == nil {
		return
	}
	if s.TotalVolume == nil {
		s.TotalVolume = big.NewInt(0)
	}
	if s.TotalRepaid == nil {
		s.TotalRepaid = big.NewInt(0)
	}
}

// Params groups the governance controlled lending policy.
type Params struct {
	MinLoan                *big.Int
	MaxLoan                *big.Int
	BaseRateBps            uint64
	UnsecuredTermDays      uint64
	CollateralizedTermDays uint64
	CollateralRatioBps     uint64
	DefaultCollateralAsset string
}

// DefaultParams mirrors the protocol defaults: loans between 0.1 and 100,000
// dollars of principal, a 5% base rate, 90 and 120 day terms and a 150%
// collateral requirement.
func DefaultParams() Params {
	return Params{
		MinLoan:                big.NewInt(1_000_000),
		MaxLoan:                big.NewInt(1_000_000_000_000),
		BaseRateBps:            500,
		UnsecuredTermDays:      90,
		CollateralizedTermDays: 120,
		CollateralRatioBps:     15_000,
		DefaultCollateralAsset: "XLM",
	}
}
