package collateral

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PositionStatus tracks the lifecycle of a collateral position. Liquidated and
// Released are terminal; terminal records are retained for audit until an
// external cleanup collaborator reclaims them.
type PositionStatus string

const (
	// StatusActive marks a healthy locked position.
	StatusActive PositionStatus = "active"
	// StatusAtRisk marks a position whose LTV reached the liquidation
	// threshold.
	StatusAtRisk PositionStatus = "at_risk"
	// StatusLiquidating marks a position with a seizure in flight.
	StatusLiquidating PositionStatus = "liquidating"
	// StatusLiquidated marks a seized position.
	StatusLiquidated PositionStatus = "liquidated"
	// StatusReleased marks a position returned to its owner.
	StatusReleased PositionStatus = "released"
)

// Terminal reports whether the status permits no further transitions.
func (s PositionStatus) Terminal() bool {
	return s == StatusLiquidated || s == StatusReleased
}

// Asset describes a supported collateral asset together with its latest USD
// valuation. Prices use 7-decimal fixed point.
type Asset struct {
	Code                string   `json:"code"`
	PriceUSD            *big.Int `json:"priceUsd"`
	PriceTimestamp      int64    `json:"priceTimestamp"`
	Supported           bool     `json:"supported"`
	CollateralFactorBps uint64   `json:"collateralFactorBps"`
}

// Clone returns a deep copy of the asset.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	clone := *a
	if a.PriceUSD != nil {
		clone.PriceUSD = new(big.Int).Set(a.PriceUSD)
	}
	return &clone
}

// Position maintains the custody record for a single owner. At most one
// non-terminal position exists per owner.
type Position struct {
	Owner                   common.Address `json:"owner"`
	Asset                   Asset          `json:"asset"`
	LockedAmount            *big.Int       `json:"lockedAmount"`
	LockValueUSD            *big.Int       `json:"lockValueUsd"`
	CurrentValueUSD         *big.Int       `json:"currentValueUsd"`
	LockedAt                int64          `json:"lockedAt"`
	LoanAmount              *big.Int       `json:"loanAmount"`
	CurrentLTVBps           uint64         `json:"currentLtvBps"`
	LiquidationThresholdBps uint64         `json:"liquidationThresholdBps"`
	Status                  PositionStatus `json:"status"`
	LastPriceUpdate         int64          `json:"lastPriceUpdate"`
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if cloned := p.Asset.Clone(); cloned != nil {
		clone.Asset = *cloned
	}
	if p.LockedAmount != nil {
		clone.LockedAmount = new(big.Int).Set(p.LockedAmount)
	}
	if p.LockValueUSD != nil {
		clone.LockValueUSD = new(big.Int).Set(p.LockValueUSD)
	}
	if p.CurrentValueUSD != nil {
		clone.CurrentValueUSD = new(big.Int).Set(p.CurrentValueUSD)
	}
	if p.LoanAmount != nil {
		clone.LoanAmount = new(big.Int).Set(p.LoanAmount)
	}
	return &clone
}

// EnsureDefaults populates nil big.Int fields so JSON handling is safe.
func (p *Position) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.LockedAmount == nil {
		p.LockedAmount = big.NewInt(0)
	}
	if p.LockValueUSD == nil {
		p.LockValueUSD = big.NewInt(0)
	}
	if p.CurrentValueUSD == nil {
		p.CurrentValueUSD = big.NewInt(0)
	}
	if p.LoanAmount == nil {
		p.LoanAmount = big.NewInt(0)
	}
	if p.Asset.PriceUSD == nil {
		p.Asset.PriceUSD = big.NewInt(0)
	}
}

// LiquidationEvent is the append-only audit record written once per seizure.
type LiquidationEvent struct {
	ID                  string         `json:"id"`
	Owner               common.Address `json:"owner"`
	Liquidator          common.Address `json:"liquidator"`
	Asset               Asset          `json:"asset"`
	AmountLiquidated    *big.Int       `json:"amountLiquidated"`
	PriceUSD            *big.Int       `json:"priceUsd"`
	PenaltyAmount       *big.Int       `json:"penaltyAmount"`
	LiquidatedAt        int64          `json:"liquidatedAt"`
	RemainingCollateral *big.Int       `json:"remainingCollateral"`
}

// GlobalStats aggregates custody totals. The counters are maintained with
// saturating arithmetic and are recomputable from the position set.
type GlobalStats struct {
	TotalLockedUSD    *big.Int `json:"totalLockedUsd"`
	TotalPositions    uint64   `json:"totalPositions"`
	ActivePositions   uint64   `json:"activePositions"`
	TotalLiquidations uint64   `json:"totalLiquidations"`
}

// Clone returns a deep copy of the stats.
func (s *GlobalStats) Clone() *GlobalStats {
	if s == nil {
		return nil
	}
	clone := *s
	if s.TotalLockedUSD != nil {
		clone.TotalLockedUSD = new(big.Int).Set(s.TotalLockedUSD)
	}
	return &clone
}

// EnsureDefaults populates nil big.Int fields so JSON handling is safe.
func (s *GlobalStats) EnsureDefaults() {
	if s == nil {
		return
	}
	if s.TotalLockedUSD == nil {
		s.TotalLockedUSD = big.NewInt(0)
	}
}

// Params groups the governance controlled custody limits.
type Params struct {
	LiquidationThresholdBps uint64
	LiquidationPenaltyBps   uint64
	MinLockValueUSD         *big.Int
}

// DefaultParams mirrors the protocol defaults: 80% liquidation threshold, 5%
// penalty and a minimum lock value of one dollar.
func DefaultParams() Params {
	return Params{
		LiquidationThresholdBps: 8_000,
		LiquidationPenaltyBps:   500,
		MinLockValueUSD:         big.NewInt(10_000_000),
	}
}

// DefaultAssets returns the bootstrap asset registry.
func DefaultAssets(now int64) []Asset {
	return []Asset{
		{
			Code:                "XLM",
			PriceUSD:            big.NewInt(1_000_000), // $0.10
			PriceTimestamp:      now,
			Supported:           true,
			CollateralFactorBps: 7_500,
		},
		{
			Code:                "USDC",
			PriceUSD:            big.NewInt(10_000_000), // $1.00
			PriceTimestamp:      now,
			Supported:           true,
			CollateralFactorBps: 9_000,
		},
	}
}
