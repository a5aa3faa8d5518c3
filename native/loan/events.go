package loan

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event type identifiers emitted by the loan engine.
const (
	EventTypeRejected           = "loan.rejected"
	EventTypeCollateralRequired = "loan.collateral_required"
	EventTypeActivated          = "loan.activated"
	EventTypeRepayment          = "loan.repayment"
	EventTypeRepaid             = "loan.repaid"
	EventTypeLiquidated         = "loan.liquidated"
)

// RejectedEvent is emitted when a loan request is declined at origination.
type RejectedEvent struct {
	Borrower   common.Address
	Amount     *big.Int
	Score      uint8
	RejectedAt int64
}

// EventType implements the events.Event interface.
func (RejectedEvent) EventType() string { return EventTypeRejected }

// CollateralRequiredEvent is emitted when an approved loan awaits collateral.
type CollateralRequiredEvent struct {
	Borrower           common.Address
	Amount             *big.Int
	RequiredCollateral *big.Int
	RateBps            uint64
	Score              uint8
}

// EventType implements the events.Event interface.
func (CollateralRequiredEvent) EventType() string { return EventTypeCollateralRequired }

// ActivatedEvent is emitted when principal is disbursed and accrual begins.
// Collateral is nil for unsecured loans.
type ActivatedEvent struct {
	Borrower   common.Address
	Amount     *big.Int
	Type       LoanType
	RateBps    uint64
	DueAt      int64
	Collateral *big.Int
}

// EventType implements the events.Event interface.
func (ActivatedEvent) EventType() string { return EventTypeActivated }

// RepaymentEvent is emitted for every accepted payment.
type RepaymentEvent struct {
	Borrower         common.Address
	Amount           *big.Int
	InterestPortion  *big.Int
	PrincipalPortion *big.Int
	Remaining        *big.Int
}

// EventType implements the events.Event interface.
func (RepaymentEvent) EventType() string { return EventTypeRepayment }

// RepaidEvent is emitted once when the loan settles in full.
type RepaidEvent struct {
	Borrower      common.Address
	TotalPayments *big.Int
	RepaidAt      int64
}

// EventType implements the events.Event interface.
func (RepaidEvent) EventType() string { return EventTypeRepaid }

// LiquidatedEvent is emitted when an overdue loan is closed by seizure.
type LiquidatedEvent struct {
	Borrower     common.Address
	Liquidator   common.Address
	Balance      *big.Int
	LiquidatedAt int64
}

// EventType implements the events.Event interface.
func (LiquidatedEvent) EventType() string { return EventTypeLiquidated }
