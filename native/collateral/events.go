package collateral

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event type identifiers emitted by the custodian.
const (
	EventTypeLocked   = "collateral.locked"
	EventTypeReleased = "collateral.released"
	EventTypeSeized   = "collateral.seized"
)

// LockedEvent is emitted when a new position enters custody.
type LockedEvent struct {
	Owner    common.Address
	Asset    string
	Amount   *big.Int
	ValueUSD *big.Int
	LockedAt int64
}

// EventType implements the events.Event interface.
func (LockedEvent) EventType() string { return EventTypeLocked }

// ReleasedEvent is emitted when custody returns collateral to its owner.
type ReleasedEvent struct {
	Owner      common.Address
	Asset      string
	Amount     *big.Int
	ReleasedAt int64
}

// EventType implements the events.Event interface.
func (ReleasedEvent) EventType() string { return EventTypeReleased }

// SeizedEvent is emitted when a position is liquidated.
type SeizedEvent struct {
	Owner      common.Address
	Liquidator common.Address
	Asset      string
	Amount     *big.Int
	Penalty    *big.Int
	NetPayout  *big.Int
	SeizedAt   int64
}

// EventType implements the events.Event interface.
func (SeizedEvent) EventType() string { return EventTypeSeized }
