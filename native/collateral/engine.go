package collateral

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"swave/core/events"
	"swave/ledger"
	nativecommon "swave/native/common"
	"swave/native/oracle"
)

var (
	errNilState               = errors.New("collateral engine: state not configured")
	errNilTransfers           = errors.New("collateral engine: transfer service not configured")
	ErrInvalidAmount          = errors.New("collateral engine: amount must be positive")
	ErrAssetNotSupported      = errors.New("collateral engine: asset not supported")
	ErrCollateralNotFound     = errors.New("collateral engine: position not found")
	ErrCollateralLocked       = errors.New("collateral engine: position not in required state")
	ErrInsufficientCollateral = errors.New("collateral engine: collateral value below minimum")
	ErrLiquidationNotRequired = errors.New("collateral engine: liquidation threshold not reached")
	ErrPriceFeed              = errors.New("collateral engine: price feed unavailable")
)

var basisPoints = big.NewInt(10_000)

const moduleName = "collateral"

// PriceSetter accepts operator price overrides. The manual oracle implements
// it, so an override enters the same aggregation path as feed quotes instead
// of being silently overwritten by the next upstream refresh.
type PriceSetter interface {
	Set(asset string, priceUSD *big.Int, ts time.Time)
}

type engineState interface {
	GetPosition(owner common.Address) (*Position, error)
	PutPosition(position *Position) error
	GetAsset(code string) (*Asset, error)
	PutAsset(asset *Asset) error
	AppendLiquidation(event *LiquidationEvent) error
	CollateralStats() (*GlobalStats, error)
	PutCollateralStats(stats *GlobalStats) error
}

// Engine owns collateral positions: it locks, values, monitors and liquidates
// a single asset amount per owner on behalf of the loan engine or standalone
// callers.
type Engine struct {
	state     engineState
	transfers ledger.Transferor
	prices    oracle.PriceOracle
	overrides PriceSetter
	custody   common.Address
	params    Params
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	auth      nativecommon.Authorizer
	nowFn     func() int64
}

// NewEngine constructs a custodian holding locked assets at the custody
// address.
func NewEngine(custody common.Address, params Params) *Engine {
	if params.MinLockValueUSD == nil {
		params.MinLockValueUSD = big.NewInt(0)
	}
	return &Engine{
		custody: custody,
		params:  params,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTransfers wires the token custody transfer collaborator.
func (e *Engine) SetTransfers(transfers ledger.Transferor) { e.transfers = transfers }

// SetPriceOracle wires the USD price gateway used for valuation refresh.
func (e *Engine) SetPriceOracle(prices oracle.PriceOracle) { e.prices = prices }

// SetPriceOverride wires the feed that receives admin price overrides.
func (e *Engine) SetPriceOverride(setter PriceSetter) {
	if e == nil {
		return
	}
	e.overrides = setter
}

// SetPauses wires the emergency pause view consulted before any mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetAuthorizer wires the governance gate for admin operations.
func (e *Engine) SetAuthorizer(a nativecommon.Authorizer) {
	if e == nil {
		return
	}
	e.auth = a
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// RegisterAsset adds or replaces an asset in the supported registry.
func (e *Engine) RegisterAsset(asset Asset) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.PutAsset(asset.Clone())
}

// UpdateAssetPrice overrides the registered price for an asset. Gated by the
// governance authorizer.
func (e *Engine) UpdateAssetPrice(caller common.Address, code string, priceUSD *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Authorize(e.auth, caller, "collateral.price.update"); err != nil {
		return err
	}
	if priceUSD == nil || priceUSD.Sign() <= 0 {
		return ErrInvalidAmount
	}
	asset, err := e.state.GetAsset(code)
	if err != nil {
		return err
	}
	if asset == nil {
		return ErrAssetNotSupported
	}
	asset.PriceUSD = new(big.Int).Set(priceUSD)
	asset.PriceTimestamp = e.now()
	if err := e.state.PutAsset(asset); err != nil {
		return err
	}
	if e.overrides != nil {
		e.overrides.Set(asset.Code, priceUSD, time.Unix(asset.PriceTimestamp, 0))
	}
	return nil
}

// Lock transfers the asset amount into custody and records an active position
// for the owner. The transfer happens before the position is written so a
// transfer failure leaves no record behind.
func (e *Engine) Lock(owner common.Address, assetCode string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.transfers == nil {
		return errNilTransfers
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	asset, err := e.refreshAsset(assetCode)
	if err != nil {
		return err
	}

	existing, err := e.state.GetPosition(owner)
	if err != nil {
		return err
	}
	if existing != nil && !existing.Status.Terminal() {
		return ErrCollateralLocked
	}

	usdValue := usdValueOf(amount, asset.PriceUSD)
	if usdValue.Cmp(e.params.MinLockValueUSD) < 0 {
		return ErrInsufficientCollateral
	}

	if err := e.transfers.Transfer(owner, e.custody, amount); err != nil {
		return err
	}

	now := e.now()
	position := &Position{
		Owner:                   owner,
		Asset:                   *asset.Clone(),
		LockedAmount:            new(big.Int).Set(amount),
		LockValueUSD:            new(big.Int).Set(usdValue),
		CurrentValueUSD:         new(big.Int).Set(usdValue),
		LockedAt:                now,
		LoanAmount:              big.NewInt(0),
		CurrentLTVBps:           0,
		LiquidationThresholdBps: e.params.LiquidationThresholdBps,
		Status:                  StatusActive,
		LastPriceUpdate:         now,
	}
	if err := e.state.PutPosition(position); err != nil {
		return err
	}

	stats, err := e.loadStats()
	if err != nil {
		return err
	}
	stats.TotalLockedUSD = nativecommon.SaturatingAddBig(stats.TotalLockedUSD, usdValue)
	stats.TotalPositions = nativecommon.SaturatingAdd(stats.TotalPositions, 1)
	stats.ActivePositions = nativecommon.SaturatingAdd(stats.ActivePositions, 1)
	if err := e.state.PutCollateralStats(stats); err != nil {
		return err
	}

	e.emit(LockedEvent{Owner: owner, Asset: asset.Code, Amount: amount, ValueUSD: usdValue, LockedAt: now})
	return nil
}

// AttachLoan associates the position with an outstanding loan amount so LTV
// monitoring can begin. Called by the loan engine during activation.
func (e *Engine) AttachLoan(owner common.Address, loanAmount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if loanAmount == nil || loanAmount.Sign() < 0 {
		return ErrInvalidAmount
	}
	position, err := e.state.GetPosition(owner)
	if err != nil {
		return err
	}
	if position == nil {
		return ErrCollateralNotFound
	}
	if position.Status != StatusActive && position.Status != StatusAtRisk {
		return ErrCollateralLocked
	}
	position.EnsureDefaults()
	position.LoanAmount = new(big.Int).Set(loanAmount)
	if err := e.refreshPosition(position); err != nil {
		return err
	}
	return e.state.PutPosition(position)
}

// Unlock returns the full locked amount to the owner once the associated loan
// is settled. The loan association is cleared before the health check so a
// fully repaid position always releases cleanly.
func (e *Engine) Unlock(owner common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.transfers == nil {
		return errNilTransfers
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	position, err := e.state.GetPosition(owner)
	if err != nil {
		return err
	}
	if position == nil {
		return ErrCollateralNotFound
	}
	if position.Status == StatusLiquidating || position.Status.Terminal() {
		return ErrCollateralLocked
	}
	position.EnsureDefaults()
	position.LoanAmount = big.NewInt(0)
	if err := e.refreshPosition(position); err != nil {
		return err
	}
	if position.Status != StatusActive {
		return ErrCollateralLocked
	}

	if err := e.transfers.Transfer(e.custody, owner, position.LockedAmount); err != nil {
		return err
	}

	released := new(big.Int).Set(position.LockedAmount)
	releasedValue := new(big.Int).Set(position.CurrentValueUSD)
	position.Status = StatusReleased
	if err := e.state.PutPosition(position); err != nil {
		return err
	}

	stats, err := e.loadStats()
	if err != nil {
		return err
	}
	stats.TotalLockedUSD = nativecommon.SaturatingSubBig(stats.TotalLockedUSD, releasedValue)
	stats.ActivePositions = nativecommon.SaturatingSub(stats.ActivePositions, 1)
	if err := e.state.PutCollateralStats(stats); err != nil {
		return err
	}

	e.emit(ReleasedEvent{Owner: owner, Asset: position.Asset.Code, Amount: released, ReleasedAt: e.now()})
	return nil
}

// Liquidate seizes the locked collateral once the refreshed LTV reaches the
// liquidation threshold. The penalty share is retained in custody; the net
// payout moves to the liquidator.
func (e *Engine) Liquidate(liquidator, owner common.Address) error {
	return e.seize(liquidator, owner, true)
}

// Seize liquidates the position without consulting the LTV threshold. The
/// loan engine calls it when a loan passes its due date: overdue default and
// collateral deterioration are independent liquidation triggers, so a
// position backing an overdue loan is seized even while its LTV is healthy.
func (e *Engine) Seize(liquidator, owner common.Address) error {
	return e.seize(liquidator, owner, false)
}

func (e *Engine) seize(liquidator, owner common.Address, requireThreshold bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.transfers == nil {
		return errNilTransfers
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	position, err := e.state.GetPosition(owner)
	if err != nil {
		return err
	}
	if position == nil {
		return ErrCollateralNotFound
	}
	if position.Status == StatusLiquidating || position.Status.Terminal() {
		return ErrCollateralLocked
	}
	position.EnsureDefaults()
	if err := e.refreshPosition(position); err != nil {
		return err
	}
	if requireThreshold && position.CurrentLTVBps < position.LiquidationThresholdBps {
		return ErrLiquidationNotRequired
	}

	locked := new(big.Int).Set(position.LockedAmount)
	penalty := new(big.Int).Mul(locked, new(big.Int).SetUint64(e.params.LiquidationPenaltyBps))
	penalty.Quo(penalty, basisPoints)
	netPayout := new(big.Int).Sub(locked, penalty)

	if netPayout.Sign() > 0 {
		if err := e.transfers.Transfer(e.custody, liquidator, netPayout); err != nil {
			return err
		}
	}

	now := e.now()
	event := &LiquidationEvent{
		ID:                  uuid.NewString(),
		Owner:               owner,
		Liquidator:          liquidator,
		Asset:               *position.Asset.Clone(),
		AmountLiquidated:    locked,
		PriceUSD:            new(big.Int).Set(position.Asset.PriceUSD),
		PenaltyAmount:       penalty,
		LiquidatedAt:        now,
		RemainingCollateral: big.NewInt(0),
	}
	if err := e.state.AppendLiquidation(event); err != nil {
		return err
	}

	seizedValue := new(big.Int).Set(position.CurrentValueUSD)
	position.LockedAmount = big.NewInt(0)
	position.Status = StatusLiquidated
	if err := e.state.PutPosition(position); err != nil {
		return err
	}

	stats, err := e.loadStats()
	if err != nil {
		return err
	}
	stats.TotalLockedUSD = nativecommon.SaturatingSubBig(stats.TotalLockedUSD, seizedValue)
	stats.ActivePositions = nativecommon.SaturatingSub(stats.ActivePositions, 1)
	stats.TotalLiquidations = nativecommon.SaturatingAdd(stats.TotalLiquidations, 1)
	if err := e.state.PutCollateralStats(stats); err != nil {
		return err
	}

	e.emit(SeizedEvent{
		Owner:      owner,
		Liquidator: liquidator,
		Asset:      position.Asset.Code,
		Amount:     locked,
		Penalty:    penalty,
		NetPayout:  netPayout,
		SeizedAt:   now,
	})
	return nil
}

// GetPosition refreshes and returns the position for the owner. The refresh is
// persisted so LTV is never evaluated against a stale valuation.
func (e *Engine) GetPosition(owner common.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.state.GetPosition(owner)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, ErrCollateralNotFound
	}
	position.EnsureDefaults()
	if !position.Status.Terminal() {
		if err := e.refreshPosition(position); err != nil {
			return nil, err
		}
		if err := e.state.PutPosition(position); err != nil {
			return nil, err
		}
	}
	return position.Clone(), nil
}

// IsLiquidationRequired refreshes the position and reports whether the LTV
// reached the liquidation threshold.
func (e *Engine) IsLiquidationRequired(owner common.Address) (bool, error) {
	position, err := e.GetPosition(owner)
	if err != nil {
		return false, err
	}
	if position.Status.Terminal() {
		return false, nil
	}
	return position.CurrentLTVBps >= position.LiquidationThresholdBps, nil
}

// Stats returns a copy of the custody aggregates.
func (e *Engine) Stats() (*GlobalStats, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	stats, err := e.loadStats()
	if err != nil {
		return nil, err
	}
	return stats.Clone(), nil
}

// refreshAsset re-fetches the asset price from the oracle and persists the
// updated registry entry. Without an oracle the stored price is used as-is.
func (e *Engine) refreshAsset(code string) (*Asset, error) {
	asset, err := e.state.GetAsset(code)
	if err != nil {
		return nil, err
	}
	if asset == nil || !asset.Supported {
		return nil, ErrAssetNotSupported
	}
	if e.prices == nil {
		return asset, nil
	}
	quote, err := e.prices.Price(asset.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPriceFeed, asset.Code, err)
	}
	asset.PriceUSD = new(big.Int).Set(quote.PriceUSD)
	asset.PriceTimestamp = quote.Timestamp.Unix()
	if err := e.state.PutAsset(asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// refreshPosition recomputes the USD valuation and LTV from the latest asset
// price. Staleness of the quote itself is the oracle aggregator's concern, not
// the custodian's.
func (e *Engine) refreshPosition(position *Position) error {
	asset, err := e.refreshAsset(position.Asset.Code)
	if err != nil {
		return err
	}
	position.Asset = *asset.Clone()
	position.CurrentValueUSD = usdValueOf(position.LockedAmount, asset.PriceUSD)
	position.CurrentLTVBps = ltvBps(position.LoanAmount, position.CurrentValueUSD)
	if position.Status == StatusActive || position.Status == StatusAtRisk {
		if position.CurrentLTVBps >= position.LiquidationThresholdBps {
			position.Status = StatusAtRisk
		} else {
			position.Status = StatusActive
		}
	}
	position.LastPriceUpdate = e.now()
	return nil
}

func (e *Engine) loadStats() (*GlobalStats, error) {
	stats, err := e.state.CollateralStats()
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = &GlobalStats{}
	}
	stats.EnsureDefaults()
	return stats, nil
}

// usdValueOf converts an asset amount to its USD value using 7-decimal fixed
// point prices.
func usdValueOf(amount, priceUSD *big.Int) *big.Int {
	if amount == nil || priceUSD == nil || amount.Sign() <= 0 || priceUSD.Sign() <= 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, priceUSD)
	return value.Quo(value, oracle.PriceScale)
}

// ltvBps computes loan/value in basis points. A worthless valuation with
// outstanding debt saturates to the maximum ratio so the position is always
// liquidatable.
func ltvBps(loanAmount, valueUSD *big.Int) uint64 {
	if loanAmount == nil || loanAmount.Sign() <= 0 {
		return 0
	}
	if valueUSD == nil || valueUSD.Sign() <= 0 {
		return math.MaxUint64
	}
	ratio := new(big.Int).Mul(loanAmount, basisPoints)
	ratio.Quo(ratio, valueUSD)
	if !ratio.IsUint64() {
		return math.MaxUint64
	}
	return ratio.Uint64()
}
