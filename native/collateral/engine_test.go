package collateral

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"swave/core/events"
	nativecommon "swave/native/common"
)

type mockState struct {
	positions    map[common.Address]*Position
	assets       map[string]*Asset
	liquidations []*LiquidationEvent
	stats        *GlobalStats
}

func newMockState() *mockState {
	return &mockState{
		positions: make(map[common.Address]*Position),
		assets:    make(map[string]*Asset),
	}
}

func (m *mockState) GetPosition(owner common.Address) (*Position, error) {
	return m.positions[owner].Clone(), nil
}

func (m *mockState) PutPosition(position *Position) error {
	m.positions[position.Owner] = position.Clone()
	return nil
}

func (m *mockState) GetAsset(code string) (*Asset, error) {
	return m.assets[code].Clone(), nil
}

func (m *mockState) PutAsset(asset *Asset) error {
	m.assets[asset.Code] = asset.Clone()
	return nil
}

func (m *mockState) AppendLiquidation(event *LiquidationEvent) error {
	m.liquidations = append(m.liquidations, event)
	return nil
}

func (m *mockState) CollateralStats() (*GlobalStats, error) {
	return m.stats.Clone(), nil
}

func (m *mockState) PutCollateralStats(stats *GlobalStats) error {
	m.stats = stats.Clone()
	return nil
}

type mockTransfers struct {
	balances map[common.Address]*big.Int
	failNext error
}

func newMockTransfers() *mockTransfers {
	return &mockTransfers{balances: make(map[common.Address]*big.Int)}
}

func (m *mockTransfers) credit(addr common.Address, amount int64) {
	m.balances[addr] = big.NewInt(amount)
}

func (m *mockTransfers) balance(addr common.Address) *big.Int {
	if bal, ok := m.balances[addr]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (m *mockTransfers) Transfer(from, to common.Address, amount *big.Int) error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	if m.balance(from).Cmp(amount) < 0 {
		return errors.New("insufficient funds")
	}
	m.balances[from] = new(big.Int).Sub(m.balance(from), amount)
	m.balances[to] = new(big.Int).Add(m.balance(to), amount)
	return nil
}

var (
	custodyAddr    = common.HexToAddress("0x00000000000000000000000000000000c0570d1a")
	ownerAddr      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	liquidatorAddr = common.HexToAddress("0x0000000000000000000000000000000000000002")
	adminAddr      = common.HexToAddress("0x00000000000000000000000000000000000000ad")
)

func newTestEngine(t *testing.T) (*Engine, *mockState, *mockTransfers) {
	t.Helper()
	state := newMockState()
	for _, asset := range DefaultAssets(1_700_000_000) {
		if err := state.PutAsset(asset.Clone()); err != nil {
			t.Fatalf("seed asset: %v", err)
		}
	}
	transfers := newMockTransfers()
	engine := NewEngine(custodyAddr, DefaultParams())
	engine.SetState(state)
	engine.SetTransfers(transfers)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine, state, transfers
}

func TestLockRecordsPosition(t *testing.T) {
	engine, state, transfers := newTestEngine(t)
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	transfers.credit(ownerAddr, 2_000_000_000)

	if err := engine.Lock(ownerAddr, "XLM", big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}

	position := state.positions[ownerAddr]
	if position == nil {
		t.Fatalf("expected position to be recorded")
	}
	if position.Status != StatusActive {
		t.Fatalf("expected active status, got %s", position.Status)
	}
	// 1_000_000_000 units at $0.10 is $10.00 in 7-decimal fixed point.
	if got := position.LockValueUSD; got.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("unexpected lock value: %s", got)
	}
	if got := transfers.balance(custodyAddr); got.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("expected custody to hold locked amount, got %s", got)
	}
	if state.stats == nil || state.stats.ActivePositions != 1 || state.stats.TotalPositions != 1 {
		t.Fatalf("unexpected stats: %+v", state.stats)
	}
	if state.stats.TotalLockedUSD.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("unexpected locked usd: %s", state.stats.TotalLockedUSD)
	}
	if len(recorder.Events) != 1 || recorder.Events[0].EventType() != EventTypeLocked {
		t.Fatalf("expected locked event, got %+v", recorder.Events)
	}
}

func TestLockRejectsBelowMinimumValue(t *testing.T) {
	engine, state, transfers := newTestEngine(t)
	transfers.credit(ownerAddr, 2_000_000_000)

	// 9_000_000 units at $0.10 is $0.09, below the $1.00 minimum lock value.
	err := engine.Lock(ownerAddr, "XLM", big.NewInt(9_000_000))
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	if state.positions[ownerAddr] != nil {
		t.Fatalf("expected no position after rejected lock")
	}
	if got := transfers.balance(ownerAddr); got.Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("expected owner balance untouched, got %s", got)
	}
}

func TestLockRejectsUnsupportedAsset(t *testing.T) {
	engine, _, transfers := newTestEngine(t)
	transfers.credit(ownerAddr, 2_000_000_000)

	if err := engine.Lock(ownerAddr, "DOGE", big.NewInt(1_000_000_000)); !errors.Is(err, ErrAssetNotSupported) {
		t.Fatalf("expected ErrAssetNotSupported, got %v", err)
	}
}

func TestLockRejectsExistingPosition(t *testing.T) {
	engine, _, transfers := newTestEngine(t)
	transfers.credit(ownerAddr, 4_000_000_000)

	if err := engine.Lock(ownerAddr, "XLM", big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if err := engine.Lock(ownerAddr, "XLM", big.NewInt(1_000_000_000)); !errors.Is(err, ErrCollateralLocked) {
		t.Fatalf("expected ErrCollateralLocked, got %v", err)
	}
}

func TestLockAllowedAfterTerminalPosition(t *testing.T) {
	engine, _, transfers := newTestEngine(t)
	transfers.credit(ownerAddr, 4_000_000_000)

	if err := engine.Lock(ownerAddr, "XLM", big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.Unlock(ownerAddr); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := engine.Lock(ownerAddr, "XLM", big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("re-lock after release: %v", err)
	}
}

func TestLockPaused(t *testing.T) {
	engine, _, transfers := newTestEngine(t)
	transfers.credit(ownerAddr, 2_000_000_000)
	pauses := nativecommon.NewPauseSet()
	pauses.SetPaused(moduleName, true)
	engine.SetPauses(pauses)

	if err := engine.Lock(ownerAddr, "XLM", big.NewInt(1_000_000_000)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestAttachLoanFlagsAtRisk(t *testing.T) {
	engine, state, transfers := newTestEngine(t)
	transfers.credit(ownerAddr, 1_000_000_000)

	if err := engine.Lock(ownerAddr, "USDC", big.NewInt(900_000_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.AttachLoan(ownerAddr, big.NewInt(750_000_000)); err != nil {
		t.Fatalf("attach loan: %v", err)
	}

	position := state.positions[ownerAddr]
	if position.CurrentLTVBps != 8_333 {
		t.Fatalf("unexpected ltv: %d", position.CurrentLTVBps)
	}
	if position.Status != StatusAtRisk {
		t.Fatalf("expected at risk status, got %s", position.Status)
	}
}

func TestAttachLoanHealthyStaysActive(t *testing.T) {
	engine, state, transfers := newTestEngine(t)
	transfers.credit(ownerAddr, 1_000_000_000)

	if err := engine.Lock(ownerAddr, "USDC", big.NewInt(900_000_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.AttachLoan(ownerAddr, big.NewInt(600_000_000)); err != nil {
		t.Fatalf("attach loan: %v", err)
	}

	position := state.positions[ownerAddr]
	if position.CurrentLTVBps != 6_666 {
		t.Fatalf("unexpected ltv: %d", position.CurrentLTVBps)
	}
	if position.Status != StatusActive {
		t.Fatalf("expected active status, got %s", position.Status)
	}
}

func TestUnlockReturnsCollateral(t *testing.T) {
	engine, state, transfers := newTestEngine(t)
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	transfers.credit(ownerAddr, 1_000_000_000)

	if err := engine.Lock(ownerAddr, "USDC", big.NewInt(900_000_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.AttachLoan(ownerAddr, big.NewInt(750_000_000)); err != nil {
		t.Fatalf("attach loan: %v", err)
	}
	if err := engine.Unlock(ownerAddr); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	if got := transfers.balance(ownerAddr); got.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("expected full balance returned, got %s", got)
	}
	position := state.positions[ownerAddr]
	if position.Status != StatusReleased {
		t.Fatalf("expected released status, got %s", position.Status)
	}
	if state.stats.ActivePositions != 0 {
		t.Fatalf("expected no active positions, got %d", state.stats.ActivePositions)
	}
	if state.stats.TotalLockedUSD.Sign() != 0 {
		t.Fatalf("expected zero locked usd, got %s", state.stats.TotalLockedUSD)
	}
	var sawReleased bool
	for _, evt := range recorder.Events {
		if evt.EventType() == EventTypeReleased {
			sawReleased = true
		}
	}
	if !sawReleased {
		t.Fatalf("expected released event, got %+v", recorder.Events)
	}
}

func TestUnlockRejectedAfterLiquidation(t *testing.T) {
	engine, _, transfers := newTestEngine(t)
	transfers.credit(ownerAddr, 1_000_000_000)

	if err := engine.Lock(ownerAddr, "USDC", big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.AttachLoan(ownerAddr, big.NewInt(850_000_000)); err != nil {
		t.Fatalf("attach loan: %v", err)
	}
	if err := engine.Liquidate(liquidatorAddr, ownerAddr); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if err := engine.Unlock(ownerAddr); !errors.Is(err, ErrCollateralLocked) {
		t.Fatalf("expected ErrCollateralLocked, got %v", err)
	}
}

func TestLiquidateSplitsPenalty(t *testing.T) {
	engine, state, transfers := newTestEngine(t)
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	transfers.credit(ownerAddr, 1_000_000_000)

	if err := engine.Lock(ownerAddr, "USDC", big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.AttachLoan(ownerAddr, big.NewInt(850_000_000)); err != nil {
		t.Fatalf("attach loan: %v", err)
	}
	if err := engine.Liquidate(liquidatorAddr, ownerAddr); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	if got := transfers.balance(liquidatorAddr); got.Cmp(big.NewInt(950_000_000)) != 0 {
		t.Fatalf("unexpected liquidator payout: %s", got)
	}
	if got := transfers.balance(custodyAddr); got.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("expected penalty retained in custody, got %s", got)
	}

	position := state.positions[ownerAddr]
	if position.Status != StatusLiquidated {
		t.Fatalf("expected liquidated status, got %s", position.Status)
	}
	if position.LockedAmount.Sign() != 0 {
		t.Fatalf("expected locked amount cleared, got %s", position.LockedAmount)
	}

	if len(state.liquidations) != 1 {
		t.Fatalf("expected one liquidation record, got %d", len(state.liquidations))
	}
	record := state.liquidations[0]
	if record.ID == "" {
		t.Fatalf("expected liquidation id to be assigned")
	}
	if record.PenaltyAmount.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("unexpected penalty: %s", record.PenaltyAmount)
	}
	if record.AmountLiquidated.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("unexpected liquidated amount: %s", record.AmountLiquidated)
	}

	if state.stats.TotalLiquidations != 1 || state.stats.ActivePositions != 0 {
		t.Fatalf("unexpected stats: %+v", state.stats)
	}
	var sawSeized bool
	for _, evt := range recorder.Events {
		if evt.EventType() == EventTypeSeized {
			sawSeized = true
		}
	}
	if !sawSeized {
		t.Fatalf("expected seized event, got %+v", recorder.Events)
	}
}

func TestLiquidateHealthyPositionRejected(t *testing.T) {
	engine, _, transfers := newTestEngine(t)
	transfers.credit(ownerAddr, 1_000_000_000)

	if err := engine.Lock(ownerAddr, "USDC", big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.AttachLoan(ownerAddr, big.NewInt(500_000_000)); err != nil {
		t.Fatalf("attach loan: %v", err)
	}
	if err := engine.Liquidate(liquidatorAddr, ownerAddr); !errors.Is(err, ErrLiquidationNotRequired) {
		t.Fatalf("expected ErrLiquidationNotRequired, got %v", err)
	}
	if got := transfers.balance(liquidatorAddr); got.Sign() != 0 {
		t.Fatalf("expected no payout, got %s", got)
	}
}

func TestPriceDropTriggersLiquidationRequirement(t *testing.T) {
	engine, state, transfers := newTestEngine(t)
	transfers.credit(ownerAddr, 10_000_000_000)

	if err := engine.Lock(ownerAddr, "XLM", big.NewInt(10_000_000_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	// Value is $100 at $0.10; a $60 loan is healthy at 60% LTV.
	if err := engine.AttachLoan(ownerAddr, big.NewInt(600_000_000)); err != nil {
		t.Fatalf("attach loan: %v", err)
	}
	required, err := engine.IsLiquidationRequired(ownerAddr)
	if err != nil {
		t.Fatalf("liquidation check: %v", err)
	}
	if required {
		t.Fatalf("expected healthy position")
	}

	// Price halves to $0.05; value drops to $50 and LTV climbs to 120%.
	asset := state.assets["XLM"]
	asset.PriceUSD = big.NewInt(500_000)
	state.assets["XLM"] = asset

	required, err = engine.IsLiquidationRequired(ownerAddr)
	if err != nil {
		t.Fatalf("liquidation check: %v", err)
	}
	if !required {
		t.Fatalf("expected liquidation required after price drop")
	}
	position := state.positions[ownerAddr]
	if position.Status != StatusAtRisk {
		t.Fatalf("expected at risk status, got %s", position.Status)
	}
}

func TestLiquidateTransferFailureAborts(t *testing.T) {
	engine, state, transfers := newTestEngine(t)
	transfers.credit(ownerAddr, 1_000_000_000)

	if err := engine.Lock(ownerAddr, "USDC", big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.AttachLoan(ownerAddr, big.NewInt(850_000_000)); err != nil {
		t.Fatalf("attach loan: %v", err)
	}
	transfers.failNext = errors.New("transfer rejected")
	if err := engine.Liquidate(liquidatorAddr, ownerAddr); err == nil {
		t.Fatalf("expected liquidation to fail")
	}
	if len(state.liquidations) != 0 {
		t.Fatalf("expected no liquidation record after aborted seizure")
	}
	if state.stats.TotalLiquidations != 0 {
		t.Fatalf("expected liquidation counter untouched")
	}
}

func TestGetPositionRefreshesValuation(t *testing.T) {
	engine, state, transfers := newTestEngine(t)
	transfers.credit(ownerAddr, 10_000_000_000)

	if err := engine.Lock(ownerAddr, "XLM", big.NewInt(10_000_000_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	asset := state.assets["XLM"]
	asset.PriceUSD = big.NewInt(2_000_000)
	state.assets["XLM"] = asset

	position, err := engine.GetPosition(ownerAddr)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if position.CurrentValueUSD.Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("unexpected refreshed value: %s", position.CurrentValueUSD)
	}
	if state.positions[ownerAddr].CurrentValueUSD.Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("expected refreshed valuation persisted")
	}
}

func TestGetPositionMissing(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.GetPosition(ownerAddr); !errors.Is(err, ErrCollateralNotFound) {
		t.Fatalf("expected ErrCollateralNotFound, got %v", err)
	}
}

func TestUpdateAssetPriceRequiresAuthorization(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	engine.SetAuthorizer(nativecommon.NewAdminSet(adminAddr))

	if err := engine.UpdateAssetPrice(ownerAddr, "XLM", big.NewInt(3_000_000)); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.UpdateAssetPrice(adminAddr, "XLM", big.NewInt(3_000_000)); err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if state.assets["XLM"].PriceUSD.Cmp(big.NewInt(3_000_000)) != 0 {
		t.Fatalf("expected price update persisted")
	}
}

func TestSeizeBypassesThreshold(t *testing.T) {
	engine, state, transfers := newTestEngine(t)
	transfers.credit(ownerAddr, 1_000_000_000)

	if err := engine.Lock(ownerAddr, "USDC", big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	// $50 loan on $100 of collateral: LTV 5000, well under the threshold.
	if err := engine.AttachLoan(ownerAddr, big.NewInt(500_000_000)); err != nil {
		t.Fatalf("attach loan: %v", err)
	}
	if err := engine.Liquidate(liquidatorAddr, ownerAddr); !errors.Is(err, ErrLiquidationNotRequired) {
		t.Fatalf("expected standalone liquidation rejected, got %v", err)
	}

	if err := engine.Seize(liquidatorAddr, ownerAddr); err != nil {
		t.Fatalf("seize: %v", err)
	}
	position := state.positions[ownerAddr]
	if position.Status != StatusLiquidated {
		t.Fatalf("expected liquidated status, got %s", position.Status)
	}
	if got := transfers.balance(liquidatorAddr); got.Cmp(big.NewInt(950_000_000)) != 0 {
		t.Fatalf("unexpected payout %s", got)
	}
	if len(state.liquidations) != 1 {
		t.Fatalf("expected liquidation event, got %d", len(state.liquidations))
	}
	if state.stats.TotalLiquidations != 1 {
		t.Fatalf("unexpected stats: %+v", state.stats)
	}
}

func TestZeroValuationSaturatesLTV(t *testing.T) {
	if got := ltvBps(big.NewInt(1), big.NewInt(0)); got != ^uint64(0) {
		t.Fatalf("expected saturated ltv, got %d", got)
	}
	if got := ltvBps(big.NewInt(0), big.NewInt(0)); got != 0 {
		t.Fatalf("expected zero ltv for zero debt, got %d", got)
	}
}
