package loan

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"swave/core/events"
	nativecommon "swave/native/common"
	"swave/native/credit"
)

type mockState struct {
	loans map[common.Address]*Loan
	stats *GlobalStats
}

func newMockState() *mockState {
	return &mockState{loans: make(map[common.Address]*Loan)}
}

func (m *mockState) GetLoan(borrower common.Address) (*Loan, error) {
	return m.loans[borrower].Clone(), nil
}

func (m *mockState) PutLoan(loan *Loan) error {
	m.loans[loan.Borrower] = loan.Clone()
	return nil
}

func (m *mockState) LoanStats() (*GlobalStats, error) {
	return m.stats.Clone(), nil
}

func (m *mockState) PutLoanStats(stats *GlobalStats) error {
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

type mockCustodian struct {
	lockCalls    int
	lockedAsset  string
	lockedAmount *big.Int
	attached     *big.Int
	unlocks      int
	seizures     int
	lockErr      error
	unlockErr    error
	seizeErr     error
}

func (m *mockCustodian) Lock(_ common.Address, asset string, amount *big.Int) error {
	if m.lockErr != nil {
		return m.lockErr
	}
	m.lockCalls++
	m.lockedAsset = asset
	m.lockedAmount = new(big.Int).Set(amount)
	return nil
}

func (m *mockCustodian) AttachLoan(_ common.Address, loanAmount *big.Int) error {
	m.attached = new(big.Int).Set(loanAmount)
	return nil
}

func (m *mockCustodian) Unlock(common.Address) error {
	if m.unlockErr != nil {
		return m.unlockErr
	}
	m.unlocks++
	return nil
}

func (m *mockCustodian) Seize(_, _ common.Address) error {
	if m.seizeErr != nil {
		return m.seizeErr
	}
	m.seizures++
	return nil
}

var (
	treasuryAddr = common.HexToAddress("0x000000000000000000000000000000007ea50000")
	borrowerAddr = common.HexToAddress("0x0000000000000000000000000000000000000010")
	callerAddr   = common.HexToAddress("0x0000000000000000000000000000000000000020")
)

type testClock struct {
	now int64
}

func (c *testClock) advanceDays(days int64) { c.now += days * secondsPerDay }

func newTestEngine(t *testing.T) (*Engine, *mockState, *mockTransfers, *mockCustodian, *credit.StaticScorer, *testClock) {
	t.Helper()
	state := newMockState()
	transfers := newMockTransfers()
	transfers.credit(treasuryAddr, 10_000_000_000)
	custodian := &mockCustodian{}
	scorer := credit.NewStaticScorer()
	clock := &testClock{now: 1_700_000_000}

	engine := NewEngine(treasuryAddr, DefaultParams())
	engine.SetState(state)
	engine.SetTransfers(transfers)
	engine.SetScorer(scorer)
	engine.SetCustodian(custodian)
	engine.SetNowFunc(func() int64 { return clock.now })
	return engine, state, transfers, custodian, scorer, clock
}

func TestRequestLoanUnsecured(t *testing.T) {
	engine, state, transfers, _, scorer, clock := newTestEngine(t)
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	scorer.Set(borrowerAddr, 85)

	record, err := engine.RequestLoan(borrowerAddr, big.NewInt(1_000_000_000))
	if err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if record.State != StateActive || record.Type != TypeUnsecured {
		t.Fatalf("unexpected disposition: %s %s", record.State, record.Type)
	}
	if record.InterestRateBps != 400 {
		t.Fatalf("unexpected rate: %d", record.InterestRateBps)
	}
	if record.DueAt != clock.now+90*secondsPerDay {
		t.Fatalf("unexpected due date: %d", record.DueAt)
	}
	if got := transfers.balance(borrowerAddr); got.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("expected principal disbursed, got %s", got)
	}
	if state.stats == nil || state.stats.TotalLoans != 1 || state.stats.ActiveLoans != 1 {
		t.Fatalf("unexpected stats: %+v", state.stats)
	}
	if state.stats.TotalVolume.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("unexpected volume: %s", state.stats.TotalVolume)
	}
	if len(recorder.Events) != 1 || recorder.Events[0].EventType() != EventTypeActivated {
		t.Fatalf("expected activated event, got %+v", recorder.Events)
	}
}

func TestRequestLoanCollateralRequired(t *testing.T) {
	engine, state, transfers, _, scorer, _ := newTestEngine(t)
	scorer.Set(borrowerAddr, 60)

	record, err := engine.RequestLoan(borrowerAddr, big.NewInt(500_000_000))
	if err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if record.State != StateCollateralRequired || record.Type != TypeCollateralized {
		t.Fatalf("unexpected disposition: %s %s", record.State, record.Type)
	}
	if record.InterestRateBps != 450 {
		t.Fatalf("unexpected rate: %d", record.InterestRateBps)
	}
	if record.RequiredCollateral.Cmp(big.NewInt(750_000_000)) != 0 {
		t.Fatalf("unexpected required collateral: %s", record.RequiredCollateral)
	}
	if got := transfers.balance(borrowerAddr); got.Sign() != 0 {
		t.Fatalf("expected no disbursement before collateral, got %s", got)
	}
	if state.stats != nil && state.stats.TotalLoans != 0 {
		t.Fatalf("pending loan must not count as lent: %+v", state.stats)
	}
}

func TestRequestLoanRejected(t *testing.T) {
	engine, state, transfers, _, scorer, _ := newTestEngine(t)
	scorer.Set(borrowerAddr, 40)

	record, err := engine.RequestLoan(borrowerAddr, big.NewInt(500_000_000))
	if err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if record.State != StateRejected {
		t.Fatalf("unexpected state: %s", record.State)
	}
	if record.OutstandingBalance.Sign() != 0 {
		t.Fatalf("rejected loan must carry no balance: %s", record.OutstandingBalance)
	}
	if got := transfers.balance(borrowerAddr); got.Sign() != 0 {
		t.Fatalf("expected no funds moved, got %s", got)
	}
	if state.stats != nil && state.stats.TotalLoans != 0 {
		t.Fatalf("rejected loan must not count as lent: %+v", state.stats)
	}

	// A rejection is terminal, so a fresh request is allowed.
	scorer.Set(borrowerAddr, 85)
	if _, err := engine.RequestLoan(borrowerAddr, big.NewInt(500_000_000)); err != nil {
		t.Fatalf("request after rejection: %v", err)
	}
}

func TestRequestLoanAmountBounds(t *testing.T) {
	engine, _, _, _, scorer, _ := newTestEngine(t)
	scorer.Set(borrowerAddr, 85)

	if _, err := engine.RequestLoan(borrowerAddr, big.NewInt(999_999)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount below minimum, got %v", err)
	}
	over := new(big.Int).Add(DefaultParams().MaxLoan, big.NewInt(1))
	if _, err := engine.RequestLoan(borrowerAddr, over); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount above maximum, got %v", err)
	}
}

func TestRequestLoanRejectsOpenLoan(t *testing.T) {
	engine, _, _, _, scorer, _ := newTestEngine(t)
	scorer.Set(borrowerAddr, 85)

	if _, err := engine.RequestLoan(borrowerAddr, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if _, err := engine.RequestLoan(borrowerAddr, big.NewInt(1_000_000_000)); !errors.Is(err, ErrLoanAlreadyExists) {
		t.Fatalf("expected ErrLoanAlreadyExists, got %v", err)
	}
}

func TestRequestLoanScorerFailureAborts(t *testing.T) {
	engine, state, _, _, _, _ := newTestEngine(t)

	_, err := engine.RequestLoan(borrowerAddr, big.NewInt(1_000_000_000))
	if !errors.Is(err, ErrCrossContractCall) {
		t.Fatalf("expected ErrCrossContractCall, got %v", err)
	}
	if state.loans[borrowerAddr] != nil {
		t.Fatalf("expected no record after aborted origination")
	}
}

func TestRequestLoanPaused(t *testing.T) {
	engine, _, _, _, scorer, _ := newTestEngine(t)
	scorer.Set(borrowerAddr, 85)
	pauses := nativecommon.NewPauseSet()
	pauses.SetPaused(moduleName, true)
	engine.SetPauses(pauses)

	if _, err := engine.RequestLoan(borrowerAddr, big.NewInt(1_000_000_000)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestProvideCollateralActivates(t *testing.T) {
	engine, state, transfers, custodian, scorer, _ := newTestEngine(t)
	scorer.Set(borrowerAddr, 60)

	if _, err := engine.RequestLoan(borrowerAddr, big.NewInt(500_000_000)); err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if err := engine.ProvideCollateral(borrowerAddr, "XLM", big.NewInt(750_000_000)); err != nil {
		t.Fatalf("provide collateral: %v", err)
	}

	record := state.loans[borrowerAddr]
	if record.State != StateActive {
		t.Fatalf("expected active state, got %s", record.State)
	}
	if record.CollateralLocked.Cmp(big.NewInt(750_000_000)) != 0 {
		t.Fatalf("unexpected collateral locked: %s", record.CollateralLocked)
	}
	if custodian.lockCalls != 1 || custodian.lockedAmount.Cmp(big.NewInt(750_000_000)) != 0 {
		t.Fatalf("expected custodian lock, got %+v", custodian)
	}
	if custodian.attached == nil || custodian.attached.Cmp(big.NewInt(500_000_000)) != 0 {
		t.Fatalf("expected loan amount attached, got %s", custodian.attached)
	}
	if got := transfers.balance(borrowerAddr); got.Cmp(big.NewInt(500_000_000)) != 0 {
		t.Fatalf("expected principal disbursed, got %s", got)
	}
	if state.stats.TotalLoans != 1 || state.stats.ActiveLoans != 1 {
		t.Fatalf("unexpected stats: %+v", state.stats)
	}
}

func TestProvideCollateralInsufficientDeposit(t *testing.T) {
	engine, state, _, custodian, scorer, _ := newTestEngine(t)
	scorer.Set(borrowerAddr, 60)

	if _, err := engine.RequestLoan(borrowerAddr, big.NewInt(500_000_000)); err != nil {
		t.Fatalf("request loan: %v", err)
	}
	err := engine.ProvideCollateral(borrowerAddr, "XLM", big.NewInt(749_999_999))
	if !errors.Is(err, ErrCollateralInsufficient) {
		t.Fatalf("expected ErrCollateralInsufficient, got %v", err)
	}
	if state.loans[borrowerAddr].State != StateCollateralRequired {
		t.Fatalf("expected state unchanged, got %s", state.loans[borrowerAddr].State)
	}
	if custodian.lockCalls != 0 {
		t.Fatalf("expected no custodian lock")
	}
}

func TestProvideCollateralLockFailureAborts(t *testing.T) {
	engine, state, transfers, custodian, scorer, _ := newTestEngine(t)
	scorer.Set(borrowerAddr, 60)
	custodian.lockErr = errors.New("lock rejected")

	if _, err := engine.RequestLoan(borrowerAddr, big.NewInt(500_000_000)); err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if err := engine.ProvideCollateral(borrowerAddr, "XLM", big.NewInt(750_000_000)); err == nil {
		t.Fatalf("expected lock failure to propagate")
	}
	if state.loans[borrowerAddr].State != StateCollateralRequired {
		t.Fatalf("expected state unchanged after lock failure")
	}
	if got := transfers.balance(borrowerAddr); got.Sign() != 0 {
		t.Fatalf("expected no disbursement after lock failure, got %s", got)
	}
}

func TestProvideCollateralWrongState(t *testing.T) {
	engine, _, _, _, scorer, _ := newTestEngine(t)
	scorer.Set(borrowerAddr, 85)

	if _, err := engine.RequestLoan(borrowerAddr, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if err := engine.ProvideCollateral(borrowerAddr, "XLM", big.NewInt(750_000_000)); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound, got %v", err)
	}
}

func TestLiquidateGatedOnDueDate(t *testing.T) {
	engine, state, _, _, scorer, clock := newTestEngine(t)
	scorer.Set(borrowerAddr, 85)

	if _, err := engine.RequestLoan(borrowerAddr, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if err := engine.Liquidate(callerAddr, borrowerAddr); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected rejection before due date, got %v", err)
	}
	if state.loans[borrowerAddr].State != StateActive {
		t.Fatalf("expected loan still active")
	}

	clock.advanceDays(90)
	if err := engine.Liquidate(callerAddr, borrowerAddr); err != nil {
		t.Fatalf("liquidate at due date: %v", err)
	}
	if state.loans[borrowerAddr].State != StateLiquidated {
		t.Fatalf("expected liquidated state, got %s", state.loans[borrowerAddr].State)
	}
	if state.stats.ActiveLoans != 0 || state.stats.TotalLiquidations != 1 {
		t.Fatalf("unexpected stats: %+v", state.stats)
	}
}

func TestLiquidateCollateralizedSeizes(t *testing.T) {
	engine, state, _, custodian, scorer, clock := newTestEngine(t)
	scorer.Set(borrowerAddr, 60)

	if _, err := engine.RequestLoan(borrowerAddr, big.NewInt(500_000_000)); err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if err := engine.ProvideCollateral(borrowerAddr, "XLM", big.NewInt(750_000_000)); err != nil {
		t.Fatalf("provide collateral: %v", err)
	}

	clock.advanceDays(120)
	if err := engine.Liquidate(callerAddr, borrowerAddr); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if custodian.seizures != 1 {
		t.Fatalf("expected custodian seizure, got %d", custodian.seizures)
	}
	record := state.loans[borrowerAddr]
	if record.State != StateLiquidated {
		t.Fatalf("expected liquidated state")
	}
	if record.CollateralLocked.Sign() != 0 {
		t.Fatalf("seized loan must not report held collateral: %s", record.CollateralLocked)
	}
}

func TestLiquidateSeizureFailureAborts(t *testing.T) {
	engine, state, _, custodian, scorer, clock := newTestEngine(t)
	scorer.Set(borrowerAddr, 60)
	custodian.seizeErr = errors.New("position not found")

	if _, err := engine.RequestLoan(borrowerAddr, big.NewInt(500_000_000)); err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if err := engine.ProvideCollateral(borrowerAddr, "XLM", big.NewInt(750_000_000)); err != nil {
		t.Fatalf("provide collateral: %v", err)
	}

	clock.advanceDays(120)
	if err := engine.Liquidate(callerAddr, borrowerAddr); err == nil {
		t.Fatalf("expected seizure failure to propagate")
	}
	if state.loans[borrowerAddr].State != StateActive {
		t.Fatalf("expected loan untouched after aborted seizure")
	}
	if state.stats.TotalLiquidations != 0 {
		t.Fatalf("expected liquidation counter untouched")
	}
}

func TestIsDue(t *testing.T) {
	engine, _, _, _, scorer, clock := newTestEngine(t)
	scorer.Set(borrowerAddr, 85)

	if _, err := engine.IsDue(borrowerAddr); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound for unknown borrower")
	}
	if _, err := engine.RequestLoan(borrowerAddr, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("request loan: %v", err)
	}
	due, err := engine.IsDue(borrowerAddr)
	if err != nil || due {
		t.Fatalf("expected not due, got %v %v", due, err)
	}
	clock.advanceDays(90)
	due, err = engine.IsDue(borrowerAddr)
	if err != nil || !due {
		t.Fatalf("expected due, got %v %v", due, err)
	}
}
