package loan

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"swave/core/events"
	"swave/ledger"
	nativecommon "swave/native/common"
	"swave/native/credit"
)

const moduleName = "loan"

type engineState interface {
	GetLoan(borrower common.Address) (*Loan, error)
	PutLoan(loan *Loan) error
	LoanStats() (*GlobalStats, error)
	PutLoanStats(stats *GlobalStats) error
}

// Custodian is the collateral subsystem consumed by the loan engine. Calls are
// synchronous and in-transaction: any failure aborts the enclosing loan
// operation before the loan record is mutated.
type Custodian interface {
	Lock(owner common.Address, asset string, amount *big.Int) error
	AttachLoan(owner common.Address, loanAmount *big.Int) error
	Unlock(owner common.Address) error
	// Seize liquidates the position unconditionally. Due-date default is a
	// liquidation trigger of its own, independent of the custodian's LTV
	// threshold, so the loan engine must not be blocked by healthy collateral.
	Seize(liquidator, owner common.Address) error
}

// Engine owns loan accounts: it routes requests by credit tier, disburses
// principal, accrues interest, allocates payments and coordinates collateral
// through the custodian.
type Engine struct {
	state     engineState
	transfers ledger.Transferor
	scorer    credit.Scorer
	custodian Custodian
	treasury  common.Address
	params    Params
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	nowFn     func() int64
}

// NewEngine constructs a loan engine disbursing from the treasury address.
func NewEngine(treasury common.Address, params Params) *Engine {
	if params.MinLoan == nil {
		params.MinLoan = big.NewInt(0)
	}
	if params.MaxLoan == nil {
		params.MaxLoan = big.NewInt(0)
	}
	return &Engine{
		treasury: treasury,
		params:   params,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTransfers wires the principal disbursement and repayment collaborator.
func (e *Engine) SetTransfers(transfers ledger.Transferor) { e.transfers = transfers }

// SetScorer wires the credit scorer consulted at origination.
func (e *Engine) SetScorer(scorer credit.Scorer) { e.scorer = scorer }

// SetCustodian wires the collateral custodian.
func (e *Engine) SetCustodian(custodian Custodian) { e.custodian = custodian }

// SetPauses wires the emergency pause view consulted before any mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
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

// RequestLoan routes the request by credit tier and creates the loan account.
// Unsecured approvals disburse immediately; collateral-required approvals wait
// for ProvideCollateral; rejections record a terminal audit entry and move no
// funds.
func (e *Engine) RequestLoan(borrower common.Address, amount *big.Int) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.transfers == nil {
		return nil, errNilTransfers
	}
	if e.scorer == nil {
		return nil, errNilScorer
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(e.params.MinLoan) < 0 || amount.Cmp(e.params.MaxLoan) > 0 {
		return nil, ErrInvalidAmount
	}

	existing, err := e.state.GetLoan(borrower)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.State.Terminal() {
		return nil, ErrLoanAlreadyExists
	}

	score, err := e.scorer.Score(borrower)
	if err != nil {
		return nil, fmt.Errorf("%w: credit scorer: %v", ErrCrossContractCall, err)
	}

	disposition := route(score, amount, e.params)
	now := e.now()
	record := &Loan{
		Borrower:           borrower,
		Principal:          new(big.Int).Set(amount),
		OutstandingBalance: new(big.Int).Set(amount),
		AccruedInterest:    big.NewInt(0),
		InterestRateBps:    disposition.RateBps,
		Type:               disposition.Type,
		CreditScore:        score,
		RequiredCollateral: disposition.RequiredCollateral,
		CollateralLocked:   big.NewInt(0),
		CreatedAt:          now,
		DurationDays:       disposition.TermDays,
		DueAt:              now + int64(disposition.TermDays)*secondsPerDay,
		LastInterestCalcAt: now,
		State:              disposition.State,
		TotalPayments:      big.NewInt(0),
	}

	switch disposition.State {
	case StateRejected:
		record.OutstandingBalance = big.NewInt(0)
		record.DueAt = 0
		if err := e.state.PutLoan(record); err != nil {
			return nil, err
		}
		e.emit(RejectedEvent{Borrower: borrower, Amount: amount, Score: score, RejectedAt: now})
		return record.Clone(), nil

	case StateCollateralRequired:
		if err := e.state.PutLoan(record); err != nil {
			return nil, err
		}
		e.emit(CollateralRequiredEvent{
			Borrower:           borrower,
			Amount:             amount,
			RequiredCollateral: record.RequiredCollateral,
			RateBps:            record.InterestRateBps,
			Score:              score,
		})
		return record.Clone(), nil

	default:
		if err := e.transfers.Transfer(e.treasury, borrower, amount); err != nil {
			return nil, err
		}
		if err := e.state.PutLoan(record); err != nil {
			return nil, err
		}
		if err := e.addActivationStats(amount); err != nil {
			return nil, err
		}
		e.emit(ActivatedEvent{
			Borrower: borrower,
			Amount:   amount,
			Type:     record.Type,
			RateBps:  record.InterestRateBps,
			DueAt:    record.DueAt,
		})
		return record.Clone(), nil
	}
}

// ProvideCollateral activates a collateral-required loan. The deposit is
// locked with the custodian before any loan mutation; the principal is
// disbursed only after the lock succeeds.
func (e *Engine) ProvideCollateral(borrower common.Address, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.transfers == nil {
		return errNilTransfers
	}
	if e.custodian == nil {
		return errNilCustodian
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	record, err := e.state.GetLoan(borrower)
	if err != nil {
		return err
	}
	if record == nil || record.State != StateCollateralRequired {
		return ErrLoanNotFound
	}
	record.EnsureDefaults()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(record.RequiredCollateral) < 0 {
		return ErrCollateralInsufficient
	}
	if asset == "" {
		asset = e.params.DefaultCollateralAsset
	}

	if err := e.custodian.Lock(borrower, asset, amount); err != nil {
		return err
	}
	if err := e.custodian.AttachLoan(borrower, record.OutstandingBalance); err != nil {
		return err
	}
	if err := e.transfers.Transfer(e.treasury, borrower, record.Principal); err != nil {
		return err
	}

	now := e.now()
	record.CollateralLocked = new(big.Int).Set(amount)
	record.CollateralAsset = asset
	record.State = StateActive
	record.LastInterestCalcAt = now
	if err := e.state.PutLoan(record); err != nil {
		return err
	}
	if err := e.addActivationStats(record.Principal); err != nil {
		return err
	}

	e.emit(ActivatedEvent{
		Borrower:   borrower,
		Amount:     record.Principal,
		Type:       record.Type,
		RateBps:    record.InterestRateBps,
		DueAt:      record.DueAt,
		Collateral: amount,
	})
	return nil
}

// RepayLoan accrues interest and applies the payment, interest first. A
// payment that clears the outstanding balance closes the loan and releases
// any locked collateral.
func (e *Engine) RepayLoan(borrower common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.transfers == nil {
		return errNilTransfers
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	stored, err := e.state.GetLoan(borrower)
	if err != nil {
		return err
	}
	if stored == nil || stored.State != StateActive {
		return ErrLoanNotFound
	}

	record := stored.Clone()
	record.EnsureDefaults()
	if err := accrueInterest(record, e.now()); err != nil {
		return err
	}

	balance := record.Balance()
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(balance) > 0 {
		return ErrPaymentFailed
	}

	if err := e.transfers.Transfer(borrower, e.treasury, amount); err != nil {
		return err
	}

	interestPortion := new(big.Int).Set(record.AccruedInterest)
	if interestPortion.Cmp(amount) > 0 {
		interestPortion.Set(amount)
	}
	principalPortion := new(big.Int).Sub(amount, interestPortion)

	record.AccruedInterest = new(big.Int).Sub(record.AccruedInterest, interestPortion)
	record.OutstandingBalance = new(big.Int).Sub(record.OutstandingBalance, principalPortion)
	record.PaymentCount++
	record.TotalPayments = new(big.Int).Add(record.TotalPayments, amount)

	repaid := record.OutstandingBalance.Sign() == 0 && record.AccruedInterest.Sign() == 0
	if repaid {
		record.State = StateRepaid
		if record.Type == TypeCollateralized && record.CollateralLocked.Sign() > 0 {
			if e.custodian == nil {
				return errNilCustodian
			}
			if err := e.custodian.Unlock(borrower); err != nil {
				return err
			}
			record.CollateralLocked = big.NewInt(0)
		}
	}

	if err := e.state.PutLoan(record); err != nil {
		return err
	}

	stats, err := e.loadStats()
	if err != nil {
		return err
	}
	stats.TotalRepaid = nativecommon.SaturatingAddBig(stats.TotalRepaid, amount)
	if repaid {
		stats.ActiveLoans = nativecommon.SaturatingSub(stats.ActiveLoans, 1)
	}
	if err := e.state.PutLoanStats(stats); err != nil {
		return err
	}

	e.emit(RepaymentEvent{
		Borrower:         borrower,
		Amount:           amount,
		InterestPortion:  interestPortion,
		PrincipalPortion: principalPortion,
		Remaining:        record.Balance(),
	})
	if repaid {
		e.emit(RepaidEvent{Borrower: borrower, TotalPayments: record.TotalPayments, RepaidAt: e.now()})
	}
	return nil
}

// Liquidate closes an overdue active loan. Collateralized loans seize the
// locked position through the custodian; a custodian rejection aborts the
// whole operation and the loan stays active.
func (e *Engine) Liquidate(caller, borrower common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	stored, err := e.state.GetLoan(borrower)
	if err != nil {
		return err
	}
	if stored == nil || stored.State != StateActive {
		return ErrLoanNotFound
	}
	now := e.now()
	if now < stored.DueAt {
		return ErrLoanNotFound
	}

	record := stored.Clone()
	record.EnsureDefaults()
	if err := accrueInterest(record, now); err != nil {
		return err
	}

	if record.Type == TypeCollateralized && record.CollateralLocked.Sign() > 0 {
		if e.custodian == nil {
			return errNilCustodian
		}
		if err := e.custodian.Seize(caller, borrower); err != nil {
			return err
		}
		record.CollateralLocked = big.NewInt(0)
	}

	record.State = StateLiquidated
	if err := e.state.PutLoan(record); err != nil {
		return err
	}

	stats, err := e.loadStats()
	if err != nil {
		return err
	}
	stats.ActiveLoans = nativecommon.SaturatingSub(stats.ActiveLoans, 1)
	stats.TotalLiquidations = nativecommon.SaturatingAdd(stats.TotalLiquidations, 1)
	if err := e.state.PutLoanStats(stats); err != nil {
		return err
	}

	e.emit(LiquidatedEvent{
		Borrower:     borrower,
		Liquidator:   caller,
		Balance:      record.Balance(),
		LiquidatedAt: now,
	})
	return nil
}

// GetLoanStatus returns the loan for the borrower. Active loans are accrued to
// now and the refreshed record is persisted.
func (e *Engine) GetLoanStatus(borrower common.Address) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.state.GetLoan(borrower)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrLoanNotFound
	}
	record.EnsureDefaults()
	if record.State == StateActive {
		if err := accrueInterest(record, e.now()); err != nil {
			return nil, err
		}
		if err := e.state.PutLoan(record); err != nil {
			return nil, err
		}
	}
	return record.Clone(), nil
}

// IsDue reports whether the borrower's loan has passed its due date. Terminal
// and pending loans are never due.
func (e *Engine) IsDue(borrower common.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	record, err := e.state.GetLoan(borrower)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, ErrLoanNotFound
	}
	if record.State != StateActive {
		return false, nil
	}
	return e.now() >= record.DueAt, nil
}

// Stats returns a copy of the lending aggregates.
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

func (e *Engine) addActivationStats(principal *big.Int) error {
	stats, err := e.loadStats()
	if err != nil {
		return err
	}
	stats.TotalLoans = nativecommon.SaturatingAdd(stats.TotalLoans, 1)
	stats.ActiveLoans = nativecommon.SaturatingAdd(stats.ActiveLoans, 1)
	stats.TotalVolume = nativecommon.SaturatingAddBig(stats.TotalVolume, principal)
	return e.state.PutLoanStats(stats)
}

func (e *Engine) loadStats() (*GlobalStats, error) {
	stats, err := e.state.LoanStats()
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = &GlobalStats{}
	}
	stats.EnsureDefaults()
	return stats, nil
}
