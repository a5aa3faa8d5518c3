package loan

import "errors"

var (
	errNilState     = errors.New("loan engine: state not configured")
	errNilTransfers = errors.New("loan engine: transfer service not configured")
	errNilScorer    = errors.New("loan engine: credit scorer not configured")
	errNilCustodian = errors.New("loan engine: collateral custodian not configured")

	// ErrInvalidAmount rejects amounts outside the configured loan range or
	// non-positive inputs.
	ErrInvalidAmount = errors.New("loan engine: invalid amount")
	// ErrLoanAlreadyExists rejects origination while a non-terminal loan is
	// open for the borrower.
	ErrLoanAlreadyExists = errors.New("loan engine: borrower already has an open loan")
	// ErrLoanNotFound covers both a missing record and an operation that is
	// not applicable in the loan's current state.
	ErrLoanNotFound = errors.New("loan engine: no applicable loan")
	// ErrCollateralInsufficient rejects a deposit below the required
	// collateral for the loan.
	ErrCollateralInsufficient = errors.New("loan engine: collateral below requirement")
	// ErrPaymentFailed rejects a repayment amount that is non-positive or
	// exceeds the outstanding balance plus accrued interest.
	ErrPaymentFailed = errors.New("loan engine: payment rejected")
	// ErrCrossContractCall wraps a failure from a synchronous collaborator
	// call made inside the operation.
	ErrCrossContractCall = errors.New("loan engine: cross contract call failed")
	// ErrInterestCalculation signals an arithmetic fault during accrual. The
	// enclosing operation aborts without mutating the stored record.
	ErrInterestCalculation = errors.New("loan engine: interest calculation failed")
)
