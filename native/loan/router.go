package loan

import "math/big"

// Credit score tier boundaries for routing a loan request.
const (
	unsecuredScoreMinimum    = 70
	collateralScoreMinimum   = 50
	topTierScoreMinimum      = 80
	midTierScoreMinimum      = 60
	topTierDiscountBps       = 100
	upperTierDiscountBps     = 50
	lowerTierSurchargeBps    = 100
	subprimeSurchargeBps     = 200
	collateralizedDiscountBps = 50
)

// Disposition is the routing outcome of a loan request: which product the
// borrower qualifies for and under which terms.
type Disposition struct {
	Type               LoanType
	State              LoanState
	RateBps            uint64
	TermDays           uint64
	RequiredCollateral *big.Int
}

// route maps a credit score and requested amount to a loan disposition. Scores
// of seventy and above qualify unsecured, fifty to sixty-nine require
// collateral at the configured ratio, everything below is rejected outright.
func route(score uint8, amount *big.Int, params Params) Disposition {
	switch {
	case score >= unsecuredScoreMinimum:
		return Disposition{
			Type:               TypeUnsecured,
			State:              StateActive,
			RateBps:            riskAdjustedRate(score, false, params.BaseRateBps),
			TermDays:           params.UnsecuredTermDays,
			RequiredCollateral: big.NewInt(0),
		}
	case score >= collateralScoreMinimum:
		required := new(big.Int).Mul(amount, new(big.Int).SetUint64(params.CollateralRatioBps))
		required.Quo(required, basisPoints)
		return Disposition{
			Type:               TypeCollateralized,
			State:              StateCollateralRequired,
			RateBps:            riskAdjustedRate(score, true, params.BaseRateBps),
			TermDays:           params.CollateralizedTermDays,
			RequiredCollateral: required,
		}
	default:
		return Disposition{
			Type:               TypeUnsecured,
			State:              StateRejected,
			RequiredCollateral: big.NewInt(0),
		}
	}
}

// riskAdjustedRate derives the interest rate from the base rate via score band
// adjustments plus a collateral discount. The rate saturates at zero.
func riskAdjustedRate(score uint8, collateralized bool, baseRateBps uint64) uint64 {
	rate := baseRateBps
	switch {
	case score >= topTierScoreMinimum:
		rate = saturatingSubRate(rate, topTierDiscountBps)
	case score >= unsecuredScoreMinimum:
		rate = saturatingSubRate(rate, upperTierDiscountBps)
	case score >= midTierScoreMinimum:
		// No adjustment for the middle band.
	case score >= collateralScoreMinimum:
		rate += lowerTierSurchargeBps
	default:
		rate += subprimeSurchargeBps
	}
	if collateralized {
		rate = saturatingSubRate(rate, collateralizedDiscountBps)
	}
	return rate
}

func saturatingSubRate(rate, discount uint64) uint64 {
	if discount > rate {
		return 0
	}
	return rate - discount
}
