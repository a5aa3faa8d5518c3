package loan

import "math/big"

const secondsPerDay = 86_400

var (
	basisPoints   = big.NewInt(10_000)
	interestScale = big.NewInt(1_000_000)
	// rateDivisor is 365 * 10_000, the annualised basis point denominator.
	rateDivisor = big.NewInt(3_650_000)
)

// accrueInterest advances the loan's interest ledger to now. Interest is
// simple interest on the outstanding principal: the daily rate is the annual
// rate in basis points scaled to six decimals, applied per whole elapsed day.
// Partial days do not accrue, but the accrual timestamp still advances so the
// call is idempotent at a fixed clock. Previously accrued interest never bears
// interest on itself.
func accrueInterest(loan *Loan, now int64) error {
	if loan == nil {
		return ErrInterestCalculation
	}
	elapsed := now - loan.LastInterestCalcAt
	if elapsed <= 0 {
		return nil
	}
	days := elapsed / secondsPerDay
	if days > 0 {
		if loan.OutstandingBalance == nil || loan.OutstandingBalance.Sign() < 0 {
			return ErrInterestCalculation
		}
		if rateDivisor.Sign() == 0 || interestScale.Sign() == 0 {
			return ErrInterestCalculation
		}
		dailyRate := new(big.Int).SetUint64(loan.InterestRateBps)
		dailyRate.Mul(dailyRate, interestScale)
		dailyRate.Quo(dailyRate, rateDivisor)

		interest := new(big.Int).Set(loan.OutstandingBalance)
		interest.Mul(interest, dailyRate)
		interest.Mul(interest, big.NewInt(days))
		interest.Quo(interest, interestScale)
		if interest.Sign() < 0 {
			return ErrInterestCalculation
		}
		if loan.AccruedInterest == nil {
			loan.AccruedInterest = big.NewInt(0)
		}
		loan.AccruedInterest = new(big.Int).Add(loan.AccruedInterest, interest)
	}
	loan.LastInterestCalcAt = now
	return nil
}
