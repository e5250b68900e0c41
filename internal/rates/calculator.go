package rates

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	crossRateScale = 6

	// the (new-old)/old quotient is rounded at 6 places before scaling to
	// percent, then again at 2; both roundings are part of the contract
	changeRatioScale   = 6
	changePercentScale = 2
)

var hundred = decimal.NewFromInt(100)

// RateTable maps currency codes to rates relative to the provider's pivot
// currency, as returned by one "latest rates" fetch.
type RateTable struct {
	Base      string
	Rates     map[string]decimal.Decimal
	Timestamp time.Time
}

// ComputeCrossRate derives the rate of one ordered pair from pivot-relative
// rates: rate(target) / rate(base), rounded to 6 decimal places half-up.
// When either code is absent from the table, or the base rate is zero, the
// pair's current rate is returned unchanged so a gap in one provider update
// cannot zero out an otherwise valid pair.
func ComputeCrossRate(current decimal.Decimal, base, target string, table RateTable) decimal.Decimal {
	baseRate, baseOK := table.Rates[base]
	targetRate, targetOK := table.Rates[target]
	if !baseOK || !targetOK || baseRate.IsZero() {
		return current
	}
	return targetRate.DivRound(baseRate, crossRateScale)
}

// ChangePercent computes (new-old)/old*100 rounded to 2 decimal places
// half-up. The second return is false when old is zero, in which case the
// change is undefined and no division is attempted.
func ChangePercent(oldRate, newRate decimal.Decimal) (decimal.Decimal, bool) {
	if oldRate.IsZero() {
		return decimal.Decimal{}, false
	}
	return newRate.Sub(oldRate).
		DivRound(oldRate, changeRatioScale).
		Mul(hundred).
		Round(changePercentScale), true
}
