package domain

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places every monetary value is rounded to.
const MoneyPlaces = 3

var (
	one = decimal.NewFromInt(1)
	ten = decimal.NewFromInt(10)
)

// RoundMoney rounds half-up (half away from zero) to MoneyPlaces.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// RatePlaces is the finest discount rate precision both stores keep exactly.
const RatePlaces = 5

// ValidDiscountRate reports whether 0 <= rate < 1 with at most RatePlaces decimals.
func ValidDiscountRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThan(one) && rate.Truncate(RatePlaces).Equal(rate)
}

func discounted(amount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(one.Sub(rate))
}
