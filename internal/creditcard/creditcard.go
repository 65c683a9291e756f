// Package creditcard talks to the card network used to settle sales and refunds.
package creditcard

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNotRegistered       = errors.New("credit card not registered")
	ErrInsufficientBalance = errors.New("credit card balance insufficient")
)

// Gateway is the card network seen from the till. UpdateBalance adds delta to
// the card balance and refuses to drive it below zero.
type Gateway interface {
	IsValidNumber(number string) bool
	IsRegistered(ctx context.Context, number string) (bool, error)
	HasEnoughBalance(ctx context.Context, number string, amount decimal.Decimal) (bool, error)
	UpdateBalance(ctx context.Context, number string, delta decimal.Decimal) error
}

// ValidNumber runs the Luhn check over a string of 12 to 19 digits.
func ValidNumber(number string) bool {
	if len(number) < 12 || len(number) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
