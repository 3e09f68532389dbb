package money

import (
	"github.com/shopspring/decimal"
)

// Amounts are integer pence throughout the codebase.

var hundred = decimal.NewFromInt(100)

// Percent returns round(amount × pct / 100) with halves rounded up.
func Percent(amount, pct int64) int64 {
	if amount <= 0 || pct <= 0 {
		return 0
	}
	v := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(pct)).Div(hundred)
	return v.Round(0).IntPart()
}

// Pounds returns the number of whole pounds in amount.
func Pounds(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	return decimal.New(amount, -2).Floor().IntPart()
}

// Format renders pence as a sterling string, e.g. 5000 -> "£50.00".
func Format(amount int64) string {
	return "£" + decimal.New(amount, -2).StringFixed(2)
}
