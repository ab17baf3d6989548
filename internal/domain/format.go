package domain

import "github.com/shopspring/decimal"

// FormatAmount renders amount with a fixed number of decimal places,
// rounding half away from zero.
func FormatAmount(amount float64, places int32) string {
	return decimal.NewFromFloat(amount).StringFixed(places)
}
