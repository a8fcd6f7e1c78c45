package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Earnings and payments are USD amounts with cent precision. Arithmetic goes
// through shopspring/decimal so repeated fee credits (for example many $0.05
// moderation fees) never accumulate float drift.

// FromFloat converts a float dollar amount to a decimal rounded to cents.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

// Parse parses a dollar amount string.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount: %w", err)
	}
	return d.Round(2), nil
}

// FormatUSD renders an amount as "$1.05".
func FormatUSD(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// FormatPercent renders a ratio (0.3333) as "33.33%".
func FormatPercent(ratio float64) string {
	return fmt.Sprintf("%.2f%%", ratio*100)
}
