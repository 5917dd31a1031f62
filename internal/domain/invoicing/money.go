package invoicing

import "github.com/shopspring/decimal"

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// Money is rounded half away from zero to cents everywhere; for the
// non-negative amounts an invoice holds this is half-up.
func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func percentOf(base, pct decimal.Decimal) decimal.Decimal {
	return money(base.Mul(pct).Div(hundred))
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
