package pricing

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// DiscountKind distinguishes percentage discounts from absolute amounts.
type DiscountKind int

const (
	DiscountPercent DiscountKind = iota + 1
	DiscountAmount
)

// Discount is a document-level discount with its interpretation made explicit.
type Discount struct {
	Kind  DiscountKind
	Value decimal.Decimal
}

// InterpretDiscount classifies an allowed-discount value by magnitude: values up to and including
// 100 are percentages, larger values are absolute amounts.
func InterpretDiscount(value decimal.Decimal) Discount {
	if value.LessThanOrEqual(hundred) {
		return Discount{Kind: DiscountPercent, Value: value}
	}
	return Discount{Kind: DiscountAmount, Value: value}
}

// Apply returns the discount amount for base, rounded to cents and clamped to [0, base].
func (d Discount) Apply(base decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch d.Kind {
	case DiscountPercent:
		amount = base.Mul(d.Value).Div(hundred)
	case DiscountAmount:
		amount = d.Value
	default:
		return zero
	}
	return clamp(round2(amount), base)
}

// clamp bounds amount to [0, max(base, 0)].
func clamp(amount, base decimal.Decimal) decimal.Decimal {
	ceiling := decimal.Max(base, zero)
	if amount.GreaterThan(ceiling) {
		return ceiling
	}
	if amount.IsNegative() {
		return zero
	}
	return amount
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
