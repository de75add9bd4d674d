// Package pricing computes line and document totals. Every function is pure.
package pricing

import "github.com/shopspring/decimal"

// LineItem is the priced input of one document line. Rates are percentages (0-100).
type LineItem struct {
	Quantity       decimal.Decimal
	UnitPrice      decimal.Decimal
	DiscountRate   *decimal.Decimal
	DiscountAmount *decimal.Decimal
	TaxRate        decimal.Decimal
}

// LineTotals holds the derived amounts of a line.
type LineTotals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountRate   decimal.Decimal `json:"discount_rate"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	AfterDiscount  decimal.Decimal `json:"after_discount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
}

// Adjustments are the document-level inputs of a calculation.
type Adjustments struct {
	DiscountPercent *decimal.Decimal
	DiscountAmount  *decimal.Decimal
	// AllowedDiscount is interpreted with InterpretDiscount when no explicit discount is set.
	AllowedDiscount *decimal.Decimal
	TaxPercent      *decimal.Decimal
	ExchangeRate    decimal.Decimal
	CashPaid        decimal.Decimal
	ChecksPaid      decimal.Decimal
}

// DocumentTotals is the full result of a calculation.
type DocumentTotals struct {
	Lines            []LineTotals    `json:"lines"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	ItemDiscount     decimal.Decimal `json:"item_discount"`
	DocumentDiscount decimal.Decimal `json:"document_discount"`
	TotalDiscount    decimal.Decimal `json:"total_discount"`
	ItemTax          decimal.Decimal `json:"item_tax"`
	TotalTax         decimal.Decimal `json:"total_tax"`
	TotalWithoutTax  decimal.Decimal `json:"total_without_tax"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	GrandTotal       decimal.Decimal `json:"grand_total"`
	TotalForeign     decimal.Decimal `json:"total_foreign"`
	TotalLocal       decimal.Decimal `json:"total_local"`
	ExchangeRate     decimal.Decimal `json:"exchange_rate"`
	CashPaid         decimal.Decimal `json:"cash_paid"`
	ChecksPaid       decimal.Decimal `json:"checks_paid"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
}

// CalculateLine derives the amounts of a single line. A supplied rate wins over a supplied
// amount; the other one is derived. The discount never exceeds the subtotal.
func CalculateLine(item LineItem) LineTotals {
	subtotal := round2(item.Quantity.Mul(item.UnitPrice))

	var discount, rate decimal.Decimal
	switch {
	case item.DiscountRate != nil:
		discount = clamp(round2(subtotal.Mul(*item.DiscountRate).Div(hundred)), subtotal)
	case item.DiscountAmount != nil:
		discount = clamp(round2(*item.DiscountAmount), subtotal)
	}
	if subtotal.IsPositive() {
		rate = round2(discount.Mul(hundred).Div(subtotal))
	}
	if item.DiscountRate != nil && subtotal.IsPositive() && discount.LessThan(subtotal) {
		rate = *item.DiscountRate
	}

	after := subtotal.Sub(discount)
	tax := round2(after.Mul(item.TaxRate).Div(hundred))
	return LineTotals{
		Subtotal:       subtotal,
		DiscountRate:   rate,
		DiscountAmount: discount,
		AfterDiscount:  after,
		TaxAmount:      tax,
		Total:          after.Add(tax),
	}
}

// Calculate recomputes document totals from the complete item set. Item discounts apply first,
// then the document discount on what remains, then the document tax on the discounted base.
func Calculate(items []LineItem, adj Adjustments, policy Policy) DocumentTotals {
	policy = policy.normalised()
	totals := DocumentTotals{Lines: make([]LineTotals, 0, len(items))}

	for _, item := range items {
		line := CalculateLine(item)
		totals.Lines = append(totals.Lines, line)
		totals.Subtotal = totals.Subtotal.Add(line.Subtotal)
		totals.ItemDiscount = totals.ItemDiscount.Add(line.DiscountAmount)
		totals.ItemTax = totals.ItemTax.Add(line.TaxAmount)
	}

	base := totals.Subtotal.Sub(totals.ItemDiscount)
	totals.DocumentDiscount = documentDiscount(adj).Apply(base)
	totals.TotalDiscount = totals.ItemDiscount.Add(totals.DocumentDiscount)
	totals.TotalWithoutTax = base.Sub(totals.DocumentDiscount)

	totals.TotalTax = totals.ItemTax
	if adj.TaxPercent != nil {
		docTax := round2(totals.TotalWithoutTax.Mul(*adj.TaxPercent).Div(hundred))
		switch policy.Tax {
		case TaxAdditive:
			totals.TotalTax = totals.ItemTax.Add(docTax)
		default:
			totals.TotalTax = docTax
		}
	}

	totals.TotalAmount = totals.TotalWithoutTax.Add(totals.TotalTax)
	totals.GrandTotal = totals.TotalAmount

	rate := adj.ExchangeRate
	if !rate.IsPositive() {
		rate = decimal.NewFromInt(1)
	}
	totals.ExchangeRate = rate
	totals.TotalForeign = totals.TotalAmount
	totals.TotalLocal = round2(totals.TotalAmount.Mul(rate))

	totals.CashPaid = adj.CashPaid
	totals.ChecksPaid = adj.ChecksPaid
	totals.RemainingBalance = RemainingBalance(totals.TotalAmount, adj.CashPaid, adj.ChecksPaid, policy.Balance)
	return totals
}

// RemainingBalance returns total minus payments under the balance policy.
func RemainingBalance(total, cash, checks decimal.Decimal, mode BalanceMode) decimal.Decimal {
	remaining := total.Sub(cash).Sub(checks)
	if mode != BalanceAllowNegative && remaining.IsNegative() {
		return zero
	}
	return remaining
}

// documentDiscount resolves which document discount applies. Explicit values take precedence over
// the allowed-discount heuristic.
func documentDiscount(adj Adjustments) Discount {
	switch {
	case adj.DiscountPercent != nil:
		return Discount{Kind: DiscountPercent, Value: *adj.DiscountPercent}
	case adj.DiscountAmount != nil:
		return Discount{Kind: DiscountAmount, Value: *adj.DiscountAmount}
	case adj.AllowedDiscount != nil:
		return InterpretDiscount(*adj.AllowedDiscount)
	default:
		return Discount{}
	}
}
