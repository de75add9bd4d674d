package pricing

// TaxMode selects how a document-level tax percentage combines with item tax.
type TaxMode int

const (
	// TaxOverride replaces the item tax sum with the document tax.
	TaxOverride TaxMode = iota + 1
	// TaxAdditive adds the document tax to the item tax sum.
	TaxAdditive
)

// BalanceMode selects how overpayment is reported.
type BalanceMode int

const (
	// BalanceFloorZero never reports a negative remaining balance.
	BalanceFloorZero BalanceMode = iota + 1
	// BalanceAllowNegative reports overpayment as a negative balance (credit).
	BalanceAllowNegative
)

// Policy bundles the per-flow calculation rules.
type Policy struct {
	Tax     TaxMode
	Balance BalanceMode
}

// SalesPolicy is used by quotations, sales invoices, orders, shipments, services and returns.
func SalesPolicy() Policy {
	return Policy{Tax: TaxOverride, Balance: BalanceFloorZero}
}

// PurchasesPolicy is used by purchase invoices and purchase reference invoices.
func PurchasesPolicy() Policy {
	return Policy{Tax: TaxAdditive, Balance: BalanceAllowNegative}
}

func (p Policy) normalised() Policy {
	if p.Tax == 0 {
		p.Tax = TaxOverride
	}
	if p.Balance == 0 {
		p.Balance = BalanceFloorZero
	}
	return p
}
