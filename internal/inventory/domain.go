package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance summarises stock in a warehouse per product.
type Balance struct {
	WarehouseID int64
	ProductID   int64
	Qty         decimal.Decimal
	Reserved    decimal.Decimal
	AvgCost     decimal.Decimal
	UpdatedAt   time.Time
}

// Available is the quantity that can be consumed: on hand minus reserved, never negative.
func (b Balance) Available() decimal.Decimal {
	available := b.Qty.Sub(b.Reserved)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}
