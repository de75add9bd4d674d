package manufacturing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CheckComponents fills AvailableQuantity from stock and reports availability. It expects one line
// per component item, see Formula.ValidateComponents. Components missing from stock have zero available.
func CheckComponents(components []BomComponent, stock map[int64]decimal.Decimal) ([]BomComponent, []ComponentAvailability, bool) {
	checked := make([]BomComponent, len(components))
	report := make([]ComponentAvailability, len(components))
	all := true
	for i, c := range components {
		c.AvailableQuantity = stock[c.ComponentItemID]
		checked[i] = c
		report[i] = ComponentAvailability{
			ComponentItemID: c.ComponentItemID,
			Required:        c.RequiredQuantity,
			Available:       c.AvailableQuantity,
			Shortage:        c.Shortage(),
			IsAvailable:     c.IsAvailable(),
		}
		if !c.IsAvailable() {
			all = false
		}
	}
	return checked, report, all
}

// RollupCost sums component and overhead costs. Cost per unit is zero when nothing was produced.
func RollupCost(components []BomComponent, labor, operating, overhead, produced decimal.Decimal) CostBreakdown {
	var raw, waste, actual decimal.Decimal
	for _, c := range components {
		raw = raw.Add(c.TotalCost())
		waste = waste.Add(c.WasteQuantity.Mul(c.UnitCost))
		actual = actual.Add(c.ConsumedQuantity.Mul(c.UnitCost))
	}
	total := raw.Add(labor).Add(operating).Add(overhead).Add(waste)
	perUnit := decimal.Zero
	if produced.IsPositive() {
		perUnit = total.DivRound(produced, 4)
	}
	return CostBreakdown{
		RawMaterialCost:    raw.Round(2),
		WasteCost:          waste.Round(2),
		ActualMaterialCost: actual.Round(2),
		LaborCost:          labor.Round(2),
		OperatingCost:      operating.Round(2),
		OverheadCost:       overhead.Round(2),
		TotalCost:          total.Round(2),
		ProducedQuantity:   produced,
		CostPerUnit:        perUnit,
	}
}

// ScaleComponents multiplies required and waste quantities by planned/output. A non-positive
// output quantity leaves the components unscaled.
func ScaleComponents(components []BomComponent, output, planned decimal.Decimal) []BomComponent {
	scaled := make([]BomComponent, len(components))
	copy(scaled, components)
	if !output.IsPositive() || !planned.IsPositive() || output.Equal(planned) {
		return scaled
	}
	factor := planned.Div(output)
	for i := range scaled {
		scaled[i].RequiredQuantity = scaled[i].RequiredQuantity.Mul(factor)
		scaled[i].WasteQuantity = scaled[i].WasteQuantity.Mul(factor)
	}
	return scaled
}

// WithinTolerance reports whether actual deviates from required by at most pct percent.
// A zero tolerance accepts any quantity.
func WithinTolerance(required, actual, pct decimal.Decimal) bool {
	if !pct.IsPositive() {
		return true
	}
	allowed := required.Abs().Mul(pct).Div(hundred)
	return actual.Sub(required).Abs().LessThanOrEqual(allowed)
}

// CanTransition reports whether the workflow allows from -> to.
func CanTransition(from, to ProcessStatus) bool {
	switch from {
	case StatusDraft:
		return to == StatusInProgress || to == StatusCancelled
	case StatusInProgress:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

// Transition moves p to status to, stamping timestamps. Completion sets 100% and is terminal.
func (p *Process) Transition(to ProcessStatus, now time.Time) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = now
	switch to {
	case StatusInProgress:
		p.StartedAt = &now
	case StatusCompleted:
		p.CompletedAt = &now
		p.CompletionPercent = hundred
	case StatusCancelled:
		p.CancelledAt = &now
	}
	return nil
}
