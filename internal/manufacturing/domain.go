package manufacturing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

// ProcessStatus enumerates manufacturing process states.
type ProcessStatus string

const (
	StatusDraft      ProcessStatus = "draft"
	StatusInProgress ProcessStatus = "in_progress"
	StatusCompleted  ProcessStatus = "completed"
	StatusCancelled  ProcessStatus = "cancelled"
)

var (
	// ErrFormulaNotFound indicates a missing formula.
	ErrFormulaNotFound = fmt.Errorf("%w: manufacturing formula", shared.ErrNotFound)
	// ErrProcessNotFound indicates a missing process.
	ErrProcessNotFound = fmt.Errorf("%w: manufacturing process", shared.ErrNotFound)
	// ErrMaterialsUnavailable is returned when a process cannot start for lack of stock.
	ErrMaterialsUnavailable = fmt.Errorf("%w: materials unavailable", shared.ErrConflict)
	// ErrInvalidTransition is returned for state changes the workflow does not allow.
	ErrInvalidTransition = fmt.Errorf("%w: invalid process transition", shared.ErrConflict)
	// ErrOutsideTolerance is returned when a consumption deviates beyond the formula tolerance.
	ErrOutsideTolerance = fmt.Errorf("%w: consumption outside tolerance", shared.ErrValidation)
	// ErrUnknownComponent is returned for consumptions of items outside the formula.
	ErrUnknownComponent = fmt.Errorf("%w: component not part of formula", shared.ErrValidation)
	// ErrDuplicateComponent is returned for formulas listing a component item on more than one line.
	ErrDuplicateComponent = fmt.Errorf("%w: duplicate formula component", shared.ErrConflict)
)

// Formula is a bill of materials for producing OutputQuantity units of ItemID.
type Formula struct {
	ID               int64
	CompanyID        int64
	ItemID           int64
	Name             string
	WarehouseID      int64
	OutputQuantity   decimal.Decimal
	LaborCost        decimal.Decimal
	OperatingCost    decimal.Decimal
	OverheadCost     decimal.Decimal
	TolerancePercent decimal.Decimal
	Components       []BomComponent
}

// ValidateComponents rejects formulas with more than one line for the same component item.
func (f Formula) ValidateComponents() error {
	seen := make(map[int64]struct{}, len(f.Components))
	for _, c := range f.Components {
		if _, dup := seen[c.ComponentItemID]; dup {
			return fmt.Errorf("%w: formula %d item %d", ErrDuplicateComponent, f.ID, c.ComponentItemID)
		}
		seen[c.ComponentItemID] = struct{}{}
	}
	return nil
}

// BomComponent is one bill-of-materials line.
type BomComponent struct {
	ID                int64           `json:"id"`
	ParentItemID      int64           `json:"parent_item_id"`
	ComponentItemID   int64           `json:"component_item_id"`
	RequiredQuantity  decimal.Decimal `json:"required_quantity"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	ConsumedQuantity  decimal.Decimal `json:"consumed_quantity"`
	WasteQuantity     decimal.Decimal `json:"waste_quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
}

// TotalCost is the planned cost of the line.
func (c BomComponent) TotalCost() decimal.Decimal {
	return c.RequiredQuantity.Mul(c.UnitCost)
}

// Shortage is max(0, required - available).
func (c BomComponent) Shortage() decimal.Decimal {
	return decimal.Max(c.RequiredQuantity.Sub(c.AvailableQuantity), decimal.Zero)
}

// IsAvailable reports whether stock covers the requirement.
func (c BomComponent) IsAvailable() bool {
	return c.AvailableQuantity.GreaterThanOrEqual(c.RequiredQuantity)
}

// ComponentAvailability is the availability report of one component.
type ComponentAvailability struct {
	ComponentItemID int64           `json:"component_item_id"`
	Required        decimal.Decimal `json:"required"`
	Available       decimal.Decimal `json:"available"`
	Shortage        decimal.Decimal `json:"shortage"`
	IsAvailable     bool            `json:"is_available"`
}

// Availability is the availability report of a formula against warehouse stock.
type Availability struct {
	FormulaID    int64                   `json:"formula_id"`
	WarehouseID  int64                   `json:"warehouse_id"`
	AllAvailable bool                    `json:"all_available"`
	Components   []ComponentAvailability `json:"components"`
}

// CostBreakdown is the cost rollup of a formula or process.
type CostBreakdown struct {
	RawMaterialCost    decimal.Decimal `json:"raw_material_cost"`
	WasteCost          decimal.Decimal `json:"waste_cost"`
	ActualMaterialCost decimal.Decimal `json:"actual_material_cost"`
	LaborCost          decimal.Decimal `json:"labor_cost"`
	OperatingCost      decimal.Decimal `json:"operating_cost"`
	OverheadCost       decimal.Decimal `json:"overhead_cost"`
	TotalCost          decimal.Decimal `json:"total_manufacturing_cost"`
	ProducedQuantity   decimal.Decimal `json:"produced_quantity"`
	CostPerUnit        decimal.Decimal `json:"cost_per_unit"`
}

// Process is a production run of a formula.
type Process struct {
	ID                 int64           `json:"id"`
	CompanyID          int64           `json:"company_id"`
	FormulaID          int64           `json:"formula_id"`
	WarehouseID        int64           `json:"warehouse_id"`
	DocNumber          string          `json:"doc_number"`
	BookCode           string          `json:"book_code"`
	LedgerNumber       int             `json:"ledger_number"`
	LedgerInvoiceCount int             `json:"ledger_invoice_count"`
	InvoiceNumber      int64           `json:"invoice_number"`
	Status             ProcessStatus   `json:"status"`
	PlannedQuantity    decimal.Decimal `json:"planned_quantity"`
	ProducedQuantity   decimal.Decimal `json:"produced_quantity"`
	CompletionPercent  decimal.Decimal `json:"completion_percent"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CreatedBy          int64           `json:"created_by"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Consumption records material used by a process.
type Consumption struct {
	ID              int64           `json:"id"`
	ProcessID       int64           `json:"process_id"`
	ComponentItemID int64           `json:"component_item_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	WasteQuantity   decimal.Decimal `json:"waste_quantity"`
	RecordedBy      int64           `json:"recorded_by"`
	RecordedAt      time.Time       `json:"recorded_at"`
}

// CreateProcessInput describes a new production run.
type CreateProcessInput struct {
	CompanyID       int64           `json:"company_id" validate:"required,gt=0"`
	FormulaID       int64           `json:"formula_id" validate:"required,gt=0"`
	WarehouseID     int64           `json:"warehouse_id" validate:"omitempty,gt=0"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
	ActorID         int64           `json:"-"`
}

// CompleteProcessInput finishes a run.
type CompleteProcessInput struct {
	ProcessID        int64            `json:"-"`
	ProducedQuantity *decimal.Decimal `json:"produced_quantity"`
	ActorID          int64            `json:"-"`
}

// ConsumptionInput records material usage.
type ConsumptionInput struct {
	ProcessID       int64           `json:"-"`
	ComponentItemID int64           `json:"component_item_id" validate:"required,gt=0"`
	Quantity        decimal.Decimal `json:"quantity"`
	WasteQuantity   decimal.Decimal `json:"waste_quantity"`
	ActorID         int64           `json:"-"`
}
