package manufacturing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-books/internal/numbering"
	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	GetFormula(ctx context.Context, id int64) (Formula, error)
	GetProcess(ctx context.Context, id int64) (Process, error)
	ListConsumptions(ctx context.Context, processID int64) ([]Consumption, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the transactional operations used by the service.
type TxRepository interface {
	Sequences() numbering.SequenceTx
	InsertProcess(ctx context.Context, p Process) (int64, error)
	GetProcessForUpdate(ctx context.Context, id int64) (Process, error)
	UpdateProcess(ctx context.Context, p Process) error
	InsertConsumption(ctx context.Context, c Consumption) (int64, error)
	ConsumedQuantity(ctx context.Context, processID, componentItemID int64) (decimal.Decimal, error)
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// StockReader reads available quantities per product in a warehouse.
type StockReader interface {
	AvailableMany(ctx context.Context, warehouseID int64, productIDs []int64) (map[int64]decimal.Decimal, error)
}

// NumberAllocator issues process numbers inside the caller's transaction.
type NumberAllocator interface {
	Lock(ctx context.Context, companyID int64, docType numbering.DocumentType) (func(), error)
	AllocateTx(ctx context.Context, tx numbering.SequenceTx, companyID int64, docType numbering.DocumentType) (numbering.Numbering, error)
}

// Recorder receives transition events for metrics.
type Recorder interface {
	RecordProcessTransition(state string)
}

// Service implements availability, costing and the process workflow.
type Service struct {
	repo      RepositoryPort
	stock     StockReader
	numbers   NumberAllocator
	recorder  Recorder
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewService constructs the manufacturing service. recorder and logger are optional.
func NewService(repo RepositoryPort, stock StockReader, numbers NumberAllocator, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		stock:     stock,
		numbers:   numbers,
		recorder:  recorder,
		logger:    logger,
		validator: validator.New(),
		now:       time.Now,
	}
}

// CheckAvailability compares a formula's components with warehouse stock.
func (s *Service) CheckAvailability(ctx context.Context, formulaID int64) (Availability, error) {
	formula, err := s.loadFormula(ctx, formulaID)
	if err != nil {
		return Availability{}, err
	}
	return s.availability(ctx, formula, formula.WarehouseID, formula.Components)
}

// CalculateCost rolls up the standard cost of one formula batch.
func (s *Service) CalculateCost(ctx context.Context, formulaID int64) (CostBreakdown, error) {
	formula, err := s.loadFormula(ctx, formulaID)
	if err != nil {
		return CostBreakdown{}, err
	}
	return RollupCost(formula.Components, formula.LaborCost, formula.OperatingCost, formula.OverheadCost, formula.OutputQuantity), nil
}

// ProcessCost rolls up a process using its recorded consumptions and produced quantity. A component
// with recorded consumptions is costed on its recorded waste; one without keeps the planned waste.
func (s *Service) ProcessCost(ctx context.Context, processID int64) (CostBreakdown, error) {
	process, err := s.repo.GetProcess(ctx, processID)
	if err != nil {
		return CostBreakdown{}, err
	}
	formula, err := s.loadFormula(ctx, process.FormulaID)
	if err != nil {
		return CostBreakdown{}, err
	}
	consumptions, err := s.repo.ListConsumptions(ctx, processID)
	if err != nil {
		return CostBreakdown{}, err
	}
	components := ScaleComponents(formula.Components, formula.OutputQuantity, process.PlannedQuantity)
	index := make(map[int64]int, len(components))
	for i, c := range components {
		index[c.ComponentItemID] = i
		components[i].ConsumedQuantity = decimal.Zero
	}
	recorded := make(map[int64]bool, len(components))
	for _, c := range consumptions {
		i, ok := index[c.ComponentItemID]
		if !ok {
			continue
		}
		if !recorded[c.ComponentItemID] {
			recorded[c.ComponentItemID] = true
			components[i].WasteQuantity = decimal.Zero
		}
		components[i].ConsumedQuantity = components[i].ConsumedQuantity.Add(c.Quantity)
		components[i].WasteQuantity = components[i].WasteQuantity.Add(c.WasteQuantity)
	}
	return RollupCost(components, formula.LaborCost, formula.OperatingCost, formula.OverheadCost, process.ProducedQuantity), nil
}

// GetProcess loads a process.
func (s *Service) GetProcess(ctx context.Context, id int64) (Process, error) {
	return s.repo.GetProcess(ctx, id)
}

// CreateProcess opens a draft process numbered in the manufacturing sequence.
func (s *Service) CreateProcess(ctx context.Context, input CreateProcessInput) (Process, error) {
	if err := s.validator.Struct(input); err != nil {
		return Process{}, err
	}
	formula, err := s.loadFormula(ctx, input.FormulaID)
	if err != nil {
		return Process{}, err
	}
	if formula.CompanyID != input.CompanyID {
		return Process{}, ErrFormulaNotFound
	}
	planned := input.PlannedQuantity
	if !planned.IsPositive() {
		planned = formula.OutputQuantity
	}
	warehouseID := input.WarehouseID
	if warehouseID == 0 {
		warehouseID = formula.WarehouseID
	}

	unlock, err := s.numbers.Lock(ctx, input.CompanyID, numbering.TypeManufacturing)
	if err != nil {
		return Process{}, err
	}
	defer unlock()

	var process Process
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := s.numbers.AllocateTx(ctx, tx.Sequences(), input.CompanyID, numbering.TypeManufacturing)
		if err != nil {
			return err
		}
		now := s.now()
		process = Process{
			CompanyID:          input.CompanyID,
			FormulaID:          formula.ID,
			WarehouseID:        warehouseID,
			DocNumber:          number.DocNumber,
			BookCode:           number.BookCode,
			LedgerNumber:       number.LedgerNumber,
			LedgerInvoiceCount: number.LedgerInvoiceCount,
			InvoiceNumber:      number.InvoiceNumber,
			Status:             StatusDraft,
			PlannedQuantity:    planned,
			CompletionPercent:  decimal.Zero,
			CreatedBy:          input.ActorID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		id, err := tx.InsertProcess(ctx, process)
		if err != nil {
			return err
		}
		process.ID = id
		return tx.RecordAudit(ctx, processAudit(input.ActorID, "manufacturing.process.create", process, map[string]any{
			"doc_number": process.DocNumber,
			"formula_id": process.FormulaID,
			"planned":    planned.String(),
		}))
	})
	if err != nil {
		return Process{}, err
	}
	s.recordTransition(StatusDraft)
	return process, nil
}

// StartProcess moves a draft process to in_progress once every scaled component is in stock.
func (s *Service) StartProcess(ctx context.Context, processID, actorID int64) (Process, error) {
	current, err := s.repo.GetProcess(ctx, processID)
	if err != nil {
		return Process{}, err
	}
	if !CanTransition(current.Status, StatusInProgress) {
		return Process{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, StatusInProgress)
	}
	formula, err := s.loadFormula(ctx, current.FormulaID)
	if err != nil {
		return Process{}, err
	}
	components := ScaleComponents(formula.Components, formula.OutputQuantity, current.PlannedQuantity)
	availability, err := s.availability(ctx, formula, current.WarehouseID, components)
	if err != nil {
		return Process{}, err
	}
	if !availability.AllAvailable {
		short := []string{}
		for _, c := range availability.Components {
			if !c.IsAvailable {
				short = append(short, fmt.Sprintf("item %d short %s", c.ComponentItemID, c.Shortage.String()))
			}
		}
		return Process{}, fmt.Errorf("%w: %v", ErrMaterialsUnavailable, short)
	}
	return s.transition(ctx, processID, StatusInProgress, actorID, nil)
}

// CompleteProcess finishes an in-progress run. The produced quantity defaults to the plan.
func (s *Service) CompleteProcess(ctx context.Context, input CompleteProcessInput) (Process, error) {
	if input.ProducedQuantity != nil && input.ProducedQuantity.IsNegative() {
		return Process{}, fmt.Errorf("%w: produced quantity must not be negative", shared.ErrValidation)
	}
	return s.transition(ctx, input.ProcessID, StatusCompleted, input.ActorID, func(p *Process) {
		if input.ProducedQuantity != nil {
			p.ProducedQuantity = *input.ProducedQuantity
		} else {
			p.ProducedQuantity = p.PlannedQuantity
		}
	})
}

// CancelProcess cancels a draft or in-progress run.
func (s *Service) CancelProcess(ctx context.Context, processID, actorID int64) (Process, error) {
	return s.transition(ctx, processID, StatusCancelled, actorID, nil)
}

// RecordConsumption books material usage against an in-progress process. The cumulative
// quantity of a component may not exceed its scaled requirement beyond the formula tolerance.
func (s *Service) RecordConsumption(ctx context.Context, input ConsumptionInput) (Consumption, error) {
	if err := s.validator.Struct(input); err != nil {
		return Consumption{}, err
	}
	if !input.Quantity.IsPositive() || input.WasteQuantity.IsNegative() {
		return Consumption{}, fmt.Errorf("%w: quantity must be positive and waste not negative", shared.ErrValidation)
	}

	var consumption Consumption
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		process, err := tx.GetProcessForUpdate(ctx, input.ProcessID)
		if err != nil {
			return err
		}
		if process.Status != StatusInProgress {
			return fmt.Errorf("%w: consumption requires %s, process is %s", ErrInvalidTransition, StatusInProgress, process.Status)
		}
		formula, err := s.loadFormula(ctx, process.FormulaID)
		if err != nil {
			return err
		}
		var component *BomComponent
		for _, c := range ScaleComponents(formula.Components, formula.OutputQuantity, process.PlannedQuantity) {
			if c.ComponentItemID == input.ComponentItemID {
				component = &c
				break
			}
		}
		if component == nil {
			return fmt.Errorf("%w: item %d", ErrUnknownComponent, input.ComponentItemID)
		}
		consumed, err := tx.ConsumedQuantity(ctx, process.ID, input.ComponentItemID)
		if err != nil {
			return err
		}
		cumulative := consumed.Add(input.Quantity)
		if cumulative.GreaterThan(component.RequiredQuantity) && !WithinTolerance(component.RequiredQuantity, cumulative, formula.TolerancePercent) {
			return fmt.Errorf("%w: item %d consumed %s of required %s (tolerance %s%%)", ErrOutsideTolerance,
				input.ComponentItemID, cumulative.String(), component.RequiredQuantity.String(), formula.TolerancePercent.String())
		}
		consumption = Consumption{
			ProcessID:       process.ID,
			ComponentItemID: input.ComponentItemID,
			Quantity:        input.Quantity,
			WasteQuantity:   input.WasteQuantity,
			RecordedBy:      input.ActorID,
			RecordedAt:      s.now(),
		}
		id, err := tx.InsertConsumption(ctx, consumption)
		if err != nil {
			return err
		}
		consumption.ID = id
		return tx.RecordAudit(ctx, processAudit(input.ActorID, "manufacturing.process.consume", process, map[string]any{
			"component_item_id": input.ComponentItemID,
			"quantity":          input.Quantity.String(),
			"waste":             input.WasteQuantity.String(),
		}))
	})
	if err != nil {
		return Consumption{}, err
	}
	return consumption, nil
}

func (s *Service) transition(ctx context.Context, processID int64, to ProcessStatus, actorID int64, mutate func(*Process)) (Process, error) {
	var process Process
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		process, err = tx.GetProcessForUpdate(ctx, processID)
		if err != nil {
			return err
		}
		from := process.Status
		if err := process.Transition(to, s.now()); err != nil {
			return err
		}
		if mutate != nil {
			mutate(&process)
		}
		if err := tx.UpdateProcess(ctx, process); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, processAudit(actorID, "manufacturing.process."+string(to), process, map[string]any{
			"from": string(from),
			"to":   string(to),
		}))
	})
	if err != nil {
		return Process{}, err
	}
	s.recordTransition(to)
	s.logger.Info("manufacturing process transition",
		slog.Int64("process_id", process.ID),
		slog.String("doc_number", process.DocNumber),
		slog.String("status", string(process.Status)))
	return process, nil
}

func (s *Service) availability(ctx context.Context, formula Formula, warehouseID int64, components []BomComponent) (Availability, error) {
	if s.stock == nil {
		return Availability{}, errors.New("manufacturing: stock reader not configured")
	}
	ids := make([]int64, 0, len(components))
	for _, c := range components {
		ids = append(ids, c.ComponentItemID)
	}
	stock, err := s.stock.AvailableMany(ctx, warehouseID, ids)
	if err != nil {
		return Availability{}, err
	}
	_, report, all := CheckComponents(components, stock)
	return Availability{FormulaID: formula.ID, WarehouseID: warehouseID, AllAvailable: all, Components: report}, nil
}

func (s *Service) loadFormula(ctx context.Context, id int64) (Formula, error) {
	formula, err := s.repo.GetFormula(ctx, id)
	if err != nil {
		return Formula{}, err
	}
	if err := formula.ValidateComponents(); err != nil {
		return Formula{}, err
	}
	return formula, nil
}

func (s *Service) recordTransition(status ProcessStatus) {
	if s.recorder != nil {
		s.recorder.RecordProcessTransition(string(status))
	}
}

func processAudit(actorID int64, action string, p Process, meta map[string]any) shared.AuditLog {
	return shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   shared.AuditEntityProcess,
		EntityID: strconv.FormatInt(p.ID, 10),
		Meta:     meta,
	}
}
