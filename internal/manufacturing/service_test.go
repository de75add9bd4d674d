package manufacturing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-books/internal/numbering"
	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type memoryRepo struct {
	mu           sync.Mutex
	formulas     map[int64]Formula
	processes    map[int64]Process
	consumptions []Consumption
	sequences    map[string]numbering.State
	audits       []shared.AuditLog
	nextID       int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		formulas:  make(map[int64]Formula),
		processes: make(map[int64]Process),
		sequences: make(map[string]numbering.State),
	}
}

func (r *memoryRepo) GetFormula(ctx context.Context, id int64) (Formula, error) {
	f, ok := r.formulas[id]
	if !ok {
		return Formula{}, ErrFormulaNotFound
	}
	return f, nil
}

func (r *memoryRepo) GetProcess(ctx context.Context, id int64) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[id]
	if !ok {
		return Process{}, ErrProcessNotFound
	}
	return p, nil
}

func (r *memoryRepo) ListConsumptions(ctx context.Context, processID int64) ([]Consumption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Consumption
	for _, c := range r.consumptions {
		if c.ProcessID == processID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	processes := make(map[int64]Process, len(r.processes))
	for k, v := range r.processes {
		processes[k] = v
	}
	consumptions := append([]Consumption(nil), r.consumptions...)
	audits := append([]shared.AuditLog(nil), r.audits...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.processes = processes
		r.consumptions = consumptions
		r.audits = audits
		return err
	}
	return nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) Sequences() numbering.SequenceTx { return &memorySeqTx{repo: t.repo} }

func (t *memoryTx) InsertProcess(ctx context.Context, p Process) (int64, error) {
	t.repo.nextID++
	p.ID = t.repo.nextID
	t.repo.processes[p.ID] = p
	return p.ID, nil
}

func (t *memoryTx) GetProcessForUpdate(ctx context.Context, id int64) (Process, error) {
	p, ok := t.repo.processes[id]
	if !ok {
		return Process{}, ErrProcessNotFound
	}
	return p, nil
}

func (t *memoryTx) UpdateProcess(ctx context.Context, p Process) error {
	t.repo.processes[p.ID] = p
	return nil
}

func (t *memoryTx) InsertConsumption(ctx context.Context, c Consumption) (int64, error) {
	t.repo.nextID++
	c.ID = t.repo.nextID
	t.repo.consumptions = append(t.repo.consumptions, c)
	return c.ID, nil
}

func (t *memoryTx) ConsumedQuantity(ctx context.Context, processID, componentItemID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, c := range t.repo.consumptions {
		if c.ProcessID == processID && c.ComponentItemID == componentItemID {
			total = total.Add(c.Quantity)
		}
	}
	return total, nil
}

func (t *memoryTx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	t.repo.audits = append(t.repo.audits, log)
	return nil
}

type memorySeqTx struct {
	repo *memoryRepo
}

func (s *memorySeqTx) LockSequence(ctx context.Context, companyID int64, docType numbering.DocumentType) (numbering.State, bool, error) {
	state, ok := s.repo.sequences[numbering.LockKey(companyID, docType)]
	if !ok {
		return numbering.State{CompanyID: companyID, Type: docType}, false, nil
	}
	return state, true, nil
}

func (s *memorySeqTx) LatestDocument(ctx context.Context, companyID int64, docType numbering.DocumentType) (numbering.LegacyRecord, bool, error) {
	return numbering.LegacyRecord{}, false, nil
}

func (s *memorySeqTx) SaveSequence(ctx context.Context, state numbering.State) error {
	s.repo.sequences[numbering.LockKey(state.CompanyID, state.Type)] = state
	return nil
}

type stubStock struct {
	levels map[int64]decimal.Decimal
	err    error
}

func (s stubStock) AvailableMany(ctx context.Context, warehouseID int64, productIDs []int64) (map[int64]decimal.Decimal, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[int64]decimal.Decimal, len(productIDs))
	for _, id := range productIDs {
		out[id] = s.levels[id]
	}
	return out, nil
}

type transitionCounter struct {
	states []string
}

func (c *transitionCounter) RecordProcessTransition(state string) {
	c.states = append(c.states, state)
}

func seedFormula(repo *memoryRepo) Formula {
	f := Formula{
		ID:               1,
		CompanyID:        7,
		ItemID:           900,
		Name:             "Widget",
		WarehouseID:      3,
		OutputQuantity:   dec("10"),
		LaborCost:        dec("50"),
		OperatingCost:    dec("20"),
		OverheadCost:     dec("10"),
		TolerancePercent: dec("5"),
		Components: []BomComponent{
			{ID: 1, ParentItemID: 900, ComponentItemID: 101, RequiredQuantity: dec("4"), WasteQuantity: dec("0.5"), UnitCost: dec("12.5")},
			{ID: 2, ParentItemID: 900, ComponentItemID: 102, RequiredQuantity: dec("20"), UnitCost: dec("1.25")},
		},
	}
	repo.formulas[f.ID] = f
	return f
}

func newTestService(repo *memoryRepo, stock StockReader) (*Service, *transitionCounter) {
	allocator := numbering.NewAllocator(nil, nil, nil, nil, numbering.Config{
		Now: func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	counter := &transitionCounter{}
	svc := NewService(repo, stock, allocator, counter, nil)
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc, counter
}

func TestCheckAvailabilityAllAvailableIffEveryComponentCovered(t *testing.T) {
	repo := newMemoryRepo()
	seedFormula(repo)
	ctx := context.Background()

	svc, _ := newTestService(repo, stubStock{levels: map[int64]decimal.Decimal{101: dec("4"), 102: dec("25")}})
	report, err := svc.CheckAvailability(ctx, 1)
	require.NoError(t, err)
	require.True(t, report.AllAvailable)
	require.Len(t, report.Components, 2)
	require.True(t, report.Components[0].Shortage.IsZero())

	svc, _ = newTestService(repo, stubStock{levels: map[int64]decimal.Decimal{101: dec("3.5"), 102: dec("25")}})
	report, err = svc.CheckAvailability(ctx, 1)
	require.NoError(t, err)
	require.False(t, report.AllAvailable)
	require.False(t, report.Components[0].IsAvailable)
	require.Equal(t, "0.5", report.Components[0].Shortage.String())
	require.True(t, report.Components[1].IsAvailable)

	svc, _ = newTestService(repo, stubStock{levels: map[int64]decimal.Decimal{}})
	report, err = svc.CheckAvailability(ctx, 1)
	require.NoError(t, err)
	require.False(t, report.AllAvailable)

	_, err = svc.CheckAvailability(ctx, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCheckAvailabilityPropagatesStockErrors(t *testing.T) {
	repo := newMemoryRepo()
	seedFormula(repo)
	svc, _ := newTestService(repo, stubStock{err: errors.New("stock offline")})

	_, err := svc.CheckAvailability(context.Background(), 1)
	require.ErrorContains(t, err, "stock offline")
}

func TestCalculateCostRollsUpFormula(t *testing.T) {
	repo := newMemoryRepo()
	seedFormula(repo)
	svc, _ := newTestService(repo, stubStock{})

	cost, err := svc.CalculateCost(context.Background(), 1)
	require.NoError(t, err)
	// raw = 4*12.5 + 20*1.25 = 75; waste = 0.5*12.5 = 6.25
	require.Equal(t, "75", cost.RawMaterialCost.String())
	require.Equal(t, "6.25", cost.WasteCost.String())
	require.Equal(t, "161.25", cost.TotalCost.String())
	require.Equal(t, "16.125", cost.CostPerUnit.String())
}

func TestRollupCostPerUnitZeroWhenNothingProduced(t *testing.T) {
	components := []BomComponent{{RequiredQuantity: dec("2"), UnitCost: dec("3")}}
	cost := RollupCost(components, dec("1"), dec("1"), dec("1"), decimal.Zero)
	require.Equal(t, "9", cost.TotalCost.String())
	require.True(t, cost.CostPerUnit.IsZero())
}

func TestWithinTolerance(t *testing.T) {
	require.True(t, WithinTolerance(dec("100"), dec("105"), dec("5")))
	require.True(t, WithinTolerance(dec("100"), dec("95"), dec("5")))
	require.False(t, WithinTolerance(dec("100"), dec("105.01"), dec("5")))
	require.True(t, WithinTolerance(dec("100"), dec("500"), decimal.Zero))
}

func TestScaleComponents(t *testing.T) {
	components := []BomComponent{{ComponentItemID: 1, RequiredQuantity: dec("4"), WasteQuantity: dec("1")}}
	scaled := ScaleComponents(components, dec("10"), dec("25"))
	require.Equal(t, "10", scaled[0].RequiredQuantity.String())
	require.Equal(t, "2.5", scaled[0].WasteQuantity.String())
	require.Equal(t, "4", components[0].RequiredQuantity.String())

	unscaled := ScaleComponents(components, decimal.Zero, dec("25"))
	require.Equal(t, "4", unscaled[0].RequiredQuantity.String())
}

func TestProcessLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	seedFormula(repo)
	svc, counter := newTestService(repo, stubStock{levels: map[int64]decimal.Decimal{101: dec("100"), 102: dec("100")}})
	ctx := context.Background()

	process, err := svc.CreateProcess(ctx, CreateProcessInput{CompanyID: 7, FormulaID: 1, ActorID: 5})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, process.Status)
	require.Equal(t, "MF-000001", process.DocNumber)
	require.Equal(t, "MF-BOOK-001", process.BookCode)
	require.Equal(t, int64(3), process.WarehouseID)
	require.Equal(t, "10", process.PlannedQuantity.String())

	second, err := svc.CreateProcess(ctx, CreateProcessInput{CompanyID: 7, FormulaID: 1, PlannedQuantity: dec("20")})
	require.NoError(t, err)
	require.Equal(t, "MF-000002", second.DocNumber)

	_, err = svc.CompleteProcess(ctx, CompleteProcessInput{ProcessID: process.ID})
	require.ErrorIs(t, err, ErrInvalidTransition)

	started, err := svc.StartProcess(ctx, process.ID, 5)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, started.Status)
	require.NotNil(t, started.StartedAt)

	produced := dec("9")
	completed, err := svc.CompleteProcess(ctx, CompleteProcessInput{ProcessID: process.ID, ProducedQuantity: &produced})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.Equal(t, "100", completed.CompletionPercent.String())
	require.Equal(t, "9", completed.ProducedQuantity.String())
	require.NotNil(t, completed.CompletedAt)

	_, err = svc.CancelProcess(ctx, process.ID, 5)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, err, shared.ErrConflict)

	cancelled, err := svc.CancelProcess(ctx, second.ID, 5)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	_, err = svc.StartProcess(ctx, second.ID, 5)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.Equal(t, []string{"draft", "draft", "in_progress", "completed", "cancelled"}, counter.states)
	require.NotEmpty(t, repo.audits)
	require.Equal(t, shared.AuditEntityProcess, repo.audits[0].Entity)
}

func TestStartProcessRequiresScaledMaterials(t *testing.T) {
	repo := newMemoryRepo()
	seedFormula(repo)
	// Enough for one batch of 10, not for 20.
	svc, _ := newTestService(repo, stubStock{levels: map[int64]decimal.Decimal{101: dec("5"), 102: dec("30")}})
	ctx := context.Background()

	process, err := svc.CreateProcess(ctx, CreateProcessInput{CompanyID: 7, FormulaID: 1, PlannedQuantity: dec("20")})
	require.NoError(t, err)

	_, err = svc.StartProcess(ctx, process.ID, 1)
	require.ErrorIs(t, err, ErrMaterialsUnavailable)

	stored, err := svc.GetProcess(ctx, process.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
}

func TestCreateProcessValidatesInput(t *testing.T) {
	repo := newMemoryRepo()
	seedFormula(repo)
	svc, _ := newTestService(repo, stubStock{})
	ctx := context.Background()

	_, err := svc.CreateProcess(ctx, CreateProcessInput{FormulaID: 1})
	require.Error(t, err)

	_, err = svc.CreateProcess(ctx, CreateProcessInput{CompanyID: 8, FormulaID: 1})
	require.ErrorIs(t, err, ErrFormulaNotFound)
	require.Empty(t, repo.sequences)
}

func TestRecordConsumptionEnforcesTolerance(t *testing.T) {
	repo := newMemoryRepo()
	seedFormula(repo)
	svc, _ := newTestService(repo, stubStock{levels: map[int64]decimal.Decimal{101: dec("100"), 102: dec("100")}})
	ctx := context.Background()

	process, err := svc.CreateProcess(ctx, CreateProcessInput{CompanyID: 7, FormulaID: 1})
	require.NoError(t, err)

	_, err = svc.RecordConsumption(ctx, ConsumptionInput{ProcessID: process.ID, ComponentItemID: 101, Quantity: dec("1")})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.StartProcess(ctx, process.ID, 1)
	require.NoError(t, err)

	_, err = svc.RecordConsumption(ctx, ConsumptionInput{ProcessID: process.ID, ComponentItemID: 101, Quantity: dec("3")})
	require.NoError(t, err)
	// 3 + 1.2 = 4.2 is exactly 5% over the required 4.
	_, err = svc.RecordConsumption(ctx, ConsumptionInput{ProcessID: process.ID, ComponentItemID: 101, Quantity: dec("1.2"), WasteQuantity: dec("0.2")})
	require.NoError(t, err)
	_, err = svc.RecordConsumption(ctx, ConsumptionInput{ProcessID: process.ID, ComponentItemID: 101, Quantity: dec("0.1")})
	require.ErrorIs(t, err, ErrOutsideTolerance)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordConsumption(ctx, ConsumptionInput{ProcessID: process.ID, ComponentItemID: 555, Quantity: dec("1")})
	require.ErrorIs(t, err, ErrUnknownComponent)

	_, err = svc.RecordConsumption(ctx, ConsumptionInput{ProcessID: process.ID, ComponentItemID: 102, Quantity: dec("-1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	consumptions, err := repo.ListConsumptions(ctx, process.ID)
	require.NoError(t, err)
	require.Len(t, consumptions, 2)

	produced := dec("10")
	_, err = svc.CompleteProcess(ctx, CompleteProcessInput{ProcessID: process.ID, ProducedQuantity: &produced})
	require.NoError(t, err)

	cost, err := svc.ProcessCost(ctx, process.ID)
	require.NoError(t, err)
	// actual = 4.2 * 12.5; recorded waste 0.2 * 12.5 replaces the planned 0.5
	require.Equal(t, "52.5", cost.ActualMaterialCost.String())
	require.Equal(t, "2.5", cost.WasteCost.String())
	require.Equal(t, "10", cost.ProducedQuantity.String())
}

func TestProcessCostKeepsPlannedWasteWithoutConsumption(t *testing.T) {
	repo := newMemoryRepo()
	seedFormula(repo)
	stock := stubStock{levels: map[int64]decimal.Decimal{101: dec("10"), 102: dec("30")}}
	svc, _ := newTestService(repo, stock)
	ctx := context.Background()

	process, err := svc.CreateProcess(ctx, CreateProcessInput{CompanyID: 7, FormulaID: 1, ActorID: 1})
	require.NoError(t, err)
	_, err = svc.StartProcess(ctx, process.ID, 1)
	require.NoError(t, err)
	_, err = svc.RecordConsumption(ctx, ConsumptionInput{ProcessID: process.ID, ComponentItemID: 102, Quantity: dec("20"), WasteQuantity: dec("2")})
	require.NoError(t, err)

	cost, err := svc.ProcessCost(ctx, process.ID)
	require.NoError(t, err)
	// 101 keeps its planned 0.5 * 12.5; 102 has recorded 2 * 1.25
	require.Equal(t, "8.75", cost.WasteCost.String())
}

func TestDuplicateComponentLinesAreRejected(t *testing.T) {
	repo := newMemoryRepo()
	f := seedFormula(repo)
	f.Components = append(f.Components, BomComponent{ID: 3, ParentItemID: 900, ComponentItemID: 101, RequiredQuantity: dec("4"), UnitCost: dec("12.5")})
	repo.formulas[f.ID] = f
	// 6 covers each 101 line alone but not the combined 8.
	stock := stubStock{levels: map[int64]decimal.Decimal{101: dec("6"), 102: dec("30")}}
	svc, _ := newTestService(repo, stock)
	ctx := context.Background()

	_, err := svc.CheckAvailability(ctx, f.ID)
	require.ErrorIs(t, err, ErrDuplicateComponent)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.CalculateCost(ctx, f.ID)
	require.ErrorIs(t, err, ErrDuplicateComponent)

	_, err = svc.CreateProcess(ctx, CreateProcessInput{CompanyID: 7, FormulaID: f.ID, ActorID: 1})
	require.ErrorIs(t, err, ErrDuplicateComponent)
}
