package manufacturing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-books/internal/numbering"
	"github.com/odyssey-erp/odyssey-books/internal/platform/db"
	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

// Repository provides PostgreSQL persistence for formulas and processes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const processColumns = `id, company_id, formula_id, warehouse_id, doc_number, book_code, ledger_number,
ledger_invoice_count, invoice_number, status, planned_quantity, produced_quantity, completion_percent,
started_at, completed_at, cancelled_at, created_by, created_at, updated_at`

// GetFormula loads a formula with its components.
func (r *Repository) GetFormula(ctx context.Context, id int64) (Formula, error) {
	var f Formula
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, item_id, name, warehouse_id, output_quantity,
labor_cost, operating_cost, overhead_cost, tolerance_percent
FROM manufacturing_formulas WHERE id=$1`, id).Scan(&f.ID, &f.CompanyID, &f.ItemID, &f.Name, &f.WarehouseID,
		&f.OutputQuantity, &f.LaborCost, &f.OperatingCost, &f.OverheadCost, &f.TolerancePercent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Formula{}, ErrFormulaNotFound
		}
		return Formula{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, component_item_id, required_quantity, waste_quantity, unit_cost
FROM formula_components WHERE formula_id=$1 ORDER BY id`, id)
	if err != nil {
		return Formula{}, err
	}
	defer rows.Close()
	for rows.Next() {
		c := BomComponent{ParentItemID: f.ItemID}
		if err := rows.Scan(&c.ID, &c.ComponentItemID, &c.RequiredQuantity, &c.WasteQuantity, &c.UnitCost); err != nil {
			return Formula{}, err
		}
		f.Components = append(f.Components, c)
	}
	return f, rows.Err()
}

// GetProcess loads a process.
func (r *Repository) GetProcess(ctx context.Context, id int64) (Process, error) {
	return scanProcess(r.pool.QueryRow(ctx, `SELECT `+processColumns+` FROM manufacturing_processes WHERE id=$1`, id))
}

// ListConsumptions loads the consumptions of a process in recording order.
func (r *Repository) ListConsumptions(ctx context.Context, processID int64) ([]Consumption, error) {
	return listConsumptions(ctx, r.pool, processID)
}

func listConsumptions(ctx context.Context, q querier, processID int64) ([]Consumption, error) {
	rows, err := q.Query(ctx, `SELECT id, process_id, component_item_id, quantity, waste_quantity, recorded_by, recorded_at
FROM process_consumptions WHERE process_id=$1 ORDER BY id`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Consumption
	for rows.Next() {
		var c Consumption
		if err := rows.Scan(&c.ID, &c.ProcessID, &c.ComponentItemID, &c.Quantity, &c.WasteQuantity, &c.RecordedBy, &c.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanProcess(row pgx.Row) (Process, error) {
	var p Process
	var status string
	err := row.Scan(&p.ID, &p.CompanyID, &p.FormulaID, &p.WarehouseID, &p.DocNumber, &p.BookCode, &p.LedgerNumber,
		&p.LedgerInvoiceCount, &p.InvoiceNumber, &status, &p.PlannedQuantity, &p.ProducedQuantity, &p.CompletionPercent,
		&p.StartedAt, &p.CompletedAt, &p.CancelledAt, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Process{}, ErrProcessNotFound
		}
		return Process{}, err
	}
	p.Status = ProcessStatus(status)
	return p, nil
}

func (t *txRepo) Sequences() numbering.SequenceTx {
	return numbering.NewTxSequences(t.tx)
}

func (t *txRepo) InsertProcess(ctx context.Context, p Process) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO manufacturing_processes (company_id, formula_id, warehouse_id, doc_number,
book_code, ledger_number, ledger_invoice_count, invoice_number, status, planned_quantity, produced_quantity,
completion_percent, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id`,
		p.CompanyID, p.FormulaID, p.WarehouseID, p.DocNumber, p.BookCode, p.LedgerNumber, p.LedgerInvoiceCount,
		p.InvoiceNumber, string(p.Status), p.PlannedQuantity, p.ProducedQuantity, p.CompletionPercent,
		p.CreatedBy, p.CreatedAt, p.UpdatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) GetProcessForUpdate(ctx context.Context, id int64) (Process, error) {
	return scanProcess(t.tx.QueryRow(ctx, `SELECT `+processColumns+` FROM manufacturing_processes WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) UpdateProcess(ctx context.Context, p Process) error {
	tag, err := t.tx.Exec(ctx, `UPDATE manufacturing_processes
SET status=$2, produced_quantity=$3, completion_percent=$4, started_at=$5, completed_at=$6, cancelled_at=$7, updated_at=$8
WHERE id=$1`, p.ID, string(p.Status), p.ProducedQuantity, p.CompletionPercent, p.StartedAt, p.CompletedAt,
		p.CancelledAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProcessNotFound
	}
	return nil
}

func (t *txRepo) InsertConsumption(ctx context.Context, c Consumption) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO process_consumptions (process_id, component_item_id, quantity, waste_quantity, recorded_by, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, c.ProcessID, c.ComponentItemID, c.Quantity, c.WasteQuantity,
		c.RecordedBy, c.RecordedAt).Scan(&id)
	return id, err
}

func (t *txRepo) ConsumedQuantity(ctx context.Context, processID, componentItemID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM process_consumptions
WHERE process_id=$1 AND component_item_id=$2`, processID, componentItemID).Scan(&total)
	return total, err
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.RecordAudit(ctx, t.tx, log)
}
