package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-books/internal/numbering"
	"github.com/odyssey-erp/odyssey-books/internal/platform/db"
	"github.com/odyssey-erp/odyssey-books/internal/pricing"
	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

// Repository provides PostgreSQL persistence for documents.
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

// WithTx wraps fn in a repeatable-read transaction, retried on serialization failures.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const documentColumns = `id, reference, company_id, doc_type, doc_number, book_code, ledger_number, ledger_invoice_count,
invoice_number, status, COALESCE(party_id, 0), currency, exchange_rate, rate_source, discount_percent, discount_amount,
allowed_discount, tax_percent, cash_paid, checks_paid, subtotal, item_discount, document_discount, total_discount,
item_tax, total_tax, total_without_tax, total_amount, total_local, remaining_balance, notes, created_by, created_at,
updated_at, deleted_at`

// Get loads a document with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Document, error) {
	return getDocument(ctx, r.pool, id, false)
}

// List loads one page of document headers. Items are not loaded.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Document, int, error) {
	where := []string{"company_id = $1"}
	args := []any{filter.CompanyID}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("doc_type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM documents WHERE %s
ORDER BY invoice_number DESC, id DESC LIMIT $%d OFFSET $%d`, documentColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

func getDocument(ctx context.Context, q querier, id int64, forUpdate bool) (Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	doc, err := scanDocument(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, err
	}
	doc.Items, err = listItems(ctx, q, id)
	if err != nil {
		return Document{}, err
	}
	doc.Totals.Lines = make([]pricing.LineTotals, 0, len(doc.Items))
	for _, item := range doc.Items {
		doc.Totals.Lines = append(doc.Totals.Lines, item.Totals)
	}
	return doc, nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var (
		doc                                    Document
		docType, status                        string
		discountPct, discountAmt, allowed, tax decimal.NullDecimal
	)
	t := &doc.Totals
	err := row.Scan(&doc.ID, &doc.Reference, &doc.CompanyID, &docType, &doc.DocNumber, &doc.BookCode, &doc.LedgerNumber,
		&doc.LedgerInvoiceCount, &doc.InvoiceNumber, &status, &doc.PartyID, &doc.Currency, &doc.Adjustments.ExchangeRate,
		&doc.RateSource, &discountPct, &discountAmt, &allowed, &tax, &doc.Adjustments.CashPaid, &doc.Adjustments.ChecksPaid,
		&t.Subtotal, &t.ItemDiscount, &t.DocumentDiscount, &t.TotalDiscount, &t.ItemTax, &t.TotalTax, &t.TotalWithoutTax,
		&t.TotalAmount, &t.TotalLocal, &t.RemainingBalance, &doc.Notes, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt,
		&doc.DeletedAt)
	if err != nil {
		return Document{}, err
	}
	doc.Type = numbering.DocumentType(docType)
	doc.Status = Status(status)
	doc.Adjustments.DiscountPercent = fromNull(discountPct)
	doc.Adjustments.DiscountAmount = fromNull(discountAmt)
	doc.Adjustments.AllowedDiscount = fromNull(allowed)
	doc.Adjustments.TaxPercent = fromNull(tax)
	t.GrandTotal = t.TotalAmount
	t.TotalForeign = t.TotalAmount
	t.ExchangeRate = doc.Adjustments.ExchangeRate
	t.CashPaid = doc.Adjustments.CashPaid
	t.ChecksPaid = doc.Adjustments.ChecksPaid
	return doc, nil
}

func listItems(ctx context.Context, q querier, documentID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, document_id, line_no, COALESCE(product_id, 0), description, quantity, unit_price,
discount_rate, discount_amount, tax_rate, subtotal, line_discount_rate, line_discount_amount, after_discount, tax_amount, total
FROM document_items WHERE document_id=$1 ORDER BY line_no, id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var (
			item       Item
			rate, amnt decimal.NullDecimal
		)
		lt := &item.Totals
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.LineNo, &item.ProductID, &item.Description, &item.Quantity,
			&item.UnitPrice, &rate, &amnt, &item.TaxRate, &lt.Subtotal, &lt.DiscountRate, &lt.DiscountAmount,
			&lt.AfterDiscount, &lt.TaxAmount, &lt.Total); err != nil {
			return nil, err
		}
		item.DiscountRate = fromNull(rate)
		item.DiscountAmount = fromNull(amnt)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (t *txRepo) Sequences() numbering.SequenceTx {
	return numbering.NewTxSequences(t.tx)
}

func (t *txRepo) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	return shared.ClaimIdempotencyKey(ctx, t.tx, key, module)
}

func (t *txRepo) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	adj, tot := doc.Adjustments, doc.Totals
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO documents (reference, company_id, doc_type, doc_number, book_code, ledger_number,
ledger_invoice_count, invoice_number, status, party_id, currency, exchange_rate, rate_source, discount_percent,
discount_amount, allowed_discount, tax_percent, cash_paid, checks_paid, subtotal, item_discount, document_discount,
total_discount, item_tax, total_tax, total_without_tax, total_amount, total_local, remaining_balance, notes, created_by,
created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,0),$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,
$29,$30,$31,$32,$33) RETURNING id`,
		doc.Reference, doc.CompanyID, string(doc.Type), doc.DocNumber, doc.BookCode, doc.LedgerNumber,
		doc.LedgerInvoiceCount, doc.InvoiceNumber, string(doc.Status), doc.PartyID, doc.Currency, adj.ExchangeRate,
		doc.RateSource, toNull(adj.DiscountPercent), toNull(adj.DiscountAmount), toNull(adj.AllowedDiscount),
		toNull(adj.TaxPercent), adj.CashPaid, adj.ChecksPaid, tot.Subtotal, tot.ItemDiscount, tot.DocumentDiscount,
		tot.TotalDiscount, tot.ItemTax, tot.TotalTax, tot.TotalWithoutTax, tot.TotalAmount, tot.TotalLocal,
		tot.RemainingBalance, doc.Notes, doc.CreatedBy, doc.CreatedAt, doc.UpdatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Document, error) {
	return getDocument(ctx, t.tx, id, true)
}

// UpdateDocument writes the mutable header columns. Numbering columns are never updated.
func (t *txRepo) UpdateDocument(ctx context.Context, doc Document) error {
	adj, tot := doc.Adjustments, doc.Totals
	tag, err := t.tx.Exec(ctx, `UPDATE documents SET status=$2, discount_percent=$3, discount_amount=$4, allowed_discount=$5,
tax_percent=$6, cash_paid=$7, checks_paid=$8, subtotal=$9, item_discount=$10, document_discount=$11, total_discount=$12,
item_tax=$13, total_tax=$14, total_without_tax=$15, total_amount=$16, total_local=$17, remaining_balance=$18,
updated_at=$19, deleted_at=$20
WHERE id=$1`, doc.ID, string(doc.Status), toNull(adj.DiscountPercent), toNull(adj.DiscountAmount),
		toNull(adj.AllowedDiscount), toNull(adj.TaxPercent), adj.CashPaid, adj.ChecksPaid, tot.Subtotal, tot.ItemDiscount,
		tot.DocumentDiscount, tot.TotalDiscount, tot.ItemTax, tot.TotalTax, tot.TotalWithoutTax, tot.TotalAmount,
		tot.TotalLocal, tot.RemainingBalance, doc.UpdatedAt, doc.DeletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (t *txRepo) SaveItems(ctx context.Context, documentID int64, items []Item) error {
	keep := make([]int64, 0, len(items))
	for _, item := range items {
		if item.ID != 0 {
			keep = append(keep, item.ID)
		}
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM document_items WHERE document_id=$1 AND NOT (id = ANY($2))`, documentID, keep); err != nil {
		return err
	}
	for i := range items {
		item := &items[i]
		lt := item.Totals
		if item.ID == 0 {
			err := t.tx.QueryRow(ctx, `INSERT INTO document_items (document_id, line_no, product_id, description, quantity,
unit_price, discount_rate, discount_amount, tax_rate, subtotal, line_discount_rate, line_discount_amount, after_discount,
tax_amount, total)
VALUES ($1,$2,NULLIF($3,0),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id`,
				documentID, item.LineNo, item.ProductID, item.Description, item.Quantity, item.UnitPrice,
				toNull(item.DiscountRate), toNull(item.DiscountAmount), item.TaxRate, lt.Subtotal, lt.DiscountRate,
				lt.DiscountAmount, lt.AfterDiscount, lt.TaxAmount, lt.Total).Scan(&item.ID)
			if err != nil {
				return err
			}
			item.DocumentID = documentID
			continue
		}
		tag, err := t.tx.Exec(ctx, `UPDATE document_items SET line_no=$3, product_id=NULLIF($4,0), description=$5, quantity=$6,
unit_price=$7, discount_rate=$8, discount_amount=$9, tax_rate=$10, subtotal=$11, line_discount_rate=$12,
line_discount_amount=$13, after_discount=$14, tax_amount=$15, total=$16
WHERE id=$1 AND document_id=$2`, item.ID, documentID, item.LineNo, item.ProductID, item.Description, item.Quantity,
			item.UnitPrice, toNull(item.DiscountRate), toNull(item.DiscountAmount), item.TaxRate, lt.Subtotal,
			lt.DiscountRate, lt.DiscountAmount, lt.AfterDiscount, lt.TaxAmount, lt.Total)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrItemNotFound
		}
	}
	return nil
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.RecordAudit(ctx, t.tx, log)
}

func toNull(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}

func fromNull(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}
