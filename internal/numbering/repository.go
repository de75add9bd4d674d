package numbering

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-books/internal/platform/db"
)

// Repository persists sequence counters in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx implements Store.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, SequenceTx) error) error {
	if r == nil || r.pool == nil {
		return errors.New("numbering repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxSequences(tx))
	})
}

type txSequences struct {
	tx pgx.Tx
}

// NewTxSequences exposes sequence operations bound to an open transaction.
func NewTxSequences(tx pgx.Tx) SequenceTx {
	return &txSequences{tx: tx}
}

func (r *txSequences) LockSequence(ctx context.Context, companyID int64, docType DocumentType) (State, bool, error) {
	// The insert guarantees a row exists for FOR UPDATE to lock, including on first use.
	if _, err := r.tx.Exec(ctx, `INSERT INTO document_sequences (company_id, doc_type, book_code, book_year, ledger_number, ledger_invoice_count, invoice_number, updated_at)
VALUES ($1,$2,'',0,0,0,0,NOW())
ON CONFLICT (company_id, doc_type) DO NOTHING`, companyID, string(docType)); err != nil {
		return State{}, false, err
	}
	state := State{CompanyID: companyID, Type: docType}
	err := r.tx.QueryRow(ctx, `SELECT book_code, book_year, ledger_number, ledger_invoice_count, invoice_number, updated_at
FROM document_sequences WHERE company_id=$1 AND doc_type=$2 FOR UPDATE`, companyID, string(docType)).
		Scan(&state.BookCode, &state.BookYear, &state.LedgerNumber, &state.LedgerInvoiceCount, &state.InvoiceNumber, &state.UpdatedAt)
	if err != nil {
		return State{}, false, err
	}
	return state, !state.Empty(), nil
}

func (r *txSequences) LatestDocument(ctx context.Context, companyID int64, docType DocumentType) (LegacyRecord, bool, error) {
	query := `SELECT doc_number, book_code, ledger_invoice_count::text, created_at
FROM documents WHERE company_id=$1 AND doc_type=$2
ORDER BY invoice_number DESC, id DESC LIMIT 1`
	args := []any{companyID, string(docType)}
	if docType.Side() == SideProduction {
		query = `SELECT doc_number, book_code, ledger_invoice_count::text, created_at
FROM manufacturing_processes WHERE company_id=$1
ORDER BY invoice_number DESC, id DESC LIMIT 1`
		args = args[:1]
	}
	var record LegacyRecord
	err := r.tx.QueryRow(ctx, query, args...).
		Scan(&record.DocNumber, &record.BookCode, &record.LedgerInvoiceCount, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LegacyRecord{}, false, nil
		}
		return LegacyRecord{}, false, err
	}
	return record, true, nil
}

func (r *txSequences) SaveSequence(ctx context.Context, state State) error {
	_, err := r.tx.Exec(ctx, `UPDATE document_sequences
SET book_code=$3, book_year=$4, ledger_number=$5, ledger_invoice_count=$6, invoice_number=$7, updated_at=NOW()
WHERE company_id=$1 AND doc_type=$2`, state.CompanyID, string(state.Type), state.BookCode, state.BookYear,
		state.LedgerNumber, state.LedgerInvoiceCount, state.InvoiceNumber)
	return err
}
