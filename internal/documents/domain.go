// Package documents orchestrates commercial documents: numbering, pricing, exchange rates and
// their status workflow.
package documents

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-books/internal/numbering"
	"github.com/odyssey-erp/odyssey-books/internal/pricing"
	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

// Status enumerates document states.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusSent       Status = "sent"
	StatusConfirmed  Status = "confirmed"
	StatusApproved   Status = "approved"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusInvoiced   Status = "invoiced"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further changes are allowed in status s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusInvoiced, StatusCancelled:
		return true
	default:
		return false
	}
}

// RateSourceManual marks a rate supplied by the caller instead of the resolver.
const RateSourceManual = "manual"

var (
	// ErrDocumentNotFound indicates a missing or deleted document.
	ErrDocumentNotFound = fmt.Errorf("%w: document", shared.ErrNotFound)
	// ErrItemNotFound indicates a missing document item.
	ErrItemNotFound = fmt.Errorf("%w: document item", shared.ErrNotFound)
	// ErrStatusConflict is returned when a terminal document is modified.
	ErrStatusConflict = fmt.Errorf("%w: document status does not allow changes", shared.ErrConflict)
	// ErrInvalidTransition is returned for transitions the workflow of the type does not allow.
	ErrInvalidTransition = fmt.Errorf("%w: invalid document transition", shared.ErrConflict)
	// ErrNotDeleted is returned when restoring a document that is not deleted.
	ErrNotDeleted = fmt.Errorf("%w: document is not deleted", shared.ErrConflict)
	// ErrUnsupportedType is returned for types handled outside this package.
	ErrUnsupportedType = fmt.Errorf("%w: document type not supported", shared.ErrValidation)
	// ErrInvalidAmount is returned for negative quantities, prices or payments.
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", shared.ErrValidation)
)

// Document is a numbered commercial document with its items and computed totals.
type Document struct {
	ID                 int64                  `json:"id"`
	Reference          uuid.UUID              `json:"reference"`
	CompanyID          int64                  `json:"company_id"`
	Type               numbering.DocumentType `json:"type"`
	DocNumber          string                 `json:"doc_number"`
	BookCode           string                 `json:"book_code"`
	LedgerNumber       int                    `json:"ledger_number"`
	LedgerInvoiceCount int                    `json:"ledger_invoice_count"`
	InvoiceNumber      int64                  `json:"invoice_number"`
	Status             Status                 `json:"status"`
	PartyID            int64                  `json:"party_id,omitempty"`
	Currency           string                 `json:"currency"`
	RateSource         string                 `json:"rate_source"`
	Adjustments        Adjustments            `json:"adjustments"`
	Totals             pricing.DocumentTotals `json:"totals"`
	Items              []Item                 `json:"items"`
	Notes              string                 `json:"notes,omitempty"`
	CreatedBy          int64                  `json:"created_by"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
	DeletedAt          *time.Time             `json:"deleted_at,omitempty"`
}

// Deleted reports whether the document is soft deleted.
func (d Document) Deleted() bool {
	return d.DeletedAt != nil
}

// Adjustments are the stored document-level pricing inputs.
type Adjustments struct {
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount,omitempty"`
	AllowedDiscount *decimal.Decimal `json:"allowed_discount,omitempty"`
	TaxPercent      *decimal.Decimal `json:"tax_percent,omitempty"`
	ExchangeRate    decimal.Decimal  `json:"exchange_rate"`
	CashPaid        decimal.Decimal  `json:"cash_paid"`
	ChecksPaid      decimal.Decimal  `json:"checks_paid"`
}

// Item is one document line with its computed totals.
type Item struct {
	ID             int64              `json:"id"`
	DocumentID     int64              `json:"document_id"`
	LineNo         int                `json:"line_no"`
	ProductID      int64              `json:"product_id,omitempty"`
	Description    string             `json:"description"`
	Quantity       decimal.Decimal    `json:"quantity"`
	UnitPrice      decimal.Decimal    `json:"unit_price"`
	DiscountRate   *decimal.Decimal   `json:"discount_rate,omitempty"`
	DiscountAmount *decimal.Decimal   `json:"discount_amount,omitempty"`
	TaxRate        decimal.Decimal    `json:"tax_rate"`
	Totals         pricing.LineTotals `json:"totals"`
}

// ItemInput describes an item to add or replace.
type ItemInput struct {
	ProductID      int64            `json:"product_id" validate:"omitempty,gt=0"`
	Description    string           `json:"description" validate:"max=500"`
	Quantity       decimal.Decimal  `json:"quantity"`
	UnitPrice      decimal.Decimal  `json:"unit_price"`
	DiscountRate   *decimal.Decimal `json:"discount_rate"`
	DiscountAmount *decimal.Decimal `json:"discount_amount"`
	TaxRate        decimal.Decimal  `json:"tax_rate"`
}

// AdjustmentsInput updates the document-level discount and tax.
type AdjustmentsInput struct {
	DiscountPercent *decimal.Decimal `json:"discount_percent"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount"`
	AllowedDiscount *decimal.Decimal `json:"allowed_discount"`
	TaxPercent      *decimal.Decimal `json:"tax_percent"`
}

// CreateRequest describes a new document.
type CreateRequest struct {
	CompanyID      int64            `json:"company_id" validate:"required,gt=0"`
	Type           string           `json:"type" validate:"required"`
	PartyID        int64            `json:"party_id" validate:"omitempty,gt=0"`
	Currency       string           `json:"currency" validate:"omitempty,len=3,alpha"`
	ExchangeRate   *decimal.Decimal `json:"exchange_rate"`
	Adjustments    AdjustmentsInput `json:"adjustments"`
	Items          []ItemInput      `json:"items" validate:"dive"`
	Notes          string           `json:"notes" validate:"max=2000"`
	IdempotencyKey string           `json:"idempotency_key" validate:"max=128"`
}

// PaymentInput adds payments to a document.
type PaymentInput struct {
	CashPaid   decimal.Decimal `json:"cash_paid"`
	ChecksPaid decimal.Decimal `json:"checks_paid"`
}

// TransitionInput requests a status change.
type TransitionInput struct {
	To string `json:"to" validate:"required"`
}

// ListFilter narrows List results.
type ListFilter struct {
	CompanyID      int64
	Type           numbering.DocumentType
	Status         Status
	IncludeDeleted bool
	Page           int
	PerPage        int
}

// ListResult is one page of documents.
type ListResult struct {
	Documents  []Document        `json:"documents"`
	Pagination shared.Pagination `json:"pagination"`
}

func (in ItemInput) validateAmounts() error {
	if in.Quantity.IsNegative() || in.UnitPrice.IsNegative() || in.TaxRate.IsNegative() {
		return fmt.Errorf("%w: quantity, unit price and tax rate must not be negative", ErrInvalidAmount)
	}
	if in.DiscountRate != nil && (in.DiscountRate.IsNegative() || in.DiscountRate.GreaterThan(decimal.NewFromInt(100))) {
		return fmt.Errorf("%w: discount rate must be between 0 and 100", ErrInvalidAmount)
	}
	if in.DiscountAmount != nil && in.DiscountAmount.IsNegative() {
		return fmt.Errorf("%w: discount amount must not be negative", ErrInvalidAmount)
	}
	return nil
}

func (in ItemInput) toItem() Item {
	return Item{
		ProductID:      in.ProductID,
		Description:    in.Description,
		Quantity:       in.Quantity,
		UnitPrice:      in.UnitPrice,
		DiscountRate:   in.DiscountRate,
		DiscountAmount: in.DiscountAmount,
		TaxRate:        in.TaxRate,
	}
}

func (in AdjustmentsInput) validateAmounts() error {
	for _, v := range []*decimal.Decimal{in.DiscountPercent, in.DiscountAmount, in.AllowedDiscount, in.TaxPercent} {
		if v != nil && v.IsNegative() {
			return fmt.Errorf("%w: adjustments must not be negative", ErrInvalidAmount)
		}
	}
	return nil
}
