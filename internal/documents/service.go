package documents

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-books/internal/fx"
	"github.com/odyssey-erp/odyssey-books/internal/numbering"
	"github.com/odyssey-erp/odyssey-books/internal/pricing"
	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

const idempotencyModule = "documents"

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, int, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the transactional operations used by the service.
type TxRepository interface {
	Sequences() numbering.SequenceTx
	ClaimIdempotencyKey(ctx context.Context, key, module string) error
	InsertDocument(ctx context.Context, doc Document) (int64, error)
	GetForUpdate(ctx context.Context, id int64) (Document, error)
	UpdateDocument(ctx context.Context, doc Document) error
	// SaveItems makes the stored items of a document equal to items. Items with ID 0 are
	// inserted and their IDs filled in.
	SaveItems(ctx context.Context, documentID int64, items []Item) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// NumberAllocator issues document numbers inside the caller's transaction.
type NumberAllocator interface {
	Lock(ctx context.Context, companyID int64, docType numbering.DocumentType) (func(), error)
	AllocateTx(ctx context.Context, tx numbering.SequenceTx, companyID int64, docType numbering.DocumentType) (numbering.Numbering, error)
}

// RateResolver resolves exchange rates. Quote never fails.
type RateResolver interface {
	Base() string
	Quote(ctx context.Context, currency string) fx.Quote
}

// Service coordinates document lifecycle operations.
type Service struct {
	repo      RepositoryPort
	numbers   NumberAllocator
	rates     RateResolver
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewService constructs the document service.
func NewService(repo RepositoryPort, numbers NumberAllocator, rates RateResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		numbers:   numbers,
		rates:     rates,
		logger:    logger,
		validator: validator.New(),
		now:       time.Now,
	}
}

// PolicyFor returns the pricing policy of a document type: purchases keep negative balances
// and add document tax to item tax; every other side uses the sales policy.
func PolicyFor(t numbering.DocumentType) pricing.Policy {
	if t.Side() == numbering.SidePurchases {
		return pricing.PurchasesPolicy()
	}
	return pricing.SalesPolicy()
}

// Recalculate recomputes every line and the document totals from the current items.
func Recalculate(doc *Document) {
	lines := make([]pricing.LineItem, len(doc.Items))
	for i, item := range doc.Items {
		lines[i] = pricing.LineItem{
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			DiscountRate:   item.DiscountRate,
			DiscountAmount: item.DiscountAmount,
			TaxRate:        item.TaxRate,
		}
	}
	adj := doc.Adjustments
	totals := pricing.Calculate(lines, pricing.Adjustments{
		DiscountPercent: adj.DiscountPercent,
		DiscountAmount:  adj.DiscountAmount,
		AllowedDiscount: adj.AllowedDiscount,
		TaxPercent:      adj.TaxPercent,
		ExchangeRate:    adj.ExchangeRate,
		CashPaid:        adj.CashPaid,
		ChecksPaid:      adj.ChecksPaid,
	}, PolicyFor(doc.Type))
	for i := range doc.Items {
		doc.Items[i].LineNo = i + 1
		doc.Items[i].Totals = totals.Lines[i]
	}
	doc.Totals = totals
}

// Create numbers, prices and stores a new document in one transaction. The exchange rate is
// resolved before the transaction opens.
func (s *Service) Create(ctx context.Context, req CreateRequest, actorID int64) (Document, error) {
	if err := s.validator.Struct(req); err != nil {
		return Document{}, err
	}
	docType, err := numbering.ParseDocumentType(req.Type)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	if docType == numbering.TypeManufacturing {
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupportedType, docType)
	}
	if err := req.Adjustments.validateAmounts(); err != nil {
		return Document{}, err
	}
	items := make([]Item, 0, len(req.Items))
	for _, in := range req.Items {
		if err := in.validateAmounts(); err != nil {
			return Document{}, err
		}
		items = append(items, in.toItem())
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.rates.Base()
	}
	rate, source := s.resolveRate(ctx, currency, req.ExchangeRate)

	unlock, err := s.numbers.Lock(ctx, req.CompanyID, docType)
	if err != nil {
		return Document{}, err
	}
	defer unlock()

	var doc Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if req.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, req.IdempotencyKey, idempotencyModule); err != nil {
				return err
			}
		}
		number, err := s.numbers.AllocateTx(ctx, tx.Sequences(), req.CompanyID, docType)
		if err != nil {
			return err
		}
		now := s.now()
		// SaveItems writes row ids into doc.Items, so every attempt starts from unsaved items.
		doc = Document{
			Reference:          uuid.New(),
			CompanyID:          req.CompanyID,
			Type:               docType,
			DocNumber:          number.DocNumber,
			BookCode:           number.BookCode,
			LedgerNumber:       number.LedgerNumber,
			LedgerInvoiceCount: number.LedgerInvoiceCount,
			InvoiceNumber:      number.InvoiceNumber,
			Status:             StatusDraft,
			PartyID:            req.PartyID,
			Currency:           currency,
			RateSource:         source,
			Adjustments: Adjustments{
				DiscountPercent: req.Adjustments.DiscountPercent,
				DiscountAmount:  req.Adjustments.DiscountAmount,
				AllowedDiscount: req.Adjustments.AllowedDiscount,
				TaxPercent:      req.Adjustments.TaxPercent,
				ExchangeRate:    rate,
			},
			Items:     slices.Clone(items),
			Notes:     req.Notes,
			CreatedBy: actorID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		Recalculate(&doc)
		id, err := tx.InsertDocument(ctx, doc)
		if err != nil {
			return err
		}
		doc.ID = id
		for i := range doc.Items {
			doc.Items[i].DocumentID = id
		}
		if err := tx.SaveItems(ctx, id, doc.Items); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, documentAudit(actorID, "documents.create", doc, map[string]any{
			"doc_number":   doc.DocNumber,
			"book_code":    doc.BookCode,
			"total_amount": doc.Totals.TotalAmount.String(),
			"rate_source":  source,
		}))
	})
	if err != nil {
		return Document{}, err
	}
	s.logger.Info("document created",
		slog.Int64("document_id", doc.ID),
		slog.String("type", string(doc.Type)),
		slog.String("doc_number", doc.DocNumber),
		slog.String("book_code", doc.BookCode))
	return doc, nil
}

// Get loads a document, including soft-deleted ones.
func (s *Service) Get(ctx context.Context, id int64) (Document, error) {
	return s.repo.Get(ctx, id)
}

// List returns one page of documents.
func (s *Service) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	if filter.CompanyID <= 0 {
		return ListResult{}, fmt.Errorf("%w: company_id required", shared.ErrValidation)
	}
	filter.Page, filter.PerPage = shared.NormalisePage(filter.Page, filter.PerPage)
	docs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Documents: docs, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
}

// ReplaceItems swaps the whole item set and recalculates.
func (s *Service) ReplaceItems(ctx context.Context, id int64, inputs []ItemInput, actorID int64) (Document, error) {
	items := make([]Item, 0, len(inputs))
	for _, in := range inputs {
		if err := s.validateItem(in); err != nil {
			return Document{}, err
		}
		items = append(items, in.toItem())
	}
	return s.mutate(ctx, id, actorID, "documents.items.replace", func(doc *Document) (map[string]any, error) {
		doc.Items = slices.Clone(items)
		return map[string]any{"items": len(items)}, nil
	})
}

// AddItem appends an item and recalculates.
func (s *Service) AddItem(ctx context.Context, id int64, in ItemInput, actorID int64) (Document, error) {
	if err := s.validateItem(in); err != nil {
		return Document{}, err
	}
	return s.mutate(ctx, id, actorID, "documents.items.add", func(doc *Document) (map[string]any, error) {
		doc.Items = append(doc.Items, in.toItem())
		return map[string]any{"product_id": in.ProductID}, nil
	})
}

// UpdateItem replaces the inputs of one item and recalculates.
func (s *Service) UpdateItem(ctx context.Context, id, itemID int64, in ItemInput, actorID int64) (Document, error) {
	if err := s.validateItem(in); err != nil {
		return Document{}, err
	}
	return s.mutate(ctx, id, actorID, "documents.items.update", func(doc *Document) (map[string]any, error) {
		for i := range doc.Items {
			if doc.Items[i].ID == itemID {
				updated := in.toItem()
				updated.ID = itemID
				updated.DocumentID = doc.ID
				doc.Items[i] = updated
				return map[string]any{"item_id": itemID}, nil
			}
		}
		return nil, ErrItemNotFound
	})
}

// DeleteItem removes one item and recalculates.
func (s *Service) DeleteItem(ctx context.Context, id, itemID int64, actorID int64) (Document, error) {
	return s.mutate(ctx, id, actorID, "documents.items.delete", func(doc *Document) (map[string]any, error) {
		for i := range doc.Items {
			if doc.Items[i].ID == itemID {
				doc.Items = append(doc.Items[:i:i], doc.Items[i+1:]...)
				return map[string]any{"item_id": itemID}, nil
			}
		}
		return nil, ErrItemNotFound
	})
}

// UpdateAdjustments replaces the document-level discount and tax and recalculates.
func (s *Service) UpdateAdjustments(ctx context.Context, id int64, in AdjustmentsInput, actorID int64) (Document, error) {
	if err := in.validateAmounts(); err != nil {
		return Document{}, err
	}
	return s.mutate(ctx, id, actorID, "documents.adjustments.update", func(doc *Document) (map[string]any, error) {
		doc.Adjustments.DiscountPercent = in.DiscountPercent
		doc.Adjustments.DiscountAmount = in.DiscountAmount
		doc.Adjustments.AllowedDiscount = in.AllowedDiscount
		doc.Adjustments.TaxPercent = in.TaxPercent
		return nil, nil
	})
}

// RecordPayment adds cash and check payments and recomputes the remaining balance.
func (s *Service) RecordPayment(ctx context.Context, id int64, in PaymentInput, actorID int64) (Document, error) {
	if in.CashPaid.IsNegative() || in.ChecksPaid.IsNegative() {
		return Document{}, fmt.Errorf("%w: payments must not be negative", ErrInvalidAmount)
	}
	if in.CashPaid.IsZero() && in.ChecksPaid.IsZero() {
		return Document{}, fmt.Errorf("%w: payment amount required", ErrInvalidAmount)
	}
	return s.mutate(ctx, id, actorID, "documents.payment.record", func(doc *Document) (map[string]any, error) {
		doc.Adjustments.CashPaid = doc.Adjustments.CashPaid.Add(in.CashPaid)
		doc.Adjustments.ChecksPaid = doc.Adjustments.ChecksPaid.Add(in.ChecksPaid)
		return map[string]any{
			"cash_paid":   in.CashPaid.String(),
			"checks_paid": in.ChecksPaid.String(),
		}, nil
	})
}

// Transition moves a document along the workflow of its type.
func (s *Service) Transition(ctx context.Context, id int64, to string, actorID int64) (Document, error) {
	target, err := parseStatus(to)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = s.loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		ok, err := CanTransition(doc.Type, doc.Status, target)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, doc.Type, doc.Status, target)
		}
		from := doc.Status
		doc.Status = target
		doc.UpdatedAt = s.now()
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, documentAudit(actorID, "documents.transition", doc, map[string]any{
			"from": string(from),
			"to":   string(target),
		}))
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Delete soft deletes a document. Terminal documents cannot be deleted.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := s.loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrStatusConflict, doc.DocNumber, doc.Status)
		}
		now := s.now()
		doc.DeletedAt = &now
		doc.UpdatedAt = now
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, documentAudit(actorID, "documents.delete", doc, nil))
	})
}

// Restore undoes a soft delete. Numbering is left untouched.
func (s *Service) Restore(ctx context.Context, id int64, actorID int64) (Document, error) {
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !doc.Deleted() {
			return ErrNotDeleted
		}
		doc.DeletedAt = nil
		doc.UpdatedAt = s.now()
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, documentAudit(actorID, "documents.restore", doc, map[string]any{
			"doc_number": doc.DocNumber,
		}))
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

type mutation func(doc *Document) (meta map[string]any, err error)

// mutate applies fn to a locked, editable document, recalculates and persists it.
func (s *Service) mutate(ctx context.Context, id, actorID int64, action string, fn mutation) (Document, error) {
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = s.loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrStatusConflict, doc.DocNumber, doc.Status)
		}
		meta, err := fn(&doc)
		if err != nil {
			return err
		}
		Recalculate(&doc)
		doc.UpdatedAt = s.now()
		if err := tx.SaveItems(ctx, doc.ID, doc.Items); err != nil {
			return err
		}
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		if meta == nil {
			meta = map[string]any{}
		}
		meta["total_amount"] = doc.Totals.TotalAmount.String()
		return tx.RecordAudit(ctx, documentAudit(actorID, action, doc, meta))
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *Service) loadForUpdate(ctx context.Context, tx TxRepository, id int64) (Document, error) {
	doc, err := tx.GetForUpdate(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Deleted() {
		return Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *Service) validateItem(in ItemInput) error {
	if err := s.validator.Struct(in); err != nil {
		return err
	}
	return in.validateAmounts()
}

// resolveRate prefers a positive caller-supplied rate over the resolver.
func (s *Service) resolveRate(ctx context.Context, currency string, supplied *decimal.Decimal) (decimal.Decimal, string) {
	if supplied != nil && supplied.IsPositive() {
		return *supplied, RateSourceManual
	}
	quote := s.rates.Quote(ctx, currency)
	return quote.Rate, string(quote.Source)
}

func documentAudit(actorID int64, action string, doc Document, meta map[string]any) shared.AuditLog {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["reference"] = doc.Reference.String()
	return shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   shared.AuditEntityDocument,
		EntityID: fmt.Sprintf("%d", doc.ID),
		Meta:     meta,
	}
}
