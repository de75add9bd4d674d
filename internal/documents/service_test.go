package documents

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-books/internal/fx"
	"github.com/odyssey-erp/odyssey-books/internal/numbering"
	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type memoryState struct {
	documents map[int64]Document
	sequences map[string]numbering.State
	keys      map[string]struct{}
	audits    []shared.AuditLog
	nextID    int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		documents: make(map[int64]Document, len(s.documents)),
		sequences: make(map[string]numbering.State, len(s.sequences)),
		keys:      make(map[string]struct{}, len(s.keys)),
		audits:    append([]shared.AuditLog(nil), s.audits...),
		nextID:    s.nextID,
	}
	for k, v := range s.documents {
		v.Items = append([]Item(nil), v.Items...)
		out.documents[k] = v
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	for k := range s.keys {
		out.keys[k] = struct{}{}
	}
	return out
}

type memoryRepo struct {
	mu        sync.Mutex
	state     memoryState
	insertErr error
	// conflicts rolls back that many otherwise successful attempts and runs fn again,
	// the way db.WithTx retries a serialization failure at commit.
	conflicts int
	attempts  int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		documents: make(map[int64]Document),
		sequences: make(map[string]numbering.State),
		keys:      make(map[string]struct{}),
	}}
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.state.documents[id]
	if !ok {
		return Document{}, ErrDocumentNotFound
	}
	doc.Items = append([]Item(nil), doc.Items...)
	return doc, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Document, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Document
	for _, doc := range r.state.documents {
		if doc.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Type != "" && doc.Type != filter.Type {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if doc.Deleted() && !filter.IncludeDeleted {
			continue
		}
		matched = append(matched, doc)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].InvoiceNumber > matched[j].InvoiceNumber })
	offset := shared.Offset(filter.Page, filter.PerPage)
	if offset > len(matched) {
		offset = len(matched)
	}
	end := min(offset+filter.PerPage, len(matched))
	return matched[offset:end], len(matched), nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		r.attempts++
		snapshot := r.state.clone()
		if err := fn(ctx, &memoryTx{repo: r}); err != nil {
			r.state = snapshot
			return err
		}
		if r.conflicts == 0 {
			return nil
		}
		r.conflicts--
		r.state = snapshot
	}
}

func (r *memoryRepo) sequence(companyID int64, t numbering.DocumentType) numbering.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.sequences[numbering.LockKey(companyID, t)]
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) Sequences() numbering.SequenceTx { return &memorySeqTx{repo: t.repo} }

func (t *memoryTx) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	k := module + ":" + key
	if _, ok := t.repo.state.keys[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.repo.state.keys[k] = struct{}{}
	return nil
}

func (t *memoryTx) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	if t.repo.insertErr != nil {
		return 0, t.repo.insertErr
	}
	t.repo.state.nextID++
	doc.ID = t.repo.state.nextID
	doc.Items = nil
	t.repo.state.documents[doc.ID] = doc
	return doc.ID, nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (Document, error) {
	doc, ok := t.repo.state.documents[id]
	if !ok {
		return Document{}, ErrDocumentNotFound
	}
	doc.Items = append([]Item(nil), doc.Items...)
	return doc, nil
}

func (t *memoryTx) UpdateDocument(ctx context.Context, doc Document) error {
	stored, ok := t.repo.state.documents[doc.ID]
	if !ok {
		return ErrDocumentNotFound
	}
	doc.Items = stored.Items
	t.repo.state.documents[doc.ID] = doc
	return nil
}

func (t *memoryTx) SaveItems(ctx context.Context, documentID int64, items []Item) error {
	doc, ok := t.repo.state.documents[documentID]
	if !ok {
		return ErrDocumentNotFound
	}
	stored := make(map[int64]bool, len(doc.Items))
	for _, item := range doc.Items {
		stored[item.ID] = true
	}
	for i := range items {
		if items[i].ID != 0 && !stored[items[i].ID] {
			return ErrItemNotFound
		}
		if items[i].ID == 0 {
			t.repo.state.nextID++
			items[i].ID = t.repo.state.nextID
			items[i].DocumentID = documentID
		}
	}
	doc.Items = append([]Item(nil), items...)
	t.repo.state.documents[documentID] = doc
	return nil
}

func (t *memoryTx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	t.repo.state.audits = append(t.repo.state.audits, log)
	return nil
}

type memorySeqTx struct {
	repo *memoryRepo
}

func (s *memorySeqTx) LockSequence(ctx context.Context, companyID int64, docType numbering.DocumentType) (numbering.State, bool, error) {
	state, ok := s.repo.state.sequences[numbering.LockKey(companyID, docType)]
	if !ok {
		return numbering.State{CompanyID: companyID, Type: docType}, false, nil
	}
	return state, true, nil
}

func (s *memorySeqTx) LatestDocument(ctx context.Context, companyID int64, docType numbering.DocumentType) (numbering.LegacyRecord, bool, error) {
	return numbering.LegacyRecord{}, false, nil
}

func (s *memorySeqTx) SaveSequence(ctx context.Context, state numbering.State) error {
	s.repo.state.sequences[numbering.LockKey(state.CompanyID, state.Type)] = state
	return nil
}

type stubRates struct {
	mu    sync.Mutex
	rates map[string]decimal.Decimal
	calls int
}

func (s *stubRates) Base() string { return "USD" }

func (s *stubRates) Quote(ctx context.Context, currency string) fx.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if rate, ok := s.rates[currency]; ok {
		return fx.Quote{Currency: currency, Base: "USD", Rate: rate, Source: fx.SourceLive}
	}
	return fx.Quote{Currency: currency, Base: "USD", Rate: decimal.NewFromInt(1), Source: fx.SourcePinned}
}

var clock = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestService(repo *memoryRepo, rates *stubRates) *Service {
	allocator := numbering.NewAllocator(nil, nil, nil, nil, numbering.Config{Now: func() time.Time { return clock }})
	svc := NewService(repo, allocator, rates, nil)
	svc.now = func() time.Time { return clock }
	return svc
}

func quotationItems() []ItemInput {
	return []ItemInput{
		{Description: "Item1", Quantity: dec("3"), UnitPrice: dec("10"), DiscountRate: decp("10"), TaxRate: dec("5")},
		{Description: "Item2", Quantity: dec("1"), UnitPrice: dec("50"), TaxRate: dec("5")},
	}
}

func TestCreateQuotationComputesTotalsAndLocalAmount(t *testing.T) {
	repo := newMemoryRepo()
	rates := &stubRates{rates: map[string]decimal.Decimal{"EUR": dec("3.75")}}
	svc := newTestService(repo, rates)

	doc, err := svc.Create(context.Background(), CreateRequest{
		CompanyID: 1,
		Type:      "quotation",
		Currency:  "eur",
		Items:     quotationItems(),
	}, 9)
	require.NoError(t, err)

	require.Equal(t, "QUO-000001", doc.DocNumber)
	require.Equal(t, "BOOK-2025-001", doc.BookCode)
	require.Equal(t, StatusDraft, doc.Status)
	require.Equal(t, "EUR", doc.Currency)
	require.Equal(t, "live", doc.RateSource)

	first := doc.Items[0].Totals
	require.Equal(t, "30", first.Subtotal.String())
	require.Equal(t, "3", first.DiscountAmount.String())
	require.Equal(t, "27", first.AfterDiscount.String())
	require.Equal(t, "1.35", first.TaxAmount.String())
	require.Equal(t, "28.35", first.Total.String())
	require.Equal(t, "52.5", doc.Items[1].Totals.Total.String())

	require.Equal(t, "80", doc.Totals.Subtotal.String())
	require.Equal(t, "3", doc.Totals.TotalDiscount.String())
	require.Equal(t, "3.85", doc.Totals.TotalTax.String())
	require.Equal(t, "80.85", doc.Totals.TotalAmount.String())
	require.Equal(t, "303.19", doc.Totals.TotalLocal.String())

	stored, err := svc.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	require.NotZero(t, stored.Items[0].ID)
	require.Equal(t, 1, stored.Items[0].LineNo)
	require.Equal(t, shared.AuditEntityDocument, repo.state.audits[0].Entity)
}

func TestCreateNumbersBooksOfFifty(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubRates{})
	ctx := context.Background()

	var last Document
	for i := 1; i <= 51; i++ {
		doc, err := svc.Create(ctx, CreateRequest{CompanyID: 2, Type: "quotation"}, 1)
		require.NoError(t, err)
		if i == 1 {
			require.Equal(t, "BOOK-2025-001", doc.BookCode)
			require.Equal(t, int64(1), doc.InvoiceNumber)
			require.Equal(t, 1, doc.LedgerInvoiceCount)
		}
		if i == 50 {
			require.Equal(t, "BOOK-2025-001", doc.BookCode)
			require.Equal(t, 50, doc.LedgerInvoiceCount)
		}
		last = doc
	}
	require.Equal(t, "BOOK-2025-002", last.BookCode)
	require.Equal(t, 1, last.LedgerInvoiceCount)
	require.Equal(t, int64(51), last.InvoiceNumber)
	require.Equal(t, "QUO-000051", last.DocNumber)
}

func TestCreateUsesSuppliedRateWithoutResolver(t *testing.T) {
	rates := &stubRates{rates: map[string]decimal.Decimal{"EUR": dec("3.75")}}
	svc := newTestService(newMemoryRepo(), rates)

	doc, err := svc.Create(context.Background(), CreateRequest{
		CompanyID:    1,
		Type:         "sales_invoice",
		Currency:     "EUR",
		ExchangeRate: decp("4"),
		Items:        quotationItems(),
	}, 1)
	require.NoError(t, err)
	require.Equal(t, RateSourceManual, doc.RateSource)
	require.Equal(t, "323.4", doc.Totals.TotalLocal.String())
	require.Zero(t, rates.calls)
	require.Equal(t, "INV-000001", doc.DocNumber)
}

func TestCreateDefaultsToBaseCurrency(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &stubRates{})

	doc, err := svc.Create(context.Background(), CreateRequest{CompanyID: 1, Type: "outgoing_order"}, 1)
	require.NoError(t, err)
	require.Equal(t, "USD", doc.Currency)
	require.Equal(t, "1", doc.Adjustments.ExchangeRate.String())
	require.Equal(t, "ORD-BOOK-001", doc.BookCode)
	require.True(t, doc.Totals.TotalAmount.IsZero())
}

func TestCreateRejectsReplayedIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubRates{})
	ctx := context.Background()
	req := CreateRequest{CompanyID: 1, Type: "quotation", IdempotencyKey: "abc"}

	_, err := svc.Create(ctx, req, 1)
	require.NoError(t, err)
	_, err = svc.Create(ctx, req, 1)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, int64(1), repo.sequence(1, numbering.TypeQuotation).InvoiceNumber)

	req.IdempotencyKey = "def"
	doc, err := svc.Create(ctx, req, 1)
	require.NoError(t, err)
	require.Equal(t, "QUO-000002", doc.DocNumber)
}

func TestCreateRollsBackNumberingOnFailure(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubRates{})
	ctx := context.Background()

	repo.insertErr = errors.New("insert failed")
	_, err := svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "quotation", IdempotencyKey: "k1"}, 1)
	require.ErrorContains(t, err, "insert failed")
	require.Zero(t, repo.sequence(1, numbering.TypeQuotation).InvoiceNumber)

	repo.insertErr = nil
	doc, err := svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "quotation", IdempotencyKey: "k1"}, 1)
	require.NoError(t, err)
	require.Equal(t, "QUO-000001", doc.DocNumber)
}

func TestCreateValidatesRequest(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &stubRates{})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Type: "quotation"}, 1)
	require.Error(t, err)

	_, err = svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "invoice"}, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.ErrorIs(t, err, numbering.ErrUnknownDocumentType)

	_, err = svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "manufacturing"}, 1)
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "quotation", Items: []ItemInput{{Quantity: dec("-1")}}}, 1)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestItemOperationsRecalculate(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubRates{})
	ctx := context.Background()

	doc, err := svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "quotation", Items: quotationItems()}, 1)
	require.NoError(t, err)

	doc, err = svc.AddItem(ctx, doc.ID, ItemInput{Description: "Item3", Quantity: dec("2"), UnitPrice: dec("5")}, 1)
	require.NoError(t, err)
	require.Len(t, doc.Items, 3)
	require.Equal(t, "90.85", doc.Totals.TotalAmount.String())
	require.Equal(t, 3, doc.Items[2].LineNo)

	firstID := doc.Items[0].ID
	doc, err = svc.UpdateItem(ctx, doc.ID, firstID, ItemInput{Description: "Item1", Quantity: dec("1"), UnitPrice: dec("10")}, 1)
	require.NoError(t, err)
	require.Equal(t, firstID, doc.Items[0].ID)
	require.Equal(t, "72.5", doc.Totals.TotalAmount.String())

	doc, err = svc.DeleteItem(ctx, doc.ID, firstID, 1)
	require.NoError(t, err)
	require.Len(t, doc.Items, 2)
	require.Equal(t, 1, doc.Items[0].LineNo)
	require.Equal(t, "62.5", doc.Totals.TotalAmount.String())

	_, err = svc.DeleteItem(ctx, doc.ID, firstID, 1)
	require.ErrorIs(t, err, ErrItemNotFound)

	doc, err = svc.ReplaceItems(ctx, doc.ID, quotationItems(), 1)
	require.NoError(t, err)
	require.Equal(t, "80.85", doc.Totals.TotalAmount.String())

	stored, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, "QUO-000001", stored.DocNumber)
	require.Equal(t, "80.85", stored.Totals.TotalAmount.String())
}

func TestUpdateAdjustmentsAppliesDocumentDiscountAndTax(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &stubRates{})
	ctx := context.Background()
	items := []ItemInput{{Quantity: dec("1"), UnitPrice: dec("100"), TaxRate: dec("10")}}

	sales, err := svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "sales_invoice", Items: items}, 1)
	require.NoError(t, err)
	sales, err = svc.UpdateAdjustments(ctx, sales.ID, AdjustmentsInput{DiscountPercent: decp("10"), TaxPercent: decp("15")}, 1)
	require.NoError(t, err)
	require.Equal(t, "10", sales.Totals.DocumentDiscount.String())
	require.Equal(t, "13.5", sales.Totals.TotalTax.String())
	require.Equal(t, "103.5", sales.Totals.TotalAmount.String())

	purchase, err := svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "purchase_invoice", Items: items}, 1)
	require.NoError(t, err)
	require.Equal(t, "LDG-2025-001", purchase.BookCode)
	purchase, err = svc.UpdateAdjustments(ctx, purchase.ID, AdjustmentsInput{DiscountPercent: decp("10"), TaxPercent: decp("15")}, 1)
	require.NoError(t, err)
	require.Equal(t, "23.5", purchase.Totals.TotalTax.String())

	_, err = svc.UpdateAdjustments(ctx, purchase.ID, AdjustmentsInput{TaxPercent: decp("-1")}, 1)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRecordPaymentFollowsBalancePolicy(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &stubRates{})
	ctx := context.Background()
	items := []ItemInput{{Quantity: dec("1"), UnitPrice: dec("100")}}

	sales, err := svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "sales_invoice", Items: items}, 1)
	require.NoError(t, err)
	sales, err = svc.RecordPayment(ctx, sales.ID, PaymentInput{CashPaid: dec("60")}, 1)
	require.NoError(t, err)
	require.Equal(t, "40", sales.Totals.RemainingBalance.String())
	sales, err = svc.RecordPayment(ctx, sales.ID, PaymentInput{ChecksPaid: dec("70")}, 1)
	require.NoError(t, err)
	require.True(t, sales.Totals.RemainingBalance.IsZero())
	require.Equal(t, "130", sales.Adjustments.CashPaid.Add(sales.Adjustments.ChecksPaid).String())

	purchase, err := svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "purchase_invoice", Items: items}, 1)
	require.NoError(t, err)
	purchase, err = svc.RecordPayment(ctx, purchase.ID, PaymentInput{CashPaid: dec("130")}, 1)
	require.NoError(t, err)
	require.Equal(t, "-30", purchase.Totals.RemainingBalance.String())

	_, err = svc.RecordPayment(ctx, purchase.ID, PaymentInput{}, 1)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestTransitionFollowsTypeWorkflow(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &stubRates{})
	ctx := context.Background()

	doc, err := svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "quotation", Items: quotationItems()}, 1)
	require.NoError(t, err)

	_, err = svc.Transition(ctx, doc.ID, "completed", 1)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Transition(ctx, doc.ID, "bogus", 1)
	require.ErrorIs(t, err, shared.ErrValidation)

	for _, to := range []string{"sent", "approved", "completed"} {
		doc, err = svc.Transition(ctx, doc.ID, to, 1)
		require.NoError(t, err)
		require.Equal(t, Status(to), doc.Status)
	}

	_, err = svc.AddItem(ctx, doc.ID, ItemInput{Quantity: dec("1"), UnitPrice: dec("1")}, 1)
	require.ErrorIs(t, err, ErrStatusConflict)
	_, err = svc.RecordPayment(ctx, doc.ID, PaymentInput{CashPaid: dec("1")}, 1)
	require.ErrorIs(t, err, ErrStatusConflict)
	require.ErrorIs(t, svc.Delete(ctx, doc.ID, 1), ErrStatusConflict)
	_, err = svc.Transition(ctx, doc.ID, "cancelled", 1)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestWorkflowTables(t *testing.T) {
	ok, err := CanTransition(numbering.TypeOutgoingOrder, StatusConfirmed, StatusInvoiced)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = CanTransition(numbering.TypeShipment, StatusInProgress, StatusCancelled)
	require.NoError(t, err)
	require.False(t, ok)

	next, err := NextStatuses(numbering.TypePurchaseInvoice, StatusDraft)
	require.NoError(t, err)
	require.Equal(t, []Status{StatusConfirmed, StatusCancelled}, next)

	_, err = CanTransition(numbering.TypeManufacturing, StatusDraft, StatusInProgress)
	require.ErrorIs(t, err, ErrUnsupportedType)

	for _, docType := range numbering.AllTypes() {
		if docType == numbering.TypeManufacturing {
			continue
		}
		next, err := NextStatuses(docType, StatusDraft)
		require.NoError(t, err)
		require.Contains(t, next, StatusCancelled, string(docType))
	}
}

func TestDeleteAndRestoreKeepNumbering(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &stubRates{})
	ctx := context.Background()

	doc, err := svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "shipment"}, 1)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, doc.ID, 1))
	require.ErrorIs(t, svc.Delete(ctx, doc.ID, 1), ErrDocumentNotFound)
	_, err = svc.AddItem(ctx, doc.ID, ItemInput{Quantity: dec("1"), UnitPrice: dec("1")}, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)

	listed, err := svc.List(ctx, ListFilter{CompanyID: 1})
	require.NoError(t, err)
	require.Empty(t, listed.Documents)

	next, err := svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "shipment"}, 1)
	require.NoError(t, err)
	require.Equal(t, "SHIP-000002", next.DocNumber)

	restored, err := svc.Restore(ctx, doc.ID, 1)
	require.NoError(t, err)
	require.Nil(t, restored.DeletedAt)
	require.Equal(t, doc.DocNumber, restored.DocNumber)
	require.Equal(t, doc.BookCode, restored.BookCode)
	require.Equal(t, doc.InvoiceNumber, restored.InvoiceNumber)

	_, err = svc.Restore(ctx, doc.ID, 1)
	require.ErrorIs(t, err, ErrNotDeleted)
}

func TestListPaginates(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &stubRates{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, CreateRequest{CompanyID: 4, Type: "service"}, 1)
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, CreateRequest{CompanyID: 4, Type: "quotation"}, 1)
	require.NoError(t, err)

	page, err := svc.List(ctx, ListFilter{CompanyID: 4, Type: numbering.TypeService, Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	require.Equal(t, 5, page.Pagination.Total)
	require.Equal(t, 3, page.Pagination.TotalPages)
	require.Equal(t, "SRV-000003", page.Documents[0].DocNumber)

	_, err = svc.List(ctx, ListFilter{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateSurvivesTransactionRetry(t *testing.T) {
	repo := newMemoryRepo()
	repo.conflicts = 1
	svc := newTestService(repo, &stubRates{})

	doc, err := svc.Create(context.Background(), CreateRequest{
		CompanyID: 1,
		Type:      "quotation",
		Items:     quotationItems(),
	}, 7)
	require.NoError(t, err)
	require.Equal(t, 2, repo.attempts)
	require.Equal(t, "QUO-000001", doc.DocNumber)
	require.Len(t, doc.Items, 2)

	stored, err := repo.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	for _, item := range stored.Items {
		require.NotZero(t, item.ID)
		require.Equal(t, doc.ID, item.DocumentID)
	}
}

func TestReplaceItemsSurvivesTransactionRetry(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubRates{})
	ctx := context.Background()

	doc, err := svc.Create(ctx, CreateRequest{CompanyID: 1, Type: "quotation", Items: quotationItems()}, 7)
	require.NoError(t, err)

	repo.conflicts = 1
	repo.attempts = 0
	updated, err := svc.ReplaceItems(ctx, doc.ID, []ItemInput{
		{Description: "Item3", Quantity: dec("2"), UnitPrice: dec("20")},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, 2, repo.attempts)
	require.Len(t, updated.Items, 1)
	require.Equal(t, "40", updated.Totals.TotalAmount.String())
}
