package numbering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// SequenceTx exposes the sequence operations available inside a transaction.
type SequenceTx interface {
	// LockSequence reads the counter row with a row lock. ok is false when no number was ever issued.
	LockSequence(ctx context.Context, companyID int64, docType DocumentType) (state State, ok bool, err error)
	// LatestDocument returns the numbering columns of the newest stored document of the type.
	LatestDocument(ctx context.Context, companyID int64, docType DocumentType) (record LegacyRecord, ok bool, err error)
	SaveSequence(ctx context.Context, state State) error
}

// Store opens transactions for standalone allocations.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, SequenceTx) error) error
}

// Locker serialises allocations for a (company, type) pair across callers.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Recorder receives allocation events for metrics.
type Recorder interface {
	RecordAllocation(docType string, rollover bool)
}

// Config tunes the allocator.
type Config struct {
	Capacity int
	Now      func() time.Time
}

// Allocator issues document numbers and book codes.
type Allocator struct {
	store    Store
	locker   Locker
	recorder Recorder
	logger   *slog.Logger
	capacity int
	now      func() time.Time
}

// NewAllocator constructs an Allocator. locker, recorder and logger are optional.
func NewAllocator(store Store, locker Locker, recorder Recorder, logger *slog.Logger, cfg Config) *Allocator {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Allocator{store: store, locker: locker, recorder: recorder, logger: logger, capacity: capacity, now: now}
}

// Lock acquires the allocation lock of a sequence. Callers running AllocateTx inside their own
// transaction hold it until that transaction has committed.
func (a *Allocator) Lock(ctx context.Context, companyID int64, docType DocumentType) (func(), error) {
	if companyID <= 0 {
		return nil, ErrInvalidCompany
	}
	if _, err := docType.Layout(); err != nil {
		return nil, err
	}
	return a.locker.Lock(ctx, LockKey(companyID, docType))
}

// Allocate issues the next numbering in its own transaction.
func (a *Allocator) Allocate(ctx context.Context, companyID int64, docType DocumentType) (Numbering, error) {
	if a.store == nil {
		return Numbering{}, errors.New("numbering: store not configured")
	}
	unlock, err := a.Lock(ctx, companyID, docType)
	if err != nil {
		return Numbering{}, err
	}
	defer unlock()

	var result Numbering
	err = a.store.WithTx(ctx, func(ctx context.Context, tx SequenceTx) error {
		var allocErr error
		result, allocErr = a.AllocateTx(ctx, tx, companyID, docType)
		return allocErr
	})
	if err != nil {
		return Numbering{}, err
	}
	return result, nil
}

// AllocateTx issues the next numbering using the caller's transaction. The new counter is
// persisted through tx, so it commits or rolls back with the caller's writes.
func (a *Allocator) AllocateTx(ctx context.Context, tx SequenceTx, companyID int64, docType DocumentType) (Numbering, error) {
	if companyID <= 0 {
		return Numbering{}, ErrInvalidCompany
	}
	if _, err := docType.Layout(); err != nil {
		return Numbering{}, err
	}

	prev, ok, err := tx.LockSequence(ctx, companyID, docType)
	if err != nil {
		return Numbering{}, fmt.Errorf("numbering: lock sequence: %w", err)
	}
	if !ok {
		prev, err = a.bootstrap(ctx, tx, companyID, docType)
		if err != nil {
			return Numbering{}, err
		}
	}

	next, err := Next(prev, a.now(), a.capacity)
	if err != nil {
		return Numbering{}, err
	}
	next.UpdatedAt = a.now()
	if err := tx.SaveSequence(ctx, next.State); err != nil {
		return Numbering{}, fmt.Errorf("numbering: save sequence: %w", err)
	}

	if a.recorder != nil {
		a.recorder.RecordAllocation(string(docType), next.Rollover)
	}
	if next.Rollover {
		a.logger.Info("numbering book rollover",
			slog.Int64("company_id", companyID),
			slog.String("type", string(docType)),
			slog.String("book_code", next.BookCode),
			slog.Int("ledger_number", next.LedgerNumber))
	}
	return next, nil
}

// bootstrap derives the previous state from the latest stored document when the counter row is
// missing. Values that cannot be parsed are refused instead of restarting the sequence.
func (a *Allocator) bootstrap(ctx context.Context, tx SequenceTx, companyID int64, docType DocumentType) (State, error) {
	empty := State{CompanyID: companyID, Type: docType}
	record, ok, err := tx.LatestDocument(ctx, companyID, docType)
	if err != nil {
		return State{}, fmt.Errorf("numbering: latest document: %w", err)
	}
	if !ok {
		return empty, nil
	}
	state, err := stateFromRecord(companyID, docType, record)
	if err != nil {
		a.logger.Error("numbering bootstrap refused",
			slog.Int64("company_id", companyID),
			slog.String("type", string(docType)),
			slog.Any("error", err))
		return State{}, err
	}
	return state, nil
}

func stateFromRecord(companyID int64, docType DocumentType, record LegacyRecord) (State, error) {
	invoice, err := ParseDocNumber(docType, record.DocNumber)
	if err != nil {
		return State{}, err
	}
	ledger, year, err := ParseBookCode(docType, record.BookCode)
	if err != nil {
		return State{}, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(record.LedgerInvoiceCount))
	if err != nil || count <= 0 {
		return State{}, fmt.Errorf("%w: ledger invoice count %q", ErrCorruptSequence, record.LedgerInvoiceCount)
	}
	if year == 0 && !record.CreatedAt.IsZero() {
		year = record.CreatedAt.Year()
	}
	return State{
		CompanyID:          companyID,
		Type:               docType,
		BookCode:           strings.TrimSpace(record.BookCode),
		BookYear:           year,
		LedgerNumber:       ledger,
		LedgerInvoiceCount: count,
		InvoiceNumber:      invoice,
	}, nil
}

// Next computes the numbering that follows prev. An empty prev opens book 1 with invoice 1.
// A full book, or a new calendar year for yearly books, opens the next book; the invoice
// number always advances by one.
func Next(prev State, now time.Time, capacity int) (Numbering, error) {
	layout, err := prev.Type.Layout()
	if err != nil {
		return Numbering{}, err
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	year := now.Year()

	next := prev
	next.InvoiceNumber = prev.InvoiceNumber + 1
	rollover := false
	switch {
	case prev.Empty() || prev.LedgerNumber <= 0:
		next.LedgerNumber = 1
		next.LedgerInvoiceCount = 1
		next.BookYear = year
	case prev.LedgerInvoiceCount >= capacity:
		rollover = true
	case layout.Style == BookStyleYearly && prev.BookYear != 0 && prev.BookYear != year:
		rollover = true
	default:
		next.LedgerInvoiceCount = prev.LedgerInvoiceCount + 1
	}
	if rollover {
		next.LedgerNumber = prev.LedgerNumber + 1
		next.LedgerInvoiceCount = 1
		next.BookYear = year
	}
	if next.BookYear == 0 {
		next.BookYear = year
	}

	if prev.Empty() || rollover || next.BookCode == "" {
		next.BookCode, err = FormatBookCode(prev.Type, next.BookYear, next.LedgerNumber)
		if err != nil {
			return Numbering{}, err
		}
	}
	docNumber, err := FormatDocNumber(prev.Type, next.InvoiceNumber)
	if err != nil {
		return Numbering{}, err
	}
	return Numbering{State: next, DocNumber: docNumber, Rollover: rollover}, nil
}

// LockKey builds the lock key of a (company, type) sequence.
func LockKey(companyID int64, docType DocumentType) string {
	return fmt.Sprintf("numbering:%d:%s:lock", companyID, docType)
}
