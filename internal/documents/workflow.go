package documents

import (
	"fmt"
	"slices"

	"github.com/odyssey-erp/odyssey-books/internal/numbering"
	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

type transitions map[Status][]Status

var (
	quotationFlow = transitions{
		StatusDraft:    {StatusSent, StatusCancelled},
		StatusSent:     {StatusApproved, StatusCancelled},
		StatusApproved: {StatusCompleted, StatusCancelled},
	}
	invoiceFlow = transitions{
		StatusDraft:     {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusCompleted, StatusCancelled},
	}
	orderFlow = transitions{
		StatusDraft:      {StatusConfirmed, StatusCancelled},
		StatusConfirmed:  {StatusInProgress, StatusInvoiced, StatusCancelled},
		StatusInProgress: {StatusCompleted, StatusInvoiced},
	}
	shipmentFlow = transitions{
		StatusDraft:      {StatusConfirmed, StatusCancelled},
		StatusConfirmed:  {StatusInProgress, StatusCancelled},
		StatusInProgress: {StatusCompleted},
	}
	serviceFlow = transitions{
		StatusDraft:      {StatusApproved, StatusCancelled},
		StatusApproved:   {StatusInProgress, StatusCancelled},
		StatusInProgress: {StatusCompleted, StatusCancelled},
	}
)

// workflow returns the transition table of a document type.
func workflow(t numbering.DocumentType) (transitions, error) {
	switch t {
	case numbering.TypeQuotation:
		return quotationFlow, nil
	case numbering.TypeSalesInvoice, numbering.TypeReturnInvoice,
		numbering.TypePurchaseInvoice, numbering.TypePurchaseReferenceInvoice:
		return invoiceFlow, nil
	case numbering.TypeOutgoingOrder:
		return orderFlow, nil
	case numbering.TypeShipment:
		return shipmentFlow, nil
	case numbering.TypeService:
		return serviceFlow, nil
	case numbering.TypeManufacturing:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	default:
		return nil, fmt.Errorf("%w: %q", numbering.ErrUnknownDocumentType, string(t))
	}
}

// CanTransition reports whether documents of type t may move from one status to another.
func CanTransition(t numbering.DocumentType, from, to Status) (bool, error) {
	flow, err := workflow(t)
	if err != nil {
		return false, err
	}
	return slices.Contains(flow[from], to), nil
}

// NextStatuses lists the statuses reachable from the given one.
func NextStatuses(t numbering.DocumentType, from Status) ([]Status, error) {
	flow, err := workflow(t)
	if err != nil {
		return nil, err
	}
	return slices.Clone(flow[from]), nil
}

func parseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusDraft, StatusSent, StatusConfirmed, StatusApproved, StatusInProgress,
		StatusCompleted, StatusInvoiced, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", shared.ErrValidation, raw)
	}
}
