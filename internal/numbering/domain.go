package numbering

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultCapacity is the number of documents a single book holds.
const DefaultCapacity = 50

// DocumentType enumerates the business categories that own a numbering sequence.
type DocumentType string

const (
	TypeQuotation                DocumentType = "quotation"
	TypeSalesInvoice             DocumentType = "sales_invoice"
	TypeOutgoingOrder            DocumentType = "outgoing_order"
	TypeShipment                 DocumentType = "shipment"
	TypeService                  DocumentType = "service"
	TypeReturnInvoice            DocumentType = "return_invoice"
	TypePurchaseInvoice          DocumentType = "purchase_invoice"
	TypePurchaseReferenceInvoice DocumentType = "purchase_reference_invoice"
	TypeManufacturing            DocumentType = "manufacturing"
)

// Side groups document types by the ledger they post to.
type Side string

const (
	SideSales      Side = "sales"
	SidePurchases  Side = "purchases"
	SideProduction Side = "production"
)

// BookStyle selects how a book code is rendered.
type BookStyle int

const (
	// BookStyleYearly renders {BOOKPREFIX}-{YYYY}-{NNN} and opens a new book each calendar year.
	BookStyleYearly BookStyle = iota + 1
	// BookStylePlain renders {DOCPREFIX}-BOOK-{NNN}.
	BookStylePlain
)

// Layout describes the prefixes and book style of a document type.
type Layout struct {
	DocPrefix  string
	BookPrefix string
	Style      BookStyle
	Side       Side
}

var (
	// ErrUnknownDocumentType is returned for type tags outside the closed set.
	ErrUnknownDocumentType = errors.New("numbering: unknown document type")
	// ErrCorruptSequence indicates a stored number that cannot be parsed.
	ErrCorruptSequence = errors.New("numbering: corrupt stored sequence")
	// ErrInvalidCompany indicates a missing company identifier.
	ErrInvalidCompany = errors.New("numbering: company id required")
)

// AllTypes lists every supported document type.
func AllTypes() []DocumentType {
	return []DocumentType{
		TypeQuotation,
		TypeSalesInvoice,
		TypeOutgoingOrder,
		TypeShipment,
		TypeService,
		TypeReturnInvoice,
		TypePurchaseInvoice,
		TypePurchaseReferenceInvoice,
		TypeManufacturing,
	}
}

// ParseDocumentType converts a raw tag into a DocumentType.
func ParseDocumentType(raw string) (DocumentType, error) {
	t := DocumentType(strings.ToLower(strings.TrimSpace(raw)))
	if _, err := t.Layout(); err != nil {
		return "", err
	}
	return t, nil
}

// Layout returns the numbering layout for the type. Adding a type means adding a case here.
func (t DocumentType) Layout() (Layout, error) {
	switch t {
	case TypeQuotation:
		return Layout{DocPrefix: "QUO", BookPrefix: "BOOK", Style: BookStyleYearly, Side: SideSales}, nil
	case TypeSalesInvoice:
		return Layout{DocPrefix: "INV", BookPrefix: "BOOK", Style: BookStyleYearly, Side: SideSales}, nil
	case TypeOutgoingOrder:
		return Layout{DocPrefix: "ORD", BookPrefix: "BOOK", Style: BookStylePlain, Side: SideSales}, nil
	case TypeShipment:
		return Layout{DocPrefix: "SHIP", BookPrefix: "BOOK", Style: BookStylePlain, Side: SideSales}, nil
	case TypeService:
		return Layout{DocPrefix: "SRV", BookPrefix: "BOOK", Style: BookStylePlain, Side: SideSales}, nil
	case TypeReturnInvoice:
		return Layout{DocPrefix: "RET", BookPrefix: "BOOK", Style: BookStyleYearly, Side: SideSales}, nil
	case TypePurchaseInvoice:
		return Layout{DocPrefix: "PINV", BookPrefix: "LDG", Style: BookStyleYearly, Side: SidePurchases}, nil
	case TypePurchaseReferenceInvoice:
		return Layout{DocPrefix: "PREF", BookPrefix: "LDG", Style: BookStyleYearly, Side: SidePurchases}, nil
	case TypeManufacturing:
		return Layout{DocPrefix: "MF", BookPrefix: "MF", Style: BookStylePlain, Side: SideProduction}, nil
	default:
		return Layout{}, fmt.Errorf("%w: %q", ErrUnknownDocumentType, string(t))
	}
}

// Side reports the ledger side of the type, or an empty Side for unknown types.
func (t DocumentType) Side() Side {
	layout, err := t.Layout()
	if err != nil {
		return ""
	}
	return layout.Side
}

// State is the persisted counter of one (company, type) sequence.
type State struct {
	CompanyID          int64
	Type               DocumentType
	BookCode           string
	BookYear           int
	LedgerNumber       int
	LedgerInvoiceCount int
	InvoiceNumber      int64
	UpdatedAt          time.Time
}

// Empty reports whether the sequence has never issued a number.
func (s State) Empty() bool {
	return s.InvoiceNumber == 0
}

// Numbering is the set of numbering fields written onto a new document.
type Numbering struct {
	State
	DocNumber string
	Rollover  bool
}

// LegacyRecord carries the numbering columns of the latest stored document, as text, so
// sequences created before the counter table existed can be bootstrapped.
type LegacyRecord struct {
	DocNumber          string
	BookCode           string
	LedgerInvoiceCount string
	CreatedAt          time.Time
}
