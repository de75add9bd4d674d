package numbering

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	docNumberWidth  = 6
	bookNumberWidth = 3
)

// FormatDocNumber renders the sequential invoice number with the type prefix, e.g. INV-000051.
func FormatDocNumber(t DocumentType, n int64) (string, error) {
	layout, err := t.Layout()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%0*d", layout.DocPrefix, docNumberWidth, n), nil
}

// FormatBookCode renders the code of book number ledger opened in year.
func FormatBookCode(t DocumentType, year, ledger int) (string, error) {
	layout, err := t.Layout()
	if err != nil {
		return "", err
	}
	switch layout.Style {
	case BookStyleYearly:
		return fmt.Sprintf("%s-%04d-%0*d", layout.BookPrefix, year, bookNumberWidth, ledger), nil
	case BookStylePlain:
		return fmt.Sprintf("%s-BOOK-%0*d", layout.DocPrefix, bookNumberWidth, ledger), nil
	default:
		return "", fmt.Errorf("numbering: unsupported book style %d", layout.Style)
	}
}

// ParseDocNumber extracts the sequential number from a stored document number. Plain integers
// and prefixed values (INV-000051) are accepted; anything else is ErrCorruptSequence.
func ParseDocNumber(t DocumentType, raw string) (int64, error) {
	layout, err := t.Layout()
	if err != nil {
		return 0, err
	}
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, layout.DocPrefix+"-")
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: document number %q", ErrCorruptSequence, raw)
	}
	return n, nil
}

// ParseBookCode extracts the ledger number and, for yearly books, the year from a book code.
func ParseBookCode(t DocumentType, code string) (ledger, year int, err error) {
	layout, err := t.Layout()
	if err != nil {
		return 0, 0, err
	}
	parts := strings.Split(strings.TrimSpace(code), "-")
	corrupt := fmt.Errorf("%w: book code %q", ErrCorruptSequence, code)
	switch layout.Style {
	case BookStyleYearly:
		if len(parts) != 3 || parts[0] != layout.BookPrefix {
			return 0, 0, corrupt
		}
		year, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, corrupt
		}
		ledger, err = strconv.Atoi(parts[2])
		if err != nil || ledger <= 0 {
			return 0, 0, corrupt
		}
		return ledger, year, nil
	case BookStylePlain:
		if len(parts) != 3 || parts[0] != layout.DocPrefix || parts[1] != "BOOK" {
			return 0, 0, corrupt
		}
		ledger, err = strconv.Atoi(parts[2])
		if err != nil || ledger <= 0 {
			return 0, 0, corrupt
		}
		return ledger, 0, nil
	default:
		return 0, 0, corrupt
	}
}
