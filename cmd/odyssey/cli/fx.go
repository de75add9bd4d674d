package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-books/internal/fx"
)

// QuoteSource resolves exchange rates; fx.Resolver satisfies it.
type QuoteSource interface {
	Base() string
	Quote(ctx context.Context, currency string) fx.Quote
}

// FXOpsCLI offers operational helpers around exchange rates.
type FXOpsCLI struct {
	source QuoteSource
}

// NewFXOpsCLI constructs a new helper instance.
func NewFXOpsCLI(source QuoteSource) (*FXOpsCLI, error) {
	if source == nil {
		return nil, errors.New("fx cli: quote source required")
	}
	return &FXOpsCLI{source: source}, nil
}

// FXQuoteOptions defines available flags for the fx quote command.
type FXQuoteOptions struct {
	Currencies []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// FXQuoteSummary describes the JSON response for fx quote.
type FXQuoteSummary struct {
	OK     bool       `json:"ok"`
	Base   string     `json:"base"`
	Quotes []fx.Quote `json:"quotes"`
}

// QuoteCommand resolves every requested currency and prints the outcome. It exits with 10 when
// any quote fell back to 1.0.
func (c *FXOpsCLI) QuoteCommand(ctx context.Context, opts FXQuoteOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	codes := normaliseCodes(opts.Currencies)
	if len(codes) == 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "fx quote: at least one currency is required")
		return 1
	}
	for _, code := range codes {
		if len(code) != 3 {
			_, _ = fmt.Fprintf(opts.Stderr, "fx quote: invalid currency %q\n", code)
			return 1
		}
	}

	summary := FXQuoteSummary{OK: true, Base: c.source.Base(), Quotes: make([]fx.Quote, 0, len(codes))}
	for _, code := range codes {
		quote := c.source.Quote(ctx, code)
		if quote.Source == fx.SourceFallback {
			summary.OK = false
		}
		summary.Quotes = append(summary.Quotes, quote)
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "fx quote: encode json: %v\n", err)
			return 1
		}
	} else {
		renderQuotesHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func normaliseCodes(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	codes := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			code := strings.ToUpper(strings.TrimSpace(part))
			if code == "" {
				continue
			}
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

func renderQuotesHuman(out io.Writer, summary FXQuoteSummary) {
	_, _ = fmt.Fprintf(out, "Rates against %s:\n", summary.Base)
	for _, q := range summary.Quotes {
		_, _ = fmt.Fprintf(out, " - %s %s (%s)\n", q.Currency, q.Rate.String(), q.Source)
	}
	if !summary.OK {
		_, _ = fmt.Fprintln(out, "Some rates fell back to 1.0; check the provider.")
	}
}
