package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrProviderUnavailable wraps every failure of a rate provider.
var ErrProviderUnavailable = errors.New("fx: provider unavailable")

// Provider returns the rate table of a base currency: units of each currency per one base unit.
type Provider interface {
	Rates(ctx context.Context, base string) (map[string]decimal.Decimal, error)
}

// HTTPProvider fetches rate tables from an open.er-api style endpoint.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPProvider constructs a provider rooted at baseURL, e.g. https://open.er-api.com/v6/latest.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type ratesResponse struct {
	Result string                     `json:"result"`
	Base   string                     `json:"base_code"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

// Rates performs a single GET of {baseURL}/{BASE}.
func (p *HTTPProvider) Rates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", p.baseURL, normalise(base)), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	var payload ratesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrProviderUnavailable, err)
	}
	if payload.Result != "" && payload.Result != "success" {
		return nil, fmt.Errorf("%w: result %q", ErrProviderUnavailable, payload.Result)
	}
	if len(payload.Rates) == 0 {
		return nil, fmt.Errorf("%w: empty rate table", ErrProviderUnavailable)
	}
	rates := make(map[string]decimal.Decimal, len(payload.Rates))
	for code, rate := range payload.Rates {
		rates[normalise(code)] = rate
	}
	return rates, nil
}
