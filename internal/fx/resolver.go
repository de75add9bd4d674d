// Package fx resolves currency conversion rates. Resolution never fails: pinned currencies are
// 1.0 and any provider failure degrades to 1.0.
package fx

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Source records where a quote came from.
type Source string

const (
	SourcePinned   Source = "pinned"
	SourceCache    Source = "cache"
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
)

// DefaultPinned lists the currencies always resolved to 1.0.
var DefaultPinned = []string{"USD", "SAR", "ILS", "JOD"}

// Quote is a resolved rate with its provenance.
type Quote struct {
	Currency  string          `json:"currency"`
	Base      string          `json:"base"`
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
	Source    Source          `json:"source"`
}

// Recorder receives lookup events for metrics.
type Recorder interface {
	RecordFXLookup(source string)
	RecordFXFallback(currency string)
}

// Config tunes the Resolver.
type Config struct {
	Base    string
	Pinned  []string
	Timeout time.Duration
	Now     func() time.Time
}

// Resolver looks up rates through cache and provider with a fallback of 1.0.
type Resolver struct {
	provider Provider
	cache    Cache
	recorder Recorder
	logger   *slog.Logger
	base     string
	pinned   map[string]struct{}
	timeout  time.Duration
	now      func() time.Time
	group    singleflight.Group
}

var one = decimal.NewFromInt(1)

// NewResolver constructs a Resolver. cache, recorder and logger are optional.
func NewResolver(provider Provider, cache Cache, recorder Recorder, logger *slog.Logger, cfg Config) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	base := normalise(cfg.Base)
	if base == "" {
		base = "USD"
	}
	pinnedCodes := cfg.Pinned
	if pinnedCodes == nil {
		pinnedCodes = DefaultPinned
	}
	pinned := make(map[string]struct{}, len(pinnedCodes))
	for _, code := range pinnedCodes {
		if code = normalise(code); code != "" {
			pinned[code] = struct{}{}
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		provider: provider,
		cache:    cache,
		recorder: recorder,
		logger:   logger,
		base:     base,
		pinned:   pinned,
		timeout:  timeout,
		now:      now,
	}
}

// Base returns the base currency of the rate tables.
func (r *Resolver) Base() string {
	return r.base
}

// IsPinned reports whether currency always resolves to 1.0.
func (r *Resolver) IsPinned(currency string) bool {
	code := normalise(currency)
	if code == r.base {
		return true
	}
	_, ok := r.pinned[code]
	return ok
}

// Resolve returns a strictly positive rate for currency.
func (r *Resolver) Resolve(ctx context.Context, currency string) decimal.Decimal {
	return r.Quote(ctx, currency).Rate
}

// Quote resolves currency and reports the source of the rate.
func (r *Resolver) Quote(ctx context.Context, currency string) Quote {
	code := normalise(currency)
	if code == "" || r.IsPinned(code) {
		r.recordLookup(SourcePinned)
		return Quote{Currency: code, Base: r.base, Rate: one, FetchedAt: r.now(), Source: SourcePinned}
	}

	if r.cache != nil {
		quote, ok, err := r.cache.Get(ctx, r.base, code)
		if err != nil {
			r.logger.Warn("fx cache read", slog.String("currency", code), slog.Any("error", err))
		} else if ok && quote.Rate.IsPositive() {
			r.recordLookup(SourceCache)
			return quote
		}
	}

	rates, err := r.fetch(ctx)
	if err != nil {
		return r.fallback(code, err)
	}
	rate, ok := rates[code]
	if !ok || !rate.IsPositive() {
		return r.fallback(code, errors.New("rate missing from provider table"))
	}
	r.recordLookup(SourceLive)
	return Quote{Currency: code, Base: r.base, Rate: rate, FetchedAt: r.now(), Source: SourceLive}
}

// Refresh fetches the full rate table and stores it in the cache. It returns the number of
// rates stored.
func (r *Resolver) Refresh(ctx context.Context) (int, error) {
	rates, err := r.fetch(ctx)
	if err != nil {
		return 0, err
	}
	return len(rates), nil
}

// fetch loads the base table once for all concurrent callers and caches every usable rate.
func (r *Resolver) fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	if r.provider == nil {
		return nil, ErrProviderUnavailable
	}
	ch := r.group.DoChan(r.base, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		raw, err := r.provider.Rates(fetchCtx, r.base)
		if err != nil {
			return nil, err
		}
		rates := make(map[string]decimal.Decimal, len(raw))
		for code, rate := range raw {
			if rate.IsPositive() {
				rates[normalise(code)] = rate
			}
		}
		if r.cache != nil {
			if err := r.cache.SetMany(fetchCtx, r.base, rates, r.now()); err != nil {
				r.logger.Warn("fx cache write", slog.String("base", r.base), slog.Any("error", err))
			}
		}
		return rates, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]decimal.Decimal), nil
	}
}

func (r *Resolver) fallback(code string, cause error) Quote {
	r.logger.Warn("fx rate fallback",
		slog.String("currency", code),
		slog.String("base", r.base),
		slog.Any("error", cause))
	r.recordLookup(SourceFallback)
	if r.recorder != nil {
		r.recorder.RecordFXFallback(code)
	}
	return Quote{Currency: code, Base: r.base, Rate: one, FetchedAt: r.now(), Source: SourceFallback}
}

func (r *Resolver) recordLookup(source Source) {
	if r.recorder != nil {
		r.recorder.RecordFXLookup(string(source))
	}
}

func normalise(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
