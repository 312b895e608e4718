// Package commodity resolves the commodities and crypto quote list:
// ordered provider tiers, optional conversion into rupees, request-order
// output.
package commodity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketquotes/internal/aggregate"
	"marketquotes/internal/fx"
	"marketquotes/internal/provider"
)

// DefaultSymbols is used when a request names no valid symbol.
var DefaultSymbols = []string{"GC=F", "SI=F", "CL=F", "BTC-USD", "ETH-USD"}

// UsdInrSymbol is the currency pair that rides along in the Yahoo batch
// when rupee conversion is requested.
const UsdInrSymbol = "USDINR=X"

// LocalCurrency is the only currency that triggers conversion.
const LocalCurrency = "inr"

// IsCrypto reports whether symbol is a USD crypto pair.
func IsCrypto(symbol string) bool {
	return symbol == "BTC-USD" || symbol == "ETH-USD"
}

// Request is one resolution.
type Request struct {
	Symbols  []string
	Currency string
}

// Result is a resolved quote list.
type Result struct {
	LastUpdated time.Time
	Quotes      []provider.Quote
}

// Service runs the tiers.
type Service struct {
	log   *zap.Logger
	tiers []provider.QuoteSource
	rates *fx.RateChain
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the service from tiers in priority order. Wrap the
// tier that can carry the USDINR=X pair with CaptureRate.
func NewService(log *zap.Logger, tiers []provider.QuoteSource, rates *fx.RateChain, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if rates == nil {
		rates = fx.NewRateChain(log)
	}
	s := &Service{log: log.With(zap.String("endpoint", "commodity")), tiers: tiers, rates: rates, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve fetches req.Symbols through the tiers. It errors only when every
// tier failed outright or the pipeline panicked.
func (s *Service) Resolve(ctx context.Context, req Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("commodity pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			res, err = Result{}, fmt.Errorf("commodity: panic: %v", r)
		}
	}()

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	local := strings.EqualFold(req.Currency, LocalCurrency)
	if local {
		ctx = fx.WithHint(ctx, &fx.Hint{})
	}

	quotes, err := aggregate.ResolveWithFallback(ctx, s.log, s.tiers, symbols)
	if err != nil {
		return Result{}, fmt.Errorf("commodity: %w", err)
	}

	if local && len(quotes) > 0 {
		rate := s.rates.Resolve(ctx, LocalCurrency)
		for sym, q := range quotes {
			quotes[sym] = fx.Convert(q, rate, LocalCurrency)
		}
	}

	items := aggregate.Ordered(symbols, quotes)
	for i := range items {
		items[i].Name = items[i].Symbol
		if IsCrypto(items[i].Symbol) {
			items[i].Currency = "USD"
		}
	}
	return Result{LastUpdated: s.now().UTC(), Quotes: items}, nil
}

// CaptureRate wraps a quote source so that, when the request context
// carries an fx.Hint, the pair symbol is appended to the batch and its
// price is recorded in the hint instead of being returned as a quote.
func CaptureRate(src provider.QuoteSource, pair string) provider.QuoteSource {
	return &rateCapture{src: src, pair: pair}
}

type rateCapture struct {
	src  provider.QuoteSource
	pair string
}

func (c *rateCapture) Name() string { return c.src.Name() }

func (c *rateCapture) Fetch(ctx context.Context, symbols []string) (map[string]provider.Quote, error) {
	hint, ok := fx.HintFromContext(ctx)
	if !ok {
		return c.src.Fetch(ctx, symbols)
	}

	asked := false
	batch := make([]string, 0, len(symbols)+1)
	for _, s := range symbols {
		asked = asked || s == c.pair
		batch = append(batch, s)
	}
	if !asked {
		batch = append(batch, c.pair)
	}

	quotes, err := c.src.Fetch(ctx, batch)
	if err != nil {
		return nil, err
	}
	if q, ok := quotes[c.pair]; ok {
		hint.Set(q.Price)
		if !asked {
			delete(quotes, c.pair)
		}
	}
	return quotes, nil
}
