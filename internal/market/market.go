// Package market resolves Indian equities, indices and optional daily
// candles, preferring the exchange's own API and falling back to Yahoo.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"marketquotes/internal/aggregate"
	"marketquotes/internal/provider"
	"marketquotes/internal/provider/nse"
	"marketquotes/internal/provider/ratelimit"
)

var (
	// DefaultStocks is used when a request names no valid stock.
	DefaultStocks = []string{
		"RELIANCE.NS", "TCS.NS", "HDFCBANK.NS", "INFY.NS",
		"ICICIBANK.NS", "BHARTIARTL.NS", "SBIN.NS", "WIPRO.NS",
	}
	// DefaultIndices is used when a request names no valid index.
	DefaultIndices = []string{"^NSEI", "^NSEBANK", "^CNXIT"}
)

const (
	DefaultRangeDays = 90
	MaxRangeDays     = 365

	exchangeSuffix     = ".NS"
	defaultConcurrency = 8
	minUsableCandles   = 2
)

//go:generate mockgen -package=markettest -destination=markettest/mock_exchange.go -source=market.go

// Exchange is the subset of the NSE client the service drives.
type Exchange interface {
	Bootstrap(ctx context.Context) (nse.Session, error)
	Equity(ctx context.Context, s nse.Session, symbol string) (provider.Quote, bool, error)
	AllIndices(ctx context.Context, s nse.Session) ([]nse.IndexRow, error)
	Historical(ctx context.Context, s nse.Session, symbol string, rangeDays int) ([]provider.Candle, error)
}

// Request is one resolution.
type Request struct {
	Stocks       []string
	Indices      []string
	Candles      bool
	ChartSymbols []string
	RangeDays    int
}

// Result is a resolved snapshot. Candles is nil unless requested.
type Result struct {
	LastUpdated time.Time
	Stocks      []provider.Quote
	Indices     []provider.Quote
	Candles     map[string][]provider.Candle
}

// Service resolves market snapshots.
type Service struct {
	log         *zap.Logger
	exchange    Exchange
	limiter     *rate.Limiter
	quotes      provider.QuoteSource
	charts      provider.CandleSource
	concurrency int
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithExchangeLimiter gates every exchange call on l.
func WithExchangeLimiter(l *rate.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithConcurrency bounds the per-symbol exchange fan-out.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService wires the exchange with its Yahoo fallbacks for quotes and
// charts.
func NewService(log *zap.Logger, exchange Exchange, quotes provider.QuoteSource, charts provider.CandleSource, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		log:         log.With(zap.String("endpoint", "market")),
		exchange:    exchange,
		quotes:      quotes,
		charts:      charts,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Normalize strips a trailing .NS (any case).
func Normalize(symbol string) string {
	if len(symbol) >= len(exchangeSuffix) && strings.EqualFold(symbol[len(symbol)-len(exchangeSuffix):], exchangeSuffix) {
		return symbol[:len(symbol)-len(exchangeSuffix)]
	}
	return symbol
}

// Resolve builds a snapshot. Stocks, indices and candles are independent
// pipelines; it errors only when both the stock and index pipelines failed
// outright, or on panic.
func (s *Service) Resolve(ctx context.Context, req Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("market pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			res, err = Result{}, fmt.Errorf("market: panic: %v", r)
		}
	}()

	stocks := req.Stocks
	if len(stocks) == 0 {
		stocks = DefaultStocks
	}
	indices := req.Indices
	if len(indices) == 0 {
		indices = DefaultIndices
	}
	rangeDays := req.RangeDays
	if rangeDays <= 0 {
		rangeDays = DefaultRangeDays
	}
	rangeDays = min(rangeDays, MaxRangeDays)

	session := s.bootstrap(ctx)

	normalized := make([]string, len(stocks))
	for i, sym := range stocks {
		normalized[i] = Normalize(sym)
	}

	stockQuotes, stockErr := aggregate.ResolveWithFallback(ctx, s.log, []provider.QuoteSource{
		&equitySource{svc: s, session: session},
		&suffixed{src: s.quotes, suffix: exchangeSuffix},
	}, normalized)

	indexSources := []provider.QuoteSource{s.quotes}
	if session.Valid() {
		indexSources = []provider.QuoteSource{&indexSource{svc: s, session: session}, s.quotes}
	}
	indexQuotes, indexErr := aggregate.ResolveWithFallback(ctx, s.log, indexSources, indices)

	if stockErr != nil && indexErr != nil {
		return Result{}, fmt.Errorf("market: %w", errors.Join(stockErr, indexErr))
	}

	res = Result{
		Stocks:  aggregate.Ordered(normalized, stockQuotes),
		Indices: aggregate.Ordered(indices, indexQuotes),
	}
	if req.Candles {
		chart := req.ChartSymbols
		if len(chart) == 0 {
			chart = normalized
		}
		res.Candles = s.candles(ctx, session, chart, rangeDays)
	}
	res.LastUpdated = s.now().UTC()
	return res, nil
}

func (s *Service) bootstrap(ctx context.Context) nse.Session {
	if err := ratelimit.Wait(ctx, s.limiter); err != nil {
		return nse.Session{}
	}
	session, err := s.exchange.Bootstrap(ctx)
	if err != nil {
		s.log.Warn("exchange session bootstrap failed", zap.String("provider", "nse"), zap.Error(err))
		return nse.Session{}
	}
	return session
}

// candles resolves one series per normalized chart symbol. Every symbol
// gets a key; the series is empty when nothing usable came back.
func (s *Service) candles(ctx context.Context, session nse.Session, symbols []string, rangeDays int) map[string][]provider.Candle {
	var normalized []string
	for _, sym := range symbols {
		normalized = append(normalized, Normalize(strings.TrimSpace(sym)))
	}
	normalized = provider.Dedupe(normalized)

	var mu sync.Mutex
	out := make(map[string][]provider.Candle, len(normalized))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, sym := range normalized {
		g.Go(func() error {
			series := s.series(gctx, session, sym, rangeDays)
			mu.Lock()
			out[sym] = series
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) series(ctx context.Context, session nse.Session, symbol string, rangeDays int) []provider.Candle {
	log := s.log.With(zap.String("symbol", symbol))

	var series []provider.Candle
	if session.Valid() {
		if err := ratelimit.Wait(ctx, s.limiter); err == nil {
			got, err := s.exchange.Historical(ctx, session, symbol, rangeDays)
			if err != nil {
				log.Warn("exchange history failed", zap.String("provider", "nse"), zap.Error(err))
			}
			series = got
		}
	}

	if len(series) < minUsableCandles && s.charts != nil {
		got, err := s.charts.Candles(ctx, symbol+exchangeSuffix, rangeDays)
		switch {
		case err != nil:
			log.Warn("chart fallback failed", zap.String("provider", s.charts.Name()), zap.Error(err))
		case len(got) >= minUsableCandles:
			series = got
		}
	}

	if series == nil {
		series = []provider.Candle{}
	}
	return series
}

// equitySource queries the exchange once per symbol, in parallel. It fails
// only when every symbol failed.
type equitySource struct {
	svc     *Service
	session nse.Session
}

func (e *equitySource) Name() string { return "nse" }

func (e *equitySource) Fetch(ctx context.Context, symbols []string) (map[string]provider.Quote, error) {
	var (
		mu   sync.Mutex
		out  = make(map[string]provider.Quote, len(symbols))
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.svc.concurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			if err := ratelimit.Wait(gctx, e.svc.limiter); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			q, ok, err := e.svc.exchange.Equity(gctx, e.session, sym)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			case ok:
				out[sym] = q
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(symbols) > 0 && len(errs) == len(symbols) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// indexSource matches requested index symbols against one allIndices call.
type indexSource struct {
	svc     *Service
	session nse.Session
}

func (i *indexSource) Name() string { return "nse" }

func (i *indexSource) Fetch(ctx context.Context, symbols []string) (map[string]provider.Quote, error) {
	if err := ratelimit.Wait(ctx, i.svc.limiter); err != nil {
		return nil, err
	}
	rows, err := i.svc.exchange.AllIndices(ctx, i.session)
	if err != nil {
		return nil, err
	}
	out := make(map[string]provider.Quote, len(symbols))
	for _, sym := range symbols {
		if q, ok := nse.IndexQuote(sym, rows); ok {
			out[sym] = q
		}
	}
	return out, nil
}

// suffixed asks src for SYMBOL+suffix and keys the answers by SYMBOL.
type suffixed struct {
	src    provider.QuoteSource
	suffix string
}

func (s *suffixed) Name() string { return s.src.Name() }

func (s *suffixed) Fetch(ctx context.Context, symbols []string) (map[string]provider.Quote, error) {
	tickers := make([]string, len(symbols))
	for i, sym := range symbols {
		tickers[i] = sym + s.suffix
	}
	got, err := s.src.Fetch(ctx, tickers)
	if err != nil {
		return nil, err
	}
	out := make(map[string]provider.Quote, len(got))
	for i, sym := range symbols {
		if q, ok := got[tickers[i]]; ok {
			out[sym] = q
		}
	}
	return out, nil
}
