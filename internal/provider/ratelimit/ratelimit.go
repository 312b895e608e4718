// Package ratelimit gates calls to an upstream with a token bucket shared
// by every request that reaches that upstream.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"marketquotes/internal/fx"
	"marketquotes/internal/provider"
)

// NewLimiter builds the limiter for one upstream. A positive minInterval
// wins and allows one call per interval; otherwise rps and burst configure
// the bucket. It returns nil (unlimited) when neither is set.
func NewLimiter(rps float64, burst int, minInterval time.Duration) *rate.Limiter {
	switch {
	case minInterval > 0:
		return rate.NewLimiter(rate.Every(minInterval), 1)
	case rps > 0:
		return rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
	return nil
}

// Wait blocks until l allows one call or ctx ends. A nil limiter never
// blocks.
func Wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// Quotes wraps a QuoteSource so every Fetch takes one token first.
type Quotes struct {
	P provider.QuoteSource
	L *rate.Limiter
}

func (q *Quotes) Name() string { return q.P.Name() }

func (q *Quotes) Fetch(ctx context.Context, symbols []string) (map[string]provider.Quote, error) {
	if err := Wait(ctx, q.L); err != nil {
		return nil, err
	}
	return q.P.Fetch(ctx, symbols)
}

// Candles wraps a CandleSource the same way.
type Candles struct {
	P provider.CandleSource
	L *rate.Limiter
}

func (c *Candles) Name() string { return c.P.Name() }

func (c *Candles) Candles(ctx context.Context, symbol string, rangeDays int) ([]provider.Candle, error) {
	if err := Wait(ctx, c.L); err != nil {
		return nil, err
	}
	return c.P.Candles(ctx, symbol, rangeDays)
}

// Rates wraps an fx.RateSource the same way.
type Rates struct {
	P fx.RateSource
	L *rate.Limiter
}

func (r *Rates) Name() string { return r.P.Name() }

func (r *Rates) Rate(ctx context.Context, currency string) (float64, error) {
	if err := Wait(ctx, r.L); err != nil {
		return 0, err
	}
	return r.P.Rate(ctx, currency)
}

// WrapQuotes returns src unchanged when l is nil.
func WrapQuotes(src provider.QuoteSource, l *rate.Limiter) provider.QuoteSource {
	if l == nil {
		return src
	}
	return &Quotes{P: src, L: l}
}

// WrapCandles returns src unchanged when l is nil.
func WrapCandles(src provider.CandleSource, l *rate.Limiter) provider.CandleSource {
	if l == nil {
		return src
	}
	return &Candles{P: src, L: l}
}

// WrapRates returns src unchanged when l is nil.
func WrapRates(src fx.RateSource, l *rate.Limiter) fx.RateSource {
	if l == nil {
		return src
	}
	return &Rates{P: src, L: l}
}
