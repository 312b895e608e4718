// Package fx converts USD commodity quotes into a local currency and
// display unit, and resolves the USD exchange rate from a chain of sources.
package fx

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"marketquotes/internal/provider"
)

const troyOunceGrams = 31.1034768

// Units maps symbols quoted in USD per troy ounce or barrel to the
// multiplier for the local display unit. Only these symbols are converted.
var Units = map[string]float64{
	"GC=F": 10 / troyOunceGrams,   // per 10 g
	"SI=F": 1000 / troyOunceGrams, // per kg
	"CL=F": 1,                     // per barrel
}

// Convert scales price and change by rate and the symbol's unit multiplier
// and relabels the currency. Percent change is unit free and kept as is.
// Symbols outside Units are returned unchanged.
func Convert(q provider.Quote, rate float64, currency string) provider.Quote {
	m, ok := Units[q.Symbol]
	if !ok {
		return q
	}
	q.Price *= rate * m
	q.Change *= rate * m
	q.Currency = strings.ToUpper(currency)
	return q
}

// RateSource reports how many units of currency one USD buys. Zero with a
// nil error means the source had no usable rate.
//
//go:generate mockgen -package=fxtest -destination=fxtest/mock_rate.go -source=fx.go
type RateSource interface {
	Name() string
	Rate(ctx context.Context, currency string) (float64, error)
}

// Hint carries a rate observed as a side effect of an earlier call in the
// same request, such as a USDINR=X row riding along in a quote batch.
type Hint struct {
	mu   sync.Mutex
	rate float64
}

// Set records rate; non-positive values are ignored.
func (h *Hint) Set(rate float64) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return
	}
	h.mu.Lock()
	h.rate = rate
	h.mu.Unlock()
}

// Get returns the recorded rate or 0.
func (h *Hint) Get() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rate
}

type hintKey struct{}

// WithHint attaches h to ctx.
func WithHint(ctx context.Context, h *Hint) context.Context {
	return context.WithValue(ctx, hintKey{}, h)
}

// HintFromContext returns the hint attached to ctx, if any.
func HintFromContext(ctx context.Context) (*Hint, bool) {
	h, ok := ctx.Value(hintKey{}).(*Hint)
	return h, ok && h != nil
}

// HintSource is a RateSource reading the request's Hint.
type HintSource struct{}

func (HintSource) Name() string { return "quote-batch" }

func (HintSource) Rate(ctx context.Context, _ string) (float64, error) {
	if h, ok := HintFromContext(ctx); ok {
		return h.Get(), nil
	}
	return 0, nil
}

// RateChain tries its sources in order and settles on the first positive
// finite rate.
type RateChain struct {
	log     *zap.Logger
	sources []RateSource
}

// NewRateChain builds a chain over sources.
func NewRateChain(log *zap.Logger, sources ...RateSource) *RateChain {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateChain{log: log, sources: sources}
}

// Resolve returns the USD to currency rate, or 1 when no source has one so
// that conversion degrades to a no-op.
func (c *RateChain) Resolve(ctx context.Context, currency string) float64 {
	for _, src := range c.sources {
		rate, err := c.try(ctx, src, currency)
		if err != nil {
			c.log.Debug("rate source failed", zap.String("provider", src.Name()), zap.String("currency", currency), zap.Error(err))
			continue
		}
		if rate > 0 && !math.IsInf(rate, 0) && !math.IsNaN(rate) {
			c.log.Debug("rate resolved", zap.String("provider", src.Name()), zap.String("currency", currency), zap.Float64("rate", rate))
			return rate
		}
	}
	c.log.Debug("no rate source answered; using 1", zap.String("currency", currency))
	return 1
}

func (c *RateChain) try(ctx context.Context, src RateSource, currency string) (rate float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			rate, err = 0, fmt.Errorf("%s: panic: %v", src.Name(), r)
		}
	}()
	return src.Rate(ctx, currency)
}
