package provider

import (
	"context"
	"math"
)

// Quote is the normalized snapshot every adapter emits. Zero values mean
// the upstream did not supply the field; the API layer renders them as null.
type Quote struct {
	Symbol        string
	Name          string
	Price         float64
	Change        float64
	ChangePercent float64
	Currency      string
	MarketState   string
	Volume        float64
	High          float64
	Low           float64
	Spark         []float64
}

// Candle is one OHLCV bar. Timestamp is epoch milliseconds.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Empty reports whether the bar carries no prices at all.
func (c Candle) Empty() bool {
	return c.Open == 0 && c.High == 0 && c.Low == 0 && c.Close == 0
}

// QuoteSource fetches quotes for a batch of canonical symbols. The result is
// keyed by canonical symbol and only contains symbols the upstream answered.
//
//go:generate mockgen -package=providertest -destination=providertest/mock_provider.go -source=provider.go
type QuoteSource interface {
	Name() string
	Fetch(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// CandleSource fetches a daily-ish candle series for one symbol.
type CandleSource interface {
	Name() string
	Candles(ctx context.Context, symbol string, rangeDays int) ([]Candle, error)
}

// Dedupe drops empty and repeated symbols, keeping first-seen order.
func Dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ChangeFromPercent derives an absolute change from a price and the percent
// move that produced it. It returns 0 when the implied prior price cannot
// be computed.
func ChangeFromPercent(price, pct float64) float64 {
	ratio := 1 + pct/100
	if ratio == 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0
	}
	prev := price / ratio
	if math.IsNaN(prev) || math.IsInf(prev, 0) {
		return 0
	}
	return price - prev
}
