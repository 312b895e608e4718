package api

import (
	"time"

	"marketquotes/internal/coerce"
	"marketquotes/internal/commodity"
	"marketquotes/internal/market"
	"marketquotes/internal/provider"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type CommodityItem struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Currency      *string `json:"currency"`
	MarketState   *string `json:"marketState"`
}

type CommodityPayload struct {
	LastUpdated string          `json:"lastUpdated"`
	Items       []CommodityItem `json:"items"`
}

type StockItem struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        *string   `json:"volume"`
	High          *float64  `json:"high"`
	Low           *float64  `json:"low"`
	Spark         []float64 `json:"spark"`
}

type IndexItem struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

// MarketPayload omits candles unless they were requested. The empty
// fallback shape carries an empty, present candles object.
type MarketPayload struct {
	LastUpdated string                       `json:"lastUpdated"`
	Stocks      []StockItem                  `json:"stocks"`
	Indices     []IndexItem                  `json:"indices"`
	Candles     map[string][]provider.Candle `json:"candles,omitzero"`
}

func stamp(t time.Time) string { return t.UTC().Format(timestampLayout) }

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalFloat(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

// NewCommodityPayload shapes a resolved commodity result for the wire.
func NewCommodityPayload(res commodity.Result) CommodityPayload {
	items := make([]CommodityItem, 0, len(res.Quotes))
	for _, q := range res.Quotes {
		items = append(items, CommodityItem{
			Symbol:        q.Symbol,
			Name:          q.Name,
			Price:         q.Price,
			Change:        q.Change,
			ChangePercent: q.ChangePercent,
			Currency:      optionalString(q.Currency),
			MarketState:   optionalString(q.MarketState),
		})
	}
	return CommodityPayload{LastUpdated: stamp(res.LastUpdated), Items: items}
}

func emptyCommodity(now time.Time) CommodityPayload {
	return CommodityPayload{LastUpdated: stamp(now), Items: []CommodityItem{}}
}

func stockItem(q provider.Quote) StockItem {
	item := StockItem{
		Symbol:        q.Symbol,
		Name:          q.Name,
		Price:         q.Price,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		High:          optionalFloat(q.High),
		Low:           optionalFloat(q.Low),
		Spark:         q.Spark,
	}
	if q.Volume != 0 {
		if v, ok := coerce.FormatVolume(q.Volume); ok {
			item.Volume = &v
		}
	}
	return item
}

// NewMarketPayload shapes a resolved market result for the wire.
func NewMarketPayload(res market.Result) MarketPayload {
	stocks := make([]StockItem, 0, len(res.Stocks))
	for _, q := range res.Stocks {
		stocks = append(stocks, stockItem(q))
	}
	indices := make([]IndexItem, 0, len(res.Indices))
	for _, q := range res.Indices {
		indices = append(indices, IndexItem{
			Symbol:        q.Symbol,
			Name:          q.Name,
			Price:         q.Price,
			Change:        q.Change,
			ChangePercent: q.ChangePercent,
		})
	}
	return MarketPayload{
		LastUpdated: stamp(res.LastUpdated),
		Stocks:      stocks,
		Indices:     indices,
		Candles:     res.Candles,
	}
}

func emptyMarket(now time.Time) MarketPayload {
	return MarketPayload{
		LastUpdated: stamp(now),
		Stocks:      []StockItem{},
		Indices:     []IndexItem{},
		Candles:     map[string][]provider.Candle{},
	}
}
