// Package nse talks to the NSE India website API. Every API call needs the
// cookies handed out by the home page, so callers first obtain a Session
// with Bootstrap and pass it explicitly to each call.
package nse

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"resty.dev/v3"

	"marketquotes/internal/coerce"
	"marketquotes/internal/httpx"
	"marketquotes/internal/provider"
)

const (
	name           = "nse"
	defaultBaseURL = "https://www.nseindia.com"
	dateLayout     = "02-01-2006"
)

// IndexNames maps canonical index symbols to NSE index names.
var IndexNames = map[string]string{
	"^NSEI":    "NIFTY 50",
	"^NSEBANK": "NIFTY BANK",
	"^CNXIT":   "NIFTY IT",
}

// Session carries the cookie header obtained by Bootstrap. The zero value
// is an unauthenticated session.
type Session struct {
	Cookie string
}

// Valid reports whether the session carries any cookie.
func (s Session) Valid() bool { return s.Cookie != "" }

// Client is the NSE API client.
type Client struct {
	baseURL string
	client  *resty.Client
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the NSE host.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithClient sets the HTTP client.
func WithClient(rc *resty.Client) Option {
	return func(c *Client) { c.client = rc }
}

// WithClock overrides time.Now for the historical date window.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates an NSE client.
func New(opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = httpx.New(httpx.Options{})
	}
	return c
}

func (c *Client) Name() string { return name }

func (c *Client) request(ctx context.Context, s Session) *resty.Request {
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json,text/plain,*/*").
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		SetHeader("Referer", c.baseURL+"/")
	if s.Valid() {
		req.SetHeader("Cookie", s.Cookie)
	}
	return req
}

// Bootstrap loads the home page and collects every Set-Cookie name=value
// pair into a Session.
func (c *Client) Bootstrap(ctx context.Context) (Session, error) {
	resp, err := httpx.Do(c.request(ctx, Session{}), http.MethodGet, c.baseURL+"/", name)
	if err != nil {
		return Session{}, err
	}
	var pairs []string
	for _, raw := range resp.Header().Values("Set-Cookie") {
		pair, _, _ := strings.Cut(raw, ";")
		if pair = strings.TrimSpace(pair); pair != "" {
			pairs = append(pairs, pair)
		}
	}
	return Session{Cookie: strings.Join(pairs, "; ")}, nil
}

func (c *Client) getJSON(ctx context.Context, s Session, path string, params map[string]string, v any) error {
	req := c.request(ctx, s).SetQueryParams(params)
	resp, err := httpx.Do(req, http.MethodGet, c.baseURL+path, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Bytes(), v); err != nil {
		return httpx.NewValidationError(name, "undecodable "+path+" body")
	}
	return nil
}

type equityResponse struct {
	Info struct {
		CompanyName string `json:"companyName"`
		Symbol      string `json:"symbol"`
	} `json:"info"`
	PriceInfo struct {
		LastPrice       coerce.Float `json:"lastPrice"`
		Change          coerce.Float `json:"change"`
		PChange         coerce.Float `json:"pChange"`
		IntraDayHighLow struct {
			Max coerce.Float `json:"max"`
			Min coerce.Float `json:"min"`
		} `json:"intraDayHighLow"`
		DayHigh       coerce.Float    `json:"dayHigh"`
		DayLow        coerce.Float    `json:"dayLow"`
		High          coerce.Float    `json:"high"`
		Low           coerce.Float    `json:"low"`
		IntraDayChart json.RawMessage `json:"intraDayChart"`
	} `json:"priceInfo"`
	SecurityWiseDP struct {
		QuantityTraded coerce.Float `json:"quantityTraded"`
		QtyTraded      coerce.Float `json:"qtyTraded"`
	} `json:"securityWiseDP"`
	MarketDeptOrderBook struct {
		TradeInfo struct {
			TotalTradedVolume   coerce.Float `json:"totalTradedVolume"`
			TotalTradedQuantity coerce.Float `json:"totalTradedQuantity"`
		} `json:"tradeInfo"`
	} `json:"marketDeptOrderBook"`
	GrapthData json.RawMessage `json:"grapthData"`
	GraphData  json.RawMessage `json:"graphData"`
}

// Equity fetches one stock by its bare NSE symbol (no .NS suffix). The
// returned quote is keyed "SYMBOL.NS". ok is false when the payload carries
// no price.
func (c *Client) Equity(ctx context.Context, s Session, symbol string) (provider.Quote, bool, error) {
	var body equityResponse
	if err := c.getJSON(ctx, s, "/api/quote-equity", map[string]string{"symbol": symbol}, &body); err != nil {
		return provider.Quote{}, false, err
	}
	if body.PriceInfo.LastPrice.Value() <= 0 {
		return provider.Quote{}, false, nil
	}
	return body.quote(symbol), true, nil
}

func (r equityResponse) quote(symbol string) provider.Quote {
	display := symbol
	switch {
	case r.Info.CompanyName != "":
		display = r.Info.CompanyName
	case r.Info.Symbol != "":
		display = r.Info.Symbol
	}
	pi := r.PriceInfo
	dp := r.SecurityWiseDP
	ti := r.MarketDeptOrderBook.TradeInfo
	return provider.Quote{
		Symbol:        symbol + ".NS",
		Name:          display,
		Price:         pi.LastPrice.Value(),
		Change:        pi.Change.Value(),
		ChangePercent: pi.PChange.Value(),
		Volume:        coerce.First(dp.QuantityTraded, dp.QtyTraded, ti.TotalTradedVolume, ti.TotalTradedQuantity),
		High:          coerce.First(pi.IntraDayHighLow.Max, pi.DayHigh, pi.High),
		Low:           coerce.First(pi.IntraDayHighLow.Min, pi.DayLow, pi.Low),
		Spark:         spark(r.GrapthData, r.GraphData, pi.IntraDayChart),
	}
}

type sparkPoint struct {
	Value     *coerce.Float `json:"value"`
	LastPrice *coerce.Float `json:"lastPrice"`
	Price     *coerce.Float `json:"price"`
}

// spark takes the first candidate that is a JSON array. Points are either
// objects with a value/lastPrice/price field or [timestamp, price] pairs.
// Fewer than two positive points means no spark.
func spark(candidates ...json.RawMessage) []float64 {
	var points []json.RawMessage
	found := false
	for _, raw := range candidates {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		if err := json.Unmarshal(raw, &points); err == nil {
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	values := make([]float64, 0, len(points))
	for _, p := range points {
		if v := pointValue(p); v > 0 {
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return nil
	}
	return values
}

func pointValue(raw json.RawMessage) float64 {
	var pair []coerce.Float
	if err := json.Unmarshal(raw, &pair); err == nil {
		if len(pair) >= 2 {
			return pair[1].Value()
		}
		return 0
	}
	var obj sparkPoint
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0
	}
	for _, f := range []*coerce.Float{obj.Value, obj.LastPrice, obj.Price} {
		if f != nil {
			return f.Value()
		}
	}
	return 0
}

// IndexRow is one entry of the allIndices listing.
type IndexRow struct {
	Index         string       `json:"index"`
	Name          string       `json:"name"`
	Last          coerce.Float `json:"last"`
	LastPrice     coerce.Float `json:"lastPrice"`
	Value         coerce.Float `json:"value"`
	Variation     coerce.Float `json:"variation"`
	Change        coerce.Float `json:"change"`
	PercentChange coerce.Float `json:"percentChange"`
	PChange       coerce.Float `json:"pChange"`
	ChangePercent coerce.Float `json:"changePercent"`
}

type allIndicesResponse struct {
	Data []IndexRow `json:"data"`
}

// AllIndices lists every NSE index.
func (c *Client) AllIndices(ctx context.Context, s Session) ([]IndexRow, error) {
	var body allIndicesResponse
	if err := c.getJSON(ctx, s, "/api/allIndices", nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// IndexQuote finds the row for a canonical index symbol, matching by the
// NSE index name case-insensitively. Symbols without a known name never
// match.
func IndexQuote(symbol string, rows []IndexRow) (provider.Quote, bool) {
	want, ok := IndexNames[symbol]
	if !ok {
		return provider.Quote{}, false
	}
	for _, row := range rows {
		if !strings.EqualFold(row.Index, want) {
			continue
		}
		return provider.Quote{
			Symbol:        symbol,
			Name:          want,
			Price:         coerce.First(row.Last, row.LastPrice, row.Value),
			Change:        coerce.First(row.Variation, row.Change),
			ChangePercent: coerce.First(row.PercentChange, row.PChange, row.ChangePercent),
		}, true
	}
	return provider.Quote{}, false
}

type historicalRow struct {
	ChTimestamp      text          `json:"CH_TIMESTAMP"`
	Timestamp        text          `json:"TIMESTAMP"`
	LowerTimestamp   text          `json:"timestamp"`
	Date             text          `json:"date"`
	ChOpeningPrice   *coerce.Float `json:"CH_OPENING_PRICE"`
	Open             coerce.Float  `json:"open"`
	ChTradeHighPrice *coerce.Float `json:"CH_TRADE_HIGH_PRICE"`
	High             coerce.Float  `json:"high"`
	ChTradeLowPrice  *coerce.Float `json:"CH_TRADE_LOW_PRICE"`
	Low              coerce.Float  `json:"low"`
	ChClosingPrice   *coerce.Float `json:"CH_CLOSING_PRICE"`
	Close            coerce.Float  `json:"close"`
	ChTotTradedQty   *coerce.Float `json:"CH_TOT_TRADED_QTY"`
	Volume           coerce.Float  `json:"volume"`
}

// text decodes a JSON string as-is and any other scalar as its literal.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = text(s)
		return nil
	}
	if raw := strings.TrimSpace(string(b)); raw != "null" {
		*t = text(raw)
	}
	return nil
}

func prefer(primary *coerce.Float, fallback coerce.Float) float64 {
	if primary != nil {
		return primary.Value()
	}
	return fallback.Value()
}

func (r historicalRow) candle() (provider.Candle, bool) {
	raw := r.ChTimestamp
	for _, alt := range []text{r.Timestamp, r.LowerTimestamp, r.Date} {
		if raw != "" {
			break
		}
		raw = alt
	}
	day, ok := coerce.ParseProviderDate(string(raw))
	if !ok {
		return provider.Candle{}, false
	}
	return provider.Candle{
		Timestamp: day.UnixMilli(),
		Open:      prefer(r.ChOpeningPrice, r.Open),
		High:      prefer(r.ChTradeHighPrice, r.High),
		Low:       prefer(r.ChTradeLowPrice, r.Low),
		Close:     prefer(r.ChClosingPrice, r.Close),
		Volume:    prefer(r.ChTotTradedQty, r.Volume),
	}, true
}

// PaddedDays widens a lookback so weekends and holidays still leave about
// rangeDays trading sessions in the window.
func PaddedDays(rangeDays int) int {
	padded := int(math.Round(float64(rangeDays) * 1.6))
	return min(365, max(2, padded))
}

// Historical fetches daily equity candles for a bare NSE symbol and trims
// them to roughly rangeDays bars from the end.
func (c *Client) Historical(ctx context.Context, s Session, symbol string, rangeDays int) ([]provider.Candle, error) {
	to := c.now()
	from := to.AddDate(0, 0, -PaddedDays(rangeDays))

	req := c.request(ctx, s).SetQueryParams(map[string]string{
		"symbol": symbol,
		"series": `["EQ"]`,
		"from":   from.Format(dateLayout),
		"to":     to.Format(dateLayout),
	})
	resp, err := httpx.Do(req, http.MethodGet, c.baseURL+"/api/historical/cm/equity", name)
	if err != nil {
		return nil, err
	}

	rows := decodeHistorical(resp.Bytes())
	candles := make([]provider.Candle, 0, len(rows))
	for _, row := range rows {
		if cd, ok := row.candle(); ok {
			candles = append(candles, cd)
		}
	}
	candles = provider.CleanCandles(candles)
	if len(candles) == 0 {
		return nil, nil
	}
	return trim(candles, rangeDays), nil
}

// decodeHistorical accepts either {"data": [...]} or a bare array.
func decodeHistorical(b []byte) []historicalRow {
	var wrapped struct {
		Data []historicalRow `json:"data"`
	}
	if err := json.Unmarshal(b, &wrapped); err == nil {
		return wrapped.Data
	}
	var bare []historicalRow
	if err := json.Unmarshal(b, &bare); err == nil {
		return bare
	}
	return nil
}

func trim(candles []provider.Candle, rangeDays int) []provider.Candle {
	keep := rangeDays + 5
	if rangeDays <= 1 {
		keep = 2
	}
	if len(candles) > keep {
		return candles[len(candles)-keep:]
	}
	return candles
}
