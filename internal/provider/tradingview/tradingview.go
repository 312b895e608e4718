// Package tradingview reads live quotes from the TradingView scanner
// endpoint. The endpoint is undocumented; it is the preferred source for
// commodity futures and crypto pairs because it is fast and batchable.
package tradingview

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"resty.dev/v3"

	"marketquotes/internal/coerce"
	"marketquotes/internal/httpx"
	"marketquotes/internal/provider"
)

const (
	name           = "tradingview"
	defaultBaseURL = "https://scanner.tradingview.com"
)

// DefaultTickers maps canonical symbols to scanner tickers.
var DefaultTickers = map[string]string{
	"GC=F":    "COMEX:GC1!",
	"SI=F":    "COMEX:SI1!",
	"CL=F":    "NYMEX:CL1!",
	"BTC-USD": "BITSTAMP:BTCUSD",
	"ETH-USD": "BITSTAMP:ETHUSD",
}

var columns = []string{"close", "change", "change_abs", "currency_code"}

// Client is a provider.QuoteSource backed by the scanner.
type Client struct {
	baseURL string
	client  *resty.Client
	tickers map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the scanner base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithClient sets the HTTP client.
func WithClient(rc *resty.Client) Option {
	return func(c *Client) { c.client = rc }
}

// WithTickers replaces the canonical symbol to ticker map.
func WithTickers(m map[string]string) Option {
	return func(c *Client) { c.tickers = m }
}

// New creates a scanner client.
func New(opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, tickers: DefaultTickers}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = httpx.New(httpx.Options{})
	}
	return c
}

func (c *Client) Name() string { return name }

type scanRequest struct {
	Symbols scanSymbols `json:"symbols"`
	Columns []string    `json:"columns"`
}

type scanSymbols struct {
	Tickers []string `json:"tickers"`
}

type scanResponse struct {
	Data []scanRow `json:"data"`
}

type scanRow struct {
	S string `json:"s"`
	D []any  `json:"d"`
}

// Fetch asks the scanner for every requested symbol with a known ticker.
// Symbols without a ticker are silently absent from the result.
func (c *Client) Fetch(ctx context.Context, symbols []string) (map[string]provider.Quote, error) {
	requested := provider.Dedupe(symbols)
	tickers := make([]string, 0, len(requested))
	for _, s := range requested {
		if t := c.tickers[s]; t != "" {
			tickers = append(tickers, t)
		}
	}
	out := make(map[string]provider.Quote, len(tickers))
	if len(tickers) == 0 {
		return out, nil
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetHeader("Referer", "https://www.tradingview.com/").
		SetBody(scanRequest{Symbols: scanSymbols{Tickers: tickers}, Columns: columns})
	resp, err := httpx.Do(req, http.MethodPost, c.baseURL+"/global/scan", name)
	if err != nil {
		return nil, err
	}

	var body scanResponse
	if err := json.Unmarshal(resp.Bytes(), &body); err != nil {
		return nil, httpx.NewValidationError(name, "undecodable scan body")
	}

	byTicker := make(map[string]provider.Quote, len(body.Data))
	for _, row := range body.Data {
		if row.S == "" {
			continue
		}
		byTicker[row.S] = toQuote(row.D)
	}

	for _, s := range requested {
		t := c.tickers[s]
		if t == "" {
			continue
		}
		if q, ok := byTicker[t]; ok {
			q.Symbol = s
			out[s] = q
		}
	}
	return out, nil
}

func toQuote(values []any) provider.Quote {
	at := func(i int) any {
		if i < len(values) {
			return values[i]
		}
		return nil
	}
	price := coerce.Number(at(0))
	pct := coerce.Number(at(1))
	change := coerce.Number(at(2))
	if change == 0 {
		change = provider.ChangeFromPercent(price, pct)
	}
	var currency string
	if s, ok := at(3).(string); ok {
		currency = s
	}
	return provider.Quote{
		Price:         price,
		Change:        change,
		ChangePercent: pct,
		Currency:      currency,
	}
}
