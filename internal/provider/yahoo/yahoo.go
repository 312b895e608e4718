// Package yahoo reads quotes and chart candles from the public Yahoo
// Finance query endpoints.
package yahoo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"resty.dev/v3"

	"marketquotes/internal/coerce"
	"marketquotes/internal/httpx"
	"marketquotes/internal/provider"
)

const (
	name           = "yahoo"
	defaultBaseURL = "https://query1.finance.yahoo.com"
)

// Client implements provider.QuoteSource and provider.CandleSource.
type Client struct {
	baseURL string
	client  *resty.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the query host.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithClient sets the HTTP client.
func WithClient(rc *resty.Client) Option {
	return func(c *Client) { c.client = rc }
}

// New creates a Yahoo client.
func New(opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = httpx.New(httpx.Options{})
	}
	return c
}

func (c *Client) Name() string { return name }

type quoteResponse struct {
	QuoteResponse struct {
		Result []quoteRow `json:"result"`
	} `json:"quoteResponse"`
}

type quoteRow struct {
	Symbol                     string       `json:"symbol"`
	LongName                   string       `json:"longName"`
	ShortName                  string       `json:"shortName"`
	DisplayName                string       `json:"displayName"`
	Currency                   string       `json:"currency"`
	MarketState                string       `json:"marketState"`
	RegularMarketPrice         coerce.Float `json:"regularMarketPrice"`
	RegularMarketChange        coerce.Float `json:"regularMarketChange"`
	RegularMarketChangePercent coerce.Float `json:"regularMarketChangePercent"`
	RegularMarketVolume        coerce.Float `json:"regularMarketVolume"`
	RegularMarketDayHigh       coerce.Float `json:"regularMarketDayHigh"`
	RegularMarketDayLow        coerce.Float `json:"regularMarketDayLow"`
}

// Fetch requests all symbols in one batch. Rows are matched back by the
// symbol Yahoo reports, so tickers it does not know are simply missing.
func (c *Client) Fetch(ctx context.Context, symbols []string) (map[string]provider.Quote, error) {
	requested := provider.Dedupe(symbols)
	out := make(map[string]provider.Quote, len(requested))
	if len(requested) == 0 {
		return out, nil
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json,text/plain,*/*").
		SetQueryParam("symbols", strings.Join(requested, ","))
	resp, err := httpx.Do(req, http.MethodGet, c.baseURL+"/v7/finance/quote", name)
	if err != nil {
		return nil, err
	}

	var body quoteResponse
	if err := json.Unmarshal(resp.Bytes(), &body); err != nil {
		return nil, httpx.NewValidationError(name, "undecodable quote body")
	}

	want := make(map[string]struct{}, len(requested))
	for _, s := range requested {
		want[s] = struct{}{}
	}
	for _, row := range body.QuoteResponse.Result {
		if _, ok := want[row.Symbol]; !ok {
			continue
		}
		if _, dup := out[row.Symbol]; dup {
			continue
		}
		out[row.Symbol] = row.quote()
	}
	return out, nil
}

func (r quoteRow) quote() provider.Quote {
	display := r.Symbol
	for _, n := range []string{r.LongName, r.ShortName, r.DisplayName} {
		if n != "" {
			display = n
			break
		}
	}
	return provider.Quote{
		Symbol:        r.Symbol,
		Name:          display,
		Price:         r.RegularMarketPrice.Value(),
		Change:        r.RegularMarketChange.Value(),
		ChangePercent: r.RegularMarketChangePercent.Value(),
		Currency:      r.Currency,
		MarketState:   r.MarketState,
		Volume:        r.RegularMarketVolume.Value(),
		High:          r.RegularMarketDayHigh.Value(),
		Low:           r.RegularMarketDayLow.Value(),
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp  []coerce.Float `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []coerce.Float `json:"open"`
			High   []coerce.Float `json:"high"`
			Low    []coerce.Float `json:"low"`
			Close  []coerce.Float `json:"close"`
			Volume []coerce.Float `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// RangeInterval maps a lookback in days to Yahoo's chart range and bar
// interval.
func RangeInterval(rangeDays int) (string, string) {
	switch {
	case rangeDays <= 1:
		return "1d", "5m"
	case rangeDays <= 7:
		return "5d", "15m"
	case rangeDays <= 30:
		return "1mo", "1d"
	case rangeDays <= 90:
		return "3mo", "1d"
	case rangeDays <= 180:
		return "6mo", "1d"
	}
	return "1y", "1d"
}

// Candles fetches the chart for ticker. The series is cleaned and sorted;
// an empty or malformed chart yields nil.
func (c *Client) Candles(ctx context.Context, ticker string, rangeDays int) ([]provider.Candle, error) {
	rng, interval := RangeInterval(rangeDays)
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json,text/plain,*/*").
		SetQueryParams(map[string]string{"range": rng, "interval": interval})
	resp, err := httpx.Do(req, http.MethodGet, c.baseURL+"/v8/finance/chart/"+url.PathEscape(ticker), name)
	if err != nil {
		return nil, err
	}

	var body chartResponse
	if err := json.Unmarshal(resp.Bytes(), &body); err != nil {
		return nil, httpx.NewValidationError(name, "undecodable chart body")
	}
	if len(body.Chart.Result) == 0 {
		return nil, nil
	}
	result := body.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	q := result.Indicators.Quote[0]
	at := func(vals []coerce.Float, i int) float64 {
		if i < len(vals) {
			return vals[i].Value()
		}
		return 0
	}

	candles := make([]provider.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		candles = append(candles, provider.Candle{
			Timestamp: int64(ts.Value()) * 1000,
			Open:      at(q.Open, i),
			High:      at(q.High, i),
			Low:       at(q.Low, i),
			Close:     at(q.Close, i),
			Volume:    at(q.Volume, i),
		})
	}
	return provider.CleanCandles(candles), nil
}
