// Package coingecko reads crypto spot prices from the CoinGecko simple
// price API. It doubles as the first USD to local currency rate source via
// the USDT price.
package coingecko

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
	name           = "coingecko"
	defaultBaseURL = "https://api.coingecko.com"
	tetherID       = "tether"
)

// DefaultIDs maps canonical crypto pairs to CoinGecko coin ids.
var DefaultIDs = map[string]string{
	"BTC-USD": "bitcoin",
	"ETH-USD": "ethereum",
}

// Client implements provider.QuoteSource and fx.RateSource.
type Client struct {
	baseURL string
	client  *resty.Client
	ids     map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the API host.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithClient sets the HTTP client.
func WithClient(rc *resty.Client) Option {
	return func(c *Client) { c.client = rc }
}

// New creates a CoinGecko client.
func New(opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, ids: DefaultIDs}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = httpx.New(httpx.Options{})
	}
	return c
}

func (c *Client) Name() string { return name }

// Supports reports whether symbol has a coin id.
func (c *Client) Supports(symbol string) bool {
	_, ok := c.ids[symbol]
	return ok
}

// simplePrice is keyed by coin id, then by field (usd, usd_24h_change, inr).
type simplePrice map[string]map[string]coerce.Float

func (c *Client) simplePrice(ctx context.Context, params map[string]string) (simplePrice, error) {
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(params)
	resp, err := httpx.Do(req, http.MethodGet, c.baseURL+"/api/v3/simple/price", name)
	if err != nil {
		return nil, err
	}
	var body simplePrice
	if err := json.Unmarshal(resp.Bytes(), &body); err != nil {
		return nil, httpx.NewValidationError(name, "undecodable price body")
	}
	return body, nil
}

// Fetch returns USD quotes for every mapped symbol present in the response.
func (c *Client) Fetch(ctx context.Context, symbols []string) (map[string]provider.Quote, error) {
	var (
		ids      []string
		bySymbol = make(map[string]string)
	)
	for _, s := range provider.Dedupe(symbols) {
		id, ok := c.ids[s]
		if !ok {
			continue
		}
		bySymbol[s] = id
		ids = append(ids, id)
	}
	out := make(map[string]provider.Quote, len(bySymbol))
	if len(ids) == 0 {
		return out, nil
	}

	body, err := c.simplePrice(ctx, map[string]string{
		"ids":                 strings.Join(provider.Dedupe(ids), ","),
		"vs_currencies":       "usd",
		"include_24hr_change": "true",
	})
	if err != nil {
		return nil, err
	}

	for s, id := range bySymbol {
		row, ok := body[id]
		if !ok {
			continue
		}
		price := row["usd"].Value()
		pct := row["usd_24h_change"].Value()
		out[s] = provider.Quote{
			Symbol:        s,
			Price:         price,
			Change:        provider.ChangeFromPercent(price, pct),
			ChangePercent: pct,
			Currency:      "USD",
		}
	}
	return out, nil
}

// TetherRate returns the price of one USDT in currency (for example "inr").
// A missing or non-positive price is reported as 0 with no error.
func (c *Client) TetherRate(ctx context.Context, currency string) (float64, error) {
	currency = strings.ToLower(currency)
	body, err := c.simplePrice(ctx, map[string]string{
		"ids":           tetherID,
		"vs_currencies": currency,
	})
	if err != nil {
		return 0, err
	}
	rate := body[tetherID][currency].Value()
	if rate <= 0 {
		return 0, nil
	}
	return rate, nil
}

// Rate makes Client usable as an fx.RateSource.
func (c *Client) Rate(ctx context.Context, currency string) (float64, error) {
	return c.TetherRate(ctx, currency)
}
