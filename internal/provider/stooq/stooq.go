// Package stooq reads delayed futures quotes from Stooq's CSV endpoint.
package stooq

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"resty.dev/v3"

	"marketquotes/internal/coerce"
	"marketquotes/internal/httpx"
	"marketquotes/internal/provider"
)

const (
	name           = "stooq"
	defaultBaseURL = "https://stooq.com"
	maxInFlight    = 4
)

// DefaultSymbols maps canonical futures symbols to Stooq symbols.
var DefaultSymbols = map[string]string{
	"GC=F": "gc.f",
	"SI=F": "si.f",
	"CL=F": "cl.f",
}

// Client is a provider.QuoteSource issuing one request per symbol.
type Client struct {
	baseURL string
	client  *resty.Client
	symbols map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the Stooq host.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithClient sets the HTTP client.
func WithClient(rc *resty.Client) Option {
	return func(c *Client) { c.client = rc }
}

// New creates a Stooq client.
func New(opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, symbols: DefaultSymbols}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = httpx.New(httpx.Options{})
	}
	return c
}

func (c *Client) Name() string { return name }

// Supports reports whether symbol has a Stooq mapping.
func (c *Client) Supports(symbol string) bool {
	_, ok := c.symbols[symbol]
	return ok
}

// Fetch requests every mapped symbol in parallel. A failing symbol does not
// affect the others; an error is returned only when every request failed.
func (c *Client) Fetch(ctx context.Context, symbols []string) (map[string]provider.Quote, error) {
	var (
		mu   sync.Mutex
		out  = make(map[string]provider.Quote)
		errs []error
		sent int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for _, s := range provider.Dedupe(symbols) {
		stooqSymbol, ok := c.symbols[s]
		if !ok {
			continue
		}
		sent++
		g.Go(func() error {
			q, ok, err := c.fetchOne(gctx, stooqSymbol)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s, err))
				return nil
			}
			if ok {
				q.Symbol = s
				out[s] = q
			}
			return nil
		})
	}
	_ = g.Wait()

	if sent > 0 && len(errs) == sent {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (c *Client) fetchOne(ctx context.Context, stooqSymbol string) (provider.Quote, bool, error) {
	req := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"s": stooqSymbol,
			"f": "sd2t2ohlcv",
			"h": "",
			"e": "csv",
		})
	resp, err := httpx.Do(req, http.MethodGet, c.baseURL+"/q/l/", name)
	if err != nil {
		return provider.Quote{}, false, err
	}
	q, ok := parseQuote(resp.String())
	return q, ok, nil
}

// parseQuote reads the header line and the first data line. A missing
// close (Stooq writes N/D) means no data.
func parseQuote(body string) (provider.Quote, bool) {
	lines := strings.Split(strings.ReplaceAll(strings.TrimSpace(body), "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return provider.Quote{}, false
	}
	headers := coerce.SplitLine(lines[0])
	values := coerce.SplitLine(lines[1])
	record := make(map[string]string, len(headers))
	for i, h := range headers {
		if i < len(values) {
			record[h] = values[i]
		}
	}

	closeRaw, ok := record["Close"]
	if !ok || closeRaw == "" || strings.EqualFold(closeRaw, "N/D") {
		return provider.Quote{}, false
	}

	open := coerce.Number(record["Open"])
	price := coerce.Number(closeRaw)
	change := price - open
	var pct float64
	if open != 0 {
		pct = change / open * 100
	}
	return provider.Quote{
		Price:         price,
		Change:        change,
		ChangePercent: pct,
		Currency:      "USD",
	}, true
}
