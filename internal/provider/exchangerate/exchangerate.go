// Package exchangerate is the last-resort USD rate source backed by
// exchangerate.host.
package exchangerate

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"resty.dev/v3"

	"marketquotes/internal/coerce"
	"marketquotes/internal/httpx"
)

const (
	name           = "exchangerate"
	defaultBaseURL = "https://api.exchangerate.host"
)

// Client implements fx.RateSource.
type Client struct {
	baseURL string
	client  *resty.Client
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

// New creates an exchangerate.host client.
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

type latestResponse struct {
	Rates map[string]coerce.Float `json:"rates"`
}

// Rate returns how many units of currency one USD buys, or 0 when the
// response does not carry a usable rate.
func (c *Client) Rate(ctx context.Context, currency string) (float64, error) {
	currency = strings.ToUpper(currency)
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{"base": "USD", "symbols": currency})
	resp, err := httpx.Do(req, http.MethodGet, c.baseURL+"/latest", name)
	if err != nil {
		return 0, err
	}

	var body latestResponse
	if err := json.Unmarshal(resp.Bytes(), &body); err != nil {
		return 0, httpx.NewValidationError(name, "undecodable rate body")
	}
	rate := body.Rates[currency].Value()
	if rate <= 0 {
		return 0, nil
	}
	return rate, nil
}
