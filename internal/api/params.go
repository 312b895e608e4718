package api

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"marketquotes/internal/commodity"
	"marketquotes/internal/market"
)

const maxSymbolLength = 20

var (
	commodityPattern = regexp.MustCompile(`(?i)^[A-Z0-9=._-]+$`)
	marketPattern    = regexp.MustCompile(`(?i)^[A-Z0-9^._-]+$`)
)

// SymbolRule bounds one symbol list parameter.
type SymbolRule struct {
	Pattern *regexp.Regexp
	Max     int
}

var (
	CommodityRule = SymbolRule{Pattern: commodityPattern, Max: 20}
	MarketRule    = SymbolRule{Pattern: marketPattern, Max: 50}
)

// ParseSymbols splits raw on commas, trims and drops empty entries, keeps
// the first rule.Max of them and then drops any longer than 20 characters
// or not matching rule.Pattern. An empty outcome yields fallback.
func ParseSymbols(raw string, fallback []string, rule SymbolRule) []string {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	var kept []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	if len(kept) > rule.Max {
		kept = kept[:rule.Max]
	}
	out := kept[:0]
	for _, s := range kept {
		if len(s) <= maxSymbolLength && rule.Pattern.MatchString(s) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// CommodityRequest reads the commodity query parameters.
func CommodityRequest(q url.Values) commodity.Request {
	currency := strings.ToLower(q.Get("currency"))
	if currency == "" {
		currency = commodity.LocalCurrency
	}
	return commodity.Request{
		Symbols:  ParseSymbols(q.Get("symbols"), commodity.DefaultSymbols, CommodityRule),
		Currency: currency,
	}
}

// MarketRequest reads the market query parameters.
func MarketRequest(q url.Values) market.Request {
	return market.Request{
		Stocks:       ParseSymbols(q.Get("symbols"), market.DefaultStocks, MarketRule),
		Indices:      ParseSymbols(q.Get("indices"), market.DefaultIndices, MarketRule),
		Candles:      q.Get("candles") == "1" || q.Get("candles") == "true",
		ChartSymbols: ParseSymbols(q.Get("chartSymbols"), nil, MarketRule),
		RangeDays:    RangeDays(q.Get("range")),
	}
}

// RangeDays parses the range parameter: positive values are capped at 365
// (fractions round up), anything else is 90.
func RangeDays(raw string) int {
	if raw == "" {
		return market.DefaultRangeDays
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || v <= 0 {
		return market.DefaultRangeDays
	}
	if v >= market.MaxRangeDays {
		return market.MaxRangeDays
	}
	return int(math.Ceil(v))
}

func commodityKey(r commodity.Request) string {
	return "commodity|" + r.Currency + "|" + strings.Join(r.Symbols, ",")
}

func marketKey(r market.Request) string {
	return strings.Join([]string{
		"market",
		strings.Join(r.Stocks, ","),
		strings.Join(r.Indices, ","),
		strconv.FormatBool(r.Candles),
		strings.Join(r.ChartSymbols, ","),
		strconv.Itoa(r.RangeDays),
	}, "|")
}
