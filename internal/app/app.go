// Package app wires configuration into the two quote services.
package app

import (
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"marketquotes/internal/aggregate"
	"marketquotes/internal/commodity"
	"marketquotes/internal/config"
	"marketquotes/internal/fx"
	"marketquotes/internal/httpx"
	"marketquotes/internal/market"
	"marketquotes/internal/provider"
	"marketquotes/internal/provider/coingecko"
	"marketquotes/internal/provider/exchangerate"
	"marketquotes/internal/provider/nse"
	"marketquotes/internal/provider/ratelimit"
	"marketquotes/internal/provider/stooq"
	"marketquotes/internal/provider/tradingview"
	"marketquotes/internal/provider/yahoo"
)

// Services holds the resolvers behind the HTTP endpoints.
type Services struct {
	Commodity *commodity.Service
	Market    *market.Service
}

// baseURL turns a configured override into an adapter option.
func baseURL[O any](p config.Provider, with func(string) O) []O {
	if p.BaseURL == "" {
		return nil
	}
	return []O{with(p.BaseURL)}
}

func limiter(p config.Provider) *rate.Limiter {
	return ratelimit.NewLimiter(p.RPS, p.Burst, p.MinInterval)
}

// Build creates every adapter on one shared upstream client and assembles
// the tiers:
//
//	commodity: TradingView → Yahoo (carrying USDINR=X) → {CoinGecko | Stooq}
//	rates:     CoinGecko tether → Yahoo USDINR=X → exchangerate.host
//	market:    NSE → Yahoo, with Yahoo charts behind NSE history
//
// Each upstream gets its own limiter, shared by all of its uses.
func Build(cfg config.Config, log *zap.Logger) Services {
	if log == nil {
		log = zap.NewNop()
	}
	rc := httpx.New(httpx.Options{
		Timeout:    cfg.Upstream.Timeout,
		UserAgent:  cfg.Upstream.UserAgent,
		RetryCount: cfg.Upstream.RetryCount,
		Logger:     log.Named("upstream"),
	})
	p := cfg.Providers

	tv := tradingview.New(append(baseURL(p.TradingView, tradingview.WithBaseURL), tradingview.WithClient(rc))...)
	yh := yahoo.New(append(baseURL(p.Yahoo, yahoo.WithBaseURL), yahoo.WithClient(rc))...)
	sq := stooq.New(append(baseURL(p.Stooq, stooq.WithBaseURL), stooq.WithClient(rc))...)
	cg := coingecko.New(append(baseURL(p.CoinGecko, coingecko.WithBaseURL), coingecko.WithClient(rc))...)
	er := exchangerate.New(append(baseURL(p.ExchangeRate, exchangerate.WithBaseURL), exchangerate.WithClient(rc))...)
	ex := nse.New(append(baseURL(p.NSE, nse.WithBaseURL), nse.WithClient(rc))...)

	yahooLimit := limiter(p.Yahoo)
	geckoLimit := limiter(p.CoinGecko)
	yahooQuotes := ratelimit.WrapQuotes(yh, yahooLimit)

	tiers := []provider.QuoteSource{
		ratelimit.WrapQuotes(tv, limiter(p.TradingView)),
		commodity.CaptureRate(yahooQuotes, commodity.UsdInrSymbol),
		aggregate.NewPartition("fallback", log,
			aggregate.Route{Match: cg.Supports, Source: ratelimit.WrapQuotes(cg, geckoLimit)},
			aggregate.Route{Match: sq.Supports, Source: ratelimit.WrapQuotes(sq, limiter(p.Stooq))},
		),
	}
	rates := fx.NewRateChain(log,
		ratelimit.WrapRates(cg, geckoLimit),
		fx.HintSource{},
		ratelimit.WrapRates(er, limiter(p.ExchangeRate)),
	)

	return Services{
		Commodity: commodity.NewService(log, tiers, rates),
		Market: market.NewService(log, ex, yahooQuotes, ratelimit.WrapCandles(yh, yahooLimit),
			market.WithExchangeLimiter(limiter(p.NSE)),
			market.WithConcurrency(cfg.Market.CandleConcurrency),
		),
	}
}
