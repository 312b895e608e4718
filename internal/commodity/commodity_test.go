package commodity_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"marketquotes/internal/aggregate"
	"marketquotes/internal/commodity"
	"marketquotes/internal/fx"
	"marketquotes/internal/fx/fxtest"
	"marketquotes/internal/provider"
	"marketquotes/internal/provider/providertest"
)

var fixedNow = time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)

func source(ctrl *gomock.Controller, name string) *providertest.MockQuoteSource {
	m := providertest.NewMockQuoteSource(ctrl)
	m.EXPECT().Name().Return(name).AnyTimes()
	return m
}

func rateSource(ctrl *gomock.Controller, name string) *fxtest.MockRateSource {
	m := fxtest.NewMockRateSource(ctrl)
	m.EXPECT().Name().Return(name).AnyTimes()
	return m
}

func TestResolve_UsdSkipsConversionAndLaterTiers(t *testing.T) {
	t.Parallel()

	// Arrange: the primary tier answers both symbols in USD.
	ctrl := gomock.NewController(t)
	tier1 := source(ctrl, "tradingview")
	tier2 := source(ctrl, "yahoo")
	tier3 := source(ctrl, "fallback")
	rates := rateSource(ctrl, "coingecko")

	tier1.EXPECT().
		Fetch(gomock.Any(), []string{"GC=F", "BTC-USD"}).
		Return(map[string]provider.Quote{
			"GC=F":    {Symbol: "GC=F", Price: 2400, Change: 12, ChangePercent: 0.5, Currency: "USD"},
			"BTC-USD": {Symbol: "BTC-USD", Price: 60000, Change: 600, ChangePercent: 1},
		}, nil).
		Times(1)
	tier2.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)
	tier3.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)
	rates.EXPECT().Rate(gomock.Any(), gomock.Any()).Times(0)

	svc := commodity.NewService(zaptest.NewLogger(t),
		[]provider.QuoteSource{tier1, tier2, tier3},
		fx.NewRateChain(nil, rates),
		commodity.WithClock(func() time.Time { return fixedNow }))

	// Act
	res, err := svc.Resolve(t.Context(), commodity.Request{Symbols: []string{"GC=F", "BTC-USD"}, Currency: "usd"})

	// Assert
	require.NoError(t, err)
	require.Equal(t, fixedNow, res.LastUpdated)
	require.Len(t, res.Quotes, 2)

	gold := res.Quotes[0]
	require.Equal(t, "GC=F", gold.Name)
	require.Equal(t, "USD", gold.Currency)
	require.InDelta(t, 2400, gold.Price, 1e-9)
	require.InDelta(t, 12, gold.Change, 1e-9)

	btc := res.Quotes[1]
	require.Equal(t, "BTC-USD", btc.Name)
	require.Equal(t, "USD", btc.Currency, "crypto is always labelled USD")
	require.InDelta(t, 60000, btc.Price, 1e-9)
}

func TestResolve_SecondTierFillsAndConverts(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	tier1 := source(ctrl, "tradingview")
	tier2 := source(ctrl, "yahoo")
	tier3 := source(ctrl, "fallback")
	rates := rateSource(ctrl, "coingecko")

	requested := []string{"GC=F", "SI=F", "CL=F"}
	tier1.EXPECT().Fetch(gomock.Any(), requested).Return(map[string]provider.Quote{}, nil)
	tier2.EXPECT().Fetch(gomock.Any(), requested).Return(map[string]provider.Quote{
		"GC=F": {Symbol: "GC=F", Price: 2000, Change: 10, ChangePercent: 0.5, Currency: "USD"},
		"SI=F": {Symbol: "SI=F", Price: 25, Change: 1, ChangePercent: 4, Currency: "USD"},
		"CL=F": {Symbol: "CL=F", Price: 80, Change: -2, ChangePercent: -2.5, Currency: "USD"},
	}, nil)
	tier3.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)
	rates.EXPECT().Rate(gomock.Any(), "inr").Return(83.0, nil)

	svc := commodity.NewService(zaptest.NewLogger(t), []provider.QuoteSource{tier1, tier2, tier3}, fx.NewRateChain(nil, rates))
	res, err := svc.Resolve(t.Context(), commodity.Request{Symbols: requested, Currency: "inr"})
	require.NoError(t, err)
	require.Len(t, res.Quotes, 3)

	require.InDelta(t, 2000*83*10/31.1034768, res.Quotes[0].Price, 1e-6)
	require.InDelta(t, 25*83*1000/31.1034768, res.Quotes[1].Price, 1e-6)
	require.InDelta(t, 80*83, res.Quotes[2].Price, 1e-6)
	require.InDelta(t, -2*83, res.Quotes[2].Change, 1e-6)
	require.InDelta(t, -2.5, res.Quotes[2].ChangePercent, 1e-12)
	for _, q := range res.Quotes {
		require.Equal(t, "INR", q.Currency)
	}
}

func TestResolve_RateCapturedFromQuoteBatch(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	tier1 := source(ctrl, "tradingview")
	yahoo := source(ctrl, "yahoo")
	usdt := rateSource(ctrl, "coingecko")
	generic := rateSource(ctrl, "exchangerate")

	tier1.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, errors.New("blocked"))
	yahoo.EXPECT().
		Fetch(gomock.Any(), []string{"CL=F", "ETH-USD", commodity.UsdInrSymbol}).
		Return(map[string]provider.Quote{
			"CL=F":                 {Symbol: "CL=F", Price: 80, Currency: "USD"},
			"ETH-USD":              {Symbol: "ETH-USD", Price: 3000, Currency: "USD"},
			commodity.UsdInrSymbol: {Symbol: commodity.UsdInrSymbol, Price: 84},
		}, nil)
	usdt.EXPECT().Rate(gomock.Any(), "inr").Return(0.0, errors.New("429"))
	generic.EXPECT().Rate(gomock.Any(), gomock.Any()).Times(0)

	svc := commodity.NewService(zaptest.NewLogger(t),
		[]provider.QuoteSource{tier1, commodity.CaptureRate(yahoo, commodity.UsdInrSymbol)},
		fx.NewRateChain(zaptest.NewLogger(t), usdt, fx.HintSource{}, generic))

	res, err := svc.Resolve(t.Context(), commodity.Request{Symbols: []string{"CL=F", "ETH-USD"}, Currency: "INR"})
	require.NoError(t, err)
	require.Len(t, res.Quotes, 2, "the pair is not returned as an item")
	require.InDelta(t, 80*84, res.Quotes[0].Price, 1e-9)
	require.InDelta(t, 3000, res.Quotes[1].Price, 1e-9, "crypto is not converted")
	require.Equal(t, "USD", res.Quotes[1].Currency)
}

func TestCaptureRate_PassThroughWithoutHint(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	yahoo := source(ctrl, "yahoo")
	yahoo.EXPECT().Fetch(gomock.Any(), []string{"GC=F"}).Return(map[string]provider.Quote{}, nil)

	_, err := commodity.CaptureRate(yahoo, commodity.UsdInrSymbol).Fetch(t.Context(), []string{"GC=F"})
	require.NoError(t, err)
}

func TestResolve_TierThreeFansOut(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	tier1 := source(ctrl, "tradingview")
	tier2 := source(ctrl, "yahoo")
	stooq := source(ctrl, "stooq")
	gecko := source(ctrl, "coingecko")

	tier1.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, errors.New("down"))
	tier2.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, errors.New("down"))
	stooq.EXPECT().Fetch(gomock.Any(), []string{"GC=F"}).Return(map[string]provider.Quote{
		"GC=F": {Symbol: "GC=F", Price: 2040, Change: 40, ChangePercent: 2, Currency: "USD"},
	}, nil)
	gecko.EXPECT().Fetch(gomock.Any(), []string{"BTC-USD"}).Return(nil, errors.New("down"))

	tier3 := aggregate.NewPartition("fallback", zaptest.NewLogger(t),
		aggregate.Route{Match: commodity.IsCrypto, Source: gecko},
		aggregate.Route{Match: func(s string) bool { return !commodity.IsCrypto(s) }, Source: stooq},
	)
	svc := commodity.NewService(zaptest.NewLogger(t), []provider.QuoteSource{tier1, tier2, tier3}, nil)

	res, err := svc.Resolve(t.Context(), commodity.Request{Symbols: []string{"BTC-USD", "GC=F"}, Currency: "usd"})
	require.NoError(t, err)
	require.Len(t, res.Quotes, 1)
	require.Equal(t, "GC=F", res.Quotes[0].Symbol)
}

func TestResolve_EveryTierFails(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	tier1 := source(ctrl, "tradingview")
	tier2 := source(ctrl, "yahoo")
	tier1.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, errors.New("down"))
	tier2.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, errors.New("down"))

	svc := commodity.NewService(zaptest.NewLogger(t), []provider.QuoteSource{tier1, tier2}, nil)
	_, err := svc.Resolve(t.Context(), commodity.Request{Currency: "inr"})
	require.ErrorIs(t, err, aggregate.ErrAllSourcesFailed)
}

func TestResolve_DefaultSymbols(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	tier1 := source(ctrl, "tradingview")
	tier1.EXPECT().Fetch(gomock.Any(), commodity.DefaultSymbols).Return(map[string]provider.Quote{}, nil)

	svc := commodity.NewService(nil, []provider.QuoteSource{tier1}, nil)
	res, err := svc.Resolve(t.Context(), commodity.Request{Currency: "usd"})
	require.NoError(t, err)
	require.Empty(t, res.Quotes)
	require.False(t, res.LastUpdated.IsZero())
}
