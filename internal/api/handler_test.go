package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"marketquotes/internal/api"
	"marketquotes/internal/cache"
	"marketquotes/internal/commodity"
	"marketquotes/internal/httpx"
	"marketquotes/internal/market"
	"marketquotes/internal/provider"
	"marketquotes/internal/provider/tradingview"
)

const ttl = 12 * time.Second

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeCommodities struct {
	mu    sync.Mutex
	calls int
	reqs  []commodity.Request
	fn    func(commodity.Request) (commodity.Result, error)
}

func (f *fakeCommodities) Resolve(_ context.Context, req commodity.Request) (commodity.Result, error) {
	f.mu.Lock()
	f.calls++
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeCommodities) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMarkets struct {
	fn func(market.Request) (market.Result, error)
}

func (f fakeMarkets) Resolve(_ context.Context, req market.Request) (market.Result, error) {
	return f.fn(req)
}

func newRouter(t *testing.T, c api.CommodityResolver, m api.MarketResolver, clk *clock, opts ...api.Option) (*mux.Router, *api.Handler) {
	t.Helper()
	opts = append([]api.Option{
		api.WithClock(clk.Now),
		api.WithCommodityCache(cache.New[api.CommodityPayload](ttl, cache.WithClock(clk.Now))),
		api.WithMarketCache(cache.New[api.MarketPayload](ttl, cache.WithClock(clk.Now))),
	}, opts...)
	h := api.New(zaptest.NewLogger(t), c, m, opts...)
	r := mux.NewRouter()
	h.Register(r)
	return r, h
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	return rr
}

func gold(clk *clock) func(commodity.Request) (commodity.Result, error) {
	return func(commodity.Request) (commodity.Result, error) {
		return commodity.Result{
			LastUpdated: clk.Now(),
			Quotes:      []provider.Quote{{Symbol: "GC=F", Name: "GC=F", Price: 2400, Change: 12, ChangePercent: 0.5, Currency: "USD"}},
		}, nil
	}
}

func TestCommodity_CacheHitIsByteIdentical(t *testing.T) {
	t.Parallel()

	// Arrange
	clk := &clock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	svc := &fakeCommodities{fn: gold(clk)}
	r, _ := newRouter(t, svc, nil, clk)

	// Act: the second request lands inside the TTL.
	first := get(t, r, "/api/commodity")
	clk.Advance(ttl - time.Second)
	second := get(t, r, "/api/commodity")

	// Assert
	require.Equal(t, 1, svc.Calls())
	require.Equal(t, first.Body.String(), second.Body.String())

	var body api.CommodityPayload
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	require.Equal(t, "2026-01-01T10:00:00.000Z", body.LastUpdated)
}

func TestCommodity_RefreshAfterTTL(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	svc := &fakeCommodities{fn: gold(clk)}
	r, _ := newRouter(t, svc, nil, clk)

	first := get(t, r, "/api/commodity")
	clk.Advance(ttl)
	second := get(t, r, "/api/commodity")

	require.Equal(t, 2, svc.Calls())
	require.NotEqual(t, first.Body.String(), second.Body.String())
	require.Contains(t, second.Body.String(), `"lastUpdated":"2026-01-01T10:00:12.000Z"`)
}

func TestCommodity_CacheIsNotKeyedByParameters(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	svc := &fakeCommodities{fn: gold(clk)}
	r, _ := newRouter(t, svc, nil, clk)

	first := get(t, r, "/api/commodity?symbols=GC=F&currency=usd")
	second := get(t, r, "/api/commodity?symbols=SI=F&currency=inr")

	require.Equal(t, 1, svc.Calls(), "a fresh entry answers any parameters")
	require.Equal(t, first.Body.String(), second.Body.String())
}

func TestCommodity_TotalFailureWithoutCache(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	svc := &fakeCommodities{fn: func(commodity.Request) (commodity.Result, error) {
		return commodity.Result{}, errors.New("every tier failed")
	}}
	r, _ := newRouter(t, svc, nil, clk)

	rr := get(t, r, "/api/commodity")
	require.JSONEq(t, `{"lastUpdated":"2026-01-01T10:00:00.000Z","items":[]}`, rr.Body.String())

	// Failures are not cached: the next request tries again.
	get(t, r, "/api/commodity")
	require.Equal(t, 2, svc.Calls())
}

func TestCommodity_TotalFailureServesStale(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	fail := false
	svc := &fakeCommodities{}
	svc.fn = func(req commodity.Request) (commodity.Result, error) {
		if fail {
			return commodity.Result{}, errors.New("down")
		}
		return gold(clk)(req)
	}
	r, _ := newRouter(t, svc, nil, clk)

	good := get(t, r, "/api/commodity")
	clk.Advance(2 * ttl)
	fail = true
	stale := get(t, r, "/api/commodity")

	require.Equal(t, 2, svc.Calls())
	require.Equal(t, good.Body.String(), stale.Body.String())
}

func TestCommodity_WireShape(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	svc := &fakeCommodities{fn: func(commodity.Request) (commodity.Result, error) {
		return commodity.Result{LastUpdated: clk.Now(), Quotes: []provider.Quote{
			{Symbol: "CL=F", Name: "CL=F", Price: 6640, Change: -166, ChangePercent: -2.5, Currency: "INR", MarketState: "REGULAR"},
			{Symbol: "XAU", Name: "XAU", Price: 1},
		}}, nil
	}}
	r, _ := newRouter(t, svc, nil, clk)

	rr := get(t, r, "/api/commodity?currency=INR&symbols=CL=F,XAU")
	require.JSONEq(t, `{
		"lastUpdated": "2026-01-01T10:00:00.000Z",
		"items": [
			{"symbol":"CL=F","name":"CL=F","price":6640,"change":-166,"changePercent":-2.5,"currency":"INR","marketState":"REGULAR"},
			{"symbol":"XAU","name":"XAU","price":1,"change":0,"changePercent":0,"currency":null,"marketState":null}
		]
	}`, rr.Body.String())
	require.Equal(t, commodity.Request{Symbols: []string{"CL=F", "XAU"}, Currency: "inr"}, svc.reqs[0])
}

func TestCommodity_ConcurrentMissesShareOneResolution(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	release := make(chan struct{})
	svc := &fakeCommodities{}
	svc.fn = func(req commodity.Request) (commodity.Result, error) {
		<-release
		return gold(clk)(req)
	}
	r, _ := newRouter(t, svc, nil, clk)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/commodity", nil))
		}()
	}
	require.Eventually(t, func() bool { return svc.Calls() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, 1, svc.Calls())
}

func TestCommodity_EndToEnd(t *testing.T) {
	t.Parallel()

	// Arrange: a scanner upstream wired through the real service.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[
			{"s":"COMEX:GC1!","d":[2400,0.5,12,"USD"]},
			{"s":"BITSTAMP:BTCUSD","d":[60000,1,600,null]}
		]}`))
	}))
	defer upstream.Close()

	tv := tradingview.New(tradingview.WithBaseURL(upstream.URL), tradingview.WithClient(httpx.New(httpx.Options{})))
	svc := commodity.NewService(zaptest.NewLogger(t), []provider.QuoteSource{tv}, nil)
	clk := &clock{t: time.Now()}
	r, _ := newRouter(t, svc, nil, clk)

	// Act
	rr := get(t, r, "/api/commodity?symbols=GC=F,BTC-USD&currency=usd")

	// Assert
	var body struct {
		LastUpdated string           `json:"lastUpdated"`
		Items       []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	_, err := time.Parse(time.RFC3339, body.LastUpdated)
	require.NoError(t, err)
	require.Len(t, body.Items, 2)

	require.Equal(t, "GC=F", body.Items[0]["symbol"])
	require.Equal(t, "GC=F", body.Items[0]["name"])
	require.InDelta(t, 2400, body.Items[0]["price"], 1e-9)
	require.Equal(t, "USD", body.Items[0]["currency"])
	require.Nil(t, body.Items[0]["marketState"])

	require.Equal(t, "BTC-USD", body.Items[1]["symbol"])
	require.Equal(t, "USD", body.Items[1]["currency"])
	require.InDelta(t, 600, body.Items[1]["change"], 1e-9)
}

func TestMarket_WireShapeAndCandles(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	var seen market.Request
	markets := fakeMarkets{fn: func(req market.Request) (market.Result, error) {
		seen = req
		res := market.Result{
			LastUpdated: clk.Now(),
			Stocks: []provider.Quote{
				{Symbol: "TCS.NS", Name: "TCS", Price: 4000, Change: 40, ChangePercent: 1, Volume: 1_234_567, High: 4010, Low: 3950, Spark: []float64{1, 2}},
				{Symbol: "INFY.NS", Name: "Infosys", Price: 1500},
			},
			Indices: []provider.Quote{{Symbol: "^NSEI", Name: "NIFTY 50", Price: 22000, Change: 110, ChangePercent: 0.5}},
		}
		if req.Candles {
			res.Candles = map[string][]provider.Candle{"TCS": {{Timestamp: 1, Open: 1, High: 2, Low: 1, Close: 2, Volume: 3}}}
		}
		return res, nil
	}}
	r, _ := newRouter(t, nil, markets, clk)

	rr := get(t, r, "/api/market?symbols=TCS.NS,INFY&indices=^NSEI&candles=1&range=30")
	require.JSONEq(t, `{
		"lastUpdated": "2026-01-01T10:00:00.000Z",
		"stocks": [
			{"symbol":"TCS.NS","name":"TCS","price":4000,"change":40,"changePercent":1,"volume":"1.2M","high":4010,"low":3950,"spark":[1,2]},
			{"symbol":"INFY.NS","name":"Infosys","price":1500,"change":0,"changePercent":0,"volume":null,"high":null,"low":null,"spark":null}
		],
		"indices": [{"symbol":"^NSEI","name":"NIFTY 50","price":22000,"change":110,"changePercent":0.5}],
		"candles": {"TCS":[{"timestamp":1,"open":1,"high":2,"low":1,"close":2,"volume":3}]}
	}`, rr.Body.String())
	require.Equal(t, 30, seen.RangeDays)
}

func TestMarket_CandlesOmittedUnlessRequested(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	markets := fakeMarkets{fn: func(market.Request) (market.Result, error) {
		return market.Result{LastUpdated: clk.Now()}, nil
	}}
	r, _ := newRouter(t, nil, markets, clk)

	rr := get(t, r, "/api/market")
	require.JSONEq(t, `{"lastUpdated":"2026-01-01T10:00:00.000Z","stocks":[],"indices":[]}`, rr.Body.String())
}

func TestMarket_TotalFailureEmptyShape(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	markets := fakeMarkets{fn: func(market.Request) (market.Result, error) {
		return market.Result{}, errors.New("nse and yahoo down")
	}}
	r, _ := newRouter(t, nil, markets, clk)

	rr := get(t, r, "/api/market?candles=1")
	require.JSONEq(t, `{"lastUpdated":"2026-01-01T10:00:00.000Z","stocks":[],"indices":[],"candles":{}}`, rr.Body.String())
}

func TestMarket_TotalFailureServesStale(t *testing.T) {
	t.Parallel()

	// Arrange: one good resolution, then every pipeline fails.
	clk := &clock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	fail := false
	calls := 0
	markets := fakeMarkets{fn: func(market.Request) (market.Result, error) {
		calls++
		if fail {
			return market.Result{}, errors.New("nse and yahoo down")
		}
		return market.Result{
			LastUpdated: clk.Now(),
			Stocks:      []provider.Quote{{Symbol: "TCS.NS", Name: "TCS", Price: 4000}},
			Indices:     []provider.Quote{{Symbol: "^NSEI", Name: "NIFTY 50", Price: 22000}},
		}, nil
	}}
	r, _ := newRouter(t, nil, markets, clk)

	// Act
	good := get(t, r, "/api/market")
	clk.Advance(2 * ttl)
	fail = true
	stale := get(t, r, "/api/market")

	// Assert
	require.Equal(t, 2, calls)
	require.Equal(t, good.Body.String(), stale.Body.String())
	require.Contains(t, stale.Body.String(), `"lastUpdated":"2026-01-01T10:00:00.000Z"`)
}

func TestRouter(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Now()}
	r, _ := newRouter(t, &fakeCommodities{fn: gold(clk)}, nil, clk, api.WithStream(false))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/commodity", strings.NewReader("{}")))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/commodity/stream", nil))
	require.Equal(t, http.StatusNotFound, rr.Code, "stream route is off")
}

func TestCommodityStream(t *testing.T) {
	t.Parallel()

	// Arrange: a short TTL so the second push arrives quickly.
	var n int
	var mu sync.Mutex
	svc := &fakeCommodities{fn: func(commodity.Request) (commodity.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return commodity.Result{LastUpdated: time.Now(), Quotes: []provider.Quote{{Symbol: "GC=F", Name: "GC=F", Price: float64(n)}}}, nil
	}}
	h := api.New(zaptest.NewLogger(t), svc, nil,
		api.WithCommodityCache(cache.New[api.CommodityPayload](50*time.Millisecond)))
	r := mux.NewRouter()
	h.Register(r)
	server := httptest.NewServer(r)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/api/commodity/stream?currency=usd", nil)
	require.NoError(t, err)
	defer conn.Close()

	// Act + Assert: an immediate push, then a refreshed one once the entry
	// has expired. A tick that lands just inside the TTL repeats the first.
	var first api.CommodityPayload
	require.NoError(t, conn.ReadJSON(&first))
	require.Len(t, first.Items, 1)
	require.InDelta(t, 1, first.Items[0].Price, 1e-9)

	refreshed := false
	for range 5 {
		var next api.CommodityPayload
		require.NoError(t, conn.ReadJSON(&next))
		if next.Items[0].Price == 2 {
			refreshed = true
			break
		}
	}
	require.True(t, refreshed)

	// Shutdown closes the stream with a going-away frame.
	h.Close()
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
