package tradingview_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"marketquotes/internal/httpx"
	"marketquotes/internal/provider/tradingview"
)

func TestFetch(t *testing.T) {
	t.Parallel()

	// Arrange: a scanner answering gold with change_abs and bitcoin without it.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/global/scan", r.URL.Path)

		var body struct {
			Symbols struct {
				Tickers []string `json:"tickers"`
			} `json:"symbols"`
			Columns []string `json:"columns"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, []string{"COMEX:GC1!", "BITSTAMP:BTCUSD"}, body.Symbols.Tickers)
		require.Equal(t, []string{"close", "change", "change_abs", "currency_code"}, body.Columns)

		_, _ = w.Write([]byte(`{"totalCount":2,"data":[
			{"s":"COMEX:GC1!","d":[2400.5,1.25,29.6,"USD"]},
			{"s":"BITSTAMP:BTCUSD","d":[60000,2,null,null]}
		]}`))
	}))
	defer server.Close()

	client := tradingview.New(tradingview.WithBaseURL(server.URL), tradingview.WithClient(httpx.New(httpx.Options{})))

	// Act: unknown symbols and duplicates are dropped before the request.
	quotes, err := client.Fetch(t.Context(), []string{"GC=F", "BTC-USD", "GC=F", "XAU"})

	// Assert
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	gold := quotes["GC=F"]
	require.Equal(t, "GC=F", gold.Symbol)
	require.InDelta(t, 2400.5, gold.Price, 1e-9)
	require.InDelta(t, 29.6, gold.Change, 1e-9)
	require.InDelta(t, 1.25, gold.ChangePercent, 1e-9)
	require.Equal(t, "USD", gold.Currency)

	btc := quotes["BTC-USD"]
	require.InDelta(t, 60000-60000/1.02, btc.Change, 1e-6)
	require.Empty(t, btc.Currency)
}

func TestFetch_NoKnownTickersSkipsRequest(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))
	defer server.Close()

	client := tradingview.New(tradingview.WithBaseURL(server.URL))
	quotes, err := client.Fetch(t.Context(), []string{"RELIANCE.NS"})
	require.NoError(t, err)
	require.Empty(t, quotes)
}

func TestFetch_MalformedBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>blocked</html>`))
	}))
	defer server.Close()

	client := tradingview.New(tradingview.WithBaseURL(server.URL))
	quotes, err := client.Fetch(t.Context(), []string{"SI=F"})
	require.Nil(t, quotes)

	var fe *httpx.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, httpx.ErrorTypeValidation, fe.Type)
	require.False(t, fe.Retryable)
}

func TestFetch_StatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := tradingview.New(tradingview.WithBaseURL(server.URL))
	_, err := client.Fetch(t.Context(), []string{"CL=F"})

	var fe *httpx.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, http.StatusForbidden, fe.StatusCode)
}
