package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickrun/turn-engine/internal/date"
)

func TestCoinGecko_Series(t *testing.T) {
	var gotPath, gotKey string
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotKey = r.Header.Get("x-cg-demo-api-key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prices":[[1704672000000,46900.5],[1704844800000,46105.12],[1704880800000,46200.01]]}`))
	}))
	defer srv.Close()

	cg := NewCoinGecko(CoinGeckoConfig{BaseURL: srv.URL, APIKey: "demo"})
	samples, err := cg.Series(context.Background(), "bitcoin", date.MustParse("2024-01-03"), date.MustParse("2024-01-10"))
	require.NoError(t, err)

	assert.Equal(t, "/coins/bitcoin/market_chart/range", gotPath)
	assert.Equal(t, "usd", gotQuery["vs_currency"][0])
	assert.Equal(t, "1704240000", gotQuery["from"][0])
	assert.Equal(t, "1704931199", gotQuery["to"][0])
	assert.Equal(t, "demo", gotKey)

	require.Len(t, samples, 3)
	assert.Equal(t, date.MustParse("2024-01-08"), samples[0].Date)
	assert.Equal(t, "46105.12", samples[1].Close.String())

	// Two samples on 2024-01-10: the later one wins.
	s, ok := SelectClose(samples, date.MustParse("2024-01-10"))
	require.True(t, ok)
	assert.Equal(t, "46200.01", s.Close.String())
}

func TestCoinGecko_Non2xxIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cg := NewCoinGecko(CoinGeckoConfig{BaseURL: srv.URL})
	_, err := cg.Series(context.Background(), "bitcoin", date.MustParse("2024-01-03"), date.MustParse("2024-01-10"))
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestFMP_Series(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"single symbol", `{"symbol":"AAPL","historical":[
			{"date":"2024-01-10","close":186.19},
			{"date":"2024-01-09","close":185.14}]}`},
		{"stock list", `{"historicalStockList":[{"symbol":"AAPL","historical":[
			{"date":"2024-01-10","close":186.19},
			{"date":"2024-01-09","close":185.14}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotKey, gotFrom string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotKey = r.URL.Query().Get("apikey")
				gotFrom = r.URL.Query().Get("from")
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f := NewFMP(FMPConfig{BaseURL: srv.URL, APIKey: "k"})
			samples, err := f.Series(context.Background(), "AAPL", date.MustParse("2024-01-01"), date.MustParse("2024-01-10"))
			require.NoError(t, err)

			assert.Equal(t, "/historical-price-full/AAPL", gotPath)
			assert.Equal(t, "k", gotKey)
			assert.Equal(t, "2024-01-01", gotFrom)
			require.Len(t, samples, 2)
			assert.Equal(t, date.MustParse("2024-01-09"), samples[0].Date, "samples are sorted oldest first")
			assert.Equal(t, "186.19", samples[1].Close.String())
		})
	}
}

func TestFMP_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := NewFMP(FMPConfig{BaseURL: srv.URL})
	samples, err := f.Series(context.Background(), "AAPL", date.MustParse("2024-01-06"), date.MustParse("2024-01-06"))
	require.NoError(t, err)
	assert.Empty(t, samples)
	assert.Equal(t, []int{0, DefaultWidenedLookbackDays}, f.Lookbacks())
}

func TestFMP_BadBodyIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	f := NewFMP(FMPConfig{BaseURL: srv.URL})
	_, err := f.Series(context.Background(), "AAPL", date.MustParse("2024-01-06"), date.MustParse("2024-01-06"))
	assert.ErrorIs(t, err, ErrUpstream)
}
