package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/date"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGeckoConfig configures the crypto provider.
type CoinGeckoConfig struct {
	BaseURL string
	APIKey  string // optional demo key, sent as x-cg-demo-api-key
	Timeout time.Duration
}

// CoinGecko prices crypto assets from the market_chart/range endpoint. The
// asset id is a CoinGecko coin id such as "bitcoin".
type CoinGecko struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewCoinGecko(cfg CoinGeckoConfig) *CoinGecko {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultCoinGeckoURL
	}
	return &CoinGecko{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.APIKey,
		client:  newHTTPClient(cfg.Timeout),
	}
}

func (c *CoinGecko) Name() string { return "coingecko" }

// marketChart is the market_chart/range response:
//
//	{"prices": [[1704067200000, 42280.23], ...], "market_caps": ..., "total_volumes": ...}
type marketChart struct {
	Prices [][]json.Number `json:"prices"`
}

func (c *CoinGecko) Series(ctx context.Context, assetID string, from, to date.Date) ([]Sample, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("from", fmt.Sprint(from.Time().Unix()))
	q.Set("to", fmt.Sprint(to.EndOfDay().Unix()))
	addr := fmt.Sprintf("%s/coins/%s/market_chart/range?%s", c.baseURL, url.PathEscape(assetID), q.Encode())

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("x-cg-demo-api-key", c.apiKey)
	}

	var chart marketChart
	if err := getJSON(ctx, c.client, addr, header, &chart); err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(chart.Prices))
	for _, point := range chart.Prices {
		if len(point) < 2 {
			continue
		}
		ms, err := point[0].Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: coingecko timestamp %q: %v", ErrUpstream, point[0], err)
		}
		price, err := decimal.NewFromString(point[1].String())
		if err != nil {
			return nil, fmt.Errorf("%w: coingecko price %q: %v", ErrUpstream, point[1], err)
		}
		samples = append(samples, Sample{
			Date:  date.FromTime(time.UnixMilli(int64(ms))),
			Close: price,
		})
	}
	return samples, nil
}
