package pricing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/date"
)

const DefaultFMPURL = "https://financialmodelingprep.com/api/v3"

// FMPConfig configures the equity provider.
type FMPConfig struct {
	BaseURL             string
	APIKey              string
	Timeout             time.Duration
	WidenedLookbackDays int
}

// FMP prices equities from the historical-price-full endpoint. The asset id
// is the ticker symbol.
type FMP struct {
	baseURL string
	apiKey  string
	widened int
	client  *http.Client
}

func NewFMP(cfg FMPConfig) *FMP {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultFMPURL
	}
	widened := cfg.WidenedLookbackDays
	if widened <= 0 {
		widened = DefaultWidenedLookbackDays
	}
	return &FMP{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.APIKey,
		widened: widened,
		client:  newHTTPClient(cfg.Timeout),
	}
}

func (f *FMP) Name() string { return "fmp" }

// Lookbacks asks for the exact day first, then the widened window.
func (f *FMP) Lookbacks() []int { return []int{0, f.widened} }

// fmpHistoricalPaths locate the daily rows. Single-symbol queries answer
// {"symbol": "AAPL", "historical": [...]}, multi-symbol ones nest them under
// historicalStockList.
var fmpHistoricalPaths = []string{
	"$.historical",
	"$.historicalStockList[0].historical",
}

func (f *FMP) Series(ctx context.Context, assetID string, from, to date.Date) ([]Sample, error) {
	q := url.Values{}
	q.Set("from", from.String())
	q.Set("to", to.String())
	q.Set("apikey", f.apiKey)
	addr := fmt.Sprintf("%s/historical-price-full/%s?%s", f.baseURL, url.PathEscape(assetID), q.Encode())

	var doc interface{}
	if err := getJSON(ctx, f.client, addr, nil, &doc); err != nil {
		return nil, err
	}

	rows := historicalRows(doc)
	samples := make([]Sample, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		ds, _ := obj["date"].(string)
		day, err := date.Parse(ds)
		if err != nil {
			return nil, fmt.Errorf("%w: fmp row date: %v", ErrUpstream, err)
		}
		closeVal, err := decimal.NewFromString(fmt.Sprint(obj["close"]))
		if err != nil {
			return nil, fmt.Errorf("%w: fmp close on %s: %v", ErrUpstream, day, err)
		}
		samples = append(samples, Sample{Date: day, Close: closeVal})
	}

	// FMP lists newest first.
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Date.Before(samples[j].Date) })
	return samples, nil
}

func historicalRows(doc interface{}) []interface{} {
	for _, path := range fmpHistoricalPaths {
		v, err := jsonpath.Get(path, doc)
		if err != nil {
			continue
		}
		if rows, ok := v.([]interface{}); ok && len(rows) > 0 {
			return rows
		}
	}
	return nil
}
