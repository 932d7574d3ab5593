// Package pricing resolves the last close of an asset on or before a date.
//
// Lookups go through three layers: an in-process LRU memo, the durable price
// cache, and finally the market-data Provider registered for the asset type.
// A resolved close is written back to the durable cache and never refetched.
package pricing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/date"
	"github.com/tickrun/turn-engine/internal/model"
)

var (
	// ErrPriceUnavailable is returned when no sample exists on or before the
	// target date within any lookback window.
	ErrPriceUnavailable = errors.New("pricing: price unavailable")

	// ErrUpstream is returned when a market-data source is unreachable,
	// answers with a non-2xx status, or sends an unreadable body.
	ErrUpstream = errors.New("pricing: upstream source error")

	// ErrUnsupportedAsset is returned when no provider serves the asset type.
	ErrUnsupportedAsset = errors.New("pricing: no provider for asset type")
)

// Sample is one daily observation from a market-data source.
type Sample struct {
	Date  date.Date
	Close decimal.Decimal
}

// Provider fetches a price series for one asset type.
type Provider interface {
	// Name identifies the source; it is stored as the cache entry's source.
	Name() string

	// Series returns samples dated within [from, to], oldest first.
	// Several samples may share a date; the later one is the more recent.
	Series(ctx context.Context, assetID string, from, to date.Date) ([]Sample, error)
}

// LookbackPolicy is implemented by providers that need lookback windows
// other than the oracle's defaults. Windows are in days before the target.
type LookbackPolicy interface {
	Lookbacks() []int
}

// Cache is the durable price memo. store.Store satisfies it.
type Cache interface {
	ResolvedPrice(ctx context.Context, t asset.Type, assetID string, target date.Date) (*model.PriceCacheEntry, error)
	InsertResolvedPrice(ctx context.Context, target date.Date, e *model.PriceCacheEntry) error
}

// SelectClose returns the latest sample dated on or before target. On equal
// dates the sample that appears later wins.
func SelectClose(samples []Sample, target date.Date) (Sample, bool) {
	var best Sample
	found := false
	for _, s := range samples {
		if s.Date.After(target) {
			continue
		}
		if !found || !s.Date.Before(best.Date) {
			best = s
			found = true
		}
	}
	return best, found
}
