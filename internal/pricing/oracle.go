package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/date"
	"github.com/tickrun/turn-engine/internal/metrics"
	"github.com/tickrun/turn-engine/internal/model"
	"github.com/tickrun/turn-engine/internal/store"
)

const (
	DefaultLookbackDays        = 7
	DefaultWidenedLookbackDays = 14
	DefaultMemoSize            = 4096
	DefaultResolveTimeout      = 30 * time.Second
)

// OracleConfig tunes the oracle. Zero fields take the defaults.
type OracleConfig struct {
	LookbackDays        int
	WidenedLookbackDays int
	MemoSize            int

	// ResolveTimeout bounds one shared resolution. It runs detached from
	// the caller that started it, so other waiters survive that caller's
	// cancellation.
	ResolveTimeout time.Duration
}

// Oracle resolves closes through the memo, the durable cache and the
// providers, in that order. It is safe for concurrent use.
type Oracle struct {
	cache     Cache
	providers map[asset.Type]Provider
	memo      *lru.Cache
	group     singleflight.Group
	lookback  int
	widened   int
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewOracle creates an oracle over cache with one provider per asset type.
func NewOracle(cache Cache, providers map[asset.Type]Provider, cfg OracleConfig, logger *slog.Logger) *Oracle {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultLookbackDays
	}
	if cfg.WidenedLookbackDays < cfg.LookbackDays {
		cfg.WidenedLookbackDays = max(DefaultWidenedLookbackDays, cfg.LookbackDays)
	}
	if cfg.MemoSize <= 0 {
		cfg.MemoSize = DefaultMemoSize
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	memo, _ := lru.New(cfg.MemoSize)
	return &Oracle{
		cache:     cache,
		providers: providers,
		memo:      memo,
		lookback:  cfg.LookbackDays,
		widened:   cfg.WidenedLookbackDays,
		timeout:   cfg.ResolveTimeout,
		now:       time.Now,
		logger:    logger,
	}
}

// ResolveClose returns the last close of the asset on or before onOrBefore.
func (o *Oracle) ResolveClose(ctx context.Context, t asset.Type, assetID string, onOrBefore date.Date) (decimal.Decimal, error) {
	e, err := o.Resolve(ctx, t, assetID, onOrBefore)
	if err != nil {
		return decimal.Zero, err
	}
	return e.Close, nil
}

// Resolve is ResolveClose returning the full cache entry, including the date
// the close was actually observed on.
func (o *Oracle) Resolve(ctx context.Context, t asset.Type, assetID string, onOrBefore date.Date) (model.PriceCacheEntry, error) {
	key := fmt.Sprintf("%s:%s@%s", t, assetID, onOrBefore)

	if v, ok := o.memo.Get(key); ok {
		metrics.PriceLookups.WithLabelValues("memo").Inc()
		return v.(model.PriceCacheEntry), nil
	}

	// Concurrent misses on the same key share one store read and at most
	// one upstream fetch. Each caller stops waiting on its own context.
	ch := o.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()
		e, err := o.resolve(shared, t, assetID, onOrBefore)
		if err != nil {
			return nil, err
		}
		o.memo.Add(key, e)
		return e, nil
	})
	select {
	case <-ctx.Done():
		return model.PriceCacheEntry{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.PriceCacheEntry{}, res.Err
		}
		return res.Val.(model.PriceCacheEntry), nil
	}
}

func (o *Oracle) resolve(ctx context.Context, t asset.Type, assetID string, on date.Date) (model.PriceCacheEntry, error) {
	// Only a close known to answer this target is reused. An older cached
	// close for the asset says nothing about the days after it.
	hit, err := o.cache.ResolvedPrice(ctx, t, assetID, on)
	switch {
	case err == nil:
		metrics.PriceLookups.WithLabelValues("store").Inc()
		return *hit, nil
	case !errors.Is(err, store.ErrNotFound):
		return model.PriceCacheEntry{}, fmt.Errorf("price cache lookup %s:%s: %w", t, assetID, err)
	}

	p, ok := o.providers[t]
	if !ok {
		return model.PriceCacheEntry{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, t)
	}

	for _, days := range o.windows(p) {
		from := on.AddDays(-days)
		start := o.now()
		samples, err := p.Series(ctx, assetID, from, on)
		metrics.UpstreamLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.UpstreamErrors.WithLabelValues(p.Name()).Inc()
			o.logger.Warn("price source failed",
				"provider", p.Name(), "asset", asset.NewKey(t, assetID), "from", from, "to", on, "err", err)
			return model.PriceCacheEntry{}, err
		}

		s, ok := SelectClose(samples, on)
		if !ok {
			continue
		}
		e := model.PriceCacheEntry{
			AssetType: t,
			AssetID:   assetID,
			PriceDate: s.Date,
			Close:     s.Close,
			Source:    p.Name(),
			CreatedAt: o.now().UTC(),
		}
		if err := o.cache.InsertResolvedPrice(ctx, on, &e); err != nil {
			return model.PriceCacheEntry{}, fmt.Errorf("persist price %s:%s@%s: %w", t, assetID, s.Date, err)
		}
		metrics.PriceLookups.WithLabelValues("upstream").Inc()
		o.logger.Debug("price resolved",
			"asset", asset.NewKey(t, assetID), "target", on, "price_date", s.Date, "close", s.Close, "provider", p.Name())
		return e, nil
	}

	metrics.PriceLookups.WithLabelValues("miss").Inc()
	return model.PriceCacheEntry{}, fmt.Errorf("%w: %s:%s on or before %s", ErrPriceUnavailable, t, assetID, on)
}

func (o *Oracle) windows(p Provider) []int {
	if lp, ok := p.(LookbackPolicy); ok {
		if w := lp.Lookbacks(); len(w) > 0 {
			return w
		}
	}
	return []int{o.lookback, o.widened}
}
