// Package allocation validates submitted orders against the asset universe
// and the allocation limits, and turns them into a weight vector.
//
// Limits:
//   - every weight is in [0, MaxPerAsset]
//   - Σweights ≤ 1 + settlement.Epsilon (the residual is cash)
//   - each asset appears at most once per submission
package allocation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/model"
	"github.com/tickrun/turn-engine/internal/settlement"
)

var (
	// ErrInvalidAllocation is returned when weights are out of range or sum
	// to more than 1. It wraps settlement.ErrInvalidAllocation.
	ErrInvalidAllocation = fmt.Errorf("allocation: %w", settlement.ErrInvalidAllocation)

	// ErrNoOrders is returned for an empty submission.
	ErrNoOrders = errors.New("allocation: at least one order is required")

	// ErrDuplicateAsset is returned when the same asset is ordered twice.
	ErrDuplicateAsset = errors.New("allocation: duplicate asset in orders")

	// ErrUnknownAsset is returned for assets outside the universe.
	ErrUnknownAsset = asset.ErrUnknownAsset

	// ErrPerAssetLimitExceeded is returned when a single weight exceeds MaxPerAsset.
	ErrPerAssetLimitExceeded = fmt.Errorf("allocation: per-asset weight limit exceeded: %w", settlement.ErrInvalidAllocation)
)

// Limiter enforces allocation limits for one asset universe.
type Limiter struct {
	// Registry is the tradable universe.
	Registry *asset.Registry

	// MaxPerAsset caps the weight of any single asset. 1 disables the cap.
	MaxPerAsset decimal.Decimal
}

// NewLimiter creates a limiter. A non-positive or >1 cap is treated as 1.
func NewLimiter(registry *asset.Registry, maxPerAsset decimal.Decimal) *Limiter {
	one := decimal.NewFromInt(1)
	if !maxPerAsset.IsPositive() || maxPerAsset.GreaterThan(one) {
		maxPerAsset = one
	}
	return &Limiter{Registry: registry, MaxPerAsset: maxPerAsset}
}

// Build validates orders and returns the resulting weights. Zero-weight
// orders are accepted but produce no key.
func (l *Limiter) Build(orders []model.Order) (model.Weights, error) {
	if len(orders) == 0 {
		return nil, ErrNoOrders
	}

	weights := make(model.Weights, len(orders))
	seen := make(map[asset.Key]struct{}, len(orders))
	for _, o := range orders {
		a, err := l.Registry.Lookup(o.AssetType, o.AssetID)
		if err != nil {
			return nil, err
		}
		key := a.Key()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAsset, key)
		}
		seen[key] = struct{}{}

		if o.Weight.IsNegative() || o.Weight.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: weight %s for %s outside [0, 1]", ErrInvalidAllocation, o.Weight, key)
		}
		if o.Weight.GreaterThan(l.MaxPerAsset) {
			return nil, fmt.Errorf("%w: %s weight %s > %s", ErrPerAssetLimitExceeded, key, o.Weight, l.MaxPerAsset)
		}
		if o.Weight.IsZero() {
			continue
		}
		weights[key] = o.Weight
	}

	if err := settlement.ValidateWeights(weights); err != nil {
		return nil, fmt.Errorf("allocation: %w", err)
	}
	return weights, nil
}
