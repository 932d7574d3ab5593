// Package settlement computes one turn of portfolio settlement: turnover
// between two weight vectors, transaction costs, and the next NAV from
// realized price relatives.
//
// The calculator is pure and deterministic. Cash is the implicit residual
// weight 1 − Σweights and always has a relative of exactly 1.
//
//	turnover = Σ_k |next(k) − prev(k)|           (k over all keys and cash)
//	costs    = nav × turnover × (fee + slippage) / 10000
//	growth   = Σ_k next(k) × relative(k)
//	nextNav  = (nav − costs) × growth
//
// All monetary values use shopspring/decimal; never float64 for money.
package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/model"
)

var (
	// ErrInvalidAllocation is returned when a weight is outside [0, 1] or
	// the weights sum to more than 1 + Epsilon.
	ErrInvalidAllocation = errors.New("settlement: invalid allocation")

	// ErrMissingRelative is returned when no price relative is available for
	// a held asset.
	ErrMissingRelative = errors.New("settlement: missing price relative")

	// ErrInvalidPrice is returned when a close used for a relative is not positive.
	ErrInvalidPrice = errors.New("settlement: close price must be positive")

	// Epsilon is the tolerance on Σweights ≤ 1.
	Epsilon = decimal.New(1, -6)

	// NAVScale is the number of decimal places kept on NAV and cash.
	NAVScale int32 = 8

	one            = decimal.NewFromInt(1)
	bpsDenominator = decimal.NewFromInt(10000)
)

// Input is the prior state and requested allocation of one settlement step.
type Input struct {
	PreviousNAV     decimal.Decimal
	PreviousWeights model.Weights
	NextWeights     model.Weights
	FeeBps          decimal.Decimal
	SlippageBps     decimal.Decimal
}

// Result is the outcome of one settlement step.
type Result struct {
	Turnover      decimal.Decimal `json:"turnover"`
	Costs         decimal.Decimal `json:"costs"`
	NAVAfterCosts decimal.Decimal `json:"navAfterCosts"`
	CashWeight    decimal.Decimal `json:"cashWeight"`
	Growth        decimal.Decimal `json:"growth"`
	NextNAV       decimal.Decimal `json:"nextNav"`
	NextCash      decimal.Decimal `json:"nextCash"`
}

// Relatives supplies the price relative close(next)/close(prev) of an asset.
type Relatives interface {
	Relative(key asset.Key) (decimal.Decimal, error)
}

// RelativeMap is a Relatives backed by precomputed values.
type RelativeMap map[asset.Key]decimal.Decimal

func (m RelativeMap) Relative(key asset.Key) (decimal.Decimal, error) {
	if key == asset.Cash {
		return one, nil
	}
	r, ok := m[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMissingRelative, key)
	}
	return r, nil
}

// Relative returns nextClose / prevClose.
func Relative(prevClose, nextClose decimal.Decimal) (decimal.Decimal, error) {
	if !prevClose.IsPositive() || !nextClose.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: prev=%s next=%s", ErrInvalidPrice, prevClose, nextClose)
	}
	return nextClose.Div(prevClose), nil
}

// ValidateWeights checks every weight is in [0, 1] and Σweights ≤ 1 + Epsilon.
func ValidateWeights(w model.Weights) error {
	for k, v := range w {
		if v.IsNegative() || v.GreaterThan(one) {
			return fmt.Errorf("%w: weight %s for %s outside [0, 1]", ErrInvalidAllocation, v, k)
		}
	}
	if sum := w.Sum(); sum.GreaterThan(one.Add(Epsilon)) {
		return fmt.Errorf("%w: weights sum to %s, must be <= 1", ErrInvalidAllocation, sum)
	}
	return nil
}

// CashWeight returns the residual cash weight max(0, 1 − Σw).
func CashWeight(w model.Weights) decimal.Decimal {
	c := one.Sub(w.Sum())
	if c.IsNegative() {
		return decimal.Zero
	}
	return c
}

// Turnover returns the L1 distance between prev and next, including the cash leg.
func Turnover(prev, next model.Weights) decimal.Decimal {
	total := CashWeight(next).Sub(CashWeight(prev)).Abs()

	seen := make(map[asset.Key]struct{}, len(prev)+len(next))
	for _, w := range []model.Weights{prev, next} {
		for k := range w {
			if k == asset.Cash {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			total = total.Add(next[k].Sub(prev[k]).Abs())
		}
	}
	return total
}

// Costs returns nav × turnover × (feeBps + slippageBps) / 10000.
func Costs(nav, turnover, feeBps, slippageBps decimal.Decimal) decimal.Decimal {
	return nav.Mul(turnover).Mul(feeBps.Add(slippageBps)).Div(bpsDenominator)
}

// Settle runs one settlement step. Relatives are only requested for keys with
// a nonzero next weight. NextNAV is not clamped.
func Settle(in Input, rel Relatives) (Result, error) {
	if err := ValidateWeights(in.NextWeights); err != nil {
		return Result{}, err
	}
	if in.FeeBps.IsNegative() || in.SlippageBps.IsNegative() {
		return Result{}, fmt.Errorf("settlement: negative cost rate fee=%s slippage=%s", in.FeeBps, in.SlippageBps)
	}

	turnover := Turnover(in.PreviousWeights, in.NextWeights)
	costs := Costs(in.PreviousNAV, turnover, in.FeeBps, in.SlippageBps)
	navAfterCosts := in.PreviousNAV.Sub(costs)

	cash := CashWeight(in.NextWeights)
	growth := cash
	for k, w := range in.NextWeights {
		if k == asset.Cash || w.IsZero() {
			continue
		}
		r, err := rel.Relative(k)
		if err != nil {
			return Result{}, err
		}
		if r.IsNegative() {
			return Result{}, fmt.Errorf("%w: negative relative %s for %s", ErrInvalidPrice, r, k)
		}
		growth = growth.Add(w.Mul(r))
	}

	nextNAV := navAfterCosts.Mul(growth).Round(NAVScale)
	return Result{
		Turnover:      turnover,
		Costs:         costs,
		NAVAfterCosts: navAfterCosts,
		CashWeight:    cash,
		Growth:        growth,
		NextNAV:       nextNAV,
		NextCash:      nextNAV.Mul(cash).Round(NAVScale),
	}, nil
}
