package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/date"
	"github.com/tickrun/turn-engine/internal/metrics"
	"github.com/tickrun/turn-engine/internal/model"
	"github.com/tickrun/turn-engine/internal/pricing"
	"github.com/tickrun/turn-engine/internal/settlement"
	"github.com/tickrun/turn-engine/internal/store"
)

// TurnRequest is one rebalancing submission.
type TurnRequest struct {
	GameID   string
	AsOfDate date.Date
	Orders   []model.Order

	// ExpectedTurnIndex, when set, must equal the index this submission
	// creates. Lets clients retry without settling the same turn twice.
	ExpectedTurnIndex *int
}

// TurnResult is the persisted outcome of a settled turn.
type TurnResult struct {
	Turn       model.Turn
	Order      model.OrderRecord
	Settlement settlement.Result
}

// AdvanceTurn settles one turn: it validates the game and the orders, resolves
// price relatives between the previous turn date and AsOfDate, and appends the
// new Turn and OrderRecord. Any failure leaves the game unchanged.
//
// Submissions for one game are serialized in-process; the store's conditional
// append rejects a stale index from any other instance.
func (s *Service) AdvanceTurn(ctx context.Context, ownerID string, req TurnRequest) (*TurnResult, error) {
	start := s.now()
	res, err := s.advanceTurn(ctx, ownerID, req)
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())
	metrics.TurnsSettled.WithLabelValues(outcome(err)).Inc()
	return res, err
}

func (s *Service) advanceTurn(ctx context.Context, ownerID string, req TurnRequest) (*TurnResult, error) {
	unlock := s.locks.lock(req.GameID)
	defer unlock()

	g, err := s.loadOwned(ctx, ownerID, req.GameID)
	if err != nil {
		return nil, err
	}
	if g.Status != model.GameActive {
		return nil, fmt.Errorf("%w: game %s is %s", ErrGameNotActive, g.ID, g.Status)
	}

	weights, err := s.limiter.Build(req.Orders)
	if err != nil {
		return nil, err
	}

	last, err := s.store.LatestTurn(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	next := last.TurnIndex + 1
	if req.ExpectedTurnIndex != nil && *req.ExpectedTurnIndex != next {
		return nil, fmt.Errorf("%w: expected turn %d, next is %d", ErrTurnConflict, *req.ExpectedTurnIndex, next)
	}

	season, err := s.store.GetSeason(ctx, g.SeasonID)
	if err != nil {
		return nil, err
	}
	if next > season.MaxTurns {
		return nil, fmt.Errorf("%w: game %s already played %d of %d turns",
			ErrTurnLimitReached, g.ID, last.TurnIndex, season.MaxTurns)
	}
	if !req.AsOfDate.After(last.AsOfDate) {
		return nil, fmt.Errorf("%w: %s is not after previous turn date %s",
			ErrInvalidTurnDate, req.AsOfDate, last.AsOfDate)
	}
	if req.AsOfDate.After(g.EndDate) {
		return nil, fmt.Errorf("%w: %s is after game end date %s",
			ErrInvalidTurnDate, req.AsOfDate, g.EndDate)
	}

	rel, err := s.resolveRelatives(ctx, weights, last.AsOfDate, req.AsOfDate)
	if err != nil {
		s.logger.Warn("price resolution failed",
			"game_id", g.ID, "turn_index", next, "as_of_date", req.AsOfDate, "err", err)
		return nil, err
	}

	result, err := settlement.Settle(settlement.Input{
		PreviousNAV:     last.NAV,
		PreviousWeights: last.Weights,
		NextWeights:     weights,
		FeeBps:          g.FeeBps,
		SlippageBps:     g.SlippageBps,
	}, rel)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	turn := model.Turn{
		ID:        s.newID(),
		GameID:    g.ID,
		TurnIndex: next,
		AsOfDate:  req.AsOfDate,
		NAV:       result.NextNAV,
		Cash:      result.NextCash,
		Weights:   weights,
		CreatedAt: now,
	}
	order := model.OrderRecord{
		ID:        s.newID(),
		GameID:    g.ID,
		TurnID:    turn.ID,
		TurnIndex: next,
		Orders:    req.Orders,
		Turnover:  result.Turnover,
		Costs:     result.Costs,
		CreatedAt: now,
	}
	if err := s.store.AppendTurn(ctx, &turn, &order); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrTurnConflict, err)
		}
		s.logger.Error("append turn failed", "game_id", g.ID, "turn_index", next, "err", err)
		return nil, err
	}

	s.logger.Info("turn settled",
		"game_id", g.ID,
		"turn_index", next,
		"as_of_date", req.AsOfDate,
		"nav", result.NextNAV,
		"turnover", result.Turnover,
		"costs", result.Costs,
	)
	s.pub.Publish(Event{
		Type:      EventTurnSettled,
		GameID:    g.ID,
		OwnerID:   g.OwnerID,
		SeasonID:  g.SeasonID,
		TurnIndex: next,
		AsOfDate:  req.AsOfDate,
		NAV:       result.NextNAV,
		Timestamp: now,
	})
	return &TurnResult{Turn: turn, Order: order, Settlement: result}, nil
}

// resolveRelatives fetches close(next)/close(prev) for every held asset
// concurrently. The first failure cancels the rest.
func (s *Service) resolveRelatives(ctx context.Context, weights model.Weights, prev, next date.Date) (settlement.RelativeMap, error) {
	rel := make(settlement.RelativeMap, len(weights))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for key, w := range weights {
		if key == asset.Cash || w.IsZero() {
			continue
		}
		g.Go(func() error {
			t, id, err := asset.ParseKey(key)
			if err != nil {
				return err
			}
			var prevClose, nextClose decimal.Decimal
			if prevClose, err = s.prices.ResolveClose(gctx, t, id, prev); err != nil {
				return err
			}
			if nextClose, err = s.prices.ResolveClose(gctx, t, id, next); err != nil {
				return err
			}
			r, err := settlement.Relative(prevClose, nextClose)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			mu.Lock()
			rel[key] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rel, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTurnConflict):
		return "conflict"
	case errors.Is(err, pricing.ErrPriceUnavailable), errors.Is(err, pricing.ErrUpstream):
		return "price_error"
	default:
		return "rejected"
	}
}
