package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/date"
	"github.com/tickrun/turn-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	seasons     map[string]*model.Season
	games       map[string]*model.Game
	turns       map[string][]model.Turn // gameID → turns by index
	orders      map[string][]model.OrderRecord
	leaderboard []model.LeaderboardEntry
	prices      map[priceKey]model.PriceCacheEntry
	resolutions map[priceKey]date.Date // target → price date
}

type priceKey struct {
	typ asset.Type
	id  string
	on  date.Date
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seasons:     make(map[string]*model.Season),
		games:       make(map[string]*model.Game),
		turns:       make(map[string][]model.Turn),
		orders:      make(map[string][]model.OrderRecord),
		prices:      make(map[priceKey]model.PriceCacheEntry),
		resolutions: make(map[priceKey]date.Date),
	}
}

func (s *MemoryStore) CreateSeason(_ context.Context, season *model.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seasons[season.ID]; ok {
		return fmt.Errorf("season %s: %w", season.ID, ErrConflict)
	}
	cp := *season
	s.seasons[season.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSeason(_ context.Context, id string) (*model.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	season, ok := s.seasons[id]
	if !ok {
		return nil, fmt.Errorf("season %s: %w", id, ErrNotFound)
	}
	cp := *season
	return &cp, nil
}

func (s *MemoryStore) DefaultSeason(ctx context.Context) (*model.Season, error) {
	seasons, err := s.ListSeasons(ctx)
	if err != nil {
		return nil, err
	}
	if len(seasons) == 0 {
		return nil, fmt.Errorf("default season: %w", ErrNotFound)
	}
	for _, season := range seasons {
		if season.IsDefault {
			return &season, nil
		}
	}
	return &seasons[0], nil
}

func (s *MemoryStore) ListSeasons(_ context.Context) ([]model.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seasons := make([]model.Season, 0, len(s.seasons))
	for _, season := range s.seasons {
		seasons = append(seasons, *season)
	}
	sort.Slice(seasons, func(i, j int) bool {
		if seasons[i].CreatedAt.Equal(seasons[j].CreatedAt) {
			return seasons[i].ID > seasons[j].ID
		}
		return seasons[i].CreatedAt.After(seasons[j].CreatedAt)
	})
	return seasons, nil
}

func (s *MemoryStore) CreateGame(_ context.Context, g *model.Game, turn0 *model.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[g.ID]; ok {
		return fmt.Errorf("game %s: %w", g.ID, ErrConflict)
	}
	cp := *g
	s.games[g.ID] = &cp
	s.turns[g.ID] = []model.Turn{copyTurn(*turn0)}
	return nil
}

func (s *MemoryStore) GetGame(_ context.Context, id string) (*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[id]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) LatestTurn(_ context.Context, gameID string) (*model.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[gameID]
	if len(turns) == 0 {
		return nil, fmt.Errorf("latest turn of game %s: %w", gameID, ErrNotFound)
	}
	t := copyTurn(turns[len(turns)-1])
	return &t, nil
}

func (s *MemoryStore) ListTurns(_ context.Context, gameID string) ([]model.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := make([]model.Turn, 0, len(s.turns[gameID]))
	for _, t := range s.turns[gameID] {
		turns = append(turns, copyTurn(t))
	}
	return turns, nil
}

// AppendTurn performs the check-and-set under the write lock, so the
// index check and both inserts are one step.
func (s *MemoryStore) AppendTurn(_ context.Context, turn *model.Turn, order *model.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[turn.GameID]
	if !ok {
		return fmt.Errorf("game %s: %w", turn.GameID, ErrNotFound)
	}
	if g.Status != model.GameActive || g.CurrentTurnIndex != turn.TurnIndex-1 {
		return fmt.Errorf("append turn %d to game %s (status %s, current %d): %w",
			turn.TurnIndex, g.ID, g.Status, g.CurrentTurnIndex, ErrConflict)
	}

	s.turns[g.ID] = append(s.turns[g.ID], copyTurn(*turn))
	rec := *order
	rec.Orders = append([]model.Order(nil), order.Orders...)
	s.orders[g.ID] = append(s.orders[g.ID], rec)
	g.CurrentTurnIndex = turn.TurnIndex
	return nil
}

func (s *MemoryStore) ListOrders(_ context.Context, gameID string) ([]model.OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.OrderRecord(nil), s.orders[gameID]...), nil
}

func (s *MemoryStore) FinishGame(_ context.Context, entry *model.LeaderboardEntry) (*model.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[entry.GameID]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", entry.GameID, ErrNotFound)
	}
	if g.Status == model.GameFinished {
		for _, e := range s.leaderboard {
			if e.GameID == g.ID {
				existing := e
				return &existing, nil
			}
		}
		return nil, fmt.Errorf("leaderboard entry for finished game %s: %w", g.ID, ErrNotFound)
	}
	if g.CurrentTurnIndex != entry.TurnsPlayed {
		return nil, fmt.Errorf("finish game %s at turn %d (current %d): %w",
			g.ID, entry.TurnsPlayed, g.CurrentTurnIndex, ErrConflict)
	}

	g.Status = model.GameFinished
	s.leaderboard = append(s.leaderboard, *entry)
	cp := *entry
	return &cp, nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, seasonID string, limit int) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LeaderboardEntry
	for _, e := range s.leaderboard {
		if seasonID == "" || e.SeasonID == seasonID {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].FinalNAV.Equal(result[j].FinalNAV) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].FinalNAV.GreaterThan(result[j].FinalNAV)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) LatestPrice(_ context.Context, t asset.Type, assetID string, onOrBefore date.Date) (*model.PriceCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *model.PriceCacheEntry
	for k, e := range s.prices {
		if k.typ != t || k.id != assetID || k.on.After(onOrBefore) {
			continue
		}
		if best == nil || e.PriceDate.After(best.PriceDate) {
			cp := e
			best = &cp
		}
	}
	if best == nil {
		return nil, fmt.Errorf("price %s:%s on or before %s: %w", t, assetID, onOrBefore, ErrNotFound)
	}
	return best, nil
}

func (s *MemoryStore) InsertPrice(_ context.Context, e *model.PriceCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertPrice(e)
	return nil
}

func (s *MemoryStore) insertPrice(e *model.PriceCacheEntry) {
	k := priceKey{e.AssetType, e.AssetID, e.PriceDate}
	if _, exists := s.prices[k]; exists {
		return // first write wins
	}
	s.prices[k] = *e
}

func (s *MemoryStore) ResolvedPrice(_ context.Context, t asset.Type, assetID string, target date.Date) (*model.PriceCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.prices[priceKey{t, assetID, target}]; ok {
		return &e, nil
	}
	if on, ok := s.resolutions[priceKey{t, assetID, target}]; ok {
		if e, ok := s.prices[priceKey{t, assetID, on}]; ok {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("price %s:%s resolved for %s: %w", t, assetID, target, ErrNotFound)
}

func (s *MemoryStore) InsertResolvedPrice(_ context.Context, target date.Date, e *model.PriceCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertPrice(e)
	k := priceKey{e.AssetType, e.AssetID, target}
	if _, exists := s.resolutions[k]; !exists {
		s.resolutions[k] = e.PriceDate
	}
	return nil
}

// PriceCount reports how many price entries are cached. Test helper.
func (s *MemoryStore) PriceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prices)
}

func copyTurn(t model.Turn) model.Turn {
	w := make(model.Weights, len(t.Weights))
	for k, v := range t.Weights {
		w[k] = v
	}
	t.Weights = w
	return t
}
