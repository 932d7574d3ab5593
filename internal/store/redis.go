package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/date"
	"github.com/tickrun/turn-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateSeason(ctx context.Context, season *model.Season) error {
	if err := s.primary.CreateSeason(ctx, season); err != nil {
		return err
	}
	// A new season may change the default and the listing.
	s.rdb.Del(ctx, defaultSeasonKey, seasonsKey)
	s.set(ctx, seasonKey(season.ID), season, s.ttl)
	return nil
}

func (s *CachedStore) CreateGame(ctx context.Context, g *model.Game, turn0 *model.Turn) error {
	return s.primary.CreateGame(ctx, g, turn0)
}

func (s *CachedStore) AppendTurn(ctx context.Context, turn *model.Turn, order *model.OrderRecord) error {
	if err := s.primary.AppendTurn(ctx, turn, order); err != nil {
		return err
	}
	s.rdb.Del(ctx, gameKey(turn.GameID))
	return nil
}

func (s *CachedStore) FinishGame(ctx context.Context, entry *model.LeaderboardEntry) (*model.LeaderboardEntry, error) {
	e, err := s.primary.FinishGame(ctx, entry)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, gameKey(entry.GameID), leaderboardKey(e.SeasonID), leaderboardKey(""))
	return e, nil
}

func (s *CachedStore) InsertPrice(ctx context.Context, e *model.PriceCacheEntry) error {
	if err := s.primary.InsertPrice(ctx, e); err != nil {
		return err
	}
	// Not cached here: the primary keeps the first write, which may differ.
	return nil
}

func (s *CachedStore) InsertResolvedPrice(ctx context.Context, target date.Date, e *model.PriceCacheEntry) error {
	return s.primary.InsertResolvedPrice(ctx, target, e)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSeason(ctx context.Context, id string) (*model.Season, error) {
	var season model.Season
	if s.get(ctx, seasonKey(id), &season) {
		return &season, nil
	}

	got, err := s.primary.GetSeason(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, seasonKey(id), got, s.ttl)
	return got, nil
}

func (s *CachedStore) DefaultSeason(ctx context.Context) (*model.Season, error) {
	var season model.Season
	if s.get(ctx, defaultSeasonKey, &season) {
		return &season, nil
	}

	got, err := s.primary.DefaultSeason(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, defaultSeasonKey, got, s.ttl)
	return got, nil
}

func (s *CachedStore) ListSeasons(ctx context.Context) ([]model.Season, error) {
	var seasons []model.Season
	if s.get(ctx, seasonsKey, &seasons) {
		return seasons, nil
	}

	got, err := s.primary.ListSeasons(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, seasonsKey, got, s.ttl)
	return got, nil
}

func (s *CachedStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	var g model.Game
	if s.get(ctx, gameKey(id), &g) {
		return &g, nil
	}

	got, err := s.primary.GetGame(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, gameKey(id), got, s.ttl)
	return got, nil
}

func (s *CachedStore) LatestPrice(ctx context.Context, t asset.Type, assetID string, onOrBefore date.Date) (*model.PriceCacheEntry, error) {
	return s.primary.LatestPrice(ctx, t, assetID, onOrBefore)
}

// ResolvedPrice entries never expire: the primary keeps the first close and
// the first resolution it sees, so a resolved answer is final.
func (s *CachedStore) ResolvedPrice(ctx context.Context, t asset.Type, assetID string, target date.Date) (*model.PriceCacheEntry, error) {
	key := priceCacheKey(t, assetID, target)

	var e model.PriceCacheEntry
	if s.get(ctx, key, &e) {
		return &e, nil
	}

	got, err := s.primary.ResolvedPrice(ctx, t, assetID, target)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, got, 0)
	return got, nil
}

// Leaderboard caches each (season, limit) page as a field of one hash per
// season, so a finished game invalidates all pages with a single DEL.
func (s *CachedStore) Leaderboard(ctx context.Context, seasonID string, limit int) ([]model.LeaderboardEntry, error) {
	key := leaderboardKey(seasonID)
	field := strconv.Itoa(limit)

	data, err := s.rdb.HGet(ctx, key, field).Bytes()
	if err == nil {
		var entries []model.LeaderboardEntry
		if json.Unmarshal(data, &entries) == nil {
			return entries, nil
		}
	}

	entries, err := s.primary.Leaderboard(ctx, seasonID, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(entries); err == nil {
		pipe := s.rdb.TxPipeline()
		pipe.HSet(ctx, key, field, data)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		_, _ = pipe.Exec(ctx)
	}
	return entries, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) LatestTurn(ctx context.Context, gameID string) (*model.Turn, error) {
	return s.primary.LatestTurn(ctx, gameID)
}

func (s *CachedStore) ListTurns(ctx context.Context, gameID string) ([]model.Turn, error) {
	return s.primary.ListTurns(ctx, gameID)
}

func (s *CachedStore) ListOrders(ctx context.Context, gameID string) ([]model.OrderRecord, error) {
	return s.primary.ListOrders(ctx, gameID)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// set stores v as JSON. A zero ttl keeps the key until evicted.
func (s *CachedStore) set(ctx context.Context, key string, v any, ttl time.Duration) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, ttl)
	}
}

const (
	defaultSeasonKey = "season:default"
	seasonsKey       = "seasons"
)

func seasonKey(id string) string       { return fmt.Sprintf("season:%s", id) }
func gameKey(id string) string         { return fmt.Sprintf("game:%s", id) }
func leaderboardKey(sid string) string { return fmt.Sprintf("leaderboard:%s", sid) }

func priceCacheKey(t asset.Type, id string, on date.Date) string {
	return fmt.Sprintf("price:%s:%s:%s", t, id, on)
}
