package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/date"
	"github.com/tickrun/turn-engine/internal/model"
)

func seedGame(t *testing.T, s *MemoryStore) *model.Game {
	t.Helper()
	g := &model.Game{
		ID:        "g1",
		OwnerID:   "alice",
		SeasonID:  "s1",
		StartCash: decimal.NewFromInt(10000),
		StartDate: date.MustParse("2024-01-01"),
		EndDate:   date.MustParse("2024-03-01"),
		Status:    model.GameActive,
	}
	turn0 := &model.Turn{ID: "t0", GameID: g.ID, AsOfDate: g.StartDate, NAV: g.StartCash, Cash: g.StartCash}
	if err := s.CreateGame(context.Background(), g, turn0); err != nil {
		t.Fatalf("create game: %v", err)
	}
	return g
}

func nextTurn(gameID string, idx int) (*model.Turn, *model.OrderRecord) {
	turn := &model.Turn{
		ID:        "t" + string(rune('0'+idx)),
		GameID:    gameID,
		TurnIndex: idx,
		AsOfDate:  date.MustParse("2024-01-01").AddDays(7 * idx),
		NAV:       decimal.NewFromInt(10000),
		Weights:   model.Weights{"crypto:bitcoin": decimal.NewFromFloat(0.5)},
	}
	order := &model.OrderRecord{ID: "o" + turn.ID, GameID: gameID, TurnID: turn.ID, TurnIndex: idx}
	return turn, order
}

func TestAppendTurn_RequiresNextIndex(t *testing.T) {
	s := NewMemoryStore()
	g := seedGame(t, s)
	ctx := context.Background()

	turn, order := nextTurn(g.ID, 2)
	if err := s.AppendTurn(ctx, turn, order); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for skipped index, got %v", err)
	}

	turn, order = nextTurn(g.ID, 1)
	if err := s.AppendTurn(ctx, turn, order); err != nil {
		t.Fatalf("append turn 1: %v", err)
	}
	if err := s.AppendTurn(ctx, turn, order); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on replay, got %v", err)
	}

	got, _ := s.GetGame(ctx, g.ID)
	if got.CurrentTurnIndex != 1 {
		t.Errorf("expected current index 1, got %d", got.CurrentTurnIndex)
	}
	latest, _ := s.LatestTurn(ctx, g.ID)
	if latest.TurnIndex != 1 {
		t.Errorf("expected latest turn 1, got %d", latest.TurnIndex)
	}
	orders, _ := s.ListOrders(ctx, g.ID)
	if len(orders) != 1 {
		t.Errorf("expected 1 order record, got %d", len(orders))
	}
}

func TestAppendTurn_ConcurrentSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	g := seedGame(t, s)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turn, order := nextTurn(g.ID, 1)
			if err := s.AppendTurn(context.Background(), turn, order); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
	turns, _ := s.ListTurns(context.Background(), g.ID)
	if len(turns) != 2 {
		t.Errorf("expected 2 turns, got %d", len(turns))
	}
}

func TestFinishGame_Idempotent(t *testing.T) {
	s := NewMemoryStore()
	g := seedGame(t, s)
	ctx := context.Background()

	entry := &model.LeaderboardEntry{ID: "e1", GameID: g.ID, SeasonID: "s1", FinalNAV: decimal.NewFromInt(10500)}
	first, err := s.FinishGame(ctx, entry)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	again := &model.LeaderboardEntry{ID: "e2", GameID: g.ID, SeasonID: "s1", FinalNAV: decimal.NewFromInt(1)}
	second, err := s.FinishGame(ctx, again)
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if second.ID != first.ID || !second.FinalNAV.Equal(first.FinalNAV) {
		t.Errorf("expected existing entry %s, got %s", first.ID, second.ID)
	}

	turn, order := nextTurn(g.ID, 1)
	if err := s.AppendTurn(ctx, turn, order); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict appending to finished game, got %v", err)
	}

	board, _ := s.Leaderboard(ctx, "", 10)
	if len(board) != 1 {
		t.Errorf("expected 1 leaderboard entry, got %d", len(board))
	}
}

func TestFinishGame_StaleIndex(t *testing.T) {
	s := NewMemoryStore()
	g := seedGame(t, s)

	entry := &model.LeaderboardEntry{ID: "e1", GameID: g.ID, TurnsPlayed: 3}
	if _, err := s.FinishGame(context.Background(), entry); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestLeaderboard_Ordering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	navs := []struct {
		game, season string
		nav          int64
	}{
		{"a", "s1", 9000},
		{"b", "s1", 12000},
		{"c", "s2", 15000},
		{"d", "s1", 12000},
	}
	for i, n := range navs {
		g := &model.Game{ID: n.game, SeasonID: n.season, Status: model.GameActive}
		if err := s.CreateGame(ctx, g, &model.Turn{GameID: n.game}); err != nil {
			t.Fatal(err)
		}
		e := &model.LeaderboardEntry{
			ID: "e" + n.game, GameID: n.game, SeasonID: n.season,
			FinalNAV: decimal.NewFromInt(n.nav), CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := s.FinishGame(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	board, _ := s.Leaderboard(ctx, "s1", 10)
	want := []string{"b", "d", "a"}
	if len(board) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(board))
	}
	for i, id := range want {
		if board[i].GameID != id {
			t.Errorf("rank %d: expected game %s, got %s", i, id, board[i].GameID)
		}
	}

	top, _ := s.Leaderboard(ctx, "", 1)
	if len(top) != 1 || top[0].GameID != "c" {
		t.Errorf("expected game c on top of all seasons, got %+v", top)
	}

	for _, limit := range []int{0, -1} {
		if all, _ := s.Leaderboard(ctx, "", limit); len(all) != len(navs) {
			t.Errorf("limit %d: expected all %d entries, got %d", limit, len(navs), len(all))
		}
	}
}

func TestPriceCache_LatestOnOrBefore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	put := func(day string, close float64) {
		_ = s.InsertPrice(ctx, &model.PriceCacheEntry{
			AssetType: asset.Crypto, AssetID: "bitcoin",
			PriceDate: date.MustParse(day), Close: decimal.NewFromFloat(close), Source: "test",
		})
	}
	put("2024-01-01", 100)
	put("2024-01-05", 105)
	put("2024-01-05", 999) // ignored

	e, err := s.LatestPrice(ctx, asset.Crypto, "bitcoin", date.MustParse("2024-01-04"))
	if err != nil {
		t.Fatalf("latest price: %v", err)
	}
	if e.PriceDate != date.MustParse("2024-01-01") {
		t.Errorf("expected 2024-01-01, got %s", e.PriceDate)
	}

	e, _ = s.LatestPrice(ctx, asset.Crypto, "bitcoin", date.MustParse("2024-02-01"))
	if !e.Close.Equal(decimal.NewFromInt(105)) {
		t.Errorf("expected first write 105 to win, got %s", e.Close)
	}

	if _, err := s.LatestPrice(ctx, asset.Crypto, "bitcoin", date.MustParse("2023-12-31")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if s.PriceCount() != 2 {
		t.Errorf("expected 2 cached prices, got %d", s.PriceCount())
	}
}

func TestPriceCache_ResolvedPrice(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	friday, sunday, monday := date.MustParse("2024-01-05"), date.MustParse("2024-01-07"), date.MustParse("2024-01-08")

	_ = s.InsertPrice(ctx, &model.PriceCacheEntry{
		AssetType: asset.Crypto, AssetID: "bitcoin", PriceDate: friday, Close: decimal.NewFromInt(100),
	})
	if e, err := s.ResolvedPrice(ctx, asset.Crypto, "bitcoin", friday); err != nil || e.PriceDate != friday {
		t.Fatalf("expected exact-date hit, got %v (%v)", e, err)
	}
	// An older close alone does not resolve a later day.
	if _, err := s.ResolvedPrice(ctx, asset.Crypto, "bitcoin", sunday); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unresolved sunday, got %v", err)
	}

	err := s.InsertResolvedPrice(ctx, sunday, &model.PriceCacheEntry{
		AssetType: asset.Crypto, AssetID: "bitcoin", PriceDate: friday, Close: decimal.NewFromInt(999),
	})
	if err != nil {
		t.Fatal(err)
	}
	e, err := s.ResolvedPrice(ctx, asset.Crypto, "bitcoin", sunday)
	if err != nil {
		t.Fatalf("resolved price: %v", err)
	}
	if e.PriceDate != friday || !e.Close.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected friday close 100 (first write wins), got %s on %s", e.Close, e.PriceDate)
	}
	if _, err := s.ResolvedPrice(ctx, asset.Crypto, "bitcoin", monday); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for monday, got %v", err)
	}
	if s.PriceCount() != 1 {
		t.Errorf("expected 1 cached price, got %d", s.PriceCount())
	}
}

func TestDefaultSeason(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.DefaultSeason(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound with no seasons, got %v", err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = s.CreateSeason(ctx, &model.Season{ID: "old", IsDefault: true, CreatedAt: base})
	_ = s.CreateSeason(ctx, &model.Season{ID: "new", CreatedAt: base.Add(time.Hour)})

	got, _ := s.DefaultSeason(ctx)
	if got.ID != "old" {
		t.Errorf("expected flagged season, got %s", got.ID)
	}

	if err := s.CreateSeason(ctx, &model.Season{ID: "new"}); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate season, got %v", err)
	}
}
