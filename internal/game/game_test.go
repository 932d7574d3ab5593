package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/allocation"
	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/date"
	"github.com/tickrun/turn-engine/internal/model"
	"github.com/tickrun/turn-engine/internal/pricing"
	"github.com/tickrun/turn-engine/internal/settlement"
	"github.com/tickrun/turn-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fakePrices struct {
	mu     sync.Mutex
	closes map[string]decimal.Decimal
	err    error
	calls  int
}

func (p *fakePrices) set(t asset.Type, id, day string, close float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closes == nil {
		p.closes = make(map[string]decimal.Decimal)
	}
	p.closes[fmt.Sprintf("%s:%s@%s", t, id, day)] = d(close)
}

func (p *fakePrices) ResolveClose(_ context.Context, t asset.Type, id string, on date.Date) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return decimal.Zero, p.err
	}
	c, ok := p.closes[fmt.Sprintf("%s:%s@%s", t, id, on)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s:%s@%s", pricing.ErrPriceUnavailable, t, id, on)
	}
	return c, nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// fixedSeason has no slack, so every game starts on 2024-01-01.
func fixedSeason(id string, maxTurns int) *model.Season {
	return &model.Season{
		ID:             id,
		MinDate:        date.MustParse("2024-01-01"),
		MaxDate:        date.MustParse("2024-01-01").AddDays(maxTurns),
		MaxTurns:       maxTurns,
		TurnLengthDays: 1,
		IsDefault:      true,
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func setup(t *testing.T) (*Service, *store.MemoryStore, *fakePrices, *recorder) {
	t.Helper()
	st := store.NewMemoryStore()
	if err := st.CreateSeason(context.Background(), fixedSeason("s1", 10)); err != nil {
		t.Fatal(err)
	}
	prices := &fakePrices{}
	prices.set(asset.Crypto, "bitcoin", "2024-01-01", 100)
	prices.set(asset.Crypto, "bitcoin", "2024-01-02", 105)
	prices.set(asset.Equity, "SPY", "2024-01-01", 470)
	prices.set(asset.Equity, "SPY", "2024-01-02", 470)

	rec := &recorder{}
	svc := NewService(st, prices, allocation.NewLimiter(asset.Default(), decimal.NewFromInt(1)), DefaultConfig(),
		WithPublisher(rec), WithRand(rand.New(rand.NewPCG(1, 2))))
	return svc, st, prices, rec
}

func btc(w float64) []model.Order {
	return []model.Order{{AssetType: asset.Crypto, AssetID: "bitcoin", Weight: d(w)}}
}

func TestStart_CreatesTurnZero(t *testing.T) {
	svc, st, _, rec := setup(t)
	ctx := context.Background()

	g, err := svc.Start(ctx, "alice", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if g.Status != model.GameActive || g.CurrentTurnIndex != 0 {
		t.Errorf("expected active game at turn 0, got %s/%d", g.Status, g.CurrentTurnIndex)
	}
	if g.StartDate != date.MustParse("2024-01-01") || g.EndDate != date.MustParse("2024-01-11") {
		t.Errorf("unexpected window %s..%s", g.StartDate, g.EndDate)
	}

	turn0, err := st.LatestTurn(ctx, g.ID)
	if err != nil {
		t.Fatalf("latest turn: %v", err)
	}
	if turn0.TurnIndex != 0 || !turn0.NAV.Equal(d(10000)) || !turn0.Cash.Equal(d(10000)) || len(turn0.Weights) != 0 {
		t.Errorf("unexpected turn 0: %+v", turn0)
	}
	if len(rec.events) != 1 || rec.events[0].Type != EventGameStarted {
		t.Errorf("expected game_started event, got %+v", rec.events)
	}
}

func TestStart_SamplesWithinWindow(t *testing.T) {
	st := store.NewMemoryStore()
	season := &model.Season{
		ID:             "wide",
		MinDate:        date.MustParse("2020-01-01"),
		MaxDate:        date.MustParse("2020-12-31"),
		MaxTurns:       20,
		TurnLengthDays: 7,
	}
	_ = st.CreateSeason(context.Background(), season)
	svc := NewService(st, &fakePrices{}, allocation.NewLimiter(asset.Default(), d(1)), DefaultConfig(),
		WithRand(rand.New(rand.NewPCG(7, 7))))

	latest := season.MaxDate.AddDays(-season.SpanDays())
	for i := 0; i < 50; i++ {
		g, err := svc.Start(context.Background(), "alice", "wide")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if g.StartDate.Before(season.MinDate) || g.StartDate.After(latest) {
			t.Fatalf("start %s outside [%s, %s]", g.StartDate, season.MinDate, latest)
		}
		if g.StartDate.DaysUntil(g.EndDate) != 140 {
			t.Fatalf("expected 140-day game, got %s..%s", g.StartDate, g.EndDate)
		}
	}
}

func TestStart_SeasonErrors(t *testing.T) {
	ctx := context.Background()
	empty := NewService(store.NewMemoryStore(), &fakePrices{}, allocation.NewLimiter(asset.Default(), d(1)), DefaultConfig())
	if _, err := empty.Start(ctx, "alice", ""); !errors.Is(err, ErrNoSeasonAvailable) {
		t.Errorf("expected ErrNoSeasonAvailable, got %v", err)
	}
	if _, err := empty.Start(ctx, "alice", "missing"); !errors.Is(err, ErrNoSeasonAvailable) {
		t.Errorf("expected ErrNoSeasonAvailable for unknown season, got %v", err)
	}

	st := store.NewMemoryStore()
	short := &model.Season{
		ID:             "short",
		MinDate:        date.MustParse("2024-01-01"),
		MaxDate:        date.MustParse("2024-01-10"),
		MaxTurns:       10,
		TurnLengthDays: 1,
	}
	_ = st.CreateSeason(ctx, short)
	svc := NewService(st, &fakePrices{}, allocation.NewLimiter(asset.Default(), d(1)), DefaultConfig())
	if _, err := svc.Start(ctx, "alice", "short"); !errors.Is(err, ErrInvalidSeason) {
		t.Errorf("expected ErrInvalidSeason, got %v", err)
	}
}

func TestAdvanceTurn_ReferenceSettlement(t *testing.T) {
	svc, st, _, rec := setup(t)
	ctx := context.Background()
	g, _ := svc.Start(ctx, "alice", "")

	res, err := svc.AdvanceTurn(ctx, "alice", TurnRequest{
		GameID:   g.ID,
		AsOfDate: date.MustParse("2024-01-02"),
		Orders:   btc(0.6),
	})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	if res.Turn.TurnIndex != 1 {
		t.Errorf("expected turn 1, got %d", res.Turn.TurnIndex)
	}
	if !res.Settlement.Turnover.Equal(d(1.2)) {
		t.Errorf("expected turnover 1.2, got %s", res.Settlement.Turnover)
	}
	if !res.Order.Costs.Equal(d(60)) {
		t.Errorf("expected costs 60, got %s", res.Order.Costs)
	}
	if !res.Turn.NAV.Equal(d(10238.2)) {
		t.Errorf("expected nav 10238.2, got %s", res.Turn.NAV)
	}
	if !res.Turn.Cash.Equal(d(4095.28)) {
		t.Errorf("expected cash 4095.28, got %s", res.Turn.Cash)
	}

	got, _ := st.GetGame(ctx, g.ID)
	if got.CurrentTurnIndex != 1 {
		t.Errorf("expected game pointer 1, got %d", got.CurrentTurnIndex)
	}
	orders, _ := st.ListOrders(ctx, g.ID)
	if len(orders) != 1 || orders[0].TurnID != res.Turn.ID {
		t.Errorf("expected one order record attached to the new turn, got %+v", orders)
	}
	last := rec.events[len(rec.events)-1]
	if last.Type != EventTurnSettled || last.TurnIndex != 1 {
		t.Errorf("expected turn_settled event for turn 1, got %+v", last)
	}
}

// dailyCloses is a market-data source with one close per listed day.
type dailyCloses map[string]float64

func (dailyCloses) Name() string { return "daily" }

func (c dailyCloses) Series(_ context.Context, _ string, from, to date.Date) ([]pricing.Sample, error) {
	var out []pricing.Sample
	for day := from; !day.After(to); day = day.AddDays(1) {
		if v, ok := c[day.String()]; ok {
			out = append(out, pricing.Sample{Date: day, Close: d(v)})
		}
	}
	return out, nil
}

func TestAdvanceTurn_SettlesThroughOracle(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.CreateSeason(ctx, fixedSeason("s1", 10)); err != nil {
		t.Fatal(err)
	}
	oracle := pricing.NewOracle(st, map[asset.Type]pricing.Provider{
		asset.Crypto: dailyCloses{"2024-01-01": 100, "2024-01-02": 105, "2024-01-03": 110.25},
	}, pricing.OracleConfig{}, nil)
	svc := NewService(st, oracle, allocation.NewLimiter(asset.Default(), d(1)), DefaultConfig(),
		WithRand(rand.New(rand.NewPCG(1, 2))))

	g, err := svc.Start(ctx, "alice", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Each turn reuses the previous turn's close from the store and must
	// still fetch its own day's close.
	steps := []struct {
		day string
		nav float64
	}{
		{"2024-01-02", 10238.2},   // 9940 * (0.4 + 0.6*1.05)
		{"2024-01-03", 10545.346}, // no rebalance, 0.4 + 0.6*1.05 again
		{"2024-01-04", 10545.346}, // no close on the 4th, falls back to the 3rd
	}
	for _, step := range steps {
		res, err := svc.AdvanceTurn(ctx, "alice", TurnRequest{
			GameID: g.ID, AsOfDate: date.MustParse(step.day), Orders: btc(0.6),
		})
		if err != nil {
			t.Fatalf("advance to %s: %v", step.day, err)
		}
		if !res.Turn.NAV.Equal(d(step.nav)) {
			t.Errorf("%s: expected nav %v, got %s", step.day, step.nav, res.Turn.NAV)
		}
	}
	if st.PriceCount() != 3 {
		t.Errorf("expected 3 cached closes, got %d", st.PriceCount())
	}
}

func TestAdvanceTurn_Rejections(t *testing.T) {
	svc, st, prices, _ := setup(t)
	ctx := context.Background()
	g, _ := svc.Start(ctx, "alice", "")
	day2 := date.MustParse("2024-01-02")

	tests := []struct {
		name  string
		owner string
		req   TurnRequest
		want  error
	}{
		{"weights over one", "alice", TurnRequest{GameID: g.ID, AsOfDate: day2, Orders: []model.Order{
			{AssetType: asset.Crypto, AssetID: "bitcoin", Weight: d(0.7)},
			{AssetType: asset.Equity, AssetID: "SPY", Weight: d(0.5)},
		}}, settlement.ErrInvalidAllocation},
		{"not owner", "mallory", TurnRequest{GameID: g.ID, AsOfDate: day2, Orders: btc(0.5)}, ErrForbidden},
		{"unknown game", "alice", TurnRequest{GameID: "nope", AsOfDate: day2, Orders: btc(0.5)}, ErrGameNotFound},
		{"same date", "alice", TurnRequest{GameID: g.ID, AsOfDate: g.StartDate, Orders: btc(0.5)}, ErrInvalidTurnDate},
		{"past end", "alice", TurnRequest{GameID: g.ID, AsOfDate: g.EndDate.AddDays(1), Orders: btc(0.5)}, ErrInvalidTurnDate},
		{"stale expected index", "alice", TurnRequest{GameID: g.ID, AsOfDate: day2, Orders: btc(0.5), ExpectedTurnIndex: new(int)}, ErrTurnConflict},
		{"unknown asset", "alice", TurnRequest{GameID: g.ID, AsOfDate: day2, Orders: []model.Order{
			{AssetType: asset.Equity, AssetID: "TSLA", Weight: d(0.1)},
		}}, allocation.ErrUnknownAsset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.AdvanceTurn(ctx, tt.owner, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if prices.calls != 0 {
		t.Errorf("validation failures must not reach the price source, got %d calls", prices.calls)
	}
	turns, _ := st.ListTurns(ctx, g.ID)
	if len(turns) != 1 {
		t.Errorf("expected only turn 0, got %d turns", len(turns))
	}
}

func TestAdvanceTurn_PriceFailureWritesNothing(t *testing.T) {
	svc, st, prices, _ := setup(t)
	ctx := context.Background()
	g, _ := svc.Start(ctx, "alice", "")

	prices.err = fmt.Errorf("%w: coingecko 503", pricing.ErrUpstream)
	_, err := svc.AdvanceTurn(ctx, "alice", TurnRequest{GameID: g.ID, AsOfDate: date.MustParse("2024-01-02"), Orders: btc(0.6)})
	if !errors.Is(err, pricing.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	prices.err = nil
	_, err = svc.AdvanceTurn(ctx, "alice", TurnRequest{GameID: g.ID, AsOfDate: date.MustParse("2024-01-03"), Orders: btc(0.6)})
	if !errors.Is(err, pricing.ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}

	got, _ := st.GetGame(ctx, g.ID)
	turns, _ := st.ListTurns(ctx, g.ID)
	orders, _ := st.ListOrders(ctx, g.ID)
	if got.CurrentTurnIndex != 0 || len(turns) != 1 || len(orders) != 0 {
		t.Errorf("expected untouched game, got index %d, %d turns, %d orders", got.CurrentTurnIndex, len(turns), len(orders))
	}
}

func TestAdvanceTurn_AllCashSkipsPrices(t *testing.T) {
	svc, _, prices, _ := setup(t)
	ctx := context.Background()
	g, _ := svc.Start(ctx, "alice", "")

	res, err := svc.AdvanceTurn(ctx, "alice", TurnRequest{GameID: g.ID, AsOfDate: date.MustParse("2024-01-05"), Orders: btc(0)})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !res.Turn.NAV.Equal(d(10000)) || prices.calls != 0 {
		t.Errorf("expected unchanged nav without price calls, got %s after %d calls", res.Turn.NAV, prices.calls)
	}
}

func TestAdvanceTurn_TurnLimit(t *testing.T) {
	st := store.NewMemoryStore()
	_ = st.CreateSeason(context.Background(), fixedSeason("one", 1))
	prices := &fakePrices{}
	svc := NewService(st, prices, allocation.NewLimiter(asset.Default(), d(1)), DefaultConfig())
	ctx := context.Background()
	g, _ := svc.Start(ctx, "alice", "one")

	if _, err := svc.AdvanceTurn(ctx, "alice", TurnRequest{GameID: g.ID, AsOfDate: date.MustParse("2024-01-02"), Orders: btc(0)}); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	_, err := svc.AdvanceTurn(ctx, "alice", TurnRequest{GameID: g.ID, AsOfDate: date.MustParse("2024-01-02"), Orders: btc(0)})
	if !errors.Is(err, ErrTurnLimitReached) {
		t.Errorf("expected ErrTurnLimitReached, got %v", err)
	}
}

func TestAdvanceTurn_ConcurrentSubmissions(t *testing.T) {
	svc, st, _, _ := setup(t)
	ctx := context.Background()
	g, _ := svc.Start(ctx, "alice", "")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, conflicts int
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			expected := 1
			_, err := svc.AdvanceTurn(ctx, "alice", TurnRequest{
				GameID: g.ID, AsOfDate: date.MustParse("2024-01-02"), Orders: btc(0.6), ExpectedTurnIndex: &expected,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrTurnConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || conflicts != 7 {
		t.Errorf("expected 1 success and 7 conflicts, got %d and %d", ok, conflicts)
	}
	turns, _ := st.ListTurns(ctx, g.ID)
	for i, turn := range turns {
		if turn.TurnIndex != i {
			t.Errorf("turn %d has index %d", i, turn.TurnIndex)
		}
	}
	if len(turns) != 2 {
		t.Errorf("expected turns 0 and 1, got %d turns", len(turns))
	}
}

// racingStore lets another writer append turn 1 just before our append.
type racingStore struct {
	*store.MemoryStore
	once sync.Once
}

func (r *racingStore) AppendTurn(ctx context.Context, turn *model.Turn, order *model.OrderRecord) error {
	r.once.Do(func() {
		rival := *turn
		rival.ID = "rival"
		rivalOrder := *order
		rivalOrder.ID, rivalOrder.TurnID = "rival-order", "rival"
		_ = r.MemoryStore.AppendTurn(ctx, &rival, &rivalOrder)
	})
	return r.MemoryStore.AppendTurn(ctx, turn, order)
}

func TestAdvanceTurn_StoreConflictFromOtherInstance(t *testing.T) {
	st := &racingStore{MemoryStore: store.NewMemoryStore()}
	_ = st.CreateSeason(context.Background(), fixedSeason("s1", 10))
	prices := &fakePrices{}
	prices.set(asset.Crypto, "bitcoin", "2024-01-01", 100)
	prices.set(asset.Crypto, "bitcoin", "2024-01-02", 105)
	svc := NewService(st, prices, allocation.NewLimiter(asset.Default(), d(1)), DefaultConfig())
	ctx := context.Background()
	g, _ := svc.Start(ctx, "alice", "")

	_, err := svc.AdvanceTurn(ctx, "alice", TurnRequest{GameID: g.ID, AsOfDate: date.MustParse("2024-01-02"), Orders: btc(0.6)})
	if !errors.Is(err, ErrTurnConflict) {
		t.Fatalf("expected ErrTurnConflict, got %v", err)
	}
	turns, _ := st.ListTurns(ctx, g.ID)
	if len(turns) != 2 || turns[1].ID != "rival" {
		t.Errorf("expected only the rival turn 1, got %+v", turns)
	}
}

func TestFinalize(t *testing.T) {
	svc, st, _, rec := setup(t)
	ctx := context.Background()
	g, _ := svc.Start(ctx, "alice", "")
	if _, err := svc.AdvanceTurn(ctx, "alice", TurnRequest{GameID: g.ID, AsOfDate: date.MustParse("2024-01-02"), Orders: btc(0.6)}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Finalize(ctx, "mallory", g.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if board, _ := st.Leaderboard(ctx, "", 10); len(board) != 0 {
		t.Fatal("forbidden finalize must not write a leaderboard entry")
	}

	entry, err := svc.Finalize(ctx, "alice", g.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !entry.FinalNAV.Equal(d(10238.2)) || entry.TurnsPlayed != 1 || entry.SeasonID != "s1" {
		t.Errorf("unexpected entry %+v", entry)
	}

	again, err := svc.Finalize(ctx, "alice", g.ID)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if again.ID != entry.ID {
		t.Errorf("expected existing entry %s, got %s", entry.ID, again.ID)
	}
	board, _ := st.Leaderboard(ctx, "", 10)
	if len(board) != 1 {
		t.Errorf("expected 1 leaderboard row, got %d", len(board))
	}

	_, err = svc.AdvanceTurn(ctx, "alice", TurnRequest{GameID: g.ID, AsOfDate: date.MustParse("2024-01-03"), Orders: btc(0.6)})
	if !errors.Is(err, ErrGameNotActive) {
		t.Errorf("expected ErrGameNotActive, got %v", err)
	}

	finished := 0
	for _, e := range rec.events {
		if e.Type == EventGameFinished {
			finished++
		}
	}
	if finished != 1 {
		t.Errorf("expected one game_finished event, got %d", finished)
	}
}

func TestGet_OwnerOnly(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()
	g, _ := svc.Start(ctx, "alice", "")

	view, err := svc.Get(ctx, "alice", g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Game.ID != g.ID || len(view.Turns) != 1 || view.Orders == nil {
		t.Errorf("unexpected view %+v", view)
	}
	if _, err := svc.Get(ctx, "bob", g.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestGameLocks_ReleaseEntries(t *testing.T) {
	l := gameLocks{m: make(map[string]*gameLock)}
	unlock := l.lock("g1")
	done := make(chan struct{})
	go func() {
		release := l.lock("g1")
		release()
		close(done)
	}()
	unlock()
	<-done

	if len(l.m) != 0 {
		t.Errorf("expected lock table to be empty, got %d entries", len(l.m))
	}
}
