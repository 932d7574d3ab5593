// Package game is the game lifecycle state machine: season selection, start
// date sampling, turn settlement orchestration and finalization into a
// leaderboard entry.
//
// A game is active until finalized; finished is terminal. Every operation on
// an existing game checks the caller owns it.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/allocation"
	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/date"
	"github.com/tickrun/turn-engine/internal/metrics"
	"github.com/tickrun/turn-engine/internal/model"
	"github.com/tickrun/turn-engine/internal/store"
)

var (
	ErrForbidden         = errors.New("game: caller does not own this game")
	ErrGameNotFound      = errors.New("game: not found")
	ErrGameNotActive     = errors.New("game: not active")
	ErrNoSeasonAvailable = errors.New("game: no season available")
	ErrInvalidSeason     = errors.New("game: season window shorter than its turn budget")
	ErrInvalidTurnDate   = errors.New("game: invalid turn date")
	ErrTurnLimitReached  = errors.New("game: turn limit reached")

	// ErrTurnConflict is returned when another submission or finalize for the
	// same game won the race for the next turn index.
	ErrTurnConflict = errors.New("game: concurrent update, reload and retry")
)

// PriceResolver returns the last close of an asset on or before a date.
// pricing.Oracle implements it.
type PriceResolver interface {
	ResolveClose(ctx context.Context, t asset.Type, assetID string, onOrBefore date.Date) (decimal.Decimal, error)
}

// Config holds the per-game economics applied at start.
type Config struct {
	StartCash   decimal.Decimal
	FeeBps      decimal.Decimal
	SlippageBps decimal.Decimal
}

// DefaultConfig: 10,000 start cash, 30 bps fee, 20 bps slippage.
func DefaultConfig() Config {
	return Config{
		StartCash:   decimal.NewFromInt(10000),
		FeeBps:      decimal.NewFromInt(30),
		SlippageBps: decimal.NewFromInt(20),
	}
}

// Service runs the lifecycle against a Store.
type Service struct {
	store   store.Store
	prices  PriceResolver
	limiter *allocation.Limiter
	cfg     Config
	pub     Publisher
	logger  *slog.Logger
	locks   gameLocks

	now   func() time.Time
	randN func(n int) int
	newID func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher sets the sink for lifecycle events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRand makes start date sampling reproducible.
func WithRand(r *rand.Rand) Option {
	var mu sync.Mutex
	return func(s *Service) {
		s.randN = func(n int) int {
			mu.Lock()
			defer mu.Unlock()
			return r.IntN(n)
		}
	}
}

// NewService creates a lifecycle service.
func NewService(st store.Store, prices PriceResolver, limiter *allocation.Limiter, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:   st,
		prices:  prices,
		limiter: limiter,
		cfg:     cfg,
		pub:     nopPublisher{},
		logger:  slog.Default(),
		locks:   gameLocks{m: make(map[string]*gameLock)},
		now:     time.Now,
		randN:   rand.IntN,
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates an active game in the given season, or the default season
// when seasonID is empty, and writes its Turn 0.
func (s *Service) Start(ctx context.Context, ownerID, seasonID string) (*model.Game, error) {
	season, err := s.resolveSeason(ctx, seasonID)
	if err != nil {
		return nil, err
	}

	start, end, err := s.sampleWindow(season)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	g := &model.Game{
		ID:               s.newID(),
		OwnerID:          ownerID,
		SeasonID:         season.ID,
		StartCash:        s.cfg.StartCash,
		StartDate:        start,
		EndDate:          end,
		CurrentTurnIndex: 0,
		Status:           model.GameActive,
		FeeBps:           s.cfg.FeeBps,
		SlippageBps:      s.cfg.SlippageBps,
		CreatedAt:        now,
	}
	turn0 := &model.Turn{
		ID:        s.newID(),
		GameID:    g.ID,
		TurnIndex: 0,
		AsOfDate:  start,
		NAV:       g.StartCash,
		Cash:      g.StartCash,
		Weights:   model.Weights{},
		CreatedAt: now,
	}
	if err := s.store.CreateGame(ctx, g, turn0); err != nil {
		s.logger.Error("create game failed", "owner_id", ownerID, "season_id", season.ID, "err", err)
		return nil, err
	}

	metrics.GamesStarted.Inc()
	s.logger.Info("game started",
		"game_id", g.ID, "owner_id", ownerID, "season_id", season.ID,
		"start_date", start, "end_date", end)
	s.pub.Publish(Event{
		Type:      EventGameStarted,
		GameID:    g.ID,
		OwnerID:   ownerID,
		SeasonID:  season.ID,
		AsOfDate:  start,
		NAV:       g.StartCash,
		Timestamp: now,
	})
	return g, nil
}

func (s *Service) resolveSeason(ctx context.Context, seasonID string) (*model.Season, error) {
	var season *model.Season
	var err error
	if seasonID != "" {
		season, err = s.store.GetSeason(ctx, seasonID)
	} else {
		season, err = s.store.DefaultSeason(ctx)
	}
	if errors.Is(err, store.ErrNotFound) {
		if seasonID != "" {
			return nil, fmt.Errorf("%w: season %s does not exist", ErrNoSeasonAvailable, seasonID)
		}
		return nil, ErrNoSeasonAvailable
	}
	return season, err
}

// sampleWindow picks a uniform start in [minDate, maxDate − span] and returns
// it with endDate = start + span.
func (s *Service) sampleWindow(season *model.Season) (date.Date, date.Date, error) {
	if season.MaxTurns <= 0 || season.TurnLengthDays <= 0 {
		return date.Date{}, date.Date{}, fmt.Errorf("%w: season %s has maxTurns=%d turnLengthDays=%d",
			ErrInvalidSeason, season.ID, season.MaxTurns, season.TurnLengthDays)
	}
	span := season.SpanDays()
	slack := season.MinDate.DaysUntil(season.MaxDate) - span
	if slack < 0 {
		return date.Date{}, date.Date{}, fmt.Errorf("%w: season %s spans %d days, needs %d",
			ErrInvalidSeason, season.ID, season.MinDate.DaysUntil(season.MaxDate), span)
	}
	start := season.MinDate.AddDays(s.randN(slack + 1))
	return start, start.AddDays(span), nil
}

// Finalize finishes the game at its latest turn and records the leaderboard
// entry. Calling it on a finished game returns the existing entry.
func (s *Service) Finalize(ctx context.Context, ownerID, gameID string) (*model.LeaderboardEntry, error) {
	unlock := s.locks.lock(gameID)
	defer unlock()

	g, err := s.loadOwned(ctx, ownerID, gameID)
	if err != nil {
		return nil, err
	}
	last, err := s.store.LatestTurn(ctx, g.ID)
	if err != nil {
		return nil, err
	}

	entry := &model.LeaderboardEntry{
		ID:          s.newID(),
		GameID:      g.ID,
		OwnerID:     g.OwnerID,
		SeasonID:    g.SeasonID,
		FinalNAV:    last.NAV,
		TurnsPlayed: last.TurnIndex,
		CreatedAt:   s.now().UTC(),
	}
	got, err := s.store.FinishGame(ctx, entry)
	if errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("%w: %v", ErrTurnConflict, err)
	}
	if err != nil {
		s.logger.Error("finish game failed", "game_id", g.ID, "err", err)
		return nil, err
	}

	if got.ID != entry.ID {
		s.logger.Info("game already finished", "game_id", g.ID, "final_nav", got.FinalNAV)
		return got, nil
	}

	metrics.GamesFinished.Inc()
	s.logger.Info("game finished",
		"game_id", g.ID, "owner_id", g.OwnerID, "final_nav", got.FinalNAV, "turns_played", got.TurnsPlayed)
	s.pub.Publish(Event{
		Type:      EventGameFinished,
		GameID:    g.ID,
		OwnerID:   g.OwnerID,
		SeasonID:  g.SeasonID,
		TurnIndex: got.TurnsPlayed,
		AsOfDate:  last.AsOfDate,
		NAV:       got.FinalNAV,
		Timestamp: got.CreatedAt,
	})
	return got, nil
}

// View is a game with its ledger.
type View struct {
	Game   model.Game          `json:"game"`
	Turns  []model.Turn        `json:"turns"`
	Orders []model.OrderRecord `json:"orders"`
}

// Get returns the owner's view of a game.
func (s *Service) Get(ctx context.Context, ownerID, gameID string) (*View, error) {
	g, err := s.loadOwned(ctx, ownerID, gameID)
	if err != nil {
		return nil, err
	}
	turns, err := s.store.ListTurns(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	orders, err := s.store.ListOrders(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []model.OrderRecord{}
	}
	return &View{Game: *g, Turns: turns, Orders: orders}, nil
}

// Authorize reports whether ownerID may follow gameID.
func (s *Service) Authorize(ctx context.Context, ownerID, gameID string) error {
	_, err := s.loadOwned(ctx, ownerID, gameID)
	return err
}

// Leaderboard returns the top entries, optionally for one season.
func (s *Service) Leaderboard(ctx context.Context, seasonID string, limit int) ([]model.LeaderboardEntry, error) {
	return s.store.Leaderboard(ctx, seasonID, limit)
}

// Seasons lists the configured seasons, newest first.
func (s *Service) Seasons(ctx context.Context) ([]model.Season, error) {
	return s.store.ListSeasons(ctx)
}

// Assets lists the tradable universe.
func (s *Service) Assets() []asset.Asset {
	return s.limiter.Registry.All()
}

func (s *Service) loadOwned(ctx context.Context, ownerID, gameID string) (*model.Game, error) {
	g, err := s.store.GetGame(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	if err != nil {
		return nil, err
	}
	if g.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return g, nil
}
