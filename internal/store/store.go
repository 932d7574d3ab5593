// Package store defines the persistence interface for the turn engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/date"
	"github.com/tickrun/turn-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a conditional write loses against a
	// concurrent writer (stale turn index, game already finished, duplicate key).
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Seasons (operator managed, read-only to gameplay) ---

	// CreateSeason persists a new season.
	CreateSeason(ctx context.Context, s *model.Season) error

	// GetSeason retrieves a season by its ID.
	GetSeason(ctx context.Context, id string) (*model.Season, error)

	// DefaultSeason returns the season flagged default, else the newest one.
	DefaultSeason(ctx context.Context) (*model.Season, error)

	// ListSeasons returns all seasons, newest first.
	ListSeasons(ctx context.Context) ([]model.Season, error)

	// --- Games and the turn ledger ---

	// CreateGame atomically persists a game and its Turn 0.
	CreateGame(ctx context.Context, g *model.Game, turn0 *model.Turn) error

	// GetGame retrieves a game by its ID.
	GetGame(ctx context.Context, id string) (*model.Game, error)

	// LatestTurn returns the turn with the highest index for a game.
	LatestTurn(ctx context.Context, gameID string) (*model.Turn, error)

	// ListTurns returns a game's turns ordered by index.
	ListTurns(ctx context.Context, gameID string) ([]model.Turn, error)

	// AppendTurn atomically inserts turn and its order record and advances
	// the game's current turn index to turn.TurnIndex. It succeeds only if
	// the game is active and its current index is turn.TurnIndex-1;
	// otherwise it returns ErrConflict and writes nothing.
	AppendTurn(ctx context.Context, turn *model.Turn, order *model.OrderRecord) error

	// ListOrders returns a game's order records ordered by turn index.
	ListOrders(ctx context.Context, gameID string) ([]model.OrderRecord, error)

	// --- Leaderboard ---

	// FinishGame transitions the game active → finished and writes entry in
	// one step, provided the game's current turn index still equals
	// entry.TurnsPlayed. If the game is already finished it writes nothing
	// and returns the existing entry. A moved turn index yields ErrConflict.
	FinishGame(ctx context.Context, entry *model.LeaderboardEntry) (*model.LeaderboardEntry, error)

	// Leaderboard returns entries ordered by final NAV descending. An empty
	// seasonID means all seasons. A limit <= 0 means no limit.
	Leaderboard(ctx context.Context, seasonID string, limit int) ([]model.LeaderboardEntry, error)

	// --- Price cache ---

	// LatestPrice returns the newest cached entry with PriceDate <= onOrBefore.
	LatestPrice(ctx context.Context, t asset.Type, assetID string, onOrBefore date.Date) (*model.PriceCacheEntry, error)

	// InsertPrice stores an entry; an existing entry for the same
	// (type, id, date) is kept and the call succeeds.
	InsertPrice(ctx context.Context, e *model.PriceCacheEntry) error

	// ResolvedPrice returns the entry known to be the last close on or
	// before target: one dated target itself, or the one recorded for
	// target by InsertResolvedPrice. Anything else is ErrNotFound, even if
	// an older entry exists, since a later close may not be cached yet.
	ResolvedPrice(ctx context.Context, t asset.Type, assetID string, target date.Date) (*model.PriceCacheEntry, error)

	// InsertResolvedPrice stores e like InsertPrice and, in the same write,
	// records it as the resolution of target. Existing rows are kept.
	InsertResolvedPrice(ctx context.Context, target date.Date, e *model.PriceCacheEntry) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)
