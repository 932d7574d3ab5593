// Package model defines the persisted records of the turn engine.
// All monetary values and weights use shopspring/decimal; never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/date"
)

// GameStatus is the lifecycle state of a Game.
type GameStatus string

const (
	GameActive   GameStatus = "active"
	GameFinished GameStatus = "finished" // terminal
)

// Season is an operator-managed window from which game start dates are sampled.
// Read-only to the engine.
type Season struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	MinDate        date.Date `json:"minDate" db:"min_date"`
	MaxDate        date.Date `json:"maxDate" db:"max_date"` // inclusive
	MaxTurns       int       `json:"maxTurns" db:"max_turns"`
	TurnLengthDays int       `json:"turnLengthDays" db:"turn_length_days"`
	IsDefault      bool      `json:"isDefault" db:"is_default"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// SpanDays is the number of simulated days a full game covers.
func (s Season) SpanDays() int {
	return s.MaxTurns * s.TurnLengthDays
}

// Game is one simulation instance. CurrentTurnIndex and Status are the only
// mutable fields.
type Game struct {
	ID               string          `json:"id" db:"id"`
	OwnerID          string          `json:"ownerId" db:"owner_id"`
	SeasonID         string          `json:"seasonId" db:"season_id"`
	StartCash        decimal.Decimal `json:"startCash" db:"start_cash"`
	StartDate        date.Date       `json:"startDate" db:"start_date"`
	EndDate          date.Date       `json:"endDate" db:"end_date"`
	CurrentTurnIndex int             `json:"currentTurnIndex" db:"current_turn_index"`
	Status           GameStatus      `json:"status" db:"status"`
	FeeBps           decimal.Decimal `json:"feeBps" db:"fee_bps"`
	SlippageBps      decimal.Decimal `json:"slippageBps" db:"slippage_bps"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
}

// Weights maps asset keys to the fraction of NAV held. Only nonzero positions
// are present; cash is the implicit residual.
type Weights map[asset.Key]decimal.Decimal

// Sum returns Σ weights, excluding the implicit cash leg.
func (w Weights) Sum() decimal.Decimal {
	sum := decimal.Zero
	for k, v := range w {
		if k == asset.Cash {
			continue
		}
		sum = sum.Add(v)
	}
	return sum
}

// Turn is an immutable snapshot of a game after a settlement step.
type Turn struct {
	ID        string          `json:"id" db:"id"`
	GameID    string          `json:"gameId" db:"game_id"`
	TurnIndex int             `json:"turnIndex" db:"turn_index"`
	AsOfDate  date.Date       `json:"asOfDate" db:"as_of_date"`
	NAV       decimal.Decimal `json:"nav" db:"nav"`
	Cash      decimal.Decimal `json:"cash" db:"cash"`
	Weights   Weights         `json:"weights" db:"weights"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// Order is one line of a submitted allocation.
type Order struct {
	AssetType asset.Type      `json:"assetType"`
	AssetID   string          `json:"assetId"`
	Weight    decimal.Decimal `json:"weight"`
}

// OrderRecord is the write-once audit row attached to the Turn it produced.
type OrderRecord struct {
	ID        string          `json:"id" db:"id"`
	GameID    string          `json:"gameId" db:"game_id"`
	TurnID    string          `json:"turnId" db:"turn_id"`
	TurnIndex int             `json:"turnIndex" db:"turn_index"`
	Orders    []Order         `json:"orders" db:"payload"`
	Turnover  decimal.Decimal `json:"turnover" db:"turnover"`
	Costs     decimal.Decimal `json:"costs" db:"costs"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// PriceCacheEntry memoizes a resolved close. Never overwritten once written.
type PriceCacheEntry struct {
	AssetType asset.Type      `json:"assetType" db:"asset_type"`
	AssetID   string          `json:"assetId" db:"asset_id"`
	PriceDate date.Date       `json:"priceDate" db:"price_date"`
	Close     decimal.Decimal `json:"close" db:"close"`
	Source    string          `json:"source" db:"source"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// LeaderboardEntry is written exactly once, when a game finishes.
type LeaderboardEntry struct {
	ID          string          `json:"id" db:"id"`
	GameID      string          `json:"gameId" db:"game_id"`
	OwnerID     string          `json:"ownerId" db:"owner_id"`
	SeasonID    string          `json:"seasonId" db:"season_id"`
	FinalNAV    decimal.Decimal `json:"finalNav" db:"final_nav"`
	TurnsPlayed int             `json:"turnsPlayed" db:"turns_played"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}
