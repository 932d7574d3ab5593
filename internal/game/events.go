package game

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/date"
)

// EventType names a lifecycle transition.
type EventType string

const (
	EventGameStarted  EventType = "game_started"
	EventTurnSettled  EventType = "turn_settled"
	EventGameFinished EventType = "game_finished"
)

// Event is published after a transition is persisted. OwnerID is kept for
// in-process subscribers and never serialized.
type Event struct {
	Type      EventType       `json:"type"`
	GameID    string          `json:"gameId"`
	OwnerID   string          `json:"-"`
	SeasonID  string          `json:"seasonId"`
	TurnIndex int             `json:"turnIndex"`
	AsOfDate  date.Date       `json:"asOfDate"`
	NAV       decimal.Decimal `json:"nav"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher receives lifecycle events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
