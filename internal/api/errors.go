package api

import (
	"net/http"

	"github.com/tickrun/turn-engine/internal/allocation"
	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/auth"
	"github.com/tickrun/turn-engine/internal/game"
	"github.com/tickrun/turn-engine/internal/pricing"
	"github.com/tickrun/turn-engine/internal/settlement"
)

// errorClasses maps error taxonomy to status and code, first match wins.
var errorClasses = []struct {
	status int
	code   string
	errs   []error
}{
	{http.StatusUnauthorized, "unauthenticated", []error{auth.ErrUnauthenticated}},
	{http.StatusForbidden, "forbidden", []error{game.ErrForbidden}},
	{http.StatusNotFound, "game_not_found", []error{game.ErrGameNotFound}},
	{http.StatusBadRequest, "game_not_active", []error{game.ErrGameNotActive}},
	{http.StatusBadRequest, "unknown_asset", []error{asset.ErrUnknownAsset, asset.ErrInvalidType, asset.ErrInvalidKey}},
	{http.StatusBadRequest, "invalid_allocation", []error{
		settlement.ErrInvalidAllocation,
		allocation.ErrNoOrders,
		allocation.ErrDuplicateAsset,
	}},
	{http.StatusBadRequest, "no_season_available", []error{game.ErrNoSeasonAvailable}},
	{http.StatusBadRequest, "invalid_season", []error{game.ErrInvalidSeason}},
	{http.StatusBadRequest, "invalid_turn_date", []error{game.ErrInvalidTurnDate}},
	{http.StatusBadRequest, "turn_limit_reached", []error{game.ErrTurnLimitReached}},
	{http.StatusConflict, "turn_conflict", []error{game.ErrTurnConflict}},
	{http.StatusInternalServerError, "price_unavailable", []error{pricing.ErrPriceUnavailable}},
	{http.StatusInternalServerError, "upstream_error", []error{pricing.ErrUpstream, pricing.ErrUnsupportedAsset}},
}
