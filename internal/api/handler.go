// Package api provides the HTTP surface of the turn engine: start a game,
// submit a turn, finalize into the leaderboard, and the read-only views the
// play and leaderboard pages consume.
//
// All monetary values use shopspring/decimal and serialize as JSON strings.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/auth"
	"github.com/tickrun/turn-engine/internal/date"
	"github.com/tickrun/turn-engine/internal/game"
	"github.com/tickrun/turn-engine/internal/model"
)

const (
	defaultLeaderboardLimit = 20
	maxLeaderboardLimit     = 100
)

// Handler serves the /api/v1 routes.
type Handler struct {
	games  *game.Service
	authn  auth.Authenticator
	hub    *Hub
	logger *slog.Logger
}

// NewHandler creates the API handler. Pass nil for hub if the realtime feed
// is not needed.
func NewHandler(games *game.Service, authn auth.Authenticator, hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{games: games, authn: authn, hub: hub, logger: logger}
}

// Routes returns the router to mount at /api/v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// Public, read-only.
	r.Get("/leaderboard", h.Leaderboard)
	r.Get("/seasons", h.ListSeasons)
	r.Get("/assets", h.ListAssets)
	if h.hub != nil {
		r.Get("/ws", h.ServeWS)
	}

	// Owner operations.
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/start-game", h.StartGame)
		r.Post("/submit-turn", h.SubmitTurn)
		r.Post("/finalize-game", h.FinalizeGame)
		r.Get("/games/{gameId}", h.GetGame)
	})
	return r
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := h.authn.Authenticate(r)
		if err != nil {
			h.fail(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithOwner(r.Context(), ownerID)))
	})
}

// --- Request/Response types ---

// StartGameRequest is the JSON body for POST /start-game.
type StartGameRequest struct {
	SeasonID string `json:"seasonId,omitempty"` // empty → default season
}

// StartGameResponse is returned from POST /start-game.
type StartGameResponse struct {
	GameID    string          `json:"gameId"`
	SeasonID  string          `json:"seasonId"`
	StartDate date.Date       `json:"startDate"`
	EndDate   date.Date       `json:"endDate"`
	StartCash decimal.Decimal `json:"startCash"`
}

// SubmitTurnRequest is the JSON body for POST /submit-turn.
type SubmitTurnRequest struct {
	GameID            string        `json:"gameId"`
	AsOfDate          date.Date     `json:"asOfDate"`
	Orders            []model.Order `json:"orders"`
	ExpectedTurnIndex *int          `json:"expectedTurnIndex,omitempty"`
}

// SubmitTurnResponse is returned from POST /submit-turn.
type SubmitTurnResponse struct {
	NAV       decimal.Decimal `json:"nav"`
	TurnIndex int             `json:"turnIndex"`
	AsOfDate  date.Date       `json:"asOfDate"`
	Cash      decimal.Decimal `json:"cash"`
	Turnover  decimal.Decimal `json:"turnover"`
	Costs     decimal.Decimal `json:"costs"`
}

// FinalizeGameRequest is the JSON body for POST /finalize-game.
type FinalizeGameRequest struct {
	GameID string `json:"gameId"`
}

// FinalizeGameResponse is returned from POST /finalize-game.
type FinalizeGameResponse struct {
	FinalNAV        decimal.Decimal `json:"finalNav"`
	FinalNAVDisplay string          `json:"finalNavDisplay"`
	TurnsPlayed     int             `json:"turnsPlayed"`
}

// LeaderboardRow is one ranked entry of GET /leaderboard.
type LeaderboardRow struct {
	Rank            int             `json:"rank"`
	GameID          string          `json:"gameId"`
	SeasonID        string          `json:"seasonId"`
	FinalNAV        decimal.Decimal `json:"finalNav"`
	FinalNAVDisplay string          `json:"finalNavDisplay"`
	TurnsPlayed     int             `json:"turnsPlayed"`
}

// --- HTTP Handlers ---

// StartGame handles POST /api/v1/start-game
func (h *Handler) StartGame(w http.ResponseWriter, r *http.Request) {
	var req StartGameRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", "invalid_request", http.StatusBadRequest)
			return
		}
	}

	ownerID, _ := auth.OwnerFrom(r.Context())
	g, err := h.games.Start(r.Context(), ownerID, req.SeasonID)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, StartGameResponse{
		GameID:    g.ID,
		SeasonID:  g.SeasonID,
		StartDate: g.StartDate,
		EndDate:   g.EndDate,
		StartCash: g.StartCash,
	})
}

// SubmitTurn handles POST /api/v1/submit-turn
func (h *Handler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	var req SubmitTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), "invalid_request", http.StatusBadRequest)
		return
	}
	if !validGameID(req.GameID) {
		writeError(w, "gameId must be a UUID", "invalid_request", http.StatusBadRequest)
		return
	}
	if req.AsOfDate.IsZero() {
		writeError(w, "asOfDate is required (YYYY-MM-DD)", "invalid_request", http.StatusBadRequest)
		return
	}

	ownerID, _ := auth.OwnerFrom(r.Context())
	res, err := h.games.AdvanceTurn(r.Context(), ownerID, game.TurnRequest{
		GameID:            req.GameID,
		AsOfDate:          req.AsOfDate,
		Orders:            req.Orders,
		ExpectedTurnIndex: req.ExpectedTurnIndex,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SubmitTurnResponse{
		NAV:       res.Turn.NAV,
		TurnIndex: res.Turn.TurnIndex,
		AsOfDate:  res.Turn.AsOfDate,
		Cash:      res.Turn.Cash,
		Turnover:  res.Order.Turnover,
		Costs:     res.Order.Costs,
	})
}

// FinalizeGame handles POST /api/v1/finalize-game
func (h *Handler) FinalizeGame(w http.ResponseWriter, r *http.Request) {
	var req FinalizeGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "invalid_request", http.StatusBadRequest)
		return
	}
	if !validGameID(req.GameID) {
		writeError(w, "gameId must be a UUID", "invalid_request", http.StatusBadRequest)
		return
	}

	ownerID, _ := auth.OwnerFrom(r.Context())
	entry, err := h.games.Finalize(r.Context(), ownerID, req.GameID)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FinalizeGameResponse{
		FinalNAV:        entry.FinalNAV,
		FinalNAVDisplay: model.FormatMoney(entry.FinalNAV, model.SettlementCurrency),
		TurnsPlayed:     entry.TurnsPlayed,
	})
}

// GetGame handles GET /api/v1/games/{gameId}
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameId")
	if !validGameID(gameID) {
		writeError(w, "gameId must be a UUID", "invalid_request", http.StatusBadRequest)
		return
	}

	ownerID, _ := auth.OwnerFrom(r.Context())
	view, err := h.games.Get(r.Context(), ownerID, gameID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Leaderboard handles GET /api/v1/leaderboard?limit=N&seasonId=S
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", "invalid_request", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}

	entries, err := h.games.Leaderboard(r.Context(), r.URL.Query().Get("seasonId"), limit)
	if err != nil {
		h.fail(w, err)
		return
	}

	rows := make([]LeaderboardRow, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, LeaderboardRow{
			Rank:            i + 1,
			GameID:          e.GameID,
			SeasonID:        e.SeasonID,
			FinalNAV:        e.FinalNAV,
			FinalNAVDisplay: model.FormatMoney(e.FinalNAV, model.SettlementCurrency),
			TurnsPlayed:     e.TurnsPlayed,
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

// ServeWS handles GET /api/v1/ws[?gameId=G]. Without gameId the feed is
// public; with it the caller must authenticate and own the game.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("gameId")
	if gameID == "" {
		h.hub.HandleWS(w, r)
		return
	}
	if !validGameID(gameID) {
		writeError(w, "gameId must be a UUID", "invalid_request", http.StatusBadRequest)
		return
	}
	ownerID, err := h.authn.Authenticate(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.games.Authorize(r.Context(), ownerID, gameID); err != nil {
		h.fail(w, err)
		return
	}
	h.hub.Subscribe(w, r, gameID)
}

// ListSeasons handles GET /api/v1/seasons
func (h *Handler) ListSeasons(w http.ResponseWriter, r *http.Request) {
	seasons, err := h.games.Seasons(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if seasons == nil {
		seasons = []model.Season{}
	}
	writeJSON(w, http.StatusOK, seasons)
}

// ListAssets handles GET /api/v1/assets
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	type assetView struct {
		asset.Asset
		Key asset.Key `json:"key"`
	}
	all := h.games.Assets()
	out := make([]assetView, 0, len(all))
	for _, a := range all {
		out = append(out, assetView{Asset: a, Key: a.Key()})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Helpers ---

func validGameID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

// fail maps a domain error onto its HTTP status. Unclassified errors
// are logged and reported without detail.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if code == "internal" {
		h.logger.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeError(w, msg, code, status)
}

func classify(err error) (int, string) {
	for _, c := range errorClasses {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.status, c.code
			}
		}
	}
	return http.StatusInternalServerError, "internal"
}
