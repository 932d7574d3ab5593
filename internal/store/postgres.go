package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/date"
	"github.com/tickrun/turn-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// --- Seasons ---

const seasonColumns = `id, name, min_date, max_date, max_turns, turn_length_days, is_default, created_at`

func (s *PostgresStore) CreateSeason(ctx context.Context, season *model.Season) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO seasons (`+seasonColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		season.ID, season.Name, season.MinDate.Time(), season.MaxDate.Time(),
		season.MaxTurns, season.TurnLengthDays, season.IsDefault, season.CreatedAt,
	)
	return mapErr(err, "create season "+season.ID)
}

func (s *PostgresStore) GetSeason(ctx context.Context, id string) (*model.Season, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+seasonColumns+` FROM seasons WHERE id = $1`, id)
	season, err := scanSeason(row)
	if err != nil {
		return nil, mapErr(err, "get season "+id)
	}
	return season, nil
}

func (s *PostgresStore) DefaultSeason(ctx context.Context) (*model.Season, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+seasonColumns+` FROM seasons
		 ORDER BY is_default DESC, created_at DESC, id DESC
		 LIMIT 1`)
	season, err := scanSeason(row)
	if err != nil {
		return nil, mapErr(err, "default season")
	}
	return season, nil
}

func (s *PostgresStore) ListSeasons(ctx context.Context) ([]model.Season, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+seasonColumns+` FROM seasons ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seasons []model.Season
	for rows.Next() {
		season, err := scanSeason(rows)
		if err != nil {
			return nil, err
		}
		seasons = append(seasons, *season)
	}
	return seasons, rows.Err()
}

// --- Games and turns ---

const gameColumns = `id, owner_id, season_id, start_cash::TEXT, start_date, end_date,
	current_turn_index, status, fee_bps::TEXT, slippage_bps::TEXT, created_at`

const turnColumns = `id, game_id, turn_index, as_of_date, nav::TEXT, cash::TEXT, weights, created_at`

func (s *PostgresStore) CreateGame(ctx context.Context, g *model.Game, turn0 *model.Turn) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO games (id, owner_id, season_id, start_cash, start_date, end_date,
		                    current_turn_index, status, fee_bps, slippage_bps, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11)`,
		g.ID, g.OwnerID, g.SeasonID, g.StartCash.String(), g.StartDate.Time(), g.EndDate.Time(),
		g.CurrentTurnIndex, string(g.Status), g.FeeBps.String(), g.SlippageBps.String(), g.CreatedAt,
	)
	if err != nil {
		return mapErr(err, "create game "+g.ID)
	}
	if err := insertTurn(ctx, tx, turn0); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	g, err := scanGame(row)
	if err != nil {
		return nil, mapErr(err, "get game "+id)
	}
	return g, nil
}

func (s *PostgresStore) LatestTurn(ctx context.Context, gameID string) (*model.Turn, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE game_id = $1
		 ORDER BY turn_index DESC LIMIT 1`, gameID)
	t, err := scanTurn(row)
	if err != nil {
		return nil, mapErr(err, "latest turn of game "+gameID)
	}
	return t, nil
}

func (s *PostgresStore) ListTurns(ctx context.Context, gameID string) ([]model.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE game_id = $1 ORDER BY turn_index`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, *t)
	}
	return turns, rows.Err()
}

// AppendTurn advances the game pointer with a conditional UPDATE and inserts
// the turn and order record in the same transaction.
func (s *PostgresStore) AppendTurn(ctx context.Context, turn *model.Turn, order *model.OrderRecord) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE games SET current_turn_index = $2
		 WHERE id = $1 AND status = 'active' AND current_turn_index = $3`,
		turn.GameID, turn.TurnIndex, turn.TurnIndex-1,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("append turn %d to game %s: %w", turn.TurnIndex, turn.GameID, ErrConflict)
	}

	if err := insertTurn(ctx, tx, turn); err != nil {
		return err
	}

	payload, err := json.Marshal(order.Orders)
	if err != nil {
		return fmt.Errorf("encode orders: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, game_id, turn_id, turn_index, payload, turnover, costs, created_at)
		 VALUES ($1, $2, $3, $4, $5::JSONB, $6::NUMERIC, $7::NUMERIC, $8)`,
		order.ID, order.GameID, order.TurnID, order.TurnIndex, string(payload),
		order.Turnover.String(), order.Costs.String(), order.CreatedAt,
	)
	if err != nil {
		return mapErr(err, "insert order record")
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListOrders(ctx context.Context, gameID string) ([]model.OrderRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, game_id, turn_id, turn_index, payload, turnover::TEXT, costs::TEXT, created_at
		 FROM orders WHERE game_id = $1 ORDER BY turn_index`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.OrderRecord
	for rows.Next() {
		var r model.OrderRecord
		var payload []byte
		var turnoverS, costsS string
		if err := rows.Scan(&r.ID, &r.GameID, &r.TurnID, &r.TurnIndex, &payload,
			&turnoverS, &costsS, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &r.Orders); err != nil {
			return nil, fmt.Errorf("decode orders of %s: %w", r.ID, err)
		}
		r.Turnover, _ = decimal.NewFromString(turnoverS)
		r.Costs, _ = decimal.NewFromString(costsS)
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Leaderboard ---

const leaderboardColumns = `id, game_id, owner_id, season_id, final_nav::TEXT, turns_played, created_at`

func (s *PostgresStore) FinishGame(ctx context.Context, e *model.LeaderboardEntry) (*model.LeaderboardEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE games SET status = 'finished'
		 WHERE id = $1 AND status = 'active' AND current_turn_index = $2`,
		e.GameID, e.TurnsPlayed,
	)
	if err != nil {
		return nil, err
	}

	if tag.RowsAffected() == 0 {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM games WHERE id = $1`, e.GameID).Scan(&status)
		if err != nil {
			return nil, mapErr(err, "finish game "+e.GameID)
		}
		if model.GameStatus(status) != model.GameFinished {
			return nil, fmt.Errorf("finish game %s at turn %d: %w", e.GameID, e.TurnsPlayed, ErrConflict)
		}
		row := tx.QueryRow(ctx, `SELECT `+leaderboardColumns+` FROM leaderboard_entries WHERE game_id = $1`, e.GameID)
		existing, err := scanLeaderboardEntry(row)
		if err != nil {
			return nil, mapErr(err, "leaderboard entry of "+e.GameID)
		}
		return existing, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO leaderboard_entries (id, game_id, owner_id, season_id, final_nav, turns_played, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		e.ID, e.GameID, e.OwnerID, e.SeasonID, e.FinalNAV.String(), e.TurnsPlayed, e.CreatedAt,
	)
	if err != nil {
		return nil, mapErr(err, "insert leaderboard entry")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	cp := *e
	return &cp, nil
}

func (s *PostgresStore) Leaderboard(ctx context.Context, seasonID string, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+leaderboardColumns+` FROM leaderboard_entries
		 WHERE ($1 = '' OR season_id = $1)
		 ORDER BY leaderboard_entries.final_nav DESC, leaderboard_entries.created_at
		 LIMIT NULLIF($2::INTEGER, 0)`, seasonID, max(limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		e, err := scanLeaderboardEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// --- Price cache ---

const priceColumns = `price_cache.asset_type, price_cache.asset_id, price_cache.price_date,
	price_cache.close::TEXT, price_cache.source, price_cache.created_at`

func (s *PostgresStore) LatestPrice(ctx context.Context, t asset.Type, assetID string, onOrBefore date.Date) (*model.PriceCacheEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+priceColumns+` FROM price_cache
		 WHERE asset_type = $1 AND asset_id = $2 AND price_date <= $3
		 ORDER BY price_date DESC LIMIT 1`,
		string(t), assetID, onOrBefore.Time())
	e, err := scanPrice(row)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("price %s:%s on or before %s", t, assetID, onOrBefore))
	}
	return e, nil
}

func (s *PostgresStore) ResolvedPrice(ctx context.Context, t asset.Type, assetID string, target date.Date) (*model.PriceCacheEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+priceColumns+` FROM price_cache
		 LEFT JOIN price_resolutions r
		   ON r.asset_type = price_cache.asset_type AND r.asset_id = price_cache.asset_id AND r.target_date = $3
		 WHERE price_cache.asset_type = $1 AND price_cache.asset_id = $2
		   AND (price_cache.price_date = $3 OR price_cache.price_date = r.price_date)
		 ORDER BY price_cache.price_date DESC LIMIT 1`,
		string(t), assetID, target.Time())
	e, err := scanPrice(row)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("price %s:%s resolved for %s", t, assetID, target))
	}
	return e, nil
}

func (s *PostgresStore) InsertPrice(ctx context.Context, e *model.PriceCacheEntry) error {
	return insertPrice(ctx, s.pool, e)
}

func (s *PostgresStore) InsertResolvedPrice(ctx context.Context, target date.Date, e *model.PriceCacheEntry) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertPrice(ctx, tx, e); err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO price_resolutions (asset_type, asset_id, target_date, price_date)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (asset_type, asset_id, target_date) DO NOTHING`,
		string(e.AssetType), e.AssetID, target.Time(), e.PriceDate.Time(),
	)
	if err != nil {
		return fmt.Errorf("record resolution %s:%s@%s: %w", e.AssetType, e.AssetID, target, err)
	}
	return tx.Commit(ctx)
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertPrice(ctx context.Context, db execer, e *model.PriceCacheEntry) error {
	_, err := db.Exec(ctx,
		`INSERT INTO price_cache (asset_type, asset_id, price_date, close, source, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)
		 ON CONFLICT (asset_type, asset_id, price_date) DO NOTHING`,
		string(e.AssetType), e.AssetID, e.PriceDate.Time(), e.Close.String(), e.Source, e.CreatedAt,
	)
	return err
}

// --- Scan helpers ---

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanSeason(row pgxRow) (*model.Season, error) {
	var season model.Season
	var minDate, maxDate time.Time
	if err := row.Scan(&season.ID, &season.Name, &minDate, &maxDate,
		&season.MaxTurns, &season.TurnLengthDays, &season.IsDefault, &season.CreatedAt); err != nil {
		return nil, err
	}
	season.MinDate = date.FromTime(minDate)
	season.MaxDate = date.FromTime(maxDate)
	return &season, nil
}

func scanGame(row pgxRow) (*model.Game, error) {
	var g model.Game
	var startCash, feeBps, slippageBps, status string
	var startDate, endDate time.Time
	if err := row.Scan(&g.ID, &g.OwnerID, &g.SeasonID, &startCash, &startDate, &endDate,
		&g.CurrentTurnIndex, &status, &feeBps, &slippageBps, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.Status = model.GameStatus(status)
	g.StartDate = date.FromTime(startDate)
	g.EndDate = date.FromTime(endDate)
	g.StartCash, _ = decimal.NewFromString(startCash)
	g.FeeBps, _ = decimal.NewFromString(feeBps)
	g.SlippageBps, _ = decimal.NewFromString(slippageBps)
	return &g, nil
}

func scanTurn(row pgxRow) (*model.Turn, error) {
	var t model.Turn
	var asOf time.Time
	var navS, cashS string
	var weights []byte
	if err := row.Scan(&t.ID, &t.GameID, &t.TurnIndex, &asOf, &navS, &cashS, &weights, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.AsOfDate = date.FromTime(asOf)
	t.NAV, _ = decimal.NewFromString(navS)
	t.Cash, _ = decimal.NewFromString(cashS)
	t.Weights = model.Weights{}
	if len(weights) > 0 {
		if err := json.Unmarshal(weights, &t.Weights); err != nil {
			return nil, fmt.Errorf("decode weights of turn %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func scanPrice(row pgxRow) (*model.PriceCacheEntry, error) {
	var e model.PriceCacheEntry
	var typ, closeS string
	var priceDate time.Time
	if err := row.Scan(&typ, &e.AssetID, &priceDate, &closeS, &e.Source, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.AssetType = asset.Type(typ)
	e.PriceDate = date.FromTime(priceDate)
	var err error
	if e.Close, err = decimal.NewFromString(closeS); err != nil {
		return nil, fmt.Errorf("decode close %q: %w", closeS, err)
	}
	return &e, nil
}

func scanLeaderboardEntry(row pgxRow) (*model.LeaderboardEntry, error) {
	var e model.LeaderboardEntry
	var navS string
	if err := row.Scan(&e.ID, &e.GameID, &e.OwnerID, &e.SeasonID, &navS, &e.TurnsPlayed, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.FinalNAV, _ = decimal.NewFromString(navS)
	return &e, nil
}

func insertTurn(ctx context.Context, tx pgx.Tx, t *model.Turn) error {
	weights := t.Weights
	if weights == nil {
		weights = model.Weights{}
	}
	payload, err := json.Marshal(weights)
	if err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO turns (id, game_id, turn_index, as_of_date, nav, cash, weights, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::JSONB, $8)`,
		t.ID, t.GameID, t.TurnIndex, t.AsOfDate.Time(), t.NAV.String(), t.Cash.String(),
		string(payload), t.CreatedAt,
	)
	return mapErr(err, fmt.Sprintf("insert turn %d of game %s", t.TurnIndex, t.GameID))
}

// mapErr translates driver errors into the store's sentinel errors.
func mapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
