package store

// schemaSQL is idempotent; Migrate may run on every start.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS seasons (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    min_date         DATE NOT NULL,
    max_date         DATE NOT NULL,
    max_turns        INTEGER NOT NULL CHECK (max_turns > 0),
    turn_length_days INTEGER NOT NULL CHECK (turn_length_days > 0),
    is_default       BOOLEAN NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS games (
    id                 TEXT PRIMARY KEY,
    owner_id           TEXT NOT NULL,
    season_id          TEXT NOT NULL REFERENCES seasons(id),
    start_cash         NUMERIC NOT NULL,
    start_date         DATE NOT NULL,
    end_date           DATE NOT NULL,
    current_turn_index INTEGER NOT NULL DEFAULT 0,
    status             TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'finished')),
    fee_bps            NUMERIC NOT NULL DEFAULT 30,
    slippage_bps       NUMERIC NOT NULL DEFAULT 20,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_games_owner ON games(owner_id);

CREATE TABLE IF NOT EXISTS turns (
    id         TEXT PRIMARY KEY,
    game_id    TEXT NOT NULL REFERENCES games(id),
    turn_index INTEGER NOT NULL CHECK (turn_index >= 0),
    as_of_date DATE NOT NULL,
    nav        NUMERIC NOT NULL,
    cash       NUMERIC NOT NULL,
    weights    JSONB NOT NULL DEFAULT '{}'::JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (game_id, turn_index)
);

CREATE TABLE IF NOT EXISTS orders (
    id         TEXT PRIMARY KEY,
    game_id    TEXT NOT NULL REFERENCES games(id),
    turn_id    TEXT NOT NULL UNIQUE REFERENCES turns(id),
    turn_index INTEGER NOT NULL,
    payload    JSONB NOT NULL,
    turnover   NUMERIC NOT NULL,
    costs      NUMERIC NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leaderboard_entries (
    id           TEXT PRIMARY KEY,
    game_id      TEXT NOT NULL UNIQUE REFERENCES games(id),
    owner_id     TEXT NOT NULL,
    season_id    TEXT NOT NULL REFERENCES seasons(id),
    final_nav    NUMERIC NOT NULL,
    turns_played INTEGER NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_leaderboard_season_nav ON leaderboard_entries(season_id, final_nav DESC);

CREATE TABLE IF NOT EXISTS price_cache (
    asset_type TEXT NOT NULL,
    asset_id   TEXT NOT NULL,
    price_date DATE NOT NULL,
    close      NUMERIC NOT NULL,
    source     TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (asset_type, asset_id, price_date)
);

-- Which cached close answered "last close on or before target_date".
CREATE TABLE IF NOT EXISTS price_resolutions (
    asset_type  TEXT NOT NULL,
    asset_id    TEXT NOT NULL,
    target_date DATE NOT NULL,
    price_date  DATE NOT NULL,
    PRIMARY KEY (asset_type, asset_id, target_date),
    FOREIGN KEY (asset_type, asset_id, price_date) REFERENCES price_cache(asset_type, asset_id, price_date)
);
`
