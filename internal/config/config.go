// Package config loads the engine configuration from a TOML file and
// applies environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"

	"github.com/tickrun/turn-engine/internal/game"
	"github.com/tickrun/turn-engine/internal/pricing"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

const (
	AuthModeJWT    = "jwt"
	AuthModeHeader = "header"
)

type Config struct {
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	DB      DBConfig      `toml:"db"`
	Redis   RedisConfig   `toml:"redis"`
	Auth    AuthConfig    `toml:"auth"`
	Game    GameConfig    `toml:"game"`
	Pricing PricingConfig `toml:"pricing"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	AddSource bool       `toml:"add_source"`
}

type ServerConfig struct {
	Port            string   `toml:"port"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	IdleTimeout     Duration `toml:"idle_timeout"`
	RequestTimeout  Duration `toml:"request_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// DBConfig selects Postgres. An empty URL runs on the in-memory store.
type DBConfig struct {
	URL      string `toml:"url"`
	Migrate  bool   `toml:"migrate"`
	MaxConns int32  `toml:"max_conns"`
}

// RedisConfig enables the read-through cache in front of Postgres. TTL 0
// keeps entries until invalidated.
type RedisConfig struct {
	URL string   `toml:"url"`
	TTL Duration `toml:"ttl"`
}

type AuthConfig struct {
	Mode   string `toml:"mode"` // jwt | header
	Secret string `toml:"secret"`
	Header string `toml:"header"`
}

// GameConfig holds the per-game parameters stamped on new games. Decimal
// values are written as TOML strings, e.g. start_cash = "10000".
type GameConfig struct {
	StartCash         decimal.Decimal `toml:"start_cash"`
	FeeBps            decimal.Decimal `toml:"fee_bps"`
	SlippageBps       decimal.Decimal `toml:"slippage_bps"`
	MaxWeightPerAsset decimal.Decimal `toml:"max_weight_per_asset"`
}

type PricingConfig struct {
	LookbackDays        int            `toml:"lookback_days"`
	WidenedLookbackDays int            `toml:"widened_lookback_days"`
	MemoSize            int            `toml:"memo_size"`
	Timeout             Duration       `toml:"timeout"`
	CoinGecko           ProviderConfig `toml:"coingecko"`
	FMP                 ProviderConfig `toml:"fmp"`
}

type ProviderConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

// Default returns a configuration that runs in memory with header auth.
func Default() Config {
	g := game.DefaultConfig()
	return Config{
		Log: LogConfig{Level: slog.LevelInfo},
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     Duration{10 * time.Second},
			WriteTimeout:    Duration{30 * time.Second},
			IdleTimeout:     Duration{60 * time.Second},
			RequestTimeout:  Duration{30 * time.Second},
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Auth: AuthConfig{Mode: AuthModeHeader, Header: "X-Owner-ID"},
		Game: GameConfig{
			StartCash:         g.StartCash,
			FeeBps:            g.FeeBps,
			SlippageBps:       g.SlippageBps,
			MaxWeightPerAsset: decimal.NewFromInt(1),
		},
		Pricing: PricingConfig{
			LookbackDays:        pricing.DefaultLookbackDays,
			WidenedLookbackDays: pricing.DefaultWidenedLookbackDays,
			MemoSize:            pricing.DefaultMemoSize,
			Timeout:             Duration{pricing.DefaultHTTPTimeout},
			CoinGecko:           ProviderConfig{BaseURL: pricing.DefaultCoinGeckoURL},
			FMP:                 ProviderConfig{BaseURL: pricing.DefaultFMPURL},
		},
	}
}

// Load reads path over the defaults, applies the environment and validates
// the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer file.Close()

		dec := toml.NewDecoder(file)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values with the deployment environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"PORT":              &c.Server.Port,
		"DATABASE_URL":      &c.DB.URL,
		"REDIS_URL":         &c.Redis.URL,
		"AUTH_SECRET":       &c.Auth.Secret,
		"AUTH_MODE":         &c.Auth.Mode,
		"FMP_API_KEY":       &c.Pricing.FMP.APIKey,
		"COINGECKO_API_KEY": &c.Pricing.CoinGecko.APIKey,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		if err := c.Log.Level.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%w: LOG_LEVEL: %v", ErrInvalid, err)
		}
	}
	return nil
}

// Validate checks the values the engine cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch c.Auth.Mode {
	case AuthModeJWT:
		if c.Auth.Secret == "" {
			errs = append(errs, errors.New("auth.secret is required in jwt mode"))
		}
	case AuthModeHeader:
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q must be jwt or header", c.Auth.Mode))
	}
	if !c.Game.StartCash.IsPositive() {
		errs = append(errs, errors.New("game.start_cash must be positive"))
	}
	if c.Game.FeeBps.IsNegative() || c.Game.SlippageBps.IsNegative() {
		errs = append(errs, errors.New("game.fee_bps and game.slippage_bps must be non-negative"))
	}
	if c.Pricing.LookbackDays <= 0 || c.Pricing.WidenedLookbackDays < c.Pricing.LookbackDays {
		errs = append(errs, fmt.Errorf("pricing lookbacks %d/%d must satisfy 0 < lookback <= widened",
			c.Pricing.LookbackDays, c.Pricing.WidenedLookbackDays))
	}
	if c.Redis.URL != "" && c.DB.URL == "" {
		errs = append(errs, errors.New("redis.url requires db.url"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// GameService returns the parameters for game.NewService.
func (c *Config) GameService() game.Config {
	return game.Config{
		StartCash:   c.Game.StartCash,
		FeeBps:      c.Game.FeeBps,
		SlippageBps: c.Game.SlippageBps,
	}
}

// Oracle returns the parameters for pricing.NewOracle.
func (c *Config) Oracle() pricing.OracleConfig {
	return pricing.OracleConfig{
		LookbackDays:        c.Pricing.LookbackDays,
		WidenedLookbackDays: c.Pricing.WidenedLookbackDays,
		MemoSize:            c.Pricing.MemoSize,
	}
}

func (c *Config) CoinGecko() pricing.CoinGeckoConfig {
	return pricing.CoinGeckoConfig{
		BaseURL: c.Pricing.CoinGecko.BaseURL,
		APIKey:  c.Pricing.CoinGecko.APIKey,
		Timeout: c.Pricing.Timeout.Duration,
	}
}

func (c *Config) FMP() pricing.FMPConfig {
	return pricing.FMPConfig{
		BaseURL:             c.Pricing.FMP.BaseURL,
		APIKey:              c.Pricing.FMP.APIKey,
		Timeout:             c.Pricing.Timeout.Duration,
		WidenedLookbackDays: c.Pricing.WidenedLookbackDays,
	}
}
