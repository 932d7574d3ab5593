package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tickrun/turn-engine/internal/allocation"
	"github.com/tickrun/turn-engine/internal/api"
	"github.com/tickrun/turn-engine/internal/asset"
	"github.com/tickrun/turn-engine/internal/auth"
	"github.com/tickrun/turn-engine/internal/config"
	"github.com/tickrun/turn-engine/internal/game"
	"github.com/tickrun/turn-engine/internal/metrics"
	"github.com/tickrun/turn-engine/internal/pricing"
	"github.com/tickrun/turn-engine/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("ENGINE_CONFIG"), "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.Log.Level,
		AddSource: cfg.Log.AddSource,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	// --- Price oracle ---
	oracle := pricing.NewOracle(st, map[asset.Type]pricing.Provider{
		asset.Crypto: pricing.NewCoinGecko(cfg.CoinGecko()),
		asset.Equity: pricing.NewFMP(cfg.FMP()),
	}, cfg.Oracle(), logger)
	if cfg.Pricing.FMP.APIKey == "" {
		slog.Warn("FMP api key not set, equity prices will fail upstream")
	}

	// --- Realtime feed ---
	hub := api.NewHub()
	go hub.Run(ctx)

	// --- Game service ---
	limiter := allocation.NewLimiter(asset.Default(), cfg.Game.MaxWeightPerAsset)
	games := game.NewService(st, oracle, limiter, cfg.GameService(),
		game.WithPublisher(hub),
		game.WithLogger(logger),
	)

	var authn auth.Authenticator
	switch cfg.Auth.Mode {
	case config.AuthModeJWT:
		authn = auth.NewJWT(cfg.Auth.Secret)
	default:
		slog.Warn("header auth enabled, owner identity is trusted from the request", "header", cfg.Auth.Header)
		authn = auth.Header{Name: cfg.Auth.Header}
	}
	handler := api.NewHandler(games, authn, hub, logger)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout.Duration))
	r.Use(metrics.Middleware)

	// CORS middleware for the play and leaderboard pages.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+cfg.Auth.Header)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"turn-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api/v1", handler.Routes())

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	go func() {
		slog.Info("turn-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	slog.Info("shutting down turn-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("turn-engine stopped")
}

// openStore picks Postgres (optionally behind Redis) when db.url is set and
// the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.DB.URL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}

	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DB.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = cfg.DB.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if cfg.DB.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		slog.Info("schema migrated")
	}
	slog.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.TTL.Duration)
		slog.Info("Redis cache enabled")
	}
	return st, closeAll, nil
}
