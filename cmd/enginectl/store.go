package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tickrun/turn-engine/internal/config"
	"github.com/tickrun/turn-engine/internal/store"
)

// conn is an open database, optionally behind the Redis cache so that
// writes invalidate what the server has cached.
type conn struct {
	pg     *store.PostgresStore
	store  store.Store
	closer []func()
}

func (c *conn) Close() {
	for i := len(c.closer) - 1; i >= 0; i-- {
		c.closer[i]()
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(*configPath)
}

func connect(ctx context.Context, cfg *config.Config) (*conn, error) {
	if cfg.DB.URL == "" {
		return nil, errors.New("db.url (or DATABASE_URL) is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DB.URL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	c := &conn{closer: []func(){pool.Close}}
	c.pg = store.NewPostgresStore(pool)
	c.store = c.pg

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		c.closer = append(c.closer, func() { rdb.Close() })
		c.store = store.NewCachedStore(c.pg, rdb, cfg.Redis.TTL.Duration)
	}
	return c, nil
}
