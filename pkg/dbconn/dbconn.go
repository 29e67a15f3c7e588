// Package dbconn opens the Postgres pool used by the tenancy tools and
// exposes it as a database/sql handle.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

const DefaultConnectTimeout = 10 * time.Second

type Conn struct {
	Pool *pgxpool.Pool
	DB   *sql.DB
}

// Close releases the sql handle before the pool it wraps.
func (c *Conn) Close() {
	if c.DB != nil {
		_ = c.DB.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// Connect parses dsn, opens a small pool and pings it within timeout.
func Connect(ctx context.Context, dsn string, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = time.Minute * 5
	config.MaxConnIdleTime = time.Second * 30

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &Conn{Pool: pool, DB: stdlib.OpenDBFromPool(pool)}, nil
}
