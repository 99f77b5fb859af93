// Package postgres builds the pgx pool used by the Postgres ledger, with
// otel tracing, query logging and a query duration observer.
package postgres

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config for the connection pool.
type Config struct {
	DatabaseURL    string
	MaxConns       int
	SlowQuery      time.Duration
	ConnectTimeout time.Duration
}

func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the postgres ledger")
	fs.IntVar(&c.MaxConns, "database-max-conns", 8, "maximum pooled connections")
	fs.DurationVar(&c.SlowQuery, "database-slow-query", 0, "only log queries slower than this (0 logs every query)")
	fs.DurationVar(&c.ConnectTimeout, "database-connect-timeout", 10*time.Second, "timeout for the initial connect and ping")
}

func (c *Config) Validate() error {
	var errs []error
	if c.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("database-max-conns must be >= 1"))
	}
	if c.SlowQuery < 0 {
		errs = append(errs, fmt.Errorf("database-slow-query must be >= 0"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("database-connect-timeout must be > 0"))
	}
	return errors.Join(errs...)
}

// NewPool connects to cfg.DatabaseURL and pings it. Every query is traced by
// otelpgx and passed through the logging tracer.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns) //nolint:gosec // bounded by flag validation
	}
	pcfg.ConnConfig.Tracer = wrapQueryTracer(otelpgx.NewTracer(), cfg.SlowQuery)

	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(cctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
