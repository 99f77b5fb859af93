// Package pgledger provides a PostgreSQL implementation of dedup.Ledger.
package pgledger

import (
	"context"
	_ "embed"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"
)

var tracer = otel.Tracer("github.com/linnemanlabs/capetl/internal/ledger/pgledger")

//go:embed schema.sql
var schema string

// Ledger records alert identifiers in PostgreSQL.
type Ledger struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Ledger. The caller
// owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Ledger, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Ledger{pool: pool}, nil
}

// Exists reports whether id has been recorded.
func (l *Ledger) Exists(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "pgledger.Exists", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM alert_ledger WHERE identifier = $1)`, id,
	).Scan(&exists)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("query ledger: %w", err)
	}
	return exists, nil
}

// Put records id. Concurrent puts of the same id are absorbed by the
// primary key.
func (l *Ledger) Put(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "pgledger.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := l.pool.Exec(ctx,
		`INSERT INTO alert_ledger (identifier) VALUES ($1) ON CONFLICT (identifier) DO NOTHING`, id,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert ledger: %w", err)
	}
	return nil
}
