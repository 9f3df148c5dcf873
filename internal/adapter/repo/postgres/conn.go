// Package postgres provides PostgreSQL database adapters.
//
// It implements the listing, application, and usage repositories over a
// shared pgx pool with OpenTelemetry query tracing. The Gateway wrapper adds
// a single reconnect retry for connection-class failures so a bounced
// database does not fail the first request after recovery.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates a pgx connection pool from the DSN. Every session gets a
// server-side statement timeout so a runaway query cannot hold a worker.
func NewPool(ctx context.Context, dsn string, maxConns int, statementTimeout time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("op=postgres.NewPool: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 100
	}
	if statementTimeout <= 0 {
		statementTimeout = 5 * time.Second
	}
	cfg.MaxConns = int32(maxConns)
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(statementTimeout.Milliseconds(), 10)
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("op=postgres.NewPool: %w", err)
	}
	return pool, nil
}

// PoolStatus is a point-in-time snapshot of pool pressure. Waiting counts
// acquires that found the pool empty since start.
type PoolStatus struct {
	Max      int32 `json:"max"`
	Acquired int32 `json:"acquired"`
	Idle     int32 `json:"idle"`
	Waiting  int64 `json:"waiting"`
}

// Gateway fronts the pool for the repositories. It satisfies PgxPool, so
// repos constructed with it transparently pick up the retry behavior.
type Gateway struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewGateway(pool *pgxpool.Pool, log *slog.Logger) *Gateway {
	return &Gateway{pool: pool, log: log.With(slog.String("component", "db"))}
}

// Exec runs a statement, retrying once after a ping when the connection was
// the problem rather than the statement.
func (g *Gateway) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := g.pool.Exec(ctx, sql, args...)
	if err != nil && g.reconnect(ctx, err) {
		return g.pool.Exec(ctx, sql, args...)
	}
	return tag, err
}

// Query runs a query with the same single-retry contract as Exec.
func (g *Gateway) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := g.pool.Query(ctx, sql, args...)
	if err != nil && g.reconnect(ctx, err) {
		return g.pool.Query(ctx, sql, args...)
	}
	return rows, err
}

// QueryRow defers errors to Scan, so the retry wraps the row: a
// connection-class Scan failure re-runs the query once.
func (g *Gateway) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &retryRow{g: g, ctx: ctx, sql: sql, args: args}
}

type retryRow struct {
	g    *Gateway
	ctx  context.Context
	sql  string
	args []any
}

func (r *retryRow) Scan(dest ...any) error {
	err := r.g.pool.QueryRow(r.ctx, r.sql, r.args...).Scan(dest...)
	if err != nil && r.g.reconnect(r.ctx, err) {
		return r.g.pool.QueryRow(r.ctx, r.sql, r.args...).Scan(dest...)
	}
	return err
}

// HealthCheck verifies the database answers a trivial query.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	var one int
	if err := g.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("op=postgres.HealthCheck: %w", err)
	}
	return nil
}

// PoolStatus reports current pool utilization for /api/health.
func (g *Gateway) PoolStatus() PoolStatus {
	s := g.pool.Stat()
	return PoolStatus{
		Max:      s.MaxConns(),
		Acquired: s.AcquiredConns(),
		Idle:     s.IdleConns(),
		Waiting:  s.EmptyAcquireCount(),
	}
}

// Pool exposes the underlying pgx pool for components that need it directly,
// such as migrations at boot.
func (g *Gateway) Pool() *pgxpool.Pool { return g.pool }

func (g *Gateway) Close() { g.pool.Close() }

// reconnect reports whether the error looks like a dead connection and a
// follow-up ping succeeded. At most one retry per call site.
func (g *Gateway) reconnect(ctx context.Context, err error) bool {
	if !isConnError(err) {
		return false
	}
	g.log.Warn("db connection error, retrying once", slog.Any("error", err))
	if pingErr := g.pool.Ping(ctx); pingErr != nil {
		g.log.Error("db reconnect ping failed", slog.Any("error", pingErr))
		return false
	}
	return true
}

// isConnError classifies transport-level failures as distinct from SQL
// errors, which must never be retried blindly.
func isConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08xxx is the connection-exception class
		return strings.HasPrefix(pgErr.Code, "08")
	}
	msg := err.Error()
	for _, probe := range []string{
		"closed pool",
		"conn closed",
		"broken pipe",
		"connection reset",
		"connection refused",
		"unexpected EOF",
	} {
		if strings.Contains(msg, probe) {
			return true
		}
	}
	return false
}
