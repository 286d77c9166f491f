// Package pglock implements locking.Provider with PostgreSQL session-level
// advisory locks, so engines in different processes sharing one database
// serialize command steps per persistence id.
package pglock

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wilhg/persist/pkg/locking"
	"github.com/wilhg/persist/pkg/persistence"
)

var _ locking.Provider = (*Provider)(nil)

// Provider holds a pool; each lock pins one connection for its duration.
type Provider struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The caller keeps ownership of pool.
func New(pool *pgxpool.Pool) *Provider { return &Provider{pool: pool} }

// Connect opens a pool for dsn (postgres:// URL or keyword form).
func Connect(ctx context.Context, dsn string) (*Provider, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pglock: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pglock: ping: %w", err)
	}
	return &Provider{pool: pool}, nil
}

// Close closes the pool.
func (p *Provider) Close() { p.pool.Close() }

// Key maps id to the bigint advisory lock key.
func Key(id persistence.ID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id.String()))
	return int64(h.Sum64())
}

// WithLock blocks in pg_advisory_lock until the key is free. Cancelling ctx
// cancels the wait.
func (p *Provider) WithLock(ctx context.Context, id persistence.ID, body func(context.Context) error) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pglock: acquire conn: %w", err)
	}
	defer conn.Release()

	key := Key(id)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return fmt.Errorf("pglock: lock %s: %w", id, err)
	}
	defer func() {
		uctx := context.WithoutCancel(ctx)
		if _, err := conn.Exec(uctx, "SELECT pg_advisory_unlock($1)", key); err != nil {
			// Ending the session drops every advisory lock it holds.
			_ = conn.Conn().Close(uctx)
		}
	}()
	return body(ctx)
}
