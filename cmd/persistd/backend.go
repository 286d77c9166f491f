package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/wilhg/persist/examples/account"
	"github.com/wilhg/persist/pkg/config"
	"github.com/wilhg/persist/pkg/durable"
	"github.com/wilhg/persist/pkg/errmodel"
	"github.com/wilhg/persist/pkg/eventsourced"
	"github.com/wilhg/persist/pkg/locking"
	"github.com/wilhg/persist/pkg/locking/pglock"
	"github.com/wilhg/persist/pkg/locking/redislock"
	"github.com/wilhg/persist/pkg/persistence"
	"github.com/wilhg/persist/pkg/replay"
	"github.com/wilhg/persist/pkg/store"
	"github.com/wilhg/persist/pkg/store/entstore"
)

// openStore opens and migrates the configured database.
func openStore(ctx context.Context, cfg config.Config) (*entstore.Store, error) {
	st, err := entstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errmodel.Storage(errmodel.CodeUnavailable, "open store", nil, err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, errmodel.Storage(errmodel.CodeUnavailable, "migrate store", nil, err)
	}
	return st, nil
}

// backend is everything an entity engine needs from the process.
type backend struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *entstore.Store
	locking locking.Strategy
	closers []func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b := &backend{cfg: cfg, logger: logger, store: st}
	b.closers = append(b.closers, func() { _ = st.Close() })

	switch cfg.LockBackend {
	case config.LockLocal:
		b.locking = locking.Pessimistic(locking.NewLocalProvider())
	case config.LockPostgres:
		p, err := pglock.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect advisory locks: %w", err)
		}
		b.closers = append(b.closers, p.Close)
		b.locking = locking.Pessimistic(p)
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.locking = locking.Pessimistic(redislock.New(client, redislock.Options{TTL: cfg.RedisLockTTL}))
	default:
		b.locking = locking.Optimistic()
	}
	return b, nil
}

// Close releases resources in reverse order of acquisition.
func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func (b *backend) accountEngine(id persistence.ID) (*eventsourced.Engine[account.Account, account.Command, account.Event], error) {
	mode, err := b.cfg.ReplayMode()
	if err != nil {
		return nil, err
	}
	cfg := account.Config(id)
	cfg.EventStore = entstore.Events[account.Event](b.store, account.EventCodec())
	cfg.SnapshotStore = entstore.Snapshots[account.Account](b.store, store.JSONCodec[account.Account]{})
	cfg.SnapshotStrategy = eventsourced.EveryN[account.Account, account.Event](b.cfg.SnapshotEvery)
	cfg.Retention = eventsourced.SnapshotAndEvents(b.cfg.KeepSnapshots, b.cfg.DeleteEventsToSnapshot)
	cfg.ReplayFilter = replay.New(mode).WithLogger(b.logger)
	cfg.Locking = b.locking
	cfg.WriterID = b.cfg.WriterID
	cfg.Logger = b.logger
	return eventsourced.New(cfg)
}

func (b *backend) profileEngine(id persistence.ID) (*durable.Engine[account.Profile, account.ProfileCommand], error) {
	cfg := account.ProfileConfig(id)
	cfg.StateStore = entstore.States[account.Profile](b.store, store.JSONCodec[account.Profile]{})
	cfg.Locking = b.locking
	cfg.WriterID = b.cfg.WriterID
	cfg.Logger = b.logger
	return durable.New(cfg)
}
