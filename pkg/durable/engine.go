// Package durable runs durable-state entities: every persisted change
// replaces the single stored state of the entity and bumps its version.
package durable

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/persist/pkg/actor"
	"github.com/wilhg/persist/pkg/locking"
	"github.com/wilhg/persist/pkg/persistence"
	"github.com/wilhg/persist/pkg/store"
)

var (
	ErrStopped       = persistence.ErrStopped
	ErrInvalidEffect = persistence.ErrInvalidEffect
)

// RecoveryError wraps a failure to load the stored state.
type RecoveryError struct {
	PersistenceID persistence.ID
	Err           error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recover %s: %v", e.PersistenceID, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

type CommandHandler[S, C any] func(state S, actx actor.Context, cmd C) Effect[S]

type Config[S, C any] struct {
	PersistenceID  persistence.ID
	EmptyState     S
	CommandHandler CommandHandler[S, C]
	StateStore     store.DurableStateStore[S]
	Locking        locking.Strategy

	WriterID string
	Logger   *slog.Logger
	Clock    func() time.Time
}

type Instance[S any] struct {
	State   S
	Version int64
	Stopped bool
}

type Engine[S, C any] struct {
	cfg    Config[S, C]
	tracer trace.Tracer
}

func New[S, C any](cfg Config[S, C]) (*Engine[S, C], error) {
	if cfg.PersistenceID.IsZero() {
		return nil, persistence.InvalidConfig(cfg.PersistenceID, "persistence id is required")
	}
	if cfg.StateStore == nil {
		return nil, persistence.MissingStore(cfg.PersistenceID, "durable state store")
	}
	if cfg.CommandHandler == nil {
		return nil, persistence.InvalidConfig(cfg.PersistenceID, "command handler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With(slog.String("persistence_id", cfg.PersistenceID.String()))
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine[S, C]{cfg: cfg, tracer: otel.Tracer("persist/durable")}, nil
}

func (e *Engine[S, C]) PersistenceID() persistence.ID { return e.cfg.PersistenceID }
func (e *Engine[S, C]) WriterID() string              { return e.cfg.WriterID }

// Recover loads the stored state, or EmptyState at version 0.
func (e *Engine[S, C]) Recover(ctx context.Context) (Instance[S], error) {
	id := e.cfg.PersistenceID
	ctx, span := e.tracer.Start(ctx, "Durable.Recover", trace.WithAttributes(
		attribute.String("persistence.id", id.String()),
	))
	defer span.End()

	env, ok, err := e.cfg.StateStore.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recovery failed")
		return Instance[S]{State: e.cfg.EmptyState}, &RecoveryError{PersistenceID: id, Err: err}
	}
	if !ok {
		return Instance[S]{State: e.cfg.EmptyState}, nil
	}
	span.SetAttributes(attribute.Int64("version", env.Version))
	return Instance[S]{State: env.State, Version: env.Version}, nil
}

// Handle runs one command step. The returned Instance is always the one to
// continue with.
func (e *Engine[S, C]) Handle(ctx context.Context, inst Instance[S], actx actor.Context, cmd C) (Instance[S], error) {
	id := e.cfg.PersistenceID
	ctx, span := e.tracer.Start(ctx, "Durable.Handle", trace.WithAttributes(
		attribute.String("persistence.id", id.String()),
		attribute.Int64("version", inst.Version),
	))
	defer span.End()

	if inst.Stopped {
		return inst, persistence.Stopped(id)
	}

	next := inst
	err := e.cfg.Locking.Run(ctx, id, func(ctx context.Context) error {
		effect := e.cfg.CommandHandler(inst.State, actx, cmd)
		span.SetAttributes(attribute.String("effect.kind", effect.Kind().String()))
		if msg := effect.validate(actx); msg != "" {
			return persistence.InvalidEffect(id, msg)
		}
		switch effect.kind {
		case KindPersist:
			version := inst.Version + 1
			err := e.cfg.StateStore.Upsert(ctx, id, store.DurableStateEnvelope[S]{
				PersistenceID: id,
				Version:       version,
				State:         effect.newState,
				StateType:     store.TypeTag(effect.newState),
				Timestamp:     e.cfg.Clock(),
				WriterID:      e.cfg.WriterID,
			})
			if err != nil {
				return err
			}
			next.State, next.Version = effect.newState, version
		case KindUnhandled:
			e.cfg.Logger.DebugContext(ctx, "command unhandled", slog.Int64("version", inst.Version))
		case KindStash:
			actx.Stash()
		case KindStop:
			next.Stopped = true
		case KindReply:
			effect.target.Tell(effect.message)
		}
		effect.after.Run(next.State)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handle failed")
		return next, err
	}
	return next, nil
}

// Run recovers the entity and feeds commands from inbox through Handle.
func (e *Engine[S, C]) Run(ctx context.Context, inbox <-chan C) (Instance[S], error) {
	inst, err := e.Recover(ctx)
	if err != nil {
		return inst, err
	}
	err = actor.Loop(ctx, e.cfg.PersistenceID.String(), inbox, func(ctx context.Context, actx actor.Context, cmd C) (bool, error) {
		next, err := e.Handle(ctx, inst, actx, cmd)
		inst = next
		return inst.Stopped, err
	})
	return inst, err
}
