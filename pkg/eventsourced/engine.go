// Package eventsourced runs event-sourced entities: commands decide effects,
// effects persist events, and state is rebuilt from a snapshot plus the
// journal on recovery.
package eventsourced

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/persist/pkg/actor"
	"github.com/wilhg/persist/pkg/locking"
	"github.com/wilhg/persist/pkg/persistence"
	"github.com/wilhg/persist/pkg/replay"
	"github.com/wilhg/persist/pkg/store"
)

// CommandHandler decides the effect of cmd in state. It must not block on
// I/O; side effects belong in ThenRun callbacks.
type CommandHandler[S, C, E any] func(state S, actx actor.Context, cmd C) Effect[S, E]

// EventHandler applies one event. It must be pure and deterministic.
type EventHandler[S, E any] func(state S, event E) S

// Config describes one entity. Only PersistenceID, the handlers and
// EventStore are required.
type Config[S, C, E any] struct {
	PersistenceID  persistence.ID
	EmptyState     S
	CommandHandler CommandHandler[S, C, E]
	EventHandler   EventHandler[S, E]

	EventStore       store.EventStore[E]
	SnapshotStore    store.SnapshotStore[S]
	SnapshotStrategy SnapshotStrategy[S, E]
	Retention        RetentionPolicy
	ReplayFilter     replay.Filter
	Locking          locking.Strategy

	// WriterID stamps every envelope written. It must stay the same across
	// restarts of one writer; the replay filter treats a change as a second
	// writer. Empty is a valid, stable id.
	WriterID string
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Instance is the engine-owned state of one running entity. Handle takes an
// Instance and returns the one to continue with.
type Instance[S any] struct {
	State      S
	SequenceNr int64
	Stopped    bool
}

// Engine interprets effects for one persistence id. It holds no
// per-instance mutable state and is safe for concurrent use.
type Engine[S, C, E any] struct {
	cfg    Config[S, C, E]
	tracer trace.Tracer
}

// New validates cfg and fills defaults.
func New[S, C, E any](cfg Config[S, C, E]) (*Engine[S, C, E], error) {
	if cfg.PersistenceID.IsZero() {
		return nil, persistence.InvalidConfig(cfg.PersistenceID, "persistence id is required")
	}
	if cfg.EventStore == nil {
		return nil, persistence.MissingStore(cfg.PersistenceID, "event store")
	}
	if cfg.CommandHandler == nil || cfg.EventHandler == nil {
		return nil, persistence.InvalidConfig(cfg.PersistenceID, "command and event handlers are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With(slog.String("persistence_id", cfg.PersistenceID.String()))
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine[S, C, E]{cfg: cfg, tracer: otel.Tracer("persist/eventsourced")}, nil
}

func (e *Engine[S, C, E]) PersistenceID() persistence.ID { return e.cfg.PersistenceID }
func (e *Engine[S, C, E]) WriterID() string              { return e.cfg.WriterID }

// Recover rebuilds the instance from the latest snapshot and the events
// after it. Failures are returned as *RecoveryError.
func (e *Engine[S, C, E]) Recover(ctx context.Context) (Instance[S], error) {
	id := e.cfg.PersistenceID
	ctx, span := e.tracer.Start(ctx, "EventSourced.Recover", trace.WithAttributes(
		attribute.String("persistence.id", id.String()),
		attribute.String("replay.filter", e.cfg.ReplayFilter.Mode().String()),
	))
	defer span.End()

	inst, replayed, err := e.recover(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recovery failed")
		return Instance[S]{State: e.cfg.EmptyState}, &RecoveryError{PersistenceID: id, Err: err}
	}
	span.SetAttributes(
		attribute.Int64("sequence_nr", inst.SequenceNr),
		attribute.Int("events.replayed", replayed),
	)
	e.cfg.Logger.DebugContext(ctx, "recovered",
		slog.Int64("sequence_nr", inst.SequenceNr),
		slog.Int("events_replayed", replayed),
	)
	return inst, nil
}

func (e *Engine[S, C, E]) recover(ctx context.Context) (Instance[S], int, error) {
	id := e.cfg.PersistenceID
	inst := Instance[S]{State: e.cfg.EmptyState}

	if e.cfg.SnapshotStore != nil {
		snap, ok, err := e.cfg.SnapshotStore.Load(ctx, id)
		if err != nil {
			return inst, 0, err
		}
		if ok {
			inst.State = snap.State
			inst.SequenceNr = snap.SequenceNr
		}
	}

	events, err := e.cfg.EventStore.Load(ctx, id, inst.SequenceNr+1, store.MaxSequenceNr)
	if err != nil {
		return inst, 0, err
	}
	events, err = replay.Apply(ctx, e.cfg.ReplayFilter, id, events)
	if err != nil {
		return inst, 0, err
	}
	for _, env := range events {
		inst.State = e.cfg.EventHandler(inst.State, env.Event)
		inst.SequenceNr = env.SequenceNr
	}
	return inst, len(events), nil
}

// Handle runs one command step: decide, persist, apply, then side effects.
// The returned Instance is always the one to continue with, also on error.
func (e *Engine[S, C, E]) Handle(ctx context.Context, inst Instance[S], actx actor.Context, cmd C) (Instance[S], error) {
	id := e.cfg.PersistenceID
	ctx, span := e.tracer.Start(ctx, "EventSourced.Handle", trace.WithAttributes(
		attribute.String("persistence.id", id.String()),
		attribute.Int64("sequence_nr", inst.SequenceNr),
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
		var err error
		next, err = e.interpret(ctx, inst, actx, effect)
		if err != nil {
			return err
		}
		effect.after.Run(next.State)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handle failed")
		return next, err
	}
	span.SetAttributes(attribute.Int64("sequence_nr.after", next.SequenceNr))
	return next, nil
}

func (e *Engine[S, C, E]) interpret(ctx context.Context, inst Instance[S], actx actor.Context, effect Effect[S, E]) (Instance[S], error) {
	switch effect.kind {
	case KindPersist:
		return e.persist(ctx, inst, effect.events)
	case KindUnhandled:
		e.cfg.Logger.DebugContext(ctx, "command unhandled", slog.Int64("sequence_nr", inst.SequenceNr))
	case KindStash:
		actx.Stash()
	case KindStop:
		inst.Stopped = true
	case KindReply:
		effect.target.Tell(effect.message)
	}
	return inst, nil
}

func (e *Engine[S, C, E]) persist(ctx context.Context, inst Instance[S], events []E) (Instance[S], error) {
	id := e.cfg.PersistenceID
	now := e.cfg.Clock()
	envs := make([]store.EventEnvelope[E], len(events))
	for i, ev := range events {
		envs[i] = store.EventEnvelope[E]{
			PersistenceID: id,
			SequenceNr:    inst.SequenceNr + int64(i+1),
			Event:         ev,
			EventType:     store.TypeTag(ev),
			Timestamp:     now,
			WriterID:      e.cfg.WriterID,
		}
	}
	if err := e.cfg.EventStore.Persist(ctx, id, envs); err != nil {
		return inst, err
	}

	next := inst
	for _, ev := range events {
		next.State = e.cfg.EventHandler(next.State, ev)
	}
	next.SequenceNr = envs[len(envs)-1].SequenceNr

	if e.cfg.SnapshotStore == nil || !e.cfg.SnapshotStrategy.ShouldSnapshot(next.State, events[len(events)-1], next.SequenceNr) {
		return next, nil
	}
	err := e.cfg.SnapshotStore.Save(ctx, id, store.SnapshotEnvelope[S]{
		PersistenceID: id,
		SequenceNr:    next.SequenceNr,
		State:         next.State,
		StateType:     store.TypeTag(next.State),
		Timestamp:     now,
		WriterID:      e.cfg.WriterID,
	})
	if err != nil {
		return next, &PostPersistError{PersistenceID: id, SequenceNr: next.SequenceNr, Op: "snapshot", Err: err}
	}
	e.cfg.Logger.DebugContext(ctx, "snapshot saved", slog.Int64("sequence_nr", next.SequenceNr))

	if e.cfg.Retention.DeleteEventsToSnapshot {
		if err := e.cfg.EventStore.DeleteUpTo(ctx, id, next.SequenceNr); err != nil {
			return next, &PostPersistError{PersistenceID: id, SequenceNr: next.SequenceNr, Op: "retention", Err: err}
		}
	}
	return next, nil
}

// Run recovers the entity and feeds commands from inbox through Handle until
// the instance stops, the inbox closes, ctx is done, or a step fails.
func (e *Engine[S, C, E]) Run(ctx context.Context, inbox <-chan C) (Instance[S], error) {
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
