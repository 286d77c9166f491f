package eventsourced

import (
	"fmt"
	"slices"

	"github.com/wilhg/persist/internal/chain"
	"github.com/wilhg/persist/pkg/actor"
)

// Kind identifies the primary action of an Effect.
type Kind int

const (
	KindNone Kind = iota
	KindPersist
	KindUnhandled
	KindStash
	KindStop
	KindReply
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPersist:
		return "persist"
	case KindUnhandled:
		return "unhandled"
	case KindStash:
		return "stash"
	case KindStop:
		return "stop"
	case KindReply:
		return "reply"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Effect is what a command handler decides: one primary action plus an
// ordered chain of callbacks run against the resulting state. Effects are
// values; ThenRun and ThenReply return new effects and never modify the
// receiver.
type Effect[S, E any] struct {
	kind    Kind
	events  []E
	target  actor.Ref
	message any
	after   chain.List[S]
	invalid string
}

// Persist records events as one atomic batch, then applies them in order.
func Persist[S, E any](events ...E) Effect[S, E] {
	return Effect[S, E]{kind: KindPersist, events: slices.Clone(events)}
}

// None keeps the state as is.
func None[S, E any]() Effect[S, E] { return Effect[S, E]{kind: KindNone} }

// Unhandled marks the command as not understood in the current state.
func Unhandled[S, E any]() Effect[S, E] { return Effect[S, E]{kind: KindUnhandled} }

// Stash defers the command until the next one has been handled.
func Stash[S, E any]() Effect[S, E] { return Effect[S, E]{kind: KindStash} }

// Stop ends the instance; later commands fail with ErrStopped.
func Stop[S, E any]() Effect[S, E] { return Effect[S, E]{kind: KindStop} }

// Reply tells msg to target without touching the state.
func Reply[S, E any](target actor.Ref, msg any) Effect[S, E] {
	return Effect[S, E]{kind: KindReply, target: target, message: msg}
}

// ThenRun appends fn to the side effects.
func (e Effect[S, E]) ThenRun(fn func(S)) Effect[S, E] {
	e.after = e.after.Append(fn)
	return e
}

// ThenReply appends a side effect telling fn(state) to target.
func (e Effect[S, E]) ThenReply(target actor.Ref, fn func(S) any) Effect[S, E] {
	if target == nil {
		e.invalid = "ThenReply without a target"
		return e
	}
	return e.ThenRun(func(s S) { target.Tell(fn(s)) })
}

func (e Effect[S, E]) Kind() Kind { return e.kind }

// Events returns a copy of the events of a Persist effect.
func (e Effect[S, E]) Events() []E { return slices.Clone(e.events) }

func (e Effect[S, E]) SideEffectCount() int { return e.after.Len() }

// validate reports why the engine cannot interpret e, or "".
func (e Effect[S, E]) validate(actx actor.Context) string {
	if e.invalid != "" {
		return e.invalid
	}
	switch e.kind {
	case KindPersist:
		if len(e.events) == 0 {
			return "Persist without events"
		}
	case KindReply:
		if e.target == nil {
			return "Reply without a target"
		}
	case KindStash:
		if actx == nil {
			return "Stash without an actor context"
		}
	}
	return ""
}
