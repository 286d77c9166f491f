package durable

import (
	"fmt"

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

var kindNames = [...]string{"none", "persist", "unhandled", "stash", "stop", "reply"}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Effect is the decision of a durable-state command handler. Effects are
// values; ThenRun and ThenReply never modify the receiver.
type Effect[S any] struct {
	kind     Kind
	newState S
	target   actor.Ref
	message  any
	after    chain.List[S]
	invalid  string
}

// Persist replaces the stored state with newState.
func Persist[S any](newState S) Effect[S] { return Effect[S]{kind: KindPersist, newState: newState} }

func None[S any]() Effect[S]      { return Effect[S]{kind: KindNone} }
func Unhandled[S any]() Effect[S] { return Effect[S]{kind: KindUnhandled} }
func Stash[S any]() Effect[S]     { return Effect[S]{kind: KindStash} }
func Stop[S any]() Effect[S]      { return Effect[S]{kind: KindStop} }

// Reply tells msg to target without touching the state.
func Reply[S any](target actor.Ref, msg any) Effect[S] {
	return Effect[S]{kind: KindReply, target: target, message: msg}
}

// ThenRun appends fn to the side effects.
func (e Effect[S]) ThenRun(fn func(S)) Effect[S] {
	e.after = e.after.Append(fn)
	return e
}

// ThenReply appends a side effect telling fn(state) to target.
func (e Effect[S]) ThenReply(target actor.Ref, fn func(S) any) Effect[S] {
	if target == nil {
		e.invalid = "ThenReply without a target"
		return e
	}
	return e.ThenRun(func(s S) { target.Tell(fn(s)) })
}

func (e Effect[S]) Kind() Kind           { return e.kind }
func (e Effect[S]) SideEffectCount() int { return e.after.Len() }

// NewState returns the state a Persist effect writes.
func (e Effect[S]) NewState() S { return e.newState }

func (e Effect[S]) validate(actx actor.Context) string {
	switch {
	case e.invalid != "":
		return e.invalid
	case e.kind == KindReply && e.target == nil:
		return "Reply without a target"
	case e.kind == KindStash && actx == nil:
		return "Stash without an actor context"
	}
	return ""
}
