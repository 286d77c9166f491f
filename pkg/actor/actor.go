// Package actor holds the small contract the persistence engines need from an
// actor runtime, plus a minimal in-process command loop.
package actor

import "context"

// Ref is an address a message can be told to.
type Ref interface {
	Tell(msg any)
}

// RefFunc adapts a function to Ref.
type RefFunc func(msg any)

func (f RefFunc) Tell(msg any) { f(msg) }

// Context is handed to command handlers for the command being processed.
type Context interface {
	// Self names the entity processing the command.
	Self() string
	// Stash defers the current command until the next one has been handled.
	Stash()
}

// FuncContext is a Context built from plain values, handy in tests and
// one-shot drivers.
type FuncContext struct {
	Name    string
	OnStash func()
}

func (c FuncContext) Self() string { return c.Name }

func (c FuncContext) Stash() {
	if c.OnStash != nil {
		c.OnStash()
	}
}

// Step processes one command. It reports stop=true once the entity stopped.
type Step[C any] func(ctx context.Context, actx Context, cmd C) (stop bool, err error)

type delivery struct {
	self    string
	stashed bool
}

func (d *delivery) Self() string { return d.self }
func (d *delivery) Stash()       { d.stashed = true }

// Loop delivers commands from inbox to step one at a time. Commands whose
// handler called Stash are held and redelivered, in arrival order, right
// after the next command that was not stashed.
//
// Loop returns nil when step reports stop, the inbox is closed, or ctx is
// done; a step error ends the loop and is returned as is.
func Loop[C any](ctx context.Context, self string, inbox <-chan C, step Step[C]) error {
	var stash []C
	deliver := func(cmd C) (bool, bool, error) {
		d := &delivery{self: self}
		stop, err := step(ctx, d, cmd)
		return d.stashed, stop, err
	}
	for {
		var (
			cmd C
			ok  bool
		)
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok = <-inbox:
			if !ok {
				return nil
			}
		}
		stashed, stop, err := deliver(cmd)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
		if stashed {
			stash = append(stash, cmd)
			continue
		}
		pending := stash
		stash = nil
		for _, held := range pending {
			stashed, stop, err := deliver(held)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
			if stashed {
				stash = append(stash, held)
			}
		}
	}
}
