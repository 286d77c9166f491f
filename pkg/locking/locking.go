// Package locking decides whether a command step runs under an exclusive
// lock keyed by persistence id.
package locking

import (
	"context"
	"sync"

	"github.com/wilhg/persist/pkg/persistence"
)

// Provider grants exclusive access per persistence id. WithLock must release
// the lock on every path out of body, including errors and panics.
type Provider interface {
	WithLock(ctx context.Context, id persistence.ID, body func(context.Context) error) error
}

// Strategy is either optimistic (no coordination) or pessimistic (every
// step holds the provider's lock). The zero value is optimistic.
type Strategy struct {
	provider Provider
}

// Optimistic runs steps without coordination. Writers are not checked at
// write time; interleaving is detected on replay by the replay filter.
func Optimistic() Strategy { return Strategy{} }

// Pessimistic serializes steps for the same id through p. A nil p is
// treated as optimistic.
func Pessimistic(p Provider) Strategy { return Strategy{provider: p} }

func (s Strategy) IsPessimistic() bool { return s.provider != nil }

// Run executes body, under the provider's lock when pessimistic.
func (s Strategy) Run(ctx context.Context, id persistence.ID, body func(context.Context) error) error {
	if s.provider == nil {
		return body(ctx)
	}
	return s.provider.WithLock(ctx, id, body)
}

// LocalProvider is an in-process Provider. Locks for distinct ids never
// contend; entries are dropped once no caller holds or waits for them.
type LocalProvider struct {
	mu    sync.Mutex
	locks map[persistence.ID]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{locks: make(map[persistence.ID]*localLock)}
}

// WithLock blocks until the lock for id is free or ctx is done.
func (p *LocalProvider) WithLock(ctx context.Context, id persistence.ID, body func(context.Context) error) error {
	l := p.acquireRef(id)
	defer p.releaseRef(id, l)

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.ch }()
	return body(ctx)
}

func (p *LocalProvider) acquireRef(id persistence.ID) *localLock {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[id]
	if !ok {
		l = &localLock{ch: make(chan struct{}, 1)}
		p.locks[id] = l
	}
	l.refs++
	return l
}

func (p *LocalProvider) releaseRef(id persistence.ID, l *localLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, id)
	}
}

// Len reports how many ids currently have holders or waiters.
func (p *LocalProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
