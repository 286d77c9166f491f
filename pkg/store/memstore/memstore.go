// Package memstore provides in-memory implementations of the store
// interfaces, intended for tests and examples.
package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/wilhg/persist/pkg/persistence"
	"github.com/wilhg/persist/pkg/store"
)

// Events is an in-memory store.EventStore.
type Events[E any] struct {
	mu      sync.RWMutex
	journal map[persistence.ID][]store.EventEnvelope[E] // append order
}

// NewEvents creates an empty journal.
func NewEvents[E any]() *Events[E] {
	return &Events[E]{journal: make(map[persistence.ID][]store.EventEnvelope[E])}
}

// Persist appends the batch as given. Sequence numbers are not checked, so
// two writers of one id both land in the journal and the replay filter sees
// them on recovery.
func (s *Events[E]) Persist(ctx context.Context, id persistence.ID, events []store.EventEnvelope[E]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal[id] = append(s.journal[id], events...)
	return nil
}

// Load returns envelopes with fromSeq <= SequenceNr <= toSeq ordered by
// sequence number, append order breaking ties. Metadata maps are copied.
func (s *Events[E]) Load(ctx context.Context, id persistence.ID, fromSeq, toSeq int64) ([]store.EventEnvelope[E], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.EventEnvelope[E]
	for _, e := range s.journal[id] {
		if e.SequenceNr < fromSeq || e.SequenceNr > toSeq {
			continue
		}
		e.Metadata = maps.Clone(e.Metadata)
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b store.EventEnvelope[E]) int {
		return cmp.Compare(a.SequenceNr, b.SequenceNr)
	})
	return out, nil
}

// DeleteUpTo removes envelopes with SequenceNr <= seq.
func (s *Events[E]) DeleteUpTo(ctx context.Context, id persistence.ID, seq int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := slices.DeleteFunc(slices.Clone(s.journal[id]), func(e store.EventEnvelope[E]) bool {
		return e.SequenceNr <= seq
	})
	if len(kept) == 0 {
		delete(s.journal, id)
		return nil
	}
	s.journal[id] = kept
	return nil
}

// HighestSequenceNr returns the largest stored sequence number, or 0.
func (s *Events[E]) HighestSequenceNr(ctx context.Context, id persistence.ID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var highest int64
	for _, e := range s.journal[id] {
		highest = max(highest, e.SequenceNr)
	}
	return highest, nil
}

// Snapshots is an in-memory store.SnapshotStore.
type Snapshots[S any] struct {
	mu    sync.RWMutex
	snaps map[persistence.ID][]store.SnapshotEnvelope[S]
}

func NewSnapshots[S any]() *Snapshots[S] {
	return &Snapshots[S]{snaps: make(map[persistence.ID][]store.SnapshotEnvelope[S])}
}

// Save keeps every snapshot it is given.
func (s *Snapshots[S]) Save(ctx context.Context, id persistence.ID, snap store.SnapshotEnvelope[S]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[id] = append(s.snaps[id], snap)
	return nil
}

// Load returns the snapshot with the highest sequence number.
func (s *Snapshots[S]) Load(ctx context.Context, id persistence.ID) (store.SnapshotEnvelope[S], bool, error) {
	if err := ctx.Err(); err != nil {
		return store.SnapshotEnvelope[S]{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := s.snaps[id]
	if len(snaps) == 0 {
		return store.SnapshotEnvelope[S]{}, false, nil
	}
	latest := snaps[0]
	for _, sn := range snaps[1:] {
		if sn.SequenceNr >= latest.SequenceNr {
			latest = sn
		}
	}
	return latest, true, nil
}

// Delete removes snapshots with SequenceNr <= maxSeq.
func (s *Snapshots[S]) Delete(ctx context.Context, id persistence.ID, maxSeq int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := slices.DeleteFunc(slices.Clone(s.snaps[id]), func(sn store.SnapshotEnvelope[S]) bool {
		return sn.SequenceNr <= maxSeq
	})
	if len(kept) == 0 {
		delete(s.snaps, id)
		return nil
	}
	s.snaps[id] = kept
	return nil
}

// Count reports how many snapshots are held for id.
func (s *Snapshots[S]) Count(id persistence.ID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps[id])
}

// States is an in-memory store.DurableStateStore.
type States[S any] struct {
	mu     sync.RWMutex
	states map[persistence.ID]store.DurableStateEnvelope[S]
}

func NewStates[S any]() *States[S] {
	return &States[S]{states: make(map[persistence.ID]store.DurableStateEnvelope[S])}
}

func (s *States[S]) Get(ctx context.Context, id persistence.ID) (store.DurableStateEnvelope[S], bool, error) {
	if err := ctx.Err(); err != nil {
		return store.DurableStateEnvelope[S]{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	return st, ok, nil
}

func (s *States[S]) Upsert(ctx context.Context, id persistence.ID, state store.DurableStateEnvelope[S]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = state
	return nil
}

func (s *States[S]) Delete(ctx context.Context, id persistence.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}

// Len reports how many persistence ids hold a state.
func (s *States[S]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
