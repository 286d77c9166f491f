// Package storetest holds contract tests every store implementation must
// pass. Backends call the Run* functions from their own _test files.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wilhg/persist/pkg/persistence"
	"github.com/wilhg/persist/pkg/store"
)

// Event is the payload type used by the contract tests.
type Event struct {
	Name   string `json:"name"`
	Amount int    `json:"amount"`
}

// State is the snapshot / durable state payload used by the contract tests.
type State struct {
	Balance int      `json:"balance"`
	Tags    []string `json:"tags,omitempty"`
}

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// Envelopes builds envelopes for seqs from..to written by writer.
func Envelopes(id persistence.ID, writer string, from, to int64) []store.EventEnvelope[Event] {
	out := make([]store.EventEnvelope[Event], 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		out = append(out, store.EventEnvelope[Event]{
			PersistenceID: id,
			SequenceNr:    seq,
			Event:         Event{Name: fmt.Sprintf("e%d", seq), Amount: int(seq)},
			EventType:     store.TypeTag(Event{}),
			Timestamp:     epoch.Add(time.Duration(seq) * time.Second),
			WriterID:      writer,
			Metadata:      map[string]string{"seq": fmt.Sprint(seq)},
		})
	}
	return out
}

// RunEventStore exercises a store.EventStore built by newStore.
func RunEventStore(t *testing.T, newStore func(t *testing.T) store.EventStore[Event]) {
	t.Run("PersistAndLoad", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := persistence.MustOf("Account", "load")
		if err := s.Persist(ctx, id, Envelopes(id, "w1", 1, 3)); err != nil {
			t.Fatal(err)
		}
		if err := s.Persist(ctx, id, Envelopes(id, "w1", 4, 5)); err != nil {
			t.Fatal(err)
		}
		all, err := s.Load(ctx, id, 0, store.MaxSequenceNr)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 5 {
			t.Fatalf("len=%d want 5", len(all))
		}
		for i, e := range all {
			if e.SequenceNr != int64(i+1) {
				t.Fatalf("seq[%d]=%d", i, e.SequenceNr)
			}
			if e.Event.Amount != i+1 || e.WriterID != "w1" || e.PersistenceID != id {
				t.Fatalf("envelope %d = %+v", i, e)
			}
			if e.Metadata["seq"] != fmt.Sprint(i+1) {
				t.Fatalf("metadata %d = %v", i, e.Metadata)
			}
			if !e.Timestamp.Equal(epoch.Add(time.Duration(i+1) * time.Second)) {
				t.Fatalf("timestamp %d = %v", i, e.Timestamp)
			}
		}
		mid, err := s.Load(ctx, id, 2, 4)
		if err != nil {
			t.Fatal(err)
		}
		if len(mid) != 3 || mid[0].SequenceNr != 2 || mid[2].SequenceNr != 4 {
			t.Fatalf("inclusive range wrong: %+v", mid)
		}
	})

	t.Run("HighestSequenceNr", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := persistence.MustOf("Account", "highest")
		hi, err := s.HighestSequenceNr(ctx, id)
		if err != nil || hi != 0 {
			t.Fatalf("empty highest=%d err=%v", hi, err)
		}
		if err := s.Persist(ctx, id, Envelopes(id, "w1", 1, 7)); err != nil {
			t.Fatal(err)
		}
		if hi, _ = s.HighestSequenceNr(ctx, id); hi != 7 {
			t.Fatalf("highest=%d want 7", hi)
		}
	})

	t.Run("DeleteUpTo", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := persistence.MustOf("Account", "delete")
		if err := s.Persist(ctx, id, Envelopes(id, "w1", 1, 6)); err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteUpTo(ctx, id, 4); err != nil {
			t.Fatal(err)
		}
		rest, err := s.Load(ctx, id, 0, store.MaxSequenceNr)
		if err != nil {
			t.Fatal(err)
		}
		if len(rest) != 2 || rest[0].SequenceNr != 5 {
			t.Fatalf("after delete: %+v", rest)
		}
		if hi, _ := s.HighestSequenceNr(ctx, id); hi != 6 {
			t.Fatalf("highest=%d want 6", hi)
		}
	})

	t.Run("IsolatedByID", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		a := persistence.MustOf("Account", "a")
		b := persistence.MustOf("Account", "b")
		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for _, id := range []persistence.ID{a, b} {
			wg.Add(1)
			go func(id persistence.ID) {
				defer wg.Done()
				for seq := int64(1); seq <= 10; seq++ {
					if err := s.Persist(ctx, id, Envelopes(id, "w", seq, seq)); err != nil {
						errs <- err
						return
					}
				}
			}(id)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatal(err)
		}
		for _, id := range []persistence.ID{a, b} {
			got, _ := s.Load(ctx, id, 0, store.MaxSequenceNr)
			if len(got) != 10 {
				t.Fatalf("%s len=%d want 10", id, len(got))
			}
		}
	})
}

// RunUniqueSequenceNrs checks journals that key events by
// (persistence id, sequence nr): a batch reusing a stored number fails as a
// whole. Journals that append unconditionally skip it.
func RunUniqueSequenceNrs(t *testing.T, newStore func(t *testing.T) store.EventStore[Event]) {
	t.Run("DuplicateBatchIsRejected", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := persistence.MustOf("Account", "atomic")
		if err := s.Persist(ctx, id, Envelopes(id, "w1", 1, 2)); err != nil {
			t.Fatal(err)
		}
		// seq 2 already exists, so the whole batch must be rejected.
		if err := s.Persist(ctx, id, Envelopes(id, "w2", 2, 4)); err == nil {
			t.Fatal("expected conflict on duplicate sequence nr")
		}
		all, _ := s.Load(ctx, id, 0, store.MaxSequenceNr)
		if len(all) != 2 {
			t.Fatalf("partial batch stored: %+v", all)
		}
	})
}

// RunSnapshotStore exercises a store.SnapshotStore built by newStore.
func RunSnapshotStore(t *testing.T, newStore func(t *testing.T) store.SnapshotStore[State]) {
	t.Run("LatestWins", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := persistence.MustOf("Account", "snap")
		if _, ok, err := s.Load(ctx, id); ok || err != nil {
			t.Fatalf("empty load ok=%v err=%v", ok, err)
		}
		for _, seq := range []int64{2, 6, 4} {
			if err := s.Save(ctx, id, snapshot(id, seq)); err != nil {
				t.Fatal(err)
			}
		}
		got, ok, err := s.Load(ctx, id)
		if err != nil || !ok {
			t.Fatalf("load ok=%v err=%v", ok, err)
		}
		if got.SequenceNr != 6 || got.State.Balance != 60 || got.WriterID != "w1" {
			t.Fatalf("latest=%+v", got)
		}
		if len(got.State.Tags) != 1 || got.State.Tags[0] != "t6" {
			t.Fatalf("state=%+v", got.State)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := persistence.MustOf("Account", "snap-del")
		for _, seq := range []int64{2, 4} {
			if err := s.Save(ctx, id, snapshot(id, seq)); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.Delete(ctx, id, 2); err != nil {
			t.Fatal(err)
		}
		got, ok, _ := s.Load(ctx, id)
		if !ok || got.SequenceNr != 4 {
			t.Fatalf("after delete latest=%+v ok=%v", got, ok)
		}
		if err := s.Delete(ctx, id, 4); err != nil {
			t.Fatal(err)
		}
		if _, ok, _ := s.Load(ctx, id); ok {
			t.Fatal("expected no snapshot")
		}
	})
}

// RunDurableStateStore exercises a store.DurableStateStore built by newStore.
func RunDurableStateStore(t *testing.T, newStore func(t *testing.T) store.DurableStateStore[State]) {
	t.Run("UpsertReplaces", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := persistence.MustOf("Profile", "p1")
		if _, ok, err := s.Get(ctx, id); ok || err != nil {
			t.Fatalf("empty get ok=%v err=%v", ok, err)
		}
		for v := int64(1); v <= 3; v++ {
			if err := s.Upsert(ctx, id, durable(id, v)); err != nil {
				t.Fatal(err)
			}
		}
		got, ok, err := s.Get(ctx, id)
		if err != nil || !ok {
			t.Fatalf("get ok=%v err=%v", ok, err)
		}
		if got.Version != 3 || got.State.Balance != 30 || got.PersistenceID != id {
			t.Fatalf("got %+v", got)
		}
		if err := s.Delete(ctx, id); err != nil {
			t.Fatal(err)
		}
		if _, ok, _ := s.Get(ctx, id); ok {
			t.Fatal("expected state to be deleted")
		}
	})
}

func snapshot(id persistence.ID, seq int64) store.SnapshotEnvelope[State] {
	return store.SnapshotEnvelope[State]{
		PersistenceID: id,
		SequenceNr:    seq,
		State:         State{Balance: int(seq) * 10, Tags: []string{fmt.Sprintf("t%d", seq)}},
		StateType:     store.TypeTag(State{}),
		Timestamp:     epoch,
		WriterID:      "w1",
	}
}

func durable(id persistence.ID, version int64) store.DurableStateEnvelope[State] {
	return store.DurableStateEnvelope[State]{
		PersistenceID: id,
		Version:       version,
		State:         State{Balance: int(version) * 10},
		StateType:     store.TypeTag(State{}),
		Timestamp:     epoch,
		WriterID:      "w1",
	}
}
