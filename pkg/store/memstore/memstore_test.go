package memstore

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/wilhg/persist/pkg/persistence"
	"github.com/wilhg/persist/pkg/store"
	"github.com/wilhg/persist/pkg/store/storetest"
)

func TestEventsContract(t *testing.T) {
	storetest.RunEventStore(t, func(t *testing.T) store.EventStore[storetest.Event] {
		return NewEvents[storetest.Event]()
	})
}

func TestSnapshotsContract(t *testing.T) {
	storetest.RunSnapshotStore(t, func(t *testing.T) store.SnapshotStore[storetest.State] {
		return NewSnapshots[storetest.State]()
	})
}

func TestStatesContract(t *testing.T) {
	storetest.RunDurableStateStore(t, func(t *testing.T) store.DurableStateStore[storetest.State] {
		return NewStates[storetest.State]()
	})
}

func TestLoadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewEvents[storetest.Event]()
	id := persistence.MustOf("Account", "copy")
	if err := s.Persist(ctx, id, storetest.Envelopes(id, "w1", 1, 2)); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Load(ctx, id, 0, store.MaxSequenceNr)
	got[0].SequenceNr = 99
	got[1].Metadata["seq"] = "changed"
	again, _ := s.Load(ctx, id, 0, store.MaxSequenceNr)
	if again[0].SequenceNr != 1 {
		t.Fatalf("store mutated through Load result: %+v", again[0])
	}
	if again[1].Metadata["seq"] != "2" {
		t.Fatalf("metadata shared with Load result: %v", again[1].Metadata)
	}
}

func TestPersistAppendsOverlappingWriters(t *testing.T) {
	ctx := context.Background()
	s := NewEvents[storetest.Event]()
	id := persistence.MustOf("Account", "overlap")
	if err := s.Persist(ctx, id, storetest.Envelopes(id, "A", 1, 2)); err != nil {
		t.Fatal(err)
	}
	if err := s.Persist(ctx, id, storetest.Envelopes(id, "B", 1, 1)); err != nil {
		t.Fatalf("second writer rejected: %v", err)
	}
	got, _ := s.Load(ctx, id, 0, store.MaxSequenceNr)
	var order []string
	for _, e := range got {
		order = append(order, fmt.Sprintf("%d%s", e.SequenceNr, e.WriterID))
	}
	if strings.Join(order, ",") != "1A,1B,2A" {
		t.Fatalf("order=%v", order)
	}
	if hi, _ := s.HighestSequenceNr(ctx, id); hi != 2 {
		t.Fatalf("highest=%d", hi)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	id := persistence.MustOf("Account", "ctx")
	if err := NewEvents[int]().Persist(ctx, id, []store.EventEnvelope[int]{{SequenceNr: 1}}); err == nil {
		t.Fatal("expected context error")
	}
	if _, _, err := NewStates[int]().Get(ctx, id); err == nil {
		t.Fatal("expected context error")
	}
}

func TestCounters(t *testing.T) {
	ctx := context.Background()
	id := persistence.MustOf("Account", "count")
	snaps := NewSnapshots[int]()
	_ = snaps.Save(ctx, id, store.SnapshotEnvelope[int]{SequenceNr: 1})
	_ = snaps.Save(ctx, id, store.SnapshotEnvelope[int]{SequenceNr: 2})
	if snaps.Count(id) != 2 {
		t.Fatalf("count=%d", snaps.Count(id))
	}
	states := NewStates[int]()
	_ = states.Upsert(ctx, id, store.DurableStateEnvelope[int]{Version: 1})
	_ = states.Upsert(ctx, id, store.DurableStateEnvelope[int]{Version: 2})
	if states.Len() != 1 {
		t.Fatalf("len=%d", states.Len())
	}
}
