package entstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/wilhg/persist/pkg/persistence"
	"github.com/wilhg/persist/pkg/store"
	"github.com/wilhg/persist/pkg/store/storetest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	dsn := "sqlite:file:" + filepath.Join(t.TempDir(), "persist.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	st, err := Open(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestSQLiteEventsContract(t *testing.T) {
	storetest.RunEventStore(t, func(t *testing.T) store.EventStore[storetest.Event] {
		return Events[storetest.Event](openSQLite(t), store.JSONCodec[storetest.Event]{})
	})
}

func TestSQLiteRejectsDuplicateSequenceNrs(t *testing.T) {
	storetest.RunUniqueSequenceNrs(t, func(t *testing.T) store.EventStore[storetest.Event] {
		return Events[storetest.Event](openSQLite(t), store.JSONCodec[storetest.Event]{})
	})
}

func TestSQLiteSnapshotsContract(t *testing.T) {
	storetest.RunSnapshotStore(t, func(t *testing.T) store.SnapshotStore[storetest.State] {
		return Snapshots[storetest.State](openSQLite(t), store.JSONCodec[storetest.State]{})
	})
}

func TestSQLiteStatesContract(t *testing.T) {
	storetest.RunDurableStateStore(t, func(t *testing.T) store.DurableStateStore[storetest.State] {
		return States[storetest.State](openSQLite(t), store.JSONCodec[storetest.State]{})
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	st := openSQLite(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if st.Dialect() != "sqlite3" {
		t.Fatalf("dialect=%q", st.Dialect())
	}
}

type opened struct{ Amount int }
type closed struct{ Reason string }

type accountEvent interface{ isAccountEvent() }

func (opened) isAccountEvent() {}
func (closed) isAccountEvent() {}

func (opened) TypeTag() string { return "account.opened" }
func (closed) TypeTag() string { return "account.closed" }

func TestSQLiteTypedCodecRoundTrip(t *testing.T) {
	ctx := context.Background()
	codec := store.NewTypedCodec[accountEvent]()
	store.MustRegisterType[accountEvent, opened](codec)
	store.MustRegisterType[accountEvent, closed](codec)
	es := Events[accountEvent](openSQLite(t), codec)

	id := persistence.MustOf("Account", "typed")
	err := es.Persist(ctx, id, []store.EventEnvelope[accountEvent]{
		{PersistenceID: id, SequenceNr: 1, Event: opened{Amount: 5}, WriterID: "w"},
		{PersistenceID: id, SequenceNr: 2, Event: closed{Reason: "done"}, WriterID: "w"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := es.Load(ctx, id, 1, store.MaxSequenceNr)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d", len(got))
	}
	if o, ok := got[0].Event.(opened); !ok || o.Amount != 5 || got[0].EventType != "account.opened" {
		t.Fatalf("first=%+v", got[0])
	}
	if c, ok := got[1].Event.(closed); !ok || c.Reason != "done" {
		t.Fatalf("second=%+v", got[1])
	}
	if got[0].Metadata != nil {
		t.Fatalf("metadata=%v want nil", got[0].Metadata)
	}
}

func TestSnapshotSaveSameSeqOverwrites(t *testing.T) {
	ctx := context.Background()
	ss := Snapshots[storetest.State](openSQLite(t), store.JSONCodec[storetest.State]{})
	id := persistence.MustOf("Account", "overwrite")
	for _, bal := range []int{1, 2} {
		err := ss.Save(ctx, id, store.SnapshotEnvelope[storetest.State]{PersistenceID: id, SequenceNr: 3, State: storetest.State{Balance: bal}})
		if err != nil {
			t.Fatal(err)
		}
	}
	got, ok, err := ss.Load(ctx, id)
	if err != nil || !ok || got.State.Balance != 2 {
		t.Fatalf("got %+v ok=%v err=%v", got, ok, err)
	}
}

func TestOpenRejectsUnknownDSN(t *testing.T) {
	ctx := context.Background()
	for _, dsn := range []string{"", "mysql://root@localhost/db", "nonsense"} {
		if _, err := Open(ctx, dsn); err == nil {
			t.Fatalf("Open(%q) expected error", dsn)
		}
	}
}
