package redislock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wilhg/persist/pkg/actor"
	"github.com/wilhg/persist/pkg/eventsourced"
	"github.com/wilhg/persist/pkg/locking"
	"github.com/wilhg/persist/pkg/persistence"
	"github.com/wilhg/persist/pkg/store/memstore"
)

func newProvider(t *testing.T, opts Options) (*Provider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, opts), mr
}

func TestSerializesSameID(t *testing.T) {
	p, _ := newProvider(t, Options{RetryInterval: time.Millisecond})
	id := persistence.MustOf("Account", "r")
	var active, overlaps, runs int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.WithLock(context.Background(), id, func(context.Context) error {
				if atomic.AddInt32(&active, 1) > 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(3 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				atomic.AddInt32(&runs, 1)
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if overlaps != 0 || runs != 5 {
		t.Fatalf("overlaps=%d runs=%d", overlaps, runs)
	}
}

func TestReleaseDeletesKey(t *testing.T) {
	p, mr := newProvider(t, Options{})
	id := persistence.MustOf("Account", "k")
	err := p.WithLock(context.Background(), id, func(context.Context) error {
		if !mr.Exists(p.Key(id)) {
			t.Fatal("key missing while held")
		}
		if ttl := mr.TTL(p.Key(id)); ttl != DefaultTTL {
			t.Fatalf("ttl=%v", ttl)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if mr.Exists(p.Key(id)) {
		t.Fatal("key left after release")
	}
}

func TestBodyErrorStillReleases(t *testing.T) {
	p, mr := newProvider(t, Options{})
	id := persistence.MustOf("Account", "e")
	boom := errors.New("boom")
	if err := p.WithLock(context.Background(), id, func(context.Context) error { return boom }); !errors.Is(err, boom) || eventsourced.IsNonRetryable(err) {
		t.Fatalf("err=%v", err)
	}
	if mr.Exists(p.Key(id)) {
		t.Fatal("key left after failing body")
	}
}

func TestForeignTokenIsNotDeleted(t *testing.T) {
	p, mr := newProvider(t, Options{})
	id := persistence.MustOf("Account", "steal")
	err := p.WithLock(context.Background(), id, func(context.Context) error {
		// Simulate expiry followed by another holder taking over.
		return mr.Set(p.Key(id), "someone-else")
	})
	if !errors.Is(err, ErrNotHeld) {
		t.Fatalf("err=%v want ErrNotHeld", err)
	}
	var re *ReleaseError
	if !errors.As(err, &re) || re.PersistenceID != id || !eventsourced.IsNonRetryable(err) {
		t.Fatalf("err=%v want non-retryable *ReleaseError", err)
	}
	if got, _ := mr.Get(p.Key(id)); got != "someone-else" {
		t.Fatalf("foreign lock removed, value=%q", got)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	p, mr := newProvider(t, Options{RetryInterval: time.Millisecond})
	id := persistence.MustOf("Account", "busy")
	if err := mr.Set(p.Key(id), "other"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := p.WithLock(ctx, id, func(context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) || ran {
		t.Fatalf("err=%v ran=%v", err, ran)
	}
}

func TestExpiredLockAfterPersistIsNonRetryable(t *testing.T) {
	p, mr := newProvider(t, Options{TTL: time.Second})
	id := persistence.MustOf("Account", "expired")
	events := memstore.NewEvents[int]()
	// The step outlives the TTL, so the key is gone by release time.
	decide := func(_ int, _ actor.Context, n int) eventsourced.Effect[int, int] {
		mr.FastForward(2 * time.Second)
		return eventsourced.Persist[int](n)
	}
	e, err := eventsourced.New(eventsourced.Config[int, int, int]{
		PersistenceID:  id,
		CommandHandler: decide,
		EventHandler:   func(s, n int) int { return s + n },
		EventStore:     events,
		Locking:        locking.Pessimistic(p),
	})
	if err != nil {
		t.Fatal(err)
	}
	next, err := e.Handle(context.Background(), eventsourced.Instance[int]{}, actor.FuncContext{}, 5)
	if !errors.Is(err, ErrNotHeld) || !eventsourced.IsNonRetryable(err) {
		t.Fatalf("err=%v want non-retryable ErrNotHeld", err)
	}
	if next.SequenceNr != 1 || next.State != 5 {
		t.Fatalf("next=%+v want the persisted instance", next)
	}
	if hi, _ := events.HighestSequenceNr(context.Background(), id); hi != 1 {
		t.Fatalf("highest=%d", hi)
	}
}
