package store

import (
	"context"
	"maps"
	"math"
	"time"

	"github.com/wilhg/persist/pkg/persistence"
)

// MaxSequenceNr is the open upper bound for Load.
const MaxSequenceNr int64 = math.MaxInt64

// EventEnvelope is the persisted representation of one event.
type EventEnvelope[E any] struct {
	PersistenceID persistence.ID
	SequenceNr    int64
	Event         E
	EventType     string
	Timestamp     time.Time
	WriterID      string
	Metadata      map[string]string
}

// WithMetadata returns a copy whose metadata merges md over the existing keys.
// The receiver's map is left untouched.
func (e EventEnvelope[E]) WithMetadata(md map[string]string) EventEnvelope[E] {
	merged := make(map[string]string, len(e.Metadata)+len(md))
	maps.Copy(merged, e.Metadata)
	maps.Copy(merged, md)
	e.Metadata = merged
	return e
}

// SnapshotEnvelope stores a materialized state up to a given sequence.
type SnapshotEnvelope[S any] struct {
	PersistenceID persistence.ID
	SequenceNr    int64
	State         S
	StateType     string
	Timestamp     time.Time
	WriterID      string
}

// DurableStateEnvelope is the single stored row of a durable-state entity.
type DurableStateEnvelope[S any] struct {
	PersistenceID persistence.ID
	Version       int64
	State         S
	StateType     string
	Timestamp     time.Time
	WriterID      string
}

// EventStore defines operations for event journals.
// Implementations must be safe for concurrent use across persistence ids.
type EventStore[E any] interface {
	// Persist writes the batch atomically: either every envelope is stored or none.
	Persist(ctx context.Context, id persistence.ID, events []EventEnvelope[E]) error
	// Load returns envelopes with fromSeq <= SequenceNr <= toSeq, ascending.
	Load(ctx context.Context, id persistence.ID, fromSeq, toSeq int64) ([]EventEnvelope[E], error)
	// DeleteUpTo removes envelopes with SequenceNr <= seq.
	DeleteUpTo(ctx context.Context, id persistence.ID, seq int64) error
	// HighestSequenceNr returns 0 when the journal for id is empty.
	HighestSequenceNr(ctx context.Context, id persistence.ID) (int64, error)
}

// SnapshotStore defines operations for reading/writing snapshots.
type SnapshotStore[S any] interface {
	Save(ctx context.Context, id persistence.ID, snap SnapshotEnvelope[S]) error
	// Load returns the snapshot with the highest sequence number.
	Load(ctx context.Context, id persistence.ID) (SnapshotEnvelope[S], bool, error)
	// Delete removes snapshots with SequenceNr <= maxSeq.
	Delete(ctx context.Context, id persistence.ID, maxSeq int64) error
}

// DurableStateStore keeps exactly one envelope per persistence id.
type DurableStateStore[S any] interface {
	Get(ctx context.Context, id persistence.ID) (DurableStateEnvelope[S], bool, error)
	// Upsert replaces whatever is stored for id.
	Upsert(ctx context.Context, id persistence.ID, state DurableStateEnvelope[S]) error
	Delete(ctx context.Context, id persistence.ID) error
}
