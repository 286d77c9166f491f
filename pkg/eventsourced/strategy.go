package eventsourced

// SnapshotStrategy decides after each persisted batch whether to snapshot.
// The zero value never snapshots.
type SnapshotStrategy[S, E any] struct {
	fn func(state S, lastEvent E, seq int64) bool
}

// EveryN snapshots when the batch ends on a multiple of n. n <= 0 never fires.
func EveryN[S, E any](n int64) SnapshotStrategy[S, E] {
	if n <= 0 {
		return Never[S, E]()
	}
	return SnapshotStrategy[S, E]{fn: func(_ S, _ E, seq int64) bool { return seq%n == 0 }}
}

func Never[S, E any]() SnapshotStrategy[S, E] { return SnapshotStrategy[S, E]{} }

// Predicate delegates to fn.
func Predicate[S, E any](fn func(state S, lastEvent E, seq int64) bool) SnapshotStrategy[S, E] {
	return SnapshotStrategy[S, E]{fn: fn}
}

func (s SnapshotStrategy[S, E]) ShouldSnapshot(state S, lastEvent E, seq int64) bool {
	return s.fn != nil && s.fn(state, lastEvent, seq)
}

// RetentionPolicy controls cleanup after a snapshot is taken.
type RetentionPolicy struct {
	// KeepSnapshots is the number of snapshots to retain; 0 means all.
	// Old snapshots are currently never deleted regardless of the value.
	KeepSnapshots int
	// DeleteEventsToSnapshot drops journal entries covered by the snapshot.
	DeleteEventsToSnapshot bool
}

func NoRetention() RetentionPolicy { return RetentionPolicy{} }

func SnapshotAndEvents(keepSnapshots int, deleteEventsToSnapshot bool) RetentionPolicy {
	return RetentionPolicy{KeepSnapshots: keepSnapshots, DeleteEventsToSnapshot: deleteEventsToSnapshot}
}
