package entstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/wilhg/persist/pkg/persistence"
	"github.com/wilhg/persist/pkg/store"
)

// SnapshotStore is a store.SnapshotStore over the snapshot_store table.
type SnapshotStore[S any] struct {
	s     *Store
	codec store.Codec[S]
}

var _ store.SnapshotStore[int] = (*SnapshotStore[int])(nil)

// Snapshots returns a snapshot view of s that serializes states with codec.
func Snapshots[S any](s *Store, codec store.Codec[S]) *SnapshotStore[S] {
	return &SnapshotStore[S]{s: s, codec: codec}
}

// Save stores snap. Saving the same sequence number twice overwrites.
func (ss *SnapshotStore[S]) Save(ctx context.Context, id persistence.ID, snap store.SnapshotEnvelope[S]) error {
	tag, payload, err := ss.codec.Encode(snap.State)
	if err != nil {
		return fmt.Errorf("entstore: snapshot %s seq %d: %w", id, snap.SequenceNr, err)
	}
	query, args := ss.s.builder().Insert(snapshotTableName).
		Columns(colPersistenceID, colSequenceNr, colStateType, colPayload, colWriterID, colCreatedAt).
		Values(id.String(), snap.SequenceNr, tag, payload, snap.WriterID, snap.Timestamp.UnixNano()).
		OnConflict(
			entsql.ConflictColumns(colPersistenceID, colSequenceNr),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if _, err := ss.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("entstore: save snapshot %s: %w", id, err)
	}
	return nil
}

// Load returns the snapshot with the highest sequence number.
func (ss *SnapshotStore[S]) Load(ctx context.Context, id persistence.ID) (store.SnapshotEnvelope[S], bool, error) {
	query, args := ss.s.builder().
		Select(colSequenceNr, colStateType, colPayload, colWriterID, colCreatedAt).
		From(entsql.Table(snapshotTableName)).
		Where(entsql.EQ(colPersistenceID, id.String())).
		OrderBy(entsql.Desc(colSequenceNr)).
		Limit(1).
		Query()
	var (
		seq, createdAt    int64
		stateType, writer string
		payload           []byte
	)
	err := ss.s.db.QueryRowContext(ctx, query, args...).Scan(&seq, &stateType, &payload, &writer, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.SnapshotEnvelope[S]{}, false, nil
	}
	if err != nil {
		return store.SnapshotEnvelope[S]{}, false, fmt.Errorf("entstore: load snapshot %s: %w", id, err)
	}
	state, err := ss.codec.Decode(stateType, payload)
	if err != nil {
		return store.SnapshotEnvelope[S]{}, false, fmt.Errorf("entstore: snapshot %s seq %d: %w", id, seq, err)
	}
	return store.SnapshotEnvelope[S]{
		PersistenceID: id,
		SequenceNr:    seq,
		State:         state,
		StateType:     stateType,
		Timestamp:     time.Unix(0, createdAt).UTC(),
		WriterID:      writer,
	}, true, nil
}

// Delete removes snapshots with sequence_nr <= maxSeq.
func (ss *SnapshotStore[S]) Delete(ctx context.Context, id persistence.ID, maxSeq int64) error {
	query, args := ss.s.builder().Delete(snapshotTableName).
		Where(entsql.And(
			entsql.EQ(colPersistenceID, id.String()),
			entsql.LTE(colSequenceNr, maxSeq),
		)).
		Query()
	if _, err := ss.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("entstore: delete snapshots %s: %w", id, err)
	}
	return nil
}
