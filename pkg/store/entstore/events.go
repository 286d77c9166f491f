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

// EventStore is a store.EventStore over the event_journal table.
type EventStore[E any] struct {
	s     *Store
	codec store.Codec[E]
}

var _ store.EventStore[int] = (*EventStore[int])(nil)

// Events returns a journal view of s that serializes payloads with codec.
func Events[E any](s *Store, codec store.Codec[E]) *EventStore[E] {
	return &EventStore[E]{s: s, codec: codec}
}

// Persist inserts the batch in one transaction. The primary key on
// (persistence_id, sequence_nr) rejects the whole batch on any duplicate.
func (es *EventStore[E]) Persist(ctx context.Context, id persistence.ID, events []store.EventEnvelope[E]) error {
	if len(events) == 0 {
		return nil
	}
	ins := es.s.builder().Insert(journalTableName).
		Columns(colPersistenceID, colSequenceNr, colEventType, colPayload, colWriterID, colMetadata, colCreatedAt)
	for _, e := range events {
		tag, payload, err := es.codec.Encode(e.Event)
		if err != nil {
			return fmt.Errorf("entstore: %s seq %d: %w", id, e.SequenceNr, err)
		}
		md, err := encodeMetadata(e.Metadata)
		if err != nil {
			return fmt.Errorf("entstore: %s seq %d: %w", id, e.SequenceNr, err)
		}
		ins.Values(id.String(), e.SequenceNr, tag, payload, e.WriterID, md, e.Timestamp.UnixNano())
	}
	query, args := ins.Query()
	return es.s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("entstore: append %s: %w", id, err)
		}
		return nil
	})
}

// Load returns envelopes with fromSeq <= sequence_nr <= toSeq, ascending.
func (es *EventStore[E]) Load(ctx context.Context, id persistence.ID, fromSeq, toSeq int64) ([]store.EventEnvelope[E], error) {
	query, args := es.s.builder().
		Select(colSequenceNr, colEventType, colPayload, colWriterID, colMetadata, colCreatedAt).
		From(entsql.Table(journalTableName)).
		Where(entsql.And(
			entsql.EQ(colPersistenceID, id.String()),
			entsql.GTE(colSequenceNr, fromSeq),
			entsql.LTE(colSequenceNr, toSeq),
		)).
		OrderBy(entsql.Asc(colSequenceNr)).
		Query()
	rows, err := es.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("entstore: load %s: %w", id, err)
	}
	defer rows.Close()
	var out []store.EventEnvelope[E]
	for rows.Next() {
		var (
			seq, createdAt    int64
			eventType, writer string
			payload, md       []byte
		)
		if err := rows.Scan(&seq, &eventType, &payload, &writer, &md, &createdAt); err != nil {
			return nil, fmt.Errorf("entstore: scan %s: %w", id, err)
		}
		ev, err := es.codec.Decode(eventType, payload)
		if err != nil {
			return nil, fmt.Errorf("entstore: %s seq %d: %w", id, seq, err)
		}
		metadata, err := decodeMetadata(md)
		if err != nil {
			return nil, fmt.Errorf("entstore: %s seq %d: %w", id, seq, err)
		}
		out = append(out, store.EventEnvelope[E]{
			PersistenceID: id,
			SequenceNr:    seq,
			Event:         ev,
			EventType:     eventType,
			Timestamp:     time.Unix(0, createdAt).UTC(),
			WriterID:      writer,
			Metadata:      metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entstore: load %s: %w", id, err)
	}
	return out, nil
}

// DeleteUpTo removes journal rows with sequence_nr <= seq.
func (es *EventStore[E]) DeleteUpTo(ctx context.Context, id persistence.ID, seq int64) error {
	query, args := es.s.builder().Delete(journalTableName).
		Where(entsql.And(
			entsql.EQ(colPersistenceID, id.String()),
			entsql.LTE(colSequenceNr, seq),
		)).
		Query()
	if _, err := es.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("entstore: delete events %s: %w", id, err)
	}
	return nil
}

// HighestSequenceNr returns the last stored sequence number, or 0.
func (es *EventStore[E]) HighestSequenceNr(ctx context.Context, id persistence.ID) (int64, error) {
	query, args := es.s.builder().Select(colSequenceNr).
		From(entsql.Table(journalTableName)).
		Where(entsql.EQ(colPersistenceID, id.String())).
		OrderBy(entsql.Desc(colSequenceNr)).
		Limit(1).
		Query()
	var seq int64
	err := es.s.db.QueryRowContext(ctx, query, args...).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("entstore: highest seq %s: %w", id, err)
	}
	return seq, nil
}
