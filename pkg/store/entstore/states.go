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

// StateStore is a store.DurableStateStore over the durable_state table.
type StateStore[S any] struct {
	s     *Store
	codec store.Codec[S]
}

var _ store.DurableStateStore[int] = (*StateStore[int])(nil)

// States returns a durable-state view of s that serializes states with codec.
func States[S any](s *Store, codec store.Codec[S]) *StateStore[S] {
	return &StateStore[S]{s: s, codec: codec}
}

func (st *StateStore[S]) Get(ctx context.Context, id persistence.ID) (store.DurableStateEnvelope[S], bool, error) {
	query, args := st.s.builder().
		Select(colVersion, colStateType, colPayload, colWriterID, colCreatedAt).
		From(entsql.Table(stateTableName)).
		Where(entsql.EQ(colPersistenceID, id.String())).
		Query()
	var (
		version, createdAt int64
		stateType, writer  string
		payload            []byte
	)
	err := st.s.db.QueryRowContext(ctx, query, args...).Scan(&version, &stateType, &payload, &writer, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DurableStateEnvelope[S]{}, false, nil
	}
	if err != nil {
		return store.DurableStateEnvelope[S]{}, false, fmt.Errorf("entstore: get state %s: %w", id, err)
	}
	state, err := st.codec.Decode(stateType, payload)
	if err != nil {
		return store.DurableStateEnvelope[S]{}, false, fmt.Errorf("entstore: state %s v%d: %w", id, version, err)
	}
	return store.DurableStateEnvelope[S]{
		PersistenceID: id,
		Version:       version,
		State:         state,
		StateType:     stateType,
		Timestamp:     time.Unix(0, createdAt).UTC(),
		WriterID:      writer,
	}, true, nil
}

// Upsert replaces the row for id with state.
func (st *StateStore[S]) Upsert(ctx context.Context, id persistence.ID, state store.DurableStateEnvelope[S]) error {
	tag, payload, err := st.codec.Encode(state.State)
	if err != nil {
		return fmt.Errorf("entstore: state %s v%d: %w", id, state.Version, err)
	}
	query, args := st.s.builder().Insert(stateTableName).
		Columns(colPersistenceID, colVersion, colStateType, colPayload, colWriterID, colCreatedAt).
		Values(id.String(), state.Version, tag, payload, state.WriterID, state.Timestamp.UnixNano()).
		OnConflict(
			entsql.ConflictColumns(colPersistenceID),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if _, err := st.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("entstore: upsert state %s: %w", id, err)
	}
	return nil
}

func (st *StateStore[S]) Delete(ctx context.Context, id persistence.ID) error {
	query, args := st.s.builder().Delete(stateTableName).
		Where(entsql.EQ(colPersistenceID, id.String())).
		Query()
	if _, err := st.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("entstore: delete state %s: %w", id, err)
	}
	return nil
}
