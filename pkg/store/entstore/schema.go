package entstore

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table and column names.
const (
	journalTableName  = "event_journal"
	snapshotTableName = "snapshot_store"
	stateTableName    = "durable_state"

	colPersistenceID = "persistence_id"
	colSequenceNr    = "sequence_nr"
	colVersion       = "version"
	colEventType     = "event_type"
	colStateType     = "state_type"
	colPayload       = "payload"
	colWriterID      = "writer_id"
	colMetadata      = "metadata"
	colCreatedAt     = "created_at"
)

var (
	// JournalColumns holds the columns for the event journal.
	// Timestamps are unix nanoseconds so both backends round-trip them exactly.
	JournalColumns = []*schema.Column{
		{Name: colPersistenceID, Type: field.TypeString, Size: 512},
		{Name: colSequenceNr, Type: field.TypeInt64},
		{Name: colEventType, Type: field.TypeString},
		{Name: colPayload, Type: field.TypeBytes},
		{Name: colWriterID, Type: field.TypeString},
		{Name: colMetadata, Type: field.TypeBytes, Nullable: true},
		{Name: colCreatedAt, Type: field.TypeInt64},
	}
	// JournalTable is one row per event, keyed by (persistence_id, sequence_nr).
	JournalTable = &schema.Table{
		Name:       journalTableName,
		Columns:    JournalColumns,
		PrimaryKey: []*schema.Column{JournalColumns[0], JournalColumns[1]},
	}

	// SnapshotColumns holds the columns for the snapshot store.
	SnapshotColumns = []*schema.Column{
		{Name: colPersistenceID, Type: field.TypeString, Size: 512},
		{Name: colSequenceNr, Type: field.TypeInt64},
		{Name: colStateType, Type: field.TypeString},
		{Name: colPayload, Type: field.TypeBytes},
		{Name: colWriterID, Type: field.TypeString},
		{Name: colCreatedAt, Type: field.TypeInt64},
	}
	// SnapshotTable keeps every saved snapshot; latest is the highest sequence_nr.
	SnapshotTable = &schema.Table{
		Name:       snapshotTableName,
		Columns:    SnapshotColumns,
		PrimaryKey: []*schema.Column{SnapshotColumns[0], SnapshotColumns[1]},
	}

	// StateColumns holds the columns for durable state.
	StateColumns = []*schema.Column{
		{Name: colPersistenceID, Type: field.TypeString, Size: 512},
		{Name: colVersion, Type: field.TypeInt64},
		{Name: colStateType, Type: field.TypeString},
		{Name: colPayload, Type: field.TypeBytes},
		{Name: colWriterID, Type: field.TypeString},
		{Name: colCreatedAt, Type: field.TypeInt64},
	}
	// StateTable holds a single row per persistence id.
	StateTable = &schema.Table{
		Name:       stateTableName,
		Columns:    StateColumns,
		PrimaryKey: []*schema.Column{StateColumns[0]},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		JournalTable,
		SnapshotTable,
		StateTable,
	}
)
