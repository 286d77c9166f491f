// Package replay detects events from more than one writer in a recovered
// journal and resolves them according to a Filter mode.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wilhg/persist/pkg/errmodel"
	"github.com/wilhg/persist/pkg/persistence"
	"github.com/wilhg/persist/pkg/store"
)

// Mode selects how a writer change during replay is handled.
type Mode int

const (
	// ModeOff passes events through untouched.
	ModeOff Mode = iota
	// ModeFail aborts recovery on the first writer change.
	ModeFail
	// ModeWarn logs every writer change and keeps all events.
	ModeWarn
	// ModeRepairByDiscardOld keeps only events of the last writer seen.
	ModeRepairByDiscardOld
)

var modeNames = map[Mode]string{
	ModeOff:                "off",
	ModeFail:               "fail",
	ModeWarn:               "warn",
	ModeRepairByDiscardOld: "repair-by-discard-old",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts the String form, case-insensitively. Underscores are
// treated as dashes so env values like REPAIR_BY_DISCARD_OLD work.
func ParseMode(s string) (Mode, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	if norm == "" {
		return ModeOff, nil
	}
	for m, name := range modeNames {
		if name == norm {
			return m, nil
		}
	}
	return ModeOff, errmodel.Validation(errmodel.CodeInvalidConfig, "unknown replay filter mode", map[string]any{"mode": s})
}

// Filter is an immutable replay filter configuration. The zero value is Off.
type Filter struct {
	mode   Mode
	logger *slog.Logger
}

func Fail() Filter               { return Filter{mode: ModeFail} }
func Warn() Filter               { return Filter{mode: ModeWarn} }
func RepairByDiscardOld() Filter { return Filter{mode: ModeRepairByDiscardOld} }
func Off() Filter                { return Filter{} }

// New returns a filter for m.
func New(m Mode) Filter { return Filter{mode: m} }

// WithLogger returns a copy that logs writer changes to l.
func (f Filter) WithLogger(l *slog.Logger) Filter {
	f.logger = l
	return f
}

func (f Filter) Mode() Mode { return f.mode }

func (f Filter) log() *slog.Logger {
	if f.logger != nil {
		return f.logger
	}
	return slog.Default()
}

// ErrWriterConflict matches any *WriterConflictError with errors.Is.
var ErrWriterConflict = errmodel.Sentinel(errmodel.CategoryConflict, errmodel.CodeWriterConflict)

// WriterConflictError reports the first writer change seen in Fail mode.
type WriterConflictError struct {
	PersistenceID  persistence.ID
	ExpectedWriter string
	ActualWriter   string
	SequenceNr     int64
}

func (e *WriterConflictError) Error() string {
	return fmt.Sprintf("replay %s: writer changed from %q to %q at sequence nr %d",
		e.PersistenceID, e.ExpectedWriter, e.ActualWriter, e.SequenceNr)
}

// Compact converts the error for errmodel.From.
func (e *WriterConflictError) Compact() *errmodel.Error {
	return errmodel.Conflict(errmodel.CodeWriterConflict, "writer changed during replay", map[string]any{
		"persistence_id":  e.PersistenceID.String(),
		"expected_writer": e.ExpectedWriter,
		"actual_writer":   e.ActualWriter,
		"sequence_nr":     e.SequenceNr,
	})
}

func (e *WriterConflictError) Is(target error) bool { return ErrWriterConflict.Is(target) }

// Apply runs f over events, which must be ascending by sequence number.
// Off returns the input slice itself; other modes never modify it.
func Apply[E any](ctx context.Context, f Filter, id persistence.ID, events []store.EventEnvelope[E]) ([]store.EventEnvelope[E], error) {
	if f.mode == ModeOff || len(events) < 2 {
		return events, nil
	}
	current := events[0].WriterID
	for _, e := range events[1:] {
		if e.WriterID == current {
			continue
		}
		switch f.mode {
		case ModeFail:
			return nil, &WriterConflictError{
				PersistenceID:  id,
				ExpectedWriter: current,
				ActualWriter:   e.WriterID,
				SequenceNr:     e.SequenceNr,
			}
		case ModeWarn:
			f.log().WarnContext(ctx, "writer changed during replay",
				slog.String("persistence_id", id.String()),
				slog.String("expected_writer", current),
				slog.String("actual_writer", e.WriterID),
				slog.Int64("sequence_nr", e.SequenceNr),
			)
		}
		current = e.WriterID
	}
	if f.mode != ModeRepairByDiscardOld {
		return events, nil
	}
	kept := make([]store.EventEnvelope[E], 0, len(events))
	for _, e := range events {
		if e.WriterID == current {
			kept = append(kept, e)
		}
	}
	return kept, nil
}
