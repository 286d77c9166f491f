package eventsourced

import (
	"errors"
	"fmt"

	"github.com/wilhg/persist/pkg/persistence"
)

var (
	ErrStopped       = persistence.ErrStopped
	ErrInvalidEffect = persistence.ErrInvalidEffect
)

// RecoveryError wraps any failure while rebuilding an instance.
type RecoveryError struct {
	PersistenceID persistence.ID
	Err           error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recover %s: %v", e.PersistenceID, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

// PostPersistError reports a snapshot or retention failure after the events
// of the batch were stored. Handle returns it together with the advanced
// instance; retrying the command would record its events twice.
type PostPersistError struct {
	PersistenceID persistence.ID
	SequenceNr    int64
	Op            string // "snapshot" or "retention"
	Err           error
}

func (e *PostPersistError) Error() string {
	return fmt.Sprintf("%s %s at sequence nr %d: %v", e.Op, e.PersistenceID, e.SequenceNr, e.Err)
}

func (e *PostPersistError) Unwrap() error { return e.Err }

// NonRetryable returns true from IsNonRetryable checks.
func (e *PostPersistError) NonRetryable() bool { return true }

// IsNonRetryable returns true when the error (or any error in its chain)
// signals that the command must not be redelivered.
func IsNonRetryable(err error) bool {
	var target interface{ NonRetryable() bool }
	if errors.As(err, &target) {
		return target.NonRetryable()
	}
	return false
}
