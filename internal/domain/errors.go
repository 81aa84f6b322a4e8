package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("context not found")
	ErrSnapshotNotFound     = errors.New("snapshot not found")
	ErrNoRecoveryPoints     = errors.New("no recovery points available")
	ErrInvalidState         = errors.New("invalid state")
	ErrSyncInProgress       = errors.New("sync already in progress")
	ErrNotInitialized       = errors.New("sync engine not initialized")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// ValidationError reports a context payload that failed a registered
// validation policy or request validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// SyncError wraps failures of sync operations (peer broadcast, message
// submission) with the operation that produced them.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
