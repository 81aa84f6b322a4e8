package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type StateOperation string

const (
	OperationCreate   StateOperation = "create"
	OperationUpdate   StateOperation = "update"
	OperationDelete   StateOperation = "delete"
	OperationConflict StateOperation = "conflict"
)

// StateChange is one entry in the global change log. Version is the
// log-wide monotonic sequence number, not the per-state version.
type StateChange struct {
	ID        string          `json:"id"`
	ContextID string          `json:"context_id"`
	Operation StateOperation  `json:"operation"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Version   uint64          `json:"version"`
}

type SyncOperation string

const (
	OpStateUpdate    SyncOperation = "state_update"
	OpSnapshotCreate SyncOperation = "snapshot_create"
	OpSnapshotDelete SyncOperation = "snapshot_delete"
	OpConflict       SyncOperation = "conflict"
)

// SyncMessage is the envelope exchanged between nodes. Exactly one of the
// payload fields is set, selected by Op.
type SyncMessage struct {
	ID         string           `json:"id"`
	Timestamp  time.Time        `json:"timestamp"`
	Source     string           `json:"source"`
	Op         SyncOperation    `json:"op"`
	State      *ContextState    `json:"state,omitempty"`
	Snapshot   *ContextSnapshot `json:"snapshot,omitempty"`
	SnapshotID string           `json:"snapshot_id,omitempty"`
	Conflict   *ConflictInfo    `json:"conflict,omitempty"`
}

func newSyncMessage(source string, op SyncOperation) SyncMessage {
	return SyncMessage{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Source:    source,
		Op:        op,
	}
}

func NewStateUpdate(source string, state ContextState) SyncMessage {
	msg := newSyncMessage(source, OpStateUpdate)
	msg.State = &state
	return msg
}

func NewSnapshotCreate(source string, snapshot ContextSnapshot) SyncMessage {
	msg := newSyncMessage(source, OpSnapshotCreate)
	msg.Snapshot = &snapshot
	return msg
}

func NewSnapshotDelete(source, snapshotID string) SyncMessage {
	msg := newSyncMessage(source, OpSnapshotDelete)
	msg.SnapshotID = snapshotID
	return msg
}

func NewConflict(source string, conflict ConflictInfo) SyncMessage {
	msg := newSyncMessage(source, OpConflict)
	msg.Conflict = &conflict
	return msg
}
