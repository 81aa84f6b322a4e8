package domain

import (
	"encoding/json"
	"time"
)

// ContextSnapshot is an immutable recovery point for a single state.
type ContextSnapshot struct {
	ID        string          `json:"id"`
	StateID   string          `json:"state_id"`
	Version   uint64          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// State rebuilds a ContextState from the snapshot. The result is marked
// unsynchronized so the restore propagates like any other mutation.
func (s ContextSnapshot) State() ContextState {
	data := make(json.RawMessage, len(s.Data))
	copy(data, s.Data)
	return ContextState{
		ID:        s.StateID,
		Version:   s.Version,
		Timestamp: s.Timestamp,
		Data:      data,
	}
}
