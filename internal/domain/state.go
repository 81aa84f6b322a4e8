package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ContextState is the store-level view of a context: its payload plus a
// version that increases by exactly one on every local mutation.
type ContextState struct {
	ID           string            `json:"id"`
	Version      uint64            `json:"version"`
	Timestamp    time.Time         `json:"timestamp"`
	Data         json.RawMessage   `json:"data"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Synchronized bool              `json:"synchronized"`
}

func NewContextState(id string, data json.RawMessage, metadata map[string]string) ContextState {
	return ContextState{
		ID:        id,
		Version:   1,
		Timestamp: time.Now(),
		Data:      data,
		Metadata:  metadata,
	}
}

// Apply replaces the payload and bumps the version. The state becomes
// unsynchronized until the change reaches peers.
func (s *ContextState) Apply(data json.RawMessage, metadata map[string]string) {
	s.Data = data
	if metadata != nil {
		s.Metadata = metadata
	}
	s.Version++
	s.Timestamp = time.Now()
	s.Synchronized = false
}

func (s *ContextState) MarkSynchronized() {
	s.Synchronized = true
}

// Snapshot captures the state at its current version.
func (s ContextState) Snapshot() ContextSnapshot {
	data := make(json.RawMessage, len(s.Data))
	copy(data, s.Data)
	return ContextSnapshot{
		ID:        uuid.New().String(),
		StateID:   s.ID,
		Version:   s.Version,
		Timestamp: time.Now(),
		Data:      data,
	}
}
