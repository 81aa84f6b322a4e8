package websocket

import (
	"encoding/json"
	"fmt"

	"context-sync-server/internal/domain"
)

// Encode serializes a sync message for the wire.
func Encode(msg domain.SyncMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode sync message: %w", err)
	}
	return data, nil
}

// Decode parses a wire frame into a sync message. Frames without an id,
// source or op are rejected before they reach the coordinator.
func Decode(data []byte) (domain.SyncMessage, error) {
	var msg domain.SyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.SyncMessage{}, fmt.Errorf("decode sync message: %w", err)
	}
	if msg.ID == "" || msg.Source == "" || msg.Op == "" {
		return domain.SyncMessage{}, fmt.Errorf("sync message missing id, source or op")
	}
	return msg, nil
}
