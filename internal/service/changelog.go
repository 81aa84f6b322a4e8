package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"context-sync-server/internal/domain"
)

// ChangeLog is the node-wide ordered log of state changes. Its version
// counter is global and strictly increasing; every recorded or applied
// change is pushed to the broadcaster.
type ChangeLog struct {
	mu          sync.RWMutex
	changes     map[string]domain.StateChange
	version     uint64
	broadcaster *Broadcaster
}

func NewChangeLog(broadcaster *Broadcaster) *ChangeLog {
	return &ChangeLog{
		changes:     make(map[string]domain.StateChange),
		broadcaster: broadcaster,
	}
}

// Record appends a locally originated change for the given context.
func (l *ChangeLog) Record(c *domain.Context, op domain.StateOperation, source string) (domain.StateChange, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return domain.StateChange{}, fmt.Errorf("encode context %s: %w", c.ID, err)
	}
	return l.record(c.ID, op, source, data), nil
}

// RecordPayload appends a change whose payload is not a context record,
// such as a conflict notification.
func (l *ChangeLog) RecordPayload(contextID string, op domain.StateOperation, source string, payload interface{}) (domain.StateChange, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.StateChange{}, fmt.Errorf("encode %s payload: %w", op, err)
	}
	return l.record(contextID, op, source, data), nil
}

func (l *ChangeLog) record(contextID string, op domain.StateOperation, source string, data json.RawMessage) domain.StateChange {
	l.mu.Lock()
	l.version++
	change := domain.StateChange{
		ID:        uuid.New().String(),
		ContextID: contextID,
		Operation: op,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
		Version:   l.version,
	}
	l.changes[change.ID] = change
	l.mu.Unlock()

	l.broadcaster.Broadcast(change)
	return change
}

// Apply installs a change produced elsewhere. Changes at or below the
// current version are ignored; applying is idempotent.
func (l *ChangeLog) Apply(change domain.StateChange) error {
	if change.ID == "" || change.Version == 0 {
		return fmt.Errorf("%w: change missing id or version", domain.ErrInvalidState)
	}

	l.mu.Lock()
	if change.Version <= l.version {
		l.mu.Unlock()
		return nil
	}
	l.changes[change.ID] = change
	l.version = change.Version
	l.mu.Unlock()

	l.broadcaster.Broadcast(change)
	return nil
}

// ChangesSince returns all changes with version strictly greater than
// the given one, in version order.
func (l *ChangeLog) ChangesSince(version uint64) []domain.StateChange {
	l.mu.RLock()
	changes := make([]domain.StateChange, 0, len(l.changes))
	for _, change := range l.changes {
		if change.Version > version {
			changes = append(changes, change)
		}
	}
	l.mu.RUnlock()

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Version < changes[j].Version
	})
	return changes
}

// CleanupBefore drops changes older than the cutoff and reports how many
// were removed. The version counter is unaffected.
func (l *ChangeLog) CleanupBefore(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, change := range l.changes {
		if change.Timestamp.Before(cutoff) {
			delete(l.changes, id)
			removed++
		}
	}
	return removed
}

func (l *ChangeLog) CurrentVersion() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

func (l *ChangeLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.changes)
}
