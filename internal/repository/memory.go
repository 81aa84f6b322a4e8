package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"context-sync-server/internal/domain"
)

// MemoryPersistence keeps everything in process memory. It backs the
// "memory" storage mode and the service tests.
type MemoryPersistence struct {
	mu        sync.RWMutex
	state     *PersistedState
	changes   map[string]domain.StateChange
	snapshots map[string]domain.ContextSnapshot
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		changes:   make(map[string]domain.StateChange),
		snapshots: make(map[string]domain.ContextSnapshot),
	}
}

func (p *MemoryPersistence) LoadState(_ context.Context) (*PersistedState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state == nil {
		return nil, nil
	}
	cp := *p.state
	return &cp, nil
}

func (p *MemoryPersistence) SaveState(_ context.Context, state *PersistedState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := *state
	p.state = &cp
	return nil
}

func (p *MemoryPersistence) SaveChange(_ context.Context, change *domain.StateChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.changes[change.ID] = *change
	return nil
}

func (p *MemoryPersistence) LoadChanges(_ context.Context) ([]domain.StateChange, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	changes := make([]domain.StateChange, 0, len(p.changes))
	for _, change := range p.changes {
		changes = append(changes, change)
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Version < changes[j].Version
	})
	return changes, nil
}

func (p *MemoryPersistence) SaveSnapshot(_ context.Context, snapshot *domain.ContextSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snapshots[snapshot.ID] = *snapshot
	return nil
}

func (p *MemoryPersistence) GetSnapshot(_ context.Context, id string) (*domain.ContextSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snapshot, ok := p.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, id)
	}
	return &snapshot, nil
}

func (p *MemoryPersistence) DeleteSnapshot(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.snapshots[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, id)
	}
	delete(p.snapshots, id)
	return nil
}

func (p *MemoryPersistence) ListSnapshots(_ context.Context, stateID string) ([]domain.ContextSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var snapshots []domain.ContextSnapshot
	for _, snapshot := range p.snapshots {
		if stateID == "" || snapshot.StateID == stateID {
			snapshots = append(snapshots, snapshot)
		}
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.Before(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

func (p *MemoryPersistence) Close() error {
	return nil
}
