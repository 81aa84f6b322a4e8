package repository

import (
	"context"
	"time"

	"context-sync-server/internal/domain"
)

// PersistedState is the durable engine snapshot written on every sync
// pass and loaded on startup.
type PersistedState struct {
	ID          string               `json:"id"`
	Contexts    []domain.Context     `json:"contexts"`
	Changes     []domain.StateChange `json:"changes"`
	LastVersion uint64               `json:"last_version"`
	LastSync    time.Time            `json:"last_sync"`
}

// Persistence is the storage contract the sync engine runs against.
// LoadState returns (nil, nil) when no state was ever saved. Snapshot
// lookups report absence with domain.ErrSnapshotNotFound.
type Persistence interface {
	LoadState(ctx context.Context) (*PersistedState, error)
	SaveState(ctx context.Context, state *PersistedState) error

	SaveChange(ctx context.Context, change *domain.StateChange) error
	LoadChanges(ctx context.Context) ([]domain.StateChange, error)

	SaveSnapshot(ctx context.Context, snapshot *domain.ContextSnapshot) error
	GetSnapshot(ctx context.Context, id string) (*domain.ContextSnapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
	ListSnapshots(ctx context.Context, stateID string) ([]domain.ContextSnapshot, error)

	Close() error
}
