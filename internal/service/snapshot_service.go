package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"context-sync-server/internal/domain"
	"context-sync-server/internal/repository"
	"context-sync-server/internal/telemetry"
)

// SnapshotService keeps recovery points for states. The working set
// lives in memory bounded by maxSnapshots; every snapshot is also written
// through to persistence so recovery survives a restart.
type SnapshotService struct {
	mu           sync.RWMutex
	snapshots    []domain.ContextSnapshot
	persistence  repository.Persistence
	maxSnapshots int
	logger       *zap.Logger
}

func NewSnapshotService(persistence repository.Persistence, maxSnapshots int, logger *zap.Logger) *SnapshotService {
	if maxSnapshots <= 0 {
		maxSnapshots = 10
	}
	return &SnapshotService{
		persistence:  persistence,
		maxSnapshots: maxSnapshots,
		logger:       logger,
	}
}

// CreateSnapshot captures the state and enforces the retention cap,
// evicting the oldest snapshot by timestamp when over it.
func (s *SnapshotService) CreateSnapshot(ctx context.Context, state domain.ContextState) (domain.ContextSnapshot, error) {
	snapshot := state.Snapshot()

	if err := s.persistence.SaveSnapshot(ctx, &snapshot); err != nil {
		return domain.ContextSnapshot{}, fmt.Errorf("persist snapshot for %s: %w", state.ID, err)
	}

	var evicted []string
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snapshot)
	for len(s.snapshots) > s.maxSnapshots {
		oldest := 0
		for i, snap := range s.snapshots {
			if snap.Timestamp.Before(s.snapshots[oldest].Timestamp) {
				oldest = i
			}
		}
		evicted = append(evicted, s.snapshots[oldest].ID)
		s.snapshots = append(s.snapshots[:oldest], s.snapshots[oldest+1:]...)
	}
	s.mu.Unlock()

	for _, id := range evicted {
		telemetry.SnapshotsEvicted.Inc()
		if err := s.persistence.DeleteSnapshot(ctx, id); err != nil && !errors.Is(err, domain.ErrSnapshotNotFound) {
			s.logger.Warn("failed to delete evicted snapshot",
				zap.String("snapshot_id", id),
				zap.Error(err),
			)
		}
	}

	telemetry.SnapshotOps.WithLabelValues("create").Inc()
	s.logger.Debug("created snapshot",
		zap.String("snapshot_id", snapshot.ID),
		zap.String("state_id", snapshot.StateID),
		zap.Uint64("version", snapshot.Version),
	)
	return snapshot, nil
}

// RestoreSnapshot rebuilds the state captured by the given snapshot id.
// Malformed ids fail the same way as unknown ones.
func (s *SnapshotService) RestoreSnapshot(ctx context.Context, id string) (domain.ContextState, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ContextState{}, fmt.Errorf("%w: malformed snapshot id %q", domain.ErrSnapshotNotFound, id)
	}

	s.mu.RLock()
	for _, snap := range s.snapshots {
		if snap.ID == id {
			s.mu.RUnlock()
			telemetry.SnapshotOps.WithLabelValues("restore").Inc()
			return snap.State(), nil
		}
	}
	s.mu.RUnlock()

	snapshot, err := s.persistence.GetSnapshot(ctx, id)
	if err != nil {
		return domain.ContextState{}, err
	}
	telemetry.SnapshotOps.WithLabelValues("restore").Inc()
	return snapshot.State(), nil
}

// DeleteSnapshot removes the snapshot from the working set and durable
// storage, reporting whether anything was removed.
func (s *SnapshotService) DeleteSnapshot(ctx context.Context, id string) bool {
	removed := false

	s.mu.Lock()
	for i, snap := range s.snapshots {
		if snap.ID == id {
			s.snapshots = append(s.snapshots[:i], s.snapshots[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()

	err := s.persistence.DeleteSnapshot(ctx, id)
	switch {
	case err == nil:
		removed = true
	case !errors.Is(err, domain.ErrSnapshotNotFound):
		s.logger.Warn("failed to delete persisted snapshot",
			zap.String("snapshot_id", id),
			zap.Error(err),
		)
	}
	if removed {
		telemetry.SnapshotOps.WithLabelValues("delete").Inc()
	}
	return removed
}

// SnapshotsForState merges the working set with durable storage, so
// recovery sees snapshots taken before a restart.
func (s *SnapshotService) SnapshotsForState(ctx context.Context, stateID string) []domain.ContextSnapshot {
	seen := make(map[string]bool)
	var snapshots []domain.ContextSnapshot

	s.mu.RLock()
	for _, snap := range s.snapshots {
		if snap.StateID == stateID {
			snapshots = append(snapshots, snap)
			seen[snap.ID] = true
		}
	}
	s.mu.RUnlock()

	persisted, err := s.persistence.ListSnapshots(ctx, stateID)
	if err != nil {
		s.logger.Warn("failed to list persisted snapshots",
			zap.String("state_id", stateID),
			zap.Error(err),
		)
		return snapshots
	}
	for _, snap := range persisted {
		if !seen[snap.ID] {
			snapshots = append(snapshots, snap)
		}
	}
	return snapshots
}

// RecoverWithStrategy selects and rebuilds a recovery point for the
// state. No snapshots, or a strategy that matches none, both surface as
// ErrNoRecoveryPoints.
func (s *SnapshotService) RecoverWithStrategy(ctx context.Context, stateID string, strategy RecoveryStrategy) (domain.ContextState, error) {
	snapshots := s.SnapshotsForState(ctx, stateID)
	if len(snapshots) == 0 {
		return domain.ContextState{}, fmt.Errorf("%w: state %s has no snapshots", domain.ErrNoRecoveryPoints, stateID)
	}

	selected := strategy.Select(snapshots)
	if selected == nil {
		return domain.ContextState{}, fmt.Errorf("%w: no snapshot of %s matches the strategy", domain.ErrNoRecoveryPoints, stateID)
	}

	s.logger.Info("recovering state from snapshot",
		zap.String("state_id", stateID),
		zap.String("snapshot_id", selected.ID),
		zap.Uint64("version", selected.Version),
	)
	return selected.State(), nil
}

// RecoverLatest is the default recovery path.
func (s *SnapshotService) RecoverLatest(ctx context.Context, stateID string) (domain.ContextState, error) {
	return s.RecoverWithStrategy(ctx, stateID, LatestVersion())
}

func (s *SnapshotService) Snapshots() []domain.ContextSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ContextSnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}
