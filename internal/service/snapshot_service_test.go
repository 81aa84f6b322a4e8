package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"context-sync-server/internal/domain"
	"context-sync-server/internal/repository"
)

func newTestSnapshots(max int) (*SnapshotService, *repository.MemoryPersistence) {
	persistence := repository.NewMemoryPersistence()
	return NewSnapshotService(persistence, max, zap.NewNop()), persistence
}

func TestCreateAndRestoreSnapshot(t *testing.T) {
	svc, _ := newTestSnapshots(10)
	ctx := context.Background()

	state := domain.NewContextState("s1", json.RawMessage(`{"v":1}`), nil)
	state.Apply(json.RawMessage(`{"v":2}`), nil)

	snapshot, err := svc.CreateSnapshot(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, "s1", snapshot.StateID)
	assert.Equal(t, uint64(2), snapshot.Version)

	restored, err := svc.RestoreSnapshot(ctx, snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, "s1", restored.ID)
	assert.Equal(t, uint64(2), restored.Version)
	assert.JSONEq(t, `{"v":2}`, string(restored.Data))
	assert.False(t, restored.Synchronized)
}

func TestSnapshotIsIsolatedFromLaterMutations(t *testing.T) {
	svc, _ := newTestSnapshots(10)
	ctx := context.Background()

	state := domain.NewContextState("s1", json.RawMessage(`{"v":1}`), nil)
	snapshot, err := svc.CreateSnapshot(ctx, state)
	require.NoError(t, err)

	state.Apply(json.RawMessage(`{"v":"mutated"}`), nil)

	restored, err := svc.RestoreSnapshot(ctx, snapshot.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(restored.Data))
}

func TestRestoreUnknownOrMalformedID(t *testing.T) {
	svc, _ := newTestSnapshots(10)
	ctx := context.Background()

	_, err := svc.RestoreSnapshot(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)

	_, err = svc.RestoreSnapshot(ctx, "b2f7a6e0-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

func TestRetentionEvictsOldest(t *testing.T) {
	svc, persistence := newTestSnapshots(3)
	ctx := context.Background()

	state := domain.NewContextState("s1", json.RawMessage(`{}`), nil)

	var first domain.ContextSnapshot
	for i := 0; i < 4; i++ {
		snap, err := svc.CreateSnapshot(ctx, state)
		require.NoError(t, err)
		if i == 0 {
			first = snap
		}
		state.Apply(json.RawMessage(`{}`), nil)
		time.Sleep(2 * time.Millisecond)
	}

	assert.Len(t, svc.Snapshots(), 3)

	// The oldest snapshot is gone from memory and durable storage both.
	for _, snap := range svc.Snapshots() {
		assert.NotEqual(t, first.ID, snap.ID)
	}
	_, err := persistence.GetSnapshot(ctx, first.ID)
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

func TestDeleteSnapshot(t *testing.T) {
	svc, _ := newTestSnapshots(10)
	ctx := context.Background()

	state := domain.NewContextState("s1", json.RawMessage(`{}`), nil)
	snapshot, err := svc.CreateSnapshot(ctx, state)
	require.NoError(t, err)

	assert.True(t, svc.DeleteSnapshot(ctx, snapshot.ID))
	assert.False(t, svc.DeleteSnapshot(ctx, snapshot.ID))

	_, err = svc.RestoreSnapshot(ctx, snapshot.ID)
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

func TestRecoverLatest(t *testing.T) {
	svc, _ := newTestSnapshots(10)
	ctx := context.Background()

	state := domain.NewContextState("s1", json.RawMessage(`{"v":1}`), nil)
	_, err := svc.CreateSnapshot(ctx, state)
	require.NoError(t, err)

	state.Apply(json.RawMessage(`{"v":2}`), nil)
	_, err = svc.CreateSnapshot(ctx, state)
	require.NoError(t, err)

	recovered, err := svc.RecoverLatest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), recovered.Version)
	assert.JSONEq(t, `{"v":2}`, string(recovered.Data))
}

func TestRecoverNoSnapshots(t *testing.T) {
	svc, _ := newTestSnapshots(10)

	_, err := svc.RecoverLatest(context.Background(), "never-snapshotted")
	assert.ErrorIs(t, err, domain.ErrNoRecoveryPoints)
}

func TestRecoverSpecificVersionMiss(t *testing.T) {
	svc, _ := newTestSnapshots(10)
	ctx := context.Background()

	state := domain.NewContextState("s1", json.RawMessage(`{}`), nil)
	_, err := svc.CreateSnapshot(ctx, state)
	require.NoError(t, err)

	_, err = svc.RecoverWithStrategy(ctx, "s1", SpecificVersion(42))
	assert.ErrorIs(t, err, domain.ErrNoRecoveryPoints)

	recovered, err := svc.RecoverWithStrategy(ctx, "s1", SpecificVersion(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), recovered.Version)
}

func TestRecoverSeesPersistedSnapshotsAfterRestart(t *testing.T) {
	persistence := repository.NewMemoryPersistence()
	ctx := context.Background()

	first := NewSnapshotService(persistence, 10, zap.NewNop())
	state := domain.NewContextState("s1", json.RawMessage(`{"v":1}`), nil)
	_, err := first.CreateSnapshot(ctx, state)
	require.NoError(t, err)

	// A fresh service over the same storage still finds the snapshot.
	second := NewSnapshotService(persistence, 10, zap.NewNop())
	recovered, err := second.RecoverLatest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), recovered.Version)
}
