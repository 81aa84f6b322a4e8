package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"context-sync-server/internal/domain"
)

func newTestBolt(t *testing.T) *BoltPersistence {
	t.Helper()

	p, err := NewBoltPersistence(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestBoltStateRoundTrip(t *testing.T) {
	p := newTestBolt(t)
	ctx := context.Background()

	loaded, err := p.LoadState(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	state := &PersistedState{
		ID:          "engine-1",
		LastVersion: 12,
		LastSync:    time.Now().Truncate(time.Millisecond),
		Contexts: []domain.Context{
			{ID: "ctx-1", Name: "a", Data: json.RawMessage(`{"k":1}`), Version: 1},
		},
		Changes: []domain.StateChange{
			{ID: "ch-1", ContextID: "ctx-1", Operation: domain.OperationCreate, Version: 12},
		},
	}
	require.NoError(t, p.SaveState(ctx, state))

	loaded, err = p.LoadState(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "engine-1", loaded.ID)
	assert.Equal(t, uint64(12), loaded.LastVersion)
	require.Len(t, loaded.Contexts, 1)
	assert.Equal(t, "ctx-1", loaded.Contexts[0].ID)

	// Saving again overwrites in place.
	state.LastVersion = 13
	require.NoError(t, p.SaveState(ctx, state))
	loaded, err = p.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(13), loaded.LastVersion)
}

func TestBoltChangesSortedByVersion(t *testing.T) {
	p := newTestBolt(t)
	ctx := context.Background()

	for _, v := range []uint64{3, 1, 2} {
		change := &domain.StateChange{
			ID:        string(rune('a' + v)),
			ContextID: "ctx-1",
			Operation: domain.OperationUpdate,
			Version:   v,
			Timestamp: time.Now(),
		}
		require.NoError(t, p.SaveChange(ctx, change))
	}

	changes, err := p.LoadChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, uint64(1), changes[0].Version)
	assert.Equal(t, uint64(2), changes[1].Version)
	assert.Equal(t, uint64(3), changes[2].Version)
}

func TestBoltSnapshots(t *testing.T) {
	p := newTestBolt(t)
	ctx := context.Background()

	snap1 := &domain.ContextSnapshot{
		ID:        "snap-1",
		StateID:   "ctx-1",
		Version:   1,
		Timestamp: time.Now().Add(-time.Hour),
		Data:      json.RawMessage(`{"v":1}`),
	}
	snap2 := &domain.ContextSnapshot{
		ID:        "snap-2",
		StateID:   "ctx-1",
		Version:   2,
		Timestamp: time.Now(),
		Data:      json.RawMessage(`{"v":2}`),
	}
	other := &domain.ContextSnapshot{
		ID:        "snap-3",
		StateID:   "ctx-2",
		Version:   1,
		Timestamp: time.Now(),
		Data:      json.RawMessage(`{}`),
	}

	require.NoError(t, p.SaveSnapshot(ctx, snap1))
	require.NoError(t, p.SaveSnapshot(ctx, snap2))
	require.NoError(t, p.SaveSnapshot(ctx, other))

	got, err := p.GetSnapshot(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)

	_, err = p.GetSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)

	listed, err := p.ListSnapshots(ctx, "ctx-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	// Oldest first.
	assert.Equal(t, "snap-1", listed[0].ID)

	all, err := p.ListSnapshots(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, p.DeleteSnapshot(ctx, "snap-1"))
	assert.ErrorIs(t, p.DeleteSnapshot(ctx, "snap-1"), domain.ErrSnapshotNotFound)

	listed, err = p.ListSnapshots(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestBoltSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync.db")
	ctx := context.Background()

	first, err := NewBoltPersistence(path)
	require.NoError(t, err)
	require.NoError(t, first.SaveState(ctx, &PersistedState{ID: "engine-1", LastVersion: 5}))
	require.NoError(t, first.Close())

	second, err := NewBoltPersistence(path)
	require.NoError(t, err)
	defer second.Close()

	loaded, err := second.LoadState(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint64(5), loaded.LastVersion)
}
