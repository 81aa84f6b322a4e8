package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"context-sync-server/internal/domain"
)

func snapshotAt(id string, version uint64, ts time.Time) domain.ContextSnapshot {
	return domain.ContextSnapshot{
		ID:        id,
		StateID:   "s1",
		Version:   version,
		Timestamp: ts,
		Data:      []byte(`{}`),
	}
}

func TestLatestVersionStrategy(t *testing.T) {
	now := time.Now()
	snapshots := []domain.ContextSnapshot{
		snapshotAt("a", 2, now.Add(-2*time.Hour)),
		snapshotAt("b", 5, now.Add(-time.Hour)),
		snapshotAt("c", 5, now),
		snapshotAt("d", 3, now.Add(-time.Minute)),
	}

	selected := LatestVersion().Select(snapshots)
	require.NotNil(t, selected)
	// Highest version, ties broken by the later timestamp.
	assert.Equal(t, "c", selected.ID)
}

func TestSpecificVersionStrategy(t *testing.T) {
	now := time.Now()
	snapshots := []domain.ContextSnapshot{
		snapshotAt("a", 2, now),
		snapshotAt("b", 5, now),
	}

	selected := SpecificVersion(2).Select(snapshots)
	require.NotNil(t, selected)
	assert.Equal(t, "a", selected.ID)

	assert.Nil(t, SpecificVersion(4).Select(snapshots))
}

func TestTimeBoundStrategy(t *testing.T) {
	now := time.Now()
	snapshots := []domain.ContextSnapshot{
		snapshotAt("a", 1, now.Add(-3*time.Hour)),
		snapshotAt("b", 2, now.Add(-2*time.Hour)),
		snapshotAt("c", 3, now),
	}

	selected := TimeBound(now.Add(-time.Hour)).Select(snapshots)
	require.NotNil(t, selected)
	assert.Equal(t, "b", selected.ID)

	assert.Nil(t, TimeBound(now.Add(-4*time.Hour)).Select(snapshots))
}

func TestCustomStrategy(t *testing.T) {
	snapshots := []domain.ContextSnapshot{
		snapshotAt("a", 1, time.Now()),
		snapshotAt("b", 2, time.Now()),
	}

	pickFirst := CustomStrategy(func(candidates []domain.ContextSnapshot) *domain.ContextSnapshot {
		return &candidates[0]
	})
	selected := pickFirst.Select(snapshots)
	require.NotNil(t, selected)
	assert.Equal(t, "a", selected.ID)

	refuse := CustomStrategy(func([]domain.ContextSnapshot) *domain.ContextSnapshot {
		return nil
	})
	assert.Nil(t, refuse.Select(snapshots))

	assert.Nil(t, CustomStrategy(nil).Select(snapshots))
}

func TestStrategiesOnEmptyInput(t *testing.T) {
	assert.Nil(t, LatestVersion().Select(nil))
	assert.Nil(t, SpecificVersion(1).Select(nil))
	assert.Nil(t, TimeBound(time.Now()).Select(nil))
}
