package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"context-sync-server/internal/domain"
)

func stateAt(id string, version uint64, ts time.Time) domain.ContextState {
	return domain.ContextState{
		ID:        id,
		Version:   version,
		Timestamp: ts,
		Data:      json.RawMessage(`{}`),
	}
}

func TestResolveKeepLatest(t *testing.T) {
	svc := NewConflictService(zap.NewNop())
	now := time.Now()

	conflict := domain.ConflictInfo{
		StateID: "s1",
		ConflictingVersions: []domain.ContextState{
			stateAt("s1", 3, now.Add(-time.Hour)),
			stateAt("s1", 3, now),
			stateAt("s1", 2, now.Add(-time.Minute)),
		},
		ResolutionStrategy: domain.ResolutionKeepLatest,
	}

	winner, err := svc.Resolve(conflict)
	require.NoError(t, err)
	assert.Equal(t, now, winner.Timestamp)
}

func TestResolveKeepOldest(t *testing.T) {
	svc := NewConflictService(zap.NewNop())
	now := time.Now()

	conflict := domain.ConflictInfo{
		StateID: "s1",
		ConflictingVersions: []domain.ContextState{
			stateAt("s1", 3, now),
			stateAt("s1", 1, now.Add(-time.Hour)),
		},
		ResolutionStrategy: domain.ResolutionKeepOldest,
	}

	winner, err := svc.Resolve(conflict)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), winner.Version)
}

func TestResolveMergeFallsBackToLatest(t *testing.T) {
	svc := NewConflictService(zap.NewNop())
	now := time.Now()

	conflict := domain.ConflictInfo{
		StateID: "s1",
		ConflictingVersions: []domain.ContextState{
			stateAt("s1", 2, now.Add(-time.Minute)),
			stateAt("s1", 3, now),
		},
		ResolutionStrategy: domain.ResolutionMerge,
	}

	winner, err := svc.Resolve(conflict)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), winner.Version)
}

func TestResolveManualIsAnError(t *testing.T) {
	svc := NewConflictService(zap.NewNop())

	conflict := domain.ConflictInfo{
		StateID:             "s1",
		ConflictingVersions: []domain.ContextState{stateAt("s1", 1, time.Now())},
		ResolutionStrategy:  domain.ResolutionManual,
	}

	_, err := svc.Resolve(conflict)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestResolveRejectsEmptyAndUnknown(t *testing.T) {
	svc := NewConflictService(zap.NewNop())

	_, err := svc.Resolve(domain.ConflictInfo{
		StateID:            "s1",
		ResolutionStrategy: domain.ResolutionKeepLatest,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.Resolve(domain.ConflictInfo{
		StateID:             "s1",
		ConflictingVersions: []domain.ContextState{stateAt("s1", 1, time.Now())},
		ResolutionStrategy:  "nonsense",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestResolveIsDeterministic(t *testing.T) {
	svc := NewConflictService(zap.NewNop())
	now := time.Now()

	conflict := domain.ConflictInfo{
		StateID: "s1",
		ConflictingVersions: []domain.ContextState{
			stateAt("s1", 4, now.Add(-time.Second)),
			stateAt("s1", 5, now),
		},
		ResolutionStrategy: domain.ResolutionKeepLatest,
	}

	first, err := svc.Resolve(conflict)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := svc.Resolve(conflict)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolveStatesShortcut(t *testing.T) {
	svc := NewConflictService(zap.NewNop())
	now := time.Now()

	higher := stateAt("s1", 5, now.Add(-time.Hour))
	lower := stateAt("s1", 3, now)
	assert.Equal(t, higher, svc.ResolveStates(higher, lower))
	assert.Equal(t, higher, svc.ResolveStates(lower, higher))

	// Version tie goes to the later timestamp.
	older := stateAt("s1", 4, now.Add(-time.Minute))
	newer := stateAt("s1", 4, now)
	assert.Equal(t, newer, svc.ResolveStates(older, newer))

	// Full tie keeps the first operand.
	a := stateAt("s1", 4, now)
	b := stateAt("s1", 4, now)
	b.Data = json.RawMessage(`{"b":1}`)
	assert.Equal(t, a, svc.ResolveStates(a, b))
}
