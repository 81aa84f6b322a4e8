package service

import (
	"fmt"

	"go.uber.org/zap"

	"context-sync-server/internal/domain"
)

// ConflictService resolves competing versions of a state. Resolution is
// deterministic: the same conflict always yields the same winner.
type ConflictService struct {
	logger *zap.Logger
}

func NewConflictService(logger *zap.Logger) *ConflictService {
	return &ConflictService{logger: logger}
}

// Resolve picks a winner among the conflicting versions according to the
// conflict's strategy. Manual conflicts are never resolved here.
func (s *ConflictService) Resolve(conflict domain.ConflictInfo) (domain.ContextState, error) {
	if len(conflict.ConflictingVersions) == 0 {
		return domain.ContextState{}, fmt.Errorf("%w: conflict for %s carries no versions", domain.ErrInvalidState, conflict.StateID)
	}

	var winner domain.ContextState
	switch conflict.ResolutionStrategy {
	case domain.ResolutionKeepLatest:
		winner = latestOf(conflict.ConflictingVersions)

	case domain.ResolutionKeepOldest:
		winner = oldestOf(conflict.ConflictingVersions)

	case domain.ResolutionMerge:
		// No structural merge exists; fall back to the newest version.
		winner = latestOf(conflict.ConflictingVersions)

	case domain.ResolutionManual:
		return domain.ContextState{}, fmt.Errorf("%w: conflict for %s requires manual resolution", domain.ErrInvalidState, conflict.StateID)

	default:
		return domain.ContextState{}, fmt.Errorf("%w: unknown resolution strategy %q", domain.ErrInvalidState, conflict.ResolutionStrategy)
	}

	s.logger.Debug("resolved conflict",
		zap.String("state_id", conflict.StateID),
		zap.String("strategy", string(conflict.ResolutionStrategy)),
		zap.Uint64("winner_version", winner.Version),
	)
	return winner, nil
}

// ResolveStates is the two-state shortcut: higher version wins, ties go
// to the later timestamp, and a full tie keeps the first operand.
func (s *ConflictService) ResolveStates(a, b domain.ContextState) domain.ContextState {
	if a.Version > b.Version {
		return a
	}
	if b.Version > a.Version {
		return b
	}
	if b.Timestamp.After(a.Timestamp) {
		return b
	}
	return a
}

func latestOf(states []domain.ContextState) domain.ContextState {
	winner := states[0]
	for _, st := range states[1:] {
		if st.Timestamp.After(winner.Timestamp) {
			winner = st
		}
	}
	return winner
}

func oldestOf(states []domain.ContextState) domain.ContextState {
	winner := states[0]
	for _, st := range states[1:] {
		if st.Timestamp.Before(winner.Timestamp) {
			winner = st
		}
	}
	return winner
}
