package service

import (
	"time"

	"context-sync-server/internal/domain"
)

type recoveryKind int

const (
	recoverLatest recoveryKind = iota
	recoverSpecific
	recoverTimeBound
	recoverCustom
)

// RecoveryStrategy selects which snapshot to restore. The set of
// strategies is closed; new ones are added here, not by implementing an
// interface elsewhere.
type RecoveryStrategy struct {
	kind     recoveryKind
	version  uint64
	cutoff   time.Time
	selector func([]domain.ContextSnapshot) *domain.ContextSnapshot
}

// LatestVersion selects the snapshot with the highest version, breaking
// ties by the later timestamp.
func LatestVersion() RecoveryStrategy {
	return RecoveryStrategy{kind: recoverLatest}
}

// SpecificVersion selects the snapshot taken at exactly the given
// version; nothing else matches.
func SpecificVersion(version uint64) RecoveryStrategy {
	return RecoveryStrategy{kind: recoverSpecific, version: version}
}

// TimeBound selects the newest snapshot taken at or before the cutoff.
func TimeBound(cutoff time.Time) RecoveryStrategy {
	return RecoveryStrategy{kind: recoverTimeBound, cutoff: cutoff}
}

// CustomStrategy delegates selection to the given function.
func CustomStrategy(selector func([]domain.ContextSnapshot) *domain.ContextSnapshot) RecoveryStrategy {
	return RecoveryStrategy{kind: recoverCustom, selector: selector}
}

// Select returns the chosen snapshot, or nil when no candidate
// qualifies.
func (s RecoveryStrategy) Select(snapshots []domain.ContextSnapshot) *domain.ContextSnapshot {
	if len(snapshots) == 0 {
		return nil
	}

	switch s.kind {
	case recoverLatest:
		winner := snapshots[0]
		for _, snap := range snapshots[1:] {
			if snap.Version > winner.Version ||
				(snap.Version == winner.Version && snap.Timestamp.After(winner.Timestamp)) {
				winner = snap
			}
		}
		return &winner

	case recoverSpecific:
		for _, snap := range snapshots {
			if snap.Version == s.version {
				found := snap
				return &found
			}
		}
		return nil

	case recoverTimeBound:
		var winner *domain.ContextSnapshot
		for i := range snapshots {
			snap := snapshots[i]
			if snap.Timestamp.After(s.cutoff) {
				continue
			}
			if winner == nil || snap.Timestamp.After(winner.Timestamp) {
				winner = &snap
			}
		}
		return winner

	case recoverCustom:
		if s.selector == nil {
			return nil
		}
		return s.selector(snapshots)

	default:
		return nil
	}
}
