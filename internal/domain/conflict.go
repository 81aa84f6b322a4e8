package domain

type ResolutionStrategy string

const (
	ResolutionKeepLatest ResolutionStrategy = "keep_latest"
	ResolutionKeepOldest ResolutionStrategy = "keep_oldest"
	// ResolutionMerge currently resolves like keep_latest; a structural
	// merge needs a payload-aware merger that does not exist yet.
	ResolutionMerge  ResolutionStrategy = "merge"
	ResolutionManual ResolutionStrategy = "manual"
)

// ConflictInfo describes competing versions of one state, together with
// the strategy the detecting node wants applied.
type ConflictInfo struct {
	StateID             string             `json:"state_id"`
	ConflictingVersions []ContextState     `json:"conflicting_versions"`
	ResolutionStrategy  ResolutionStrategy `json:"resolution_strategy"`
}
