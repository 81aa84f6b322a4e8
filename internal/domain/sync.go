package domain

import "time"

// SyncState is the coordinator's bookkeeping, exposed on the status
// endpoint.
type SyncState struct {
	IsSyncing   bool      `json:"is_syncing"`
	LastSync    time.Time `json:"last_sync"`
	LastError   string    `json:"last_error,omitempty"`
	SyncCount   uint64    `json:"sync_count"`
	ErrorCount  uint64    `json:"error_count"`
	LastVersion uint64    `json:"last_version"`
}

// SyncResult summarizes a single sync pass.
type SyncResult struct {
	Success bool   `json:"success"`
	Applied int    `json:"applied"`
	Failed  int    `json:"failed"`
	Version uint64 `json:"version"`
}
