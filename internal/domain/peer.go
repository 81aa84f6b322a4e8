package domain

import "time"

// PeerInfo tracks the newest state version accepted from a peer and when
// the peer was last heard from. StateVersion only moves forward.
type PeerInfo struct {
	LastSeen     time.Time `json:"last_seen"`
	StateVersion uint64    `json:"state_version"`
}
