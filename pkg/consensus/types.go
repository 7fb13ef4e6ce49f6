// Copyright 2025 Certen Protocol
//
// Business-level types shared by the consensus coordinator: peer identity
// and request priority, trimmed down from a larger BFT-validator-metadata
// shape to just what a majority-vote coordinator over a fixed peer set
// needs.

package consensus

import "time"

// PeerInfo is what the coordinator knows about one peer beyond its
// endpoint string: when it last voted, and whether that vote was accept.
type PeerInfo struct {
	Endpoint       string    `json:"endpoint"`
	LastVoteTime   time.Time `json:"last_vote_time"`
	LastVoteAccept bool      `json:"last_vote_accept"`
}

// Priority labels a pending request. The coordinator does not read it: it
// has no effect on in-flight admission under overload, which never evicts,
// or on the vote arithmetic.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)
