// Copyright 2025 Certen Protocol
//
// Package ledger provides sentinel errors for ledger operations.
// F.4 remediation: Explicit errors instead of nil, nil returns

package ledger

import "errors"

// Sentinel errors for ledger operations
var (
	// ErrChainLink is returned by AppendBlock when a block cannot be applied
	// on top of the current state: a second genesis block, a new-account
	// block for an existing address, a block naming an unknown account, a
	// non-monotonic sender nonce, or an unknown block kind. The block's hash
	// is not recomputed or compared against the chain tip. This is a fatal
	// local invariant violation, not a request-validation failure.
	ErrChainLink = errors.New("ledger: chain link mismatch")

	// ErrUnknownAccount is returned when an operation names a public key
	// with no account record.
	ErrUnknownAccount = errors.New("ledger: unknown account")

	// ErrDuplicateAccount is returned when a new-account request names a
	// public key that already has an account.
	ErrDuplicateAccount = errors.New("ledger: duplicate account")

	// ErrInsufficientFunds is returned when a transaction's sender balance
	// is less than the requested amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvalidProof is returned when a split transcript does not sum to
	// the sender's stored proof point.
	ErrInvalidProof = errors.New("ledger: invalid split proof")

	// ErrReplayedProof is returned when a split transcript's digest has
	// already been consumed by a prior committed transaction.
	ErrReplayedProof = errors.New("ledger: proof already used")

	// ErrEmptyChain is returned by tip-reading operations before genesis
	// has been appended.
	ErrEmptyChain = errors.New("ledger: chain is empty")
)
