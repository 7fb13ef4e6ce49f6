// Package wire implements the length-prefixed JSON framing used between
// validator nodes and between a client process and any listener it dials.
// Every frame is a 4-byte big-endian length followed by a JSON object
// carrying a "kind" tag that dispatches it to the right handler.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/certen/ledger-validator/pkg/crypto/identity"
	"github.com/certen/ledger-validator/pkg/crypto/splitproof"
	"github.com/certen/ledger-validator/pkg/ledger"
)

// MaxFrameSize bounds a single frame so a malformed or hostile length
// prefix cannot force an unbounded allocation.
const MaxFrameSize = 16 << 20 // 16 MiB

// ErrFrameTooLarge is returned when a frame's declared length exceeds
// MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// Kind tags every message on the wire.
type Kind string

const (
	KindHeartbeat          Kind = "Heartbeat"
	KindStateRequest       Kind = "StateRequest"
	KindStateReply         Kind = "StateReply"
	KindNewAccountRequest  Kind = "NewAccountRequest"
	KindFaucetRequest      Kind = "FaucetRequest"
	KindTransactionRequest Kind = "TransactionRequest"
	KindVoteRequest        Kind = "VoteRequest"
	KindVoteReply          Kind = "VoteReply"
	KindCommit             Kind = "Commit"
	KindRequestResult      Kind = "RequestResult"
)

// Envelope is the outer frame shape: a kind tag plus a raw payload decoded
// according to that tag.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Heartbeat announces the sender's own listen endpoint.
type Heartbeat struct {
	Endpoint string `json:"endpoint"`
}

// StateRequest asks a peer to report its full ledger state for boot-time
// adoption.
type StateRequest struct{}

// StateReply carries a peer's chain, accounts index, and state digest.
type StateReply struct {
	Snapshot ledger.Snapshot `json:"snapshot"`
}

// NewAccountRequest asks that a new account be created for PublicKey with
// the given proof point.
type NewAccountRequest struct {
	PublicKey  identity.PublicKey `json:"public_key"`
	ProofPoint splitproof.Point   `json:"proof_point"`
}

// FaucetRequest asks that the faucet amount be granted to PublicKey.
type FaucetRequest struct {
	PublicKey identity.PublicKey `json:"public_key"`
}

// TransactionRequest asks that amount be transferred from sender to
// recipient, authorized by the accompanying split transcript.
type TransactionRequest struct {
	Sender     identity.PublicKey    `json:"sender"`
	Recipient  identity.PublicKey    `json:"recipient"`
	Amount     uint64                `json:"amount"`
	Transcript splitproof.Transcript `json:"transcript"`
}

// RequestEnvelope wraps exactly one of the three request payloads above
// under a stable RequestID, the canonical payload a VoteRequest carries
// to peers so their local validation runs against the identical request.
type RequestEnvelope struct {
	RequestID   string               `json:"request_id"`
	NewAccount  *NewAccountRequest   `json:"new_account,omitempty"`
	Faucet      *FaucetRequest       `json:"faucet,omitempty"`
	Transaction *TransactionRequest  `json:"transaction,omitempty"`
}

// VoteRequest asks a peer to locally validate Request and reply with its
// vote.
type VoteRequest struct {
	Request RequestEnvelope `json:"request"`
}

// VoteReply carries one peer's accept/reject decision for a RequestID. A
// peer that voted accept and has an operator account configured includes
// that account's public key so the originator can deterministically build
// that peer's validator-reward block into the Commit sequence.
type VoteReply struct {
	RequestID string              `json:"request_id"`
	Accept    bool                `json:"accept"`
	Reason    string              `json:"reason,omitempty"`
	Operator  *identity.PublicKey `json:"operator,omitempty"`
}

// Commit is broadcast by a request's originator after its own local
// commit succeeds, carrying the full deterministic block sequence (the
// rewarded block plus one validator-reward block per accepting peer) for
// every other replica to apply verbatim.
type Commit struct {
	RequestID string          `json:"request_id"`
	Blocks    []ledger.Block  `json:"blocks"`
}

// RequestResult is the reply a node sends directly to a CLI client after
// running HandleNewAccount/HandleFaucet/HandleTransaction to completion,
// independent of the VoteRequest/Commit exchange between validator peers.
type RequestResult struct {
	Committed bool           `json:"committed"`
	Block     *ledger.Block  `json:"block,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Encode wraps v in an Envelope tagged kind and writes it to w as a single
// length-prefixed frame.
func Encode(w io.Writer, kind Kind, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode payload: %w", err)
	}
	frame, err := json.Marshal(Envelope{Kind: kind, Payload: payload})
	if err != nil {
		return fmt.Errorf("wire: encode envelope: %w", err)
	}
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(frame)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// Decode reads one length-prefixed frame from r and returns its envelope.
func Decode(r io.Reader) (Envelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Envelope{}, fmt.Errorf("wire: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxFrameSize {
		return Envelope{}, ErrFrameTooLarge
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Envelope{}, fmt.Errorf("wire: read frame: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env, nil
}

// UnmarshalPayload decodes env's payload into out according to its
// declared Go type, independent of env.Kind — callers that already know
// which kind they expect use this directly rather than re-switching on it.
func UnmarshalPayload(env Envelope, out any) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("wire: decode %s payload: %w", env.Kind, err)
	}
	return nil
}
