// Package consensus decides accept/reject for a pending request by
// polling the live peer set and applying the strict-majority rule, and
// tracks the two-phase tentative-accept state peers hold between casting
// their vote and observing the originator's Commit message.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/certen/ledger-validator/pkg/crypto/identity"
	"github.com/certen/ledger-validator/pkg/wire"
)

// ErrOverloaded is returned when the in-flight table is at capacity and a
// new request cannot be admitted.
var ErrOverloaded = errors.New("consensus: overloaded")

// Transport sends a VoteRequest to a single peer and returns its reply.
// Implementations own connection dialing and the wire framing; this
// package only orchestrates who gets asked and how long to wait.
type Transport interface {
	SendVote(ctx context.Context, peerEndpoint string, req wire.VoteRequest) (wire.VoteReply, error)
	BroadcastCommit(ctx context.Context, peerEndpoint string, commit wire.Commit) error
}

// Config configures a Coordinator's timeouts and overload guard.
type Config struct {
	// VoteTimeout bounds how long the coordinator waits for all peer
	// replies before treating missing ones as rejects.
	VoteTimeout time.Duration
	// MaxInFlight bounds the number of requests awaiting a decision at
	// once; beyond it, Decide returns ErrOverloaded without polling peers.
	MaxInFlight int
}

// DefaultConfig returns a 3-second vote timeout and a 256-request
// in-flight cap, reasonable defaults for a four-node toy network.
func DefaultConfig() Config {
	return Config{VoteTimeout: 3 * time.Second, MaxInFlight: 256}
}

// AcceptedPeer is one peer that voted accept, together with the operator
// account it asked to be credited if the request commits.
type AcceptedPeer struct {
	Endpoint string
	Operator *identity.PublicKey
}

// Decision is the outcome of a consensus round: whether the request was
// accepted, and which peers voted accept (needed to compute the
// deterministic validator-reward sequence).
type Decision struct {
	Accept        bool
	AcceptedPeers []AcceptedPeer
	VoterCount    int
}

// Coordinator polls peers for a vote and tracks tentative acceptances
// pending a Commit broadcast.
type Coordinator struct {
	cfg       Config
	transport Transport
	logger    *log.Logger

	mu        sync.Mutex
	inFlight  map[string]struct{}
	tentative map[string]wire.RequestEnvelope
}

// New creates a Coordinator bound to transport.
func New(cfg Config, transport Transport) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		transport: transport,
		logger:    log.New(log.Writer(), "[consensus] ", log.LstdFlags),
		inFlight:  make(map[string]struct{}),
		tentative: make(map[string]wire.RequestEnvelope),
	}
}

// Decide polls every peer in peers for a vote on req, combines replies
// with localAccept under the strict-majority rule (self-inclusive), and
// returns the decision. Missing or errored replies count as rejects.
//
// On the single-node boot edge (no live peers), the local vote decides
// unconditionally, matching the spec's tie-breaker.
func (c *Coordinator) Decide(ctx context.Context, req wire.RequestEnvelope, localAccept bool, peerList []string) (Decision, error) {
	if err := c.admit(req.RequestID); err != nil {
		return Decision{}, err
	}
	defer c.release(req.RequestID)

	if len(peerList) == 0 {
		return Decision{Accept: localAccept, VoterCount: 1, AcceptedPeers: nil}, nil
	}

	voteCtx, cancel := context.WithTimeout(ctx, c.cfg.VoteTimeout)
	defer cancel()

	type reply struct {
		peer     string
		accept   bool
		operator *identity.PublicKey
	}
	replies := make(chan reply, len(peerList))

	for _, peer := range peerList {
		go func(peer string) {
			r, err := c.transport.SendVote(voteCtx, peer, wire.VoteRequest{Request: req})
			if err != nil {
				c.logger.Printf("vote request to %s failed: %v", peer, err)
				replies <- reply{peer: peer, accept: false}
				return
			}
			replies <- reply{peer: peer, accept: r.Accept, operator: r.Operator}
		}(peer)
	}

	accepts := 0
	if localAccept {
		accepts++
	}
	var acceptedPeers []AcceptedPeer
	for i := 0; i < len(peerList); i++ {
		select {
		case r := <-replies:
			if r.accept {
				accepts++
				acceptedPeers = append(acceptedPeers, AcceptedPeer{Endpoint: r.peer, Operator: r.operator})
			}
		case <-voteCtx.Done():
			i = len(peerList) // remaining peers count as rejects (fail-closed)
		}
	}

	voters := len(peerList) + 1
	accept := accepts > voters/2
	sort.Slice(acceptedPeers, func(i, j int) bool { return acceptedPeers[i].Endpoint < acceptedPeers[j].Endpoint })

	return Decision{Accept: accept, AcceptedPeers: acceptedPeers, VoterCount: voters}, nil
}

// RecordTentative stores req under requestID as a peer's tentative
// acceptance, pending the originator's Commit message.
func (c *Coordinator) RecordTentative(requestID string, req wire.RequestEnvelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tentative[requestID] = req
}

// TakeTentative returns and removes the tentative request recorded for
// requestID, if any. The Commit handler calls this to clear the record when
// the originator's Commit arrives; it applies the Commit whether or not a
// record was found.
func (c *Coordinator) TakeTentative(requestID string) (wire.RequestEnvelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.tentative[requestID]
	delete(c.tentative, requestID)
	return req, ok
}

// BroadcastCommit sends commit to every peer in peerList. A single peer's
// failure to receive it is non-fatal — state sync heals stragglers on
// their next reconnect — so this only logs and continues.
func (c *Coordinator) BroadcastCommit(ctx context.Context, commit wire.Commit, peerList []string) {
	var wg sync.WaitGroup
	for _, peer := range peerList {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			if err := c.transport.BroadcastCommit(ctx, peer, commit); err != nil {
				c.logger.Printf("commit broadcast to %s failed: %v", peer, err)
			}
		}(peer)
	}
	wg.Wait()
}

func (c *Coordinator) admit(requestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inFlight) >= c.cfg.MaxInFlight {
		return fmt.Errorf("%w: %d requests in flight", ErrOverloaded, len(c.inFlight))
	}
	c.inFlight[requestID] = struct{}{}
	return nil
}

func (c *Coordinator) release(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, requestID)
}
