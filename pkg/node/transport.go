package node

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/certen/ledger-validator/pkg/wire"
)

// dialTransport implements consensus.Transport and the state-sync dial
// helper by opening a short-lived TCP connection per call, writing one
// framed request, and reading one framed reply — no persistent peer
// connections, matching the spec's request/reply wire contract.
type dialTransport struct {
	dialTimeout time.Duration
}

func newDialTransport(dialTimeout time.Duration) *dialTransport {
	return &dialTransport{dialTimeout: dialTimeout}
}

func (t *dialTransport) SendVote(ctx context.Context, peerEndpoint string, req wire.VoteRequest) (wire.VoteReply, error) {
	var reply wire.VoteReply
	err := t.roundTrip(ctx, peerEndpoint, wire.KindVoteRequest, req, &reply)
	return reply, err
}

func (t *dialTransport) BroadcastCommit(ctx context.Context, peerEndpoint string, commit wire.Commit) error {
	return t.send(ctx, peerEndpoint, wire.KindCommit, commit)
}

func (t *dialTransport) sendStateRequest(ctx context.Context, peerEndpoint string) (wire.StateReply, error) {
	var reply wire.StateReply
	err := t.roundTrip(ctx, peerEndpoint, wire.KindStateRequest, wire.StateRequest{}, &reply)
	return reply, err
}

func (t *dialTransport) sendHeartbeat(ctx context.Context, peerEndpoint, self string) error {
	return t.send(ctx, peerEndpoint, wire.KindHeartbeat, wire.Heartbeat{Endpoint: self})
}

func (t *dialTransport) send(ctx context.Context, peerEndpoint string, kind wire.Kind, payload any) error {
	conn, err := t.dial(ctx, peerEndpoint)
	if err != nil {
		return err
	}
	defer conn.Close()
	return wire.Encode(conn, kind, payload)
}

func (t *dialTransport) roundTrip(ctx context.Context, peerEndpoint string, kind wire.Kind, payload any, out any) error {
	conn, err := t.dial(ctx, peerEndpoint)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.Encode(conn, kind, payload); err != nil {
		return fmt.Errorf("node: encode %s to %s: %w", kind, peerEndpoint, err)
	}
	env, err := wire.Decode(conn)
	if err != nil {
		return fmt.Errorf("node: decode reply from %s: %w", peerEndpoint, err)
	}
	return wire.UnmarshalPayload(env, out)
}

func (t *dialTransport) dial(ctx context.Context, peerEndpoint string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", peerEndpoint)
	if err != nil {
		return nil, fmt.Errorf("node: dial %s: %w", peerEndpoint, err)
	}
	return conn, nil
}
