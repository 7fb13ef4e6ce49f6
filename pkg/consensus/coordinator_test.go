package consensus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/certen/ledger-validator/pkg/wire"
)

// fakeTransport votes a fixed outcome per peer endpoint, optionally never
// replying at all to simulate a timed-out or unreachable peer.
type fakeTransport struct {
	votes   map[string]bool
	silent  map[string]bool
	commits []wire.Commit
}

func (f *fakeTransport) SendVote(ctx context.Context, peer string, req wire.VoteRequest) (wire.VoteReply, error) {
	if f.silent[peer] {
		<-ctx.Done()
		return wire.VoteReply{}, ctx.Err()
	}
	return wire.VoteReply{RequestID: req.Request.RequestID, Accept: f.votes[peer]}, nil
}

func (f *fakeTransport) BroadcastCommit(ctx context.Context, peer string, commit wire.Commit) error {
	f.commits = append(f.commits, commit)
	return nil
}

func TestDecideNoPeersAcceptsLocally(t *testing.T) {
	c := New(Config{VoteTimeout: 50 * time.Millisecond, MaxInFlight: 4}, &fakeTransport{})
	decision, err := c.Decide(context.Background(), wire.RequestEnvelope{RequestID: "r1"}, true, nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !decision.Accept || decision.VoterCount != 1 {
		t.Fatalf("decision = %+v, want single-voter accept", decision)
	}
}

func TestDecideStrictMajority(t *testing.T) {
	transport := &fakeTransport{votes: map[string]bool{"p1": true, "p2": false, "p3": true}}
	c := New(Config{VoteTimeout: 200 * time.Millisecond, MaxInFlight: 4}, transport)

	// local accept + p1 + p3 = 3 of 4 voters: strict majority.
	decision, err := c.Decide(context.Background(), wire.RequestEnvelope{RequestID: "r1"}, true, []string{"p1", "p2", "p3"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !decision.Accept {
		t.Fatal("expected majority accept")
	}
	if len(decision.AcceptedPeers) != 2 {
		t.Fatalf("AcceptedPeers = %v, want 2 entries", decision.AcceptedPeers)
	}
}

func TestDecideTiesFailClosed(t *testing.T) {
	transport := &fakeTransport{votes: map[string]bool{"p1": true, "p2": false, "p3": false}}
	c := New(Config{VoteTimeout: 200 * time.Millisecond, MaxInFlight: 4}, transport)

	// local accept + p1 accept + p2/p3 reject = 2 of 4 voters: a tie.
	decision, err := c.Decide(context.Background(), wire.RequestEnvelope{RequestID: "r1"}, true, []string{"p1", "p2", "p3"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Accept {
		t.Fatal("expected a tie/minority to reject (fail-closed)")
	}
}

func TestDecideTimeoutCountsAsReject(t *testing.T) {
	transport := &fakeTransport{
		votes:  map[string]bool{"p1": true},
		silent: map[string]bool{"p2": true, "p3": true},
	}
	c := New(Config{VoteTimeout: 30 * time.Millisecond, MaxInFlight: 4}, transport)

	// local accept + p1 accept + p2/p3 never reply = 2 of 4 voters: a tie,
	// which must fail closed rather than being excluded from the total.
	decision, err := c.Decide(context.Background(), wire.RequestEnvelope{RequestID: "r1"}, true, []string{"p1", "p2", "p3"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Accept {
		t.Fatal("silent peers must count as rejects, producing a tie that fails closed")
	}
}

func TestOverloadedRejectsNewRequestsAtCapacity(t *testing.T) {
	c := New(Config{VoteTimeout: time.Second, MaxInFlight: 1}, &fakeTransport{})
	c.inFlight["already-running"] = struct{}{}

	if _, err := c.Decide(context.Background(), wire.RequestEnvelope{RequestID: "r2"}, true, nil); !errors.Is(err, ErrOverloaded) {
		t.Fatalf("Decide at capacity = %v, want %v", err, ErrOverloaded)
	}
}

func TestTentativeRecordAndTake(t *testing.T) {
	c := New(DefaultConfig(), &fakeTransport{})
	req := wire.RequestEnvelope{RequestID: "r1"}
	c.RecordTentative("r1", req)

	got, ok := c.TakeTentative("r1")
	if !ok || got.RequestID != "r1" {
		t.Fatalf("TakeTentative = (%+v, %v), want (%+v, true)", got, ok, req)
	}

	if _, ok := c.TakeTentative("r1"); ok {
		t.Fatal("TakeTentative returned a tentative record a second time")
	}
}
