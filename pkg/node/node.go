// Package node wires together a validator's ledger, peer directory,
// consensus coordinator, and request pipeline into a running TCP service:
// binding from the accepted-port list, running state sync on boot, and
// dispatching inbound wire messages to the right pipeline entry point.
package node

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/certen/ledger-validator/pkg/archive"
	"github.com/certen/ledger-validator/pkg/config"
	"github.com/certen/ledger-validator/pkg/consensus"
	"github.com/certen/ledger-validator/pkg/crypto/identity"
	"github.com/certen/ledger-validator/pkg/kvdb"
	"github.com/certen/ledger-validator/pkg/ledger"
	"github.com/certen/ledger-validator/pkg/metrics"
	"github.com/certen/ledger-validator/pkg/peers"
	"github.com/certen/ledger-validator/pkg/persistence"
	"github.com/certen/ledger-validator/pkg/pipeline"
	"github.com/certen/ledger-validator/pkg/server"
	"github.com/certen/ledger-validator/pkg/wire"

	dbm "github.com/cometbft/cometbft-db"
)

// ErrBind is returned when every port in the accepted-port list is
// already taken.
var ErrBind = fmt.Errorf("node: all accepted ports are in use")

// Node is one running validator: a bound TCP listener, its ledger and
// peer state, and the HTTP query server alongside it.
type Node struct {
	cfg      config.Config
	self     string
	ports    config.AcceptedPorts
	listener net.Listener

	store    *ledger.Store
	dir      *peers.Directory
	coord    *consensus.Coordinator
	pipeline *pipeline.Pipeline
	persist  *persistence.Store
	metrics  *metrics.Registry
	archive  *archive.Sink
	handlers *server.Handlers
	httpSrv  *http.Server

	transport *dialTransport
	operator  *identity.PublicKey
	logger    *log.Logger

	ready atomic.Bool
}

// New binds a listener from the first available port in ports, loads any
// persisted state for that endpoint, and wires every component together.
// operator may be nil.
func New(cfg config.Config, ports config.AcceptedPorts, operator *identity.PublicKey) (*Node, error) {
	listener, self, host, port, err := bindFirstAvailable(ports)
	if err != nil {
		return nil, err
	}

	persist, err := persistence.NewStore(host, port)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("node: init persistence: %w", err)
	}

	var kv ledger.KV
	ldb, err := dbm.NewGoLevelDB("cache", persistence.NodeDir(host, port))
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("node: open kv cache: %w", err)
	}
	kv = kvdb.New(ldb)

	loaded, existed, err := persistence.Load(host, port, kv)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("node: load persisted state: %w", err)
	}
	store := loaded
	if !existed {
		store = ledger.NewStore(kv)
		if err := store.AppendBlock(ledger.NewGenesisBlock(time.Now())); err != nil {
			listener.Close()
			return nil, fmt.Errorf("node: append genesis block: %w", err)
		}
		snap, err := store.AsSnapshot()
		if err != nil {
			listener.Close()
			return nil, fmt.Errorf("node: snapshot genesis: %w", err)
		}
		if err := persist.Save(snap); err != nil {
			listener.Close()
			return nil, fmt.Errorf("node: persist genesis: %w", err)
		}
	}

	dir := peers.New(self, peers.Config{Live: cfg.TLive})
	reg := metrics.New()
	coordCfg := consensus.Config{VoteTimeout: cfg.TVote, MaxInFlight: cfg.MaxInFlight}
	transport := newDialTransport(cfg.TVote)
	coord := consensus.New(coordCfg, transport)
	pl := pipeline.New(store, dir, coord, persist, self, operator, reg)

	var sink *archive.Sink
	if cfg.PostgresDSN != "" {
		sink, err = archive.NewSink(cfg.PostgresDSN)
		if err != nil {
			log.Printf("node: archival sink disabled: %v", err)
			sink = nil
		}
	}

	n := &Node{
		cfg:       cfg,
		self:      self,
		ports:     ports,
		listener:  listener,
		store:     store,
		dir:       dir,
		coord:     coord,
		pipeline:  pl,
		persist:   persist,
		metrics:   reg,
		archive:   sink,
		handlers:  server.New(store, dir, reg),
		transport: transport,
		operator:  operator,
		logger:    log.New(log.Writer(), "[node] ", log.LstdFlags),
	}
	return n, nil
}

func bindFirstAvailable(ports config.AcceptedPorts) (net.Listener, string, string, int, error) {
	for _, port := range ports.Ports {
		endpoint := fmt.Sprintf("%s:%d", ports.Host, port)
		l, err := net.Listen("tcp", endpoint)
		if err == nil {
			return l, endpoint, ports.Host, port, nil
		}
	}
	return nil, "", "", 0, ErrBind
}

// Self returns the endpoint this node bound.
func (n *Node) Self() string { return n.self }

// Store exposes the underlying ledger store for direct use by tests. The
// `make`/`faucet`/`transaction` commands reach a running node over the
// framed TCP wire protocol instead.
func (n *Node) Store() *ledger.Store { return n.store }

// Run blocks, serving the P2P listener and the HTTP query server, running
// state sync first, until ctx is canceled.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go peers.RunEmitter(ctx, n.cfg.HeartbeatPeriod, n.emitHeartbeats)
	go n.dir.RunPruner(ctx, n.cfg.TLive/2)
	go n.acceptLoop(ctx)

	n.runStateSync(ctx)
	n.metrics.ChainHeight.Set(float64(n.store.Height()))
	n.ready.Store(true)
	n.logger.Printf("state sync complete, pipeline enabled at height %d", n.store.Height())

	n.httpSrv = &http.Server{Addr: httpAddr(n.self), Handler: n.httpMux()}
	go func() {
		if err := n.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.logger.Printf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	n.shutdown()
	return nil
}

func (n *Node) shutdown() {
	n.listener.Close()
	if n.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n.httpSrv.Shutdown(shutdownCtx)
	}
	if n.archive != nil {
		n.archive.Close()
	}
}

func (n *Node) httpMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/height", n.handlers.HandleHeight)
	mux.HandleFunc("/chain", n.handlers.HandleChain)
	mux.HandleFunc("/account/", n.handlers.HandleAccount)
	mux.HandleFunc("/health", n.handlers.HandleHealth)
	mux.HandleFunc("/metrics", n.handlers.HandleMetrics)
	return mux
}

// httpAddr offsets the P2P port by 1000 for the query server, so the two
// listeners never collide on the same accepted port.
func httpAddr(p2pEndpoint string) string {
	host, port := splitHostPort(p2pEndpoint)
	return fmt.Sprintf("%s:%d", host, port+1000)
}

func splitHostPort(endpoint string) (string, int) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return endpoint, 0
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

func (n *Node) emitHeartbeats() {
	n.metrics.LivePeers.Set(float64(n.dir.Count()))
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.TVote)
	defer cancel()
	for _, peer := range n.otherAcceptedEndpoints() {
		if err := n.transport.sendHeartbeat(ctx, peer, n.self); err != nil {
			continue // silent peers are simply not yet live; not an error worth logging per beat
		}
	}
}

func (n *Node) otherAcceptedEndpoints() []string {
	all := n.ports.Endpoints()
	out := make([]string, 0, len(all))
	for _, e := range all {
		if e != n.self {
			out = append(out, e)
		}
	}
	return out
}

// runStateSync waits T_discover, then polls every accepted endpoint for
// its state and adopts the largest digest group, tie-broken by earliest
// reply. With no replies, or when no two replies share a digest, the node
// keeps the state it booted with.
func (n *Node) runStateSync(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(n.cfg.TDiscover):
	}

	replies := make([]stateSyncReply, 0)
	for _, peer := range n.otherAcceptedEndpoints() {
		reqCtx, cancel := context.WithTimeout(ctx, n.cfg.TVote)
		sr, err := n.transport.sendStateRequest(reqCtx, peer)
		cancel()
		if err != nil {
			continue
		}
		replies = append(replies, stateSyncReply{digest: sr.Snapshot.Digest, snap: sr.Snapshot, at: time.Now()})
	}
	if len(replies) == 0 {
		return
	}
	sort.Slice(replies, func(i, j int) bool { return replies[i].at.Before(replies[j].at) })

	counts := make(map[[32]byte]int)
	earliest := make(map[[32]byte]stateSyncReply)
	for _, r := range replies {
		counts[r.digest]++
		if _, ok := earliest[r.digest]; !ok {
			earliest[r.digest] = r
		}
	}

	var winner [32]byte
	best := 0
	for _, r := range replies {
		if counts[r.digest] > best {
			best, winner = counts[r.digest], r.digest
		}
	}
	if best < 2 {
		return
	}

	n.store.LoadSnapshot(earliest[winner].snap)
}

// stateSyncReply is one peer's StateReply, timestamped by arrival order so
// a tie in reply counts breaks toward whichever group's first member
// replied earliest.
type stateSyncReply struct {
	digest [32]byte
	snap   ledger.Snapshot
	at     time.Time
}

func (n *Node) acceptLoop(ctx context.Context) {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				n.logger.Printf("accept error: %v", err)
				continue
			}
		}
		go n.handleConn(ctx, conn)
	}
}

func (n *Node) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	env, err := wire.Decode(conn)
	if err != nil {
		n.logger.Printf("parse error from %s: %v", conn.RemoteAddr(), err)
		return
	}

	switch env.Kind {
	case wire.KindHeartbeat:
		var hb wire.Heartbeat
		if err := wire.UnmarshalPayload(env, &hb); err == nil {
			n.dir.Heartbeat(hb.Endpoint, time.Now())
		}
	case wire.KindStateRequest:
		n.replyState(conn)
	case wire.KindVoteRequest:
		n.replyVote(conn, env)
	case wire.KindCommit:
		n.applyCommit(env)
	case wire.KindNewAccountRequest:
		n.replyClientResult(conn, env, n.handleClientNewAccount)
	case wire.KindFaucetRequest:
		n.replyClientResult(conn, env, n.handleClientFaucet)
	case wire.KindTransactionRequest:
		n.replyClientResult(conn, env, n.handleClientTransaction)
	default:
		n.logger.Printf("unknown message kind %q from %s", env.Kind, conn.RemoteAddr())
	}
}

func (n *Node) replyState(conn net.Conn) {
	snap, err := n.store.AsSnapshot()
	if err != nil {
		n.logger.Printf("snapshot for state reply: %v", err)
		return
	}
	_ = wire.Encode(conn, wire.KindStateReply, wire.StateReply{Snapshot: snap})
}

func (n *Node) replyVote(conn net.Conn, env wire.Envelope) {
	var vr wire.VoteRequest
	if err := wire.UnmarshalPayload(env, &vr); err != nil {
		n.logger.Printf("decode vote request: %v", err)
		return
	}
	reply := n.pipeline.HandleVoteRequest(vr.Request)
	_ = wire.Encode(conn, wire.KindVoteReply, reply)
}

func (n *Node) applyCommit(env wire.Envelope) {
	var commit wire.Commit
	if err := wire.UnmarshalPayload(env, &commit); err != nil {
		n.logger.Printf("decode commit: %v", err)
		return
	}
	if err := n.pipeline.HandleCommit(commit); err != nil {
		n.logger.Printf("apply commit %s: %v", commit.RequestID, err)
	}
}

func (n *Node) replyClientResult(conn net.Conn, env wire.Envelope, handle func(wire.Envelope) pipeline.Result) {
	if !n.ready.Load() {
		_ = wire.Encode(conn, wire.KindRequestResult, wire.RequestResult{Committed: false, Reason: "pipeline not yet enabled: state sync in progress"})
		return
	}
	result := handle(env)
	reply := wire.RequestResult{Committed: result.Outcome == pipeline.Committed, Block: result.Block}
	if result.Err != nil {
		reply.Reason = result.Err.Error()
	}
	_ = wire.Encode(conn, wire.KindRequestResult, reply)
}

func (n *Node) handleClientNewAccount(env wire.Envelope) pipeline.Result {
	var req wire.NewAccountRequest
	if err := wire.UnmarshalPayload(env, &req); err != nil {
		return pipeline.Result{Outcome: pipeline.Rejected, Err: err}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*n.cfg.TVote)
	defer cancel()
	return n.pipeline.HandleNewAccount(ctx, req)
}

func (n *Node) handleClientFaucet(env wire.Envelope) pipeline.Result {
	var req wire.FaucetRequest
	if err := wire.UnmarshalPayload(env, &req); err != nil {
		return pipeline.Result{Outcome: pipeline.Rejected, Err: err}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*n.cfg.TVote)
	defer cancel()
	return n.pipeline.HandleFaucet(ctx, req)
}

func (n *Node) handleClientTransaction(env wire.Envelope) pipeline.Result {
	var req wire.TransactionRequest
	if err := wire.UnmarshalPayload(env, &req); err != nil {
		return pipeline.Result{Outcome: pipeline.Rejected, Err: err}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*n.cfg.TVote)
	defer cancel()
	return n.pipeline.HandleTransaction(ctx, req)
}
