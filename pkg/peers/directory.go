// Package peers tracks the set of currently live validator endpoints,
// derived entirely from received heartbeats. An endpoint is live as long
// as a heartbeat arrived within the liveness timeout; there is no stronger
// peer identity than "holds one of the fixed accepted ports."
package peers

import (
	"context"
	"log"
	"sync"
	"time"
)

// Config configures a Directory's eviction behavior.
type Config struct {
	// Live is how long an endpoint remains live after its last heartbeat.
	// Must be at least 3x the heartbeat period to tolerate scheduling
	// jitter between nodes.
	Live time.Duration
}

// DefaultConfig returns the package's recommended liveness timeout for a
// 2-second heartbeat period.
func DefaultConfig() Config {
	return Config{Live: 6 * time.Second}
}

// Directory is the live peer set, guarded by its own lock independent of
// ledger state and the consensus in-flight table.
type Directory struct {
	mu         sync.RWMutex
	live       Config
	self       string
	lastSeen   map[string]time.Time
	logger     *log.Logger
}

// New creates a Directory that excludes self from its own peer lists.
func New(self string, cfg Config) *Directory {
	return &Directory{
		live:     cfg,
		self:     self,
		lastSeen: make(map[string]time.Time),
		logger:   log.New(log.Writer(), "[peers] ", log.LstdFlags),
	}
}

// Heartbeat refreshes endpoint's last-seen timestamp to now. The local
// endpoint is always ignored — a node never lists itself as a peer.
func (d *Directory) Heartbeat(endpoint string, now time.Time) {
	if endpoint == d.self {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, known := d.lastSeen[endpoint]; !known {
		d.logger.Printf("peer %s joined", endpoint)
	}
	d.lastSeen[endpoint] = now
}

// Prune evicts endpoints whose last heartbeat is older than the liveness
// timeout as of now. Callers run this periodically from an independent
// task; eviction never happens as a side effect of a read.
func (d *Directory) Prune(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for endpoint, seen := range d.lastSeen {
		if now.Sub(seen) > d.live.Live {
			delete(d.lastSeen, endpoint)
			d.logger.Printf("peer %s evicted (silent for %s)", endpoint, now.Sub(seen))
		}
	}
}

// Snapshot returns a consistent, ordered view of the currently live peer
// endpoints. The caller must treat the list as potentially stale — peers
// may disconnect mid-request.
func (d *Directory) Snapshot() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.lastSeen))
	for endpoint := range d.lastSeen {
		out = append(out, endpoint)
	}
	sortStrings(out)
	return out
}

// Count returns the number of currently live peers.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.lastSeen)
}

// sortStrings is a small insertion sort; peer sets in this system are at
// most a handful of entries, so a closure-free sort avoids pulling in
// sort.Slice purely for readability's sake here.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// RunPruner blocks, evicting stale peers every interval until ctx is
// canceled. Callers run this as an independent task alongside the
// listener's accept loop and the heartbeat emitter.
func (d *Directory) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.Prune(now)
		}
	}
}

// RunEmitter blocks, invoking send once immediately and then every period
// until ctx is canceled. send takes no arguments; it is expected to
// broadcast a Heartbeat carrying this node's own endpoint to every accepted
// port other than this node's own.
func RunEmitter(ctx context.Context, period time.Duration, send func()) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	send()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}
