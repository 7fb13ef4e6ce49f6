// Copyright 2025 Certen Protocol
//
// Stall monitor - detects when the local commit rate has gone quiet or
// the live peer set has dropped too low to reach quorum.

package consensus

import (
	"context"
	"log"
	"sync"
	"time"
)

// StatusFetcher reports the values the monitor checks each tick.
type StatusFetcher interface {
	Height() uint64
	PeerCount() int
}

// HealthConfig configures the stall monitor.
type HealthConfig struct {
	StallThreshold time.Duration // alert if height hasn't advanced for this long
	MinPeers       int           // alert if live peer count drops below this
	CheckInterval  time.Duration
}

// DefaultHealthConfig returns conservative defaults for a four-node
// network with a several-second vote timeout.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		StallThreshold: 2 * time.Minute,
		MinPeers:       1,
		CheckInterval:  10 * time.Second,
	}
}

// StallMonitor periodically compares the current height and peer count
// against the last observed values and logs a warning when progress has
// stopped or the peer set has thinned below quorum-viable.
type StallMonitor struct {
	mu sync.RWMutex

	cfg     HealthConfig
	fetcher StatusFetcher
	logger  *log.Logger

	lastHeight     uint64
	lastHeightTime time.Time
	stalled        bool
}

// NewStallMonitor creates a StallMonitor bound to fetcher.
func NewStallMonitor(cfg HealthConfig, fetcher StatusFetcher) *StallMonitor {
	return &StallMonitor{
		cfg:            cfg,
		fetcher:        fetcher,
		logger:         log.New(log.Writer(), "[health] ", log.LstdFlags),
		lastHeightTime: time.Now(),
	}
}

// Run blocks, checking health every CheckInterval until ctx is canceled.
func (m *StallMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.check(now)
		}
	}
}

func (m *StallMonitor) check(now time.Time) {
	height := m.fetcher.Height()
	peers := m.fetcher.PeerCount()

	m.mu.Lock()
	defer m.mu.Unlock()

	if height != m.lastHeight {
		if m.stalled {
			m.logger.Printf("resumed progress at height %d", height)
		}
		m.lastHeight = height
		m.lastHeightTime = now
		m.stalled = false
	} else if now.Sub(m.lastHeightTime) > m.cfg.StallThreshold {
		if !m.stalled {
			m.logger.Printf("no new blocks since %s (height %d)", m.lastHeightTime.Format(time.RFC3339), height)
		}
		m.stalled = true
	}

	if peers < m.cfg.MinPeers {
		m.logger.Printf("live peer count %d below minimum %d", peers, m.cfg.MinPeers)
	}
}
