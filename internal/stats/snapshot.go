// Package stats samples engine counters for live connections and publishes
// them as immutable snapshots, Prometheus gauges and periodic log lines.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/1ureka/rudp/engine"
)

// Snapshot is one complete reading of a peer's engine counters. Snapshots are
// replaced wholesale, never merged.
type Snapshot struct {
	RoundTripTime time.Duration
	BytesSent     uint64
	BytesReceived uint64
	PacketsSent   uint64
	PacketsLost   uint64
	SampledAt     time.Time
}

// Cell holds the latest Snapshot of one connection. Readers always observe a
// snapshot that was stored in one piece.
type Cell struct {
	p atomic.Pointer[Snapshot]
}

// Store publishes s, replacing the previous snapshot.
func (c *Cell) Store(s Snapshot) {
	c.p.Store(&s)
}

// Load returns the latest snapshot, or the zero Snapshot if none was stored.
func (c *Cell) Load() Snapshot {
	if s := c.p.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

// Sampler decides when the next sampling round is due. It runs on its own
// ticker, coarser than the pump loop; a zero interval disables sampling.
type Sampler struct {
	clock  clock.Clock
	ticker *clock.Ticker
}

// NewSampler creates a Sampler ticking every interval on c. A nil clock uses
// the wall clock.
func NewSampler(c clock.Clock, interval time.Duration) *Sampler {
	if c == nil {
		c = clock.New()
	}
	s := &Sampler{clock: c}
	if interval > 0 {
		s.ticker = c.Ticker(interval)
	}
	return s
}

// Due reports, without blocking, whether a tick has elapsed since the last
// call that returned true.
func (s *Sampler) Due() bool {
	if s.ticker == nil {
		return false
	}
	select {
	case <-s.ticker.C:
		return true
	default:
		return false
	}
}

// Sample reads peer's counters into a new Snapshot.
func (s *Sampler) Sample(peer engine.Peer) Snapshot {
	ps := peer.Stats()
	return Snapshot{
		RoundTripTime: ps.RoundTripTime,
		BytesSent:     ps.BytesSent,
		BytesReceived: ps.BytesReceived,
		PacketsSent:   ps.PacketsSent,
		PacketsLost:   ps.PacketsLost,
		SampledAt:     s.clock.Now(),
	}
}

// Stop releases the ticker.
func (s *Sampler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
}
