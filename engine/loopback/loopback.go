// Package loopback is an in-process engine. Hosts created from the same
// Network reach each other by port number without touching the OS network
// stack, which makes it the engine of choice for tests and local demos.
//
// It honours the engine contract closely enough to exercise the pump: peer
// admission is bounded by MaxPeers, packets are transient buffers that must be
// disposed, and peers whose link has been severed time out after TimeoutMax.
package loopback

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/1ureka/rudp/engine"
)

// Status codes returned by Peer.Send besides engine.StatusOK.
const (
	StatusNotConnected = -1
	StatusBadChannel   = -2
)

const (
	firstEphemeralPort = 40000
	defaultTimeoutMax  = 30 * time.Second
)

// ErrAddressInUse is returned by CreateHost when the port is taken.
var ErrAddressInUse = errors.New("loopback: address already in use")

// Option configures a Network.
type Option func(*Network)

// WithClock sets the clock used for peer timeouts.
func WithClock(c clock.Clock) Option {
	return func(n *Network) { n.clock = c }
}

// WithRoundTripTime sets the round-trip time reported by every peer.
func WithRoundTripTime(d time.Duration) Option {
	return func(n *Network) { n.rtt = d }
}

// Network is a set of hosts that can reach each other.
type Network struct {
	clock clock.Clock
	rtt   time.Duration

	mu       sync.Mutex
	hosts    map[int]*Host
	nextPort int

	livePackets atomic.Int64
}

// NewNetwork creates an empty network.
func NewNetwork(opts ...Option) *Network {
	n := &Network{
		clock:    clock.New(),
		rtt:      time.Millisecond,
		hosts:    make(map[int]*Host),
		nextPort: firstEphemeralPort,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// CreateHost implements engine.Engine.
func (n *Network) CreateHost(cfg engine.HostConfig) (engine.Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ip := net.IPv4(127, 0, 0, 1)
	if cfg.Address != "" {
		ip = net.ParseIP(cfg.Address)
		if ip == nil {
			return nil, fmt.Errorf("loopback: cannot parse address %q", cfg.Address)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	port := cfg.Port
	if port == 0 {
		for n.hosts[n.nextPort] != nil {
			n.nextPort++
		}
		port = n.nextPort
		n.nextPort++
	} else if n.hosts[port] != nil {
		return nil, fmt.Errorf("%w: port %d", ErrAddressInUse, port)
	}

	if cfg.TimeoutMax <= 0 {
		cfg.TimeoutMax = defaultTimeoutMax
	}

	h := &Host{
		network: n,
		cfg:     cfg,
		addr:    &net.UDPAddr{IP: ip, Port: port},
		peers:   make(map[uint32]*peer),
		notify:  make(chan struct{}, 1),
	}
	n.hosts[port] = h
	return h, nil
}

// HostAt returns the host bound to port.
func (n *Network) HostAt(port int) (*Host, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.hosts[port]
	return h, ok
}

// LivePackets returns how many packets have been created and not yet disposed.
func (n *Network) LivePackets() int64 {
	return n.livePackets.Load()
}

func (n *Network) lookup(port int) *Host {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hosts[port]
}

func (n *Network) unregister(h *Host) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.hosts[h.addr.Port] == h {
		delete(n.hosts, h.addr.Port)
	}
}

func (n *Network) newPacket(data []byte) *packet {
	p := &packet{data: make([]byte, len(data)), network: n}
	copy(p.data, data)
	n.livePackets.Add(1)
	return p
}

// packet is a transient engine buffer.
type packet struct {
	data     []byte
	network  *Network
	disposed atomic.Bool
}

func (p *packet) Len() int { return len(p.data) }

func (p *packet) CopyTo(dst []byte) (int, error) {
	if p.disposed.Load() {
		return 0, errors.New("loopback: packet read after dispose")
	}
	if len(dst) < len(p.data) {
		return 0, fmt.Errorf("loopback: destination too small (%d < %d)", len(dst), len(p.data))
	}
	return copy(dst, p.data), nil
}

func (p *packet) Dispose() {
	if p.disposed.CompareAndSwap(false, true) {
		p.data = nil
		p.network.livePackets.Add(-1)
	}
}

// link is shared by the two ends of a connection.
type link struct {
	severed atomic.Bool
}
