// Package engine defines the boundary between the channel multiplexer and the
// reliable-UDP protocol engine that actually moves datagrams.
//
// An engine is driven synchronously: a single goroutine (the event pump) calls
// Host.CheckEvents / Host.Service to obtain events and Peer.Send to transmit.
// Buffers attached to events (Packet) are owned by the engine and are only
// valid until Dispose is called.
package engine

import (
	"errors"
	"net"
	"time"
)

// Status codes shared by every engine. Any other value returned by Peer.Send
// is an engine-specific failure code and the message is lost.
const (
	// StatusOK means the message was handed to the engine.
	StatusOK = 0
	// StatusBusy means the engine could not take the message without
	// blocking. Nothing was sent; the caller may retry it later.
	StatusBusy = 1
)

// MaxChannels is the largest number of channels a host may be created with.
const MaxChannels = 255

// ErrHostClosed is returned by Host operations after Close.
var ErrHostClosed = errors.New("engine: host closed")

// EventType classifies an event returned by the engine.
type EventType uint8

const (
	EventNone EventType = iota
	EventConnect
	EventDisconnect
	EventReceive
	EventTimeout
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventReceive:
		return "receive"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Packet is an engine-owned transient buffer. It must not be read after
// Dispose has been called.
type Packet interface {
	// Len returns the number of payload bytes.
	Len() int
	// CopyTo copies the payload into dst, which must be at least Len bytes.
	CopyTo(dst []byte) (int, error)
	// Dispose hands the buffer back to the engine. Calling it twice is a no-op.
	Dispose()
}

// Event is a single occurrence reported by Host.CheckEvents or Host.Service.
type Event struct {
	Type      EventType
	Peer      Peer
	ChannelID uint8
	Packet    Packet // set for EventReceive, may be nil otherwise
}

// PeerStats is a point-in-time read of the engine's per-peer counters.
type PeerStats struct {
	RoundTripTime time.Duration
	BytesSent     uint64
	BytesReceived uint64
	PacketsSent   uint64
	PacketsLost   uint64
}

// Peer is the engine's handle for one remote endpoint.
type Peer interface {
	// ID is the opaque identity assigned by the engine. It is unique among the
	// live peers of one host.
	ID() uint32
	// Addr returns the remote address, or nil if unknown.
	Addr() net.Addr
	// Send transmits data on the given channel and returns StatusOK,
	// StatusBusy, or an engine-specific failure code. It must not block.
	Send(channelID uint8, data []byte, flag DeliveryFlag) int
	// DisconnectNow drops the peer immediately without waiting for queued
	// data. No disconnect event is generated locally.
	DisconnectNow()
	// Stats reads the engine counters for this peer.
	Stats() PeerStats
}

// HostConfig describes a host to create.
type HostConfig struct {
	// Address and Port are the local bind address. An empty Address binds all
	// interfaces; Port 0 picks an ephemeral port.
	Address string
	Port    int
	// Listen makes the host accept incoming peers.
	Listen bool
	// MaxPeers bounds the number of simultaneously connected peers. Attempts
	// beyond it are refused by the engine.
	MaxPeers int
	// Channels lists the delivery flag of every channel; its length is the
	// channel count.
	Channels []DeliveryFlag
	// TimeoutBase and TimeoutMax configure peer timeouts. Zero values leave
	// the engine defaults in place.
	TimeoutBase time.Duration
	TimeoutMax  time.Duration
	// MaxPacketSize is a hint for engines that pre-size buffers.
	MaxPacketSize int
}

// Validate checks the parts of the configuration every engine relies on.
func (c HostConfig) Validate() error {
	if len(c.Channels) == 0 {
		return errors.New("engine: at least one channel is required")
	}
	if len(c.Channels) > MaxChannels {
		return errors.New("engine: too many channels")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("engine: port out of range")
	}
	if c.MaxPeers < 1 {
		return errors.New("engine: max peers must be positive")
	}
	return nil
}

// Host is one local endpoint of the engine, owning its socket.
type Host interface {
	// Connect starts connecting to a remote host. The returned peer becomes
	// usable once an EventConnect for it is reported.
	Connect(address string, port int) (Peer, error)
	// CheckEvents returns a pending event without blocking.
	CheckEvents() (Event, bool)
	// Service waits up to timeout for an event.
	Service(timeout time.Duration) (Event, bool, error)
	// Flush pushes any buffered outgoing data onto the wire.
	Flush()
	// LocalAddr returns the bound address.
	LocalAddr() net.Addr
	// Close releases the host and every peer it owns.
	Close() error
}

// Engine creates hosts.
type Engine interface {
	CreateHost(cfg HostConfig) (Host, error)
}
