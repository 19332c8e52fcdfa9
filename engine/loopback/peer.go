package loopback

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/1ureka/rudp/engine"
)

var errTooManyPeers = errors.New("loopback: host peer limit reached")

// peer is one end of a link.
type peer struct {
	id     uint32
	host   *Host
	addr   net.Addr
	remote *peer
	link   *link

	// lastHeard is guarded by host.mu.
	lastHeard time.Time
	connected atomic.Bool

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	packetsSent   atomic.Uint64
	packetsLost   atomic.Uint64
}

func (p *peer) ID() uint32 { return p.id }

func (p *peer) Addr() net.Addr { return p.addr }

// Send copies data into a packet queued on the remote host. A severed link
// accepts the send and loses the packet, as a dead route would.
func (p *peer) Send(channelID uint8, data []byte, _ engine.DeliveryFlag) int {
	if !p.connected.Load() || p.remote == nil {
		return StatusNotConnected
	}
	if int(channelID) >= len(p.host.cfg.Channels) {
		return StatusBadChannel
	}

	p.bytesSent.Add(uint64(len(data)))
	p.packetsSent.Add(1)
	if p.link.severed.Load() {
		p.packetsLost.Add(1)
		return engine.StatusOK
	}

	r := p.remote
	r.bytesReceived.Add(uint64(len(data)))
	r.host.push(engine.Event{
		Type:      engine.EventReceive,
		Peer:      r,
		ChannelID: channelID,
		Packet:    p.host.network.newPacket(data),
	})
	return engine.StatusOK
}

// DisconnectNow drops the peer locally and tells the remote end, unless the
// link is already severed.
func (p *peer) DisconnectNow() {
	if !p.connected.CompareAndSwap(true, false) {
		p.host.dropPeer(p.id)
		return
	}
	p.host.dropPeer(p.id)
	if p.link != nil && !p.link.severed.Load() {
		p.remote.remoteHangUp()
	}
}

// hangUp is DisconnectNow on behalf of a closing host.
func (p *peer) hangUp() {
	if p.connected.CompareAndSwap(true, false) && p.link != nil && !p.link.severed.Load() {
		p.remote.remoteHangUp()
	}
}

func (p *peer) remoteHangUp() {
	if !p.connected.CompareAndSwap(true, false) {
		return
	}
	p.host.dropPeer(p.id)
	p.host.push(engine.Event{Type: engine.EventDisconnect, Peer: p})
}

func (p *peer) Stats() engine.PeerStats {
	return engine.PeerStats{
		RoundTripTime: p.host.network.rtt,
		BytesSent:     p.bytesSent.Load(),
		BytesReceived: p.bytesReceived.Load(),
		PacketsSent:   p.packetsSent.Load(),
		PacketsLost:   p.packetsLost.Load(),
	}
}
