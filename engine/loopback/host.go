package loopback

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1ureka/rudp/engine"
)

// Host is one endpoint on a Network.
type Host struct {
	network *Network
	cfg     engine.HostConfig
	addr    *net.UDPAddr

	mu     sync.Mutex
	peers  map[uint32]*peer
	nextID uint32
	events []engine.Event
	closed bool

	notify  chan struct{}
	flushes atomic.Int64
}

// Connect implements engine.Host. When the remote host is missing or full, the
// returned peer is reported disconnected by the next poll instead of
// connected.
func (h *Host) Connect(address string, port int) (engine.Peer, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, engine.ErrHostClosed
	}
	if len(h.peers) >= h.cfg.MaxPeers {
		h.mu.Unlock()
		return nil, errTooManyPeers
	}
	remoteAddr := &net.UDPAddr{IP: net.ParseIP(address), Port: port}
	if remoteAddr.IP == nil {
		remoteAddr.IP = net.IPv4(127, 0, 0, 1)
	}
	local := h.newPeerLocked(remoteAddr)
	h.mu.Unlock()

	target := h.network.lookup(port)
	if target == nil || target == h || !target.cfg.Listen {
		h.push(engine.Event{Type: engine.EventDisconnect, Peer: local})
		h.dropPeer(local.id)
		return local, nil
	}

	remote, ok := target.admit(h.addr)
	if !ok {
		h.push(engine.Event{Type: engine.EventDisconnect, Peer: local})
		h.dropPeer(local.id)
		return local, nil
	}

	l := &link{}
	local.link, remote.link = l, l
	local.remote, remote.remote = remote, local
	local.connected.Store(true)
	remote.connected.Store(true)

	target.push(engine.Event{Type: engine.EventConnect, Peer: remote})
	h.push(engine.Event{Type: engine.EventConnect, Peer: local})
	return local, nil
}

// admit registers an incoming peer if there is room for it.
func (h *Host) admit(from *net.UDPAddr) (*peer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.peers) >= h.cfg.MaxPeers {
		return nil, false
	}
	return h.newPeerLocked(from), true
}

func (h *Host) newPeerLocked(remote net.Addr) *peer {
	h.nextID++
	p := &peer{
		id:        h.nextID,
		host:      h,
		addr:      remote,
		lastHeard: h.network.clock.Now(),
	}
	h.peers[p.id] = p
	return p
}

func (h *Host) dropPeer(id uint32) {
	h.mu.Lock()
	delete(h.peers, id)
	h.mu.Unlock()
}

// push appends an event and wakes a waiting Service call.
func (h *Host) push(ev engine.Event) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		if ev.Packet != nil {
			ev.Packet.Dispose()
		}
		return
	}
	h.events = append(h.events, ev)
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *Host) pop() (engine.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return engine.Event{}, false
	}
	ev := h.events[0]
	h.events[0] = engine.Event{}
	h.events = h.events[1:]
	return ev, true
}

// CheckEvents implements engine.Host.
func (h *Host) CheckEvents() (engine.Event, bool) {
	return h.pop()
}

// Service implements engine.Host. It also runs timeout detection, so peers
// only time out on hosts that are being serviced.
func (h *Host) Service(timeout time.Duration) (engine.Event, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		h.checkTimeouts()
		if ev, ok := h.pop(); ok {
			return ev, true, nil
		}
		if h.isClosed() {
			return engine.Event{}, false, engine.ErrHostClosed
		}
		select {
		case <-h.notify:
		case <-timer.C:
			h.checkTimeouts()
			ev, ok := h.pop()
			return ev, ok, nil
		}
	}
}

func (h *Host) checkTimeouts() {
	now := h.network.clock.Now()

	h.mu.Lock()
	var expired []*peer
	for id, p := range h.peers {
		if p.link == nil {
			continue
		}
		if !p.link.severed.Load() {
			p.lastHeard = now
			continue
		}
		if now.Sub(p.lastHeard) > h.cfg.TimeoutMax {
			delete(h.peers, id)
			expired = append(expired, p)
		}
	}
	h.mu.Unlock()

	for _, p := range expired {
		p.connected.Store(false)
		h.push(engine.Event{Type: engine.EventTimeout, Peer: p})
	}
}

// Flush implements engine.Host. Delivery is immediate, so it only counts calls.
func (h *Host) Flush() {
	h.flushes.Add(1)
}

// Flushes returns how many times Flush was called.
func (h *Host) Flushes() int64 {
	return h.flushes.Load()
}

// LocalAddr implements engine.Host.
func (h *Host) LocalAddr() net.Addr {
	return h.addr
}

// Close implements engine.Host. Remote ends of live peers see a disconnect.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	events := h.events
	h.events = nil
	peers := h.peers
	h.peers = make(map[uint32]*peer)
	h.mu.Unlock()

	for _, ev := range events {
		if ev.Packet != nil {
			ev.Packet.Dispose()
		}
	}
	for _, p := range peers {
		p.hangUp()
	}
	h.network.unregister(h)
	return nil
}

func (h *Host) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// PeerCount returns the number of live peers.
func (h *Host) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Sever cuts the link of peer id in both directions without telling either
// side. Both ends time out once TimeoutMax has passed on their host's clock.
func (h *Host) Sever(id uint32) bool {
	h.mu.Lock()
	p, ok := h.peers[id]
	h.mu.Unlock()
	if !ok || p.link == nil {
		return false
	}
	p.link.severed.Store(true)
	return true
}

// Inject queues a receive event from a peer handle the host does not
// necessarily know, as a spoofed or stale datagram would appear.
func (h *Host) Inject(peerID uint32, channelID uint8, data []byte) {
	ghost := &peer{id: peerID, host: h, addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 66), Port: 6666}}
	h.push(engine.Event{
		Type:      engine.EventReceive,
		Peer:      ghost,
		ChannelID: channelID,
		Packet:    h.network.newPacket(data),
	})
}
