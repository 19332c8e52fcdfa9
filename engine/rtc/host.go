package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rudp/engine"
	"github.com/1ureka/rudp/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Host owns one UDP socket shared by all of its peers and, when listening,
// the signaling endpoint on the same port number over TCP.
type Host struct {
	engine  *Engine
	cfg     engine.HostConfig
	udp     *net.UDPConn
	api     *webrtc.API
	muxDone func() error
	packets *packetPool

	listener net.Listener
	http     *http.Server

	mu      sync.Mutex
	peers   map[uint32]*peer
	nextID  atomic.Uint32
	admitMu sync.Mutex

	events    chan engine.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newHost(e *Engine, cfg engine.HostConfig) (*Host, error) {
	udp, err := listenUDP(cfg)
	if err != nil {
		return nil, err
	}

	api, muxClose := newAPI(cfg, udp, &loggerFactory{})
	size := cfg.MaxPacketSize
	if size <= 0 {
		size = 16 * 1024
	}

	h := &Host{
		engine:  e,
		cfg:     cfg,
		udp:     udp,
		api:     api,
		muxDone: muxClose,
		packets: newPacketPool(size),
		peers:   make(map[uint32]*peer),
		events:  make(chan engine.Event, eventBufferSize),
		done:    make(chan struct{}),
	}

	if cfg.Listen {
		if err := h.serve(); err != nil {
			_ = muxClose()
			_ = udp.Close()
			return nil, err
		}
	}
	return h, nil
}

// serve starts the signaling endpoint on the UDP socket's port.
func (h *Host) serve() error {
	port := h.udp.LocalAddr().(*net.UDPAddr).Port
	addr := net.JoinHostPort(h.cfg.Address, strconv.Itoa(port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("start signaling server: %w", err)
	}
	h.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(signalPath, h.handleSignal)
	h.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := h.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("signaling server stopped: %v", err)
		}
	}()
	return nil
}

// handleSignal accepts one peer per WebSocket. A full host answers 503
// before upgrading, which the dialing side reports as a refused connection.
func (h *Host) handleSignal(w http.ResponseWriter, r *http.Request) {
	if h.isClosed() {
		http.Error(w, "host closed", http.StatusServiceUnavailable)
		return
	}

	h.admitMu.Lock()
	if h.peerCount() >= h.cfg.MaxPeers {
		h.admitMu.Unlock()
		util.LogWarning("refusing peer from %s: host full (%d peers)", r.RemoteAddr, h.cfg.MaxPeers)
		http.Error(w, "host full", http.StatusServiceUnavailable)
		return
	}
	var fallback net.Addr
	if a, err := net.ResolveTCPAddr("tcp", r.RemoteAddr); err == nil {
		fallback = a
	}
	p, err := h.addPeer(uuid.NewString(), fallback)
	h.admitMu.Unlock()
	if err != nil {
		util.LogError("create peer for %s: %v", r.RemoteAddr, err)
		http.Error(w, "peer setup failed", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.DisconnectNow()
		return
	}

	s := newSignaler(conn, p.pc, p.session)
	p.sig.Store(s)
	go h.runSignaling(p, s, true)
}

// Connect implements engine.Host. The attempt runs in the background; its
// outcome is reported as EventConnect or EventDisconnect.
func (h *Host) Connect(address string, port int) (engine.Peer, error) {
	if h.isClosed() {
		return nil, engine.ErrHostClosed
	}
	if h.peerCount() >= h.cfg.MaxPeers {
		return nil, errors.New("rtc: host peer limit reached")
	}

	remote := net.JoinHostPort(address, strconv.Itoa(port))
	var fallback net.Addr
	if a, err := net.ResolveUDPAddr("udp4", remote); err == nil {
		fallback = a
	}
	p, err := h.addPeer("", fallback)
	if err != nil {
		return nil, err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.connectTimeout())
		defer cancel()

		url := "ws://" + remote + signalPath
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusServiceUnavailable {
				util.LogWarning("%s refused the connection", remote)
			} else {
				util.LogDebug("signaling dial %s: %v", url, err)
			}
			p.end(engine.EventDisconnect)
			return
		}

		s := newSignaler(conn, p.pc, "")
		p.sig.Store(s)
		h.runSignaling(p, s, false)
	}()

	return p, nil
}

// runSignaling drives the exchange until the socket closes. The socket is
// closed by either side once the peer is up, which may happen before the
// local channels report open, so an early close only ends the attempt when
// ICE has not started; otherwise the connect timeout decides.
func (h *Host) runSignaling(p *peer, s *signaler, offer bool) {
	defer s.close()

	timer := time.AfterFunc(h.connectTimeout(), func() {
		if !p.connected.Load() {
			util.LogWarning("peer %d: connection attempt timed out", p.id)
			p.end(engine.EventDisconnect)
		}
	})
	defer func() {
		if p.connected.Load() {
			timer.Stop()
		}
	}()

	if offer {
		if err := s.offer(); err != nil {
			util.LogError("peer %d: %v", p.id, err)
			p.end(engine.EventDisconnect)
			return
		}
	}
	err := s.watch()
	if p.connected.Load() {
		return
	}
	switch p.pc.ConnectionState() {
	case webrtc.PeerConnectionStateConnecting, webrtc.PeerConnectionStateConnected:
		util.LogDebug("peer %d: signaling closed while connecting: %v", p.id, err)
	default:
		util.LogDebug("peer %d: signaling ended before connect: %v", p.id, err)
		p.end(engine.EventDisconnect)
	}
}

func (h *Host) connectTimeout() time.Duration {
	if h.cfg.TimeoutMax > 0 {
		return h.cfg.TimeoutMax
	}
	return defaultConnectTimeout
}

func (h *Host) addPeer(session string, fallback net.Addr) (*peer, error) {
	id := h.nextID.Add(1)
	p, err := newPeer(h, id, session, fallback)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.peers[id] = p
	h.mu.Unlock()
	return p, nil
}

func (h *Host) forget(id uint32) {
	h.mu.Lock()
	delete(h.peers, id)
	h.mu.Unlock()
}

func (h *Host) peerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// emit queues an event for the pump, blocking while the queue is full.
func (h *Host) emit(ev engine.Event) {
	select {
	case h.events <- ev:
	case <-h.done:
		if ev.Packet != nil {
			ev.Packet.Dispose()
		}
	}
}

// CheckEvents implements engine.Host.
func (h *Host) CheckEvents() (engine.Event, bool) {
	select {
	case ev := <-h.events:
		return ev, true
	default:
		return engine.Event{}, false
	}
}

// Service implements engine.Host.
func (h *Host) Service(timeout time.Duration) (engine.Event, bool, error) {
	if ev, ok := h.CheckEvents(); ok {
		return ev, true, nil
	}
	if h.isClosed() {
		return engine.Event{}, false, engine.ErrHostClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-h.events:
		return ev, true, nil
	case <-timer.C:
		return engine.Event{}, false, nil
	case <-h.done:
		return engine.Event{}, false, engine.ErrHostClosed
	}
}

// Flush waits, for a bounded time, until every channel's buffer is empty.
func (h *Host) Flush() {
	deadline := time.Now().Add(flushWait)
	for time.Now().Before(deadline) {
		if h.drained() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	util.LogDebug("flush gave up with data still buffered")
}

func (h *Host) drained() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.peers {
		if p.connected.Load() && !p.drained() {
			return false
		}
	}
	return true
}

// LocalAddr implements engine.Host.
func (h *Host) LocalAddr() net.Addr {
	return h.udp.LocalAddr()
}

// Close implements engine.Host.
func (h *Host) Close() error {
	var errs []error
	h.closeOnce.Do(func() {
		close(h.done)

		if h.http != nil {
			errs = append(errs, h.http.Close())
		}

		h.mu.Lock()
		peers := make([]*peer, 0, len(h.peers))
		for _, p := range h.peers {
			peers = append(peers, p)
		}
		h.mu.Unlock()
		for _, p := range peers {
			p.dropped.Store(true)
			p.endOnce.Do(func() {})
			_ = p.pc.Close()
		}

	drain:
		for {
			select {
			case ev := <-h.events:
				if ev.Packet != nil {
					ev.Packet.Dispose()
				}
			default:
				break drain
			}
		}

		// The mux owns the socket and closes it too.
		errs = append(errs, h.muxDone())
		_ = h.udp.Close()
	})
	return errors.Join(errs...)
}

func (h *Host) isClosed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
